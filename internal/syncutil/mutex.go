// Package syncutil содержит блокировки по ключу, учитывающие отмену контекста.
package syncutil

import (
	"context"
	"hash/fnv"
	"sync"
)

const shardCount = 256

// ShardedMutex: фиксированный пул из 256 блокировок, выбираемых по хешу ключа.
// Память не растёт с числом ключей; ключи из одного шарда сериализуются между собой.
type ShardedMutex struct {
	shards [shardCount]chan struct{}
	once   sync.Once
}

// NewShardedMutex создаёт пул блокировок.
func NewShardedMutex() *ShardedMutex {
	m := &ShardedMutex{}
	m.init()
	return m
}

func (m *ShardedMutex) init() {
	m.once.Do(func() {
		for i := range m.shards {
			m.shards[i] = make(chan struct{}, 1)
		}
	})
}

// Lock захватывает блокировку ключа. Возвращает функцию освобождения или ошибку контекста.
func (m *ShardedMutex) Lock(ctx context.Context, key string) (func(), error) {
	m.init()
	return acquire(ctx, m.shards[shardIndex(key)])
}

func shardIndex(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % shardCount
}

// KeyedMutex выдаёт отдельную блокировку на каждый ключ. Ложных пересечений нет,
// но блокировки не удаляются, поэтому подходит для ограниченного множества ключей.
type KeyedMutex struct {
	locks sync.Map
}

// Lock захватывает блокировку ключа. Возвращает функцию освобождения или ошибку контекста.
func (m *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	v, _ := m.locks.LoadOrStore(key, make(chan struct{}, 1))
	return acquire(ctx, v.(chan struct{}))
}

func acquire(ctx context.Context, ch chan struct{}) (func(), error) {
	select {
	case ch <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-ch }) }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
