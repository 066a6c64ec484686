// Package ledger ведёт журнал денежных движений. Записи только добавляются,
// балансы счёта вычисляются суммированием записей.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mmeshcher/warmconnects/internal/model"
	"github.com/mmeshcher/warmconnects/internal/repository"
)

// Clock возвращает текущее время. Подменяется в тестах.
type Clock func() time.Time

// Now возвращает текущее время в UTC с точностью до микросекунды, как его хранит PostgreSQL.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

var endOfTime = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)

// Ledger записывает движения средств и считает балансы.
type Ledger struct {
	store repository.Store
	now   Clock
}

// New создаёт журнал поверх хранилища. При clock == nil используется Now.
func New(store repository.Store, clock Clock) *Ledger {
	if clock == nil {
		clock = Now
	}
	return &Ledger{store: store, now: clock}
}

// Record добавляет запись в собственной транзакции и возвращает её после фиксации.
func (l *Ledger) Record(ctx context.Context, accountID int64, orderID *uuid.UUID, amount model.Money, kind model.EntryKind) (*model.LedgerEntry, error) {
	var entry *model.LedgerEntry
	err := l.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		entry, err = l.RecordTx(ctx, tx, accountID, orderID, amount, kind)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// RecordTx добавляет запись внутри транзакции вызывающего.
// Списания (hold, withdrawal, release) блокируют счёт и проверяют, что затронутый баланс не уйдёт в минус.
func (l *Ledger) RecordTx(ctx context.Context, tx repository.Tx, accountID int64, orderID *uuid.UUID, amount model.Money, kind model.EntryKind) (*model.LedgerEntry, error) {
	if err := checkAmount(amount, kind); err != nil {
		return nil, err
	}

	if _, err := tx.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}

	if !kind.Positive() {
		if err := l.checkFunds(ctx, tx, accountID, orderID, amount, kind); err != nil {
			return nil, err
		}
	}

	entry := &model.LedgerEntry{
		ID:        uuid.New(),
		AccountID: accountID,
		OrderID:   orderID,
		Amount:    amount,
		Kind:      kind,
		CreatedAt: l.now(),
	}
	if err := tx.InsertEntry(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func checkAmount(amount model.Money, kind model.EntryKind) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: unknown entry kind %q", model.ErrInvalidAmount, kind)
	}
	if amount == 0 {
		return fmt.Errorf("%w: zero %s", model.ErrInvalidAmount, kind)
	}
	if kind.Positive() != (amount > 0) {
		return fmt.Errorf("%w: %s amount %s has wrong sign", model.ErrInvalidAmount, kind, amount)
	}
	return nil
}

func (l *Ledger) checkFunds(ctx context.Context, tx repository.Tx, accountID int64, orderID *uuid.UUID, amount model.Money, kind model.EntryKind) error {
	if err := tx.LockAccount(ctx, accountID); err != nil {
		return err
	}

	if kind == model.EntryRelease {
		if orderID == nil {
			return fmt.Errorf("%w: release without order", model.ErrInvalidAmount)
		}
		sums, err := tx.SumOrderByKind(ctx, *orderID)
		if err != nil {
			return err
		}
		// эскроу заказа: холд увеличивает его на модуль суммы, release уменьшает
		held := -sums[model.EntryHold] + sums[model.EntryRelease]
		if held+amount < 0 {
			return fmt.Errorf("%w: order %s has %s in escrow", model.ErrInsufficientFunds, orderID, held)
		}
		return nil
	}

	sums, err := tx.SumByKind(ctx, accountID, endOfTime)
	if err != nil {
		return err
	}
	b := model.SumBalances(sums)

	available := b.Credit
	if kind == model.EntryWithdrawal {
		available = b.Earnings
	}
	if available+amount < 0 {
		return fmt.Errorf("%w: account %d has %s, requested %s", model.ErrInsufficientFunds, accountID, available, -amount)
	}
	return nil
}

// Balance возвращает балансы счёта по записям с created_at <= asOf. Нулевой asOf означает «сейчас».
func (l *Ledger) Balance(ctx context.Context, accountID int64, asOf time.Time) (model.Balances, error) {
	if asOf.IsZero() {
		asOf = endOfTime
	}

	var b model.Balances
	err := l.store.InTx(ctx, func(tx repository.Tx) error {
		if _, err := tx.GetAccount(ctx, accountID); err != nil {
			return err
		}
		sums, err := tx.SumByKind(ctx, accountID, asOf)
		if err != nil {
			return err
		}
		b = model.SumBalances(sums)
		return nil
	})
	return b, err
}

// History возвращает последние записи счёта, новые первыми.
func (l *Ledger) History(ctx context.Context, accountID int64, limit int) ([]model.LedgerEntry, error) {
	var entries []model.LedgerEntry
	err := l.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		entries, err = tx.ListEntries(ctx, accountID, limit)
		return err
	})
	return entries, err
}
