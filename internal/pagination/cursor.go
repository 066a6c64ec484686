// Package pagination реализует курсорную постраничную выдачу списков.
package pagination

import (
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// ErrInvalidCursor возвращается для повреждённого или чужого курсора.
var ErrInvalidCursor = errors.New("invalid cursor")

// Cursor: позиция в списке, упорядоченном по (created_at, id) по убыванию.
type Cursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

// Encode возвращает непрозрачную строку курсора.
func Encode(createdAt time.Time, id uuid.UUID) string {
	raw := strconv.FormatInt(createdAt.UnixNano(), 10) + "|" + id.String()
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// Decode разбирает строку курсора. Для пустой строки возвращает nil.
func Decode(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}

	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, ErrInvalidCursor
	}

	nanos, idStr, ok := strings.Cut(string(raw), "|")
	if !ok {
		return nil, ErrInvalidCursor
	}

	n, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return nil, ErrInvalidCursor
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, ErrInvalidCursor
	}

	return &Cursor{CreatedAt: time.Unix(0, n).UTC(), ID: id}, nil
}

// Before сообщает, идёт ли элемент (createdAt, id) после курсора в порядке убывания.
func (c *Cursor) Before(createdAt time.Time, id uuid.UUID) bool {
	if c == nil {
		return true
	}
	if !createdAt.Equal(c.CreatedAt) {
		return createdAt.Before(c.CreatedAt)
	}
	return id.String() < c.ID.String()
}

// NormalizeLimit приводит запрошенный размер страницы к допустимому диапазону.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// Page обрезает выборку, полученную с лимитом limit+1, и вычисляет курсор следующей страницы.
func Page[T any](items []T, limit int, key func(T) (time.Time, uuid.UUID)) ([]T, string, bool) {
	if len(items) <= limit {
		return items, "", false
	}
	items = items[:limit]
	createdAt, id := key(items[len(items)-1])
	return items, Encode(createdAt, id), true
}
