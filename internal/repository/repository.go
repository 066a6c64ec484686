// Package repository описывает транзакционное хранилище и его реализацию в PostgreSQL.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/mmeshcher/warmconnects/internal/model"
	"github.com/mmeshcher/warmconnects/internal/pagination"
)

// Store: хранилище с атомарными единицами работы.
type Store interface {
	// InTx выполняет fn в одной транзакции: все записи fn фиксируются вместе или не фиксируются вовсе.
	// Ошибка fn откатывает транзакцию и возвращается без изменений.
	InTx(ctx context.Context, fn func(tx Tx) error) error
	Ping(ctx context.Context) error
	Close() error
}

// OrderFilter задаёт выборку заказов покупателя или продавца.
type OrderFilter struct {
	BuyerID  int64
	SellerID int64
	Status   model.OrderStatus
	Cursor   *pagination.Cursor
	Limit    int
}

// Tx: операции, доступные внутри атомарной единицы.
type Tx interface {
	CreateAccount(ctx context.Context, login string, passwordHash []byte, caps model.Capabilities) (int64, error)
	GetAccount(ctx context.Context, id int64) (*model.Account, error)
	GetAccountByLogin(ctx context.Context, login string) (*model.Account, error)
	SetAccountActive(ctx context.Context, id int64, active bool) error
	// LockAccount блокирует счёт до конца транзакции. Используется перед проверкой баланса.
	LockAccount(ctx context.Context, id int64) error

	InsertEntry(ctx context.Context, e *model.LedgerEntry) error
	// SumByKind возвращает суммы записей счёта по видам с created_at <= asOf.
	SumByKind(ctx context.Context, accountID int64, asOf time.Time) (map[model.EntryKind]model.Money, error)
	// SumOrderByKind возвращает суммы записей заказа по видам.
	SumOrderByKind(ctx context.Context, orderID uuid.UUID) (map[model.EntryKind]model.Money, error)
	ListEntries(ctx context.Context, accountID int64, limit int) ([]model.LedgerEntry, error)

	InsertHold(ctx context.Context, h *model.EscrowHold) error
	GetHold(ctx context.Context, orderID uuid.UUID) (*model.EscrowHold, error)
	UpdateHold(ctx context.Context, h *model.EscrowHold) error

	// InsertOrder возвращает model.ErrDuplicateNumber, если номер заказа уже занят.
	InsertOrder(ctx context.Context, o *model.Order) error
	// GetOrder загружает заказ с историей; forUpdate блокирует его до конца транзакции.
	GetOrder(ctx context.Context, id uuid.UUID, forUpdate bool) (*model.Order, error)
	GetOrderByNumber(ctx context.Context, number string) (*model.Order, error)
	UpdateOrder(ctx context.Context, o *model.Order) error
	AppendHistory(ctx context.Context, orderID uuid.UUID, c model.StatusChange) error
	// ListOrders возвращает заказы без истории, от новых к старым.
	ListOrders(ctx context.Context, f OrderFilter) ([]model.Order, error)
	ListStaleOrders(ctx context.Context, status model.OrderStatus, before time.Time, limit int) ([]model.Order, error)

	InsertDispute(ctx context.Context, d *model.Dispute) error
	GetDispute(ctx context.Context, id uuid.UUID, forUpdate bool) (*model.Dispute, error)
	GetPendingDispute(ctx context.Context, orderID uuid.UUID) (*model.Dispute, error)
	UpdateDispute(ctx context.Context, d *model.Dispute) error
	ListDisputes(ctx context.Context, accountID int64, limit int) ([]model.Dispute, error)

	InsertListing(ctx context.Context, l *model.Listing) error
	GetListing(ctx context.Context, id uuid.UUID) (*model.Listing, error)
	UpdateListing(ctx context.Context, l *model.Listing) error
	// ListListings возвращает услуги продавца, от новых к старым.
	ListListings(ctx context.Context, sellerID int64) ([]model.Listing, error)

	// InsertReview возвращает model.ErrReviewExists, если автор уже оставил отзыв по заказу.
	InsertReview(ctx context.Context, r *model.Review) error
	// ListReviews возвращает отзывы о пользователе, от новых к старым.
	ListReviews(ctx context.Context, revieweeID int64, limit int) ([]model.Review, error)
}
