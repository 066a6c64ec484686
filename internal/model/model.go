// Package model содержит доменные сущности маркетплейса: счета, журнал, эскроу, заказы и споры.
package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Capabilities описывает, что пользователь может делать на площадке.
type Capabilities struct {
	CanBuy       bool `json:"can_buy"`
	CanSell      bool `json:"can_sell"`
	CanArbitrate bool `json:"can_arbitrate"`
}

// Identity: проверенная личность вызывающего. Передаётся в каждую операцию явно.
type Identity struct {
	AccountID    int64
	Capabilities Capabilities
}

// SystemActorID используется в истории заказа для переходов, выполненных самой системой.
const SystemActorID int64 = 0

// Account представляет зарегистрированного пользователя. Балансы на счёте не хранятся,
// они вычисляются по записям журнала.
type Account struct {
	ID           int64
	Login        string
	PasswordHash []byte
	Capabilities Capabilities
	Active       bool
	CreatedAt    time.Time
}

// EntryKind: вид записи журнала.
type EntryKind string

const (
	EntryPurchase   EntryKind = "purchase"
	EntryHold       EntryKind = "hold"
	EntryRelease    EntryKind = "release"
	EntryPayout     EntryKind = "payout"
	EntryRefund     EntryKind = "refund"
	EntryWithdrawal EntryKind = "withdrawal"
)

// EntryKinds перечисляет все виды записей журнала.
var EntryKinds = []EntryKind{EntryPurchase, EntryHold, EntryRelease, EntryPayout, EntryRefund, EntryWithdrawal}

// Valid сообщает, известен ли вид записи.
func (k EntryKind) Valid() bool {
	for _, v := range EntryKinds {
		if k == v {
			return true
		}
	}
	return false
}

// Effect задаёт коэффициенты, с которыми сумма записи входит в каждый из балансов.
type Effect struct {
	Credit   int64
	Earnings int64
	Escrow   int64
}

// Effect возвращает вклад записи данного вида в балансы счёта.
// Холд переносит средства из кредитного баланса в эскроу, release списывает их из эскроу.
func (k EntryKind) Effect() Effect {
	switch k {
	case EntryPurchase, EntryRefund:
		return Effect{Credit: 1}
	case EntryHold:
		return Effect{Credit: 1, Escrow: -1}
	case EntryRelease:
		return Effect{Escrow: 1}
	case EntryPayout, EntryWithdrawal:
		return Effect{Earnings: 1}
	}
	return Effect{}
}

// Positive сообщает, должна ли сумма записи данного вида быть положительной.
func (k EntryKind) Positive() bool {
	switch k {
	case EntryPurchase, EntryPayout, EntryRefund:
		return true
	}
	return false
}

// LedgerEntry: неизменяемая запись журнала.
type LedgerEntry struct {
	ID        uuid.UUID  `json:"entry_id"`
	AccountID int64      `json:"account_id"`
	OrderID   *uuid.UUID `json:"order_id,omitempty"`
	Amount    Money      `json:"amount"`
	Kind      EntryKind  `json:"kind"`
	CreatedAt time.Time  `json:"created_at"`
}

// Balances содержит балансы счёта на момент расчёта.
type Balances struct {
	Credit   Money `json:"credit_balance"`
	Earnings Money `json:"earnings_balance"`
	Escrow   Money `json:"in_escrow"`
}

// SumBalances сворачивает суммы по видам записей в балансы.
func SumBalances(byKind map[EntryKind]Money) Balances {
	var b Balances
	for kind, sum := range byKind {
		e := kind.Effect()
		b.Credit += Money(e.Credit) * sum
		b.Earnings += Money(e.Earnings) * sum
		b.Escrow += Money(e.Escrow) * sum
	}
	return b
}

// HoldStatus: статус эскроу-холда заказа.
type HoldStatus string

const (
	HoldNone             HoldStatus = "none"
	HoldHeld             HoldStatus = "held"
	HoldReleasedToSeller HoldStatus = "released_to_seller"
	HoldRefundedToBuyer  HoldStatus = "refunded_to_buyer"
)

// EscrowHold описывает средства покупателя, заблокированные под конкретный заказ.
type EscrowHold struct {
	OrderID    uuid.UUID  `json:"order_id"`
	BuyerID    int64      `json:"buyer_account_id"`
	SellerID   int64      `json:"seller_account_id"`
	Amount     Money      `json:"amount"`
	Status     HoldStatus `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// OrderStatus: статус жизненного цикла заказа. Допустимы только перечисленные значения.
type OrderStatus string

const (
	StatusPendingAcceptance OrderStatus = "pending_acceptance"
	StatusAccepted          OrderStatus = "accepted"
	StatusDelivered         OrderStatus = "delivered"
	StatusApproved          OrderStatus = "approved"
	StatusCompleted         OrderStatus = "completed"
	StatusDisputed          OrderStatus = "disputed"
	StatusCancelled         OrderStatus = "cancelled"
	StatusRefunded          OrderStatus = "refunded"
)

// OrderStatuses перечисляет все статусы заказа.
var OrderStatuses = []OrderStatus{
	StatusPendingAcceptance, StatusAccepted, StatusDelivered, StatusApproved,
	StatusCompleted, StatusDisputed, StatusCancelled, StatusRefunded,
}

// ParseOrderStatus проверяет строку и возвращает соответствующий статус.
func ParseOrderStatus(s string) (OrderStatus, error) {
	for _, st := range OrderStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown order status %q", s)
}

// IsTerminal сообщает, является ли статус конечным.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

// OrderEvent: событие, переводящее заказ между статусами.
type OrderEvent string

const (
	EventCreate           OrderEvent = "create"
	EventAccept           OrderEvent = "accept"
	EventDecline          OrderEvent = "decline"
	EventCancel           OrderEvent = "cancel"
	EventDeliver          OrderEvent = "deliver"
	EventApprove          OrderEvent = "approve"
	EventComplete         OrderEvent = "complete"
	EventRequestRevision  OrderEvent = "request_revision"
	EventOpenDispute      OrderEvent = "open_dispute"
	EventResolveRefund    OrderEvent = "resolve_refund"
	EventResolvePaySeller OrderEvent = "resolve_pay_seller"
)

// StatusChange: запись истории статусов заказа.
type StatusChange struct {
	Seq     int         `json:"seq"`
	From    OrderStatus `json:"from,omitempty"`
	To      OrderStatus `json:"to"`
	Event   OrderEvent  `json:"event"`
	ActorID int64       `json:"actor_id"`
	At      time.Time   `json:"at"`
}

// Order: корневая сущность заказа.
type Order struct {
	ID            uuid.UUID      `json:"order_id"`
	Number        string         `json:"order_number"`
	BuyerID       int64          `json:"buyer_id"`
	SellerID      int64          `json:"seller_id"`
	ServiceID     uuid.UUID      `json:"service_id"`
	Quantity      int            `json:"quantity"`
	TotalCost     Money          `json:"total_cost"`
	Status        OrderStatus    `json:"status"`
	RevisionCount int            `json:"revision_count"`
	Deliverable   string         `json:"deliverable,omitempty"`
	RevisionNote  string         `json:"revision_note,omitempty"`
	DeclineReason string         `json:"decline_reason,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	History       []StatusChange `json:"status_history,omitempty"`
}

// LastChange возвращает последнюю запись истории или nil.
func (o *Order) LastChange() *StatusChange {
	if len(o.History) == 0 {
		return nil
	}
	return &o.History[len(o.History)-1]
}

// Resolution: исход спора.
type Resolution string

const (
	ResolutionPending       Resolution = "pending"
	ResolutionBuyerRefunded Resolution = "buyer_refunded"
	ResolutionSellerPaid    Resolution = "seller_paid"
)

// Outcome: решение арбитра по спору.
type Outcome string

const (
	OutcomeRefund    Outcome = "refund"
	OutcomePaySeller Outcome = "pay_seller"
)

// Dispute: спор по заказу со своим жизненным циклом.
type Dispute struct {
	ID           uuid.UUID  `json:"dispute_id"`
	Number       string     `json:"dispute_number"`
	OrderID      uuid.UUID  `json:"order_id"`
	OpenedBy     int64      `json:"opened_by"`
	RespondentID int64      `json:"respondent_id"`
	Reason       string     `json:"reason"`
	Response     *string    `json:"response,omitempty"`
	RespondedAt  *time.Time `json:"responded_at,omitempty"`
	Resolution   Resolution `json:"resolution"`
	ResolvedBy   *int64     `json:"resolved_by,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`
}

// Listing: услуга продавца в каталоге.
type Listing struct {
	ID        uuid.UUID `json:"service_id"`
	SellerID  int64     `json:"seller_id"`
	Title     string    `json:"title"`
	Price     Money     `json:"price"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// ReviewerRole определяет, с какой стороны заказа оставлен отзыв.
type ReviewerRole string

const (
	ReviewerBuyer  ReviewerRole = "buyer"
	ReviewerSeller ReviewerRole = "seller"
)

// Review: отзыв стороны завершённого заказа о второй стороне.
type Review struct {
	ID             uuid.UUID    `json:"review_id"`
	OrderID        uuid.UUID    `json:"order_id"`
	ReviewerID     int64        `json:"reviewer_id"`
	RevieweeID     int64        `json:"reviewee_id"`
	ReviewerRole   ReviewerRole `json:"reviewer_role"`
	Rating         int          `json:"overall_rating"`
	Text           string       `json:"review_text,omitempty"`
	WouldWorkAgain bool         `json:"would_work_again"`
	CreatedAt      time.Time    `json:"created_at"`
}
