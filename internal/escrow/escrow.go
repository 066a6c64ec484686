// Package escrow блокирует средства покупателя под заказ и распределяет их при закрытии заказа.
// Все операции выполняются внутри транзакции вызывающего, вместе с изменением статуса заказа.
package escrow

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/mmeshcher/warmconnects/internal/ledger"
	"github.com/mmeshcher/warmconnects/internal/model"
	"github.com/mmeshcher/warmconnects/internal/repository"
)

// FeePolicy вычисляет комиссию площадки с суммы, выплачиваемой продавцу.
type FeePolicy interface {
	Fee(amount model.Money) model.Money
}

// BasisPoints: комиссия в базисных пунктах (1/100 процента), округляется вниз до цента.
type BasisPoints int64

// Fee возвращает комиссию, не превышающую сумму.
func (b BasisPoints) Fee(amount model.Money) model.Money {
	fee := amount.BasisPoints(int64(b))
	if fee > amount {
		return amount
	}
	return fee
}

// Account управляет эскроу-холдами заказов.
type Account struct {
	ledger            *ledger.Ledger
	fee               FeePolicy
	platformAccountID int64
	now               ledger.Clock
}

// New создаёт эскроу поверх журнала. Комиссия зачисляется на счёт platformAccountID.
func New(l *ledger.Ledger, fee FeePolicy, platformAccountID int64, clock ledger.Clock) *Account {
	if fee == nil {
		fee = BasisPoints(0)
	}
	if clock == nil {
		clock = ledger.Now
	}
	return &Account{ledger: l, fee: fee, platformAccountID: platformAccountID, now: clock}
}

// Status возвращает статус холда заказа; для заказа без холда: HoldNone.
func (a *Account) Status(ctx context.Context, tx repository.Tx, orderID uuid.UUID) (model.HoldStatus, error) {
	h, err := tx.GetHold(ctx, orderID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return model.HoldNone, nil
		}
		return "", err
	}
	return h.Status, nil
}

// Hold блокирует полную стоимость заказа на счёте покупателя.
// Повторный холд по тому же заказу отклоняется с ErrInvalidHoldState.
func (a *Account) Hold(ctx context.Context, tx repository.Tx, o *model.Order) (*model.EscrowHold, error) {
	status, err := a.Status(ctx, tx, o.ID)
	if err != nil {
		return nil, err
	}
	if status != model.HoldNone {
		return nil, fmt.Errorf("%w: order %s is already %s", model.ErrInvalidHoldState, o.ID, status)
	}

	if _, err := a.ledger.RecordTx(ctx, tx, o.BuyerID, &o.ID, -o.TotalCost, model.EntryHold); err != nil {
		return nil, err
	}

	h := &model.EscrowHold{
		OrderID:   o.ID,
		BuyerID:   o.BuyerID,
		SellerID:  o.SellerID,
		Amount:    o.TotalCost,
		Status:    model.HoldHeld,
		CreatedAt: a.now(),
	}
	if err := tx.InsertHold(ctx, h); err != nil {
		return nil, err
	}
	return h, nil
}

func (a *Account) heldFor(ctx context.Context, tx repository.Tx, orderID uuid.UUID) (*model.EscrowHold, error) {
	h, err := tx.GetHold(ctx, orderID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, fmt.Errorf("%w: order %s has no hold", model.ErrInvalidHoldState, orderID)
		}
		return nil, err
	}
	if h.Status != model.HoldHeld {
		return nil, fmt.Errorf("%w: order %s is %s", model.ErrInvalidHoldState, orderID, h.Status)
	}
	return h, nil
}

// Release выплачивает удержанную сумму продавцу за вычетом комиссии площадки.
func (a *Account) Release(ctx context.Context, tx repository.Tx, orderID uuid.UUID) ([]model.LedgerEntry, error) {
	h, err := a.heldFor(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}

	entries := make([]model.LedgerEntry, 0, 3)
	record := func(accountID int64, amount model.Money, kind model.EntryKind) error {
		e, err := a.ledger.RecordTx(ctx, tx, accountID, &orderID, amount, kind)
		if err != nil {
			return err
		}
		entries = append(entries, *e)
		return nil
	}

	if err := record(h.BuyerID, -h.Amount, model.EntryRelease); err != nil {
		return nil, err
	}

	fee := a.fee.Fee(h.Amount)
	if payout := h.Amount - fee; payout > 0 {
		if err := record(h.SellerID, payout, model.EntryPayout); err != nil {
			return nil, err
		}
	}
	if fee > 0 {
		if err := record(a.platformAccountID, fee, model.EntryPayout); err != nil {
			return nil, err
		}
	}

	if err := a.settle(ctx, tx, h, model.HoldReleasedToSeller); err != nil {
		return nil, err
	}
	return entries, nil
}

// Refund возвращает удержанную сумму на кредитный баланс покупателя.
func (a *Account) Refund(ctx context.Context, tx repository.Tx, orderID uuid.UUID) ([]model.LedgerEntry, error) {
	h, err := a.heldFor(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}

	release, err := a.ledger.RecordTx(ctx, tx, h.BuyerID, &orderID, -h.Amount, model.EntryRelease)
	if err != nil {
		return nil, err
	}
	refund, err := a.ledger.RecordTx(ctx, tx, h.BuyerID, &orderID, h.Amount, model.EntryRefund)
	if err != nil {
		return nil, err
	}

	if err := a.settle(ctx, tx, h, model.HoldRefundedToBuyer); err != nil {
		return nil, err
	}
	return []model.LedgerEntry{*release, *refund}, nil
}

func (a *Account) settle(ctx context.Context, tx repository.Tx, h *model.EscrowHold, status model.HoldStatus) error {
	now := a.now()
	h.Status = status
	h.ResolvedAt = &now
	return tx.UpdateHold(ctx, h)
}
