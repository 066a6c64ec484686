// Package dispute ведёт споры по заказам: открытие, ответ второй стороны и решение арбитра.
package dispute

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/mmeshcher/warmconnects/internal/ledger"
	"github.com/mmeshcher/warmconnects/internal/model"
	"github.com/mmeshcher/warmconnects/internal/orders"
	"github.com/mmeshcher/warmconnects/internal/repository"
	"github.com/mmeshcher/warmconnects/internal/validation"
)

// Resolver управляет жизненным циклом споров. Переходы заказа выполняются через orders.Machine
// в той же транзакции, что и запись спора.
type Resolver struct {
	store   repository.Store
	machine *orders.Machine
	now     ledger.Clock
}

// New создаёт Resolver.
func New(store repository.Store, machine *orders.Machine, clock ledger.Clock) *Resolver {
	if clock == nil {
		clock = ledger.Now
	}
	return &Resolver{store: store, machine: machine, now: clock}
}

// Open открывает спор по доставленному заказу от имени покупателя или продавца.
// Ответчиком становится вторая сторона заказа.
func (r *Resolver) Open(ctx context.Context, id model.Identity, orderID uuid.UUID, reason string) (*model.Dispute, error) {
	unlock, err := r.machine.Lock(ctx, orderID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var (
		d       *model.Dispute
		o       *model.Order
		changes []model.StatusChange
	)
	err = r.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		o, err = tx.GetOrder(ctx, orderID, true)
		if err != nil {
			return err
		}

		if o.Status != model.StatusDelivered {
			return fmt.Errorf("%w: order is %s, disputes can be opened only for delivered orders",
				model.ErrInvalidOrderState, o.Status)
		}

		var respondent int64
		switch id.AccountID {
		case o.BuyerID:
			respondent = o.SellerID
		case o.SellerID:
			respondent = o.BuyerID
		default:
			return fmt.Errorf("%w: only order parties can open a dispute", model.ErrUnauthorizedActor)
		}

		now := r.now()
		d = &model.Dispute{
			ID:           uuid.New(),
			Number:       validation.NewDisputeNumber(now),
			OrderID:      o.ID,
			OpenedBy:     id.AccountID,
			RespondentID: respondent,
			Reason:       reason,
			Resolution:   model.ResolutionPending,
			CreatedAt:    now,
		}
		if err := tx.InsertDispute(ctx, d); err != nil {
			return err
		}

		changes, err = r.machine.Apply(ctx, tx, o, model.EventOpenDispute, orders.Party(id.AccountID), nil)
		return err
	})
	if err != nil {
		return nil, err
	}

	r.machine.Committed(ctx, o, changes)
	return d, nil
}

// Respond сохраняет ответ второй стороны. Ответ возможен один раз и только пока спор не решён.
func (r *Resolver) Respond(ctx context.Context, id model.Identity, disputeID uuid.UUID, response string) (*model.Dispute, error) {
	var d *model.Dispute
	err := r.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		d, err = tx.GetDispute(ctx, disputeID, true)
		if err != nil {
			return err
		}

		if d.Resolution != model.ResolutionPending {
			return fmt.Errorf("%w: %s", model.ErrDisputeAlreadyResolved, d.Resolution)
		}
		if id.AccountID != d.RespondentID {
			return fmt.Errorf("%w: only the respondent can answer a dispute", model.ErrUnauthorizedActor)
		}
		if d.Response != nil {
			return model.ErrAlreadyResponded
		}

		now := r.now()
		d.Response = &response
		d.RespondedAt = &now
		return tx.UpdateDispute(ctx, d)
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Resolve закрывает спор решением арбитра и переводит заказ в refunded или completed.
func (r *Resolver) Resolve(ctx context.Context, id model.Identity, disputeID uuid.UUID, outcome model.Outcome) (*model.Dispute, error) {
	if !id.Capabilities.CanArbitrate {
		return nil, fmt.Errorf("%w: arbitration capability required", model.ErrUnauthorizedActor)
	}

	event, resolution, err := outcomeEvent(outcome)
	if err != nil {
		return nil, err
	}

	current, err := r.Get(ctx, disputeID)
	if err != nil {
		return nil, err
	}

	unlock, err := r.machine.Lock(ctx, current.OrderID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var (
		d       *model.Dispute
		o       *model.Order
		changes []model.StatusChange
	)
	err = r.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		d, err = tx.GetDispute(ctx, disputeID, true)
		if err != nil {
			return err
		}
		if d.Resolution != model.ResolutionPending {
			return fmt.Errorf("%w: %s", model.ErrDisputeAlreadyResolved, d.Resolution)
		}

		o, err = tx.GetOrder(ctx, d.OrderID, true)
		if err != nil {
			return err
		}
		changes, err = r.machine.Apply(ctx, tx, o, event, orders.Resolver(id.AccountID), nil)
		if err != nil {
			return err
		}

		now := r.now()
		resolvedBy := id.AccountID
		d.Resolution = resolution
		d.ResolvedBy = &resolvedBy
		d.ResolvedAt = &now
		return tx.UpdateDispute(ctx, d)
	})
	if err != nil {
		return nil, err
	}

	r.machine.Committed(ctx, o, changes)
	return d, nil
}

func outcomeEvent(outcome model.Outcome) (model.OrderEvent, model.Resolution, error) {
	switch outcome {
	case model.OutcomeRefund:
		return model.EventResolveRefund, model.ResolutionBuyerRefunded, nil
	case model.OutcomePaySeller:
		return model.EventResolvePaySeller, model.ResolutionSellerPaid, nil
	}
	return "", "", fmt.Errorf("%w: %q", model.ErrInvalidOutcome, outcome)
}

// Get возвращает спор по идентификатору.
func (r *Resolver) Get(ctx context.Context, disputeID uuid.UUID) (*model.Dispute, error) {
	var d *model.Dispute
	err := r.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		d, err = tx.GetDispute(ctx, disputeID, false)
		return err
	})
	return d, err
}

// List возвращает споры, в которых участвует счёт, новые первыми.
func (r *Resolver) List(ctx context.Context, accountID int64, limit int) ([]model.Dispute, error) {
	var list []model.Dispute
	err := r.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		list, err = tx.ListDisputes(ctx, accountID, limit)
		return err
	})
	return list, err
}
