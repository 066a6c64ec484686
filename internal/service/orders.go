package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/warmconnects/internal/model"
	"github.com/mmeshcher/warmconnects/internal/orders"
	"github.com/mmeshcher/warmconnects/internal/pagination"
	"github.com/mmeshcher/warmconnects/internal/repository"
	"github.com/mmeshcher/warmconnects/internal/validation"
)

// OrderPage: страница списка заказов.
type OrderPage struct {
	Orders     []model.Order `json:"orders"`
	NextCursor string        `json:"next_cursor,omitempty"`
	HasMore    bool          `json:"has_more"`
}

const orderNumberAttempts = 3

// CreateOrder оформляет заказ покупателя на услугу и блокирует его стоимость в эскроу.
// При совпадении номера с существующим заказ оформляется заново с новым номером.
func (s *Service) CreateOrder(ctx context.Context, id model.Identity, listingID uuid.UUID, quantity int) (*model.Order, error) {
	id, err := s.refresh(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireCap(id.Capabilities.CanBuy, "buy"); err != nil {
		return nil, err
	}
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", model.ErrInvalidAmount)
	}

	l, err := s.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if !l.Active {
		return nil, model.ErrListingInactive
	}
	if l.SellerID == id.AccountID {
		return nil, fmt.Errorf("%w: cannot order own service", model.ErrUnauthorizedActor)
	}
	if int64(l.Price) > math.MaxInt64/int64(quantity) {
		return nil, fmt.Errorf("%w: order total overflows", model.ErrInvalidAmount)
	}

	for attempt := 1; ; attempt++ {
		o, err := s.machine.Create(ctx, orders.Draft{
			Number:    s.orderNumber(s.now()),
			BuyerID:   id.AccountID,
			SellerID:  l.SellerID,
			ServiceID: l.ID,
			Quantity:  quantity,
			TotalCost: l.Price * model.Money(quantity),
		})
		if errors.Is(err, model.ErrDuplicateNumber) && attempt < orderNumberAttempts {
			s.logger.Warn("order number collision, retrying", zap.Error(err), zap.Int("attempt", attempt))
			continue
		}
		return o, err
	}
}

// Accept принимает заказ в работу.
func (s *Service) Accept(ctx context.Context, id model.Identity, orderID uuid.UUID) (*model.Order, error) {
	if err := requireCap(id.Capabilities.CanSell, "sell"); err != nil {
		return nil, err
	}
	return s.machine.Fire(ctx, orderID, model.EventAccept, orders.Party(id.AccountID), nil)
}

// Decline отклоняет заказ, средства возвращаются покупателю.
func (s *Service) Decline(ctx context.Context, id model.Identity, orderID uuid.UUID, reason string) (*model.Order, error) {
	if err := requireCap(id.Capabilities.CanSell, "sell"); err != nil {
		return nil, err
	}
	return s.machine.Fire(ctx, orderID, model.EventDecline, orders.Party(id.AccountID), func(o *model.Order) error {
		o.DeclineReason = strings.TrimSpace(reason)
		return nil
	})
}

// Cancel отменяет заказ покупателем до начала работы.
func (s *Service) Cancel(ctx context.Context, id model.Identity, orderID uuid.UUID) (*model.Order, error) {
	if err := requireCap(id.Capabilities.CanBuy, "buy"); err != nil {
		return nil, err
	}
	return s.machine.Fire(ctx, orderID, model.EventCancel, orders.Party(id.AccountID), nil)
}

// Deliver сдаёт результат работы.
func (s *Service) Deliver(ctx context.Context, id model.Identity, orderID uuid.UUID, deliverable string) (*model.Order, error) {
	if err := requireCap(id.Capabilities.CanSell, "sell"); err != nil {
		return nil, err
	}
	return s.machine.Fire(ctx, orderID, model.EventDeliver, orders.Party(id.AccountID), func(o *model.Order) error {
		o.Deliverable = strings.TrimSpace(deliverable)
		return nil
	})
}

// Approve принимает результат, заказ завершается и продавец получает оплату.
func (s *Service) Approve(ctx context.Context, id model.Identity, orderID uuid.UUID) (*model.Order, error) {
	if err := requireCap(id.Capabilities.CanBuy, "buy"); err != nil {
		return nil, err
	}
	return s.machine.Fire(ctx, orderID, model.EventApprove, orders.Party(id.AccountID), nil)
}

// RequestRevision возвращает заказ продавцу на доработку.
func (s *Service) RequestRevision(ctx context.Context, id model.Identity, orderID uuid.UUID, note string) (*model.Order, error) {
	if err := requireCap(id.Capabilities.CanBuy, "buy"); err != nil {
		return nil, err
	}
	limit := s.policy.MaxRevisions
	return s.machine.Fire(ctx, orderID, model.EventRequestRevision, orders.Party(id.AccountID), func(o *model.Order) error {
		if limit > 0 && o.RevisionCount >= limit {
			return fmt.Errorf("%w: %d of %d used", model.ErrRevisionLimit, o.RevisionCount, limit)
		}
		o.RevisionCount++
		o.RevisionNote = strings.TrimSpace(note)
		return nil
	})
}

// canView сообщает, может ли личность видеть заказ: стороны заказа и арбитры.
func canView(id model.Identity, o *model.Order) bool {
	return id.AccountID == o.BuyerID || id.AccountID == o.SellerID || id.Capabilities.CanArbitrate
}

// GetOrder возвращает заказ с историей статусов.
func (s *Service) GetOrder(ctx context.Context, id model.Identity, orderID uuid.UUID) (*model.Order, error) {
	o, err := s.machine.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !canView(id, o) {
		return nil, fmt.Errorf("%w: not a party of order %s", model.ErrUnauthorizedActor, orderID)
	}
	return o, nil
}

// GetOrderByNumber ищет заказ по его номеру.
func (s *Service) GetOrderByNumber(ctx context.Context, id model.Identity, number string) (*model.Order, error) {
	if !validation.IsValidOrderNumber(number) {
		return nil, fmt.Errorf("%w: malformed order number %q", model.ErrInvalidInput, number)
	}

	var o *model.Order
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		o, err = tx.GetOrderByNumber(ctx, number)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !canView(id, o) {
		return nil, fmt.Errorf("%w: not a party of order %s", model.ErrUnauthorizedActor, number)
	}
	return o, nil
}

// ListBuyerOrders возвращает заказы покупателя, новые первыми.
func (s *Service) ListBuyerOrders(ctx context.Context, id model.Identity, status, cursor string, limit int) (*OrderPage, error) {
	return s.listOrders(ctx, repository.OrderFilter{BuyerID: id.AccountID}, status, cursor, limit)
}

// ListSellerOrders возвращает заказы продавца, новые первыми.
func (s *Service) ListSellerOrders(ctx context.Context, id model.Identity, status, cursor string, limit int) (*OrderPage, error) {
	return s.listOrders(ctx, repository.OrderFilter{SellerID: id.AccountID}, status, cursor, limit)
}

func (s *Service) listOrders(ctx context.Context, f repository.OrderFilter, status, cursor string, limit int) (*OrderPage, error) {
	if status != "" {
		st, err := model.ParseOrderStatus(status)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrInvalidInput, err)
		}
		f.Status = st
	}

	c, err := pagination.Decode(cursor)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrInvalidInput, err)
	}
	f.Cursor = c

	limit = pagination.NormalizeLimit(limit)
	f.Limit = limit + 1

	var list []model.Order
	err = s.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		list, err = tx.ListOrders(ctx, f)
		return err
	})
	if err != nil {
		return nil, err
	}

	page, next, more := pagination.Page(list, limit, func(o model.Order) (time.Time, uuid.UUID) {
		return o.CreatedAt, o.ID
	})
	if page == nil {
		page = []model.Order{}
	}
	return &OrderPage{Orders: page, NextCursor: next, HasMore: more}, nil
}
