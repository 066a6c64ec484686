// Package orders реализует конечный автомат жизненного цикла заказа.
// Переход, запись истории и движение средств в эскроу фиксируются одной транзакцией.
package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/warmconnects/internal/escrow"
	"github.com/mmeshcher/warmconnects/internal/ledger"
	"github.com/mmeshcher/warmconnects/internal/model"
	"github.com/mmeshcher/warmconnects/internal/repository"
	"github.com/mmeshcher/warmconnects/internal/syncutil"
)

// Actor: инициатор перехода. Для покупателя и продавца роль определяется по заказу.
type Actor struct {
	ID   int64
	Role Role
}

// Party возвращает участника заказа, роль которого (покупатель или продавец) определится по заказу.
func Party(accountID int64) Actor {
	return Actor{ID: accountID}
}

// System возвращает системного участника, например для отмены по таймауту.
func System() Actor {
	return Actor{ID: model.SystemActorID, Role: RoleSystem}
}

// Resolver возвращает арбитра спора.
func Resolver(accountID int64) Actor {
	return Actor{ID: accountID, Role: RoleResolver}
}

func (a Actor) roleFor(o *model.Order) Role {
	if a.Role != "" {
		return a.Role
	}
	switch a.ID {
	case o.BuyerID:
		return RoleBuyer
	case o.SellerID:
		return RoleSeller
	}
	return ""
}

// Transition описывает зафиксированный переход заказа.
type Transition struct {
	OrderID  uuid.UUID
	Number   string
	BuyerID  int64
	SellerID int64
	Change   model.StatusChange
}

// Observer получает зафиксированные переходы. Вызывается после фиксации транзакции
// и не должен блокироваться.
type Observer interface {
	OnTransition(ctx context.Context, t Transition)
}

// ObserverFunc позволяет использовать функцию как Observer.
type ObserverFunc func(ctx context.Context, t Transition)

// OnTransition вызывает f.
func (f ObserverFunc) OnTransition(ctx context.Context, t Transition) { f(ctx, t) }

// Mutation изменяет поля заказа при переходе (результат работы, причина отказа и т.п.).
// Ошибка отменяет переход.
type Mutation func(o *model.Order) error

// Draft: параметры нового заказа.
type Draft struct {
	Number    string
	BuyerID   int64
	SellerID  int64
	ServiceID uuid.UUID
	Quantity  int
	TotalCost model.Money
}

// Machine выполняет переходы заказов.
type Machine struct {
	store     repository.Store
	escrow    *escrow.Account
	locks     *syncutil.ShardedMutex
	now       ledger.Clock
	logger    *zap.Logger
	observers []Observer
}

// NewMachine создаёт автомат. При clock == nil используется ledger.Now.
func NewMachine(store repository.Store, esc *escrow.Account, clock ledger.Clock, logger *zap.Logger) *Machine {
	if clock == nil {
		clock = ledger.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Machine{
		store:  store,
		escrow: esc,
		locks:  syncutil.NewShardedMutex(),
		now:    clock,
		logger: logger,
	}
}

// Observe подписывает наблюдателя на переходы. Вызывается до начала работы.
func (m *Machine) Observe(o Observer) {
	m.observers = append(m.observers, o)
}

// Lock сериализует операции над заказом внутри процесса.
func (m *Machine) Lock(ctx context.Context, orderID uuid.UUID) (func(), error) {
	unlock, err := m.locks.Lock(ctx, orderID.String())
	if err != nil {
		return nil, fmt.Errorf("lock order %s: %w", orderID, err)
	}
	return unlock, nil
}

// Create создаёт заказ в статусе pending_acceptance и блокирует его стоимость в эскроу.
func (m *Machine) Create(ctx context.Context, d Draft) (*model.Order, error) {
	if d.Quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", model.ErrInvalidAmount)
	}
	if d.TotalCost <= 0 {
		return nil, fmt.Errorf("%w: order total must be positive", model.ErrInvalidAmount)
	}

	now := m.now()
	o := &model.Order{
		ID:        uuid.New(),
		Number:    d.Number,
		BuyerID:   d.BuyerID,
		SellerID:  d.SellerID,
		ServiceID: d.ServiceID,
		Quantity:  d.Quantity,
		TotalCost: d.TotalCost,
		Status:    model.StatusPendingAcceptance,
		CreatedAt: now,
		UpdatedAt: now,
		History: []model.StatusChange{{
			Seq:     1,
			To:      model.StatusPendingAcceptance,
			Event:   model.EventCreate,
			ActorID: d.BuyerID,
			At:      now,
		}},
	}

	err := m.store.InTx(ctx, func(tx repository.Tx) error {
		if err := tx.InsertOrder(ctx, o); err != nil {
			return err
		}
		_, err := m.escrow.Hold(ctx, tx, o)
		return err
	})
	if err != nil {
		return nil, err
	}

	m.Committed(ctx, o, o.History)
	return o, nil
}

// Fire применяет событие к заказу и возвращает обновлённый заказ.
func (m *Machine) Fire(ctx context.Context, orderID uuid.UUID, event model.OrderEvent, actor Actor, mutate Mutation) (*model.Order, error) {
	unlock, err := m.Lock(ctx, orderID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var (
		o       *model.Order
		changes []model.StatusChange
	)
	err = m.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		o, err = tx.GetOrder(ctx, orderID, true)
		if err != nil {
			return err
		}
		changes, err = m.Apply(ctx, tx, o, event, actor, mutate)
		return err
	})
	if err != nil {
		return nil, err
	}

	m.Committed(ctx, o, changes)
	return o, nil
}

// Apply выполняет переход внутри транзакции вызывающего. Заказ должен быть загружен с блокировкой.
// Одобрение сразу завершает заказ: в историю пишутся два перехода.
func (m *Machine) Apply(ctx context.Context, tx repository.Tx, o *model.Order, event model.OrderEvent, actor Actor, mutate Mutation) ([]model.StatusChange, error) {
	edge, err := Lookup(o.Status, event, actor.roleFor(o))
	if err != nil {
		return nil, err
	}

	if mutate != nil {
		if err := mutate(o); err != nil {
			return nil, err
		}
	}

	switch edge.Effect {
	case EffectRefund:
		_, err = m.escrow.Refund(ctx, tx, o.ID)
	case EffectRelease:
		_, err = m.escrow.Release(ctx, tx, o.ID)
	}
	if err != nil {
		return nil, err
	}

	changes := []model.StatusChange{m.advance(o, event, actor.ID, edge.To)}
	if event == model.EventApprove {
		next, err := Lookup(o.Status, model.EventComplete, RoleSystem)
		if err != nil {
			return nil, err
		}
		changes = append(changes, m.advance(o, model.EventComplete, model.SystemActorID, next.To))
	}

	if err := tx.UpdateOrder(ctx, o); err != nil {
		return nil, err
	}
	for _, c := range changes {
		if err := tx.AppendHistory(ctx, o.ID, c); err != nil {
			return nil, err
		}
	}
	return changes, nil
}

// advance переводит заказ в статус to и добавляет запись в историю.
func (m *Machine) advance(o *model.Order, event model.OrderEvent, actorID int64, to model.OrderStatus) model.StatusChange {
	c := model.StatusChange{
		Seq:     len(o.History) + 1,
		From:    o.Status,
		To:      to,
		Event:   event,
		ActorID: actorID,
		At:      m.nextAt(o),
	}
	o.Status = to
	o.UpdatedAt = c.At
	o.History = append(o.History, c)
	return c
}

// nextAt возвращает время записи истории, строго большее предыдущей записи.
func (m *Machine) nextAt(o *model.Order) time.Time {
	now := m.now()
	if last := o.LastChange(); last != nil && !now.After(last.At) {
		return last.At.Add(time.Microsecond)
	}
	return now
}

// Committed сообщает наблюдателям о зафиксированных переходах.
func (m *Machine) Committed(ctx context.Context, o *model.Order, changes []model.StatusChange) {
	for _, c := range changes {
		m.logger.Info("order transition",
			zap.String("order_id", o.ID.String()),
			zap.String("from", string(c.From)),
			zap.String("to", string(c.To)),
			zap.String("event", string(c.Event)),
			zap.Int64("actor_id", c.ActorID),
		)

		t := Transition{OrderID: o.ID, Number: o.Number, BuyerID: o.BuyerID, SellerID: o.SellerID, Change: c}
		for _, obs := range m.observers {
			obs.OnTransition(ctx, t)
		}
	}
}

// Get возвращает заказ с историей.
func (m *Machine) Get(ctx context.Context, orderID uuid.UUID) (*model.Order, error) {
	var o *model.Order
	err := m.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		o, err = tx.GetOrder(ctx, orderID, false)
		return err
	})
	return o, err
}
