package orders

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/warmconnects/internal/escrow"
	"github.com/mmeshcher/warmconnects/internal/ledger"
	"github.com/mmeshcher/warmconnects/internal/model"
	"github.com/mmeshcher/warmconnects/internal/repository"
	"github.com/mmeshcher/warmconnects/internal/repository/memory"
)

var allEvents = []model.OrderEvent{
	model.EventAccept, model.EventDecline, model.EventCancel, model.EventDeliver, model.EventApprove,
	model.EventComplete, model.EventRequestRevision, model.EventOpenDispute,
	model.EventResolveRefund, model.EventResolvePaySeller,
}

var allRoles = []Role{RoleBuyer, RoleSeller, RoleSystem, RoleResolver}

func TestLookupTable(t *testing.T) {
	type key struct {
		from  model.OrderStatus
		event model.OrderEvent
	}
	want := map[key]struct {
		to    model.OrderStatus
		roles []Role
	}{
		{model.StatusPendingAcceptance, model.EventAccept}:  {model.StatusAccepted, []Role{RoleSeller}},
		{model.StatusPendingAcceptance, model.EventDecline}: {model.StatusCancelled, []Role{RoleSeller}},
		{model.StatusPendingAcceptance, model.EventCancel}:  {model.StatusCancelled, []Role{RoleBuyer, RoleSystem}},
		{model.StatusAccepted, model.EventCancel}:           {model.StatusCancelled, []Role{RoleBuyer, RoleSystem}},
		{model.StatusAccepted, model.EventDeliver}:          {model.StatusDelivered, []Role{RoleSeller}},
		{model.StatusDelivered, model.EventApprove}:         {model.StatusApproved, []Role{RoleBuyer}},
		{model.StatusDelivered, model.EventRequestRevision}: {model.StatusAccepted, []Role{RoleBuyer}},
		{model.StatusDelivered, model.EventOpenDispute}:     {model.StatusDisputed, []Role{RoleBuyer, RoleSeller}},
		{model.StatusApproved, model.EventComplete}:         {model.StatusCompleted, []Role{RoleSystem}},
		{model.StatusDisputed, model.EventResolveRefund}:    {model.StatusRefunded, []Role{RoleResolver}},
		{model.StatusDisputed, model.EventResolvePaySeller}: {model.StatusCompleted, []Role{RoleResolver}},
	}

	for _, from := range model.OrderStatuses {
		for _, event := range allEvents {
			for _, role := range allRoles {
				edge, err := Lookup(from, event, role)
				exp, ok := want[key{from, event}]

				switch {
				case from.IsTerminal():
					assert.ErrorIs(t, err, model.ErrOrderClosed, "%s %s %s", from, event, role)
				case !ok:
					assert.ErrorIs(t, err, model.ErrInvalidTransition, "%s %s %s", from, event, role)
				case !contains(exp.roles, role):
					assert.ErrorIs(t, err, model.ErrUnauthorizedActor, "%s %s %s", from, event, role)
				default:
					require.NoError(t, err, "%s %s %s", from, event, role)
					assert.Equal(t, exp.to, edge.To)
				}
			}
		}
	}
}

func contains(roles []Role, r Role) bool {
	for _, v := range roles {
		if v == r {
			return true
		}
	}
	return false
}

type fixture struct {
	store   *memory.Store
	ledger  *ledger.Ledger
	machine *Machine
	buyer   int64
	seller  int64
	seen    []Transition
	mu      sync.Mutex
}

func newFixture(t *testing.T, clock ledger.Clock) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{store: memory.NewStore()}
	f.ledger = ledger.New(f.store, clock)
	f.machine = NewMachine(f.store, escrow.New(f.ledger, nil, memory.PlatformAccountID, clock), clock, zap.NewNop())
	f.machine.Observe(ObserverFunc(func(_ context.Context, tr Transition) {
		f.mu.Lock()
		f.seen = append(f.seen, tr)
		f.mu.Unlock()
	}))

	require.NoError(t, f.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		if f.buyer, err = tx.CreateAccount(ctx, "buyer", nil, model.Capabilities{CanBuy: true}); err != nil {
			return err
		}
		f.seller, err = tx.CreateAccount(ctx, "seller", nil, model.Capabilities{CanSell: true})
		return err
	}))

	_, err := f.ledger.Record(ctx, f.buyer, nil, model.MustParseMoney("100.00"), model.EntryPurchase)
	require.NoError(t, err)
	return f
}

func (f *fixture) create(t *testing.T, total string) *model.Order {
	t.Helper()
	o, err := f.machine.Create(context.Background(), Draft{
		Number:    "WC-" + uuid.NewString(),
		BuyerID:   f.buyer,
		SellerID:  f.seller,
		ServiceID: uuid.New(),
		Quantity:  1,
		TotalCost: model.MustParseMoney(total),
	})
	require.NoError(t, err)
	return o
}

func (f *fixture) fire(t *testing.T, o *model.Order, event model.OrderEvent, actor Actor) *model.Order {
	t.Helper()
	got, err := f.machine.Fire(context.Background(), o.ID, event, actor, nil)
	require.NoError(t, err)
	return got
}

func (f *fixture) balance(t *testing.T, acc int64) model.Balances {
	t.Helper()
	b, err := f.ledger.Balance(context.Background(), acc, time.Time{})
	require.NoError(t, err)
	return b
}

func (f *fixture) holdStatus(t *testing.T, orderID uuid.UUID) model.HoldStatus {
	t.Helper()
	var st model.HoldStatus
	require.NoError(t, f.store.InTx(context.Background(), func(tx repository.Tx) error {
		h, err := tx.GetHold(context.Background(), orderID)
		if err != nil {
			return err
		}
		st = h.Status
		return nil
	}))
	return st
}

func assertValidHistory(t *testing.T, o *model.Order) {
	t.Helper()
	require.NotEmpty(t, o.History)
	assert.Equal(t, model.EventCreate, o.History[0].Event)
	assert.Equal(t, model.StatusPendingAcceptance, o.History[0].To)

	for i := 1; i < len(o.History); i++ {
		prev, cur := o.History[i-1], o.History[i]
		assert.Equal(t, i+1, cur.Seq)
		assert.Equal(t, prev.To, cur.From)
		assert.True(t, cur.At.After(prev.At), "history must be strictly time-ordered")
		assert.True(t, Allowed(cur.From, cur.Event), "%s from %s", cur.Event, cur.From)
	}
	assert.Equal(t, o.History[len(o.History)-1].To, o.Status)
}

func TestCreateHoldsFunds(t *testing.T) {
	f := newFixture(t, nil)
	o := f.create(t, "40.00")

	assert.Equal(t, model.StatusPendingAcceptance, o.Status)
	assert.Equal(t, model.MustParseMoney("60.00"), f.balance(t, f.buyer).Credit)
	assert.Equal(t, model.MustParseMoney("40.00"), f.balance(t, f.buyer).Escrow)
	assert.Equal(t, model.HoldHeld, f.holdStatus(t, o.ID))
	require.Len(t, f.seen, 1)
	assert.Equal(t, model.EventCreate, f.seen[0].Change.Event)
}

func TestCreateInsufficientFunds(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.machine.Create(context.Background(), Draft{
		Number: "WC-1", BuyerID: f.buyer, SellerID: f.seller, ServiceID: uuid.New(), Quantity: 1,
		TotalCost: model.MustParseMoney("100.01"),
	})
	assert.ErrorIs(t, err, model.ErrInsufficientFunds)

	list, err := f.listBuyer()
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Equal(t, model.MustParseMoney("100.00"), f.balance(t, f.buyer).Credit)
}

func (f *fixture) listBuyer() ([]model.Order, error) {
	var list []model.Order
	err := f.store.InTx(context.Background(), func(tx repository.Tx) error {
		var err error
		list, err = tx.ListOrders(context.Background(), repository.OrderFilter{BuyerID: f.buyer, Limit: 10})
		return err
	})
	return list, err
}

func TestDeclineRefunds(t *testing.T) {
	f := newFixture(t, nil)
	o := f.create(t, "40.00")

	o = f.fire(t, o, model.EventDecline, Party(f.seller))

	assert.Equal(t, model.StatusCancelled, o.Status)
	assert.Equal(t, model.Balances{Credit: model.MustParseMoney("100.00")}, f.balance(t, f.buyer))
	assert.Equal(t, model.HoldRefundedToBuyer, f.holdStatus(t, o.ID))
	assertValidHistory(t, o)
}

func TestDeliverApproveReleases(t *testing.T) {
	f := newFixture(t, nil)
	o := f.create(t, "40.00")

	f.fire(t, o, model.EventAccept, Party(f.seller))
	f.fire(t, o, model.EventDeliver, Party(f.seller))
	o = f.fire(t, o, model.EventApprove, Party(f.buyer))

	assert.Equal(t, model.StatusCompleted, o.Status)
	require.Len(t, o.History, 5)
	assert.Equal(t, model.StatusApproved, o.History[3].To)
	assert.Equal(t, model.EventComplete, o.History[4].Event)
	assert.Equal(t, model.SystemActorID, o.History[4].ActorID)

	assert.Equal(t, model.MustParseMoney("40.00"), f.balance(t, f.seller).Earnings)
	assert.Equal(t, model.Balances{Credit: model.MustParseMoney("60.00")}, f.balance(t, f.buyer))
	assert.Equal(t, model.HoldReleasedToSeller, f.holdStatus(t, o.ID))

	stored, err := f.machine.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assertValidHistory(t, stored)
}

func TestRequestRevisionAndCancel(t *testing.T) {
	f := newFixture(t, nil)
	o := f.create(t, "40.00")

	f.fire(t, o, model.EventAccept, Party(f.seller))
	f.fire(t, o, model.EventDeliver, Party(f.seller))

	o, err := f.machine.Fire(context.Background(), o.ID, model.EventRequestRevision, Party(f.buyer), func(o *model.Order) error {
		o.RevisionCount++
		o.RevisionNote = "more hashtags"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusAccepted, o.Status)
	assert.Equal(t, 1, o.RevisionCount)
	assert.Equal(t, "more hashtags", o.RevisionNote)

	o = f.fire(t, o, model.EventCancel, System())
	assert.Equal(t, model.StatusCancelled, o.Status)
	assert.Equal(t, model.Balances{Credit: model.MustParseMoney("100.00")}, f.balance(t, f.buyer))
	assertValidHistory(t, o)
}

func TestMutationErrorAbortsTransition(t *testing.T) {
	f := newFixture(t, nil)
	o := f.create(t, "40.00")
	errLimit := errors.New("limit")

	_, err := f.machine.Fire(context.Background(), o.ID, model.EventDecline, Party(f.seller), func(*model.Order) error {
		return errLimit
	})
	require.ErrorIs(t, err, errLimit)

	stored, err := f.machine.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPendingAcceptance, stored.Status)
	assert.Len(t, stored.History, 1)
	assert.Equal(t, model.HoldHeld, f.holdStatus(t, o.ID))
}

func TestGuards(t *testing.T) {
	f := newFixture(t, nil)
	o := f.create(t, "40.00")
	ctx := context.Background()

	_, err := f.machine.Fire(ctx, uuid.New(), model.EventAccept, Party(f.seller), nil)
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = f.machine.Fire(ctx, o.ID, model.EventAccept, Party(f.buyer), nil)
	assert.ErrorIs(t, err, model.ErrUnauthorizedActor)

	_, err = f.machine.Fire(ctx, o.ID, model.EventAccept, Party(999), nil)
	assert.ErrorIs(t, err, model.ErrUnauthorizedActor)

	_, err = f.machine.Fire(ctx, o.ID, model.EventDeliver, Party(f.seller), nil)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)

	f.fire(t, o, model.EventCancel, Party(f.buyer))

	// терминальный статус отклоняет любые события, включая события с неверной ролью
	for _, event := range allEvents {
		_, err = f.machine.Fire(ctx, o.ID, event, Party(f.seller), nil)
		assert.ErrorIs(t, err, model.ErrOrderClosed, string(event))
	}

	stored, err := f.machine.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Len(t, stored.History, 2)
}

func TestConcurrentApprove(t *testing.T) {
	f := newFixture(t, nil)
	o := f.create(t, "40.00")
	f.fire(t, o, model.EventAccept, Party(f.seller))
	f.fire(t, o, model.EventDeliver, Party(f.seller))

	const n = 8
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		errs  = make(chan error, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.machine.Fire(context.Background(), o.ID, model.EventApprove, Party(f.buyer), nil)
			errs <- err
		}()
	}
	close(start)
	wg.Wait()
	close(errs)

	var ok int
	for err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.True(t, errors.Is(err, model.ErrOrderClosed) || errors.Is(err, model.ErrInvalidTransition), err.Error())
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, model.MustParseMoney("40.00"), f.balance(t, f.seller).Earnings)
}

func TestApproveRacesDispute(t *testing.T) {
	f := newFixture(t, nil)
	o := f.create(t, "40.00")
	f.fire(t, o, model.EventAccept, Party(f.seller))
	f.fire(t, o, model.EventDeliver, Party(f.seller))

	var wg sync.WaitGroup
	results := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, results[0] = f.machine.Fire(context.Background(), o.ID, model.EventApprove, Party(f.buyer), nil)
	}()
	go func() {
		defer wg.Done()
		_, results[1] = f.machine.Fire(context.Background(), o.ID, model.EventOpenDispute, Party(f.seller), nil)
	}()
	wg.Wait()

	assert.True(t, (results[0] == nil) != (results[1] == nil), "exactly one of approve and dispute must win")
}

func TestHistoryStrictlyOrderedWithFrozenClock(t *testing.T) {
	frozen := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, func() time.Time { return frozen })
	o := f.create(t, "40.00")

	f.fire(t, o, model.EventAccept, Party(f.seller))
	f.fire(t, o, model.EventDeliver, Party(f.seller))
	o = f.fire(t, o, model.EventApprove, Party(f.buyer))

	assertValidHistory(t, o)
	assert.Equal(t, frozen.Add(4*time.Microsecond), o.History[4].At)
}

func TestObserverSeesCommittedTransitionsOnly(t *testing.T) {
	f := newFixture(t, nil)
	o := f.create(t, "40.00")

	_, err := f.machine.Fire(context.Background(), o.ID, model.EventDeliver, Party(f.seller), nil)
	require.Error(t, err)
	f.fire(t, o, model.EventAccept, Party(f.seller))

	require.Len(t, f.seen, 2)
	assert.Equal(t, model.EventAccept, f.seen[1].Change.Event)
	assert.Equal(t, o.Number, f.seen[1].Number)
	assert.Equal(t, f.buyer, f.seen[1].BuyerID)
}
