package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/warmconnects/internal/dispute"
	"github.com/mmeshcher/warmconnects/internal/escrow"
	"github.com/mmeshcher/warmconnects/internal/ledger"
	"github.com/mmeshcher/warmconnects/internal/model"
	"github.com/mmeshcher/warmconnects/internal/orders"
	"github.com/mmeshcher/warmconnects/internal/repository/memory"
	"github.com/mmeshcher/warmconnects/internal/validation"
)

func TestHashPasswordDeterministic(t *testing.T) {
	a := hashPassword("user", "pass")
	b := hashPassword("user", "pass")
	c := hashPassword("user", "other")

	if string(a) != string(b) {
		t.Fatalf("hashPassword must be deterministic, got %x and %x", a, b)
	}
	if string(a) == string(c) {
		t.Fatalf("different passwords must produce different hashes")
	}
}

type env struct {
	svc    *Service
	buyer  model.Identity
	seller model.Identity
	judge  model.Identity
}

func newEnv(t *testing.T, policy Policy) *env {
	t.Helper()
	ctx := context.Background()

	store := memory.NewStore()
	l := ledger.New(store, nil)
	m := orders.NewMachine(store, escrow.New(l, nil, memory.PlatformAccountID, nil), nil, zap.NewNop())
	policy.Arbiters = append(policy.Arbiters, "judge")
	svc := NewService(store, l, m, dispute.New(store, m, nil), policy, zap.NewNop(), nil)

	e := &env{svc: svc}
	var err error
	e.buyer, err = svc.RegisterUser(ctx, "buyer", "secret", model.Capabilities{CanBuy: true})
	require.NoError(t, err)
	e.seller, err = svc.RegisterUser(ctx, "seller", "secret", model.Capabilities{CanSell: true})
	require.NoError(t, err)
	e.judge, err = svc.RegisterUser(ctx, "judge", "secret", model.Capabilities{})
	require.NoError(t, err)
	return e
}

func (e *env) fund(t *testing.T, amount string) {
	t.Helper()
	_, err := e.svc.PurchaseCredits(context.Background(), e.buyer, model.MustParseMoney(amount))
	require.NoError(t, err)
}

func (e *env) order(t *testing.T, price string) *model.Order {
	t.Helper()
	ctx := context.Background()
	l, err := e.svc.CreateListing(ctx, e.seller, "LinkedIn post", model.MustParseMoney(price))
	require.NoError(t, err)
	o, err := e.svc.CreateOrder(ctx, e.buyer, l.ID, 1)
	require.NoError(t, err)
	return o
}

func TestRegisterAndAuthenticate(t *testing.T) {
	e := newEnv(t, DefaultPolicy())
	ctx := context.Background()

	assert.True(t, e.judge.Capabilities.CanArbitrate)
	assert.False(t, e.buyer.Capabilities.CanArbitrate)

	_, err := e.svc.RegisterUser(ctx, "buyer", "other", model.Capabilities{})
	assert.ErrorIs(t, err, model.ErrUserExists)

	_, err = e.svc.RegisterUser(ctx, " ", "x", model.Capabilities{})
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	id, err := e.svc.AuthenticateUser(ctx, "seller", "secret")
	require.NoError(t, err)
	assert.Equal(t, e.seller, id)

	_, err = e.svc.AuthenticateUser(ctx, "seller", "wrong")
	assert.ErrorIs(t, err, model.ErrInvalidCredentials)

	_, err = e.svc.AuthenticateUser(ctx, "nobody", "secret")
	assert.ErrorIs(t, err, model.ErrInvalidCredentials)
}

func TestCapabilityChecks(t *testing.T) {
	e := newEnv(t, DefaultPolicy())
	ctx := context.Background()
	e.fund(t, "100.00")
	o := e.order(t, "40.00")

	_, err := e.svc.CreateListing(ctx, e.buyer, "not a seller", model.MustParseMoney("1.00"))
	assert.ErrorIs(t, err, model.ErrUnauthorizedActor)

	_, err = e.svc.Accept(ctx, e.buyer, o.ID)
	assert.ErrorIs(t, err, model.ErrUnauthorizedActor)

	_, err = e.svc.Approve(ctx, e.seller, o.ID)
	assert.ErrorIs(t, err, model.ErrUnauthorizedActor)

	_, err = e.svc.PurchaseCredits(ctx, e.seller, model.MustParseMoney("10.00"))
	assert.ErrorIs(t, err, model.ErrUnauthorizedActor)

	_, err = e.svc.Withdraw(ctx, e.buyer, model.MustParseMoney("10.00"))
	assert.ErrorIs(t, err, model.ErrUnauthorizedActor)

	_, err = e.svc.GetOrder(ctx, model.Identity{AccountID: 999}, o.ID)
	assert.ErrorIs(t, err, model.ErrUnauthorizedActor)

	got, err := e.svc.GetOrder(ctx, e.judge, o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)
}

func TestCreateOrderRules(t *testing.T) {
	e := newEnv(t, DefaultPolicy())
	ctx := context.Background()
	e.fund(t, "100.00")

	l, err := e.svc.CreateListing(ctx, e.seller, "Comment", model.MustParseMoney("15.00"))
	require.NoError(t, err)

	o, err := e.svc.CreateOrder(ctx, e.buyer, l.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, model.MustParseMoney("45.00"), o.TotalCost)
	assert.Equal(t, model.StatusPendingAcceptance, o.Status)
	assert.True(t, validation.IsValidOrderNumber(o.Number))

	_, err = e.svc.CreateOrder(ctx, e.buyer, l.ID, 0)
	assert.ErrorIs(t, err, model.ErrInvalidAmount)

	_, err = e.svc.CreateOrder(ctx, e.buyer, uuid.New(), 1)
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = e.svc.CreateOrder(ctx, e.buyer, l.ID, 4)
	assert.ErrorIs(t, err, model.ErrInsufficientFunds)

	both, err := e.svc.RegisterUser(ctx, "both", "secret", model.Capabilities{CanBuy: true, CanSell: true})
	require.NoError(t, err)
	own, err := e.svc.CreateListing(ctx, both, "Self", model.MustParseMoney("1.00"))
	require.NoError(t, err)
	_, err = e.svc.CreateOrder(ctx, both, own.ID, 1)
	assert.ErrorIs(t, err, model.ErrUnauthorizedActor)

	byNumber, err := e.svc.GetOrderByNumber(ctx, e.seller, o.Number)
	require.NoError(t, err)
	assert.Equal(t, o.ID, byNumber.ID)

	_, err = e.svc.GetOrderByNumber(ctx, e.seller, "WC-1")
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestHappyPathScenario(t *testing.T) {
	e := newEnv(t, DefaultPolicy())
	ctx := context.Background()
	e.fund(t, "100.00")
	o := e.order(t, "40.00")

	b, err := e.svc.GetBalance(ctx, e.buyer)
	require.NoError(t, err)
	assert.Equal(t, model.Balances{Credit: model.MustParseMoney("60.00"), Escrow: model.MustParseMoney("40.00")}, b)

	_, err = e.svc.Accept(ctx, e.seller, o.ID)
	require.NoError(t, err)
	o, err = e.svc.Deliver(ctx, e.seller, o.ID, "https://linkedin.com/posts/1")
	require.NoError(t, err)
	assert.Equal(t, "https://linkedin.com/posts/1", o.Deliverable)

	o, err = e.svc.Approve(ctx, e.buyer, o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, o.Status)

	b, err = e.svc.GetBalance(ctx, e.buyer)
	require.NoError(t, err)
	assert.Equal(t, model.Balances{Credit: model.MustParseMoney("60.00")}, b)

	sb, err := e.svc.GetBalance(ctx, e.seller)
	require.NoError(t, err)
	assert.Equal(t, model.MustParseMoney("40.00"), sb.Earnings)

	_, err = e.svc.Withdraw(ctx, e.seller, model.MustParseMoney("5.00"))
	assert.ErrorIs(t, err, model.ErrInvalidAmount)

	_, err = e.svc.Withdraw(ctx, e.seller, model.MustParseMoney("41.00"))
	assert.ErrorIs(t, err, model.ErrInsufficientFunds)

	_, err = e.svc.Withdraw(ctx, e.seller, model.MustParseMoney("40.00"))
	require.NoError(t, err)

	txs, err := e.svc.GetTransactions(ctx, e.seller, 0)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.ElementsMatch(t, []model.EntryKind{model.EntryPayout, model.EntryWithdrawal}, []model.EntryKind{txs[0].Kind, txs[1].Kind})
}

func TestDeclineAndCancelRefund(t *testing.T) {
	e := newEnv(t, DefaultPolicy())
	ctx := context.Background()
	e.fund(t, "100.00")

	declined := e.order(t, "30.00")
	o, err := e.svc.Decline(ctx, e.seller, declined.ID, "fully booked")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, o.Status)
	assert.Equal(t, "fully booked", o.DeclineReason)

	cancelled := e.order(t, "20.00")
	_, err = e.svc.Cancel(ctx, e.buyer, cancelled.ID)
	require.NoError(t, err)

	b, err := e.svc.GetBalance(ctx, e.buyer)
	require.NoError(t, err)
	assert.Equal(t, model.Balances{Credit: model.MustParseMoney("100.00")}, b)

	_, err = e.svc.Accept(ctx, e.seller, cancelled.ID)
	assert.ErrorIs(t, err, model.ErrOrderClosed)
}

func TestRevisionLimit(t *testing.T) {
	policy := DefaultPolicy()
	policy.MaxRevisions = 1
	e := newEnv(t, policy)
	ctx := context.Background()
	e.fund(t, "100.00")
	o := e.order(t, "40.00")

	_, err := e.svc.Accept(ctx, e.seller, o.ID)
	require.NoError(t, err)
	_, err = e.svc.Deliver(ctx, e.seller, o.ID, "v1")
	require.NoError(t, err)

	o, err = e.svc.RequestRevision(ctx, e.buyer, o.ID, "add a hashtag")
	require.NoError(t, err)
	assert.Equal(t, model.StatusAccepted, o.Status)
	assert.Equal(t, 1, o.RevisionCount)
	assert.Equal(t, "add a hashtag", o.RevisionNote)

	_, err = e.svc.Deliver(ctx, e.seller, o.ID, "v2")
	require.NoError(t, err)

	_, err = e.svc.RequestRevision(ctx, e.buyer, o.ID, "once more")
	assert.ErrorIs(t, err, model.ErrRevisionLimit)

	o, err = e.svc.GetOrder(ctx, e.buyer, o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDelivered, o.Status)
	assert.Equal(t, 1, o.RevisionCount)
}

func TestDisputeScenario(t *testing.T) {
	e := newEnv(t, DefaultPolicy())
	ctx := context.Background()
	e.fund(t, "100.00")
	o := e.order(t, "40.00")

	_, err := e.svc.Accept(ctx, e.seller, o.ID)
	require.NoError(t, err)
	_, err = e.svc.Deliver(ctx, e.seller, o.ID, "post")
	require.NoError(t, err)

	_, err = e.svc.OpenDispute(ctx, e.buyer, o.ID, "  ")
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	d, err := e.svc.OpenDispute(ctx, e.buyer, o.ID, "post removed")
	require.NoError(t, err)

	d, err = e.svc.RespondDispute(ctx, e.seller, d.ID, "it is still there")
	require.NoError(t, err)

	_, err = e.svc.GetDispute(ctx, model.Identity{AccountID: 999}, d.ID)
	assert.ErrorIs(t, err, model.ErrUnauthorizedActor)

	_, err = e.svc.ResolveDispute(ctx, e.seller, d.ID, model.OutcomePaySeller)
	assert.ErrorIs(t, err, model.ErrUnauthorizedActor)

	d, err = e.svc.ResolveDispute(ctx, e.judge, d.ID, model.OutcomeRefund)
	require.NoError(t, err)
	assert.Equal(t, model.ResolutionBuyerRefunded, d.Resolution)

	list, err := e.svc.ListDisputes(ctx, e.buyer, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	b, err := e.svc.GetBalance(ctx, e.buyer)
	require.NoError(t, err)
	assert.Equal(t, model.Balances{Credit: model.MustParseMoney("100.00")}, b)
}

func TestCreditBonusTiers(t *testing.T) {
	tests := []struct {
		amount string
		bonus  string
	}{
		{"99.99", "0.00"},
		{"100.00", "5.00"},
		{"499.99", "24.99"},
		{"500.00", "40.00"},
		{"1000.00", "100.00"},
		{"5000.00", "750.00"},
	}
	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			assert.Equal(t, model.MustParseMoney(tt.bonus), creditBonus(model.MustParseMoney(tt.amount)))
		})
	}
}

func TestPurchaseCreditsWithBonus(t *testing.T) {
	policy := DefaultPolicy()
	policy.CreditBonus = true
	e := newEnv(t, policy)
	ctx := context.Background()

	entries, err := e.svc.PurchaseCredits(ctx, e.buyer, model.MustParseMoney("500.00"))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, model.MustParseMoney("40.00"), entries[1].Amount)

	b, err := e.svc.GetBalance(ctx, e.buyer)
	require.NoError(t, err)
	assert.Equal(t, model.MustParseMoney("540.00"), b.Credit)

	entries, err = e.svc.PurchaseCredits(ctx, e.buyer, model.MustParseMoney("10.00"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	_, err = e.svc.PurchaseCredits(ctx, e.buyer, 0)
	assert.ErrorIs(t, err, model.ErrInvalidAmount)
}

func TestListOrdersPagination(t *testing.T) {
	e := newEnv(t, DefaultPolicy())
	ctx := context.Background()
	e.fund(t, "100.00")

	var created []uuid.UUID
	for i := 0; i < 5; i++ {
		created = append(created, e.order(t, "1.00").ID)
	}
	_, err := e.svc.Accept(ctx, e.seller, created[0])
	require.NoError(t, err)

	page, err := e.svc.ListBuyerOrders(ctx, e.buyer, "", "", 2)
	require.NoError(t, err)
	require.Len(t, page.Orders, 2)
	assert.True(t, page.HasMore)

	seen := map[uuid.UUID]bool{}
	for _, o := range page.Orders {
		seen[o.ID] = true
	}
	for page.HasMore {
		page, err = e.svc.ListBuyerOrders(ctx, e.buyer, "", page.NextCursor, 2)
		require.NoError(t, err)
		for _, o := range page.Orders {
			assert.False(t, seen[o.ID], "order listed twice")
			seen[o.ID] = true
		}
	}
	assert.Len(t, seen, 5)

	accepted, err := e.svc.ListSellerOrders(ctx, e.seller, string(model.StatusAccepted), "", 10)
	require.NoError(t, err)
	require.Len(t, accepted.Orders, 1)
	assert.Equal(t, created[0], accepted.Orders[0].ID)

	_, err = e.svc.ListSellerOrders(ctx, e.seller, "bogus", "", 10)
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	_, err = e.svc.ListSellerOrders(ctx, e.seller, "", "!!!", 10)
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestExpireStale(t *testing.T) {
	policy := DefaultPolicy()
	policy.AcceptTimeout = time.Hour
	e := newEnv(t, policy)
	ctx := context.Background()
	e.fund(t, "100.00")

	stale := e.order(t, "30.00")
	accepted := e.order(t, "20.00")
	_, err := e.svc.Accept(ctx, e.seller, accepted.ID)
	require.NoError(t, err)

	n, err := e.svc.ExpireStale(ctx, time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = e.svc.ExpireStale(ctx, time.Now().Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	o, err := e.svc.GetOrder(ctx, e.buyer, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, o.Status)
	last := o.LastChange()
	require.NotNil(t, last)
	assert.Equal(t, model.SystemActorID, last.ActorID)

	b, err := e.svc.GetBalance(ctx, e.buyer)
	require.NoError(t, err)
	assert.Equal(t, model.MustParseMoney("80.00"), b.Credit)
	assert.Equal(t, model.MustParseMoney("20.00"), b.Escrow)
}

func TestStartExpiryStopsOnCancel(t *testing.T) {
	policy := DefaultPolicy()
	policy.ExpiryInterval = 10 * time.Millisecond
	e := newEnv(t, policy)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.svc.StartExpiry(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("StartExpiry did not return after cancel")
	}
}
