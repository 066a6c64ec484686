package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/warmconnects/internal/model"
)

func TestDeactivatedListingRejectsOrders(t *testing.T) {
	e := newEnv(t, DefaultPolicy())
	ctx := context.Background()
	e.fund(t, "100.00")

	l, err := e.svc.CreateListing(ctx, e.seller, "Story", model.MustParseMoney("20.00"))
	require.NoError(t, err)
	o, err := e.svc.CreateOrder(ctx, e.buyer, l.ID, 1)
	require.NoError(t, err)

	got, err := e.svc.DeactivateListing(ctx, e.seller, l.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)

	_, err = e.svc.CreateOrder(ctx, e.buyer, l.ID, 1)
	assert.ErrorIs(t, err, model.ErrListingInactive)

	// заказ, оформленный до снятия услуги, продолжает жить
	_, err = e.svc.Accept(ctx, e.seller, o.ID)
	require.NoError(t, err)

	active := true
	_, err = e.svc.UpdateListing(ctx, e.seller, l.ID, ListingPatch{Active: &active})
	require.NoError(t, err)
	_, err = e.svc.CreateOrder(ctx, e.buyer, l.ID, 1)
	assert.NoError(t, err)
}

func TestUpdateListing(t *testing.T) {
	e := newEnv(t, DefaultPolicy())
	ctx := context.Background()

	l, err := e.svc.CreateListing(ctx, e.seller, "Story", model.MustParseMoney("20.00"))
	require.NoError(t, err)

	title := "  Reel  "
	price := model.MustParseMoney("35.00")
	got, err := e.svc.UpdateListing(ctx, e.seller, l.ID, ListingPatch{Title: &title, Price: &price})
	require.NoError(t, err)
	assert.Equal(t, "Reel", got.Title)
	assert.Equal(t, price, got.Price)
	assert.True(t, got.Active)

	other, err := e.svc.RegisterUser(ctx, "other-seller", "secret", model.Capabilities{CanSell: true})
	require.NoError(t, err)

	blank := " "
	zero := model.Money(0)
	tests := []struct {
		name    string
		id      model.Identity
		listing uuid.UUID
		patch   ListingPatch
		wantErr error
	}{
		{name: "not the owner", id: other, listing: l.ID, wantErr: model.ErrUnauthorizedActor},
		{name: "buyer", id: e.buyer, listing: l.ID, wantErr: model.ErrUnauthorizedActor},
		{name: "unknown listing", id: e.seller, listing: uuid.New(), wantErr: model.ErrNotFound},
		{name: "blank title", id: e.seller, listing: l.ID, patch: ListingPatch{Title: &blank}, wantErr: model.ErrInvalidInput},
		{name: "zero price", id: e.seller, listing: l.ID, patch: ListingPatch{Price: &zero}, wantErr: model.ErrInvalidAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.svc.UpdateListing(ctx, tt.id, tt.listing, tt.patch)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestListSellerListings(t *testing.T) {
	e := newEnv(t, DefaultPolicy())
	ctx := context.Background()

	list, err := e.svc.ListSellerListings(ctx, e.seller)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.NotNil(t, list)

	first, err := e.svc.CreateListing(ctx, e.seller, "Story", model.MustParseMoney("20.00"))
	require.NoError(t, err)
	e.svc.now = func() time.Time { return first.CreatedAt.Add(time.Second) }
	second, err := e.svc.CreateListing(ctx, e.seller, "Reel", model.MustParseMoney("30.00"))
	require.NoError(t, err)
	_, err = e.svc.DeactivateListing(ctx, e.seller, first.ID)
	require.NoError(t, err)

	list, err = e.svc.ListSellerListings(ctx, e.seller)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.False(t, list[1].Active)

	_, err = e.svc.ListSellerListings(ctx, e.buyer)
	assert.ErrorIs(t, err, model.ErrUnauthorizedActor)
}
