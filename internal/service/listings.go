package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/warmconnects/internal/model"
	"github.com/mmeshcher/warmconnects/internal/repository"
)

// ListingPatch содержит изменяемые поля услуги. nil означает «не менять».
type ListingPatch struct {
	Title  *string      `json:"title,omitempty"`
	Price  *model.Money `json:"price,omitempty"`
	Active *bool        `json:"active,omitempty"`
}

// CreateListing публикует услугу продавца в каталоге.
func (s *Service) CreateListing(ctx context.Context, id model.Identity, title string, price model.Money) (*model.Listing, error) {
	if err := requireCap(id.Capabilities.CanSell, "sell"); err != nil {
		return nil, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", model.ErrInvalidInput)
	}
	if price <= 0 {
		return nil, fmt.Errorf("%w: price must be positive", model.ErrInvalidAmount)
	}

	l := &model.Listing{
		ID:        uuid.New(),
		SellerID:  id.AccountID,
		Title:     title,
		Price:     price,
		Active:    true,
		CreatedAt: s.now(),
	}
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		return tx.InsertListing(ctx, l)
	})
	if err != nil {
		return nil, err
	}
	return l, nil
}

// GetListing возвращает услугу из каталога.
func (s *Service) GetListing(ctx context.Context, listingID uuid.UUID) (*model.Listing, error) {
	var l *model.Listing
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		l, err = tx.GetListing(ctx, listingID)
		return err
	})
	return l, err
}

// UpdateListing меняет услугу. Менять её может только владелец. Уже оформленные заказы
// сохраняют свою стоимость.
func (s *Service) UpdateListing(ctx context.Context, id model.Identity, listingID uuid.UUID, p ListingPatch) (*model.Listing, error) {
	if err := requireCap(id.Capabilities.CanSell, "sell"); err != nil {
		return nil, err
	}
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return nil, fmt.Errorf("%w: title is required", model.ErrInvalidInput)
	}
	if p.Price != nil && *p.Price <= 0 {
		return nil, fmt.Errorf("%w: price must be positive", model.ErrInvalidAmount)
	}

	var l *model.Listing
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		l, err = tx.GetListing(ctx, listingID)
		if err != nil {
			return err
		}
		if l.SellerID != id.AccountID {
			return fmt.Errorf("%w: not the owner of service %s", model.ErrUnauthorizedActor, listingID)
		}

		if p.Title != nil {
			l.Title = strings.TrimSpace(*p.Title)
		}
		if p.Price != nil {
			l.Price = *p.Price
		}
		if p.Active != nil {
			l.Active = *p.Active
		}
		return tx.UpdateListing(ctx, l)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("listing updated",
		zap.String("service_id", listingID.String()),
		zap.Bool("active", l.Active),
	)
	return l, nil
}

// DeactivateListing снимает услугу с продажи. Новые заказы на неё не принимаются.
func (s *Service) DeactivateListing(ctx context.Context, id model.Identity, listingID uuid.UUID) (*model.Listing, error) {
	inactive := false
	return s.UpdateListing(ctx, id, listingID, ListingPatch{Active: &inactive})
}

// ListSellerListings возвращает все услуги вызывающего продавца, включая снятые с продажи.
func (s *Service) ListSellerListings(ctx context.Context, id model.Identity) ([]model.Listing, error) {
	if err := requireCap(id.Capabilities.CanSell, "sell"); err != nil {
		return nil, err
	}

	var list []model.Listing
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		list, err = tx.ListListings(ctx, id.AccountID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []model.Listing{}
	}
	return list, nil
}
