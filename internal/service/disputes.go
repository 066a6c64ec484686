package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/mmeshcher/warmconnects/internal/model"
	"github.com/mmeshcher/warmconnects/internal/pagination"
)

// OpenDispute открывает спор по доставленному заказу.
func (s *Service) OpenDispute(ctx context.Context, id model.Identity, orderID uuid.UUID, reason string) (*model.Dispute, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: dispute reason is required", model.ErrInvalidInput)
	}
	return s.disputes.Open(ctx, id, orderID, reason)
}

// RespondDispute сохраняет ответ второй стороны спора.
func (s *Service) RespondDispute(ctx context.Context, id model.Identity, disputeID uuid.UUID, response string) (*model.Dispute, error) {
	response = strings.TrimSpace(response)
	if response == "" {
		return nil, fmt.Errorf("%w: response is required", model.ErrInvalidInput)
	}
	return s.disputes.Respond(ctx, id, disputeID, response)
}

// ResolveDispute закрывает спор решением арбитра.
func (s *Service) ResolveDispute(ctx context.Context, id model.Identity, disputeID uuid.UUID, outcome model.Outcome) (*model.Dispute, error) {
	id, err := s.refresh(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.disputes.Resolve(ctx, id, disputeID, outcome)
}

// GetDispute возвращает спор его участникам и арбитрам.
func (s *Service) GetDispute(ctx context.Context, id model.Identity, disputeID uuid.UUID) (*model.Dispute, error) {
	d, err := s.disputes.Get(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if id.AccountID != d.OpenedBy && id.AccountID != d.RespondentID && !id.Capabilities.CanArbitrate {
		return nil, fmt.Errorf("%w: not a party of dispute %s", model.ErrUnauthorizedActor, disputeID)
	}
	return d, nil
}

// ListDisputes возвращает споры, в которых участвует вызывающий.
func (s *Service) ListDisputes(ctx context.Context, id model.Identity, limit int) ([]model.Dispute, error) {
	return s.disputes.List(ctx, id.AccountID, pagination.NormalizeLimit(limit))
}
