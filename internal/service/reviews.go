package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/warmconnects/internal/model"
	"github.com/mmeshcher/warmconnects/internal/pagination"
	"github.com/mmeshcher/warmconnects/internal/repository"
)

const (
	minRating     = 1
	maxRating     = 5
	maxReviewText = 2000
)

// ReviewDraft содержит поля нового отзыва.
type ReviewDraft struct {
	OrderID        uuid.UUID
	Rating         int
	Text           string
	WouldWorkAgain bool
}

// ReviewSummary: отзывы о пользователе со сводкой оценок.
type ReviewSummary struct {
	Reviews         []model.Review `json:"reviews"`
	AverageRating   float64        `json:"average_rating"`
	TotalReviews    int            `json:"total_reviews"`
	RatingBreakdown map[string]int `json:"rating_breakdown"`
}

// CreateReview сохраняет отзыв стороны о второй стороне завершённого заказа.
// Каждая сторона может оставить по заказу один отзыв.
func (s *Service) CreateReview(ctx context.Context, id model.Identity, d ReviewDraft) (*model.Review, error) {
	if d.Rating < minRating || d.Rating > maxRating {
		return nil, fmt.Errorf("%w: rating must be within [%d, %d]", model.ErrInvalidInput, minRating, maxRating)
	}
	text := strings.TrimSpace(d.Text)
	if utf8.RuneCountInString(text) > maxReviewText {
		return nil, fmt.Errorf("%w: review text is longer than %d characters", model.ErrInvalidInput, maxReviewText)
	}

	var r *model.Review
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		o, err := tx.GetOrder(ctx, d.OrderID, false)
		if err != nil {
			return err
		}

		r = &model.Review{
			ID:             uuid.New(),
			OrderID:        o.ID,
			ReviewerID:     id.AccountID,
			Rating:         d.Rating,
			Text:           text,
			WouldWorkAgain: d.WouldWorkAgain,
			CreatedAt:      s.now(),
		}
		switch id.AccountID {
		case o.BuyerID:
			r.ReviewerRole, r.RevieweeID = model.ReviewerBuyer, o.SellerID
		case o.SellerID:
			r.ReviewerRole, r.RevieweeID = model.ReviewerSeller, o.BuyerID
		default:
			return fmt.Errorf("%w: not a party of order %s", model.ErrUnauthorizedActor, o.ID)
		}

		if o.Status != model.StatusCompleted {
			return fmt.Errorf("%w: order %s is %s, only completed orders can be reviewed",
				model.ErrInvalidOrderState, o.ID, o.Status)
		}
		return tx.InsertReview(ctx, r)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("review created",
		zap.String("order_id", r.OrderID.String()),
		zap.Int64("reviewer_id", r.ReviewerID),
		zap.Int("rating", r.Rating),
	)
	return r, nil
}

// ListUserReviews возвращает отзывы о пользователе со сводкой оценок.
func (s *Service) ListUserReviews(ctx context.Context, userID int64, limit int) (*ReviewSummary, error) {
	var list []model.Review
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		list, err = tx.ListReviews(ctx, userID, pagination.NormalizeLimit(limit))
		return err
	})
	if err != nil {
		return nil, err
	}
	return summarize(list), nil
}

// MyReviews возвращает отзывы, полученные вызывающим.
func (s *Service) MyReviews(ctx context.Context, id model.Identity, limit int) (*ReviewSummary, error) {
	return s.ListUserReviews(ctx, id.AccountID, limit)
}

func summarize(list []model.Review) *ReviewSummary {
	sum := &ReviewSummary{
		Reviews:         list,
		TotalReviews:    len(list),
		RatingBreakdown: make(map[string]int, maxRating),
	}
	if sum.Reviews == nil {
		sum.Reviews = []model.Review{}
	}
	for r := minRating; r <= maxRating; r++ {
		sum.RatingBreakdown[fmt.Sprintf("%d_star", r)] = 0
	}

	total := 0
	for _, r := range list {
		total += r.Rating
		sum.RatingBreakdown[fmt.Sprintf("%d_star", r.Rating)]++
	}
	if len(list) > 0 {
		sum.AverageRating = math.Round(float64(total)/float64(len(list))*100) / 100
	}
	return sum
}
