// Package service реализует бизнес-логику маркетплейса: пользователей, каталог услуг,
// заказы, споры и кошелёк.
package service

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/warmconnects/internal/dispute"
	"github.com/mmeshcher/warmconnects/internal/ledger"
	"github.com/mmeshcher/warmconnects/internal/metrics"
	"github.com/mmeshcher/warmconnects/internal/model"
	"github.com/mmeshcher/warmconnects/internal/orders"
	"github.com/mmeshcher/warmconnects/internal/pagination"
	"github.com/mmeshcher/warmconnects/internal/repository"
	"github.com/mmeshcher/warmconnects/internal/validation"
)

// Policy содержит настраиваемые правила площадки.
type Policy struct {
	// MaxRevisions ограничивает число доработок заказа. 0: без ограничений.
	MaxRevisions  int
	MinWithdrawal model.Money
	// Arbiters: логины, которым при регистрации выдаётся право решать споры.
	Arbiters       []string
	CreditBonus    bool
	AcceptTimeout  time.Duration
	ExpiryInterval time.Duration
}

// DefaultPolicy возвращает правила по умолчанию.
func DefaultPolicy() Policy {
	return Policy{
		MinWithdrawal:  model.MustParseMoney("10.00"),
		AcceptTimeout:  72 * time.Hour,
		ExpiryInterval: time.Minute,
	}
}

// Service объединяет журнал, автомат заказов и споры в операции, доступные клиентам.
type Service struct {
	store    repository.Store
	ledger   *ledger.Ledger
	machine  *orders.Machine
	disputes *dispute.Resolver
	policy   Policy
	now      ledger.Clock
	logger   *zap.Logger
	metrics  *metrics.Metrics

	orderNumber func(time.Time) string
}

// NewService создаёт сервис поверх готовых компонентов.
func NewService(store repository.Store, l *ledger.Ledger, m *orders.Machine, d *dispute.Resolver, policy Policy, logger *zap.Logger, mtr *metrics.Metrics) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:    store,
		ledger:   l,
		machine:  m,
		disputes: d,
		policy:   policy,
		now:      ledger.Now,
		logger:   logger,
		metrics:  mtr,

		orderNumber: validation.NewOrderNumber,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

// Ping проверяет доступность хранилища.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// VerifyPlatformAccount проверяет, что счёт для комиссии площадки существует.
func (s *Service) VerifyPlatformAccount(ctx context.Context, id int64) error {
	return s.store.InTx(ctx, func(tx repository.Tx) error {
		if _, err := tx.GetAccount(ctx, id); err != nil {
			return fmt.Errorf("platform account %d: %w", id, err)
		}
		return nil
	})
}

// RegisterUser регистрирует нового пользователя с указанными возможностями.
func (s *Service) RegisterUser(ctx context.Context, login, password string, caps model.Capabilities) (model.Identity, error) {
	login = strings.TrimSpace(login)
	if login == "" || password == "" {
		return model.Identity{}, fmt.Errorf("%w: login and password are required", model.ErrInvalidInput)
	}
	caps.CanArbitrate = slices.Contains(s.policy.Arbiters, login)

	var id int64
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		id, err = tx.CreateAccount(ctx, login, hashPassword(login, password), caps)
		return err
	})
	if err != nil {
		return model.Identity{}, err
	}
	return model.Identity{AccountID: id, Capabilities: caps}, nil
}

// AuthenticateUser проверяет логин и пароль пользователя и возвращает его личность.
func (s *Service) AuthenticateUser(ctx context.Context, login, password string) (model.Identity, error) {
	var acc *model.Account
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		acc, err = tx.GetAccountByLogin(ctx, strings.TrimSpace(login))
		return err
	})
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return model.Identity{}, model.ErrInvalidCredentials
		}
		return model.Identity{}, err
	}

	hashed := hashPassword(acc.Login, password)
	if !acc.Active || subtle.ConstantTimeCompare(hashed, acc.PasswordHash) != 1 {
		return model.Identity{}, model.ErrInvalidCredentials
	}

	return model.Identity{AccountID: acc.ID, Capabilities: acc.Capabilities}, nil
}

// refresh перечитывает счёт вызывающего. Закрытый счёт не может выполнять операции с деньгами,
// а возможности берутся из хранилища, а не из cookie.
func (s *Service) refresh(ctx context.Context, id model.Identity) (model.Identity, error) {
	var acc *model.Account
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		acc, err = tx.GetAccount(ctx, id.AccountID)
		return err
	})
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return model.Identity{}, fmt.Errorf("%w: unknown account %d", model.ErrUnauthorizedActor, id.AccountID)
		}
		return model.Identity{}, err
	}
	if !acc.Active {
		return model.Identity{}, fmt.Errorf("%w: account %d is closed", model.ErrUnauthorizedActor, id.AccountID)
	}
	return model.Identity{AccountID: acc.ID, Capabilities: acc.Capabilities}, nil
}

// CloseAccount закрывает счёт вызывающего. Счёт с деньгами в эскроу или невыведенным заработком
// закрыть нельзя.
func (s *Service) CloseAccount(ctx context.Context, id model.Identity) error {
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		if err := tx.LockAccount(ctx, id.AccountID); err != nil {
			return err
		}
		sums, err := tx.SumByKind(ctx, id.AccountID, s.now())
		if err != nil {
			return err
		}
		if b := model.SumBalances(sums); b.Escrow != 0 || b.Earnings != 0 {
			return fmt.Errorf("%w: escrow %s, earnings %s", model.ErrAccountBusy, b.Escrow, b.Earnings)
		}
		return tx.SetAccountActive(ctx, id.AccountID, false)
	})
	if err != nil {
		return err
	}

	s.logger.Info("account closed", zap.Int64("account_id", id.AccountID))
	return nil
}

func hashPassword(login, password string) []byte {
	sum := sha256.Sum256([]byte(login + ":" + password))
	return sum[:]
}

func requireCap(ok bool, what string) error {
	if !ok {
		return fmt.Errorf("%w: %s capability required", model.ErrUnauthorizedActor, what)
	}
	return nil
}

// bonusTiers задаёт бонус к покупке кредитов от суммы (включительно) в базисных пунктах.
var bonusTiers = []struct {
	from model.Money
	bps  int64
}{
	{model.MustParseMoney("5000.00"), 1500},
	{model.MustParseMoney("1000.00"), 1000},
	{model.MustParseMoney("500.00"), 800},
	{model.MustParseMoney("100.00"), 500},
}

func creditBonus(amount model.Money) model.Money {
	for _, t := range bonusTiers {
		if amount >= t.from {
			return amount.BasisPoints(t.bps)
		}
	}
	return 0
}

// PurchaseCredits зачисляет купленные кредиты. Бонус, если включён, записывается отдельной записью
// в той же транзакции.
func (s *Service) PurchaseCredits(ctx context.Context, id model.Identity, amount model.Money) ([]model.LedgerEntry, error) {
	id, err := s.refresh(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireCap(id.Capabilities.CanBuy, "buy"); err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, fmt.Errorf("%w: purchase amount must be positive", model.ErrInvalidAmount)
	}

	var entries []model.LedgerEntry
	err = s.store.InTx(ctx, func(tx repository.Tx) error {
		entries = entries[:0]
		e, err := s.ledger.RecordTx(ctx, tx, id.AccountID, nil, amount, model.EntryPurchase)
		if err != nil {
			return err
		}
		entries = append(entries, *e)

		if !s.policy.CreditBonus {
			return nil
		}
		if bonus := creditBonus(amount); bonus > 0 {
			e, err = s.ledger.RecordTx(ctx, tx, id.AccountID, nil, bonus, model.EntryPurchase)
			if err != nil {
				return err
			}
			entries = append(entries, *e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.WalletOperation(string(model.EntryPurchase))
	s.logger.Info("credits purchased",
		zap.Int64("account_id", id.AccountID),
		zap.String("amount", amount.String()),
		zap.Int("entries", len(entries)),
	)
	return entries, nil
}

// Withdraw выводит заработок продавца. Сумма не может быть меньше минимальной.
func (s *Service) Withdraw(ctx context.Context, id model.Identity, amount model.Money) (*model.LedgerEntry, error) {
	id, err := s.refresh(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireCap(id.Capabilities.CanSell, "sell"); err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, fmt.Errorf("%w: withdrawal amount must be positive", model.ErrInvalidAmount)
	}
	if amount < s.policy.MinWithdrawal {
		return nil, fmt.Errorf("%w: minimum withdrawal is %s", model.ErrInvalidAmount, s.policy.MinWithdrawal)
	}

	e, err := s.ledger.Record(ctx, id.AccountID, nil, -amount, model.EntryWithdrawal)
	if err != nil {
		return nil, err
	}

	s.metrics.WalletOperation(string(model.EntryWithdrawal))
	s.logger.Info("earnings withdrawn", zap.Int64("account_id", id.AccountID), zap.String("amount", amount.String()))
	return e, nil
}

// GetBalance возвращает текущие балансы вызывающего.
func (s *Service) GetBalance(ctx context.Context, id model.Identity) (model.Balances, error) {
	return s.ledger.Balance(ctx, id.AccountID, time.Time{})
}

// GetTransactions возвращает последние записи журнала вызывающего.
func (s *Service) GetTransactions(ctx context.Context, id model.Identity, limit int) ([]model.LedgerEntry, error) {
	return s.ledger.History(ctx, id.AccountID, pagination.NormalizeLimit(limit))
}
