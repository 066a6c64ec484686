// Package memory реализует repository.Store в памяти процесса.
// Используется в тестах и в режиме разработки без DATABASE_URI.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mmeshcher/warmconnects/internal/model"
	"github.com/mmeshcher/warmconnects/internal/repository"
	"github.com/mmeshcher/warmconnects/internal/syncutil"
)

// PlatformAccountID совпадает со счётом, который создаёт миграция PostgreSQL.
const PlatformAccountID int64 = 1

// Store хранит данные в map под RWMutex. Транзакция копит записи в собственном наборе
// и применяет их при фиксации одним шагом; блокировки строк заменены блокировками по ключу.
type Store struct {
	mu sync.RWMutex

	nextAccountID int64
	accounts      map[int64]*model.Account
	logins        map[string]int64

	entries []model.LedgerEntry

	holds        map[uuid.UUID]*model.EscrowHold
	orders       map[uuid.UUID]*model.Order
	orderNumbers map[string]uuid.UUID
	disputes     map[uuid.UUID]*model.Dispute
	listings     map[uuid.UUID]*model.Listing
	reviews      map[uuid.UUID]*model.Review

	locks syncutil.KeyedMutex
}

// NewStore создаёт пустое хранилище с платформенным счётом PlatformAccountID.
func NewStore() *Store {
	return NewStoreWithPlatform(PlatformAccountID)
}

// NewStoreWithPlatform создаёт пустое хранилище с платформенным счётом platformID.
// Идентификаторы пользователей выдаются начиная с platformID + 1.
func NewStoreWithPlatform(platformID int64) *Store {
	s := &Store{
		nextAccountID: platformID + 1,
		accounts:      make(map[int64]*model.Account),
		logins:        make(map[string]int64),
		holds:         make(map[uuid.UUID]*model.EscrowHold),
		orders:        make(map[uuid.UUID]*model.Order),
		orderNumbers:  make(map[string]uuid.UUID),
		disputes:      make(map[uuid.UUID]*model.Dispute),
		listings:      make(map[uuid.UUID]*model.Listing),
		reviews:       make(map[uuid.UUID]*model.Review),
	}
	s.accounts[platformID] = &model.Account{ID: platformID, Login: "platform", CreatedAt: time.Now().UTC()}
	s.logins["platform"] = platformID
	return s
}

// InTx выполняет fn в транзакции. Записи видны другим транзакциям только после успешного завершения fn.
func (s *Store) InTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tx := newTx(s)
	defer tx.unlockAll()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.commit()
}

// Ping всегда успешен.
func (s *Store) Ping(context.Context) error { return nil }

// Close ничего не освобождает.
func (s *Store) Close() error { return nil }

type memTx struct {
	s *Store

	held map[string]func()

	accounts     map[int64]*model.Account
	entries      []model.LedgerEntry
	newHolds     map[uuid.UUID]bool
	holds        map[uuid.UUID]*model.EscrowHold
	newOrders    map[uuid.UUID]bool
	orders       map[uuid.UUID]*model.Order
	history      map[uuid.UUID][]model.StatusChange
	newDisputes  map[uuid.UUID]bool
	disputes     map[uuid.UUID]*model.Dispute
	listings     map[uuid.UUID]*model.Listing
	reviews      map[uuid.UUID]*model.Review
	newAccountID []int64
}

func newTx(s *Store) *memTx {
	return &memTx{
		s:           s,
		held:        make(map[string]func()),
		accounts:    make(map[int64]*model.Account),
		newHolds:    make(map[uuid.UUID]bool),
		holds:       make(map[uuid.UUID]*model.EscrowHold),
		newOrders:   make(map[uuid.UUID]bool),
		orders:      make(map[uuid.UUID]*model.Order),
		history:     make(map[uuid.UUID][]model.StatusChange),
		newDisputes: make(map[uuid.UUID]bool),
		disputes:    make(map[uuid.UUID]*model.Dispute),
		listings:    make(map[uuid.UUID]*model.Listing),
		reviews:     make(map[uuid.UUID]*model.Review),
	}
}

// lock захватывает блокировку ключа до конца транзакции. Повторный захват того же ключа ничего не делает.
func (t *memTx) lock(ctx context.Context, key string) error {
	if _, ok := t.held[key]; ok {
		return nil
	}
	unlock, err := t.s.locks.Lock(ctx, key)
	if err != nil {
		return fmt.Errorf("lock %s: %w", key, err)
	}
	t.held[key] = unlock
	return nil
}

func (t *memTx) unlockAll() {
	for _, unlock := range t.held {
		unlock()
	}
}

func (t *memTx) commit() error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range t.newOrders {
		o := t.orders[id]
		if other, ok := s.orderNumbers[o.Number]; ok && other != id {
			return fmt.Errorf("%w: %s", model.ErrDuplicateNumber, o.Number)
		}
	}
	for id := range t.newHolds {
		if _, ok := s.holds[id]; ok {
			return fmt.Errorf("%w: hold for order %s already exists", model.ErrInvalidHoldState, id)
		}
	}
	for id := range t.newDisputes {
		d := t.disputes[id]
		for _, other := range s.disputes {
			if other.OrderID == d.OrderID && other.Resolution == model.ResolutionPending {
				return fmt.Errorf("%w: order %s", model.ErrDisputeExists, d.OrderID)
			}
		}
	}
	for _, r := range t.reviews {
		for _, other := range s.reviews {
			if other.OrderID == r.OrderID && other.ReviewerID == r.ReviewerID {
				return fmt.Errorf("%w: order %s", model.ErrReviewExists, r.OrderID)
			}
		}
	}
	for _, id := range t.newAccountID {
		a := t.accounts[id]
		if _, ok := s.logins[a.Login]; ok {
			return fmt.Errorf("%w: %s", model.ErrUserExists, a.Login)
		}
	}

	for id, a := range t.accounts {
		s.accounts[id] = a
		s.logins[a.Login] = id
	}
	s.entries = append(s.entries, t.entries...)
	for id, h := range t.holds {
		s.holds[id] = h
	}
	for id, o := range t.orders {
		s.orders[id] = o
		s.orderNumbers[o.Number] = id
	}
	for id, changes := range t.history {
		o := s.orders[id]
		if t.orders[id] == nil {
			cp := *o
			o = &cp
			s.orders[id] = o
		}
		o.History = append(append([]model.StatusChange(nil), o.History...), changes...)
	}
	for id, d := range t.disputes {
		s.disputes[id] = d
	}
	for id, l := range t.listings {
		s.listings[id] = l
	}
	for id, r := range t.reviews {
		s.reviews[id] = r
	}
	return nil
}

func (t *memTx) CreateAccount(ctx context.Context, login string, passwordHash []byte, caps model.Capabilities) (int64, error) {
	if err := t.lock(ctx, "login:"+login); err != nil {
		return 0, err
	}

	s := t.s
	s.mu.Lock()
	if _, ok := s.logins[login]; ok {
		s.mu.Unlock()
		return 0, fmt.Errorf("%w: %s", model.ErrUserExists, login)
	}
	id := s.nextAccountID
	s.nextAccountID++
	s.mu.Unlock()

	t.accounts[id] = &model.Account{
		ID:           id,
		Login:        login,
		PasswordHash: append([]byte(nil), passwordHash...),
		Capabilities: caps,
		Active:       true,
		CreatedAt:    time.Now().UTC().Truncate(time.Microsecond),
	}
	t.newAccountID = append(t.newAccountID, id)
	return id, nil
}

func (t *memTx) GetAccount(_ context.Context, id int64) (*model.Account, error) {
	if a, ok := t.accounts[id]; ok {
		cp := *a
		return &cp, nil
	}

	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	a, ok := t.s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %d: %w", id, model.ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

func (t *memTx) GetAccountByLogin(ctx context.Context, login string) (*model.Account, error) {
	for _, a := range t.accounts {
		if a.Login == login {
			cp := *a
			return &cp, nil
		}
	}

	t.s.mu.RLock()
	id, ok := t.s.logins[login]
	t.s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("account %q: %w", login, model.ErrNotFound)
	}
	return t.GetAccount(ctx, id)
}

func (t *memTx) SetAccountActive(ctx context.Context, id int64, active bool) error {
	a, err := t.GetAccount(ctx, id)
	if err != nil {
		return err
	}
	a.Active = active
	t.accounts[id] = a
	return nil
}

func (t *memTx) LockAccount(ctx context.Context, id int64) error {
	if _, err := t.GetAccount(ctx, id); err != nil {
		return err
	}
	return t.lock(ctx, "account:"+strconv.FormatInt(id, 10))
}

func (t *memTx) InsertEntry(_ context.Context, e *model.LedgerEntry) error {
	t.entries = append(t.entries, *e)
	return nil
}

// allEntries возвращает зафиксированные записи вместе с записями текущей транзакции.
func (t *memTx) allEntries(match func(e *model.LedgerEntry) bool) []model.LedgerEntry {
	var res []model.LedgerEntry

	t.s.mu.RLock()
	for i := range t.s.entries {
		if match(&t.s.entries[i]) {
			res = append(res, t.s.entries[i])
		}
	}
	t.s.mu.RUnlock()

	for i := range t.entries {
		if match(&t.entries[i]) {
			res = append(res, t.entries[i])
		}
	}
	return res
}

func sumByKind(entries []model.LedgerEntry) map[model.EntryKind]model.Money {
	res := make(map[model.EntryKind]model.Money)
	for _, e := range entries {
		res[e.Kind] += e.Amount
	}
	return res
}

func (t *memTx) SumByKind(_ context.Context, accountID int64, asOf time.Time) (map[model.EntryKind]model.Money, error) {
	return sumByKind(t.allEntries(func(e *model.LedgerEntry) bool {
		return e.AccountID == accountID && !e.CreatedAt.After(asOf)
	})), nil
}

func (t *memTx) SumOrderByKind(_ context.Context, orderID uuid.UUID) (map[model.EntryKind]model.Money, error) {
	return sumByKind(t.allEntries(func(e *model.LedgerEntry) bool {
		return e.OrderID != nil && *e.OrderID == orderID
	})), nil
}

func (t *memTx) ListEntries(_ context.Context, accountID int64, limit int) ([]model.LedgerEntry, error) {
	res := t.allEntries(func(e *model.LedgerEntry) bool { return e.AccountID == accountID })
	sort.SliceStable(res, func(i, j int) bool {
		if !res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].CreatedAt.After(res[j].CreatedAt)
		}
		return res[i].ID.String() > res[j].ID.String()
	})
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (t *memTx) InsertHold(_ context.Context, h *model.EscrowHold) error {
	if _, ok := t.holds[h.OrderID]; ok {
		return fmt.Errorf("%w: hold for order %s already exists", model.ErrInvalidHoldState, h.OrderID)
	}
	t.s.mu.RLock()
	_, ok := t.s.holds[h.OrderID]
	t.s.mu.RUnlock()
	if ok {
		return fmt.Errorf("%w: hold for order %s already exists", model.ErrInvalidHoldState, h.OrderID)
	}

	cp := *h
	t.holds[h.OrderID] = &cp
	t.newHolds[h.OrderID] = true
	return nil
}

func (t *memTx) GetHold(_ context.Context, orderID uuid.UUID) (*model.EscrowHold, error) {
	if h, ok := t.holds[orderID]; ok {
		cp := *h
		return &cp, nil
	}

	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	h, ok := t.s.holds[orderID]
	if !ok {
		return nil, fmt.Errorf("hold: %w", model.ErrNotFound)
	}
	cp := *h
	return &cp, nil
}

func (t *memTx) UpdateHold(ctx context.Context, h *model.EscrowHold) error {
	if _, err := t.GetHold(ctx, h.OrderID); err != nil {
		return err
	}
	cp := *h
	t.holds[h.OrderID] = &cp
	return nil
}

func copyOrder(o *model.Order) *model.Order {
	cp := *o
	cp.History = append([]model.StatusChange(nil), o.History...)
	return &cp
}

func (t *memTx) InsertOrder(_ context.Context, o *model.Order) error {
	t.s.mu.RLock()
	_, exists := t.s.orderNumbers[o.Number]
	t.s.mu.RUnlock()
	for _, staged := range t.orders {
		if staged.Number == o.Number {
			exists = true
		}
	}
	if exists {
		return fmt.Errorf("%w: %s", model.ErrDuplicateNumber, o.Number)
	}

	cp := copyOrder(o)
	t.orders[o.ID] = cp
	t.newOrders[o.ID] = true
	return nil
}

// baseOrder возвращает заказ без истории, дописанной в текущей транзакции.
func (t *memTx) baseOrder(id uuid.UUID) (*model.Order, error) {
	if staged, ok := t.orders[id]; ok {
		return copyOrder(staged), nil
	}

	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	committed, ok := t.s.orders[id]
	if !ok {
		return nil, fmt.Errorf("order: %w", model.ErrNotFound)
	}
	return copyOrder(committed), nil
}

func (t *memTx) loadOrder(id uuid.UUID) (*model.Order, error) {
	o, err := t.baseOrder(id)
	if err != nil {
		return nil, err
	}
	o.History = append(o.History, t.history[id]...)
	return o, nil
}

func (t *memTx) GetOrder(ctx context.Context, id uuid.UUID, forUpdate bool) (*model.Order, error) {
	if forUpdate {
		if err := t.lock(ctx, "order:"+id.String()); err != nil {
			return nil, err
		}
	}
	return t.loadOrder(id)
}

func (t *memTx) GetOrderByNumber(_ context.Context, number string) (*model.Order, error) {
	for id, o := range t.orders {
		if o.Number == number {
			return t.loadOrder(id)
		}
	}

	t.s.mu.RLock()
	id, ok := t.s.orderNumbers[number]
	t.s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("order: %w", model.ErrNotFound)
	}
	return t.loadOrder(id)
}

func (t *memTx) UpdateOrder(_ context.Context, o *model.Order) error {
	base, err := t.baseOrder(o.ID)
	if err != nil {
		return err
	}

	// история дописывается только через AppendHistory
	cp := *o
	cp.History = base.History
	t.orders[o.ID] = &cp
	return nil
}

func (t *memTx) AppendHistory(_ context.Context, orderID uuid.UUID, c model.StatusChange) error {
	if _, err := t.baseOrder(orderID); err != nil {
		return err
	}
	t.history[orderID] = append(t.history[orderID], c)
	return nil
}

// visibleOrders возвращает все заказы, видимые транзакции, без истории.
func (t *memTx) visibleOrders(match func(o *model.Order) bool) []model.Order {
	seen := make(map[uuid.UUID]bool)
	var res []model.Order

	for id, o := range t.orders {
		seen[id] = true
		if match(o) {
			cp := *o
			cp.History = nil
			res = append(res, cp)
		}
	}

	t.s.mu.RLock()
	for id, o := range t.s.orders {
		if seen[id] || !match(o) {
			continue
		}
		cp := *o
		cp.History = nil
		res = append(res, cp)
	}
	t.s.mu.RUnlock()
	return res
}

func (t *memTx) ListOrders(_ context.Context, f repository.OrderFilter) ([]model.Order, error) {
	res := t.visibleOrders(func(o *model.Order) bool {
		if f.BuyerID != 0 && o.BuyerID != f.BuyerID {
			return false
		}
		if f.SellerID != 0 && o.SellerID != f.SellerID {
			return false
		}
		if f.Status != "" && o.Status != f.Status {
			return false
		}
		return f.Cursor.Before(o.CreatedAt, o.ID)
	})

	sort.Slice(res, func(i, j int) bool {
		if !res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].CreatedAt.After(res[j].CreatedAt)
		}
		return res[i].ID.String() > res[j].ID.String()
	})
	if f.Limit > 0 && len(res) > f.Limit {
		res = res[:f.Limit]
	}
	return res, nil
}

func (t *memTx) ListStaleOrders(_ context.Context, status model.OrderStatus, before time.Time, limit int) ([]model.Order, error) {
	res := t.visibleOrders(func(o *model.Order) bool {
		return o.Status == status && o.CreatedAt.Before(before)
	})

	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func copyDispute(d *model.Dispute) *model.Dispute {
	cp := *d
	return &cp
}

func (t *memTx) InsertDispute(ctx context.Context, d *model.Dispute) error {
	if _, err := t.GetPendingDispute(ctx, d.OrderID); err == nil {
		return fmt.Errorf("%w: order %s", model.ErrDisputeExists, d.OrderID)
	}
	t.disputes[d.ID] = copyDispute(d)
	t.newDisputes[d.ID] = true
	return nil
}

func (t *memTx) GetDispute(ctx context.Context, id uuid.UUID, forUpdate bool) (*model.Dispute, error) {
	if forUpdate {
		if err := t.lock(ctx, "dispute:"+id.String()); err != nil {
			return nil, err
		}
	}

	if d, ok := t.disputes[id]; ok {
		return copyDispute(d), nil
	}

	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	d, ok := t.s.disputes[id]
	if !ok {
		return nil, fmt.Errorf("dispute: %w", model.ErrNotFound)
	}
	return copyDispute(d), nil
}

func (t *memTx) visibleDisputes(match func(d *model.Dispute) bool) []model.Dispute {
	seen := make(map[uuid.UUID]bool)
	var res []model.Dispute

	for id, d := range t.disputes {
		seen[id] = true
		if match(d) {
			res = append(res, *d)
		}
	}

	t.s.mu.RLock()
	for id, d := range t.s.disputes {
		if !seen[id] && match(d) {
			res = append(res, *d)
		}
	}
	t.s.mu.RUnlock()
	return res
}

func (t *memTx) GetPendingDispute(_ context.Context, orderID uuid.UUID) (*model.Dispute, error) {
	res := t.visibleDisputes(func(d *model.Dispute) bool {
		return d.OrderID == orderID && d.Resolution == model.ResolutionPending
	})
	if len(res) == 0 {
		return nil, fmt.Errorf("dispute: %w", model.ErrNotFound)
	}
	return &res[0], nil
}

func (t *memTx) UpdateDispute(ctx context.Context, d *model.Dispute) error {
	if _, err := t.GetDispute(ctx, d.ID, false); err != nil {
		return err
	}
	t.disputes[d.ID] = copyDispute(d)
	return nil
}

func (t *memTx) ListDisputes(_ context.Context, accountID int64, limit int) ([]model.Dispute, error) {
	res := t.visibleDisputes(func(d *model.Dispute) bool {
		return d.OpenedBy == accountID || d.RespondentID == accountID
	})

	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (t *memTx) InsertListing(_ context.Context, l *model.Listing) error {
	cp := *l
	t.listings[l.ID] = &cp
	return nil
}

func (t *memTx) GetListing(_ context.Context, id uuid.UUID) (*model.Listing, error) {
	if l, ok := t.listings[id]; ok {
		cp := *l
		return &cp, nil
	}

	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	l, ok := t.s.listings[id]
	if !ok {
		return nil, fmt.Errorf("listing: %w", model.ErrNotFound)
	}
	cp := *l
	return &cp, nil
}

func (t *memTx) UpdateListing(ctx context.Context, l *model.Listing) error {
	if _, err := t.GetListing(ctx, l.ID); err != nil {
		return err
	}
	cp := *l
	t.listings[l.ID] = &cp
	return nil
}

func (t *memTx) ListListings(_ context.Context, sellerID int64) ([]model.Listing, error) {
	seen := make(map[uuid.UUID]bool)
	var res []model.Listing

	for id, l := range t.listings {
		seen[id] = true
		if l.SellerID == sellerID {
			res = append(res, *l)
		}
	}

	t.s.mu.RLock()
	for id, l := range t.s.listings {
		if !seen[id] && l.SellerID == sellerID {
			res = append(res, *l)
		}
	}
	t.s.mu.RUnlock()

	sort.Slice(res, func(i, j int) bool {
		if !res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].CreatedAt.After(res[j].CreatedAt)
		}
		return res[i].ID.String() > res[j].ID.String()
	})
	return res, nil
}

func (t *memTx) InsertReview(_ context.Context, r *model.Review) error {
	dup := func(other *model.Review) bool {
		return other.OrderID == r.OrderID && other.ReviewerID == r.ReviewerID
	}
	for _, other := range t.reviews {
		if dup(other) {
			return fmt.Errorf("%w: order %s", model.ErrReviewExists, r.OrderID)
		}
	}

	t.s.mu.RLock()
	for _, other := range t.s.reviews {
		if dup(other) {
			t.s.mu.RUnlock()
			return fmt.Errorf("%w: order %s", model.ErrReviewExists, r.OrderID)
		}
	}
	t.s.mu.RUnlock()

	cp := *r
	t.reviews[r.ID] = &cp
	return nil
}

func (t *memTx) ListReviews(_ context.Context, revieweeID int64, limit int) ([]model.Review, error) {
	var res []model.Review
	for _, r := range t.reviews {
		if r.RevieweeID == revieweeID {
			res = append(res, *r)
		}
	}

	t.s.mu.RLock()
	for _, r := range t.s.reviews {
		if r.RevieweeID == revieweeID {
			res = append(res, *r)
		}
	}
	t.s.mu.RUnlock()

	sort.Slice(res, func(i, j int) bool {
		if !res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].CreatedAt.After(res[j].CreatedAt)
		}
		return res[i].ID.String() > res[j].ID.String()
	})
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}
