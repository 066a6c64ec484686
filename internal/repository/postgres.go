package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/warmconnects/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var retryDelays = []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// InTx выполняет fn в транзакции. Конфликты сериализации, взаимоблокировки и обрывы соединения
// приводят к повтору всей транзакции; после исчерпания попыток сбой соединения оборачивается в ErrUnavailable.
func (r *PostgresRepository) InTx(ctx context.Context, fn func(tx Tx) error) error {
	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		if err := fn(&pgTx{tx: tx}); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
	if err != nil && isConnectionError(err) {
		return fmt.Errorf("%w: %v", model.ErrUnavailable, err)
	}
	return err
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error

	for i := 0; i <= len(retryDelays); i++ {
		err = fn()
		if err == nil || i == len(retryDelays) {
			return err
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		if !isRetryable(err) {
			return err
		}

		timer := time.NewTimer(retryDelays[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
	return err
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}
	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset by peer")
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation &&
		(constraint == "" || pgErr.ConstraintName == constraint)
}

// Ping проверяет доступность базы данных.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", model.ErrUnavailable, err)
	}
	return nil
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) CreateAccount(ctx context.Context, login string, passwordHash []byte, caps model.Capabilities) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO users (login, password_hash, can_buy, can_sell, can_arbitrate) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		login, passwordHash, caps.CanBuy, caps.CanSell, caps.CanArbitrate,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err, "") {
			return 0, fmt.Errorf("%w: %s", model.ErrUserExists, login)
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

const accountColumns = `id, login, password_hash, can_buy, can_sell, can_arbitrate, active, created_at`

func scanAccount(row pgx.Row) (*model.Account, error) {
	var a model.Account
	err := row.Scan(&a.ID, &a.Login, &a.PasswordHash,
		&a.Capabilities.CanBuy, &a.Capabilities.CanSell, &a.Capabilities.CanArbitrate,
		&a.Active, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("account: %w", model.ErrNotFound)
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	return &a, nil
}

func (t *pgTx) GetAccount(ctx context.Context, id int64) (*model.Account, error) {
	return scanAccount(t.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM users WHERE id = $1`, id))
}

func (t *pgTx) GetAccountByLogin(ctx context.Context, login string) (*model.Account, error) {
	return scanAccount(t.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM users WHERE login = $1`, login))
}

func (t *pgTx) SetAccountActive(ctx context.Context, id int64, active bool) error {
	tag, err := t.tx.Exec(ctx, `UPDATE users SET active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("account %d: %w", id, model.ErrNotFound)
	}
	return nil
}

// LockAccount блокирует строку пользователя для сериализации проверок баланса.
func (t *pgTx) LockAccount(ctx context.Context, id int64) error {
	var dummy int
	err := t.tx.QueryRow(ctx, `SELECT 1 FROM users WHERE id = $1 FOR UPDATE`, id).Scan(&dummy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("account %d: %w", id, model.ErrNotFound)
		}
		return fmt.Errorf("lock user for update: %w", err)
	}
	return nil
}

func (t *pgTx) InsertEntry(ctx context.Context, e *model.LedgerEntry) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO ledger_entries (id, account_id, order_id, amount, kind, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.AccountID, e.OrderID, int64(e.Amount), string(e.Kind), e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

func (t *pgTx) sumByKind(ctx context.Context, query string, args ...any) (map[model.EntryKind]model.Money, error) {
	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sum entries: %w", err)
	}
	defer rows.Close()

	res := make(map[model.EntryKind]model.Money)
	for rows.Next() {
		var (
			kind string
			sum  int64
		)
		if err := rows.Scan(&kind, &sum); err != nil {
			return nil, fmt.Errorf("scan sum: %w", err)
		}
		res[model.EntryKind(kind)] = model.Money(sum)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

func (t *pgTx) SumByKind(ctx context.Context, accountID int64, asOf time.Time) (map[model.EntryKind]model.Money, error) {
	return t.sumByKind(ctx,
		`SELECT kind, SUM(amount)::BIGINT FROM ledger_entries
		 WHERE account_id = $1 AND created_at <= $2
		 GROUP BY kind`,
		accountID, asOf,
	)
}

func (t *pgTx) SumOrderByKind(ctx context.Context, orderID uuid.UUID) (map[model.EntryKind]model.Money, error) {
	return t.sumByKind(ctx,
		`SELECT kind, SUM(amount)::BIGINT FROM ledger_entries WHERE order_id = $1 GROUP BY kind`,
		orderID,
	)
}

func (t *pgTx) ListEntries(ctx context.Context, accountID int64, limit int) ([]model.LedgerEntry, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT id, account_id, order_id, amount, kind, created_at
		 FROM ledger_entries
		 WHERE account_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`,
		accountID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select entries: %w", err)
	}
	defer rows.Close()

	var res []model.LedgerEntry
	for rows.Next() {
		var (
			e       model.LedgerEntry
			orderID pgtype.UUID
			amount  int64
			kind    string
		)
		if err := rows.Scan(&e.ID, &e.AccountID, &orderID, &amount, &kind, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		if orderID.Valid {
			id := uuid.UUID(orderID.Bytes)
			e.OrderID = &id
		}
		e.Amount = model.Money(amount)
		e.Kind = model.EntryKind(kind)
		res = append(res, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

func (t *pgTx) InsertHold(ctx context.Context, h *model.EscrowHold) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO escrow_holds (order_id, buyer_id, seller_id, amount, status, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		h.OrderID, h.BuyerID, h.SellerID, int64(h.Amount), string(h.Status), h.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "") {
			return fmt.Errorf("%w: hold for order %s already exists", model.ErrInvalidHoldState, h.OrderID)
		}
		return fmt.Errorf("insert hold: %w", err)
	}
	return nil
}

func (t *pgTx) GetHold(ctx context.Context, orderID uuid.UUID) (*model.EscrowHold, error) {
	var (
		h      model.EscrowHold
		amount int64
		status string
	)
	err := t.tx.QueryRow(ctx,
		`SELECT order_id, buyer_id, seller_id, amount, status, created_at, resolved_at
		 FROM escrow_holds WHERE order_id = $1`,
		orderID,
	).Scan(&h.OrderID, &h.BuyerID, &h.SellerID, &amount, &status, &h.CreatedAt, &h.ResolvedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("hold: %w", model.ErrNotFound)
		}
		return nil, fmt.Errorf("get hold: %w", err)
	}
	h.Amount = model.Money(amount)
	h.Status = model.HoldStatus(status)
	return &h, nil
}

func (t *pgTx) UpdateHold(ctx context.Context, h *model.EscrowHold) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE escrow_holds SET status = $2, resolved_at = $3 WHERE order_id = $1`,
		h.OrderID, string(h.Status), h.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("update hold: %w", err)
	}
	return nil
}

const orderColumns = `id, number, buyer_id, seller_id, service_id, quantity, total_cost, status,
	revision_count, deliverable, revision_note, decline_reason, created_at, updated_at`

func scanOrder(row pgx.Row) (*model.Order, error) {
	var (
		o      model.Order
		total  int64
		status string
	)
	err := row.Scan(&o.ID, &o.Number, &o.BuyerID, &o.SellerID, &o.ServiceID, &o.Quantity, &total, &status,
		&o.RevisionCount, &o.Deliverable, &o.RevisionNote, &o.DeclineReason, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	o.TotalCost = model.Money(total)
	o.Status = model.OrderStatus(status)
	return &o, nil
}

func (t *pgTx) InsertOrder(ctx context.Context, o *model.Order) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO orders (`+orderColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		o.ID, o.Number, o.BuyerID, o.SellerID, o.ServiceID, o.Quantity, int64(o.TotalCost), string(o.Status),
		o.RevisionCount, o.Deliverable, o.RevisionNote, o.DeclineReason, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "orders_number_key") {
			return fmt.Errorf("%w: %s", model.ErrDuplicateNumber, o.Number)
		}
		return fmt.Errorf("insert order: %w", err)
	}

	for _, c := range o.History {
		if err := t.AppendHistory(ctx, o.ID, c); err != nil {
			return err
		}
	}
	return nil
}

func (t *pgTx) loadHistory(ctx context.Context, o *model.Order) error {
	rows, err := t.tx.Query(ctx,
		`SELECT seq, COALESCE(from_status, ''), to_status, event, actor_id, at
		 FROM order_history WHERE order_id = $1 ORDER BY seq`,
		o.ID,
	)
	if err != nil {
		return fmt.Errorf("select history: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			c              model.StatusChange
			from, to, evnt string
		)
		if err := rows.Scan(&c.Seq, &from, &to, &evnt, &c.ActorID, &c.At); err != nil {
			return fmt.Errorf("scan history: %w", err)
		}
		c.From = model.OrderStatus(from)
		c.To = model.OrderStatus(to)
		c.Event = model.OrderEvent(evnt)
		o.History = append(o.History, c)
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows error: %w", err)
	}
	return nil
}

func (t *pgTx) getOrder(ctx context.Context, query string, arg any) (*model.Order, error) {
	o, err := scanOrder(t.tx.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("order: %w", model.ErrNotFound)
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	if err := t.loadHistory(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (t *pgTx) GetOrder(ctx context.Context, id uuid.UUID, forUpdate bool) (*model.Order, error) {
	q := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	if forUpdate {
		q += ` FOR UPDATE`
	}
	return t.getOrder(ctx, q, id)
}

func (t *pgTx) GetOrderByNumber(ctx context.Context, number string) (*model.Order, error) {
	return t.getOrder(ctx, `SELECT `+orderColumns+` FROM orders WHERE number = $1`, number)
}

func (t *pgTx) UpdateOrder(ctx context.Context, o *model.Order) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE orders SET status = $2, revision_count = $3, deliverable = $4, revision_note = $5,
		 decline_reason = $6, updated_at = $7
		 WHERE id = $1`,
		o.ID, string(o.Status), o.RevisionCount, o.Deliverable, o.RevisionNote, o.DeclineReason, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	return nil
}

func (t *pgTx) AppendHistory(ctx context.Context, orderID uuid.UUID, c model.StatusChange) error {
	var from *string
	if c.From != "" {
		s := string(c.From)
		from = &s
	}

	_, err := t.tx.Exec(ctx,
		`INSERT INTO order_history (order_id, seq, from_status, to_status, event, actor_id, at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		orderID, c.Seq, from, string(c.To), string(c.Event), c.ActorID, c.At,
	)
	if err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	return nil
}

func (t *pgTx) queryOrders(ctx context.Context, query string, args ...any) ([]model.Order, error) {
	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	var res []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		res = append(res, *o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

func (t *pgTx) ListOrders(ctx context.Context, f OrderFilter) ([]model.Order, error) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if f.BuyerID != 0 {
		conds = append(conds, "buyer_id = "+arg(f.BuyerID))
	}
	if f.SellerID != 0 {
		conds = append(conds, "seller_id = "+arg(f.SellerID))
	}
	if f.Status != "" {
		conds = append(conds, "status = "+arg(string(f.Status)))
	}
	if f.Cursor != nil {
		conds = append(conds, "(created_at, id) < ("+arg(f.Cursor.CreatedAt)+", "+arg(f.Cursor.ID)+")")
	}

	q := `SELECT ` + orderColumns + ` FROM orders`
	if len(conds) > 0 {
		q += ` WHERE ` + strings.Join(conds, " AND ")
	}
	q += ` ORDER BY created_at DESC, id DESC LIMIT ` + arg(f.Limit)

	return t.queryOrders(ctx, q, args...)
}

func (t *pgTx) ListStaleOrders(ctx context.Context, status model.OrderStatus, before time.Time, limit int) ([]model.Order, error) {
	return t.queryOrders(ctx,
		`SELECT `+orderColumns+` FROM orders
		 WHERE status = $1 AND created_at < $2
		 ORDER BY created_at
		 LIMIT $3`,
		string(status), before, limit,
	)
}

const disputeColumns = `id, number, order_id, opened_by, respondent_id, reason, response, responded_at,
	resolution, resolved_by, created_at, resolved_at`

func scanDispute(row pgx.Row) (*model.Dispute, error) {
	var (
		d          model.Dispute
		resolution string
	)
	err := row.Scan(&d.ID, &d.Number, &d.OrderID, &d.OpenedBy, &d.RespondentID, &d.Reason, &d.Response,
		&d.RespondedAt, &resolution, &d.ResolvedBy, &d.CreatedAt, &d.ResolvedAt)
	if err != nil {
		return nil, err
	}
	d.Resolution = model.Resolution(resolution)
	return &d, nil
}

func (t *pgTx) InsertDispute(ctx context.Context, d *model.Dispute) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO disputes (`+disputeColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		d.ID, d.Number, d.OrderID, d.OpenedBy, d.RespondentID, d.Reason, d.Response, d.RespondedAt,
		string(d.Resolution), d.ResolvedBy, d.CreatedAt, d.ResolvedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "disputes_one_pending_idx") {
			return fmt.Errorf("%w: order %s", model.ErrDisputeExists, d.OrderID)
		}
		return fmt.Errorf("insert dispute: %w", err)
	}
	return nil
}

func (t *pgTx) getDispute(ctx context.Context, query string, arg any) (*model.Dispute, error) {
	d, err := scanDispute(t.tx.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("dispute: %w", model.ErrNotFound)
		}
		return nil, fmt.Errorf("get dispute: %w", err)
	}
	return d, nil
}

func (t *pgTx) GetDispute(ctx context.Context, id uuid.UUID, forUpdate bool) (*model.Dispute, error) {
	q := `SELECT ` + disputeColumns + ` FROM disputes WHERE id = $1`
	if forUpdate {
		q += ` FOR UPDATE`
	}
	return t.getDispute(ctx, q, id)
}

func (t *pgTx) GetPendingDispute(ctx context.Context, orderID uuid.UUID) (*model.Dispute, error) {
	return t.getDispute(ctx,
		`SELECT `+disputeColumns+` FROM disputes WHERE order_id = $1 AND resolution = 'pending'`,
		orderID,
	)
}

func (t *pgTx) UpdateDispute(ctx context.Context, d *model.Dispute) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE disputes SET response = $2, responded_at = $3, resolution = $4, resolved_by = $5, resolved_at = $6
		 WHERE id = $1`,
		d.ID, d.Response, d.RespondedAt, string(d.Resolution), d.ResolvedBy, d.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("update dispute: %w", err)
	}
	return nil
}

func (t *pgTx) ListDisputes(ctx context.Context, accountID int64, limit int) ([]model.Dispute, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT `+disputeColumns+` FROM disputes
		 WHERE opened_by = $1 OR respondent_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		accountID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select disputes: %w", err)
	}
	defer rows.Close()

	var res []model.Dispute
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dispute: %w", err)
		}
		res = append(res, *d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

func (t *pgTx) InsertListing(ctx context.Context, l *model.Listing) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO listings (id, seller_id, title, price, active, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		l.ID, l.SellerID, l.Title, int64(l.Price), l.Active, l.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert listing: %w", err)
	}
	return nil
}

const listingColumns = `id, seller_id, title, price, active, created_at`

func scanListing(row pgx.Row) (*model.Listing, error) {
	var (
		l     model.Listing
		price int64
	)
	if err := row.Scan(&l.ID, &l.SellerID, &l.Title, &price, &l.Active, &l.CreatedAt); err != nil {
		return nil, err
	}
	l.Price = model.Money(price)
	return &l, nil
}

func (t *pgTx) GetListing(ctx context.Context, id uuid.UUID) (*model.Listing, error) {
	l, err := scanListing(t.tx.QueryRow(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("listing: %w", model.ErrNotFound)
		}
		return nil, fmt.Errorf("get listing: %w", err)
	}
	return l, nil
}

func (t *pgTx) UpdateListing(ctx context.Context, l *model.Listing) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE listings SET title = $2, price = $3, active = $4 WHERE id = $1`,
		l.ID, l.Title, int64(l.Price), l.Active,
	)
	if err != nil {
		return fmt.Errorf("update listing: %w", err)
	}
	return nil
}

func (t *pgTx) ListListings(ctx context.Context, sellerID int64) ([]model.Listing, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT `+listingColumns+` FROM listings WHERE seller_id = $1 ORDER BY created_at DESC, id DESC`,
		sellerID,
	)
	if err != nil {
		return nil, fmt.Errorf("select listings: %w", err)
	}
	defer rows.Close()

	var res []model.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("scan listing: %w", err)
		}
		res = append(res, *l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

func (t *pgTx) InsertReview(ctx context.Context, r *model.Review) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO reviews (id, order_id, reviewer_id, reviewee_id, reviewer_role, rating, review_text, would_work_again, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		r.ID, r.OrderID, r.ReviewerID, r.RevieweeID, string(r.ReviewerRole), r.Rating, r.Text, r.WouldWorkAgain, r.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "reviews_order_reviewer_key") {
			return fmt.Errorf("%w: order %s", model.ErrReviewExists, r.OrderID)
		}
		return fmt.Errorf("insert review: %w", err)
	}
	return nil
}

func (t *pgTx) ListReviews(ctx context.Context, revieweeID int64, limit int) ([]model.Review, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT id, order_id, reviewer_id, reviewee_id, reviewer_role, rating, review_text, would_work_again, created_at
		 FROM reviews
		 WHERE reviewee_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`,
		revieweeID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select reviews: %w", err)
	}
	defer rows.Close()

	var res []model.Review
	for rows.Next() {
		var (
			r    model.Review
			role string
		)
		if err := rows.Scan(&r.ID, &r.OrderID, &r.ReviewerID, &r.RevieweeID, &role, &r.Rating, &r.Text,
			&r.WouldWorkAgain, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		r.ReviewerRole = model.ReviewerRole(role)
		res = append(res, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}
