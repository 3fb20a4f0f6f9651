// internal/storage/postgres.go
// PostgreSQL implementation of the Store interface.
// This implementation is intended for production use with persistent data storage.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reelgate/climaxpay-go/internal/model"
)

// postgres provides persistent storage for the catalog, users and payments.
type postgres struct {
	db *pgxpool.Pool // Connection pool to PostgreSQL database
}

// NewPostgres creates a new PostgreSQL storage implementation.
// It establishes a connection pool to the database and initializes the schema.
func NewPostgres(dsn string) (Store, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid database DSN: %w", err)
	}

	config.MaxConns = 20
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute
	config.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &postgres{db: pool}, nil
}

// initSchema creates all required tables and indexes if they don't already exist.
func initSchema(ctx context.Context, db *pgxpool.Pool) error {
	schema := `
		CREATE TABLE IF NOT EXISTS contents (
		    id TEXT PRIMARY KEY,
		    title TEXT NOT NULL,
		    description TEXT NOT NULL DEFAULT '',
		    video_url TEXT NOT NULL,
		    thumbnail TEXT NOT NULL DEFAULT '',
		    duration_seconds DOUBLE PRECISION NOT NULL,
		    climax_seconds DOUBLE PRECISION NOT NULL CHECK (climax_seconds >= 0),
		    premium_price BIGINT NOT NULL CHECK (premium_price >= 0),
		    category TEXT NOT NULL DEFAULT '',
		    genre TEXT[] NOT NULL DEFAULT '{}',
		    is_active BOOLEAN NOT NULL DEFAULT TRUE,
		    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		    CHECK (climax_seconds <= duration_seconds)
		);
		CREATE INDEX IF NOT EXISTS idx_contents_active_created ON contents(is_active, created_at DESC);

		CREATE TABLE IF NOT EXISTS users (
		    id TEXT PRIMARY KEY,
		    email TEXT NOT NULL,
		    password_hash TEXT NOT NULL,
		    role TEXT NOT NULL DEFAULT 'user',
		    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		);
		CREATE UNIQUE INDEX IF NOT EXISTS ux_users_email ON users(LOWER(email));

		CREATE TABLE IF NOT EXISTS payments (
		    id TEXT PRIMARY KEY,
		    transaction_id TEXT NOT NULL UNIQUE,
		    user_id TEXT NOT NULL,
		    content_id TEXT NOT NULL REFERENCES contents(id),
		    amount BIGINT NOT NULL,
		    currency TEXT NOT NULL,
		    status TEXT NOT NULL CHECK (status IN ('pending', 'approved', 'declined')),
		    gateway TEXT NOT NULL,
		    order_ref TEXT NOT NULL DEFAULT '',
		    provider_ref TEXT NOT NULL DEFAULT '',
		    reason TEXT NOT NULL DEFAULT '',
		    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		    confirmed_at TIMESTAMP WITH TIME ZONE
		);

		-- At most one pending or approved record per (user, content)
		CREATE UNIQUE INDEX IF NOT EXISTS ux_payments_active_pair
		    ON payments(user_id, content_id) WHERE status IN ('pending', 'approved');
		CREATE UNIQUE INDEX IF NOT EXISTS ux_payments_order_ref
		    ON payments(gateway, order_ref) WHERE order_ref <> '';
		CREATE INDEX IF NOT EXISTS idx_payments_status_created ON payments(status, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_payments_user ON payments(user_id, created_at DESC);

		CREATE TABLE IF NOT EXISTS webhook_events (
		    gateway TEXT NOT NULL,
		    event_id TEXT NOT NULL,
		    processed_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		    PRIMARY KEY (gateway, event_id)
		);

		CREATE TABLE IF NOT EXISTS idempotency (
		    key_hash TEXT PRIMARY KEY,
		    response_body BYTEA NOT NULL,
		    response_status INTEGER NOT NULL,
		    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		    expires_at TIMESTAMP WITH TIME ZONE NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_idempotency_expires_at ON idempotency(expires_at);
	`

	_, err := db.Exec(ctx, schema)
	return err
}

// Close closes the database connection pool
func (p *postgres) Close() {
	p.db.Close()
}

func (p *postgres) Ping(ctx context.Context) error {
	return p.db.Ping(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

const contentColumns = `id, title, description, video_url, thumbnail, duration_seconds, climax_seconds,
	premium_price, category, genre, is_active, created_at, updated_at`

func scanContent(row pgx.Row) (*model.ContentItem, error) {
	var c model.ContentItem
	err := row.Scan(&c.ID, &c.Title, &c.Description, &c.VideoURL, &c.Thumbnail, &c.DurationSeconds,
		&c.ClimaxTimestampSeconds, &c.PremiumPrice, &c.Category, &c.Genre, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (p *postgres) CreateContent(ctx context.Context, item model.ContentItem) error {
	query := `INSERT INTO contents (` + contentColumns + `) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`
	_, err := p.db.Exec(ctx, query, item.ID, item.Title, item.Description, item.VideoURL, item.Thumbnail,
		item.DurationSeconds, item.ClimaxTimestampSeconds, item.PremiumPrice, item.Category, nonNilStrings(item.Genre),
		item.IsActive, item.CreatedAt, item.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("failed to create content: %w", err)
	}
	return nil
}

func (p *postgres) UpdateContent(ctx context.Context, item model.ContentItem) error {
	query := `UPDATE contents SET title=$2, description=$3, video_url=$4, thumbnail=$5, duration_seconds=$6,
		climax_seconds=$7, premium_price=$8, category=$9, genre=$10, is_active=$11, updated_at=$12
		WHERE id=$1`
	tag, err := p.db.Exec(ctx, query, item.ID, item.Title, item.Description, item.VideoURL, item.Thumbnail,
		item.DurationSeconds, item.ClimaxTimestampSeconds, item.PremiumPrice, item.Category, nonNilStrings(item.Genre),
		item.IsActive, item.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update content: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *postgres) GetContent(ctx context.Context, id string) (*model.ContentItem, error) {
	c, err := scanContent(p.db.QueryRow(ctx, `SELECT `+contentColumns+` FROM contents WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get content: %w", err)
	}
	return c, nil
}

func (p *postgres) ListContents(ctx context.Context, query model.ContentQuery) ([]model.ContentItem, error) {
	var (
		conds []string
		args  []any
	)
	if !query.IncludeInactive {
		conds = append(conds, "is_active")
	}
	if query.Category != "" {
		args = append(args, query.Category)
		conds = append(conds, fmt.Sprintf("category = $%d", len(args)))
	}
	if query.Genre != "" {
		args = append(args, query.Genre)
		conds = append(conds, fmt.Sprintf("$%d ILIKE ANY(genre)", len(args)))
	}

	sql := `SELECT ` + contentColumns + ` FROM contents`
	if len(conds) > 0 {
		sql += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, clampLimit(query.Limit, 50, 200), max(query.Offset, 0))
	sql += fmt.Sprintf(" ORDER BY created_at DESC, id ASC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := p.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list contents: %w", err)
	}
	defer rows.Close()

	items := make([]model.ContentItem, 0)
	for rows.Next() {
		c, err := scanContent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan content: %w", err)
		}
		items = append(items, *c)
	}
	return items, rows.Err()
}

func (p *postgres) CreateUser(ctx context.Context, user model.User) error {
	_, err := p.db.Exec(ctx,
		`INSERT INTO users (id, email, password_hash, role, created_at) VALUES ($1, $2, $3, $4, $5)`,
		user.ID, user.Email, user.PasswordHash, string(user.Role), user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (p *postgres) getUser(ctx context.Context, where string, arg string) (*model.User, error) {
	var u model.User
	var role string
	err := p.db.QueryRow(ctx, `SELECT id, email, password_hash, role, created_at FROM users WHERE `+where, arg).
		Scan(&u.ID, &u.Email, &u.PasswordHash, &role, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	u.Role = model.Role(role)
	return &u, nil
}

func (p *postgres) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return p.getUser(ctx, "LOWER(email) = LOWER($1)", email)
}

func (p *postgres) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	return p.getUser(ctx, "id = $1", id)
}

const paymentColumns = `id, transaction_id, user_id, content_id, amount, currency, status, gateway,
	order_ref, provider_ref, reason, created_at, updated_at, confirmed_at`

func scanPayment(row pgx.Row) (*model.PaymentRecord, error) {
	var rec model.PaymentRecord
	var status string
	err := row.Scan(&rec.ID, &rec.TransactionID, &rec.UserID, &rec.ContentID, &rec.Amount, &rec.Currency,
		&status, &rec.Gateway, &rec.OrderRef, &rec.ProviderRef, &rec.Reason, &rec.CreatedAt, &rec.UpdatedAt,
		&rec.ConfirmedAt)
	if err != nil {
		return nil, err
	}
	rec.Status = model.PaymentStatus(status)
	return &rec, nil
}

func (p *postgres) getPayment(ctx context.Context, where string, args ...any) (*model.PaymentRecord, error) {
	rec, err := scanPayment(p.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE `+where, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return rec, nil
}

func (p *postgres) CreatePayment(ctx context.Context, rec model.PaymentRecord) error {
	query := `INSERT INTO payments (` + paymentColumns + `) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`
	_, err := p.db.Exec(ctx, query, rec.ID, rec.TransactionID, rec.UserID, rec.ContentID, rec.Amount, rec.Currency,
		string(rec.Status), rec.Gateway, rec.OrderRef, rec.ProviderRef, rec.Reason, rec.CreatedAt, rec.UpdatedAt,
		rec.ConfirmedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

func (p *postgres) GetPayment(ctx context.Context, transactionID string) (*model.PaymentRecord, error) {
	return p.getPayment(ctx, "transaction_id = $1", transactionID)
}

func (p *postgres) GetPaymentByOrderRef(ctx context.Context, gateway, orderRef string) (*model.PaymentRecord, error) {
	if orderRef == "" {
		return nil, ErrNotFound
	}
	return p.getPayment(ctx, "gateway = $1 AND order_ref = $2", gateway, orderRef)
}

func (p *postgres) SetPaymentOrderRef(ctx context.Context, transactionID, orderRef string) error {
	tag, err := p.db.Exec(ctx, `UPDATE payments SET order_ref = $2, updated_at = $3 WHERE transaction_id = $1`,
		transactionID, orderRef, time.Now().UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("failed to set order ref: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *postgres) FindActivePayment(ctx context.Context, userID, contentID string) (*model.PaymentRecord, error) {
	return p.getPayment(ctx, "user_id = $1 AND content_id = $2 AND status IN ('pending', 'approved')", userID, contentID)
}

// TransitionPayment performs the status change in a single conditional UPDATE
// so that racing confirmations cannot both apply.
func (p *postgres) TransitionPayment(ctx context.Context, transactionID string, t model.Transition) (*model.PaymentRecord, error) {
	from := make([]string, len(t.From))
	for i, s := range t.From {
		from[i] = string(s)
	}
	now := time.Now().UTC()
	var confirmed *time.Time
	if t.To != model.StatusPending {
		confirmed = &now
	}
	reason := ""
	if t.To == model.StatusDeclined {
		reason = t.Reason
	}

	query := `UPDATE payments SET
		    status = $3,
		    reason = $4,
		    provider_ref = CASE WHEN $5 = '' THEN provider_ref ELSE $5 END,
		    updated_at = $6,
		    confirmed_at = COALESCE($7, confirmed_at)
		WHERE transaction_id = $1 AND status = ANY($2)
		RETURNING ` + paymentColumns
	rec, err := scanPayment(p.db.QueryRow(ctx, query, transactionID, from, string(t.To), reason, t.ProviderRef, now, confirmed))
	if err == nil {
		return rec, nil
	}
	if isUniqueViolation(err) {
		return nil, ErrConflict
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to transition payment: %w", err)
	}

	current, err := p.GetPayment(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	return current, ErrStaleStatus
}

func (p *postgres) ListPayments(ctx context.Context, query model.PaymentQuery) ([]model.PaymentRecord, error) {
	var (
		conds []string
		args  []any
	)
	if query.UserID != "" {
		args = append(args, query.UserID)
		conds = append(conds, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if query.ContentID != "" {
		args = append(args, query.ContentID)
		conds = append(conds, fmt.Sprintf("content_id = $%d", len(args)))
	}
	if query.Status != "" {
		args = append(args, string(query.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	sql := `SELECT ` + paymentColumns + ` FROM payments`
	if len(conds) > 0 {
		sql += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, clampLimit(query.Limit, 100, 1000))
	sql += fmt.Sprintf(" ORDER BY created_at DESC, transaction_id DESC LIMIT $%d", len(args))

	rows, err := p.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	out := make([]model.PaymentRecord, 0)
	for rows.Next() {
		rec, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (p *postgres) CountPaymentsForContent(ctx context.Context, contentID string) (int, error) {
	var n int
	if err := p.db.QueryRow(ctx, `SELECT COUNT(*) FROM payments WHERE content_id = $1`, contentID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count payments: %w", err)
	}
	return n, nil
}

func (p *postgres) WebhookProcessed(ctx context.Context, gateway, eventID string) (bool, error) {
	var exists bool
	err := p.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM webhook_events WHERE gateway = $1 AND event_id = $2)`, gateway, eventID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to look up webhook event: %w", err)
	}
	return exists, nil
}

func (p *postgres) MarkWebhookProcessed(ctx context.Context, gateway, eventID string) error {
	tag, err := p.db.Exec(ctx,
		`INSERT INTO webhook_events (gateway, event_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, gateway, eventID)
	if err != nil {
		return fmt.Errorf("failed to record webhook event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// StoreIdempotentResponse stores an idempotent response, replacing an expired entry
func (p *postgres) StoreIdempotentResponse(ctx context.Context, keyHash string, responseBody []byte, statusCode int, expiresAt time.Time) error {
	query := `INSERT INTO idempotency (key_hash, response_body, response_status, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key_hash) DO UPDATE
		SET response_body = EXCLUDED.response_body, response_status = EXCLUDED.response_status,
		    expires_at = EXCLUDED.expires_at, created_at = NOW()
		WHERE idempotency.expires_at < NOW()`
	if _, err := p.db.Exec(ctx, query, keyHash, responseBody, statusCode, expiresAt); err != nil {
		return fmt.Errorf("failed to store idempotent response: %w", err)
	}
	return nil
}

// GetIdempotentResponse retrieves a cached idempotent response that has not expired
func (p *postgres) GetIdempotentResponse(ctx context.Context, keyHash string) ([]byte, int, error) {
	var (
		body   []byte
		status int
	)
	err := p.db.QueryRow(ctx,
		`SELECT response_body, response_status FROM idempotency WHERE key_hash = $1 AND expires_at > $2`,
		keyHash, time.Now().UTC()).Scan(&body, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, fmt.Errorf("failed to get idempotent response: %w", err)
	}
	return body, status, nil
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
