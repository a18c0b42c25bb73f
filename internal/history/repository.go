package history

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	ErrDuplicateOrder = errors.New("order already recorded")
	ErrEntryNotFound  = errors.New("order history entry not found")
)

const (
	StatusPlaced    = "placed"
	StatusCancelled = "cancelled"
)

// Entry is one row of the relational order history projection
type Entry struct {
	OrderID       string             `json:"orderId"`
	UserID        string             `json:"userId"`
	Total         decimal.Decimal    `json:"total"`
	PaymentMethod string             `json:"paymentMethod"`
	PaymentStatus string             `json:"paymentStatus"`
	ItemCount     int                `json:"itemCount"`
	Lines         []domain.OrderLine `json:"lines"`
	Status        string             `json:"status"`
	PlacedAt      time.Time          `json:"placedAt"`
	CancelledAt   *time.Time         `json:"cancelledAt,omitempty"`
}

func EntryFromOrder(o domain.Order) Entry {
	items := 0
	for _, l := range o.Lines {
		items += l.Quantity
	}
	return Entry{
		OrderID:       o.ID,
		UserID:        o.UserID,
		Total:         o.Total,
		PaymentMethod: string(o.PaymentMethod),
		PaymentStatus: string(o.PaymentStatus),
		ItemCount:     items,
		Lines:         o.Lines,
		Status:        StatusPlaced,
		PlacedAt:      o.CreatedAt,
	}
}

type Repository struct {
	db *sql.DB
}

func NewRepository(ctx context.Context, dsn string) (*Repository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to ping database")
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	log.Info("connected to postgres")
	return &Repository{db: db}, nil
}

func (r *Repository) RunMigrations() error {
	driver, err := postgres.WithInstance(r.db, &postgres.Config{
		MigrationsTable: "order_history_schema_migrations",
	})
	if err != nil {
		return errors.Wrap(err, "could not create migration driver")
	}
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return errors.Wrap(err, "could not open embedded migrations")
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return errors.Wrap(err, "could not create migrate instance")
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errors.Wrap(err, "could not run migrations")
	}
	return nil
}

func (r *Repository) RecordCreated(ctx context.Context, e Entry) error {
	linesJSON, err := json.Marshal(e.Lines)
	if err != nil {
		return errors.Wrap(err, "failed to marshal order lines")
	}

	query := `INSERT INTO order_history (order_id, user_id, total, payment_method, payment_status, item_count, lines, status, placed_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err = r.db.ExecContext(ctx, query,
		e.OrderID,
		e.UserID,
		e.Total,
		e.PaymentMethod,
		e.PaymentStatus,
		e.ItemCount,
		linesJSON,
		StatusPlaced,
		e.PlacedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateOrder
		}
		return errors.Wrap(err, "insert order history")
	}
	return nil
}

func (r *Repository) MarkCancelled(ctx context.Context, orderID string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE order_history SET status = $2, cancelled_at = $3 WHERE order_id = $1 AND status <> $2`,
		orderID, StatusCancelled, at)
	if err != nil {
		return errors.Wrap(err, "mark order cancelled")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if n > 0 {
		return nil
	}

	// Either unknown or already cancelled; the latter is a replay
	var status string
	err = r.db.QueryRowContext(ctx, `SELECT status FROM order_history WHERE order_id = $1`, orderID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrEntryNotFound
	}
	return errors.Wrap(err, "query order history status")
}

// List returns entries newest first. An empty userID lists everyone.
func (r *Repository) List(ctx context.Context, userID string, limit int) ([]Entry, error) {
	query := `SELECT order_id, user_id, total, payment_method, payment_status, item_count, lines, status, placed_at, cancelled_at
	          FROM order_history
	          WHERE ($1 = '' OR user_id = $1)
	          ORDER BY placed_at DESC
	          LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query order history")
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var linesJSON []byte
		var cancelledAt sql.NullTime
		if err := rows.Scan(
			&e.OrderID,
			&e.UserID,
			&e.Total,
			&e.PaymentMethod,
			&e.PaymentStatus,
			&e.ItemCount,
			&linesJSON,
			&e.Status,
			&e.PlacedAt,
			&cancelledAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan order history row")
		}
		if err := json.Unmarshal(linesJSON, &e.Lines); err != nil {
			return nil, errors.Wrap(err, "unmarshal order lines")
		}
		if cancelledAt.Valid {
			t := cancelledAt.Time
			e.CancelledAt = &t
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "row iteration error")
	}
	return entries, nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}
