package purchase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"cntrlx-store/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type postgresRepo struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewPostgres(pool *pgxpool.Pool, logger *slog.Logger) Repository {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &postgresRepo{pool: pool, logger: logger.With("component", "purchase_repo")}
}

const selectColumns = `id::text, user_id, session_id, items, created_at`

func (r *postgresRepo) Insert(ctx context.Context, in CreateInput) (*domain.Purchase, bool, error) {
	items := in.Items
	if items == nil {
		items = []domain.PurchasedItem{}
	}
	payload, err := json.Marshal(items)
	if err != nil {
		return nil, false, fmt.Errorf("encode items: %w", err)
	}

	const q = `
INSERT INTO purchases (user_id, session_id, items, created_at)
VALUES ($1, $2, $3, COALESCE($4, now()))
ON CONFLICT (user_id, session_id) DO NOTHING
RETURNING ` + selectColumns
	var createdAt any
	if !in.CreatedAt.IsZero() {
		createdAt = in.CreatedAt
	}

	p, err := scanPurchase(r.pool.QueryRow(ctx, q, in.UserID, in.SessionID, payload, createdAt))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.logger.InfoContext(ctx, "purchase already recorded", "user_id", in.UserID, "session_id", in.SessionID)
			existing, getErr := r.Get(ctx, in.UserID, in.SessionID)
			if getErr != nil {
				return nil, false, getErr
			}
			return existing, false, nil
		}
		// A concurrent writer can still surface the unique violation.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			existing, getErr := r.Get(ctx, in.UserID, in.SessionID)
			if getErr != nil {
				return nil, false, getErr
			}
			return existing, false, nil
		}
		r.logger.ErrorContext(ctx, "insert purchase", "user_id", in.UserID, "session_id", in.SessionID, "error", err)
		return nil, false, err
	}
	r.logger.InfoContext(ctx, "purchase recorded", "user_id", in.UserID, "session_id", in.SessionID, "items", len(p.Items))
	return p, true, nil
}

func (r *postgresRepo) Get(ctx context.Context, userID, sessionID string) (*domain.Purchase, error) {
	const q = `SELECT ` + selectColumns + ` FROM purchases WHERE user_id = $1 AND session_id = $2`
	p, err := scanPurchase(r.pool.QueryRow(ctx, q, userID, sessionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

func (r *postgresRepo) ListByUser(ctx context.Context, userID string) ([]domain.Purchase, error) {
	const q = `SELECT ` + selectColumns + ` FROM purchases WHERE user_id = $1 ORDER BY created_at DESC, id`
	rows, err := r.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Purchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func scanPurchase(row pgx.Row) (*domain.Purchase, error) {
	var (
		p   domain.Purchase
		raw []byte
	)
	if err := row.Scan(&p.ID, &p.UserID, &p.SessionID, &raw, &p.CreatedAt); err != nil {
		return nil, err
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p.Items); err != nil {
			// Rows predating the items array hold arbitrary JSON; they derive no flags.
			p.Items = nil
		}
	}
	return &p, nil
}
