package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/parleyhq/parley/pkg/config"
)

// PostgresStore persists users in a single table. UpdateUsage is a single
// UPDATE statement, so the upsert contract holds without extra locking.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresDB opens and pings a postgres connection.
func NewPostgresDB(cfg config.PostgresConfig) (*sqlx.DB, error) {
	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName)

	db, err := sqlx.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return db, nil
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type userRow struct {
	ID                string         `db:"id"`
	Plan              string         `db:"plan"`
	Status            string         `db:"status"`
	UsePersonalAPIKey bool           `db:"use_personal_api_key"`
	PersonalAPIKey    sql.NullString `db:"personal_api_key"`
	TokensUsed        int64          `db:"tokens_used"`
	RequestsToday     int            `db:"requests_today"`
	LastRequestDate   sql.NullString `db:"last_request_date"`
	CreatedAt         sql.NullTime   `db:"created_at"`
}

func (r userRow) toUser() *User {
	u := &User{
		ID:     r.ID,
		Plan:   r.Plan,
		Status: r.Status,
		Settings: Settings{
			UsePersonalAPIKey: r.UsePersonalAPIKey,
			PersonalAPIKey:    r.PersonalAPIKey.String,
		},
		Usage: UsageRecord{
			TokensUsed:      r.TokensUsed,
			RequestsToday:   r.RequestsToday,
			LastRequestDate: r.LastRequestDate.String,
		},
	}
	if r.CreatedAt.Valid {
		u.CreatedAt = r.CreatedAt.Time
	}
	return u
}

const userColumns = `id, plan, status, use_personal_api_key, personal_api_key,
	tokens_used, requests_today, last_request_date, created_at`

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	var row userRow
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	return row.toUser(), nil
}

func (s *PostgresStore) PutUser(ctx context.Context, u *User) error {
	query := `
		INSERT INTO users (id, plan, status, use_personal_api_key, personal_api_key,
			tokens_used, requests_today, last_request_date, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, NULLIF($8, ''), NOW())
		ON CONFLICT (id) DO UPDATE SET
			plan = EXCLUDED.plan,
			status = EXCLUDED.status,
			use_personal_api_key = EXCLUDED.use_personal_api_key,
			personal_api_key = EXCLUDED.personal_api_key
	`

	_, err := s.db.ExecContext(ctx, query,
		u.ID, u.Plan, u.Status,
		u.Settings.UsePersonalAPIKey, u.Settings.PersonalAPIKey,
		u.Usage.TokensUsed, u.Usage.RequestsToday, u.Usage.LastRequestDate)
	if err != nil {
		return fmt.Errorf("put user %s: %w", u.ID, err)
	}
	return nil
}

func (s *PostgresStore) UpdateUsage(ctx context.Context, id string, rec UsageRecord) error {
	query := `
		UPDATE users
		SET tokens_used = $2, requests_today = $3, last_request_date = NULLIF($4, '')
		WHERE id = $1
	`

	res, err := s.db.ExecContext(ctx, query, id, rec.TokensUsed, rec.RequestsToday, rec.LastRequestDate)
	if err != nil {
		return fmt.Errorf("update usage for %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]*User, error) {
	query := `SELECT ` + userColumns + ` FROM users ORDER BY id`

	var rows []userRow
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	out := make([]*User, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toUser())
	}
	return out, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
