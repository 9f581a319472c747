package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"html2image/internal/tokens"
)

const (
	schemaTimeout = 5 * time.Second
	queryTimeout  = 5 * time.Second
)

var schemaDDL = []string{
	`CREATE TABLE IF NOT EXISTS tokens (
		token TEXT PRIMARY KEY,
		rate_limit INTEGER NOT NULL DEFAULT 60,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		comment TEXT
	);`,
	`CREATE INDEX IF NOT EXISTS idx_tokens_created_at ON tokens (created_at);`,
}

// Ensure TokenRepository implements tokens.Repository
var _ tokens.Repository = (*TokenRepository)(nil)

// TokenRepository reads the tokens table.
type TokenRepository struct {
	DB  *DB
	DSN string
}

func NewTokenRepository(db *DB, dsn string) *TokenRepository {
	return &TokenRepository{DB: db, DSN: dsn}
}

func ensureSchema(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, schemaTimeout)
	defer cancel()
	for _, ddl := range schemaDDL {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("ensure tokens schema: %w", err)
		}
	}
	return nil
}

// LoadTokens creates the table if needed and returns every token.
func (r *TokenRepository) LoadTokens(ctx context.Context) (map[string]tokens.Entry, error) {
	db, err := r.DB.Get(r.DSN)
	if err != nil {
		return nil, err
	}
	if err := ensureSchema(ctx, db); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := db.QueryContext(ctx, `SELECT token, rate_limit, comment FROM tokens;`)
	if err != nil {
		return nil, fmt.Errorf("query tokens: %w", err)
	}
	defer rows.Close()

	out := make(map[string]tokens.Entry)
	for rows.Next() {
		var (
			token   string
			limit   int
			comment sql.NullString
		)
		if err := rows.Scan(&token, &limit, &comment); err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}
		out[token] = tokens.Entry{RateLimit: limit, Comment: comment.String}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
