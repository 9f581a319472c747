// Package postgres stores API tokens in Postgres through the pgx
// database/sql driver.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"html2image/internal/config"
)

// DB lazily opens one *sql.DB and replaces it when the DSN changes.
type DB struct {
	mu  sync.Mutex
	dsn string
	db  *sql.DB
}

func NewDB() *DB {
	return &DB{}
}

// Get returns the pool for dsn. Opening does not connect; the first query does.
func (p *DB) Get(dsn string) (*sql.DB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.db != nil && p.dsn == dsn {
		return p.db, nil
	}
	if p.db != nil {
		_ = p.db.Close()
		p.db = nil
		p.dsn = ""
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// This is a small, low-throughput control plane table.
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	p.db = db
	p.dsn = dsn
	return db, nil
}

// Close releases the current pool, if any.
func (p *DB) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.db == nil {
		return nil
	}
	err := p.db.Close()
	p.db = nil
	p.dsn = ""
	return err
}

func port(cfg config.PostgresConfig) int {
	if cfg.Port != 0 {
		return cfg.Port
	}
	return 5432
}

// DSN builds a postgres:// URL from cfg. A host that is already a URL is
// returned unchanged.
func DSN(cfg config.PostgresConfig) (string, error) {
	if strings.HasPrefix(cfg.Host, "postgres://") || strings.HasPrefix(cfg.Host, "postgresql://") {
		return cfg.Host, nil
	}
	if cfg.Host == "" {
		return "", fmt.Errorf("postgres host is empty")
	}
	if cfg.Database == "" {
		return "", fmt.Errorf("postgres database is empty")
	}
	if cfg.User == "" {
		return "", fmt.Errorf("postgres user is empty")
	}

	hostPort := cfg.Host
	p := port(cfg)
	// Handle IPv6 or explicit host:port strings.
	switch {
	case strings.HasPrefix(hostPort, "["):
		if !strings.Contains(hostPort, "]:") {
			hostPort = fmt.Sprintf("%s:%d", hostPort, p)
		}
	case strings.Count(hostPort, ":") >= 2:
		hostPort = fmt.Sprintf("[%s]:%d", hostPort, p)
	case !strings.Contains(hostPort, ":"):
		hostPort = fmt.Sprintf("%s:%d", hostPort, p)
	}

	u := &url.URL{Scheme: "postgres", Host: hostPort, Path: "/" + cfg.Database}
	if cfg.Password != "" {
		u.User = url.UserPassword(cfg.User, cfg.Password)
	} else {
		u.User = url.User(cfg.User)
	}
	q := u.Query()
	if cfg.SSLMode != "" {
		q.Set("sslmode", cfg.SSLMode)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// VerifySchema checks that the tokens table is reachable.
func VerifySchema(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, `SELECT 1 FROM tokens LIMIT 1;`); err != nil {
		return fmt.Errorf("tokens table not available: %w", err)
	}
	return nil
}
