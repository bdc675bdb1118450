// Package postgres provides the Postgres-backed implementations of the
// Task, Message, and Resource stores named in SPEC_FULL §6.3 and §12.4.
package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/chatshell/streamcore/internal/circuitbreaker"
)

// Config describes a Postgres connection pool.
type Config struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxConnections  int
	IdleConnections int
	MaxLifetime     time.Duration
}

// DefaultConfig returns sane pool sizing for a single-process deployment.
func DefaultConfig() Config {
	return Config{
		Host:            "localhost",
		Port:            5432,
		SSLMode:         "disable",
		MaxConnections:  20,
		IdleConnections: 5,
		MaxLifetime:     30 * time.Minute,
	}
}

// Pool wraps *sqlx.DB with a circuit breaker so a failing database degrades
// store calls instead of piling up goroutines on a dead connection.
type Pool struct {
	db *sqlx.DB
	cb *circuitbreaker.CircuitBreaker
}

// Open builds the DSN, opens the pool, and pings it once before returning.
func Open(ctx context.Context, cfg Config) (*Pool, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.IdleConnections)
	db.SetConnMaxLifetime(cfg.MaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	cbCfg := circuitbreaker.DefaultConfig()
	cbCfg.FailureThreshold = 5
	cbCfg.Timeout = 30 * time.Second
	cb := circuitbreaker.NewCircuitBreaker("postgres-store", cbCfg, zap.NewNop())

	return &Pool{db: db, cb: cb}, nil
}

// Close releases the underlying connections.
func (p *Pool) Close() error {
	return p.db.Close()
}

// NewPoolFromDB wraps an already-open *sqlx.DB in a Pool with its own
// circuit breaker. Used by other packages' tests to exercise the stores
// against a sqlmock-backed connection without dialing a real database.
func NewPoolFromDB(db *sqlx.DB) *Pool {
	cbCfg := circuitbreaker.DefaultConfig()
	cbCfg.FailureThreshold = 5
	cbCfg.Timeout = 30 * time.Second
	return &Pool{db: db, cb: circuitbreaker.NewCircuitBreaker("postgres-store", cbCfg, zap.NewNop())}
}

// DB exposes the underlying *sql.DB for health checks and circuit-breaker
// wrapping; callers must not run queries against it directly since it
// bypasses the pool's own circuit breaker.
func (p *Pool) DB() *sql.DB {
	return p.db.DB
}

// SQLX exposes the underlying *sqlx.DB for components (internal/auth) that
// run their own queries outside the pool's Task/Message/Resource stores.
func (p *Pool) SQLX() *sqlx.DB {
	return p.db
}

// exec runs fn through the circuit breaker so a failing database trips open
// instead of piling up goroutines against a dead connection.
func (p *Pool) exec(fn func() error) error {
	return p.cb.Execute(context.Background(), fn)
}

// JSONB adapts map[string]any and struct payloads to Postgres jsonb columns.
type JSONB map[string]any

// Value implements driver.Valuer.
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(j)
}

// Scan implements sql.Scanner.
func (j *JSONB) Scan(src any) error {
	if src == nil {
		*j = JSONB{}
		return nil
	}
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported JSONB scan type %T", src)
	}
	if len(raw) == 0 {
		*j = JSONB{}
		return nil
	}
	return json.Unmarshal(raw, j)
}

var _ sql.Scanner = (*JSONB)(nil)
var _ driver.Valuer = JSONB{}
