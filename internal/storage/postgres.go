package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// PostgresMirror keeps mirrored values in PostgreSQL.
type PostgresMirror struct {
	db     *sql.DB
	logger *zap.Logger
}

// PostgresConfig holds PostgreSQL configuration.
type PostgresConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
	SSLMode  string
	Logger   *zap.Logger
}

// NewPostgresMirror connects and ensures the mirror table exists.
func NewPostgresMirror(cfg *PostgresConfig) (*PostgresMirror, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	err = db.Ping()
	if err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	mirror := &PostgresMirror{
		db:     db,
		logger: cfg.Logger,
	}

	err = mirror.migrate(context.Background())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	cfg.Logger.Info("postgres-mirror-connected",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Database))

	return mirror, nil
}

func (p *PostgresMirror) migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS mirror (
		key        TEXT PRIMARY KEY,
		value      JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`)
	return err
}

// Load returns the value for key.
func (p *PostgresMirror) Load(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := p.db.QueryRowContext(ctx, `SELECT value FROM mirror WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", key, err)
	}
	return value, nil
}

// Save upserts the value for key.
func (p *PostgresMirror) Save(ctx context.Context, key string, value []byte) error {
	query := `
		INSERT INTO mirror (key, value, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`

	_, err := p.db.ExecContext(ctx, query, key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert %s: %w", key, err)
	}

	p.logger.Debug("mirror-saved",
		zap.String("key", key),
		zap.Int("bytes", len(value)))

	return nil
}

// Clear deletes key.
func (p *PostgresMirror) Clear(ctx context.Context, key string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM mirror WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Keys lists keys with the given prefix.
func (p *PostgresMirror) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT key FROM mirror WHERE starts_with(key, $1) ORDER BY key`, prefix)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()

	return scanKeys(rows)
}

// Close closes the database connection.
func (p *PostgresMirror) Close() error {
	p.logger.Info("closing-postgres-mirror")
	return p.db.Close()
}
