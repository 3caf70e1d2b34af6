package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/raaihank/mail-sentinel/internal/config"
	"github.com/raaihank/mail-sentinel/internal/logger"
)

const schema = `
CREATE TABLE IF NOT EXISTS classifications (
	id           BIGSERIAL PRIMARY KEY,
	request_id   TEXT        NOT NULL,
	text_hash    TEXT        NOT NULL,
	masked_email TEXT        NOT NULL,
	category     TEXT        NOT NULL,
	confidence   DOUBLE PRECISION NOT NULL DEFAULT 0,
	entity_count INTEGER     NOT NULL DEFAULT 0,
	entities     JSONB       NOT NULL DEFAULT '[]',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_classifications_created_at ON classifications (created_at DESC);
CREATE INDEX IF NOT EXISTS idx_classifications_category ON classifications (category);`

// Store is a PostgreSQL audit log of classifications
type Store struct {
	db      *sqlx.DB
	timeout time.Duration
	logger  *logger.Logger
}

// New connects to PostgreSQL and creates the schema if needed.
func New(cfg config.StoreConfig, log *logger.Logger) (*Store, error) {
	db, err := sqlx.Connect("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	s := &Store{db: db, timeout: cfg.Timeout, logger: log}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	log.Info("Audit store initialized",
		zap.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		zap.Int("max_open_conns", cfg.MaxOpenConns),
		zap.Int("max_idle_conns", cfg.MaxIdleConns))

	return s, nil
}

func (s *Store) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout > 0 {
		return context.WithTimeout(ctx, s.timeout)
	}
	return context.WithCancel(ctx)
}

// Insert records a classification and fills in its ID and CreatedAt.
func (s *Store) Insert(ctx context.Context, c *Classification) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if c.Entities == nil {
		c.Entities = EntityList{}
	}
	c.EntityCount = len(c.Entities)

	rows, err := s.db.NamedQueryContext(ctx, `
		INSERT INTO classifications
			(request_id, text_hash, masked_email, category, confidence, entity_count, entities)
		VALUES
			(:request_id, :text_hash, :masked_email, :category, :confidence, :entity_count, :entities)
		RETURNING id, created_at`, c)
	if err != nil {
		return fmt.Errorf("failed to insert classification: %w", err)
	}
	defer rows.Close()

	if rows.Next() {
		if err := rows.Scan(&c.ID, &c.CreatedAt); err != nil {
			return fmt.Errorf("failed to read inserted classification: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to insert classification: %w", err)
	}

	s.logger.Debug("Classification recorded",
		zap.Int64("id", c.ID),
		zap.String("request_id", c.RequestID),
		zap.String("category", c.Category))

	return nil
}

// Recent returns the latest classifications, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Classification, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if limit <= 0 || limit > 500 {
		limit = 50
	}

	var out []Classification
	err := s.db.SelectContext(ctx, &out, `
		SELECT id, request_id, text_hash, masked_email, category, confidence,
		       entity_count, entities, created_at
		FROM classifications
		ORDER BY created_at DESC, id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query classifications: %w", err)
	}
	return out, nil
}

// CategoryCounts returns how many classifications each category received.
func (s *Store) CategoryCounts(ctx context.Context) ([]CategoryCount, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var out []CategoryCount
	err := s.db.SelectContext(ctx, &out, `
		SELECT category, COUNT(*) AS count
		FROM classifications
		GROUP BY category
		ORDER BY count DESC, category`)
	if err != nil {
		return nil, fmt.Errorf("failed to count classifications: %w", err)
	}
	return out, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// HashText returns the hex SHA-256 of text.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// maskDatabaseURL hides the password in a database URL for logging
func maskDatabaseURL(url string) string {
	at := strings.LastIndex(url, "@")
	if at < 0 {
		return url
	}
	userinfo := url[:at]
	colon := strings.LastIndex(userinfo, ":")
	if colon < 0 || colon <= strings.Index(userinfo, "://") {
		return url
	}
	return userinfo[:colon+1] + "***" + url[at:]
}
