// Package sqlite implements the domain repositories on a sqlite database
// accessed through a fixed-size connection pool.
package sqlite

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ion-ash/mcp-mux/internal/domain"
	"github.com/ion-ash/mcp-mux/internal/storage/sqlitepool"
	"zombiezen.com/go/sqlite"
)

// Config holds the parameters for opening a Store.
type Config struct {
	// Path is the database file. ":memory:" gives an ephemeral database
	// and forces a pool of one connection.
	Path string

	// PoolSize is the connection pool size. Zero selects the pool's
	// default.
	PoolSize int

	// Logger receives operational messages. Nil discards them.
	Logger *slog.Logger
}

// Store owns the connection pool behind the repository facets.
type Store struct {
	pool   *sqlitepool.Pool
	logger *slog.Logger
}

// Open creates the pool and applies the schema. The caller must Close
// the store when done.
func Open(cfg Config) (*Store, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	poolSize := cfg.PoolSize
	if cfg.Path == ":memory:" {
		// Each in-memory connection is its own database.
		poolSize = 1
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:      cfg.Path,
		PoolSize:  poolSize,
		Logger:    logger,
		OnConnect: migrate,
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite: %w", err)
	}

	return &Store{pool: pool, logger: logger}, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

// Spaces returns the space repository facet.
func (s *Store) Spaces() domain.SpaceRepository { return &spaceRepo{s} }

// Servers returns the backend server repository facet.
func (s *Store) Servers() domain.ServerRepository { return &serverRepo{s} }

// Features returns the feature repository facet.
func (s *Store) Features() domain.FeatureRepository { return &featureRepo{s} }

// FeatureSets returns the feature set repository facet.
func (s *Store) FeatureSets() domain.FeatureSetRepository { return &featureSetRepo{s} }

// Grants returns the grant repository facet.
func (s *Store) Grants() domain.GrantRepository { return &grantRepo{s} }

// Clients returns the inbound client repository facet.
func (s *Store) Clients() domain.ClientRepository { return &clientRepo{s} }

// withConn borrows a connection for the duration of fn.
func (s *Store) withConn(ctx context.Context, fn func(conn *sqlite.Conn) error) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)
	return fn(conn)
}
