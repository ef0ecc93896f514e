package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/ion-ash/mcp-mux/internal/domain"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

type spaceRepo struct{ store *Store }

var _ domain.SpaceRepository = (*spaceRepo)(nil)

// Create inserts a space. The first space ever created becomes the
// default, keeping the one-default invariant without a separate call.
func (r *spaceRepo) Create(ctx context.Context, space domain.Space) error {
	return r.store.withConn(ctx, func(conn *sqlite.Conn) (err error) {
		defer sqlitex.Save(conn)(&err)

		var count int64
		err = sqlitex.Execute(conn, `SELECT COUNT(*) FROM spaces`, &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				count = stmt.ColumnInt64(0)
				return nil
			},
		})
		if err != nil {
			return fmt.Errorf("counting spaces: %w", err)
		}

		isDefault := space.IsDefault
		if count == 0 {
			isDefault = true
		}

		now := time.Now().UTC()
		createdAt := space.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}

		err = sqlitex.Execute(conn, `
			INSERT INTO spaces (id, name, is_default, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{
				Args: []any{
					space.ID.String(), space.Name, boolToInt(isDefault),
					createdAt.Unix(), now.Unix(),
				},
			})
		if err != nil {
			return fmt.Errorf("inserting space %s: %w", space.ID, err)
		}
		return nil
	})
}

func (r *spaceRepo) Get(ctx context.Context, id uuid.UUID) (domain.Space, error) {
	var space domain.Space
	found := false
	err := r.store.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			SELECT id, name, is_default, created_at, updated_at
			FROM spaces WHERE id = ?`,
			&sqlitex.ExecOptions{
				Args: []any{id.String()},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					found = true
					return scanSpace(stmt, &space)
				},
			})
	})
	if err != nil {
		return domain.Space{}, fmt.Errorf("loading space %s: %w", id, err)
	}
	if !found {
		return domain.Space{}, fmt.Errorf("space %s: %w", id, domain.ErrNotFound)
	}
	return space, nil
}

func (r *spaceRepo) List(ctx context.Context) ([]domain.Space, error) {
	var out []domain.Space
	err := r.store.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			SELECT id, name, is_default, created_at, updated_at
			FROM spaces ORDER BY name`,
			&sqlitex.ExecOptions{
				ResultFunc: func(stmt *sqlite.Stmt) error {
					var space domain.Space
					if err := scanSpace(stmt, &space); err != nil {
						return err
					}
					out = append(out, space)
					return nil
				},
			})
	})
	if err != nil {
		return nil, fmt.Errorf("listing spaces: %w", err)
	}
	return out, nil
}

// SetDefault moves the default flag in one transaction so there is never
// a moment with zero or two defaults.
func (r *spaceRepo) SetDefault(ctx context.Context, id uuid.UUID) error {
	return r.store.withConn(ctx, func(conn *sqlite.Conn) (err error) {
		defer sqlitex.Save(conn)(&err)

		exists := false
		err = sqlitex.Execute(conn, `SELECT 1 FROM spaces WHERE id = ?`, &sqlitex.ExecOptions{
			Args: []any{id.String()},
			ResultFunc: func(*sqlite.Stmt) error {
				exists = true
				return nil
			},
		})
		if err != nil {
			return fmt.Errorf("checking space %s: %w", id, err)
		}
		if !exists {
			return fmt.Errorf("space %s: %w", id, domain.ErrNotFound)
		}

		now := time.Now().UTC().Unix()
		err = sqlitex.Execute(conn,
			`UPDATE spaces SET is_default = 0, updated_at = ? WHERE is_default = 1`,
			&sqlitex.ExecOptions{Args: []any{now}})
		if err != nil {
			return fmt.Errorf("clearing default flag: %w", err)
		}
		err = sqlitex.Execute(conn,
			`UPDATE spaces SET is_default = 1, updated_at = ? WHERE id = ?`,
			&sqlitex.ExecOptions{Args: []any{now, id.String()}})
		if err != nil {
			return fmt.Errorf("setting default space %s: %w", id, err)
		}
		return nil
	})
}

func (r *spaceRepo) Default(ctx context.Context) (domain.Space, error) {
	var space domain.Space
	found := false
	err := r.store.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			SELECT id, name, is_default, created_at, updated_at
			FROM spaces WHERE is_default = 1`,
			&sqlitex.ExecOptions{
				ResultFunc: func(stmt *sqlite.Stmt) error {
					found = true
					return scanSpace(stmt, &space)
				},
			})
	})
	if err != nil {
		return domain.Space{}, fmt.Errorf("loading default space: %w", err)
	}
	if !found {
		return domain.Space{}, fmt.Errorf("default space: %w", domain.ErrNotFound)
	}
	return space, nil
}

func scanSpace(stmt *sqlite.Stmt, space *domain.Space) error {
	id, err := uuid.FromString(stmt.ColumnText(0))
	if err != nil {
		return fmt.Errorf("corrupt space id %q: %w", stmt.ColumnText(0), err)
	}
	space.ID = id
	space.Name = stmt.ColumnText(1)
	space.IsDefault = stmt.ColumnInt64(2) != 0
	space.CreatedAt = time.Unix(stmt.ColumnInt64(3), 0).UTC()
	space.UpdatedAt = time.Unix(stmt.ColumnInt64(4), 0).UTC()
	return nil
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
