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

type grantRepo struct{ store *Store }

var _ domain.GrantRepository = (*grantRepo)(nil)

func (r *grantRepo) Issue(ctx context.Context, grant domain.Grant) error {
	issuedAt := grant.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = time.Now().UTC()
	}
	return r.store.withConn(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `
			INSERT INTO grants (id, client_id, space_id, feature_set_id, issued_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (id) DO NOTHING`,
			&sqlitex.ExecOptions{
				Args: []any{
					grant.ID.String(), grant.ClientID, grant.SpaceID.String(),
					grant.FeatureSetID.String(), issuedAt.Unix(),
				},
			})
		if err != nil {
			return fmt.Errorf("issuing grant %s: %w", grant.ID, err)
		}
		return nil
	})
}

func (r *grantRepo) Get(ctx context.Context, grantID uuid.UUID) (domain.Grant, error) {
	var out *domain.Grant
	err := r.store.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			SELECT id, client_id, space_id, feature_set_id, issued_at
			FROM grants WHERE id = ?`,
			&sqlitex.ExecOptions{
				Args: []any{grantID.String()},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					grant, err := scanGrant(stmt)
					if err != nil {
						return err
					}
					out = &grant
					return nil
				},
			})
	})
	if err != nil {
		return domain.Grant{}, fmt.Errorf("loading grant %s: %w", grantID, err)
	}
	if out == nil {
		return domain.Grant{}, fmt.Errorf("grant %s: %w", grantID, domain.ErrNotFound)
	}
	return *out, nil
}

func (r *grantRepo) Revoke(ctx context.Context, grantID uuid.UUID) error {
	return r.store.withConn(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `DELETE FROM grants WHERE id = ?`,
			&sqlitex.ExecOptions{Args: []any{grantID.String()}})
		if err != nil {
			return fmt.Errorf("revoking grant %s: %w", grantID, err)
		}
		if conn.Changes() == 0 {
			return fmt.Errorf("grant %s: %w", grantID, domain.ErrNotFound)
		}
		return nil
	})
}

func (r *grantRepo) ActiveGrants(ctx context.Context, clientID string, spaceID uuid.UUID) ([]domain.Grant, error) {
	var out []domain.Grant
	err := r.store.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			SELECT id, client_id, space_id, feature_set_id, issued_at
			FROM grants WHERE client_id = ? AND space_id = ?
			ORDER BY issued_at, id`,
			&sqlitex.ExecOptions{
				Args: []any{clientID, spaceID.String()},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					grant, err := scanGrant(stmt)
					if err != nil {
						return err
					}
					out = append(out, grant)
					return nil
				},
			})
	})
	if err != nil {
		return nil, fmt.Errorf("listing grants for client %q: %w", clientID, err)
	}
	return out, nil
}

func scanGrant(stmt *sqlite.Stmt) (domain.Grant, error) {
	id, err := uuid.FromString(stmt.ColumnText(0))
	if err != nil {
		return domain.Grant{}, fmt.Errorf("corrupt grant id %q: %w", stmt.ColumnText(0), err)
	}
	spaceID, err := uuid.FromString(stmt.ColumnText(2))
	if err != nil {
		return domain.Grant{}, fmt.Errorf("corrupt space id %q: %w", stmt.ColumnText(2), err)
	}
	setID, err := uuid.FromString(stmt.ColumnText(3))
	if err != nil {
		return domain.Grant{}, fmt.Errorf("corrupt feature set id %q: %w", stmt.ColumnText(3), err)
	}
	return domain.Grant{
		ID:           id,
		ClientID:     stmt.ColumnText(1),
		SpaceID:      spaceID,
		FeatureSetID: setID,
		IssuedAt:     time.Unix(stmt.ColumnInt64(4), 0).UTC(),
	}, nil
}
