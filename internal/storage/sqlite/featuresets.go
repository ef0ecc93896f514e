package sqlite

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"github.com/ion-ash/mcp-mux/internal/domain"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

type featureSetRepo struct{ store *Store }

var _ domain.FeatureSetRepository = (*featureSetRepo)(nil)

func (r *featureSetRepo) Create(ctx context.Context, set domain.FeatureSet) error {
	return r.store.withConn(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `
			INSERT INTO feature_sets (id, space_id, name, type, builtin_server_id)
			VALUES (?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{
				Args: []any{
					set.ID.String(), set.SpaceID.String(), set.Name,
					string(set.Type), set.BuiltinServerID,
				},
			})
		if err != nil {
			return fmt.Errorf("inserting feature set %s: %w", set.ID, err)
		}
		return nil
	})
}

func (r *featureSetRepo) Get(ctx context.Context, id uuid.UUID) (domain.FeatureSet, error) {
	var set domain.FeatureSet
	found := false
	err := r.store.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			SELECT id, space_id, name, type, builtin_server_id
			FROM feature_sets WHERE id = ?`,
			&sqlitex.ExecOptions{
				Args: []any{id.String()},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					found = true
					return scanFeatureSet(stmt, &set)
				},
			})
	})
	if err != nil {
		return domain.FeatureSet{}, fmt.Errorf("loading feature set %s: %w", id, err)
	}
	if !found {
		return domain.FeatureSet{}, fmt.Errorf("feature set %s: %w", id, domain.ErrNotFound)
	}
	return set, nil
}

func (r *featureSetRepo) ResolveMembership(ctx context.Context, id uuid.UUID) (domain.Membership, error) {
	set, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	switch set.Type {
	case domain.FeatureSetBuiltin:
		return domain.BuiltinMembership{SpaceID: set.SpaceID, ServerID: set.BuiltinServerID}, nil
	case domain.FeatureSetCustom:
		var members []domain.QualifiedName
		err := r.store.withConn(ctx, func(conn *sqlite.Conn) error {
			return sqlitex.Execute(conn, `
				SELECT qualified_name FROM feature_set_members
				WHERE feature_set_id = ? ORDER BY qualified_name`,
				&sqlitex.ExecOptions{
					Args: []any{id.String()},
					ResultFunc: func(stmt *sqlite.Stmt) error {
						members = append(members, domain.QualifiedName(stmt.ColumnText(0)))
						return nil
					},
				})
		})
		if err != nil {
			return nil, fmt.Errorf("loading members of feature set %s: %w", id, err)
		}
		return domain.CustomMembership{Members: members}, nil
	default:
		return nil, fmt.Errorf("feature set %s has unknown type %q", id, set.Type)
	}
}

func (r *featureSetRepo) AddMember(ctx context.Context, setID uuid.UUID, member domain.QualifiedName) error {
	return r.store.withConn(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `
			INSERT INTO feature_set_members (feature_set_id, qualified_name)
			VALUES (?, ?)
			ON CONFLICT (feature_set_id, qualified_name) DO NOTHING`,
			&sqlitex.ExecOptions{Args: []any{setID.String(), string(member)}})
		if err != nil {
			return fmt.Errorf("adding member to feature set %s: %w", setID, err)
		}
		return nil
	})
}

func (r *featureSetRepo) RemoveMember(ctx context.Context, setID uuid.UUID, member domain.QualifiedName) error {
	return r.store.withConn(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `
			DELETE FROM feature_set_members
			WHERE feature_set_id = ? AND qualified_name = ?`,
			&sqlitex.ExecOptions{Args: []any{setID.String(), string(member)}})
		if err != nil {
			return fmt.Errorf("removing member from feature set %s: %w", setID, err)
		}
		return nil
	})
}

func scanFeatureSet(stmt *sqlite.Stmt, set *domain.FeatureSet) error {
	id, err := uuid.FromString(stmt.ColumnText(0))
	if err != nil {
		return fmt.Errorf("corrupt feature set id %q: %w", stmt.ColumnText(0), err)
	}
	spaceID, err := uuid.FromString(stmt.ColumnText(1))
	if err != nil {
		return fmt.Errorf("corrupt space id %q: %w", stmt.ColumnText(1), err)
	}
	set.ID = id
	set.SpaceID = spaceID
	set.Name = stmt.ColumnText(2)
	set.Type = domain.FeatureSetType(stmt.ColumnText(3))
	set.BuiltinServerID = stmt.ColumnText(4)
	return nil
}
