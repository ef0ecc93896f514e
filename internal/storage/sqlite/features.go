package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"github.com/ion-ash/mcp-mux/internal/domain"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

type featureRepo struct{ store *Store }

var _ domain.FeatureRepository = (*featureRepo)(nil)

func (r *featureRepo) ListFeatures(ctx context.Context, spaceID uuid.UUID, serverID string) ([]domain.Feature, error) {
	query := `
		SELECT space_id, server_id, kind, name, description, schema_json
		FROM features WHERE space_id = ?`
	args := []any{spaceID.String()}
	if serverID != "" {
		query += ` AND server_id = ?`
		args = append(args, serverID)
	}
	query += ` ORDER BY server_id, kind, name`

	var out []domain.Feature
	err := r.store.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
			Args: args,
			ResultFunc: func(stmt *sqlite.Stmt) error {
				f, err := scanFeature(stmt)
				if err != nil {
					return err
				}
				out = append(out, f)
				return nil
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("listing features in space %s: %w", spaceID, err)
	}
	return out, nil
}

func (r *featureRepo) Upsert(ctx context.Context, f domain.Feature) error {
	var schema any
	if len(f.Schema) > 0 {
		schema = string(f.Schema)
	}
	return r.store.withConn(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `
			INSERT INTO features (space_id, server_id, kind, name, description, schema_json)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (space_id, server_id, kind, name) DO UPDATE SET
				description = excluded.description,
				schema_json = excluded.schema_json`,
			&sqlitex.ExecOptions{
				Args: []any{
					f.SpaceID.String(), f.ServerID, string(f.Kind), f.Name,
					f.Description, schema,
				},
			})
		if err != nil {
			return fmt.Errorf("upserting feature %s: %w", f.QualifiedName(), err)
		}
		return nil
	})
}

func (r *featureRepo) Delete(ctx context.Context, spaceID uuid.UUID, serverID string, kind domain.FeatureKind, name string) error {
	return r.store.withConn(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `
			DELETE FROM features
			WHERE space_id = ? AND server_id = ? AND kind = ? AND name = ?`,
			&sqlitex.ExecOptions{
				Args: []any{spaceID.String(), serverID, string(kind), name},
			})
		if err != nil {
			return fmt.Errorf("deleting feature %s/%s/%s: %w", serverID, kind, name, err)
		}
		return nil
	})
}

func (r *featureRepo) DeleteForServer(ctx context.Context, spaceID uuid.UUID, serverID string) error {
	return r.store.withConn(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn,
			`DELETE FROM features WHERE space_id = ? AND server_id = ?`,
			&sqlitex.ExecOptions{Args: []any{spaceID.String(), serverID}})
		if err != nil {
			return fmt.Errorf("deleting features of server %s: %w", serverID, err)
		}
		return nil
	})
}

func scanFeature(stmt *sqlite.Stmt) (domain.Feature, error) {
	spaceID, err := uuid.FromString(stmt.ColumnText(0))
	if err != nil {
		return domain.Feature{}, fmt.Errorf("corrupt space id %q: %w", stmt.ColumnText(0), err)
	}
	f := domain.Feature{
		SpaceID:     spaceID,
		ServerID:    stmt.ColumnText(1),
		Kind:        domain.FeatureKind(stmt.ColumnText(2)),
		Name:        stmt.ColumnText(3),
		Description: stmt.ColumnText(4),
	}
	if raw := stmt.ColumnText(5); raw != "" {
		f.Schema = json.RawMessage(raw)
	}
	return f, nil
}
