package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/ion-ash/mcp-mux/internal/domain"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

type clientRepo struct{ store *Store }

var _ domain.ClientRepository = (*clientRepo)(nil)

func (r *clientRepo) Save(ctx context.Context, client domain.Client) error {
	uris, err := json.Marshal(client.RedirectURIs)
	if err != nil {
		return fmt.Errorf("encoding redirect uris for client %s: %w", client.ID, err)
	}
	lockedSpace := ""
	if client.LockedSpaceID != uuid.Nil {
		lockedSpace = client.LockedSpaceID.String()
	}
	mode := client.Mode
	if mode == "" {
		mode = domain.ModeFollowActive
	}
	now := time.Now().UTC().Unix()
	return r.store.withConn(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `
			INSERT INTO clients (id, name, redirect_uris, mode, locked_space_id, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				name            = excluded.name,
				redirect_uris   = excluded.redirect_uris,
				mode            = excluded.mode,
				locked_space_id = excluded.locked_space_id,
				updated_at      = excluded.updated_at`,
			&sqlitex.ExecOptions{
				Args: []any{
					client.ID, client.Name, string(uris), string(mode),
					lockedSpace, now, now,
				},
			})
		if err != nil {
			return fmt.Errorf("saving client %s: %w", client.ID, err)
		}
		return nil
	})
}

func (r *clientRepo) Get(ctx context.Context, clientID string) (domain.Client, error) {
	var client domain.Client
	found := false
	err := r.store.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			SELECT id, name, redirect_uris, mode, locked_space_id, created_at, updated_at
			FROM clients WHERE id = ?`,
			&sqlitex.ExecOptions{
				Args: []any{clientID},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					found = true
					return scanClient(stmt, &client)
				},
			})
	})
	if err != nil {
		return domain.Client{}, fmt.Errorf("loading client %s: %w", clientID, err)
	}
	if !found {
		return domain.Client{}, fmt.Errorf("client %s: %w", clientID, domain.ErrNotFound)
	}
	return client, nil
}

func (r *clientRepo) List(ctx context.Context) ([]domain.Client, error) {
	var out []domain.Client
	err := r.store.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			SELECT id, name, redirect_uris, mode, locked_space_id, created_at, updated_at
			FROM clients ORDER BY id`,
			&sqlitex.ExecOptions{
				ResultFunc: func(stmt *sqlite.Stmt) error {
					var client domain.Client
					if err := scanClient(stmt, &client); err != nil {
						return err
					}
					out = append(out, client)
					return nil
				},
			})
	})
	if err != nil {
		return nil, fmt.Errorf("listing clients: %w", err)
	}
	return out, nil
}

func scanClient(stmt *sqlite.Stmt, client *domain.Client) error {
	client.ID = stmt.ColumnText(0)
	client.Name = stmt.ColumnText(1)
	if raw := stmt.ColumnText(2); raw != "" {
		if err := json.Unmarshal([]byte(raw), &client.RedirectURIs); err != nil {
			return fmt.Errorf("corrupt redirect uris for client %s: %w", client.ID, err)
		}
	}
	client.Mode = domain.ConnectionMode(stmt.ColumnText(3))
	if raw := stmt.ColumnText(4); raw != "" {
		lockedSpace, err := uuid.FromString(raw)
		if err != nil {
			return fmt.Errorf("corrupt locked space id for client %s: %w", client.ID, err)
		}
		client.LockedSpaceID = lockedSpace
	}
	client.CreatedAt = time.Unix(stmt.ColumnInt64(5), 0).UTC()
	client.UpdatedAt = time.Unix(stmt.ColumnInt64(6), 0).UTC()
	return nil
}
