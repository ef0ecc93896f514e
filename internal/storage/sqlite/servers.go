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

type serverRepo struct{ store *Store }

var _ domain.ServerRepository = (*serverRepo)(nil)

func (r *serverRepo) Upsert(ctx context.Context, server domain.Server) error {
	args, err := json.Marshal(server.Args)
	if err != nil {
		return fmt.Errorf("encoding args for server %s: %w", server.ID, err)
	}
	status := server.Status
	if status == "" {
		status = domain.StatusDisconnected
	}
	return r.store.withConn(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `
			INSERT INTO servers (space_id, id, transport, command, args, endpoint, enabled, status)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (space_id, id) DO UPDATE SET
				transport = excluded.transport,
				command   = excluded.command,
				args      = excluded.args,
				endpoint  = excluded.endpoint,
				enabled   = excluded.enabled,
				status    = excluded.status`,
			&sqlitex.ExecOptions{
				Args: []any{
					server.SpaceID.String(), server.ID, server.Transport,
					server.Command, string(args), server.Endpoint,
					boolToInt(server.Enabled), string(status),
				},
			})
		if err != nil {
			return fmt.Errorf("upserting server %s: %w", server.ID, err)
		}
		return nil
	})
}

func (r *serverRepo) List(ctx context.Context, spaceID uuid.UUID) ([]domain.Server, error) {
	var out []domain.Server
	err := r.store.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			SELECT space_id, id, transport, command, args, endpoint, enabled, status
			FROM servers WHERE space_id = ? ORDER BY id`,
			&sqlitex.ExecOptions{
				Args: []any{spaceID.String()},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					server, err := scanServer(stmt)
					if err != nil {
						return err
					}
					out = append(out, server)
					return nil
				},
			})
	})
	if err != nil {
		return nil, fmt.Errorf("listing servers in space %s: %w", spaceID, err)
	}
	return out, nil
}

func (r *serverRepo) SetStatus(ctx context.Context, spaceID uuid.UUID, serverID string, status domain.ConnectionStatus) error {
	return r.store.withConn(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn,
			`UPDATE servers SET status = ? WHERE space_id = ? AND id = ?`,
			&sqlitex.ExecOptions{
				Args: []any{string(status), spaceID.String(), serverID},
			})
		if err != nil {
			return fmt.Errorf("updating status of server %s: %w", serverID, err)
		}
		if conn.Changes() == 0 {
			return fmt.Errorf("server %s in space %s: %w", serverID, spaceID, domain.ErrNotFound)
		}
		return nil
	})
}

func scanServer(stmt *sqlite.Stmt) (domain.Server, error) {
	spaceID, err := uuid.FromString(stmt.ColumnText(0))
	if err != nil {
		return domain.Server{}, fmt.Errorf("corrupt space id %q: %w", stmt.ColumnText(0), err)
	}
	var args []string
	if raw := stmt.ColumnText(4); raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return domain.Server{}, fmt.Errorf("corrupt args for server %s: %w", stmt.ColumnText(1), err)
		}
	}
	return domain.Server{
		SpaceID:   spaceID,
		ID:        stmt.ColumnText(1),
		Transport: stmt.ColumnText(2),
		Command:   stmt.ColumnText(3),
		Args:      args,
		Endpoint:  stmt.ColumnText(5),
		Enabled:   stmt.ColumnInt64(6) != 0,
		Status:    domain.ConnectionStatus(stmt.ColumnText(7)),
	}, nil
}
