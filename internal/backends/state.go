package backends

import (
	"context"

	"github.com/ion-ash/mcp-mux/internal/finitestate"
	"github.com/robbyt/go-supervisor/supervisor"
)

var _ supervisor.Stateable = (*Manager)(nil)

func (m *Manager) GetState() string {
	return m.fsm.GetState()
}

func (m *Manager) GetStateChan(ctx context.Context) <-chan string {
	return m.fsm.GetStateChan(ctx)
}

func (m *Manager) IsRunning() bool {
	return m.fsm.GetState() == finitestate.StatusRunning
}
