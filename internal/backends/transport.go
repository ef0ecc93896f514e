package backends

import (
	"fmt"
	"os/exec"

	"github.com/ion-ash/mcp-mux/internal/domain"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// TransportFactory builds the MCP transport used to reach one backend
// server. Tests substitute in-memory transports through this hook.
type TransportFactory func(server domain.Server) (mcp.Transport, error)

func defaultTransport(server domain.Server) (mcp.Transport, error) {
	switch server.Transport {
	case "stdio":
		if server.Command == "" {
			return nil, fmt.Errorf("server %s: stdio transport requires a command", server.ID)
		}
		return &mcp.CommandTransport{
			Command: exec.Command(server.Command, server.Args...),
		}, nil
	case "http":
		if server.Endpoint == "" {
			return nil, fmt.Errorf("server %s: http transport requires an endpoint", server.ID)
		}
		return &mcp.StreamableClientTransport{
			Endpoint: server.Endpoint,
		}, nil
	default:
		return nil, fmt.Errorf("server %s: unsupported transport %q", server.ID, server.Transport)
	}
}
