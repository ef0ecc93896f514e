package gateway

import (
	"fmt"
	"net/http"

	"github.com/ion-ash/mcp-mux/internal/oauth"
	"github.com/robbyt/go-supervisor/runnables/httpserver"
	"github.com/rs/cors"
)

// Routes assembles the gateway's HTTP surface: the MCP endpoint behind
// the bearer middleware, the OAuth endpoints, a health probe, and the
// admin API when one is configured.
func Routes(g *Gateway, auth *oauth.Service, admin *AdminAPI) ([]httpserver.Route, error) {
	corsLayer := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{
			"Authorization", "Content-Type",
			"Mcp-Session-Id", "Mcp-Protocol-Version", "Last-Event-ID",
		},
		ExposedHeaders: []string{"Mcp-Session-Id"},
	})

	specs := []struct {
		id      string
		path    string
		handler http.Handler
	}{
		{"mcp", "/mcp", corsLayer.Handler(auth.Middleware(g.Handler()))},
		{"oauth_register", "/oauth/register", corsLayer.Handler(auth.RegisterHandler())},
		{"oauth_token", "/oauth/token", corsLayer.Handler(auth.TokenHandler())},
		{"healthz", "/healthz", http.HandlerFunc(healthz)},
	}
	if admin != nil {
		specs = append(specs, struct {
			id      string
			path    string
			handler http.Handler
		}{"admin", "/admin/", admin.Handler()})
	}

	routes := make([]httpserver.Route, 0, len(specs))
	for _, spec := range specs {
		route, err := httpserver.NewRouteFromHandlerFunc(spec.id, spec.path, spec.handler.ServeHTTP)
		if err != nil {
			return nil, fmt.Errorf("building route %s: %w", spec.id, err)
		}
		routes = append(routes, *route)
	}
	return routes, nil
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}
