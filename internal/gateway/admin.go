package gateway

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gofrs/uuid/v5"
	"github.com/ion-ash/mcp-mux/internal/domain"
	"github.com/ion-ash/mcp-mux/internal/grants"
)

// AdminAPI is the management surface: spaces, feature sets, and grants.
// It is guarded by a static bearer token and is disabled entirely when no
// token is configured.
type AdminAPI struct {
	spaces  domain.SpaceRepository
	servers domain.ServerRepository
	clients domain.ClientRepository
	grants  *grants.Service
	token   string
	logger  *slog.Logger
}

// AdminOption configures an AdminAPI.
type AdminOption func(*AdminAPI)

// WithAdminLogHandler sets a custom log handler for the AdminAPI.
func WithAdminLogHandler(handler slog.Handler) AdminOption {
	return func(a *AdminAPI) {
		a.logger = slog.New(handler)
	}
}

// NewAdminAPI creates the admin surface. The token must be non-empty.
func NewAdminAPI(
	spaces domain.SpaceRepository,
	servers domain.ServerRepository,
	clients domain.ClientRepository,
	grantSvc *grants.Service,
	token string,
	opts ...AdminOption,
) (*AdminAPI, error) {
	if token == "" {
		return nil, errors.New("admin token must not be empty")
	}
	a := &AdminAPI{
		spaces:  spaces,
		servers: servers,
		clients: clients,
		grants:  grantSvc,
		token:   token,
		logger:  slog.Default().WithGroup("gateway.AdminAPI"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Handler returns the authenticated admin mux.
func (a *AdminAPI) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /admin/spaces", a.listSpaces)
	mux.HandleFunc("POST /admin/spaces", a.createSpace)
	mux.HandleFunc("PUT /admin/spaces/default", a.setDefaultSpace)
	mux.HandleFunc("GET /admin/clients", a.listClients)
	mux.HandleFunc("POST /admin/feature-sets", a.createFeatureSet)
	mux.HandleFunc("POST /admin/grants", a.issueGrant)
	mux.HandleFunc("DELETE /admin/grants/{id}", a.revokeGrant)
	return a.authenticate(mux)
}

func (a *AdminAPI) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(a.token)) != 1 {
			adminError(w, http.StatusUnauthorized, "invalid admin token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type spacePayload struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	IsDefault bool   `json:"is_default"`
}

func (a *AdminAPI) listSpaces(w http.ResponseWriter, r *http.Request) {
	spaces, err := a.spaces.List(r.Context())
	if err != nil {
		a.fail(w, "listing spaces", err)
		return
	}
	out := make([]spacePayload, 0, len(spaces))
	for _, space := range spaces {
		out = append(out, spacePayload{
			ID:        space.ID.String(),
			Name:      space.Name,
			IsDefault: space.IsDefault,
		})
	}
	adminJSON(w, http.StatusOK, out)
}

func (a *AdminAPI) createSpace(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		adminError(w, http.StatusBadRequest, "name is required")
		return
	}
	id, err := uuid.NewV4()
	if err != nil {
		a.fail(w, "generating space id", err)
		return
	}
	space := domain.Space{ID: id, Name: req.Name}
	if err := a.spaces.Create(r.Context(), space); err != nil {
		a.fail(w, "creating space", err)
		return
	}
	created, err := a.spaces.Get(r.Context(), id)
	if err != nil {
		a.fail(w, "reloading space", err)
		return
	}
	adminJSON(w, http.StatusCreated, spacePayload{
		ID:        created.ID.String(),
		Name:      created.Name,
		IsDefault: created.IsDefault,
	})
}

func (a *AdminAPI) setDefaultSpace(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SpaceID string `json:"space_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		adminError(w, http.StatusBadRequest, "malformed body")
		return
	}
	spaceID, err := uuid.FromString(req.SpaceID)
	if err != nil {
		adminError(w, http.StatusBadRequest, "malformed space_id")
		return
	}
	if err := a.spaces.SetDefault(r.Context(), spaceID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			adminError(w, http.StatusNotFound, "unknown space")
			return
		}
		a.fail(w, "setting default space", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *AdminAPI) listClients(w http.ResponseWriter, r *http.Request) {
	clients, err := a.clients.List(r.Context())
	if err != nil {
		a.fail(w, "listing clients", err)
		return
	}
	type clientPayload struct {
		ID            string `json:"id"`
		Name          string `json:"name"`
		Mode          string `json:"connection_mode"`
		LockedSpaceID string `json:"locked_space_id,omitempty"`
	}
	out := make([]clientPayload, 0, len(clients))
	for _, client := range clients {
		p := clientPayload{ID: client.ID, Name: client.Name, Mode: string(client.Mode)}
		if client.LockedSpaceID != uuid.Nil {
			p.LockedSpaceID = client.LockedSpaceID.String()
		}
		out = append(out, p)
	}
	adminJSON(w, http.StatusOK, out)
}

func (a *AdminAPI) createFeatureSet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SpaceID         string   `json:"space_id"`
		Name            string   `json:"name"`
		BuiltinServerID string   `json:"builtin_server_id"`
		Members         []string `json:"members"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		adminError(w, http.StatusBadRequest, "name is required")
		return
	}
	spaceID, err := uuid.FromString(req.SpaceID)
	if err != nil {
		adminError(w, http.StatusBadRequest, "malformed space_id")
		return
	}

	var set domain.FeatureSet
	if req.BuiltinServerID != "" {
		set, err = a.grants.CreateBuiltinSet(r.Context(), spaceID, req.Name, req.BuiltinServerID)
	} else {
		members := make([]domain.QualifiedName, len(req.Members))
		for i, m := range req.Members {
			members[i] = domain.QualifiedName(m)
		}
		set, err = a.grants.CreateCustomSet(r.Context(), spaceID, req.Name, members)
	}
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			adminError(w, http.StatusNotFound, err.Error())
			return
		}
		adminError(w, http.StatusBadRequest, err.Error())
		return
	}
	adminJSON(w, http.StatusCreated, map[string]string{
		"id":   set.ID.String(),
		"name": set.Name,
		"type": string(set.Type),
	})
}

func (a *AdminAPI) issueGrant(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ClientID     string `json:"client_id"`
		SpaceID      string `json:"space_id"`
		FeatureSetID string `json:"feature_set_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ClientID == "" {
		adminError(w, http.StatusBadRequest, "client_id is required")
		return
	}
	spaceID, err := uuid.FromString(req.SpaceID)
	if err != nil {
		adminError(w, http.StatusBadRequest, "malformed space_id")
		return
	}
	setID, err := uuid.FromString(req.FeatureSetID)
	if err != nil {
		adminError(w, http.StatusBadRequest, "malformed feature_set_id")
		return
	}

	grant, err := a.grants.Issue(r.Context(), req.ClientID, spaceID, setID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			adminError(w, http.StatusNotFound, "unknown feature set")
			return
		}
		a.fail(w, "issuing grant", err)
		return
	}
	adminJSON(w, http.StatusCreated, map[string]string{"id": grant.ID.String()})
}

func (a *AdminAPI) revokeGrant(w http.ResponseWriter, r *http.Request) {
	grantID, err := uuid.FromString(r.PathValue("id"))
	if err != nil {
		adminError(w, http.StatusBadRequest, "malformed grant id")
		return
	}
	if err := a.grants.Revoke(r.Context(), grantID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			adminError(w, http.StatusNotFound, "unknown grant")
			return
		}
		a.fail(w, "revoking grant", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *AdminAPI) fail(w http.ResponseWriter, action string, err error) {
	a.logger.Error("admin request failed", "action", action, "error", err)
	adminError(w, http.StatusInternalServerError, "internal error")
}

func adminJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func adminError(w http.ResponseWriter, status int, message string) {
	adminJSON(w, status, map[string]string{"error": message})
}
