package oauth

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gofrs/uuid/v5"
	"github.com/ion-ash/mcp-mux/internal/domain"
)

// registrationRequest is the dynamic client registration body.
type registrationRequest struct {
	ClientName    string   `json:"client_name"`
	RedirectURIs  []string `json:"redirect_uris"`
	Mode          string   `json:"connection_mode"`
	LockedSpaceID string   `json:"locked_space_id"`
}

type registrationResponse struct {
	ClientID     string   `json:"client_id"`
	ClientName   string   `json:"client_name,omitempty"`
	RedirectURIs []string `json:"redirect_uris,omitempty"`
}

type tokenRequest struct {
	GrantType string `json:"grant_type"`
	ClientID  string `json:"client_id"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

type errorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// RegisterHandler serves POST /oauth/register.
func (s *Service) RegisterHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "invalid_request", "POST required")
			return
		}
		var req registrationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_client_metadata", err.Error())
			return
		}

		client := domain.Client{
			Name:         req.ClientName,
			RedirectURIs: req.RedirectURIs,
			Mode:         domain.ConnectionMode(req.Mode),
		}
		if req.LockedSpaceID != "" {
			spaceID, err := uuid.FromString(req.LockedSpaceID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_client_metadata", "malformed locked_space_id")
				return
			}
			client.LockedSpaceID = spaceID
			client.Mode = domain.ModeLockedSpace
		}

		created, err := s.Register(r.Context(), client)
		if err != nil {
			s.logger.Warn("client registration failed", "error", err)
			writeError(w, http.StatusBadRequest, "invalid_client_metadata", "registration rejected")
			return
		}
		writeJSON(w, http.StatusCreated, registrationResponse{
			ClientID:     created.ID,
			ClientName:   created.Name,
			RedirectURIs: created.RedirectURIs,
		})
	})
}

// TokenHandler serves POST /oauth/token. Accepts JSON or form encoding.
func (s *Service) TokenHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "invalid_request", "POST required")
			return
		}

		var req tokenRequest
		switch {
		case r.Header.Get("Content-Type") == "application/json":
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
				return
			}
		default:
			if err := r.ParseForm(); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
				return
			}
			req.GrantType = r.PostFormValue("grant_type")
			req.ClientID = r.PostFormValue("client_id")
		}

		if req.GrantType != "" && req.GrantType != "client_credentials" {
			writeError(w, http.StatusBadRequest, "unsupported_grant_type", req.GrantType)
			return
		}
		if req.ClientID == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "client_id required")
			return
		}

		token, ttl, err := s.IssueToken(r.Context(), req.ClientID)
		if errors.Is(err, ErrUnknownClient) {
			writeError(w, http.StatusUnauthorized, "invalid_client", "unknown client")
			return
		}
		if err != nil {
			s.logger.Error("token issuance failed", "client_id", req.ClientID, "error", err)
			writeError(w, http.StatusInternalServerError, "server_error", "")
			return
		}
		writeJSON(w, http.StatusOK, tokenResponse{
			AccessToken: token,
			TokenType:   "Bearer",
			ExpiresIn:   int64(ttl.Seconds()),
		})
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, errorResponse{Error: code, Description: description})
}
