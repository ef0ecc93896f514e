// Package oauth implements the inbound client boundary: dynamic client
// registration, client-credentials token issuance, and the bearer
// middleware that turns a token into a (client, space) identity.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/ion-ash/mcp-mux/internal/domain"
)

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrUnknownClient = errors.New("unknown client")
)

// Identity is the authenticated principal attached to a request: the
// client plus the space its session is scoped to. The space is fixed at
// token issuance; changing space means requesting a new token.
type Identity struct {
	ClientID string
	SpaceID  uuid.UUID
}

// Claims is the JWT payload. The client id travels as the subject.
type Claims struct {
	jwt.RegisteredClaims
	SpaceID string `json:"space_id"`
}

// Service issues and verifies tokens and registers clients.
type Service struct {
	clients domain.ClientRepository
	spaces  domain.SpaceRepository
	issuer  string
	secret  []byte
	ttl     time.Duration
	logger  *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogHandler sets a custom log handler for the Service.
func WithLogHandler(handler slog.Handler) Option {
	return func(s *Service) {
		s.logger = slog.New(handler)
	}
}

// NewService creates a Service. The signing secret must be non-empty.
func NewService(
	clients domain.ClientRepository,
	spaces domain.SpaceRepository,
	issuer string,
	secret []byte,
	ttl time.Duration,
	opts ...Option,
) (*Service, error) {
	if len(secret) == 0 {
		return nil, errors.New("oauth: signing secret must not be empty")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	s := &Service{
		clients: clients,
		spaces:  spaces,
		issuer:  issuer,
		secret:  secret,
		ttl:     ttl,
		logger:  slog.Default().WithGroup("oauth.Service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Register stores a new inbound client and returns its generated id.
func (s *Service) Register(ctx context.Context, client domain.Client) (domain.Client, error) {
	if client.ID == "" {
		id, err := uuid.NewV4()
		if err != nil {
			return domain.Client{}, fmt.Errorf("generating client id: %w", err)
		}
		client.ID = id.String()
	}
	if client.Mode == "" {
		client.Mode = domain.ModeFollowActive
	}
	if client.Mode == domain.ModeLockedSpace {
		if _, err := s.spaces.Get(ctx, client.LockedSpaceID); err != nil {
			return domain.Client{}, fmt.Errorf("locked space %s: %w", client.LockedSpaceID, err)
		}
	}
	if err := s.clients.Save(ctx, client); err != nil {
		return domain.Client{}, fmt.Errorf("saving client: %w", err)
	}
	s.logger.Info("client registered",
		"client_id", client.ID,
		"mode", client.Mode,
	)
	return client, nil
}

// IssueToken mints a bearer token for the client. The embedded space is
// the client's locked space, or the current default space otherwise.
func (s *Service) IssueToken(ctx context.Context, clientID string) (string, time.Duration, error) {
	client, err := s.clients.Get(ctx, clientID)
	if errors.Is(err, domain.ErrNotFound) {
		return "", 0, fmt.Errorf("%w: %s", ErrUnknownClient, clientID)
	}
	if err != nil {
		return "", 0, fmt.Errorf("loading client %s: %w", clientID, err)
	}

	spaceID, err := s.effectiveSpace(ctx, client)
	if err != nil {
		return "", 0, err
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   client.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		SpaceID: spaceID.String(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", 0, fmt.Errorf("signing token for client %s: %w", clientID, err)
	}
	return signed, s.ttl, nil
}

// Verify parses and validates a bearer token.
func (s *Service) Verify(tokenString string) (Identity, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	spaceID, err := uuid.FromString(claims.SpaceID)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: malformed space claim", ErrInvalidToken)
	}
	if claims.Subject == "" {
		return Identity{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return Identity{ClientID: claims.Subject, SpaceID: spaceID}, nil
}

func (s *Service) effectiveSpace(ctx context.Context, client domain.Client) (uuid.UUID, error) {
	if client.Mode == domain.ModeLockedSpace {
		return client.LockedSpaceID, nil
	}
	space, err := s.spaces.Default(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("resolving default space: %w", err)
	}
	return space.ID, nil
}
