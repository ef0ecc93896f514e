// Package domain holds the entities shared by the mcp-mux core: spaces,
// features, feature sets, grants, domain events, and the qualified-name
// codec. Storage adapters and the gateway depend on this package; it
// depends on nothing above the standard library and uuid.
package domain

import (
	"encoding/json"
	"time"

	"github.com/gofrs/uuid/v5"
)

// FeatureKind discriminates the three MCP capability families.
type FeatureKind string

const (
	KindTool     FeatureKind = "tool"
	KindResource FeatureKind = "resource"
	KindPrompt   FeatureKind = "prompt"
)

// Kinds lists every feature kind in a fixed order.
func Kinds() []FeatureKind {
	return []FeatureKind{KindTool, KindPrompt, KindResource}
}

// Valid reports whether k is one of the known feature kinds.
func (k FeatureKind) Valid() bool {
	switch k {
	case KindTool, KindResource, KindPrompt:
		return true
	}
	return false
}

// ConnectionStatus represents the lifecycle of a backend server connection.
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
)

// Space is the tenant boundary. Exactly one space carries the default flag
// at any time; the storage layer enforces that invariant.
type Space struct {
	ID        uuid.UUID
	Name      string
	IsDefault bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Server is a registered backend within a space. The core never owns
// servers; it reads which ones are enabled and routes calls to them.
type Server struct {
	ID      string
	SpaceID uuid.UUID
	// Transport selects how the backend is reached: "stdio" or "http".
	Transport string
	Command   string
	Args      []string
	Endpoint  string
	Enabled   bool
	Status    ConnectionStatus
}

// Feature is one discoverable capability (tool, resource, or prompt)
// exposed by a backend server. Description and Schema form the content
// descriptor: they are hashed for change detection, never interpreted.
type Feature struct {
	SpaceID     uuid.UUID
	ServerID    string
	Kind        FeatureKind
	Name        string
	Description string
	Schema      json.RawMessage
}

// QualifiedName returns the feature's globally unique identity. Features
// read from a repository always carry non-empty segments, so this cannot
// produce an ambiguous name.
func (f Feature) QualifiedName() QualifiedName {
	return encodeSegments(f.SpaceID.String(), f.ServerID, string(f.Kind), f.Name)
}

// ConnectionMode controls how an inbound client is scoped to a space.
type ConnectionMode string

const (
	// ModeFollowActive scopes each new session to the default space at
	// connect time.
	ModeFollowActive ConnectionMode = "follow_active"
	// ModeLockedSpace pins every session to LockedSpaceID.
	ModeLockedSpace ConnectionMode = "locked_space"
)

// Client is an inbound client registered through dynamic client
// registration. The core treats it as an opaque identity plus a space
// scoping rule.
type Client struct {
	ID            string
	Name          string
	RedirectURIs  []string
	Mode          ConnectionMode
	LockedSpaceID uuid.UUID
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Grant associates an inbound client with one feature set in one space.
// Grants are created and revoked by the authorization flow; the core only
// reads them.
type Grant struct {
	ID           uuid.UUID
	ClientID     string
	SpaceID      uuid.UUID
	FeatureSetID uuid.UUID
	IssuedAt     time.Time
}
