package domain

import "github.com/gofrs/uuid/v5"

// Event is a transient description of a domain change. Events are the sole
// trigger for visible-set re-evaluation; they are broadcast to all
// subscribers and never persisted.
//
// The union is closed: every variant lives in this file, and consumers
// switch exhaustively over the concrete types. Adding a variant forces a
// compile-time decision in every switch with a default-panic guard.
type Event interface {
	// EventSpace returns the space the change is scoped to. No consumer
	// may act on the event outside this space.
	EventSpace() uuid.UUID
	isEvent()
}

// ToolsChanged signals that a backend server's tool list changed.
type ToolsChanged struct {
	SpaceID  uuid.UUID
	ServerID string
}

// PromptsChanged signals that a backend server's prompt list changed.
type PromptsChanged struct {
	SpaceID  uuid.UUID
	ServerID string
}

// ResourcesChanged signals that a backend server's resource list changed.
type ResourcesChanged struct {
	SpaceID  uuid.UUID
	ServerID string
}

// ServerStatusChanged signals a backend connection state transition. A
// Disconnected status removes every feature of the server from all visible
// sets in the space, so it affects all kinds for all sessions there.
type ServerStatusChanged struct {
	SpaceID  uuid.UUID
	ServerID string
	Status   ConnectionStatus
	// FlowID increases monotonically per server so stale transitions from
	// an earlier connection attempt can be told apart from current ones.
	FlowID  uint64
	Message string
}

// ServerFeaturesRefreshed signals a completed feature discovery pass.
type ServerFeaturesRefreshed struct {
	SpaceID  uuid.UUID
	ServerID string
	Added    []QualifiedName
	Removed  []QualifiedName
}

// GrantIssued signals that a client gained a feature set in a space.
type GrantIssued struct {
	SpaceID      uuid.UUID
	ClientID     string
	FeatureSetID uuid.UUID
}

// GrantRevoked signals that a client lost a feature set in a space.
type GrantRevoked struct {
	SpaceID      uuid.UUID
	ClientID     string
	FeatureSetID uuid.UUID
}

func (e ToolsChanged) EventSpace() uuid.UUID            { return e.SpaceID }
func (e PromptsChanged) EventSpace() uuid.UUID          { return e.SpaceID }
func (e ResourcesChanged) EventSpace() uuid.UUID        { return e.SpaceID }
func (e ServerStatusChanged) EventSpace() uuid.UUID     { return e.SpaceID }
func (e ServerFeaturesRefreshed) EventSpace() uuid.UUID { return e.SpaceID }
func (e GrantIssued) EventSpace() uuid.UUID             { return e.SpaceID }
func (e GrantRevoked) EventSpace() uuid.UUID            { return e.SpaceID }

func (ToolsChanged) isEvent()            {}
func (PromptsChanged) isEvent()          {}
func (ResourcesChanged) isEvent()        {}
func (ServerStatusChanged) isEvent()     {}
func (ServerFeaturesRefreshed) isEvent() {}
func (GrantIssued) isEvent()             {}
func (GrantRevoked) isEvent()            {}
