package domain

import "github.com/gofrs/uuid/v5"

// FeatureSetType discriminates the two feature set variants.
type FeatureSetType string

const (
	// FeatureSetBuiltin is a system-managed set ("all features of server
	// X", or "all features in the space"). Builtin sets are never
	// snapshotted; membership re-evaluates against the live feature
	// inventory on every resolution.
	FeatureSetBuiltin FeatureSetType = "builtin"
	// FeatureSetCustom enumerates its members explicitly.
	FeatureSetCustom FeatureSetType = "custom"
)

// FeatureSet is a named, space-scoped group of feature references that
// grants attach to.
type FeatureSet struct {
	ID      uuid.UUID
	SpaceID uuid.UUID
	Name    string
	Type    FeatureSetType
	// BuiltinServerID narrows a builtin set to one server. Empty means
	// every server in the space. Ignored for custom sets.
	BuiltinServerID string
}

// Membership is the resolved membership rule of a feature set: exactly one
// of BuiltinMembership or CustomMembership.
type Membership interface {
	isMembership()
}

// BuiltinMembership expands live against the feature repository.
type BuiltinMembership struct {
	SpaceID  uuid.UUID
	ServerID string // empty selects all servers in the space
}

func (BuiltinMembership) isMembership() {}

// CustomMembership holds stored qualified-name references. References that
// no longer resolve against the feature repository are dropped silently
// during resolution.
type CustomMembership struct {
	Members []QualifiedName
}

func (CustomMembership) isMembership() {}
