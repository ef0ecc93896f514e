package notifier

import (
	"fmt"

	"github.com/gofrs/uuid/v5"
	"github.com/ion-ash/mcp-mux/internal/domain"
)

// scope describes which sessions and notification kinds one event can
// affect. An empty clientID means every session in the space.
type scope struct {
	spaceID  uuid.UUID
	clientID string
	kinds    []domain.FeatureKind
}

// deriveScope maps an event onto its affected scope. The switch is
// exhaustive over the closed event union: a new variant fails here until
// someone decides which kinds it touches.
func deriveScope(event domain.Event) (scope, error) {
	switch ev := event.(type) {
	case domain.ToolsChanged:
		return scope{spaceID: ev.SpaceID, kinds: []domain.FeatureKind{domain.KindTool}}, nil
	case domain.PromptsChanged:
		return scope{spaceID: ev.SpaceID, kinds: []domain.FeatureKind{domain.KindPrompt}}, nil
	case domain.ResourcesChanged:
		return scope{spaceID: ev.SpaceID, kinds: []domain.FeatureKind{domain.KindResource}}, nil
	case domain.ServerStatusChanged:
		// A connect or disconnect moves every feature of the server in or
		// out of all visible sets, so every kind may change.
		return scope{spaceID: ev.SpaceID, kinds: domain.Kinds()}, nil
	case domain.ServerFeaturesRefreshed:
		return scope{spaceID: ev.SpaceID, kinds: refreshedKinds(ev)}, nil
	case domain.GrantIssued:
		return scope{spaceID: ev.SpaceID, clientID: ev.ClientID, kinds: domain.Kinds()}, nil
	case domain.GrantRevoked:
		return scope{spaceID: ev.SpaceID, clientID: ev.ClientID, kinds: domain.Kinds()}, nil
	default:
		return scope{}, fmt.Errorf("unhandled event variant %T", event)
	}
}

// refreshedKinds narrows a discovery refresh to the kinds actually named
// in its delta. An empty or undecodable delta widens back to all kinds.
func refreshedKinds(ev domain.ServerFeaturesRefreshed) []domain.FeatureKind {
	seen := make(map[domain.FeatureKind]bool)
	for _, qn := range append(ev.Added[:len(ev.Added):len(ev.Added)], ev.Removed...) {
		_, _, kind, _, err := qn.Decode()
		if err != nil {
			continue
		}
		seen[kind] = true
	}
	if len(seen) == 0 {
		return domain.Kinds()
	}
	kinds := make([]domain.FeatureKind, 0, len(seen))
	for _, k := range domain.Kinds() {
		if seen[k] {
			kinds = append(kinds, k)
		}
	}
	return kinds
}
