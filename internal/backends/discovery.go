package backends

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/ion-ash/mcp-mux/internal/domain"
)

// syncServer runs a full discovery pass over all three kinds and
// publishes one aggregate refresh event when the inventory changed. A
// kind the backend does not support fails its list call; that kind is
// skipped without touching its stored features.
func (m *Manager) syncServer(ctx context.Context, conn *connection) error {
	var added, removed []domain.QualifiedName
	changedKinds := make([]domain.FeatureKind, 0, 3)

	for _, kind := range domain.Kinds() {
		diff, err := m.syncKind(ctx, conn, kind)
		if err != nil {
			m.logger.Debug("Skipping kind during discovery",
				"server_id", conn.server.ID,
				"kind", kind,
				"error", err,
			)
			continue
		}
		added = append(added, diff.added...)
		removed = append(removed, diff.removed...)
		if diff.changed() {
			changedKinds = append(changedKinds, kind)
		}
	}

	if len(changedKinds) == 0 {
		return nil
	}
	for _, kind := range changedKinds {
		m.broadcaster.Publish(kindEvent(conn.server, kind))
	}
	m.broadcaster.Publish(domain.ServerFeaturesRefreshed{
		SpaceID:  conn.server.SpaceID,
		ServerID: conn.server.ID,
		Added:    added,
		Removed:  removed,
	})
	return nil
}

// resync refreshes one kind after a backend announced a list change.
func (m *Manager) resync(server domain.Server, kind domain.FeatureKind) {
	conn, err := m.lookup(server.SpaceID, server.ID)
	if err != nil {
		// Notification raced a disconnect; the teardown already handled it.
		return
	}

	base := m.runCtx
	if base == nil {
		base = context.Background()
	}
	ctx, cancel := context.WithTimeout(base, m.syncTimeout)
	defer cancel()

	diff, err := m.syncKind(ctx, conn, kind)
	if err != nil {
		m.logger.Warn("Feature re-discovery failed",
			"server_id", server.ID,
			"kind", kind,
			"error", err,
		)
		return
	}
	if diff.changed() {
		m.broadcaster.Publish(kindEvent(server, kind))
	}
}

type kindDiff struct {
	added   []domain.QualifiedName
	removed []domain.QualifiedName
	updated int
}

func (d kindDiff) changed() bool {
	return len(d.added) > 0 || len(d.removed) > 0 || d.updated > 0
}

// syncKind reconciles the stored features of one kind against what the
// backend currently advertises: new features are inserted, edited
// descriptors overwritten, and vanished features deleted.
func (m *Manager) syncKind(ctx context.Context, conn *connection, kind domain.FeatureKind) (kindDiff, error) {
	fresh, err := m.listKind(ctx, conn, kind)
	if err != nil {
		return kindDiff{}, err
	}

	stored, err := m.features.ListFeatures(ctx, conn.server.SpaceID, conn.server.ID)
	if err != nil {
		return kindDiff{}, fmt.Errorf("listing stored features: %w", err)
	}

	existing := make(map[string]domain.Feature)
	for _, f := range stored {
		if f.Kind == kind {
			existing[f.Name] = f
		}
	}

	var diff kindDiff
	for _, f := range fresh {
		prev, ok := existing[f.Name]
		if ok {
			delete(existing, f.Name)
			if descriptorEqual(prev, f) {
				continue
			}
			diff.updated++
		} else {
			diff.added = append(diff.added, f.QualifiedName())
		}
		if err := m.features.Upsert(ctx, f); err != nil {
			return kindDiff{}, fmt.Errorf("storing feature %s: %w", f.QualifiedName(), err)
		}
	}
	for _, f := range existing {
		if err := m.features.Delete(ctx, f.SpaceID, f.ServerID, f.Kind, f.Name); err != nil {
			return kindDiff{}, fmt.Errorf("removing feature %s: %w", f.QualifiedName(), err)
		}
		diff.removed = append(diff.removed, f.QualifiedName())
	}
	return diff, nil
}

// listKind fetches one kind's current descriptors from the live session
// and normalizes them into features.
func (m *Manager) listKind(ctx context.Context, conn *connection, kind domain.FeatureKind) ([]domain.Feature, error) {
	base := domain.Feature{
		SpaceID:  conn.server.SpaceID,
		ServerID: conn.server.ID,
		Kind:     kind,
	}

	switch kind {
	case domain.KindTool:
		res, err := conn.session.ListTools(ctx, nil)
		if err != nil {
			return nil, err
		}
		out := make([]domain.Feature, 0, len(res.Tools))
		for _, tool := range res.Tools {
			f := base
			f.Name = tool.Name
			f.Description = tool.Description
			if tool.InputSchema != nil {
				schema, err := json.Marshal(tool.InputSchema)
				if err != nil {
					return nil, fmt.Errorf("encoding schema of tool %s: %w", tool.Name, err)
				}
				f.Schema = schema
			}
			out = append(out, f)
		}
		return out, nil

	case domain.KindPrompt:
		res, err := conn.session.ListPrompts(ctx, nil)
		if err != nil {
			return nil, err
		}
		out := make([]domain.Feature, 0, len(res.Prompts))
		for _, prompt := range res.Prompts {
			f := base
			f.Name = prompt.Name
			f.Description = prompt.Description
			if len(prompt.Arguments) > 0 {
				schema, err := json.Marshal(prompt.Arguments)
				if err != nil {
					return nil, fmt.Errorf("encoding arguments of prompt %s: %w", prompt.Name, err)
				}
				f.Schema = schema
			}
			out = append(out, f)
		}
		return out, nil

	case domain.KindResource:
		res, err := conn.session.ListResources(ctx, nil)
		if err != nil {
			return nil, err
		}
		out := make([]domain.Feature, 0, len(res.Resources))
		for _, resource := range res.Resources {
			f := base
			// Resources are identified by URI, which is unique per server.
			f.Name = resource.URI
			f.Description = resource.Description
			schema, err := json.Marshal(struct {
				Name     string `json:"name,omitempty"`
				MIMEType string `json:"mimeType,omitempty"`
			}{Name: resource.Name, MIMEType: resource.MIMEType})
			if err != nil {
				return nil, fmt.Errorf("encoding descriptor of resource %s: %w", resource.URI, err)
			}
			f.Schema = schema
			out = append(out, f)
		}
		return out, nil

	default:
		return nil, fmt.Errorf("unknown feature kind %q", kind)
	}
}

// descriptorEqual reports whether two versions of the same feature carry
// the same content descriptor.
func descriptorEqual(a, b domain.Feature) bool {
	return a.Description == b.Description && bytes.Equal(a.Schema, b.Schema)
}

func kindEvent(server domain.Server, kind domain.FeatureKind) domain.Event {
	switch kind {
	case domain.KindTool:
		return domain.ToolsChanged{SpaceID: server.SpaceID, ServerID: server.ID}
	case domain.KindPrompt:
		return domain.PromptsChanged{SpaceID: server.SpaceID, ServerID: server.ID}
	case domain.KindResource:
		return domain.ResourcesChanged{SpaceID: server.SpaceID, ServerID: server.ID}
	default:
		panic(fmt.Sprintf("unknown feature kind %q", kind))
	}
}
