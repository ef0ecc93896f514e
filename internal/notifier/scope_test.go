package notifier

import (
	"testing"

	"github.com/gofrs/uuid/v5"
	"github.com/ion-ash/mcp-mux/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveScope(t *testing.T) {
	t.Parallel()

	space := uuid.Must(uuid.NewV4())
	toolQN, err := domain.EncodeQualifiedName(space, "srv", domain.KindTool, "read_file")
	require.NoError(t, err)
	promptQN, err := domain.EncodeQualifiedName(space, "srv", domain.KindPrompt, "review")
	require.NoError(t, err)

	cases := []struct {
		name       string
		event      domain.Event
		wantClient string
		wantKinds  []domain.FeatureKind
	}{
		{
			name:      "tools changed",
			event:     domain.ToolsChanged{SpaceID: space, ServerID: "srv"},
			wantKinds: []domain.FeatureKind{domain.KindTool},
		},
		{
			name:      "prompts changed",
			event:     domain.PromptsChanged{SpaceID: space, ServerID: "srv"},
			wantKinds: []domain.FeatureKind{domain.KindPrompt},
		},
		{
			name:      "resources changed",
			event:     domain.ResourcesChanged{SpaceID: space, ServerID: "srv"},
			wantKinds: []domain.FeatureKind{domain.KindResource},
		},
		{
			name:      "status change hits all kinds",
			event:     domain.ServerStatusChanged{SpaceID: space, ServerID: "srv", Status: domain.StatusDisconnected},
			wantKinds: domain.Kinds(),
		},
		{
			name: "refresh narrows to kinds in the delta",
			event: domain.ServerFeaturesRefreshed{
				SpaceID:  space,
				ServerID: "srv",
				Added:    []domain.QualifiedName{toolQN},
				Removed:  []domain.QualifiedName{promptQN},
			},
			wantKinds: []domain.FeatureKind{domain.KindTool, domain.KindPrompt},
		},
		{
			name:      "refresh with empty delta widens to all kinds",
			event:     domain.ServerFeaturesRefreshed{SpaceID: space, ServerID: "srv"},
			wantKinds: domain.Kinds(),
		},
		{
			name:       "grant issued targets one client",
			event:      domain.GrantIssued{SpaceID: space, ClientID: "client-a"},
			wantClient: "client-a",
			wantKinds:  domain.Kinds(),
		},
		{
			name:       "grant revoked targets one client",
			event:      domain.GrantRevoked{SpaceID: space, ClientID: "client-a"},
			wantClient: "client-a",
			wantKinds:  domain.Kinds(),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			sc, err := deriveScope(tc.event)
			require.NoError(t, err)
			assert.Equal(t, space, sc.spaceID)
			assert.Equal(t, tc.wantClient, sc.clientID)
			assert.ElementsMatch(t, tc.wantKinds, sc.kinds)
		})
	}
}
