package fancy

import (
	"fmt"

	"github.com/ion-ash/mcp-mux/internal/config"
)

// ConfigTree renders a loaded configuration as a styled tree for the
// validate command. Secrets are never printed.
func ConfigTree(cfg *config.Config) string {
	root := Tree("mcpmux")
	root.Child(InfoStyle.Render(fmt.Sprintf("listen %s", cfg.Listen)))
	if cfg.DatabasePath != "" {
		root.Child(InfoStyle.Render(fmt.Sprintf("database %s", cfg.DatabasePath)))
	} else {
		root.Child(InfoStyle.Render("database in-memory"))
	}
	root.Child(InfoStyle.Render(fmt.Sprintf(
		"logging %s/%s", cfg.Logging.Level, cfg.Logging.Format)))
	if cfg.OAuth.Issuer != "" {
		root.Child(InfoStyle.Render(fmt.Sprintf("oauth issuer %s", cfg.OAuth.Issuer)))
	}

	servers := make(map[string][]config.ServerDef, len(cfg.Spaces))
	for _, server := range cfg.Servers {
		servers[server.Space] = append(servers[server.Space], server)
	}

	spacesNode := BranchNode("Spaces", fmt.Sprintf("(%d)", len(cfg.Spaces)))
	for _, space := range cfg.Spaces {
		label := NameStyle.Render(space.Name)
		if space.Default {
			label += InfoStyle.Render(" (default)")
		}
		spaceNode := BranchNode(label, "")
		for _, server := range servers[space.Name] {
			spaceNode.Child(serverLabel(server))
		}
		spacesNode.Child(spaceNode)
	}
	root.Child(spacesNode)

	// Servers with no declared space attach to whichever space is the
	// default at startup.
	if unassigned := servers[""]; len(unassigned) > 0 {
		node := BranchNode("Servers in default space", fmt.Sprintf("(%d)", len(unassigned)))
		for _, server := range unassigned {
			node.Child(serverLabel(server))
		}
		root.Child(node)
	}

	return root.String()
}

func serverLabel(server config.ServerDef) string {
	target := server.Command
	if server.Transport == "http" {
		target = server.Endpoint
	}
	state := EnabledStyle.Render("on")
	if !server.Enabled {
		state = DisabledStyle.Render("off")
	}
	return fmt.Sprintf("%s %s %s %s",
		NameStyle.Render(server.ID),
		InfoStyle.Render(server.Transport),
		InfoStyle.Render(target),
		state,
	)
}
