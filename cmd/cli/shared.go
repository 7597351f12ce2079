package cli

import (
	"errors"

	core "github.com/MLTQ/OrbWeaver-sub000/core"
)

// activeNode is set once by the hosting binary's main() after assembling
// a core.Node, mirroring the teacher's CurrentLedger() package-level
// accessor (core/helpers.go) for a singleton shared across command
// groups instead of re-threading it through every RunE signature.
var activeNode *core.Node

// SetActiveNode installs the node every cli command operates against.
func SetActiveNode(n *core.Node) { activeNode = n }

var errNodeNotInitialized = errors.New("node not initialized")

func requireNode() (*core.Node, error) {
	if activeNode == nil {
		return nil, errNodeNotInitialized
	}
	return activeNode, nil
}
