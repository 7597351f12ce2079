package cli

import "github.com/spf13/cobra"

// RegisterRoutes attaches every command group defined in the cli package
// to the provided root command, mirroring the teacher's own
// RegisterRoutes aggregator.
func RegisterRoutes(root *cobra.Command) {
	RegisterIdentity(root)
	RegisterThread(root)
	RegisterPost(root)
	RegisterFile(root)
	RegisterPeer(root)
	RegisterDM(root)
	RegisterDiscovery(root)
	RegisterSettings(root)
}
