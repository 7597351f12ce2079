package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	core "github.com/MLTQ/OrbWeaver-sub000/core"
)

func discoveryStatusHandler(cmd *cobra.Command, _ []string) error {
	n, err := requireNode()
	if err != nil {
		return err
	}
	var status string
	switch n.Disco.Status() {
	case core.DhtConnected:
		status = "connected"
	case core.DhtUnreachable:
		status = "unreachable"
	default:
		status = "checking"
	}
	fmt.Fprintln(cmd.OutOrStdout(), status)
	return nil
}

func discoveryFindHandler(cmd *cobra.Command, args []string) error {
	n, err := requireNode()
	if err != nil {
		return err
	}
	peers, err := n.Disco.FindPeers(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	for _, p := range peers {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %v\n", p.ID, p.Addrs)
	}
	return nil
}

func discoveryTagHandler(cmd *cobra.Command, args []string) error {
	n, err := requireNode()
	if err != nil {
		return err
	}
	if err := n.JoinTag(args[0]); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "advertising")
	return nil
}

var discoveryCmd = &cobra.Command{
	Use:   "discovery",
	Short: "DHT bootstrap status and rendezvous lookups",
}

var discoveryStatusCmd = &cobra.Command{Use: "status", Short: "Show DHT connectivity status", Args: cobra.NoArgs, RunE: discoveryStatusHandler}
var discoveryFindCmd = &cobra.Command{Use: "find <topic>", Short: "Find peers advertising a topic", Args: cobra.ExactArgs(1), RunE: discoveryFindHandler}
var discoveryTagCmd = &cobra.Command{Use: "tag <name>", Short: "Join and advertise under a named topic", Args: cobra.ExactArgs(1), RunE: discoveryTagHandler}

func init() {
	discoveryCmd.AddCommand(discoveryStatusCmd, discoveryFindCmd, discoveryTagCmd)
}

// DiscoveryCmd exports the root command.
var DiscoveryCmd = discoveryCmd

// RegisterDiscovery attaches the discovery command group to root.
func RegisterDiscovery(root *cobra.Command) { root.AddCommand(DiscoveryCmd) }
