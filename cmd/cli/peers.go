package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	core "github.com/MLTQ/OrbWeaver-sub000/core"
)

func peerAddHandler(cmd *cobra.Command, args []string) error {
	n, err := requireNode()
	if err != nil {
		return err
	}
	decoded, err := core.DecodeFriendcode(args[0])
	if err != nil {
		return err
	}
	var hint string
	if len(decoded.AddressHints) > 0 {
		hint = decoded.AddressHints[0]
	}
	if err := n.Store.UpsertPeerAddress(cmd.Context(), decoded.PeerID, hint, fmt.Sprintf("%x", decoded.KeyExchangePub)); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), decoded.PeerID)
	return nil
}

func peerShowHandler(cmd *cobra.Command, args []string) error {
	n, err := requireNode()
	if err != nil {
		return err
	}
	p, err := n.Agent.GetPeer(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s  trust=%s  addr=%s\n", p.ID, p.TrustState, p.Addr)
	return nil
}

func peerBlockHandler(cmd *cobra.Command, args []string) error {
	n, err := requireNode()
	if err != nil {
		return err
	}
	reason := ""
	if len(args) > 1 {
		reason = args[1]
	}
	if err := n.Store.BlockPeer(cmd.Context(), core.BlockedPeer{
		PeerID:    args[0],
		Reason:    reason,
		CreatedAt: core.NowISO8601(),
	}); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "blocked")
	return nil
}

func peerBlockIPHandler(cmd *cobra.Command, args []string) error {
	n, err := requireNode()
	if err != nil {
		return err
	}
	blockType := core.BlockExact
	if t, _ := cmd.Flags().GetString("type"); t == "range" {
		blockType = core.BlockRange
	}
	reason, _ := cmd.Flags().GetString("reason")
	if _, err := n.Store.AddIPBlock(cmd.Context(), core.IPBlock{
		Literal:   args[0],
		Type:      blockType,
		BlockedAt: core.NowISO8601(),
		Reason:    reason,
		Active:    true,
	}); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "blocked")
	return nil
}

var peerCmd = &cobra.Command{
	Use:   "peer",
	Short: "Manage known peers, trust, and blocklists",
}

var peerAddCmd = &cobra.Command{Use: "add <friendcode>", Short: "Add a peer from a friendcode", Args: cobra.ExactArgs(1), RunE: peerAddHandler}
var peerShowCmd = &cobra.Command{Use: "show <peer-id>", Short: "Show a known peer", Args: cobra.ExactArgs(1), RunE: peerShowHandler}
var peerBlockCmd = &cobra.Command{Use: "block <peer-id> [reason]", Short: "Block a peer", Args: cobra.RangeArgs(1, 2), RunE: peerBlockHandler}
var peerBlockIPCmd = &cobra.Command{Use: "block-ip <literal>", Short: "Block an IP or CIDR range", Args: cobra.ExactArgs(1), RunE: peerBlockIPHandler}

func init() {
	peerBlockIPCmd.Flags().String("type", "exact", "exact or range")
	peerBlockIPCmd.Flags().String("reason", "", "reason recorded with the block")
	peerCmd.AddCommand(peerAddCmd, peerShowCmd, peerBlockCmd, peerBlockIPCmd)
}

// PeerCmd exports the root command.
var PeerCmd = peerCmd

// RegisterPeer attaches the peer command group to root.
func RegisterPeer(root *cobra.Command) { root.AddCommand(PeerCmd) }
