package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	core "github.com/MLTQ/OrbWeaver-sub000/core"
)

func identityShowHandler(cmd *cobra.Command, _ []string) error {
	n, err := requireNode()
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), n.Identity.LocalPeerID())
	return nil
}

func identityFriendcodeHandler(cmd *cobra.Command, args []string) error {
	n, err := requireNode()
	if err != nil {
		return err
	}
	var hints []string
	if len(args) > 0 {
		hints = strings.Split(args[0], ",")
	}
	code, err := n.Identity.Friendcode(hints)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), code)
	return nil
}

func identityDecodeHandler(cmd *cobra.Command, args []string) error {
	decoded, err := core.DecodeFriendcode(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "peer_id: %s\nkey_exchange_pub: %x\naddress_hints: %s\n",
		decoded.PeerID, decoded.KeyExchangePub, strings.Join(decoded.AddressHints, ","))
	return nil
}

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Local node identity and friendcodes",
}

var identityShowCmd = &cobra.Command{Use: "show", Short: "Print this node's peer id", Args: cobra.NoArgs, RunE: identityShowHandler}
var identityFriendcodeCmd = &cobra.Command{Use: "friendcode [address-hints]", Short: "Generate a friendcode", Args: cobra.MaximumNArgs(1), RunE: identityFriendcodeHandler}
var identityDecodeCmd = &cobra.Command{Use: "decode <friendcode>", Short: "Decode a friendcode", Args: cobra.ExactArgs(1), RunE: identityDecodeHandler}

func init() {
	identityCmd.AddCommand(identityShowCmd, identityFriendcodeCmd, identityDecodeCmd)
}

// IdentityCmd exports the root command.
var IdentityCmd = identityCmd

// RegisterIdentity attaches the identity command group to root.
func RegisterIdentity(root *cobra.Command) { root.AddCommand(IdentityCmd) }
