package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func dmSendHandler(cmd *cobra.Command, args []string) error {
	n, err := requireNode()
	if err != nil {
		return err
	}
	msg, err := n.DM.Send(cmd.Context(), args[0], []byte(args[1]))
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), msg.ID)
	return nil
}

func dmListHandler(cmd *cobra.Command, _ []string) error {
	n, err := requireNode()
	if err != nil {
		return err
	}
	convos, err := n.DM.ListConversations(cmd.Context())
	if err != nil {
		return err
	}
	for _, c := range convos {
		fmt.Fprintf(cmd.OutOrStdout(), "%s  with %s  unread=%d  %q\n", c.ID, c.OtherPeerID, c.UnreadCount, c.Preview)
	}
	return nil
}

func dmShowHandler(cmd *cobra.Command, args []string) error {
	n, err := requireNode()
	if err != nil {
		return err
	}
	limit, _ := cmd.Flags().GetInt("limit")
	msgs, err := n.DM.GetMessages(cmd.Context(), args[0], limit)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		if m.Warning != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s: [%s]\n", m.CreatedAt, m.FromPeerID, m.Warning)
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %s\n", m.CreatedAt, m.FromPeerID, string(m.Body))
	}
	return n.DM.MarkRead(cmd.Context(), args[0])
}

var dmCmd = &cobra.Command{
	Use:   "dm",
	Short: "Send and read direct messages",
}

var dmSendCmd = &cobra.Command{Use: "send <peer-id> <body>", Short: "Send a direct message", Args: cobra.ExactArgs(2), RunE: dmSendHandler}
var dmListCmd = &cobra.Command{Use: "list", Short: "List conversation rollups", Args: cobra.NoArgs, RunE: dmListHandler}
var dmShowCmd = &cobra.Command{Use: "show <conversation-id>", Short: "Show a conversation's messages, marking it read", Args: cobra.ExactArgs(1), RunE: dmShowHandler}

func init() {
	dmShowCmd.Flags().Int("limit", 50, "maximum messages to return")
	dmCmd.AddCommand(dmSendCmd, dmListCmd, dmShowCmd)
}

// DMCmd exports the root command.
var DMCmd = dmCmd

// RegisterDM attaches the dm command group to root.
func RegisterDM(root *cobra.Command) { root.AddCommand(DMCmd) }
