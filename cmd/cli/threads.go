package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	core "github.com/MLTQ/OrbWeaver-sub000/core"
)

func threadCreateHandler(cmd *cobra.Command, args []string) error {
	n, err := requireNode()
	if err != nil {
		return err
	}
	title, body := args[0], args[1]
	var topics []string
	if len(args) > 2 {
		topics = strings.Split(args[2], ",")
	}
	rebroadcast, _ := cmd.Flags().GetBool("host")

	t := core.Thread{
		Title:         title,
		CreatorPeerID: n.Identity.LocalPeerID(),
		Visibility:    core.VisibilityPublicSocial,
		Rebroadcast:   rebroadcast,
	}
	opening := core.Post{AuthorPeerID: n.Identity.LocalPeerID(), Body: body}
	if err := n.Publish.CreateThread(cmd.Context(), t, opening, topics); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "thread created")
	return nil
}

func threadShowHandler(cmd *cobra.Command, args []string) error {
	n, err := requireNode()
	if err != nil {
		return err
	}
	t, err := n.Store.GetThread(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if t == nil {
		fmt.Fprintln(cmd.OutOrStdout(), "not found")
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s  %q  by %s  hash=%s\n", t.ID, t.Title, t.CreatorPeerID, t.ThreadHash)
	posts, err := n.Store.ListPostsByThread(cmd.Context(), t.ID)
	if err != nil {
		return err
	}
	for _, p := range posts {
		fmt.Fprintf(cmd.OutOrStdout(), "  %s %s: %s\n", p.CreatedAt, p.AuthorPeerID, p.Body)
	}
	return nil
}

func threadJoinHandler(cmd *cobra.Command, args []string) error {
	n, err := requireNode()
	if err != nil {
		return err
	}
	if err := n.JoinThread(args[0]); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "joined")
	return nil
}

func threadDeleteHandler(cmd *cobra.Command, args []string) error {
	n, err := requireNode()
	if err != nil {
		return err
	}
	removed, err := n.Store.DeleteThread(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "removed thread; %d file references dropped\n", len(removed))
	return nil
}

var threadCmd = &cobra.Command{
	Use:   "thread",
	Short: "Create, browse, and manage discussion threads",
}

var threadCreateCmd = &cobra.Command{Use: "create <title> <body> [topics]", Short: "Create a new thread", Args: cobra.RangeArgs(2, 3), RunE: threadCreateHandler}
var threadShowCmd = &cobra.Command{Use: "show <thread-id>", Short: "Show a thread and its posts", Args: cobra.ExactArgs(1), RunE: threadShowHandler}
var threadJoinCmd = &cobra.Command{Use: "join <thread-id>", Short: "Subscribe to a thread's topic", Args: cobra.ExactArgs(1), RunE: threadJoinHandler}
var threadDeleteCmd = &cobra.Command{Use: "delete <thread-id>", Short: "Delete a thread and its posts", Args: cobra.ExactArgs(1), RunE: threadDeleteHandler}

func init() {
	threadCreateCmd.Flags().Bool("host", false, "keep rebroadcasting this thread's updates as new posts arrive")
	threadCmd.AddCommand(threadCreateCmd, threadShowCmd, threadJoinCmd, threadDeleteCmd)
}

// ThreadCmd exports the root command.
var ThreadCmd = threadCmd

// RegisterThread attaches the thread command group to root.
func RegisterThread(root *cobra.Command) { root.AddCommand(ThreadCmd) }
