package cli

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	core "github.com/MLTQ/OrbWeaver-sub000/core"
)

func postCreateHandler(cmd *cobra.Command, args []string) error {
	n, err := requireNode()
	if err != nil {
		return err
	}
	threadID, body := args[0], args[1]
	var parents []string
	if parentsArg, _ := cmd.Flags().GetString("reply-to"); parentsArg != "" {
		parents = strings.Split(parentsArg, ",")
	}
	post := core.Post{
		ThreadID:      threadID,
		AuthorPeerID:  n.Identity.LocalPeerID(),
		Body:          body,
		ParentPostIDs: parents,
	}
	created, err := n.Publish.CreatePost(cmd.Context(), post)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), created.ID)
	return nil
}

func postRecentHandler(cmd *cobra.Command, _ []string) error {
	n, err := requireNode()
	if err != nil {
		return err
	}
	limit, _ := cmd.Flags().GetInt("limit")
	views, err := n.Store.ListRecentPosts(cmd.Context(), limit)
	if err != nil {
		return err
	}
	for _, v := range views {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s): %s\n", v.CreatedAt, v.AuthorPeerID, v.ThreadID, v.Body)
	}
	return nil
}

func postReactHandler(cmd *cobra.Command, args []string) error {
	n, err := requireNode()
	if err != nil {
		return err
	}
	reactor := n.Identity.LocalPeerID()
	createdAt := core.NowISO8601()
	sig := n.Identity.Sign([]byte(args[0] + "|" + args[1] + "|" + reactor + "|" + createdAt))
	r := core.Reaction{
		PostID:        args[0],
		Emoji:         args[1],
		ReactorPeerID: reactor,
		Signature:     hex.EncodeToString(sig),
		CreatedAt:     createdAt,
	}
	if err := n.Store.AddReaction(cmd.Context(), r); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "reacted")
	return nil
}

var postCmd = &cobra.Command{
	Use:   "post",
	Short: "Create and browse posts within threads",
}

var postCreateCmd = &cobra.Command{Use: "create <thread-id> <body>", Short: "Create a post", Args: cobra.ExactArgs(2), RunE: postCreateHandler}
var postRecentCmd = &cobra.Command{Use: "recent", Short: "List recent posts across all known threads", Args: cobra.NoArgs, RunE: postRecentHandler}
var postReactCmd = &cobra.Command{Use: "react <post-id> <emoji>", Short: "Attach a reaction to a post", Args: cobra.ExactArgs(2), RunE: postReactHandler}

func init() {
	postCreateCmd.Flags().String("reply-to", "", "comma-separated parent post ids")
	postRecentCmd.Flags().Int("limit", 50, "maximum posts to return")
	postCmd.AddCommand(postCreateCmd, postRecentCmd, postReactCmd)
}

// PostCmd exports the root command.
var PostCmd = postCmd

// RegisterPost attaches the post command group to root.
func RegisterPost(root *cobra.Command) { root.AddCommand(PostCmd) }
