package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

func fileAttachHandler(cmd *cobra.Command, args []string) error {
	n, err := requireNode()
	if err != nil {
		return err
	}
	postID, path := args[0], args[1]
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	mime, _ := cmd.Flags().GetString("mime")
	f, err := n.Publish.AttachFile(cmd.Context(), postID, filepath.Base(path), mime, data)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), f.ID)
	return nil
}

func fileShowHandler(cmd *cobra.Command, args []string) error {
	n, err := requireNode()
	if err != nil {
		return err
	}
	f, err := n.Store.GetFile(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if f == nil {
		fmt.Fprintln(cmd.OutOrStdout(), "not found")
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %d bytes  status=%s\n", f.ID, f.OriginalName, f.SizeBytes, f.Status)
	return nil
}

func fileSaveHandler(cmd *cobra.Command, args []string) error {
	n, err := requireNode()
	if err != nil {
		return err
	}
	f, err := n.Store.GetFile(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if f == nil || f.BlobID == "" {
		return fmt.Errorf("file not available locally")
	}
	dest := args[1]
	if err := n.Blobs.Export(f.BlobID, dest); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "saved")
	return nil
}

var fileCmd = &cobra.Command{
	Use:   "file",
	Short: "Attach, inspect, and save file attachments",
}

var fileAttachCmd = &cobra.Command{Use: "attach <post-id> <path>", Short: "Attach a local file to a post", Args: cobra.ExactArgs(2), RunE: fileAttachHandler}
var fileShowCmd = &cobra.Command{Use: "show <file-id>", Short: "Show a file's status", Args: cobra.ExactArgs(1), RunE: fileShowHandler}
var fileSaveCmd = &cobra.Command{Use: "save <file-id> <dest>", Short: "Save a locally-available file to disk", Args: cobra.ExactArgs(2), RunE: fileSaveHandler}

func init() {
	fileAttachCmd.Flags().String("mime", "application/octet-stream", "MIME type to record")
	fileCmd.AddCommand(fileAttachCmd, fileShowCmd, fileSaveCmd)
}

// FileCmd exports the root command.
var FileCmd = fileCmd

// RegisterFile attaches the file command group to root.
func RegisterFile(root *cobra.Command) { root.AddCommand(FileCmd) }
