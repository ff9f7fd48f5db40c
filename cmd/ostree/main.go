// Command ostree is a thin cobra wrapper over internal/repo, mirroring
// the shape of upstream's ot-builtin-* dispatch (init, commit, show,
// rev-parse, fsck, write-ref, link-file). It is a demonstration
// surface, not a full CLI: no remotes, no pull, no summary generation.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ostree-go/ostree/internal/checksum"
	"github.com/ostree-go/ostree/internal/fsck"
	"github.com/ostree-go/ostree/internal/objects"
	"github.com/ostree-go/ostree/internal/repo"
	"github.com/ostree-go/ostree/internal/variant"
)

var repoPath string

var rootCmd = &cobra.Command{
	Use:   "ostree",
	Short: "content-addressed repository tool",
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "create a new repository",
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, _ := cmd.Flags().GetString("mode")
		_, err := repo.Init(repoPath, repo.Mode(mode))
		return err
	},
}

var commitCmd = &cobra.Command{
	Use:   "commit <tree-dir>",
	Short: "commit a directory tree",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := repo.Open(repoPath)
		if err != nil {
			return err
		}
		defer r.Close()

		subject, _ := cmd.Flags().GetString("subject")
		body, _ := cmd.Flags().GetString("body")
		branch, _ := cmd.Flags().GetString("branch")
		timestamp, _ := cmd.Flags().GetUint64("timestamp")
		if timestamp == 0 {
			timestamp = uint64(time.Now().Unix())
		}

		var parent checksum.Hash
		var hasParent bool
		if branch != "" {
			if p, err := r.ResolveRev(branch); err == nil {
				parent, hasParent = p, true
			}
		}

		root, err := importDir(r, args[0])
		if err != nil {
			return err
		}
		printTreeSummary(root)

		treeSum, metaSum, err := r.SerializeTree(root)
		if err != nil {
			return err
		}

		commitSum, err := r.AssembleCommit(treeSum, metaSum, parent, hasParent, subject, body, variant.Map{}, timestamp)
		if err != nil {
			return err
		}

		if branch != "" {
			if err := r.WriteRef("", branch, commitSum); err != nil {
				return err
			}
		}

		fmt.Println(commitSum.String())
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show <rev>",
	Short: "show a commit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := repo.Open(repoPath)
		if err != nil {
			return err
		}
		defer r.Close()

		sum, err := r.ResolveRev(args[0])
		if err != nil {
			return err
		}
		c, state, err := r.LoadCommit(sum)
		if err != nil {
			return err
		}

		fmt.Printf("commit %s\n", sum)
		if c.HasParent {
			fmt.Printf("Parent:  %s\n", c.Parent)
		}
		fmt.Printf("Date:    %s\n", objects.FormatCommitDate(c.Timestamp))
		fmt.Printf("Partial: %v\n", state.Partial)
		fmt.Println()
		fmt.Println(c.Subject)
		if c.Body != "" {
			fmt.Println()
			fmt.Println(c.Body)
		}
		return nil
	},
}

var revParseCmd = &cobra.Command{
	Use:   "rev-parse <rev>",
	Short: "resolve a ref or hex checksum",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := repo.Open(repoPath)
		if err != nil {
			return err
		}
		defer r.Close()
		sum, err := r.ResolveRev(args[0])
		if err != nil {
			return err
		}
		fmt.Println(sum.String())
		return nil
	},
}

var writeRefCmd = &cobra.Command{
	Use:   "write-ref <name> <rev>",
	Short: "point a ref at a commit",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := repo.Open(repoPath)
		if err != nil {
			return err
		}
		defer r.Close()
		sum, err := r.ResolveRev(args[1])
		if err != nil {
			return err
		}
		remote, _ := cmd.Flags().GetString("remote")
		return r.WriteRef(remote, args[0], sum)
	},
}

var linkFileCmd = &cobra.Command{
	Use:   "link-file <path>",
	Short: "dedup an external file into the store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := repo.Open(repoPath)
		if err != nil {
			return err
		}
		defer r.Close()

		info, err := os.Stat(args[0])
		if err != nil {
			return err
		}
		sum, err := r.LinkFile(args[0], checksum.FileInput{
			Uid: 0, Gid: 0, Mode: uint32(0100000) | uint32(info.Mode().Perm()),
		})
		if err != nil {
			return err
		}
		fmt.Println(sum.String())
		return nil
	},
}

var fsckCmd = &cobra.Command{
	Use:   "fsck",
	Short: "check reachability and object integrity",
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := repo.Open(repoPath)
		if err != nil {
			return err
		}
		defer r.Close()

		destructive, _ := cmd.Flags().GetBool("delete")
		result, err := fsck.Walk(context.Background(), r, fsck.Options{Destructive: destructive})
		if err != nil {
			return err
		}

		for _, obj := range result.CorruptObjects {
			fmt.Printf("corrupt: %s (in commit %s)\n", obj.Checksum, obj.Commit)
		}
		for _, sum := range result.IncompleteCommits {
			fmt.Printf("incomplete commit: %s\n", sum)
		}
		if !result.OK() {
			os.Exit(1)
		}
		return nil
	},
}

func main() {
	rootCmd.PersistentFlags().StringVar(&repoPath, "repo", ".", "path to the repository")

	initCmd.Flags().String("mode", "bare", "storage mode: bare, bare-user, archive")

	commitCmd.Flags().String("subject", "", "commit subject line")
	commitCmd.Flags().String("body", "", "commit body")
	commitCmd.Flags().String("branch", "", "ref to update with the new commit")
	commitCmd.Flags().Uint64("timestamp", 0, "commit timestamp (unix seconds); defaults to now")

	writeRefCmd.Flags().String("remote", "", "remote name, empty for a local branch")

	fsckCmd.Flags().Bool("delete", false, "delete corrupt objects and mark containing commits incomplete")

	rootCmd.AddCommand(initCmd, commitCmd, showCmd, revParseCmd, writeRefCmd, linkFileCmd, fsckCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "ostree:", err)
		os.Exit(1)
	}
}
