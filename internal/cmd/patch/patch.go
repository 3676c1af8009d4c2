// Package patch implements zpm's `patch-apply` and `patch-commit`
// commands: applying a stored unified diff to an unpacked package's
// files, and capturing manual edits back into one.
package patch

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/zpmjs/zpm/internal/archive"
	"github.com/zpmjs/zpm/internal/cmdutil"
	zpatch "github.com/zpmjs/zpm/internal/patch"
)

// GetApplyCmd returns the `patch-apply` cobra command.
func GetApplyCmd(helper *cmdutil.Helper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patch-apply <dir> <patch-file>",
		Short: "Apply a unified-diff patch file to an unpacked package directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := helper.GetCmdBase(cmd.Flags())
			if err != nil {
				return err
			}

			dir, patchFile := args[0], args[1]
			entries, err := archive.ReadDir(dir)
			if err != nil {
				return fmt.Errorf("reading %s: %w", dir, err)
			}

			patchText, err := os.ReadFile(patchFile)
			if err != nil {
				return fmt.Errorf("reading %s: %w", patchFile, err)
			}

			patched, err := zpatch.Apply(entries, string(patchText))
			if err != nil {
				return fmt.Errorf("applying %s to %s: %w", patchFile, dir, err)
			}

			if err := writeEntries(dir, entries, patched); err != nil {
				return err
			}

			base.LogInfo(fmt.Sprintf("applied %s to %s (%d file(s))", patchFile, dir, len(patched)))
			return nil
		},
	}
	return cmd
}

// GetCommitCmd returns the `patch-commit` cobra command.
func GetCommitCmd(helper *cmdutil.Helper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patch-commit <original-dir> <edited-dir> <out-patch-file>",
		Short: "Diff an edited package directory against its original and write a patch file",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := helper.GetCmdBase(cmd.Flags())
			if err != nil {
				return err
			}

			originalDir, editedDir, outFile := args[0], args[1], args[2]
			original, err := archive.ReadDir(originalDir)
			if err != nil {
				return fmt.Errorf("reading %s: %w", originalDir, err)
			}
			edited, err := archive.ReadDir(editedDir)
			if err != nil {
				return fmt.Errorf("reading %s: %w", editedDir, err)
			}

			text, err := zpatch.Diff(original, edited)
			if err != nil {
				return fmt.Errorf("diffing %s against %s: %w", editedDir, originalDir, err)
			}
			if text == "" {
				base.UI.Info("no changes to commit")
				return nil
			}

			if err := os.MkdirAll(filepath.Dir(outFile), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(outFile, []byte(text), 0o644); err != nil {
				return fmt.Errorf("writing %s: %w", outFile, err)
			}

			base.LogInfo(fmt.Sprintf("wrote %s", outFile))
			return nil
		},
	}
	return cmd
}

// writeEntries reconciles dir's on-disk files with patched: files
// removed from the original-to-patched name set are deleted, the rest
// are (re)written with their patched contents and mode.
func writeEntries(dir string, before, patched []archive.Entry) error {
	kept := map[string]struct{}{}
	for _, e := range patched {
		kept[e.Name] = struct{}{}
	}
	for _, e := range before {
		if _, ok := kept[e.Name]; !ok {
			if err := os.Remove(filepath.Join(dir, e.Name)); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("removing %s: %w", e.Name, err)
			}
		}
	}

	for _, e := range patched {
		path := filepath.Join(dir, e.Name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		mode := os.FileMode(e.Mode)
		if mode == 0 {
			mode = 0o644
		}
		if err := os.WriteFile(path, e.Data, mode); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
	}
	return nil
}
