// Package dedupe implements zpm's `dedupe` command: repoint every
// unbound semver descriptor that could be satisfied by an
// already-resolved locator one rank lower, tightening the resolved
// set's spread without changing what any manifest declared.
package dedupe

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zpmjs/zpm/internal/cmdutil"
	zinstall "github.com/zpmjs/zpm/internal/install"
	"github.com/zpmjs/zpm/internal/resolve"
)

// GetCmd returns the `dedupe` cobra command.
func GetCmd(helper *cmdutil.Helper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dedupe",
		Short: "Tighten resolved versions by reusing an already-chosen locator where possible",
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := helper.GetCmdBase(cmd.Flags())
			if err != nil {
				return err
			}

			result, err := zinstall.Run(context.Background(), zinstall.Options{
				ProjectRoot: base.ProjectRoot,
				RegistryURL: base.RegistryURL,
				AuthToken:   base.AuthToken,
				Cache:       base.Cache,
				Logger:      base.Logger,
				Concurrency: base.Concurrency,
				Immutable:   true,
			})
			if err != nil {
				base.LogError("dedupe failed: %v", err)
				return err
			}

			tree, changes := resolve.Dedupe(result.Tree)
			if len(changes) == 0 {
				base.UI.Info("nothing to dedupe")
				return nil
			}

			for _, c := range changes {
				base.UI.Info(fmt.Sprintf("%s: %s -> %s", c.Descriptor, c.From, c.To))
			}

			if err := zinstall.WriteDedupedLockfile(base.ProjectRoot, tree); err != nil {
				base.LogError("dedupe: writing lockfile: %v", err)
				return err
			}
			base.UI.Info(fmt.Sprintf("deduped %d descriptor(s)", len(changes)))
			return nil
		},
	}

	return cmd
}
