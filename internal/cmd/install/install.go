// Package install wires zpm's `install` command to the internal/install
// orchestrator: resolve every workspace's dependencies, fetch what's
// missing from cache, link the topology, and run lifecycle scripts.
package install

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zpmjs/zpm/internal/cmdutil"
	zinstall "github.com/zpmjs/zpm/internal/install"
)

// GetCmd returns the `install` cobra command.
func GetCmd(helper *cmdutil.Helper) *cobra.Command {
	var opts struct {
		topology        string
		refreshLockfile bool
	}

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Resolve, fetch and link every workspace's dependencies",
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := helper.GetCmdBase(cmd.Flags())
			if err != nil {
				return err
			}

			result, err := zinstall.Run(context.Background(), zinstall.Options{
				ProjectRoot:     base.ProjectRoot,
				RegistryURL:     base.RegistryURL,
				AuthToken:       base.AuthToken,
				Cache:           base.Cache,
				Logger:          base.Logger,
				Concurrency:     base.Concurrency,
				Topology:        zinstall.Topology(opts.topology),
				RefreshLockfile: opts.refreshLockfile,
			})
			if err != nil {
				base.LogError("install failed: %v", err)
				return err
			}

			base.LogInfo(fmt.Sprintf("resolved %d package(s)", len(result.Tree.LocatorToResolution)))
			for _, buildErr := range result.Build.Errors {
				base.LogWarning("build", fmt.Errorf("%s: %w", buildErr.Locator, buildErr.Err))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.topology, "topology", "", "Install topology: node-modules (default), pnpm-store, or pnp")
	cmd.Flags().BoolVar(&opts.refreshLockfile, "refresh-lockfile", false, "Re-resolve every descriptor instead of adopting the existing lockfile's pins")

	return cmd
}
