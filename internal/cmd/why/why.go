// Package why implements zpm's `why` command, printing every chain of
// locators responsible for a given ident appearing in the resolved
// graph.
package why

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zpmjs/zpm/internal/cmdutil"
	"github.com/zpmjs/zpm/internal/ident"
	zinstall "github.com/zpmjs/zpm/internal/install"
)

// GetCmd returns the `why` cobra command.
func GetCmd(helper *cmdutil.Helper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "why <ident>",
		Short: "Show every dependency chain that pulled in a package",
		Args:  cobra.ExactArgs(1),
		RunE:  func(cmd *cobra.Command, args []string) error {
			base, err := helper.GetCmdBase(cmd.Flags())
			if err != nil {
				return err
			}

			id, err := ident.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid ident %q: %w", args[0], err)
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
				base.LogError("why failed: %v", err)
				return err
			}

			chains := result.Tree.Why(id)
			if len(chains) == 0 {
				base.UI.Info(fmt.Sprintf("%s is not in the resolved graph", id))
				return nil
			}
			for _, chain := range chains {
				line := ""
				for i, locator := range chain {
					if i > 0 {
						line += " > "
					}
					line += locator.String()
				}
				base.UI.Info(line)
			}
			return nil
		},
	}

	return cmd
}
