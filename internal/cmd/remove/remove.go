// Package remove implements zpm's `remove` command: delete a
// dependency from the nearest package.json, then run install so the
// lockfile and link tree reflect it.
package remove

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/zpmjs/zpm/internal/cmdutil"
	zinstall "github.com/zpmjs/zpm/internal/install"
	"github.com/zpmjs/zpm/internal/manifest"
)

// GetCmd returns the `remove` cobra command.
func GetCmd(helper *cmdutil.Helper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <name>...",
		Short: "Remove one or more dependencies from the nearest package.json",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := helper.GetCmdBase(cmd.Flags())
			if err != nil {
				return err
			}

			manifestPath := filepath.Join(base.ProjectRoot, "package.json")
			raw, err := os.ReadFile(manifestPath)
			if err != nil {
				return fmt.Errorf("reading %s: %w", manifestPath, err)
			}
			man, err := manifest.Parse(raw)
			if err != nil {
				return fmt.Errorf("parsing %s: %w", manifestPath, err)
			}

			removed := 0
			for _, name := range args {
				for _, field := range []map[string]string{man.Dependencies, man.DevDependencies, man.OptionalDependencies, man.PeerDependencies} {
					if _, ok := field[name]; ok {
						delete(field, name)
						removed++
					}
				}
			}
			if removed == 0 {
				base.LogWarning("remove", fmt.Errorf("none of %v were found in %s", args, manifestPath))
			}

			out, err := man.Serialize()
			if err != nil {
				return fmt.Errorf("serializing %s: %w", manifestPath, err)
			}
			if err := os.WriteFile(manifestPath, out, 0o644); err != nil {
				return fmt.Errorf("writing %s: %w", manifestPath, err)
			}

			result, err := zinstall.Run(context.Background(), zinstall.Options{
				ProjectRoot: base.ProjectRoot,
				RegistryURL: base.RegistryURL,
				AuthToken:   base.AuthToken,
				Cache:       base.Cache,
				Logger:      base.Logger,
				Concurrency: base.Concurrency,
			})
			if err != nil {
				base.LogError("install after remove failed: %v", err)
				return err
			}
			base.LogInfo(fmt.Sprintf("removed %d field(s), %d package(s) resolved", removed, len(result.Tree.LocatorToResolution)))
			return nil
		},
	}

	return cmd
}
