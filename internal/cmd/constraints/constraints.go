// Package constraints implements zpm's `constraints` command, running
// a small set of project-wide rules against the resolved graph: every
// workspace depends on the same version of a given package, or every
// workspace's manifest carries a required field value.
package constraints

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zpmjs/zpm/internal/cmdutil"
	"github.com/zpmjs/zpm/internal/constraints"
	"github.com/zpmjs/zpm/internal/ident"
	zinstall "github.com/zpmjs/zpm/internal/install"
	"github.com/zpmjs/zpm/internal/manifest"
	"github.com/zpmjs/zpm/internal/protocol"
)

// GetCmd returns the `constraints` cobra command.
func GetCmd(helper *cmdutil.Helper) *cobra.Command {
	var sameVersion []string
	var licenseValue string

	cmd := &cobra.Command{
		Use:   "constraints",
		Short: "Check project-wide dependency and manifest rules against the resolved graph",
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := helper.GetCmdBase(cmd.Flags())
			if err != nil {
				return err
			}

			var rules []constraints.Rule
			for _, raw := range sameVersion {
				id, err := ident.Parse(raw)
				if err != nil {
					return fmt.Errorf("invalid --same-version ident %q: %w", raw, err)
				}
				rules = append(rules, constraints.SameVersion{Dependency: id})
			}
			if licenseValue != "" {
				rules = append(rules, constraints.FieldEquals{Field: "license", Value: licenseValue})
			}
			if len(rules) == 0 {
				base.UI.Info("no rules configured; pass --same-version and/or --license")
				return nil
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
				base.LogError("constraints check failed: %v", err)
				return err
			}

			manifests := map[protocol.Locator]*manifest.Manifest{}
			for locator, pkg := range result.Install.Packages {
				manifests[locator] = pkg.Manifest
			}

			workspaces := constraints.BuildWorkspaces(result.Tree, manifests)
			violations := (constraints.Ruleset{Rules: rules}).Check(workspaces)

			if len(violations) == 0 {
				base.UI.Info("all constraints satisfied")
				return nil
			}
			for _, v := range violations {
				base.UI.Warn(fmt.Sprintf("%s: %s: %s", v.Workspace, v.Rule, v.Message))
			}
			return fmt.Errorf("constraints: %d violation(s)", len(violations))
		},
	}

	cmd.Flags().StringArrayVar(&sameVersion, "same-version", nil, "ident that every workspace must resolve to the same version (repeatable)")
	cmd.Flags().StringVar(&licenseValue, "license", "", "license field every workspace manifest must carry")

	return cmd
}
