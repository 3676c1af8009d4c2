// Package run implements zpm's `run` and `exec` commands: run a
// lifecycle script, or exec a binary, under the project's composed
// script environment.
package run

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zpmjs/zpm/internal/cmdutil"
	zinstall "github.com/zpmjs/zpm/internal/install"
	"github.com/zpmjs/zpm/internal/protocol"
	"github.com/zpmjs/zpm/internal/scriptenv"
	"github.com/zpmjs/zpm/internal/workspace"
)

// GetRunCmd returns the `run` cobra command.
func GetRunCmd(helper *cmdutil.Helper) *cobra.Command {
	cmd := &cobra.Command{
		Use:                "run <script> [-- args...]",
		Short:              "Run a package.json script under the project's script environment",
		Args:               cobra.MinimumNArgs(1),
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := helper.GetCmdBase(cmd.Flags())
			if err != nil {
				return err
			}

			script := args[0]
			catalog, runner, locator, err := prepareRunner(base)
			if err != nil {
				return err
			}

			scriptBody, ok := catalog.Root.Manifest.Scripts[script]
			if !ok {
				return fmt.Errorf("no %q script in %s's package.json", script, catalog.Root.Manifest.Name)
			}

			base.LogInfo(fmt.Sprintf("running %q: %s", script, scriptBody))
			return runner.RunScript(context.Background(), catalog.Root.Dir, locator, scriptBody)
		},
	}
	return cmd
}

// GetExecCmd returns the `exec` cobra command.
func GetExecCmd(helper *cmdutil.Helper) *cobra.Command {
	cmd := &cobra.Command{
		Use:                "exec <program> [args...]",
		Short:              "Run a binary under the project's script environment",
		Args:               cobra.MinimumNArgs(1),
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := helper.GetCmdBase(cmd.Flags())
			if err != nil {
				return err
			}

			catalog, runner, locator, err := prepareRunner(base)
			if err != nil {
				return err
			}

			return runner.RunExec(context.Background(), catalog.Root.Dir, locator, args[0], args[1:])
		},
	}
	return cmd
}

func prepareRunner(base *cmdutil.CmdBase) (*workspace.Catalog, *scriptenv.Runner, protocol.Locator, error) {
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
		return nil, nil, protocol.Locator{}, fmt.Errorf("resolving install for run: %w", err)
	}

	catalog, err := workspace.Discover(base.ProjectRoot)
	if err != nil {
		return nil, nil, protocol.Locator{}, err
	}

	locator, err := zinstall.RootPackage(result, catalog)
	if err != nil {
		return nil, nil, protocol.Locator{}, err
	}

	composer := &scriptenv.Composer{Install: result.Install, Locations: scriptenv.Locations{}}
	runner := &scriptenv.Runner{Composer: composer}
	return catalog, runner, locator, nil
}
