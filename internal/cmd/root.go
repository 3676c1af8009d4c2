// Package cmd holds the root cobra command for zpm.
package cmd

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/zpmjs/zpm/internal/cmd/add"
	"github.com/zpmjs/zpm/internal/cmd/constraints"
	"github.com/zpmjs/zpm/internal/cmd/dedupe"
	"github.com/zpmjs/zpm/internal/cmd/install"
	"github.com/zpmjs/zpm/internal/cmd/patch"
	"github.com/zpmjs/zpm/internal/cmd/remove"
	"github.com/zpmjs/zpm/internal/cmd/run"
	"github.com/zpmjs/zpm/internal/cmd/why"
	"github.com/zpmjs/zpm/internal/cmdutil"
	"github.com/zpmjs/zpm/internal/signals"
)

// RunWithArgs runs zpm with the specified arguments. The arguments
// should not include the binary being invoked (e.g. "zpm").
func RunWithArgs(args []string, version string) int {
	signalWatcher := signals.NewWatcher()
	helper := cmdutil.NewHelper(version)
	root := getCmd(helper)
	resolvedArgs := resolveArgs(root, args)
	defer helper.Cleanup(root.Flags())
	root.SetArgs(resolvedArgs)

	doneCh := make(chan struct{})
	var execErr error
	go func() {
		execErr = root.Execute()
		close(doneCh)
	}()

	select {
	case <-doneCh:
		signalWatcher.Close()
		var exitErr *cmdutil.Error
		if errors.As(execErr, &exitErr) {
			return exitErr.ExitCode
		} else if execErr != nil {
			return 1
		}
		return 0
	case <-signalWatcher.Done():
		return 1
	}
}

const _defaultCmd = "install"

// resolveArgs adds the default command to args when none of the
// arguments resolve to a known subcommand, help, or version — so a
// bare `zpm` invocation behaves like `zpm install`.
func resolveArgs(root *cobra.Command, args []string) []string {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" || arg == "--version" || arg == "completion" {
			return args
		}
	}
	cmd, _, err := root.Traverse(args)
	if err != nil {
		return args
	} else if cmd.Name() == root.Name() {
		return append([]string{_defaultCmd}, args...)
	}
	return args
}

func getCmd(helper *cmdutil.Helper) *cobra.Command {
	cmd := &cobra.Command{
		Use:              "zpm",
		Short:            "A content-addressed package manager for the npm ecosystem",
		TraverseChildren: true,
		Version:          helper.Version,
	}
	cmd.SetVersionTemplate("{{.Version}}\n")
	helper.AddFlags(cmd.PersistentFlags())

	cmd.AddCommand(install.GetCmd(helper))
	cmd.AddCommand(add.GetCmd(helper))
	cmd.AddCommand(remove.GetCmd(helper))
	cmd.AddCommand(why.GetCmd(helper))
	cmd.AddCommand(patch.GetApplyCmd(helper))
	cmd.AddCommand(patch.GetCommitCmd(helper))
	cmd.AddCommand(run.GetRunCmd(helper))
	cmd.AddCommand(run.GetExecCmd(helper))
	cmd.AddCommand(constraints.GetCmd(helper))
	cmd.AddCommand(dedupe.GetCmd(helper))
	return cmd
}
