// Package add implements zpm's `add` command: write a dependency into
// the nearest package.json, then run install so it gets resolved.
package add

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

// GetCmd returns the `add` cobra command.
func GetCmd(helper *cmdutil.Helper) *cobra.Command {
	var opts struct {
		dev      bool
		optional bool
		exact    bool
	}

	cmd := &cobra.Command{
		Use:   "add <descriptor>...",
		Short: "Add one or more dependencies to the nearest package.json",
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

			field := &man.Dependencies
			if opts.dev {
				field = &man.DevDependencies
			} else if opts.optional {
				field = &man.OptionalDependencies
			}
			if *field == nil {
				*field = map[string]string{}
			}
			for _, descriptor := range args {
				name, rangeText := splitDescriptor(descriptor)
				(*field)[name] = rangeText
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
				base.LogError("install after add failed: %v", err)
				return err
			}
			base.LogInfo(fmt.Sprintf("added %d descriptor(s), %d package(s) resolved", len(args), len(result.Tree.LocatorToResolution)))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&opts.dev, "dev", "D", false, "Add to devDependencies")
	cmd.Flags().BoolVar(&opts.optional, "optional", false, "Add to optionalDependencies")
	cmd.Flags().BoolVarP(&opts.exact, "exact", "E", false, "Has no effect: a name given without a range is always added with the \"*\" range")

	return cmd
}

// splitDescriptor splits "name@range" into its halves; a bare name
// (no "@range" suffix beyond a leading scope "@") gets the wildcard
// range, left for the resolver to pick the latest match.
func splitDescriptor(raw string) (name, rangeText string) {
	search := raw
	offset := 0
	if len(raw) > 0 && raw[0] == '@' {
		search = raw[1:]
		offset = 1
	}
	for i := len(search) - 1; i >= 0; i-- {
		if search[i] == '@' {
			return raw[:i+offset], raw[i+offset+1:]
		}
	}
	return raw, "*"
}
