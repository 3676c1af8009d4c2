package scriptenv

import (
	"context"
	"log"
	"os"
	"os/exec"

	"github.com/pkg/errors"

	"github.com/zpmjs/zpm/internal/cmdutil"
	"github.com/zpmjs/zpm/internal/logstreamer"
	"github.com/zpmjs/zpm/internal/protocol"
)

// Runner composes a script Environment per call and drives the child
// process through it. It satisfies internal/build.Runner so a
// build.Manager can run lifecycle scripts directly against it.
type Runner struct {
	Composer *Composer

	// Logger receives the child's stdout/stderr, line-prefixed by
	// logstreamer the same way piped command output is tagged elsewhere.
	// Defaults to log.Default() when nil.
	Logger *log.Logger
}

func (r *Runner) logger() *log.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return log.Default()
}

// RunScript implements build.Runner: it runs script through a shell —
// `bash -c "<script> \"$@\"" yarn-script <args...>` — so a script
// written assuming shell semantics (pipes, `&&`, globs) behaves the
// same as it would under a real package manager.
func (r *Runner) RunScript(ctx context.Context, cwd string, locator protocol.Locator, script string) error {
	env, err := r.Composer.Compose(cwd, locator)
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, "bash", "-c", script+` "$@"`, "yarn-script")
	return r.run(cmd, env, locator)
}

// RunExec spawns program directly (no shell) with the composed
// environment, for binaries invoked through the PATH scratch
// directory rather than a lifecycle script.
func (r *Runner) RunExec(ctx context.Context, cwd string, locator protocol.Locator, program string, args []string) error {
	env, err := r.Composer.Compose(cwd, locator)
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, program, args...)
	return r.run(cmd, env, locator)
}

func (r *Runner) run(cmd *exec.Cmd, env *Environment, locator protocol.Locator) error {
	cmd.Dir = env.Cwd
	cmd.Env = env.Vars

	prefix := locator.Ident.String()
	stdout := logstreamer.NewLogstreamer(r.logger(), prefix+" ", false)
	stderr := logstreamer.NewLogstreamer(r.logger(), prefix+" ", false)
	defer stdout.Close()
	defer stderr.Close()

	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Stdin = os.Stdin

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &cmdutil.Error{
				ExitCode: exitErr.ExitCode(),
				Err:      errors.Wrapf(err, "scriptenv: %s", locator),
			}
		}
		return errors.Wrapf(err, "scriptenv: %s", locator)
	}
	return nil
}
