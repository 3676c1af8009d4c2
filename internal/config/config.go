package config

import (
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/kelseyhightower/envconfig"
	"github.com/mattn/go-isatty"
	"github.com/mitchellh/cli"
	"github.com/spf13/afero"
)

// EnvLogLevel is the environment variable controlling log verbosity,
// read before any -v/-vv/-vvv command-line flag so a flag can still
// override it.
const EnvLogLevel = "ZPM_LOG_LEVEL"

// IsCI reports whether stdout isn't a terminal or a CI env var is set.
func IsCI() bool {
	return !isatty.IsTerminal(os.Stdout.Fd()) || os.Getenv("CI") != ""
}

// Config holds everything an install/add/remove/patch/run invocation
// needs: where things live on disk, which registry to talk to, and
// how hard to parallelize.
type Config struct {
	Logger hclog.Logger

	Version string

	RegistryURL string
	AuthToken   string

	// CacheDir is the project-local content-addressed cache tier;
	// GlobalCacheDir is the optional shared tier read (and, unless
	// Immutable, written) across projects on the machine.
	CacheDir       string
	GlobalCacheDir string
	Immutable      bool

	Concurrency int

	Cwd string
}

// envFields is the subset of Config envconfig.Process can bind
// straight from ZPM_-prefixed environment variables; everything else
// (Cwd, Logger, Version) is either derived or supplied by the caller.
type envFields struct {
	RegistryURL string `envconfig:"registry"`
	AuthToken   string `envconfig:"token"`
	CacheDir    string `envconfig:"cache_dir"`
	Concurrency int    `envconfig:"concurrency"`
	Immutable   bool   `envconfig:"immutable"`
}

// ParseAndValidate parses command-line flags and ZPM_-prefixed
// environment variables (env overrides the user config file; flags
// override both), in that precedence order, and builds the logger
// that every command uses for the rest of its run.
func ParseAndValidate(args []string, ui cli.Ui, version string) (*Config, error) {
	cwd, err := selectCwd(args)
	if err != nil {
		return nil, err
	}

	fsys := afero.NewOsFs()
	userConfig, err := ReadUserConfigFile(fsys)
	if err != nil {
		return nil, fmt.Errorf("reading user config: %w", err)
	}

	env := envFields{
		RegistryURL: userConfig.RegistryURL,
		AuthToken:   userConfig.AuthToken,
		CacheDir:    filepath.Join(cwd, "node_modules", ".cache", "zpm"),
		Concurrency: runtime.NumCPU() + 2,
	}
	if err := envconfig.Process("ZPM", &env); err != nil {
		return nil, fmt.Errorf("invalid environment variable: %w", err)
	}

	level := hclog.NoLevel
	if v := os.Getenv(EnvLogLevel); v != "" {
		level = hclog.LevelFromString(v)
		if level == hclog.NoLevel {
			return nil, fmt.Errorf("%s value %q is not a valid log level", EnvLogLevel, v)
		}
	}

	globalCacheDir, err := defaultGlobalCacheDir()
	if err != nil {
		return nil, err
	}

	for _, arg := range args {
		if len(arg) == 0 || arg[0] != '-' {
			continue
		}
		switch {
		case arg == "-v":
			if level == hclog.NoLevel || level > hclog.Info {
				level = hclog.Info
			}
		case arg == "-vv":
			if level == hclog.NoLevel || level > hclog.Debug {
				level = hclog.Debug
			}
		case arg == "-vvv":
			if level == hclog.NoLevel || level > hclog.Trace {
				level = hclog.Trace
			}
		case strings.HasPrefix(arg, "--registry="):
			env.RegistryURL = arg[len("--registry="):]
		case strings.HasPrefix(arg, "--token="):
			env.AuthToken = arg[len("--token="):]
		case strings.HasPrefix(arg, "--cache-dir="):
			env.CacheDir = arg[len("--cache-dir="):]
		case strings.HasPrefix(arg, "--global-cache-dir="):
			globalCacheDir = arg[len("--global-cache-dir="):]
		case strings.HasPrefix(arg, "--concurrency="):
			if _, err := fmt.Sscanf(arg[len("--concurrency="):], "%d", &env.Concurrency); err != nil {
				return nil, fmt.Errorf("--concurrency: %w", err)
			}
		case arg == "--immutable":
			env.Immutable = true
		}
	}

	var output io.Writer = ioutil.Discard
	color := hclog.ColorOff
	if level != hclog.NoLevel {
		output = os.Stderr
		color = hclog.AutoColor
	}

	app := "zpm"
	if len(args) > 0 {
		app = args[0]
	}
	logger := hclog.New(&hclog.LoggerOptions{
		Name:   app,
		Level:  level,
		Color:  color,
		Output: output,
	})

	return &Config{
		Logger:         logger,
		Version:        version,
		RegistryURL:    env.RegistryURL,
		AuthToken:      env.AuthToken,
		CacheDir:       env.CacheDir,
		GlobalCacheDir: globalCacheDir,
		Immutable:      env.Immutable,
		Concurrency:    env.Concurrency,
		Cwd:            cwd,
	}, nil
}

func defaultGlobalCacheDir() (string, error) {
	home, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("resolving global cache directory: %w", err)
	}
	return filepath.Join(home, "zpm"), nil
}

// selectCwd picks the working directory: os.Getwd, overridden by a
// "--cwd=" argument appearing before a literal "--".
func selectCwd(inputArgs []string) (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("invalid working directory: %w", err)
	}
	for _, arg := range inputArgs {
		if arg == "--" {
			break
		} else if strings.HasPrefix(arg, "--cwd=") {
			if len(arg[len("--cwd="):]) > 0 {
				cwd = arg[len("--cwd="):]
			}
		}
	}
	return cwd, nil
}
