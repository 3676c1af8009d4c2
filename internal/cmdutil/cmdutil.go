// Package cmdutil holds functionality to run zpm via cobra: flag
// parsing and construction of the components every subcommand shares.
package cmdutil

import (
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"

	"github.com/fatih/color"
	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"

	"github.com/zpmjs/zpm/internal/cache"
	"github.com/zpmjs/zpm/internal/config"
	"github.com/zpmjs/zpm/internal/fetch"
	"github.com/zpmjs/zpm/internal/ui"
)

const _envLogLevel = "ZPM_LOG_LEVEL"

// Helper holds configuration values passed via flag, env var or config
// file. It is not used directly by zpm commands; it drives the
// construction of CmdBase, which the commands use instead.
type Helper struct {
	// Version is the version of zpm that is currently executing.
	Version string

	forceColor bool
	noColor    bool
	verbosity  int

	rawCwd string

	registryURL string
	authToken   string
	cacheDir    string
	concurrency int
	immutable   bool

	cleanupsMu sync.Mutex
	cleanups   []io.Closer
}

// RegisterCleanup saves a closer to run after the command returns,
// even on error.
func (h *Helper) RegisterCleanup(cleanup io.Closer) {
	h.cleanupsMu.Lock()
	defer h.cleanupsMu.Unlock()
	h.cleanups = append(h.cleanups, cleanup)
}

// Cleanup runs every registered cleanup, logging (rather than
// aborting on) any that fail.
func (h *Helper) Cleanup(flags *pflag.FlagSet) {
	h.cleanupsMu.Lock()
	defer h.cleanupsMu.Unlock()
	var term cli.Ui
	for _, cleanup := range h.cleanups {
		if err := cleanup.Close(); err != nil {
			if term == nil {
				term = h.getUI(flags)
			}
			term.Warn(fmt.Sprintf("failed cleanup: %v", err))
		}
	}
}

func (h *Helper) getUI(flags *pflag.FlagSet) cli.Ui {
	colorMode := ui.GetColorModeFromEnv()
	if flags.Changed("no-color") && h.noColor {
		colorMode = ui.ColorModeSuppressed
	}
	if flags.Changed("color") && h.forceColor {
		colorMode = ui.ColorModeForced
	}
	return ui.BuildColoredUi(colorMode)
}

func (h *Helper) getLogger() (hclog.Logger, error) {
	var level hclog.Level
	switch h.verbosity {
	case 0:
		if v := os.Getenv(_envLogLevel); v != "" {
			level = hclog.LevelFromString(v)
			if level == hclog.NoLevel {
				return nil, fmt.Errorf("%s value %q is not a valid log level", _envLogLevel, v)
			}
		} else {
			level = hclog.NoLevel
		}
	case 1:
		level = hclog.Info
	case 2:
		level = hclog.Debug
	case 3:
		level = hclog.Trace
	default:
		level = hclog.Trace
	}

	output := ioutil.Discard
	col := hclog.ColorOff
	if level != hclog.NoLevel {
		output = os.Stderr
		col = hclog.AutoColor
	}

	return hclog.New(&hclog.LoggerOptions{
		Name:   "zpm",
		Level:  level,
		Color:  col,
		Output: output,
	}), nil
}

// AddFlags adds the flags every zpm command shares to flags, binding
// them to this Helper.
func (h *Helper) AddFlags(flags *pflag.FlagSet) {
	flags.BoolVar(&h.forceColor, "color", false, "Force color usage in the terminal")
	flags.BoolVar(&h.noColor, "no-color", false, "Suppress color usage in the terminal")
	flags.CountVarP(&h.verbosity, "verbosity", "v", "verbosity")
	flags.StringVar(&h.rawCwd, "cwd", "", "The directory in which to run zpm")
	flags.StringVar(&h.registryURL, "registry", "", "Registry URL to resolve and fetch packages from")
	flags.StringVar(&h.authToken, "token", "", "Bearer token to authenticate registry requests with")
	flags.StringVar(&h.cacheDir, "cache-dir", "", "Project-local content-addressed cache directory")
	flags.IntVar(&h.concurrency, "concurrency", 0, "Maximum number of concurrent resolve/fetch/build operations")
	flags.BoolVar(&h.immutable, "immutable", false, "Fail on a cache miss instead of fetching into the cache; the lockfile is still written")
}

// NewHelper returns a new Helper for the root zpm command.
func NewHelper(version string) *Helper {
	return &Helper{Version: version}
}

// GetCmdBase builds a CmdBase from this Helper's flags, layered over
// the user config file (flags take precedence). Apart from
// ZPM_LOG_LEVEL, no ZPM_-prefixed environment variable is read here.
func (h *Helper) GetCmdBase(flags *pflag.FlagSet) (*CmdBase, error) {
	terminal := h.getUI(flags)

	logger, err := h.getLogger()
	if err != nil {
		return nil, err
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("invalid working directory: %w", err)
	}
	if h.rawCwd != "" {
		cwd = h.rawCwd
	}
	projectRoot, err := filepath.Abs(cwd)
	if err != nil {
		return nil, err
	}
	if resolved, err := filepath.EvalSymlinks(projectRoot); err == nil {
		projectRoot = resolved
	}

	fsys := afero.NewOsFs()
	userConfig, err := config.ReadUserConfigFile(fsys)
	if err != nil {
		return nil, fmt.Errorf("reading user config: %w", err)
	}

	registryURL := userConfig.RegistryURL
	authToken := userConfig.AuthToken
	if flags.Changed("registry") {
		registryURL = h.registryURL
	}
	if flags.Changed("token") {
		authToken = h.authToken
	}

	cacheDir := h.cacheDir
	if cacheDir == "" {
		cacheDir = filepath.Join(projectRoot, "node_modules", ".cache", "zpm")
	}
	globalCacheDir, err := os.UserCacheDir()
	if err != nil {
		return nil, fmt.Errorf("resolving global cache directory: %w", err)
	}
	globalCacheDir = filepath.Join(globalCacheDir, "zpm")

	c, err := cache.New(cacheDir, globalCacheDir, !h.immutable, h.immutable)
	if err != nil {
		return nil, fmt.Errorf("opening cache: %w", err)
	}

	env := fetch.NewEnv(c, registryURL, logger)
	env.ProjectRoot = projectRoot

	concurrency := h.concurrency
	if concurrency <= 0 {
		concurrency = 0
	}

	return &CmdBase{
		UI:          terminal,
		Logger:      logger,
		ProjectRoot: projectRoot,
		RegistryURL: registryURL,
		AuthToken:   authToken,
		Cache:       c,
		FetchEnv:    env,
		Concurrency: concurrency,
		Version:     h.Version,
	}, nil
}

// CmdBase encompasses the components common to every zpm command.
type CmdBase struct {
	UI          cli.Ui
	Logger      hclog.Logger
	ProjectRoot string
	RegistryURL string
	AuthToken   string
	Cache       *cache.Cache
	FetchEnv    *fetch.Env
	Concurrency int
	Version     string
}

// LogError prints an error to the UI.
func (b *CmdBase) LogError(format string, args ...interface{}) {
	err := fmt.Errorf(format, args...)
	b.Logger.Error("error", err)
	b.UI.Error(fmt.Sprintf("%s%s", ui.ERROR_PREFIX, color.RedString(" %v", err)))
}

// LogWarning logs an error and outputs it to the UI.
func (b *CmdBase) LogWarning(prefix string, err error) {
	b.Logger.Warn(prefix, "warning", err)

	if prefix != "" {
		prefix = " " + prefix + ": "
	}

	b.UI.Warn(fmt.Sprintf("%s%s%s", ui.WARNING_PREFIX, prefix, color.YellowString(" %v", err)))
}

// LogInfo logs a message and outputs it to the UI.
func (b *CmdBase) LogInfo(msg string) {
	b.Logger.Info(msg)
	b.UI.Info(fmt.Sprintf("%s%s", ui.InfoPrefix, color.WhiteString(" %v", msg)))
}
