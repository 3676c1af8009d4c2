package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/spf13/afero"
)

// UserConfig is the user-specific configuration file, for values that
// shouldn't live in the project itself: a default registry and the
// auth token to send to it.
type UserConfig struct {
	RegistryURL string `json:"registryUrl,omitempty" envconfig:"registry"`
	AuthToken   string `json:"authToken,omitempty" envconfig:"token"`
}

func defaultUserConfig() *UserConfig {
	return &UserConfig{RegistryURL: "https://registry.npmjs.org"}
}

func userConfigPath() (string, error) {
	return xdg.ConfigFile(filepath.Join("zpm", "config.json"))
}

// WriteUserConfigFile persists config to the XDG user config directory.
func WriteUserConfigFile(fsys afero.Fs, config *UserConfig) error {
	path, err := userConfigPath()
	if err != nil {
		return err
	}
	if err := fsys.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	jsonBytes, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}
	return afero.WriteFile(fsys, path, jsonBytes, 0o644)
}

// ReadUserConfigFile reads the user config file, returning defaults if
// none has been written yet.
func ReadUserConfigFile(fsys afero.Fs) (*UserConfig, error) {
	path, err := userConfigPath()
	if err != nil {
		return nil, err
	}
	b, err := afero.ReadFile(fsys, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaultUserConfig(), nil
		}
		return nil, err
	}
	config := defaultUserConfig()
	if err := json.Unmarshal(b, config); err != nil {
		return nil, err
	}
	return config, nil
}

// DeleteUserConfigFile removes the stored user config; a missing file
// is not an error.
func DeleteUserConfigFile(fsys afero.Fs) error {
	path, err := userConfigPath()
	if err != nil {
		return err
	}
	err = fsys.Remove(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
