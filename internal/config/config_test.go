package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/mitchellh/cli"
	"github.com/stretchr/testify/assert"
)

func TestEnvironmentRegistryAndToken(t *testing.T) {
	terminal := &cli.BasicUi{Writer: os.Stdout, ErrorWriter: os.Stderr}

	t.Run("ZPM_TOKEN", func(t *testing.T) {
		t.Cleanup(func() { _ = os.Unsetenv("ZPM_TOKEN") })
		expected := "my-token"
		if err := os.Setenv("ZPM_TOKEN", expected); err != nil {
			t.Fatalf("setenv: %v", err)
		}

		cfg, err := ParseAndValidate([]string{"install"}, terminal, "test-version")
		if err != nil {
			t.Fatalf("failed to parse config: %v", err)
		}
		assert.Equal(t, expected, cfg.AuthToken)
	})
}

func TestSelectCwd(t *testing.T) {
	defaultCwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("failed to get cwd: %v", err)
	}

	tempDir, err := os.MkdirTemp("", "zpm-test")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	resolvedTempDir, err := filepath.EvalSymlinks(tempDir)
	if err != nil {
		t.Fatalf("EvalSymlinks: %v", err)
	}

	cases := []struct {
		Name      string
		InputArgs []string
		Expected  string
	}{
		{
			Name:      "default",
			InputArgs: []string{"install"},
			Expected:  defaultCwd,
		},
		{
			Name:      "choose command-line flag cwd",
			InputArgs: []string{"install", "--cwd=" + tempDir},
			Expected:  resolvedTempDir,
		},
		{
			Name:      "ignore other flags not cwd",
			InputArgs: []string{"install", "--ignore-this-1", "--cwd=" + tempDir, "--ignore-this=2"},
			Expected:  resolvedTempDir,
		},
		{
			Name:      "ignore args after pass through",
			InputArgs: []string{"install", "--", "--cwd=zop"},
			Expected:  defaultCwd,
		},
	}

	for i, tc := range cases {
		t.Run(fmt.Sprintf("%d-%s", i, tc.Name), func(t *testing.T) {
			actual, err := selectCwd(tc.InputArgs)
			if err != nil {
				t.Fatalf("invalid parse: %v", err)
			}
			if resolved, err := filepath.EvalSymlinks(actual); err == nil {
				actual = resolved
			}
			assert.Equal(t, tc.Expected, actual)
		})
	}
}
