package scriptenv

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/pkg/errors"
)

// writeWrapper emits b's launcher into dir: a POSIX shell script on
// Unix, a .cmd launcher on Windows. JS targets
// are invoked through `node`; anything else is exec'd directly so
// native binaries (e.g. a prebuilt `esbuild`) still work unwrapped.
func writeWrapper(dir string, b binEntry) error {
	if runtime.GOOS == "windows" {
		return writeWindowsWrapper(dir, b)
	}
	return writeUnixWrapper(dir, b)
}

func writeUnixWrapper(dir string, b binEntry) error {
	path := filepath.Join(dir, b.name)

	var script string
	if b.isJS {
		script = fmt.Sprintf("#!/bin/sh\nexec node %q \"$@\"\n", b.target)
	} else {
		script = fmt.Sprintf("#!/bin/sh\nexec %q \"$@\"\n", b.target)
	}

	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		return errors.Wrapf(err, "scriptenv: writing wrapper %s", path)
	}
	return nil
}

func writeWindowsWrapper(dir string, b binEntry) error {
	path := filepath.Join(dir, b.name+".cmd")

	var script string
	if b.isJS {
		script = fmt.Sprintf("@echo off\r\nnode %q %%*\r\n", b.target)
	} else {
		script = fmt.Sprintf("@echo off\r\n%q %%*\r\n", b.target)
	}

	if err := os.WriteFile(path, []byte(script), 0o644); err != nil {
		return errors.Wrapf(err, "scriptenv: writing wrapper %s", path)
	}
	return nil
}
