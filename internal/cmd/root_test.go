package cmd

import (
	"reflect"
	"testing"

	"github.com/zpmjs/zpm/internal/cmdutil"
)

func TestResolveArgsAddsDefaultCommand(t *testing.T) {
	testCases := []struct {
		name         string
		args         []string
		defaultAdded bool
	}{
		{name: "normal install", args: []string{"install"}, defaultAdded: false},
		{name: "empty args", args: []string{}, defaultAdded: true},
		{name: "root help", args: []string{"--help"}, defaultAdded: false},
		{name: "install help", args: []string{"install", "--help"}, defaultAdded: false},
		{name: "version", args: []string{"--version"}, defaultAdded: false},
		{name: "add a package", args: []string{"add", "left-pad"}, defaultAdded: false},
	}
	for _, tc := range testCases {
		args := tc.args
		t.Run(tc.name, func(t *testing.T) {
			helper := cmdutil.NewHelper("test-version")
			root := getCmd(helper)
			resolved := resolveArgs(root, args)
			defaultAdded := !reflect.DeepEqual(args, resolved)
			if defaultAdded != tc.defaultAdded {
				t.Errorf("default command added got %v, want %v", defaultAdded, tc.defaultAdded)
			}
		})
	}
}
