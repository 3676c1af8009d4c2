package constraints_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zpmjs/zpm/internal/constraints"
	"github.com/zpmjs/zpm/internal/ident"
	"github.com/zpmjs/zpm/internal/manifest"
	"github.com/zpmjs/zpm/internal/protocol"
)

func locator(name, version string) protocol.Locator {
	id, err := ident.Parse(name)
	if err != nil {
		panic(err)
	}
	return protocol.Locator{Ident: id, Reference: "npm:" + version}
}

func reactIdent() ident.Ident {
	id, _ := ident.Parse("react")
	return id
}

func TestSameVersionFlagsDeviatingWorkspaces(t *testing.T) {
	react := reactIdent()
	workspaces := []constraints.Workspace{
		{Locator: locator("app-a", "1.0.0"), Versions: map[ident.Ident]string{react: "18.2.0"}},
		{Locator: locator("app-b", "1.0.0"), Versions: map[ident.Ident]string{react: "18.2.0"}},
		{Locator: locator("app-c", "1.0.0"), Versions: map[ident.Ident]string{react: "17.0.1"}},
	}

	rule := constraints.SameVersion{Dependency: react}
	violations := rule.Check(workspaces)

	require.Len(t, violations, 1)
	assert.Equal(t, locator("app-c", "1.0.0"), violations[0].Workspace)
	assert.Contains(t, violations[0].Message, "17.0.1")
}

func TestSameVersionClean(t *testing.T) {
	react := reactIdent()
	workspaces := []constraints.Workspace{
		{Locator: locator("app-a", "1.0.0"), Versions: map[ident.Ident]string{react: "18.2.0"}},
		{Locator: locator("app-b", "1.0.0"), Versions: map[ident.Ident]string{react: "18.2.0"}},
	}

	rule := constraints.SameVersion{Dependency: react}
	assert.Empty(t, rule.Check(workspaces))
}

func TestSameVersionIgnoresWorkspacesWithoutTheDependency(t *testing.T) {
	react := reactIdent()
	workspaces := []constraints.Workspace{
		{Locator: locator("app-a", "1.0.0"), Versions: map[ident.Ident]string{react: "18.2.0"}},
		{Locator: locator("app-b", "1.0.0"), Versions: map[ident.Ident]string{}},
	}

	rule := constraints.SameVersion{Dependency: react}
	assert.Empty(t, rule.Check(workspaces))
}

func TestFieldEqualsFlagsMismatchAndMissing(t *testing.T) {
	mit := &manifest.Manifest{Raw: map[string]json.RawMessage{
		"license": json.RawMessage(`"MIT"`),
	}}
	gpl := &manifest.Manifest{Raw: map[string]json.RawMessage{
		"license": json.RawMessage(`"GPL-3.0"`),
	}}
	missing := &manifest.Manifest{Raw: map[string]json.RawMessage{}}

	workspaces := []constraints.Workspace{
		{Locator: locator("app-a", "1.0.0"), Manifest: mit},
		{Locator: locator("app-b", "1.0.0"), Manifest: gpl},
		{Locator: locator("app-c", "1.0.0"), Manifest: missing},
	}

	rule := constraints.FieldEquals{Field: "license", Value: "MIT"}
	violations := rule.Check(workspaces)

	require.Len(t, violations, 2)
	assert.Equal(t, locator("app-b", "1.0.0"), violations[0].Workspace)
	assert.Equal(t, locator("app-c", "1.0.0"), violations[1].Workspace)
}

func TestRulesetCollectsAcrossRules(t *testing.T) {
	react := reactIdent()
	workspaces := []constraints.Workspace{
		{
			Locator:  locator("app-a", "1.0.0"),
			Manifest: &manifest.Manifest{Raw: map[string]json.RawMessage{"license": json.RawMessage(`"MIT"`)}},
			Versions: map[ident.Ident]string{react: "18.2.0"},
		},
		{
			Locator:  locator("app-b", "1.0.0"),
			Manifest: &manifest.Manifest{Raw: map[string]json.RawMessage{"license": json.RawMessage(`"GPL-3.0"`)}},
			Versions: map[ident.Ident]string{react: "17.0.1"},
		},
	}

	rs := constraints.Ruleset{Rules: []constraints.Rule{
		constraints.SameVersion{Dependency: react},
		constraints.FieldEquals{Field: "license", Value: "MIT"},
	}}

	assert.Len(t, rs.Check(workspaces), 2)
}
