package protocol_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zpmjs/zpm/internal/ident"
	"github.com/zpmjs/zpm/internal/protocol"
)

func mustIdent(t *testing.T, raw string) ident.Ident {
	t.Helper()
	id, err := ident.Parse(raw)
	require.NoError(t, err)
	return id
}

func TestParseDescriptorRoundTrip(t *testing.T) {
	cases := []string{
		"lodash@^4.17.21",
		"@babel/core@^7.0.0",
		"lodash@npm:4.17.21",
	}
	for _, s := range cases {
		d, err := protocol.ParseDescriptor(s)
		require.NoError(t, err, "parsing %q", s)
		assert.Equal(t, s, d.String(), "round trip of %q", s)
	}
}

func TestDescriptorStringFoldsInParent(t *testing.T) {
	parentA, err := protocol.ParseLocator("workspace-a@workspace:packages/a")
	require.NoError(t, err)
	parentB, err := protocol.ParseLocator("workspace-b@workspace:packages/b")
	require.NoError(t, err)

	tarballRange, err := protocol.ParseRange("file:../vendor.tgz")
	require.NoError(t, err)

	boundToA := protocol.NewDescriptor(mustIdent(t, "vendor"), tarballRange, &parentA)
	boundToB := protocol.NewDescriptor(mustIdent(t, "vendor"), tarballRange, &parentB)

	assert.NotEqual(t, boundToA.String(), boundToB.String(), "same ident+range under different parents must serialize distinctly")

	roundTripped, err := protocol.ParseDescriptor(boundToA.String())
	require.NoError(t, err)
	assert.Equal(t, boundToA, roundTripped)
}

func TestDescriptorIsBound(t *testing.T) {
	parent, err := protocol.ParseLocator("app@workspace:.")
	require.NoError(t, err)

	tarballRange, err := protocol.ParseRange("file:../vendor.tgz")
	require.NoError(t, err)

	d := protocol.NewDescriptor(mustIdent(t, "vendor"), tarballRange, &parent)
	assert.True(t, d.IsBound())
	assert.Equal(t, parent.String(), d.Parent)

	semverRange, err := protocol.ParseRange("^1.0.0")
	require.NoError(t, err)
	unbound := protocol.NewDescriptor(mustIdent(t, "lodash"), semverRange, &parent)
	assert.False(t, unbound.IsBound())
}
