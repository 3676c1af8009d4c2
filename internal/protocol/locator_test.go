package protocol_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zpmjs/zpm/internal/protocol"
)

func TestParseLocatorRoundTrip(t *testing.T) {
	cases := []string{
		"lodash@npm:4.17.21",
		"@babel/core@npm:7.0.0",
		"app@workspace:.",
		"lodash@virtual:npm:4.17.21#abcd1234",
	}
	for _, s := range cases {
		l, err := protocol.ParseLocator(s)
		require.NoError(t, err, "parsing %q", s)
		assert.Equal(t, s, l.String(), "round trip of %q", s)
	}
}

func TestLocatorPhysicalLocator(t *testing.T) {
	l, err := protocol.ParseLocator("lodash@virtual:npm:4.17.21#abcd1234")
	require.NoError(t, err)
	assert.True(t, l.IsVirtual())

	phys, err := l.PhysicalLocator()
	require.NoError(t, err)
	assert.False(t, phys.IsVirtual())
	assert.Equal(t, "lodash@npm:4.17.21", phys.String())
}

func TestLocatorStringFoldsInParent(t *testing.T) {
	parentA, err := protocol.ParseLocator("workspace-a@workspace:packages/a")
	require.NoError(t, err)
	parentB, err := protocol.ParseLocator("workspace-b@workspace:packages/b")
	require.NoError(t, err)

	folderRef, err := protocol.ParseReference("file:./vendor/thing.tgz")
	require.NoError(t, err)

	boundToA := protocol.NewLocator(mustIdent(t, "vendor"), folderRef, &parentA)
	boundToB := protocol.NewLocator(mustIdent(t, "vendor"), folderRef, &parentB)

	assert.NotEqual(t, boundToA.String(), boundToB.String(), "same ident+reference under different parents must serialize distinctly")
	assert.Equal(t, boundToA, boundToA)

	roundTripped, err := protocol.ParseLocator(boundToA.String())
	require.NoError(t, err)
	assert.Equal(t, boundToA, roundTripped)
}

func TestNewLocatorBindsParentOnlyForLocalProtocols(t *testing.T) {
	parent, err := protocol.ParseLocator("app@workspace:.")
	require.NoError(t, err)

	folderRef, err := protocol.ParseReference("file:./vendor")
	require.NoError(t, err)
	bound := protocol.NewLocator(mustIdent(t, "vendor"), folderRef, &parent)
	assert.Equal(t, parent.String(), bound.Parent)

	npmRef, err := protocol.ParseReference("npm:4.17.21")
	require.NoError(t, err)
	unbound := protocol.NewLocator(mustIdent(t, "lodash"), npmRef, &parent)
	assert.Empty(t, unbound.Parent)
}
