package protocol_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zpmjs/zpm/internal/protocol"
)

func TestParseReferenceRoundTrip(t *testing.T) {
	cases := []string{
		"npm:1.2.3",
		"npm:bar@1.2.3",
		"npm:bar@1.2.3#a.b.c",
		"builtin:14.0.0",
		"file:local.tgz",
		"file:local-pkg",
		"link:../foo",
		"portal:../foo",
		"workspace:foo",
		"workspace:.",
		"workspace:packages/foo",
		"https://example.com/foo.tgz",
	}
	for _, s := range cases {
		r, err := protocol.ParseReference(s)
		require.NoError(t, err, "parsing %q", s)
		assert.Equal(t, s, r.Serialize(), "round trip of %q", s)
	}
}

func TestParseReferencePatch(t *testing.T) {
	raw := "patch:lodash%40npm%3A4.17.21#./my.patch::version=4.17.21&hash=abcd1234"
	r, err := protocol.ParseReference(raw)
	require.NoError(t, err)
	require.Equal(t, protocol.ReferencePatch, r.Kind)
	assert.Equal(t, "4.17.21", r.PatchVersion)
	assert.Equal(t, "abcd1234", r.PatchHash)
	assert.Equal(t, raw, r.Serialize())
}

func TestParseReferenceVirtual(t *testing.T) {
	raw := "virtual:npm:1.2.3#abcd1234"
	r, err := protocol.ParseReference(raw)
	require.NoError(t, err)
	require.Equal(t, protocol.ReferenceVirtual, r.Kind)
	assert.Equal(t, raw, r.Serialize())

	phys := r.PhysicalReference()
	assert.Equal(t, protocol.ReferenceShorthand, phys.Kind)
}

func TestReferenceIsLocal(t *testing.T) {
	link, err := protocol.ParseReference("link:../foo")
	require.NoError(t, err)
	assert.True(t, link.IsLocal())

	npm, err := protocol.ParseReference("npm:1.2.3")
	require.NoError(t, err)
	assert.False(t, npm.IsLocal())
}
