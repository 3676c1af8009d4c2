package lockfile_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zpmjs/zpm/internal/ident"
	"github.com/zpmjs/zpm/internal/lockfile"
	"github.com/zpmjs/zpm/internal/protocol"
	"github.com/zpmjs/zpm/internal/version"
)

func TestDocumentEncodeDecodeRoundTrip(t *testing.T) {
	doc := lockfile.NewDocument()

	lodashIdent := ident.MustParse("lodash")
	lodashVersion := mustVersion(t, "4.17.21")
	lodashLocator := protocol.Locator{Ident: lodashIdent, Reference: "npm:4.17.21"}

	lodashRange, err := protocol.ParseRange("^4.17.21")
	require.NoError(t, err)
	lodashDescriptor := protocol.NewDescriptor(lodashIdent, lodashRange, nil)
	doc.Descriptors[lodashDescriptor] = lodashLocator

	doc.Resolutions[lodashLocator] = &lockfile.Resolution{
		Locator:  lodashLocator,
		Version:  lodashVersion,
		Checksum: "abc123",
		Flags:    lockfile.PackageFlags{SuggestExtracted: true},
	}

	var buf bytes.Buffer
	require.NoError(t, doc.Encode(&buf))

	decoded, err := lockfile.Decode(buf.Bytes())
	require.NoError(t, err)

	res, ok := decoded.Resolutions[lodashLocator]
	require.True(t, ok)
	assert.True(t, res.Version.Equal(lodashVersion))
	assert.Equal(t, "abc123", res.Checksum)
	assert.True(t, res.Flags.SuggestExtracted)

	gotLocator, ok := decoded.Descriptors[lodashDescriptor]
	require.True(t, ok)
	assert.Equal(t, lodashLocator, gotLocator)
}

func mustVersion(t *testing.T, s string) version.Version {
	t.Helper()
	v, err := version.Parse(s)
	require.NoError(t, err)
	return v
}
