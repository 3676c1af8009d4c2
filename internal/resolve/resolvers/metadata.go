package resolvers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"

	"github.com/zpmjs/zpm/internal/resolve"
)

// packageDocument is the subset of an npm registry's GET /<name>
// response a semver/tag resolver needs: every published version's
// manifest fields, keyed by version string, plus the dist-tags map.
type packageDocument struct {
	DistTags map[string]string                 `json:"dist-tags"`
	Versions map[string]packageDocumentVersion `json:"versions"`
}

// packageDocumentVersion mirrors the handful of package.json fields
// the registry echoes back per version; the full manifest is re-read
// from the fetched tarball later (resolutionFromManifest), so this
// only needs the version string used to pick a candidate.
type packageDocumentVersion struct {
	Version string `json:"version"`
}

// MetadataClient fetches registry package documents over the same
// retryablehttp client fetch.Env hands its Fetchers, so the resolution
// engine's ConnectionError retry path applies uniformly whether the
// stall happens resolving a range or fetching an archive.
type MetadataClient struct {
	HTTPClient  *retryablehttp.Client
	RegistryURL string
}

func (m *MetadataClient) fetchDocument(ctx context.Context, name string) (*packageDocument, error) {
	url := strings.TrimSuffix(m.RegistryURL, "/") + "/" + name

	req, err := retryablehttp.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve: building request for %s", url)
	}
	req = req.WithContext(ctx)

	resp, err := m.HTTPClient.Do(req)
	if err != nil {
		return nil, &resolve.ConnectionError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, errors.Errorf("resolve: package %q not found", name)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("resolve: GET %s: unexpected status %s", url, resp.Status)
	}

	var doc packageDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, errors.Wrapf(err, "resolve: decoding package document for %s", name)
	}
	return &doc, nil
}
