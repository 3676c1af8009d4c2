package fetch

import (
	"context"
	"io"
	"net/http"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"

	"github.com/zpmjs/zpm/internal/cache"
	"github.com/zpmjs/zpm/internal/protocol"
	"github.com/zpmjs/zpm/internal/resolve"
)

// cacheKeyFor is the single cache.Key convention every fetcher uses to
// stage its bundled archive: one blob per locator, tagged "fetch".
func cacheKeyFor(locator protocol.Locator) cache.Key {
	return cache.Key{Locator: locator, Tag: "fetch"}
}

// getURL performs a GET through env's retryablehttp client. A failure
// to even get a response (connection reset, timeout, DNS) surfaces as
// a *resolve.ConnectionError so the resolution engine's scheduler can
// requeue the op and shrink its in-flight cap; a non-2xx response is
// a permanent failure for this locator and is not retried that way.
func getURL(ctx context.Context, env *Env, rawURL string) ([]byte, error) {
	req, err := retryablehttp.NewRequest(http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "fetch: building request for %s", rawURL)
	}
	req = req.WithContext(ctx)

	resp, err := env.HTTPClient.Do(req)
	if err != nil {
		return nil, &resolve.ConnectionError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("fetch: GET %s: unexpected status %s", rawURL, resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "fetch: reading response body for %s", rawURL)
	}
	return data, nil
}
