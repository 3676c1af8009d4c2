package fetch

import (
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/zpmjs/zpm/internal/cache"
	"github.com/zpmjs/zpm/internal/ident"
)

// Env is the install context every Fetcher receives: where to read and
// write cached blobs, how to reach the registry and the network, and
// where the project root is for resolving relative references.
type Env struct {
	Cache *cache.Cache

	// RegistryURL is the base URL registry.go's registryTarballURL
	// joins the ident/version path onto.
	RegistryURL string

	HTTPClient *retryablehttp.Client

	// ProjectRoot anchors Link/Portal references without a local
	// parent, workspace paths, and "~/" patch paths. Tarball/Folder
	// references resolve relative to the parent's own fetched context
	// instead; see readParentFile and readParentSubtree.
	ProjectRoot string

	// GitBin is the git executable fetchers shell out to; "git" unless
	// overridden (tests substitute a stub).
	GitBin string

	// Builtins holds the embedded-resource bytes of // Builtin reference, keyed by the ident they were compiled under.
	Builtins map[ident.Ident][]byte

	// Workspaces maps a workspace member's own ident to its absolute
	// directory, populated by the install orchestrator from the root
	// manifest's workspace globs before resolution runs. Consulted by
	// WorkspaceFetcher for a "workspace:ident" reference.
	Workspaces map[ident.Ident]string
}

// NewEnv builds an Env with a retryablehttp client configured for
// bounded retries with exponential backoff, silent below the debug
// level so a fetch failure's own error message does the talking.
func NewEnv(cache *cache.Cache, registryURL string, logger hclog.Logger) *Env {
	return &Env{
		Cache:       cache,
		RegistryURL: registryURL,
		GitBin:      "git",
		Builtins:    map[ident.Ident][]byte{},
		Workspaces:  map[ident.Ident]string{},
		HTTPClient:  &retryablehttp.Client{
			HTTPClient:   &http.Client{Timeout: 30 * time.Second},
			RetryWaitMin: 1 * time.Second,
			RetryWaitMax: 10 * time.Second,
			RetryMax:     3,
			Backoff:      retryablehttp.DefaultBackoff,
			CheckRetry:   retryablehttp.DefaultRetryPolicy,
			Logger:       logger,
		},
	}
}
