package resolvers

import (
	"github.com/hashicorp/go-retryablehttp"

	"github.com/zpmjs/zpm/internal/ident"
	"github.com/zpmjs/zpm/internal/protocol"
	"github.com/zpmjs/zpm/internal/resolve"
	"github.com/zpmjs/zpm/internal/version"
)

// New builds the full RangeKind->Resolver table an install's
// resolve.Engine dispatches into, one concrete Resolver per protocol
// enumerates. httpClient is shared with fetch.Env so
// metadata lookups and archive fetches retry identically; builtins
// lists the fixed version each embedded package was compiled under.
func New(httpClient *retryablehttp.Client, registryURL string, projectRoot string, builtins map[ident.Ident]version.Version) map[protocol.RangeKind]resolve.Resolver {
	metadata := &MetadataClient{HTTPClient: httpClient, RegistryURL: registryURL}

	semver := &SemverResolver{Metadata: metadata}
	tag := &TagResolver{Metadata: metadata}
	pathlike := PathlikeResolver{}
	workspace := WorkspaceResolver{}
	builtin := &BuiltinResolver{Versions: builtins}
	patch := &PatchResolver{Metadata: metadata, ProjectRoot: projectRoot}
	missing := MissingPeerDependencyResolver{}

	return map[protocol.RangeKind]resolve.Resolver{
		protocol.RangeRegistrySemver: semver,
		protocol.RangeAnonymousSemver: semver,
		protocol.RangeRegistryTag: tag,
		protocol.RangeAnonymousTag: tag,
		protocol.RangeLink: pathlike,
		protocol.RangePortal: pathlike,
		protocol.RangeTarball: pathlike,
		protocol.RangeFolder: pathlike,
		protocol.RangeURL: pathlike,
		protocol.RangeGit: pathlike,
		protocol.RangeWorkspaceMagic: workspace,
		protocol.RangeWorkspaceSemver: workspace,
		protocol.RangeWorkspaceIdent: workspace,
		protocol.RangeWorkspacePath: workspace,
		protocol.RangeBuiltin: builtin,
		protocol.RangePatch: patch,
		protocol.RangeMissingPeerDependency: missing,
	}
}
