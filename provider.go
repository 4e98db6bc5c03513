package remotedocs

import (
	"context"

	"github.com/jmgilman/go/remotedocs/cache"
)

//go:generate go run github.com/matryer/moq@latest -out mocks/provider.go -pkg mocks . Provider

// Provider fetches content from a remote Git host such as GitHub or Azure
// DevOps.
//
// Implementations live outside this module. They receive the plaintext token
// stored for the repository, or an empty string when none is available, and
// must not retain or log it.
//
// All methods accept a context.Context as the first parameter for
// cancellation and timeout control.
type Provider interface {
	// FetchTree returns the directory tree of a branch.
	FetchTree(ctx context.Context, repositoryID, branch, token string) (*cache.Tree, error)

	// FetchFile returns the raw content of a file on a branch.
	FetchFile(ctx context.Context, repositoryID, path, branch, token string) ([]byte, error)
}
