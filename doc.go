// Package remotedocs lets a documentation viewer browse remote Git-hosted
// repositories as if they were local.
//
// # Overview
//
// The module is built from three parts:
//
//   - cache: a disk-backed, size-bounded LRU cache of file contents and
//     directory-tree snapshots
//   - vault: an encrypted store of per-repository access tokens
//   - Coordinator: the read-through policy joining the two with a Provider
//     that talks to the remote host
//
// Provider implementations (GitHub, Azure DevOps) are supplied by the caller.
//
// # Usage
//
//	cfg, err := config.Load(billy.NewLocal(), configPath)
//	if err != nil {
//	    return err
//	}
//
//	client, err := remotedocs.Open(cfg)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	coord, err := client.Coordinator(githubProvider)
//	if err != nil {
//	    return err
//	}
//	defer coord.Close()
//
//	// Served from cache when possible; refreshed in the background.
//	tree, stale, err := coord.Tree(ctx, "github.com/org/docs", "main")
//
//	content, err := coord.File(ctx, "github.com/org/docs", "README.md", "main")
//
// # Errors
//
// Errors are github.com/jmgilman/go/errors platform errors. Use errors.Is
// with the sentinels exported by the cache and vault packages, or
// errors.GetCode to classify them.
package remotedocs
