// Package preflight provides the environment checks chatindex runs before
// touching an index.
//
// The package validates:
//   - Free disk space at the data directory (minimum 300 MB)
//   - Write permissions in the data directory
//   - Index folders, through the external validator executable
//
// None of the checks block indexing on their own; the coordinator logs
// failures and continues. The Checker bundles them for the CLI:
//
//	checker := preflight.New()
//	results := checker.RunAll(ctx, "/path/to/data")
//	if checker.HasCriticalFailures(results) {
//	    // Handle failures
//	}
package preflight
