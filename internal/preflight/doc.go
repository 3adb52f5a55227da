// Package preflight checks that the machine can hold and build an index
// before casearch writes one.
//
// The checks cover free disk space and write permission in the data
// directory, the open file limit, and optionally whether the configured
// embedder answers. `casearch doctor` runs all of them; `casearch index`
// runs the required ones once per data directory and leaves a marker file
// when they pass.
//
//	checker := preflight.New(preflight.WithEmbedderProbe(probe))
//	results := checker.RunAll(ctx, dataDir)
//	if checker.HasCriticalFailures(results) {
//	    // Handle failures
//	}
package preflight
