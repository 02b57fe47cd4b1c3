// SPDX-License-Identifier: MPL-2.0

// Package build orchestrates a packaging run: it stages the application once,
// then fetches a runtime, locates a launcher stub, builds an archive, and
// assembles an executable for every selected target concurrently.
//
// Staging errors abort the run. Errors in a single target are wrapped in a
// TargetError naming the failed Step and recorded in the Report without
// affecting the other targets.
package build
