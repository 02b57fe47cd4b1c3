// SPDX-License-Identifier: MPL-2.0

// Package testutil provides helper functions for tests that handle errors
// appropriately, reducing boilerplate and ensuring consistent error handling.
//
// Common helpers include file operations (MustMkdirAll, MustWriteFile,
// MustReadFile, MustClose), in-memory runtime archives (MustTarGz, MustTarXz,
// ReadTarGz), and a controllable clock (FakeClock) for timestamped output.
package testutil
