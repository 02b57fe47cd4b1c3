// SPDX-License-Identifier: MPL-2.0

// Package config resolves gluctl's configuration using Viper with CUE as the
// file format.
//
// Values come from built-in defaults, then an optional gluctl.cue in the
// application source directory (or the file named by --config), then GLUCTL_*
// environment variables. The file is validated against the embedded
// config_schema.cue before it is merged. Command-line flags are applied by the
// caller on top of the returned Config.
package config
