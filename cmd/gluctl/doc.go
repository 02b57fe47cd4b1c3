// SPDX-License-Identifier: MPL-2.0

// Package cmd contains the gluctl command tree.
//
// Command handlers parse flags, load configuration through the App's
// config.Provider, and delegate to run* functions that take a params struct,
// so the logic can be tested without a Cobra command.
package cmd
