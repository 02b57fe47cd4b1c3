// SPDX-License-Identifier: MPL-2.0

// Package matrix holds the built-in table of platform/architecture build
// targets and the prefix filtering used to select a subset of them.
//
// The table is fixed at compile time. Each Entry also knows the names the
// runtime distribution and the launcher stubs use for its platform and
// architecture, which differ from the names gluctl uses for its outputs.
package matrix
