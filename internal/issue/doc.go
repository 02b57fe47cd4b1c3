// SPDX-License-Identifier: MPL-2.0

// Package issue provides user-facing errors that name the failed operation
// and suggest fixes, plus a catalog of Markdown guidance rendered with glamour
// when errors are shown verbosely.
package issue
