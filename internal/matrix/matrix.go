// SPDX-License-Identifier: MPL-2.0

package matrix

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// PlatformLinux targets Linux hosts.
	PlatformLinux Platform = "linux"
	// PlatformDarwin targets macOS hosts.
	PlatformDarwin Platform = "darwin"

	// ArchAMD64 targets 64-bit x86.
	ArchAMD64 Arch = "amd64"
	// ArchARM64 targets 64-bit ARM.
	ArchARM64 Arch = "arm64"
	// ArchAMD64Musl targets 64-bit x86 with a musl libc runtime build.
	ArchAMD64Musl Arch = "amd64-musl"

	// ExtTarGz is the extension of gzip-compressed runtime archives.
	ExtTarGz = ".tar.gz"
	// ExtTarXz is the extension of xz-compressed runtime archives.
	ExtTarXz = ".tar.xz"
)

var (
	// ErrInvalidPlatform is returned when a Platform value is not recognized.
	ErrInvalidPlatform = errors.New("invalid platform")
	// ErrInvalidArch is returned when an Arch value is not recognized.
	ErrInvalidArch = errors.New("invalid architecture")
	// ErrInvalidArchiveExt is returned when an entry names an unsupported runtime archive format.
	ErrInvalidArchiveExt = errors.New("invalid runtime archive extension")

	// downloadNames maps gluctl names to the names used by runtime distribution archives.
	//
	//nolint:gochecknoglobals // static lookup table
	downloadNames = map[string]string{
		"amd64":      "x64",
		"amd64-musl": "x64-musl",
	}

	// stubNames maps gluctl names to the names used by launcher stub files.
	//
	//nolint:gochecknoglobals // static lookup table
	stubNames = map[string]string{
		"win":        "win32",
		"amd64":      "x64",
		"amd64-musl": "x64",
	}
)

type (
	// Platform is an operating system identifier as it appears in output names.
	Platform string

	// Arch is a CPU architecture identifier as it appears in output names.
	Arch string

	// InvalidPlatformError is returned when a Platform value is not recognized.
	// It wraps ErrInvalidPlatform for errors.Is() compatibility.
	InvalidPlatformError struct {
		Value Platform
	}

	// InvalidArchError is returned when an Arch value is not recognized.
	// It wraps ErrInvalidArch for errors.Is() compatibility.
	InvalidArchError struct {
		Value Arch
	}

	// Entry describes one build target. Values are immutable once resolved.
	Entry struct {
		Platform          Platform
		Arch              Arch
		RuntimeArchiveExt string // ".tar.gz" or ".tar.xz"
		TargetExt         string // appended to the output executable name, usually empty
		RuntimeMirror     string // overrides the runtime download base URL when set
	}
)

// DefaultTable returns a fresh copy of the built-in target table.
func DefaultTable() []Entry {
	return []Entry{
		{Platform: PlatformLinux, Arch: ArchAMD64, RuntimeArchiveExt: ExtTarXz},
		{Platform: PlatformLinux, Arch: ArchARM64, RuntimeArchiveExt: ExtTarXz},
		{Platform: PlatformDarwin, Arch: ArchAMD64, RuntimeArchiveExt: ExtTarGz},
		{Platform: PlatformDarwin, Arch: ArchARM64, RuntimeArchiveExt: ExtTarGz},
	}
}

// Resolve returns the entries of table whose key ("<platform>-<arch>") starts
// with at least one of filters. Filters are trimmed and lower-cased, and blank
// filters are ignored. With no usable filters the whole table is returned.
// Table order is preserved.
func Resolve(table []Entry, filters []string) []Entry {
	prefixes := make([]string, 0, len(filters))
	for _, f := range filters {
		f = strings.ToLower(strings.TrimSpace(f))
		if f != "" {
			prefixes = append(prefixes, f)
		}
	}

	out := make([]Entry, 0, len(table))
	for _, e := range table {
		if len(prefixes) == 0 || e.matches(prefixes) {
			out = append(out, e)
		}
	}
	return out
}

// Keys returns the keys of entries in order.
func Keys(entries []Entry) []string {
	keys := make([]string, len(entries))
	for i, e := range entries {
		keys[i] = e.Key()
	}
	return keys
}

// Key returns "<platform>-<arch>".
func (e Entry) Key() string {
	return string(e.Platform) + "-" + string(e.Arch)
}

// String returns the entry key.
func (e Entry) String() string { return e.Key() }

// DownloadPlatform returns the platform name used by runtime archives.
func (e Entry) DownloadPlatform() string { return downloadName(string(e.Platform)) }

// DownloadArch returns the architecture name used by runtime archives.
func (e Entry) DownloadArch() string { return downloadName(string(e.Arch)) }

// StubPlatform returns the platform name used by launcher stub files.
func (e Entry) StubPlatform() string { return stubName(string(e.Platform)) }

// StubArch returns the architecture name used by launcher stub files.
func (e Entry) StubArch() string { return stubName(string(e.Arch)) }

// IsValid returns whether the entry names a known platform, architecture, and
// runtime archive format, and a list of validation errors if it does not.
func (e Entry) IsValid() (bool, []error) {
	var errs []error
	if ok, platErrs := e.Platform.IsValid(); !ok {
		errs = append(errs, platErrs...)
	}
	if ok, archErrs := e.Arch.IsValid(); !ok {
		errs = append(errs, archErrs...)
	}
	if e.RuntimeArchiveExt != ExtTarGz && e.RuntimeArchiveExt != ExtTarXz {
		errs = append(errs, fmt.Errorf("%w %q for %s", ErrInvalidArchiveExt, e.RuntimeArchiveExt, e.Key()))
	}
	return len(errs) == 0, errs
}

func (e Entry) matches(prefixes []string) bool {
	key := e.Key()
	for _, p := range prefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}

// String returns the string representation of the Platform.
func (p Platform) String() string { return string(p) }

// IsValid returns whether the Platform is one of the supported target
// platforms, and a list of validation errors if it is not.
func (p Platform) IsValid() (bool, []error) {
	switch p {
	case PlatformLinux, PlatformDarwin:
		return true, nil
	default:
		return false, []error{&InvalidPlatformError{Value: p}}
	}
}

// Error implements the error interface.
func (e *InvalidPlatformError) Error() string {
	return fmt.Sprintf("invalid platform %q (valid: linux, darwin)", e.Value)
}

// Unwrap returns ErrInvalidPlatform so callers can use errors.Is.
func (e *InvalidPlatformError) Unwrap() error { return ErrInvalidPlatform }

// String returns the string representation of the Arch.
func (a Arch) String() string { return string(a) }

// IsValid returns whether the Arch is one of the supported target
// architectures, and a list of validation errors if it is not.
func (a Arch) IsValid() (bool, []error) {
	switch a {
	case ArchAMD64, ArchARM64, ArchAMD64Musl:
		return true, nil
	default:
		return false, []error{&InvalidArchError{Value: a}}
	}
}

// Error implements the error interface.
func (e *InvalidArchError) Error() string {
	return fmt.Sprintf("invalid architecture %q (valid: amd64, arm64, amd64-musl)", e.Value)
}

// Unwrap returns ErrInvalidArch so callers can use errors.Is.
func (e *InvalidArchError) Unwrap() error { return ErrInvalidArch }

func downloadName(name string) string {
	if alias, ok := downloadNames[name]; ok {
		return alias
	}
	return name
}

func stubName(name string) string {
	if alias, ok := stubNames[name]; ok {
		return alias
	}
	return name
}
