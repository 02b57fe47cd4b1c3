// SPDX-License-Identifier: MPL-2.0

package matrix

import (
	"errors"
	"slices"
	"strings"
	"testing"
)

func TestResolve(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		filters []string
		want    []string
	}{
		{
			name: "no filters returns whole table",
			want: []string{"linux-amd64", "linux-arm64", "darwin-amd64", "darwin-arm64"},
		},
		{
			name:    "platform prefix",
			filters: []string{"linux"},
			want:    []string{"linux-amd64", "linux-arm64"},
		},
		{
			name:    "exact key",
			filters: []string{"darwin-arm64"},
			want:    []string{"darwin-arm64"},
		},
		{
			name:    "upper case filter is lowered",
			filters: []string{"DARWIN"},
			want:    []string{"darwin-amd64", "darwin-arm64"},
		},
		{
			name:    "order follows table not filters",
			filters: []string{"darwin-amd64", "linux-arm64"},
			want:    []string{"linux-arm64", "darwin-amd64"},
		},
		{
			name:    "overlapping filters do not duplicate",
			filters: []string{"linux", "linux-amd64"},
			want:    []string{"linux-amd64", "linux-arm64"},
		},
		{
			name:    "blank filters are ignored",
			filters: []string{"  ", ""},
			want:    []string{"linux-amd64", "linux-arm64", "darwin-amd64", "darwin-arm64"},
		},
		{
			name:    "no match",
			filters: []string{"windows"},
			want:    []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := Keys(Resolve(DefaultTable(), tt.filters))
			if !slices.Equal(got, tt.want) {
				t.Errorf("Resolve(%v) = %v, want %v", tt.filters, got, tt.want)
			}
		})
	}
}

func TestResolve_EveryResultMatchesAFilter(t *testing.T) {
	t.Parallel()

	filters := []string{"lin", "darwin-arm"}
	for _, e := range Resolve(DefaultTable(), filters) {
		if !strings.HasPrefix(e.Key(), "lin") && !strings.HasPrefix(e.Key(), "darwin-arm") {
			t.Errorf("entry %s matches none of %v", e.Key(), filters)
		}
	}
}

func TestDefaultTable_ReturnsCopy(t *testing.T) {
	t.Parallel()

	table := DefaultTable()
	table[0].Platform = "mutated"

	if DefaultTable()[0].Platform != PlatformLinux {
		t.Error("DefaultTable() shares backing storage between calls")
	}
}

func TestDefaultTable_Valid(t *testing.T) {
	t.Parallel()

	for _, e := range DefaultTable() {
		if ok, errs := e.IsValid(); !ok {
			t.Errorf("entry %s is invalid: %v", e.Key(), errs)
		}
		if e.TargetExt != "" {
			t.Errorf("entry %s TargetExt = %q, want empty", e.Key(), e.TargetExt)
		}
	}
}

func TestEntryAliases(t *testing.T) {
	t.Parallel()

	tests := []struct {
		entry                        Entry
		dlPlat, dlArch, stPlat, stArch string
	}{
		{Entry{Platform: PlatformLinux, Arch: ArchAMD64}, "linux", "x64", "linux", "x64"},
		{Entry{Platform: PlatformLinux, Arch: ArchARM64}, "linux", "arm64", "linux", "arm64"},
		{Entry{Platform: PlatformLinux, Arch: ArchAMD64Musl}, "linux", "x64-musl", "linux", "x64"},
		{Entry{Platform: PlatformDarwin, Arch: ArchARM64}, "darwin", "arm64", "darwin", "arm64"},
		{Entry{Platform: "win", Arch: ArchAMD64}, "win", "x64", "win32", "x64"},
	}

	for _, tt := range tests {
		t.Run(tt.entry.Key(), func(t *testing.T) {
			t.Parallel()

			if got := tt.entry.DownloadPlatform(); got != tt.dlPlat {
				t.Errorf("DownloadPlatform() = %q, want %q", got, tt.dlPlat)
			}
			if got := tt.entry.DownloadArch(); got != tt.dlArch {
				t.Errorf("DownloadArch() = %q, want %q", got, tt.dlArch)
			}
			if got := tt.entry.StubPlatform(); got != tt.stPlat {
				t.Errorf("StubPlatform() = %q, want %q", got, tt.stPlat)
			}
			if got := tt.entry.StubArch(); got != tt.stArch {
				t.Errorf("StubArch() = %q, want %q", got, tt.stArch)
			}
		})
	}
}

func TestEntryIsValid(t *testing.T) {
	t.Parallel()

	e := Entry{Platform: "plan9", Arch: "mips", RuntimeArchiveExt: ".zip"}
	ok, errs := e.IsValid()
	if ok {
		t.Fatal("IsValid() = true, want false")
	}
	if len(errs) != 3 {
		t.Fatalf("IsValid() returned %d errors, want 3: %v", len(errs), errs)
	}
	if !errors.Is(errs[0], ErrInvalidPlatform) {
		t.Errorf("errs[0] = %v, want ErrInvalidPlatform", errs[0])
	}
	if !errors.Is(errs[1], ErrInvalidArch) {
		t.Errorf("errs[1] = %v, want ErrInvalidArch", errs[1])
	}
	if !errors.Is(errs[2], ErrInvalidArchiveExt) {
		t.Errorf("errs[2] = %v, want ErrInvalidArchiveExt", errs[2])
	}
}
