// SPDX-License-Identifier: MPL-2.0

package config

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// GenerateCUE renders cfg as a gluctl.cue document that validates against
// the schema.
func GenerateCUE(cfg *Config) string {
	var sb strings.Builder

	sb.WriteString("// gluctl configuration\n\n")

	fmt.Fprintf(&sb, "app_name:         %q\n", cfg.AppName)
	fmt.Fprintf(&sb, "runtime_version:  %q\n", cfg.RuntimeVersion)
	fmt.Fprintf(&sb, "runtime_mirror:   %q\n", cfg.RuntimeMirror)
	fmt.Fprintf(&sb, "stub_dir:         %q\n", cfg.StubDir)
	fmt.Fprintf(&sb, "dist_dir:         %q\n", cfg.DistDir)
	fmt.Fprintf(&sb, "tmp_dir:          %q\n", cfg.TmpDir)
	fmt.Fprintf(&sb, "download_timeout: %q\n", cfg.DownloadTimeout.String())
	fmt.Fprintf(&sb, "log_level:        %q\n", cfg.LogLevel)

	if len(cfg.Mirrors) > 0 {
		sb.WriteString("\nmirrors: {\n")
		for _, key := range slices.Sorted(maps.Keys(cfg.Mirrors)) {
			fmt.Fprintf(&sb, "\t%q: %q\n", key, cfg.Mirrors[key])
		}
		sb.WriteString("}\n")
	}

	writeList(&sb, "installer", cfg.Installer)
	writeList(&sb, "exclude", cfg.Exclude)
	if len(cfg.ManifestCommand) > 0 {
		writeList(&sb, "manifest_command", cfg.ManifestCommand)
	}

	return sb.String()
}

func writeList(sb *strings.Builder, key string, items []string) {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = fmt.Sprintf("%q", s)
	}
	fmt.Fprintf(sb, "%s: [%s]\n", key, strings.Join(quoted, ", "))
}
