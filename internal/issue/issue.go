// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"maps"
	"slices"
	"strings"

	"github.com/charmbracelet/glamour"
)

// Id identifies a catalog entry.
type Id int

const (
	// NoIssue means no catalog guidance is attached.
	NoIssue Id = iota
	ConfigLoadFailedId
	InstallFailedId
	RuntimeDownloadFailedId
	StubNotFoundId
	TargetsFailedId
	KubectlFailedId
)

type (
	// MarkdownMsg is guidance text in Markdown.
	MarkdownMsg string

	// HttpLink is a documentation URL.
	HttpLink string

	// Issue is one catalog entry.
	Issue struct {
		id    Id
		mdMsg MarkdownMsg
		links []HttpLink
	}
)

// Id returns the catalog id.
func (i *Issue) Id() Id { return i.id }

// MarkdownMsg returns the raw guidance.
func (i *Issue) MarkdownMsg() MarkdownMsg { return i.mdMsg }

// Links returns a copy of the documentation links.
func (i *Issue) Links() []HttpLink { return slices.Clone(i.links) }

// Render renders the guidance for a terminal using a glamour style name
// such as "dark", "light", "notty", or a path to a style file.
func (i *Issue) Render(style string) (string, error) {
	var sb strings.Builder
	sb.WriteString(string(i.mdMsg))
	if len(i.links) > 0 {
		sb.WriteString("\n\n## See also\n")
		for _, link := range i.links {
			sb.WriteString("- <" + string(link) + ">\n")
		}
	}
	return render(sb.String(), style)
}

var (
	render = glamour.Render

	issues = map[Id]*Issue{
		ConfigLoadFailedId: {
			id: ConfigLoadFailedId,
			mdMsg: `
# Configuration could not be loaded

The configuration file did not validate against the built-in schema.

## Things you can try
- Check the field names: ` + "`app_name`, `runtime_version`, `stub_dir`, `dist_dir`, `tmp_dir`" + `
- Durations use Go syntax, for example ` + "`download_timeout: \"5m\"`" + `
- Print the effective configuration:
~~~
$ gluctl config show
~~~`,
			links: []HttpLink{"https://cuelang.org/docs/"},
		},
		InstallFailedId: {
			id: InstallFailedId,
			mdMsg: `
# Dependency installation failed

The production install ran inside the staging copy and exited with an error.
No target was built.

## Things you can try
- Make sure a lockfile is committed; ` + "`npm ci`" + ` requires one
- Run the installer yourself in the source directory to see its full output
- Override the installer in ` + "`gluctl.cue`" + `:
~~~
installer: ["npm", "ci", "--omit", "dev"]
~~~`,
		},
		RuntimeDownloadFailedId: {
			id: RuntimeDownloadFailedId,
			mdMsg: `
# Runtime download failed

The runtime archive for one or more targets could not be fetched.

## Things you can try
- Check that the version exists on the mirror, for example ` + "`v20.11.0`" + `
- Point ` + "`runtime_mirror`" + ` (or a per-target entry in ` + "`mirrors`" + `) at a reachable mirror
- Raise ` + "`download_timeout`" + ` on slow connections`,
			links: []HttpLink{"https://nodejs.org/dist/"},
		},
		StubNotFoundId: {
			id: StubNotFoundId,
			mdMsg: `
# Launcher stub not found

Every target needs a prebuilt stub named ` + "`stub--<platform>--<arch>`" + ` in the stub directory.

## Things you can try
- Install the stubs into ` + "`node_modules/caxa/stubs`" + `:
~~~
$ npm install --save-dev caxa
~~~
- Or set ` + "`stub_dir`" + ` to the directory holding them`,
		},
		TargetsFailedId: {
			id: TargetsFailedId,
			mdMsg: `
# Some targets failed

Targets that succeeded were written and recorded in ` + "`checksums.txt`" + `.
Re-run with ` + "`--verbose`" + ` to see the step each failed target stopped at,
and ` + "`--target`" + ` to rebuild only those.`,
		},
		KubectlFailedId: {
			id: KubectlFailedId,
			mdMsg: `
# kubectl failed

## Things you can try
- Check the current context:
~~~
$ kubectl config current-context
~~~
- Verify the snapshot CronJob exists: ` + "`<app>-<claim>-snapshot`" + `
- Verify the kopia deployment name and namespace`,
			links: []HttpLink{"https://kopia.io/docs/reference/command-line/common/snapshot-list/"},
		},
	}
)

// Values returns every catalog entry ordered by id.
func Values() []*Issue {
	ids := slices.Sorted(maps.Keys(issues))
	out := make([]*Issue, 0, len(ids))
	for _, id := range ids {
		out = append(out, issues[id])
	}
	return out
}

// Get returns the entry for id, or nil.
func Get(id Id) *Issue {
	return issues[id]
}
