// SPDX-License-Identifier: MPL-2.0

package sfx

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/onedr0p/gluctl/internal/matrix"
)

// Placeholder is replaced by the launcher stub with the extraction directory.
const Placeholder = "{{caxa}}"

// Manifest is the trailer the launcher stub reads to learn where to extract
// the payload and what to run afterwards.
type Manifest struct {
	Identifier string   `json:"identifier"`
	Command    []string `json:"command"`
}

// DefaultCommand returns the command run after extraction for an application
// named name: the bundled runtime, the zx script runner, and the entry script.
func DefaultCommand(name string) []string {
	return []string{
		Placeholder + "/node_modules/.bin/node",
		Placeholder + "/node_modules/.bin/zx",
		Placeholder + "/" + name,
	}
}

// Identifier returns "<name>/<platform>-<arch>-<unix-millis>". The stub
// extracts into a directory derived from it, so successive builds never share
// an extraction directory.
func Identifier(name string, e matrix.Entry, now time.Time) string {
	return fmt.Sprintf("%s/%s-%d", name, e.Key(), now.UnixMilli())
}

// NewManifest builds the manifest for e. An empty command uses DefaultCommand.
func NewManifest(name string, e matrix.Entry, now time.Time, command []string) Manifest {
	if len(command) == 0 {
		command = DefaultCommand(name)
	}
	return Manifest{
		Identifier: Identifier(name, e, now),
		Command:    slices.Clone(command),
	}
}

// Marshal returns the compact JSON encoding of m.
func (m Manifest) Marshal() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding manifest: %w", err)
	}
	return data, nil
}

// ExpandCommand substitutes dir for the placeholder in every command word.
func (m Manifest) ExpandCommand(dir string) []string {
	out := make([]string, len(m.Command))
	for i, word := range m.Command {
		out[i] = strings.ReplaceAll(word, Placeholder, dir)
	}
	return out
}
