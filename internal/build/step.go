// SPDX-License-Identifier: MPL-2.0

package build

import (
	"errors"
	"fmt"
)

const (
	// StepFetchRuntime downloads (or reuses) the runtime archive and extracts the runtime.
	StepFetchRuntime Step = iota + 1
	// StepLocateStub resolves the launcher stub for the target.
	StepLocateStub
	// StepBuildArchive packs the staging tree plus runtime into the target archive.
	StepBuildArchive
	// StepAssemble concatenates stub, archive and manifest and records the checksum.
	StepAssemble
)

// ErrInvalidStep is returned when a Step value is outside the closed set.
var ErrInvalidStep = errors.New("invalid build step")

//nolint:gochecknoglobals // static name table
var stepNames = [...]string{
	StepFetchRuntime: "fetch-runtime",
	StepLocateStub:   "locate-stub",
	StepBuildArchive: "build-archive",
	StepAssemble:     "assemble",
}

// Step is one stage of a per-target build. The set is closed; Steps returns
// them in execution order.
type Step int

// Steps returns every step in execution order.
func Steps() []Step {
	return []Step{StepFetchRuntime, StepLocateStub, StepBuildArchive, StepAssemble}
}

// String returns the step name, e.g. "fetch-runtime".
func (s Step) String() string {
	if ok, _ := s.IsValid(); !ok {
		return fmt.Sprintf("step(%d)", int(s))
	}
	return stepNames[s]
}

// IsValid returns whether the Step is one of the defined steps, and a list of
// validation errors if it is not.
func (s Step) IsValid() (bool, []error) {
	if s < StepFetchRuntime || s > StepAssemble {
		return false, []error{fmt.Errorf("%w: %d", ErrInvalidStep, int(s))}
	}
	return true, nil
}
