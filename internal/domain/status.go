package domain

import (
	"fmt"
	"strings"
)

// ImageStatus is the lifecycle state of a built image.
type ImageStatus string

const (
	ImagePending  ImageStatus = "PENDING"
	ImageBuilding ImageStatus = "BUILDING"
	ImageComplete ImageStatus = "COMPLETE"
	ImageError    ImageStatus = "ERROR"
)

// AssemblyStatus is the lifecycle state of an assembly.
type AssemblyStatus string

const (
	AssemblyQueued            AssemblyStatus = "QUEUED"
	AssemblyBuilding          AssemblyStatus = "BUILDING"
	AssemblyError             AssemblyStatus = "ERROR"
	AssemblyUnitTesting       AssemblyStatus = "UNIT_TESTING"
	AssemblyUnitTestingFailed AssemblyStatus = "UNIT_TESTING_FAILED"
	AssemblyReady             AssemblyStatus = "READY"
	AssemblyDeploying         AssemblyStatus = "DEPLOYING"
	AssemblyActive            AssemblyStatus = "ACTIVE"
	AssemblyDeleting          AssemblyStatus = "DELETING"
)

var imageTransitions = map[ImageStatus][]ImageStatus{
	ImagePending:  {ImageBuilding, ImageError},
	ImageBuilding: {ImageComplete, ImageError},
	ImageComplete: {},
	ImageError:    {},
}

var assemblyTransitions = map[AssemblyStatus][]AssemblyStatus{
	AssemblyQueued:            {AssemblyBuilding, AssemblyError, AssemblyDeleting},
	AssemblyBuilding:          {AssemblyUnitTesting, AssemblyReady, AssemblyError, AssemblyDeleting},
	AssemblyUnitTesting:       {AssemblyUnitTestingFailed, AssemblyReady, AssemblyError, AssemblyDeleting},
	AssemblyReady:             {AssemblyDeploying, AssemblyError, AssemblyDeleting},
	AssemblyDeploying:         {AssemblyActive, AssemblyError, AssemblyDeleting},
	AssemblyActive:            {AssemblyDeploying, AssemblyDeleting},
	AssemblyError:             {AssemblyDeleting},
	AssemblyUnitTestingFailed: {AssemblyDeleting},
	AssemblyDeleting:          {AssemblyError},
}

// Valid reports whether s is a declared image status.
func (s ImageStatus) Valid() bool {
	_, ok := imageTransitions[s]
	return ok
}

// IsTerminal reports whether no further transitions leave s.
func (s ImageStatus) IsTerminal() bool {
	next, ok := imageTransitions[s]
	return ok && len(next) == 0
}

// CanTransition reports whether the image lifecycle allows moving from s to next.
func (s ImageStatus) CanTransition(next ImageStatus) bool {
	for _, allowed := range imageTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Valid reports whether s is a declared assembly status.
func (s AssemblyStatus) Valid() bool {
	_, ok := assemblyTransitions[s]
	return ok
}

// IsTerminal reports whether s ends the build and deploy pipeline.
// ACTIVE is terminal for the pipeline even though a redeploy may leave it.
func (s AssemblyStatus) IsTerminal() bool {
	switch s {
	case AssemblyError, AssemblyUnitTestingFailed, AssemblyActive:
		return true
	}
	return false
}

// CanTransition reports whether the assembly lifecycle allows moving from s to next.
func (s AssemblyStatus) CanTransition(next AssemblyStatus) bool {
	for _, allowed := range assemblyTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ParseImageStatus normalises raw and rejects values outside the declared set.
func ParseImageStatus(raw string) (ImageStatus, error) {
	s := ImageStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("invalid image status %q", raw)
	}
	return s, nil
}

// ParseAssemblyStatus normalises raw and rejects values outside the declared set.
func ParseAssemblyStatus(raw string) (AssemblyStatus, error) {
	s := AssemblyStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("invalid assembly status %q", raw)
	}
	return s, nil
}
