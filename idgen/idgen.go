// Package idgen generates identifiers for refinement runs.
//
// Runs, archive rows and screenshot keys all take their IDs from a
// Generator, so tests can substitute a deterministic one.
package idgen

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// RunPrefix marks refinement run IDs.
const RunPrefix = "run_"

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 returns a Generator of RFC 9562 UUID v7 strings. They sort by
// creation time, which keeps archive listings in run order.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed prepends prefix to every ID produced by gen.
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Sequence returns a Generator of prefix1, prefix2, ... for tests and
// reproducible runs. It is not safe for concurrent use.
func Sequence(prefix string) Generator {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s%d", prefix, n)
	}
}

// RunIDs is the default run ID generator.
var RunIDs Generator = Prefixed(RunPrefix, UUIDv7())

// NewRunID produces a run ID with RunIDs.
func NewRunID() string {
	return RunIDs()
}

// ParseRunID validates a run ID produced by RunIDs and returns its UUID
// part.
func ParseRunID(id string) (string, error) {
	rest, ok := strings.CutPrefix(id, RunPrefix)
	if !ok {
		return "", fmt.Errorf("idgen: run id %q: missing %q prefix", id, RunPrefix)
	}
	u, err := uuid.Parse(rest)
	if err != nil {
		return "", fmt.Errorf("idgen: run id %q: %w", id, err)
	}
	return u.String(), nil
}
