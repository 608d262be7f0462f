// Package analysis computes layout and accessibility metrics for a set of
// extracted visual elements.
//
// Two modes exist. Detailed runs every heuristic; Lightweight returns
// coarse placeholder figures for constrained hosts. The mode is always
// chosen by the caller, never detected from the machine.
package analysis

import (
	"fmt"
	"strings"
)

// Mode selects how much work the analysers do.
type Mode int

const (
	Detailed Mode = iota
	Lightweight
)

func (m Mode) String() string {
	switch m {
	case Detailed:
		return "detailed"
	case Lightweight:
		return "lightweight"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// ParseMode accepts "detailed" or "lightweight". Empty means Detailed.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "detailed":
		return Detailed, nil
	case "lightweight", "light":
		return Lightweight, nil
	}
	return Detailed, fmt.Errorf("analysis: unknown mode %q", s)
}

func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *Mode) UnmarshalText(b []byte) error {
	parsed, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
