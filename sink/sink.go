// Package sink delivers refinement progress to outside consumers. Every
// sink implements refine.Observer and receives one event per iteration and
// one per finished run.
package sink

import (
	"github.com/hazyhaar/uirefine/refine"
)

// Sink is a refine.Observer that holds resources until Close.
type Sink interface {
	refine.Observer
	Close() error
}

// Event types carried in the envelope.
const (
	TypeIteration = "iteration"
	TypeSummary   = "summary"
)

// envelope is the JSON shape shared by the stdout and webhook sinks.
type envelope struct {
	Type  string `json:"type"`
	RunID string `json:"run_id"`
	Data  any    `json:"data"`
}
