package sink

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/hazyhaar/uirefine/refine"
)

// Stdout writes JSON lines to an io.Writer (default os.Stdout).
type Stdout struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewStdout creates a Stdout sink. If w is nil, os.Stdout is used.
func NewStdout(w io.Writer) *Stdout {
	if w == nil {
		w = os.Stdout
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &Stdout{enc: enc}
}

func (s *Stdout) OnIteration(_ context.Context, runID string, res refine.IterationResult) error {
	return s.write(envelope{Type: TypeIteration, RunID: runID, Data: res})
}

func (s *Stdout) OnComplete(_ context.Context, runID string, sum refine.Summary) error {
	return s.write(envelope{Type: TypeSummary, RunID: runID, Data: sum})
}

func (s *Stdout) Close() error { return nil }

func (s *Stdout) write(e envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(e)
}
