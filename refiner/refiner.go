// Package refiner implements refine.Refiner on top of a text-generation
// model. It turns a snapshot into a prompt, asks the model for a revised
// page, pulls the markup out of the reply and sanitises it before the loop
// renders it.
package refiner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hazyhaar/uirefine/feedback"
	"github.com/hazyhaar/uirefine/refine"
)

var _ refine.Refiner = (*LLM)(nil)

// ErrNoMarkup is returned when a model reply holds no markup.
var ErrNoMarkup = errors.New("refiner: reply contains no markup")

// Model generates text from a prompt.
type Model interface {
	Name() string
	Generate(ctx context.Context, prompt string) (string, error)
}

// LLM refines markup with a Model.
type LLM struct {
	model     Model
	logger    *slog.Logger
	sanitize  bool
	maxPrompt int
}

// Option configures an LLM.
type Option func(*LLM)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *LLM) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithoutSanitize hands the model's markup to the loop unfiltered.
func WithoutSanitize() Option {
	return func(r *LLM) { r.sanitize = false }
}

// WithMaxPromptBytes truncates the current markup embedded in the prompt.
// Default: 64 KiB.
func WithMaxPromptBytes(n int) Option {
	return func(r *LLM) {
		if n > 0 {
			r.maxPrompt = n
		}
	}
}

// NewLLM creates an LLM refiner.
func NewLLM(model Model, opts ...Option) *LLM {
	r := &LLM{
		model:     model,
		logger:    slog.Default(),
		sanitize:  true,
		maxPrompt: 64 << 10,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Refine asks the model for an improved version of markup.
func (r *LLM) Refine(ctx context.Context, markup string, snap *feedback.Snapshot, suggestions []string, reqs refine.Requirements) (string, error) {
	if r.model == nil {
		return "", errors.New("refiner: no model")
	}
	prompt := BuildPrompt(truncate(markup, r.maxPrompt), snap, suggestions, reqs)

	reply, err := r.model.Generate(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("refiner: %s: %w", r.model.Name(), err)
	}
	out := ExtractMarkup(reply)
	if out == "" {
		return "", ErrNoMarkup
	}
	if r.sanitize {
		out = Sanitize(out)
	}

	iteration := 0
	if snap != nil {
		iteration = snap.Iteration
	}
	r.logger.Debug("refiner: markup proposed",
		"model", r.model.Name(),
		"iteration", iteration,
		"prompt_bytes", len(prompt),
		"reply_bytes", len(reply),
		"markup_bytes", len(out),
	)
	return out, nil
}

// ExtractMarkup returns the markup in a model reply: the body of the first
// fenced code block when there is one, the trimmed reply otherwise.
func ExtractMarkup(reply string) string {
	start := strings.Index(reply, "```")
	if start < 0 {
		return strings.TrimSpace(reply)
	}
	body := reply[start+3:]
	// Skip the info string (```html).
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		body = body[nl+1:]
	} else {
		return ""
	}
	if end := strings.Index(body, "```"); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n]
}
