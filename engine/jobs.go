package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hazyhaar/uirefine/guard"
	"github.com/hazyhaar/uirefine/idgen"
	"github.com/hazyhaar/uirefine/jobs"
	"github.com/hazyhaar/uirefine/kit"
)

// ErrNoQueue is returned by the job operations when no queue is attached.
var ErrNoQueue = errors.New("engine: no job queue configured")

// Submit validates req and queues it for RunJobs. The job ID is the run
// ID, so the archived run and the job share one identifier.
func (e *Engine) Submit(ctx context.Context, req RefineRequest) (jobs.Job, error) {
	if e.cfg.Jobs == nil {
		return jobs.Job{}, ErrNoQueue
	}
	if strings.TrimSpace(req.Markup) == "" {
		return jobs.Job{}, ErrNoMarkup
	}
	if req.RunID == "" {
		req.RunID = kit.GetRunID(ctx)
	}
	if req.RunID == "" {
		req.RunID = idgen.NewRunID()
	}
	if err := guard.ValidateIdentifier(req.RunID); err != nil {
		return jobs.Job{}, fmt.Errorf("%w: %w", ErrInvalidRunID, err)
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return jobs.Job{}, fmt.Errorf("engine: encode job: %w", err)
	}
	j, err := e.cfg.Jobs.Submit(ctx, req.RunID, payload)
	if err != nil {
		return jobs.Job{}, err
	}
	e.logger.Info("engine: job queued", "job_id", j.ID, "html_length", len(req.Markup))
	return j, nil
}

// Job returns a queued or finished job.
func (e *Engine) Job(ctx context.Context, id string) (jobs.Job, error) {
	if e.cfg.Jobs == nil {
		return jobs.Job{}, ErrNoQueue
	}
	return e.cfg.Jobs.Get(ctx, id)
}

// Jobs lists jobs, most recent first, optionally filtered by status.
func (e *Engine) Jobs(ctx context.Context, status string, limit int) ([]jobs.Job, error) {
	if e.cfg.Jobs == nil {
		return nil, ErrNoQueue
	}
	return e.cfg.Jobs.List(ctx, status, limit)
}

// RunJobs processes queued jobs until ctx is done. It returns at once when
// no queue is attached.
func (e *Engine) RunJobs(ctx context.Context) {
	if e.cfg.Jobs == nil {
		return
	}
	e.cfg.Jobs.Run(ctx, e.runJob)
}

func (e *Engine) runJob(ctx context.Context, j *jobs.Job) ([]byte, error) {
	var req RefineRequest
	if err := json.Unmarshal(j.Payload, &req); err != nil {
		return nil, fmt.Errorf("engine: decode job %s: %w", j.ID, err)
	}
	req.RunID = j.ID
	ctx = kit.WithTransport(ctx, "jobs")
	resp, err := e.middleware("job")(func(ctx context.Context, req any) (any, error) {
		return e.Refine(ctx, req.(RefineRequest))
	})(ctx, req)
	if err != nil {
		return nil, err
	}
	return json.Marshal(resp)
}
