package engine

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/uirefine/idgen"
	"github.com/hazyhaar/uirefine/kit"
)

// RegisterMCP registers uirefine_score and uirefine_refine, plus
// uirefine_runs when an archive is attached and uirefine_submit and
// uirefine_job when a queue is.
func (e *Engine) RegisterMCP(srv *mcp.Server) {
	e.registerScoreTool(srv)
	e.registerRefineTool(srv)
	if e.cfg.Archive != nil {
		e.registerRunsTool(srv)
	}
	if e.cfg.Jobs != nil {
		e.registerSubmitTool(srv)
		e.registerJobTool(srv)
	}
}

func (e *Engine) middleware(name string) kit.Middleware {
	return kit.Chain(
		kit.Recover(),
		kit.WithRequestIDs(idgen.Prefixed("req_", idgen.UUIDv7())),
		kit.Logging(e.logger, name),
	)
}

func (e *Engine) registerScoreTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "uirefine_score",
		Description: "Score HTML for layout and accessibility quality. Returns metrics, issues and suggestions.",
		InputSchema: kit.InputSchema(map[string]any{
			"html":        map[string]any{"type": "string", "description": "Markup to score"},
			"design_spec": map[string]any{"type": "object", "description": "Optional design constraints"},
		}, []string{"html"}),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		return e.Score(ctx, *req.(*ScoreRequest))
	}
	kit.RegisterMCPTool(srv, tool, e.middleware(tool.Name)(endpoint), kit.DecodeArgs[ScoreRequest]())
}

func (e *Engine) registerRefineTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "uirefine_refine",
		Description: "Iteratively render, score and refine HTML until quality is reached or progress stalls.",
		InputSchema: kit.InputSchema(map[string]any{
			"html":           map[string]any{"type": "string", "description": "Initial markup"},
			"requirements":   map[string]any{"type": "object", "description": "Free-form requirements for the refiner"},
			"max_iterations": map[string]any{"type": "integer", "description": "Override the iteration bound"},
			"run_id":         map[string]any{"type": "string", "description": "Optional run ID"},
		}, []string{"html"}),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		return e.Refine(ctx, *req.(*RefineRequest))
	}
	kit.RegisterMCPTool(srv, tool, e.middleware(tool.Name)(endpoint), kit.DecodeArgs[RefineRequest]())
}

type runsReq struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

func (e *Engine) registerRunsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "uirefine_runs",
		Description: "List archived refinement runs, most recent first.",
		InputSchema: kit.InputSchema(map[string]any{
			"limit":  map[string]any{"type": "integer", "description": "Max runs (default 50)"},
			"offset": map[string]any{"type": "integer", "description": "Skip this many runs"},
		}, nil),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*runsReq)
		runs, err := e.cfg.Archive.Runs(ctx, min(r.Limit, 500), max(r.Offset, 0))
		if err != nil {
			return nil, err
		}
		return map[string]any{"runs": runs}, nil
	}
	kit.RegisterMCPTool(srv, tool, e.middleware(tool.Name)(endpoint), kit.DecodeArgs[runsReq]())
}

func (e *Engine) registerSubmitTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "uirefine_submit",
		Description: "Queue a refinement run in the background. Returns the job; poll it with uirefine_job.",
		InputSchema: kit.InputSchema(map[string]any{
			"html":           map[string]any{"type": "string", "description": "Initial markup"},
			"requirements":   map[string]any{"type": "object", "description": "Free-form requirements for the refiner"},
			"max_iterations": map[string]any{"type": "integer", "description": "Override the iteration bound"},
			"run_id":         map[string]any{"type": "string", "description": "Optional run ID, also the job ID"},
		}, []string{"html"}),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		return e.Submit(ctx, *req.(*RefineRequest))
	}
	kit.RegisterMCPTool(srv, tool, e.middleware(tool.Name)(endpoint), kit.DecodeArgs[RefineRequest]())
}

type jobReq struct {
	ID string `json:"id"`
}

func (e *Engine) registerJobTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "uirefine_job",
		Description: "Get the status of a queued refinement job and, once done, its result.",
		InputSchema: kit.InputSchema(map[string]any{
			"id": map[string]any{"type": "string", "description": "Job ID returned by uirefine_submit"},
		}, []string{"id"}),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		return e.Job(ctx, req.(*jobReq).ID)
	}
	kit.RegisterMCPTool(srv, tool, e.middleware(tool.Name)(endpoint), kit.DecodeArgs[jobReq]())
}
