// Package tools executes the function calls the realtime model issues
// during a conversation.
//
// Two tools are built in: save_parameters, which lets the model stash
// structured data collected from the caller, and hangup_call, which ends
// the call. Tools declared in the agent profile are advertised alongside;
// their arguments are captured per call the same way so an integration can
// retrieve everything the model extracted.
package tools

import (
	"context"
	"encoding/json"
	"log/slog"
	"maps"
	"sync"

	"github.com/voxgate/voxgate/internal/config"
	"github.com/voxgate/voxgate/pkg/realtime"
)

const (
	ToolSaveParameters = "save_parameters"
	ToolHangupCall     = "hangup_call"
)

// Result is the outcome of one tool execution.
type Result struct {
	// Output is the JSON payload reported back to the model.
	Output string

	// Hangup is true when the tool asks the orchestrator to end the call.
	Hangup bool
}

// Registry holds tool definitions and the per-call parameters captured from
// tool arguments.
type Registry struct {
	log  *slog.Logger
	defs []realtime.ToolDefinition

	mu    sync.Mutex
	saved map[string]map[string]any // call ID -> merged arguments
}

// NewRegistry builds the registry from the profile's tool declarations plus
// the built-ins.
func NewRegistry(log *slog.Logger, profileTools []config.ToolSpec) *Registry {
	defs := make([]realtime.ToolDefinition, 0, len(profileTools)+2)
	for _, t := range profileTools {
		defs = append(defs, realtime.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	defs = append(defs,
		realtime.ToolDefinition{
			Name:        ToolSaveParameters,
			Description: "Persist structured data collected from the caller. Call this whenever the caller provides information worth keeping.",
			Parameters: map[string]any{
				"type":                 "object",
				"additionalProperties": true,
			},
		},
		realtime.ToolDefinition{
			Name:        ToolHangupCall,
			Description: "End the phone call. Call this after saying goodbye to the caller.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
	)

	return &Registry{
		log:   log,
		defs:  defs,
		saved: make(map[string]map[string]any),
	}
}

// Definitions returns the tool definitions advertised to the model.
func (r *Registry) Definitions() []realtime.ToolDefinition {
	return r.defs
}

// Execute runs the named tool with the model-supplied JSON arguments. The
// arguments of every successfully parsed call are merged into the call's
// saved parameters, so save_parameters needs no handling beyond that.
func (r *Registry) Execute(ctx context.Context, callID, name, args string) Result {
	var parsed map[string]any
	if args != "" {
		if err := json.Unmarshal([]byte(args), &parsed); err != nil {
			r.log.Warn("tool arguments unparseable", "call_id", callID, "tool", name, "error", err)
			return Result{Output: errorOutput("invalid arguments: " + err.Error())}
		}
	}
	if len(parsed) > 0 {
		r.save(callID, parsed)
	}

	switch name {
	case ToolHangupCall:
		return Result{Output: `{"status":"hanging_up"}`, Hangup: true}
	case ToolSaveParameters:
		return Result{Output: `{"status":"saved"}`}
	}

	for _, d := range r.defs {
		if d.Name == name {
			return Result{Output: `{"status":"ok"}`}
		}
	}

	r.log.Warn("unknown tool requested", "call_id", callID, "tool", name)
	return Result{Output: errorOutput("unknown tool: " + name)}
}

// SavedParameters returns a copy of the parameters captured for the call.
func (r *Registry) SavedParameters(callID string) map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]any, len(r.saved[callID]))
	maps.Copy(out, r.saved[callID])
	return out
}

// Forget drops the call's captured parameters. Called at cleanup.
func (r *Registry) Forget(callID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.saved, callID)
}

func (r *Registry) save(callID string, args map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.saved[callID]
	if !ok {
		m = make(map[string]any)
		r.saved[callID] = m
	}
	maps.Copy(m, args)
}

func errorOutput(msg string) string {
	data, _ := json.Marshal(map[string]string{"error": msg})
	return string(data)
}
