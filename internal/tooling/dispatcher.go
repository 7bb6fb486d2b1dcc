// Package tooling merges the in-process governance handlers with the
// configured MCP tool servers into one catalog. Callers talk to the
// Dispatcher only; where a tool actually runs is invisible to the model.
package tooling

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/wardenhq/warden/internal/model/contract"
)

// Handler is one in-process tool.
type Handler interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, input json.RawMessage) (string, error)
}

// Result is what a tool call produces. Failures ride in-band: IsError
// marks the content as an error message for the model. Execute itself
// never fails.
type Result struct {
	Content string
	IsError bool
}

type serverCatalog interface {
	Definitions() []contract.ToolDef
	Has(name string) bool
	Validate(name string, input json.RawMessage) error
	Call(ctx context.Context, name string, input json.RawMessage) (string, bool, error)
}

// Dispatcher routes tool calls to in-process handlers first, then to the
// server catalog. An in-process handler shadows a server tool of the same
// name.
type Dispatcher struct {
	local   map[string]Handler
	servers serverCatalog
}

func NewDispatcher(pool *Pool, handlers []Handler) *Dispatcher {
	var servers serverCatalog
	if pool != nil {
		servers = pool
	}
	return newDispatcher(servers, handlers)
}

func newDispatcher(servers serverCatalog, handlers []Handler) *Dispatcher {
	d := &Dispatcher{local: make(map[string]Handler, len(handlers)), servers: servers}
	for _, h := range handlers {
		name := strings.TrimSpace(h.Name())
		if name == "" {
			panic("tooling: empty handler name")
		}
		if _, dup := d.local[name]; dup {
			slog.Warn("Duplicate in-process tool, keeping the first", "tool", name)
			continue
		}
		d.local[name] = h
	}
	return d
}

// Definitions returns the merged catalog filtered by the role's lists and
// sorted by name. Denied names are removed; a non-empty allow list keeps
// only listed names. Matching is case-insensitive like the role checks.
func (d *Dispatcher) Definitions(allowed, denied []string) []contract.ToolDef {
	merged := make(map[string]contract.ToolDef)
	if d.servers != nil {
		for _, def := range d.servers.Definitions() {
			merged[def.Name] = def
		}
	}
	for name, h := range d.local {
		merged[name] = contract.ToolDef{
			Name:        name,
			Description: h.Description(),
			Parameters:  h.Parameters(),
		}
	}

	allowSet := lowerSet(allowed)
	denySet := lowerSet(denied)

	names := make([]string, 0, len(merged))
	for name := range merged {
		key := strings.ToLower(name)
		if _, ok := denySet[key]; ok {
			continue
		}
		if len(allowSet) > 0 {
			if _, ok := allowSet[key]; !ok {
				continue
			}
		}
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]contract.ToolDef, 0, len(names))
	for _, name := range names {
		defs = append(defs, merged[name])
	}
	return defs
}

// Execute runs one tool call. Unknown names, schema violations, transport
// errors and handler failures all come back as error results so the caller
// can feed them to the model as a tool result.
func (d *Dispatcher) Execute(ctx context.Context, name string, input json.RawMessage) Result {
	name = strings.TrimSpace(name)
	start := time.Now()

	if h, ok := d.local[name]; ok {
		out, err := h.Execute(ctx, input)
		if err != nil {
			slog.Error("Tool failed", "tool", name, "error", err, "duration", time.Since(start))
			return Result{Content: err.Error(), IsError: true}
		}
		slog.Info("Tool executed", "tool", name, "duration", time.Since(start))
		return Result{Content: out}
	}

	if d.servers != nil && d.servers.Has(name) {
		if err := d.servers.Validate(name, input); err != nil {
			slog.Warn("Tool input rejected", "tool", name, "error", err)
			return Result{Content: fmt.Sprintf("invalid arguments for %s: %v", name, err), IsError: true}
		}
		content, isErr, err := d.servers.Call(ctx, name, input)
		if err != nil {
			slog.Error("Tool server call failed", "tool", name, "error", err, "duration", time.Since(start))
			return Result{Content: fmt.Sprintf("tool %s failed: %v", name, err), IsError: true}
		}
		slog.Info("Tool executed", "tool", name, "remote", true, "duration", time.Since(start))
		return Result{Content: content, IsError: isErr}
	}

	return Result{Content: fmt.Sprintf("unknown tool %s", name), IsError: true}
}

func lowerSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		set[strings.ToLower(strings.TrimSpace(name))] = struct{}{}
	}
	return set
}
