package tooling

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/google/shlex"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/model/contract"
)

// serverTool is one tool a connected server advertised at list time.
type serverTool struct {
	server string
	def    contract.ToolDef
	schema *jsonschema.Schema
	client *client.Client
}

// Pool holds one MCP client per configured tool server and the tools they
// advertised. Tools are listed once at connect; servers that change their
// catalog need a restart to be picked up.
type Pool struct {
	mu      sync.RWMutex
	clients []*client.Client
	tools   map[string]*serverTool
}

// NewPool connects every configured server. A server that fails to connect
// is skipped with a warning so the rest of the catalog stays usable.
func NewPool(ctx context.Context, servers []config.ToolServerConfig) *Pool {
	p := &Pool{tools: make(map[string]*serverTool)}
	for _, cfg := range servers {
		if err := p.connect(ctx, cfg); err != nil {
			slog.Warn("Tool server unavailable", "server", cfg.Name, "error", err)
		}
	}
	return p
}

func (p *Pool) connect(ctx context.Context, cfg config.ToolServerConfig) error {
	c, err := dial(ctx, cfg)
	if err != nil {
		return err
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "warden", Version: "1.0.0"}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		c.Close()
		return fmt.Errorf("initialize %s: %w", cfg.Name, err)
	}

	listed, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		c.Close()
		return fmt.Errorf("list tools on %s: %w", cfg.Name, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.clients = append(p.clients, c)
	for _, t := range listed.Tools {
		if _, taken := p.tools[t.Name]; taken {
			slog.Warn("Tool name already registered, keeping the first", "tool", t.Name, "server", cfg.Name)
			continue
		}
		params, sch := convertSchema(cfg.Name, t)
		p.tools[t.Name] = &serverTool{
			server: cfg.Name,
			def:    contract.ToolDef{Name: t.Name, Description: t.Description, Parameters: params},
			schema: sch,
			client: c,
		}
	}
	slog.Info("Tool server connected", "server", cfg.Name, "tools", len(listed.Tools))
	return nil
}

func dial(ctx context.Context, cfg config.ToolServerConfig) (*client.Client, error) {
	switch {
	case cfg.Command != "" && cfg.URL != "":
		return nil, fmt.Errorf("server %s declares both command and url", cfg.Name)
	case cfg.Command != "":
		parts, err := shlex.Split(cfg.Command)
		if err != nil {
			return nil, fmt.Errorf("parse command for %s: %w", cfg.Name, err)
		}
		if len(parts) == 0 {
			return nil, fmt.Errorf("server %s has an empty command", cfg.Name)
		}
		return client.NewStdioMCPClient(parts[0], cfg.Env, parts[1:]...)
	case cfg.URL != "":
		c, err := client.NewStreamableHttpClient(cfg.URL)
		if err != nil {
			return nil, err
		}
		if err := c.Start(ctx); err != nil {
			return nil, fmt.Errorf("start http client for %s: %w", cfg.Name, err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("server %s declares neither command nor url", cfg.Name)
	}
}

// convertSchema renders the advertised input schema both as the loose map
// the model layer sends out and as a compiled validator. A schema that
// does not compile disables validation for that one tool.
func convertSchema(server string, t mcp.Tool) (map[string]interface{}, *jsonschema.Schema) {
	raw, err := json.Marshal(t.InputSchema)
	if err != nil {
		slog.Warn("Tool schema not marshalable", "server", server, "tool", t.Name, "error", err)
		return nil, nil
	}
	var params map[string]interface{}
	if err := json.Unmarshal(raw, &params); err != nil {
		slog.Warn("Tool schema is not an object", "server", server, "tool", t.Name, "error", err)
		return nil, nil
	}
	sch, err := compileSchema(t.Name, raw)
	if err != nil {
		slog.Warn("Tool schema does not compile, skipping validation", "server", server, "tool", t.Name, "error", err)
		return params, nil
	}
	return params, sch
}

func (p *Pool) Definitions() []contract.ToolDef {
	p.mu.RLock()
	defer p.mu.RUnlock()

	defs := make([]contract.ToolDef, 0, len(p.tools))
	for _, t := range p.tools {
		defs = append(defs, t.def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

func (p *Pool) Has(name string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.tools[name]
	return ok
}

// Validate checks call arguments against the server-declared schema.
func (p *Pool) Validate(name string, input json.RawMessage) error {
	p.mu.RLock()
	t, ok := p.tools[name]
	p.mu.RUnlock()
	if !ok {
		return nil
	}
	return validateArgs(t.schema, input)
}

// Call invokes a server tool and flattens the reply to text. The bool
// mirrors the server's own error flag.
func (p *Pool) Call(ctx context.Context, name string, input json.RawMessage) (string, bool, error) {
	p.mu.RLock()
	t, ok := p.tools[name]
	p.mu.RUnlock()
	if !ok {
		return "", false, fmt.Errorf("unknown server tool %s", name)
	}

	args := map[string]any{}
	if len(input) > 0 {
		if err := json.Unmarshal(input, &args); err != nil {
			return "", false, fmt.Errorf("arguments are not a JSON object: %w", err)
		}
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	res, err := t.client.CallTool(ctx, req)
	if err != nil {
		return "", false, err
	}

	var parts []string
	for _, content := range res.Content {
		if tc, ok := content.(mcp.TextContent); ok {
			parts = append(parts, tc.Text)
			continue
		}
		if raw, err := json.Marshal(content); err == nil {
			parts = append(parts, string(raw))
		}
	}
	return strings.Join(parts, "\n"), res.IsError, nil
}

// Close shuts down every connected client.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.clients {
		if err := c.Close(); err != nil {
			slog.Warn("Tool server close failed", "error", err)
		}
	}
	p.clients = nil
	p.tools = make(map[string]*serverTool)
}
