package tools

import (
	"context"
	"encoding/json"
	"fmt"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// MCPServer describes one stdio MCP server to connect to.
type MCPServer struct {
	Name    string
	Command string
	Args    []string
	Env     map[string]string
}

// MCPProxy exposes one remote MCP tool through the registry. Names are
// prefixed mcp__<server>__<tool> so remote tools can never shadow
// built-ins.
type MCPProxy struct {
	client mcpclient.MCPClient
	server string
	tool   mcp.Tool
}

func (p *MCPProxy) Descriptor() Descriptor {
	schema, err := json.Marshal(p.tool.InputSchema)
	if err != nil {
		schema = json.RawMessage(`{"type":"object"}`)
	}
	return Descriptor{
		Name:         fmt.Sprintf("mcp__%s__%s", p.server, p.tool.Name),
		Description:  p.tool.Description,
		InputSchema:  schema,
		Capabilities: []Capability{CapMCP},
		Variant:      VariantMCP,
	}
}

func (p *MCPProxy) Call(ctx context.Context, args json.RawMessage) (Result, error) {
	var input map[string]any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &input); err != nil {
			return Result{}, fmt.Errorf("invalid parameters: %w", err)
		}
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = p.tool.Name
	req.Params.Arguments = input

	res, err := p.client.CallTool(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("mcp call %s: %w", p.tool.Name, err)
	}

	var text string
	for _, c := range res.Content {
		if tc, ok := mcp.AsTextContent(c); ok {
			text += tc.Text
		}
	}
	return Result{IsError: res.IsError, Content: text}, nil
}

// ConnectMCP starts the server process, performs the handshake, and
// returns a proxy per discovered tool. The caller owns the client and
// must Close it on shutdown.
func ConnectMCP(ctx context.Context, server MCPServer) ([]Tool, mcpclient.MCPClient, error) {
	env := make([]string, 0, len(server.Env))
	for k, v := range server.Env {
		env = append(env, k+"="+v)
	}
	client, err := mcpclient.NewStdioMCPClient(server.Command, env, server.Args...)
	if err != nil {
		return nil, nil, fmt.Errorf("mcp client %s: %w", server.Name, err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "qmt", Version: "1.0.0"}
	if _, err := client.Initialize(ctx, initReq); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("mcp initialize %s: %w", server.Name, err)
	}

	listed, err := client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("mcp tools/list %s: %w", server.Name, err)
	}

	proxies := make([]Tool, 0, len(listed.Tools))
	for _, t := range listed.Tools {
		proxies = append(proxies, &MCPProxy{client: client, server: server.Name, tool: t})
	}
	return proxies, client, nil
}
