package kit

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// MCPDecodeResult holds the decoded request and an optional context enrichment.
type MCPDecodeResult struct {
	Request   any
	EnrichCtx func(context.Context) context.Context
}

// Encode shapes an endpoint's outcome for req into the MCP wire result. It
// receives the decoded request alongside resp/err so a caller can honor a
// per-request rendering directive (the Chameleon Engine's reserved
// `_format` argument, an error Kind that needs transport-specific wording)
// without threading extra state through Endpoint's generic signature.
type Encode func(req, resp any, err error) (*mcp.CallToolResult, error)

// RegisterMCPTool registers an Endpoint as an MCP tool on the given server.
// decode extracts the typed request from MCP arguments; endpoint runs the
// dispatch (already composed with any Middleware via Chain); encode shapes
// the result or error into the CallToolResult srv.AddTool's handler must
// return.
//
// Migration note (feb 2026): signature changed from mcp-go to official SDK.
// - srv: *server.MCPServer → *mcp.Server
// - tool: mcp.Tool (value) → *mcp.Tool (pointer)
// - decode param: mcp.CallToolRequest (value) → *mcp.CallToolRequest (pointer)
// - Arguments are now in req.Params.Arguments as json.RawMessage, not map[string]any.
// Callers must update their decode functions accordingly.
func RegisterMCPTool(srv *mcp.Server, tool *mcp.Tool, endpoint Endpoint, decode func(*mcp.CallToolRequest) (*MCPDecodeResult, error), encode Encode) {
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		decoded, err := decode(req)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(fmt.Errorf("invalid arguments: %w", err))
			return &res, nil
		}
		if decoded.EnrichCtx != nil {
			ctx = decoded.EnrichCtx(ctx)
		}

		resp, err := endpoint(ctx, decoded.Request)
		return encode(decoded.Request, resp, err)
	})
}
