package bridge

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/webtoolbridge/bridge/internal/transport"
)

// protocolVersion is returned on every initialize (spec §4.5 S4); the
// protocolVersion the client requests is not consulted.
const protocolVersion = "2024-11-05"

var corsHeaders = map[string]string{
	"Access-Control-Allow-Origin":   "*",
	"Access-Control-Allow-Methods":  "GET, POST, DELETE, OPTIONS",
	"Access-Control-Allow-Headers":  "Content-Type, Authorization, Mcp-Session-Id",
	"Access-Control-Expose-Headers": "Mcp-Session-Id",
}

// dataImageURI matches the data-URI image form spec §4.5 recognizes when
// wrapping a tool result: "data:image/<subtype>;base64,<payload>".
var dataImageURI = regexp.MustCompile(`^data:(image/[a-zA-Z0-9.+-]+);base64,(.+)$`)

func withCORS(resp *transport.HttpResponse) *transport.HttpResponse {
	if resp.Headers == nil {
		resp.Headers = make(map[string]string)
	}
	for k, v := range corsHeaders {
		resp.Headers[k] = v
	}
	return resp
}

func extractAuthToken(req transport.HttpRequest) string {
	if auth := req.Header("Authorization"); auth != "" {
		if rest, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(rest)
		}
	}
	return req.Query("token")
}

func rpcJSON(id json.RawMessage, result interface{}) *transport.HttpResponse {
	body, err := json.Marshal(newRPCResult(id, result))
	if err != nil {
		body, _ = json.Marshal(newRPCError(id, rpcCodeInternalError, "failed to encode response"))
	}
	return withCORS(transport.NewJSONResponse(200, body))
}

func rpcErr(id json.RawMessage, code int, message string) *transport.HttpResponse {
	body, _ := json.Marshal(newRPCError(id, code, message))
	return withCORS(transport.NewJSONResponse(200, body))
}

// HandleHTTP implements C6's whole wire surface (spec §4.5). It returns
// exactly one of (http, sse); the adapter checks which is non-nil.
func (b *Bridge) HandleHTTP(req transport.HttpRequest) (*transport.HttpResponse, *transport.SSEResponse) {
	switch req.Method() {
	case "OPTIONS":
		return withCORS(&transport.HttpResponse{Status: 204}), nil
	case "POST":
		return b.handlePost(req), nil
	case "GET":
		return b.handleGet(req)
	case "DELETE":
		return b.handleDelete(req), nil
	default:
		return withCORS(&transport.HttpResponse{Status: 405}), nil
	}
}

func (b *Bridge) handlePost(req transport.HttpRequest) *transport.HttpResponse {
	raw, err := req.Body()
	if err != nil {
		return rpcErr(nil, rpcCodeInvalidRequest, "failed to read request body")
	}
	var rpcReq JSONRPCRequest
	if err := json.Unmarshal(raw, &rpcReq); err != nil {
		return rpcErr(nil, rpcCodeInvalidRequest, "malformed JSON-RPC request")
	}

	switch rpcReq.Method {
	case "initialize":
		return b.handleInitialize(rpcReq, req)
	case "notifications/initialized":
		return withCORS(&transport.HttpResponse{Status: 202})
	case "tools/list":
		return b.withMCPSession(rpcReq, req, b.handleToolsList)
	case "tools/call":
		return b.withMCPSession(rpcReq, req, b.handleToolsCall)
	case "resources/list":
		return b.withMCPSession(rpcReq, req, b.handleResourcesList)
	case "resources/read":
		return b.withMCPSession(rpcReq, req, b.handleResourcesRead)
	case "prompts/list":
		return b.withMCPSession(rpcReq, req, b.handlePromptsList)
	case "prompts/get":
		return b.withMCPSession(rpcReq, req, b.handlePromptsGet)
	default:
		return rpcErr(rpcReq.ID, rpcCodeMethodNotFound, string(CodeUnknownMethod))
	}
}

func (b *Bridge) handleInitialize(rpcReq JSONRPCRequest, req transport.HttpRequest) *transport.HttpResponse {
	token := extractAuthToken(req)
	if token == "" {
		return rpcErr(rpcReq.ID, rpcCodeInvalidRequest, string(CodeMissingAuthentication))
	}

	session := b.newMCPSession(token)

	result := map[string]interface{}{
		"protocolVersion": protocolVersion,
		"capabilities": map[string]interface{}{
			"tools":     map[string]interface{}{"listChanged": true},
			"resources": map[string]interface{}{},
			"prompts":   map[string]interface{}{},
		},
		"serverInfo": b.serverInfo(),
	}

	resp := rpcJSON(rpcReq.ID, result)
	resp.Headers["Mcp-Session-Id"] = session.MCPSessionID
	return resp
}

func (b *Bridge) serverInfo() map[string]interface{} {
	info := map[string]interface{}{
		"name":        b.config.Name,
		"description": b.config.Description,
	}
	if b.config.Icon != "" {
		info["icon"] = b.config.Icon
	}
	return info
}

// withMCPSession resolves the Mcp-Session-Id header into an MCPSession and
// its authToken before delegating to handler, per spec §4.5 (every method
// past initialize acts within an established MCP session).
func (b *Bridge) withMCPSession(rpcReq JSONRPCRequest, req transport.HttpRequest, handler func(JSONRPCRequest, *MCPSession) *transport.HttpResponse) *transport.HttpResponse {
	id := req.Header("Mcp-Session-Id")
	if id == "" {
		return rpcErr(rpcReq.ID, rpcCodeInvalidRequest, string(CodeSessionNotFound))
	}
	session, ok := b.getMCPSession(id)
	if !ok {
		return rpcErr(rpcReq.ID, rpcCodeInvalidRequest, string(CodeSessionNotFound))
	}
	return handler(rpcReq, session)
}

// --- tools ---

// aggregateTools implements spec §4.5 tools/list: dedupe by (name, schema)
// and always include the built-in. Concurrent callers sharing a token
// collapse onto one registry scan via toolsGroup.
func (b *Bridge) aggregateTools(authToken string) []ToolDefinition {
	v, _, _ := b.toolsGroup.Do(authToken, func() (interface{}, error) {
		return b.computeAggregateTools(authToken), nil
	})
	return v.([]ToolDefinition)
}

func (b *Bridge) computeAggregateTools(authToken string) []ToolDefinition {
	sessions := b.registry.SessionsForToken(authToken)
	seen := make(map[string]ToolDefinition)
	order := make([]string, 0)

	for _, s := range sessions {
		for _, t := range s.Tools() {
			if _, ok := seen[t.Name]; ok {
				// A schema conflict here would already have been rejected
				// at registration time (P3); keep the first one seen.
				continue
			}
			seen[t.Name] = t
			order = append(order, t.Name)
		}
	}

	tools := make([]ToolDefinition, 0, len(order)+1)
	for _, name := range order {
		tools = append(tools, seen[name])
	}
	tools = append(tools, listSessionsToolDefinition())
	return tools
}

func (b *Bridge) handleToolsList(rpcReq JSONRPCRequest, session *MCPSession) *transport.HttpResponse {
	tools := b.aggregateTools(session.AuthToken)
	sessionCount := len(b.registry.SessionsForToken(session.AuthToken))

	if sessionCount == 0 {
		return rpcJSON(rpcReq.ID, softResult(CodeSessionNotFound, "no frontend sessions connected for this token", map[string]interface{}{
			"availableSessions": []string{},
			"tools": []map[string]interface{}{
				toolToWire(listSessionsToolDefinition(), false),
			},
		}))
	}

	multiSession := sessionCount > 1
	wireTools := make([]map[string]interface{}, 0, len(tools))
	for _, t := range tools {
		wireTools = append(wireTools, toolToWire(t, multiSession))
	}

	result := map[string]interface{}{"tools": wireTools}
	if multiSession {
		ids := make([]string, 0)
		for _, s := range b.registry.SessionsForToken(session.AuthToken) {
			ids = append(ids, s.SessionID)
		}
		result["_meta"] = map[string]interface{}{"available_sessions": ids}
	}
	return rpcJSON(rpcReq.ID, result)
}

// toolToWire renders a ToolDefinition as the MCP tools/list entry, using
// mcp.Tool/mcp.ToolInputSchema for the well-known fields (spec §4.5). When
// addSessionID is set, an extra required "session_id" property is merged in
// so the MCP client knows how to disambiguate a subsequent tools/call.
func toolToWire(t ToolDefinition, addSessionID bool) map[string]interface{} {
	schema := toolInputSchemaFromMap(t.InputSchema)
	if addSessionID {
		if schema.Properties == nil {
			schema.Properties = make(map[string]interface{})
		}
		schema.Properties["session_id"] = map[string]interface{}{
			"type":        "string",
			"description": "The frontend session to route this call to (see tools/list _meta.available_sessions).",
		}
		schema.Required = append(schema.Required, "session_id")
	}
	tool := mcp.Tool{Name: t.Name, Description: t.Description, InputSchema: schema}
	out := map[string]interface{}{
		"name":        tool.Name,
		"description": tool.Description,
		"inputSchema": tool.InputSchema,
	}
	return out
}

func toolInputSchemaFromMap(schema map[string]interface{}) mcp.ToolInputSchema {
	out := mcp.ToolInputSchema{Type: "object"}
	if schema == nil {
		out.Properties = map[string]interface{}{}
		return out
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		out.Properties = map[string]interface{}{}
		return out
	}
	_ = json.Unmarshal(raw, &out)
	if out.Type == "" {
		out.Type = "object"
	}
	if out.Properties == nil {
		out.Properties = map[string]interface{}{}
	}
	return out
}

type toolsCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
	Meta      map[string]interface{} `json:"_meta"`
}

func (b *Bridge) handleToolsCall(rpcReq JSONRPCRequest, session *MCPSession) *transport.HttpResponse {
	var params toolsCallParams
	if len(rpcReq.Params) > 0 {
		if err := json.Unmarshal(rpcReq.Params, &params); err != nil {
			return rpcErr(rpcReq.ID, rpcCodeInvalidRequest, "malformed tools/call params")
		}
	}

	if params.Name == ListSessionsToolName {
		return rpcJSON(rpcReq.ID, successToolResult(b.listSessions(session.AuthToken)))
	}

	target, available, berr := b.selectSession(session.AuthToken, params.Name, params.Arguments, params.Meta)
	if berr != nil {
		return rpcJSON(rpcReq.ID, softResult(berr.Code, berr.Message, map[string]interface{}{"available_sessions": available}))
	}

	if _, has := target.Tool(params.Name); !has {
		names := make([]string, 0)
		for _, t := range target.Tools() {
			names = append(names, t.Name)
		}
		return rpcJSON(rpcReq.ID, softResult(CodeToolNotFound, "session does not expose this tool", map[string]interface{}{"available_tools": names}))
	}

	result, err := b.CallTool(target, params.Name, params.Arguments, 0)
	if err != nil {
		if berr, ok := err.(*BridgeError); ok {
			if IsFatal(berr.Code) {
				return rpcErr(rpcReq.ID, rpcCodeForBridgeError(berr), string(berr.Code))
			}
			return rpcJSON(rpcReq.ID, softResult(berr.Code, berr.Message, berr.Context))
		}
		return rpcJSON(rpcReq.ID, softResult(CodeInternalError, err.Error(), nil))
	}

	return rpcJSON(rpcReq.ID, successToolResult(result))
}

// selectSession implements spec §4.5's ordered tools/call session-selection
// rules.
func (b *Bridge) selectSession(authToken, toolName string, arguments, meta map[string]interface{}) (*Session, []string, *BridgeError) {
	sessions := b.registry.SessionsForToken(authToken)

	if id, ok := arguments["session_id"].(string); ok && id != "" {
		if s, ok := b.registry.Get(id); ok && s.AuthToken == authToken {
			return s, nil, nil
		}
		return nil, sessionIDs(sessions), NewError(CodeSessionNotFound, "session_id does not match a live session")
	}
	if id, ok := meta["sessionId"].(string); ok && id != "" {
		if s, ok := b.registry.Get(id); ok && s.AuthToken == authToken {
			return s, nil, nil
		}
		return nil, sessionIDs(sessions), NewError(CodeSessionNotFound, "_meta.sessionId does not match a live session")
	}

	var owners []*Session
	for _, s := range sessions {
		if _, has := s.Tool(toolName); has {
			owners = append(owners, s)
		}
	}
	if len(owners) == 1 {
		return owners[0], nil, nil
	}

	return nil, sessionIDs(sessions), NewError(CodeSessionNotSpecified, "multiple or no sessions expose this tool; specify session_id")
}

func sessionIDs(sessions []*Session) []string {
	ids := make([]string, 0, len(sessions))
	for _, s := range sessions {
		ids = append(ids, s.SessionID)
	}
	return ids
}

// successToolResult wraps an arbitrary frontend tool result as MCP content
// (spec §4.5 / §9 "dynamic typing of payloads"): a data:image/*;base64,...
// string becomes an ImageContent block, everything else is JSON-stringified
// text.
func successToolResult(result interface{}) *mcp.CallToolResult {
	if s, ok := result.(string); ok {
		if m := dataImageURI.FindStringSubmatch(s); m != nil {
			if _, err := base64.StdEncoding.DecodeString(m[2]); err == nil {
				return &mcp.CallToolResult{Content: []mcp.Content{
					mcp.ImageContent{Type: "image", MIMEType: m[1], Data: m[2]},
				}}
			}
		}
	}
	text, err := json.Marshal(result)
	if err != nil {
		text = []byte(fmt.Sprintf("%v", result))
	}
	return &mcp.CallToolResult{Content: []mcp.Content{
		mcp.TextContent{Type: "text", Text: string(text)},
	}}
}

// --- resources ---

func (b *Bridge) aggregateResources(authToken string) []ResourceDefinition {
	sessions := b.registry.SessionsForToken(authToken)
	seen := make(map[string]bool)
	out := make([]ResourceDefinition, 0)
	for _, s := range sessions {
		for _, r := range s.Resources() {
			if seen[r.URI] {
				continue
			}
			seen[r.URI] = true
			out = append(out, r)
		}
	}
	return out
}

func (b *Bridge) handleResourcesList(rpcReq JSONRPCRequest, session *MCPSession) *transport.HttpResponse {
	resources := b.aggregateResources(session.AuthToken)
	wire := make([]map[string]interface{}, 0, len(resources))
	for _, r := range resources {
		wire = append(wire, map[string]interface{}{
			"uri":         r.URI,
			"name":        r.Name,
			"description": r.Description,
			"mimeType":    r.MimeType,
		})
	}
	return rpcJSON(rpcReq.ID, map[string]interface{}{"resources": wire})
}

type resourcesReadParams struct {
	URI  string                 `json:"uri"`
	Meta map[string]interface{} `json:"_meta"`
}

func (b *Bridge) handleResourcesRead(rpcReq JSONRPCRequest, session *MCPSession) *transport.HttpResponse {
	var params resourcesReadParams
	if len(rpcReq.Params) > 0 {
		if err := json.Unmarshal(rpcReq.Params, &params); err != nil {
			return rpcErr(rpcReq.ID, rpcCodeInvalidRequest, "malformed resources/read params")
		}
	}

	var owner *Session
	for _, s := range b.registry.SessionsForToken(session.AuthToken) {
		for _, r := range s.Resources() {
			if r.URI == params.URI {
				owner = s
				break
			}
		}
		if owner != nil {
			break
		}
	}
	if owner == nil {
		return rpcJSON(rpcReq.ID, softResult(CodeSessionNotFound, "no session exposes this resource", map[string]interface{}{
			"available_sessions": sessionIDs(b.registry.SessionsForToken(session.AuthToken)),
		}))
	}

	result, err := b.CallTool(owner, "resources/read:"+params.URI, map[string]interface{}{"uri": params.URI}, 0)
	if err != nil {
		return rpcJSON(rpcReq.ID, softResult(CodeInternalError, err.Error(), nil))
	}
	text, _ := json.Marshal(result)
	return rpcJSON(rpcReq.ID, map[string]interface{}{
		"contents": []map[string]interface{}{
			{"uri": params.URI, "text": string(text)},
		},
	})
}

// --- prompts ---

func (b *Bridge) aggregatePrompts(authToken string) []PromptDefinition {
	sessions := b.registry.SessionsForToken(authToken)
	seen := make(map[string]bool)
	out := make([]PromptDefinition, 0)
	for _, s := range sessions {
		for _, p := range s.Prompts() {
			if seen[p.Name] {
				continue
			}
			seen[p.Name] = true
			out = append(out, p)
		}
	}
	return out
}

func (b *Bridge) handlePromptsList(rpcReq JSONRPCRequest, session *MCPSession) *transport.HttpResponse {
	prompts := b.aggregatePrompts(session.AuthToken)
	wire := make([]map[string]interface{}, 0, len(prompts))
	for _, p := range prompts {
		wire = append(wire, map[string]interface{}{
			"name":        p.Name,
			"description": p.Description,
			"arguments":   p.Arguments,
		})
	}
	return rpcJSON(rpcReq.ID, map[string]interface{}{"prompts": wire})
}

type promptsGetParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

func (b *Bridge) handlePromptsGet(rpcReq JSONRPCRequest, session *MCPSession) *transport.HttpResponse {
	var params promptsGetParams
	if len(rpcReq.Params) > 0 {
		if err := json.Unmarshal(rpcReq.Params, &params); err != nil {
			return rpcErr(rpcReq.ID, rpcCodeInvalidRequest, "malformed prompts/get params")
		}
	}

	var owner *Session
	for _, s := range b.registry.SessionsForToken(session.AuthToken) {
		for _, p := range s.Prompts() {
			if p.Name == params.Name {
				owner = s
				break
			}
		}
		if owner != nil {
			break
		}
	}
	if owner == nil {
		return rpcJSON(rpcReq.ID, softResult(CodeToolNotFound, "no session exposes this prompt", map[string]interface{}{
			"available_sessions": sessionIDs(b.registry.SessionsForToken(session.AuthToken)),
		}))
	}

	result, err := b.CallTool(owner, "prompts/get:"+params.Name, params.Arguments, 0)
	if err != nil {
		return rpcJSON(rpcReq.ID, softResult(CodeInternalError, err.Error(), nil))
	}
	text, _ := json.Marshal(result)
	return rpcJSON(rpcReq.ID, map[string]interface{}{
		"description": params.Name,
		"messages": []map[string]interface{}{
			{"role": "user", "content": map[string]interface{}{"type": "text", "text": string(text)}},
		},
	})
}

// --- GET (server info / SSE) and DELETE ---

func (b *Bridge) handleGet(req transport.HttpRequest) (*transport.HttpResponse, *transport.SSEResponse) {
	accept := req.Header("Accept")
	if strings.Contains(accept, "text/event-stream") {
		return nil, b.handleSSE(req)
	}

	body, _ := json.Marshal(b.serverInfo())
	var info map[string]interface{}
	_ = json.Unmarshal(body, &info)
	info["version"] = protocolVersion
	body, _ = json.Marshal(info)
	return withCORS(transport.NewJSONResponse(200, body)), nil
}

func (b *Bridge) handleSSE(req transport.HttpRequest) *transport.SSEResponse {
	id := req.Header("Mcp-Session-Id")
	if id == "" {
		return &transport.SSEResponse{
			Status:  200,
			Headers: corsHeaders,
			Setup: func(writer transport.SSEWriter, onClose func(func())) {
				_ = writer.WriteEvent("error", "Mcp-Session-Id header required")
			},
		}
	}
	session, ok := b.getMCPSession(id)
	if !ok {
		return &transport.SSEResponse{
			Status:  200,
			Headers: corsHeaders,
			Setup: func(writer transport.SSEWriter, onClose func(func())) {
				_ = writer.WriteEvent("error", "Mcp-Session-Id header required")
			},
		}
	}

	return &transport.SSEResponse{
		Status:  200,
		Headers: corsHeaders,
		Setup: func(writer transport.SSEWriter, onClose func(func())) {
			b.sse.Attach(session, writer)
			onClose(func() {
				b.sse.Detach(session)
			})
		},
	}
}

func (b *Bridge) handleDelete(req transport.HttpRequest) *transport.HttpResponse {
	id := req.Header("Mcp-Session-Id")
	if id == "" {
		return withCORS(&transport.HttpResponse{Status: 400})
	}
	if !b.deleteMCPSession(id) {
		return withCORS(&transport.HttpResponse{Status: 404})
	}
	body, _ := json.Marshal(map[string]interface{}{"success": true})
	return withCORS(transport.NewJSONResponse(200, body))
}
