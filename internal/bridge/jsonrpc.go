package bridge

import "encoding/json"

// JSONRPCRequest is the wire shape of an MCP request (spec §4.5).
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCError is the `error` member of a JSON-RPC response.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// JSONRPCResponse is the wire shape of an MCP response.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// Standard JSON-RPC error codes used for fatal protocol errors (spec §4.5).
const (
	rpcCodeInvalidRequest = -32600
	rpcCodeMethodNotFound = -32601
	rpcCodeInternalError  = -32603
)

func newRPCResult(id json.RawMessage, result interface{}) *JSONRPCResponse {
	return &JSONRPCResponse{JSONRPC: "2.0", ID: id, Result: result}
}

func newRPCError(id json.RawMessage, code int, message string) *JSONRPCResponse {
	return &JSONRPCResponse{JSONRPC: "2.0", ID: id, Error: &JSONRPCError{Code: code, Message: message}}
}

// rpcCodeForBridgeError maps a fatal BridgeError to a JSON-RPC error code.
func rpcCodeForBridgeError(e *BridgeError) int {
	switch e.Code {
	case CodeMissingAuthentication, CodeInvalidAuthentication:
		return rpcCodeInvalidRequest
	case CodeUnknownMethod:
		return rpcCodeMethodNotFound
	default:
		return rpcCodeInternalError
	}
}

// softResult builds the MCP "soft error" content shape from spec §7:
// {content:[{type:"text", text: JSON-stringified payload}], isError:true}.
func softResult(code ErrorCode, message string, context map[string]interface{}) map[string]interface{} {
	payload := map[string]interface{}{"error": string(code)}
	if message != "" {
		payload["message"] = message
	}
	for k, v := range context {
		payload[k] = v
	}
	text, _ := json.Marshal(payload)
	return map[string]interface{}{
		"content": []map[string]interface{}{
			{"type": "text", "text": string(text)},
		},
		"isError": true,
	}
}
