package bridge

// ListSessionsToolName is the one built-in tool the bridge itself exposes
// (spec §4.8 / C9).
const ListSessionsToolName = "list_sessions"

// listSessionsToolDefinition is the single source of truth for the built-in
// tool's advertised shape, shared by every tools/list response path (the
// normal aggregation path and the "no sessions connected" fallback).
func listSessionsToolDefinition() ToolDefinition {
	return ToolDefinition{
		Name:        ListSessionsToolName,
		Description: "List the frontend sessions currently connected under this auth token, and the tools each exposes.",
		InputSchema: map[string]interface{}{"type": "object", "properties": map[string]interface{}{}},
	}
}

// sessionSummary is one entry of list_sessions' result (spec §4.8).
type sessionSummary struct {
	SessionID       string   `json:"session_id"`
	SessionName     string   `json:"session_name,omitempty"`
	Origin          string   `json:"origin"`
	PageTitle       string   `json:"page_title,omitempty"`
	ConnectedAt     string   `json:"connected_at"`
	LastActivity    string   `json:"last_activity"`
	AvailableTools  []string `json:"available_tools"`
	InFlightQueries int      `json:"in_flight_queries"`
}

// listSessions builds the list_sessions result for the caller's token,
// without touching any frontend (spec §4.5 "Built-in tools short-circuit").
func (b *Bridge) listSessions(authToken string) map[string]interface{} {
	sessions := b.registry.SessionsForToken(authToken)
	summaries := make([]sessionSummary, 0, len(sessions))
	for _, s := range sessions {
		connectedAt, lastActivity := s.snapshot()
		tools := s.Tools()
		names := make([]string, 0, len(tools))
		for _, t := range tools {
			names = append(names, t.Name)
		}
		summaries = append(summaries, sessionSummary{
			SessionID:       s.SessionID,
			SessionName:     s.SessionName,
			Origin:          s.Origin,
			PageTitle:       s.PageTitle,
			ConnectedAt:     connectedAt.Format(rfc3339),
			LastActivity:    lastActivity.Format(rfc3339),
			AvailableTools:  names,
			InFlightQueries: s.inFlightQueryCount(),
		})
	}
	return map[string]interface{}{"sessions": summaries}
}

const rfc3339 = "2006-01-02T15:04:05Z07:00"
