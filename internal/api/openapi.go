package api

// buildOpenAPIDoc returns an OpenAPI 3.1 document for the status API.
func buildOpenAPIDoc() map[string]any {
	secured := []any{map[string]any{"BearerAuth": []string{}}}
	jsonOK := func(desc string) map[string]any {
		return map[string]any{"description": desc, "content": map[string]any{"application/json": map[string]any{}}}
	}
	denied := map[string]any{
		"401": map[string]any{"description": "Missing or invalid token"},
		"403": map[string]any{"description": "Insufficient scope"},
	}
	withDenied := func(resp map[string]any) map[string]any {
		for k, v := range denied {
			resp[k] = v
		}
		return resp
	}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "Switchyard orchestrator",
			"version": "1.0",
		},
		"paths": map[string]any{
			"/healthz": map[string]any{
				"get": map[string]any{
					"operationId": "healthz",
					"summary":     "Uptime, queue depths and worker connectivity",
					"responses":   map[string]any{"200": jsonOK("Health report")},
				},
			},
			"/workers": map[string]any{
				"get": map[string]any{
					"operationId": "listWorkers",
					"summary":     "Per-slot connection state and counters",
					"security":    secured,
					"responses":   withDenied(map[string]any{"200": jsonOK("Worker slots")}),
				},
			},
			"/events": map[string]any{
				"get": map[string]any{
					"operationId": "streamEvents",
					"summary":     "Server-sent stream of envelope and worker events",
					"security":    secured,
					"responses": withDenied(map[string]any{"200": map[string]any{
						"description": "Event stream",
						"content":     map[string]any{"text/event-stream": map[string]any{}},
					}}),
				},
			},
			"/journal": map[string]any{
				"get": map[string]any{
					"operationId": "recentJournal",
					"summary":     "Most recent dispatch journal entries",
					"security":    secured,
					"parameters": []any{map[string]any{
						"name": "limit", "in": "query", "schema": map[string]any{"type": "integer", "minimum": 1},
					}},
					"responses": withDenied(map[string]any{"200": jsonOK("Journal entries"), "404": map[string]any{"description": "Journal disabled"}}),
				},
			},
			"/journal/{correlationID}": map[string]any{
				"get": map[string]any{
					"operationId": "showJournal",
					"summary":     "Journal history of one correlation id",
					"security":    secured,
					"parameters": []any{map[string]any{
						"name": "correlationID", "in": "path", "required": true, "schema": map[string]any{"type": "string"},
					}},
					"responses": withDenied(map[string]any{"200": jsonOK("Journal entries"), "404": map[string]any{"description": "No entries"}}),
				},
			},
		},
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"BearerAuth": map[string]any{
					"type":   "http",
					"scheme": "bearer",
				},
			},
		},
	}
}
