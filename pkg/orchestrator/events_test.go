package orchestrator

import (
	"encoding/json"
	"testing"

	"github.com/harun/insightx/pkg/response"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventWireFormat(t *testing.T) {
	confidence := 95.0
	tests := []struct {
		name  string
		event Event
		want  string
	}{
		{
			name:  "status",
			event: StatusEvent{Message: "Analyzing query type..."},
			want:  `{"type":"status","message":"Analyzing query type..."}`,
		},
		{
			name:  "toast without reasoning",
			event: ToastEvent{Message: "Switched to API key #2: rate limited"},
			want:  `{"type":"toast","message":"Switched to API key #2: rate limited"}`,
		},
		{
			name:  "toast with reasoning",
			event: ToastEvent{Message: "Query classified", Reasoning: "aggregation"},
			want:  `{"type":"toast","message":"Query classified","data":{"reasoning":"aggregation"}}`,
		},
		{
			name:  "orchestrator result",
			event: OrchestratorResultEvent{Classification: SQLOnly},
			want:  `{"type":"orchestrator_result","data":{"classification":"SQL_ONLY"}}`,
		},
		{
			name:  "code written",
			event: CodeWrittenEvent{Code: "SELECT 1", Language: "sql"},
			want:  `{"type":"code_written","data":{"code":"SELECT 1","language":"sql"}}`,
		},
		{
			name:  "sql result with no rows",
			event: SQLResultEvent{Query: "SELECT 1"},
			want:  `{"type":"sql_result","data":{"query":"SELECT 1","results":{"row_count":0,"rows":[]}}}`,
		},
		{
			name:  "python result",
			event: PythonResultEvent{Results: map[string]int{"n": 3}},
			want:  `{"type":"python_result","data":{"results":{"n":3}}}`,
		},
		{
			name: "final response",
			event: FinalResponseEvent{
				Result:         &response.AgentResult{Text: "done", FollowUps: []string{}, Confidence: &confidence},
				Classification: SQLOnly,
			},
			want: `{"type":"final_response","data":{"text":"done","confidence":95,"follow_ups":[],"classification":"SQL_ONLY"}}`,
		},
		{
			name:  "error",
			event: ErrorEvent{Message: "failed", Details: "boom", Terminal: true},
			want:  `{"type":"error","message":"failed","details":"boom"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.event)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(data))
		})
	}
}
