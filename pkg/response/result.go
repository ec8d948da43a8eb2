package response

// AgentResult is the structured answer produced by the composing agents
type AgentResult struct {
	Text        string                 `json:"text"`
	Metrics     map[string]interface{} `json:"metrics,omitempty"`
	ChartSpec   *ChartSpec             `json:"chart_spec,omitempty"`
	Confidence  *float64               `json:"confidence,omitempty"`
	FollowUps   []string               `json:"follow_ups"`
	SQLUsed     string                 `json:"sql_used,omitempty"`
	PythonUsed  string                 `json:"python_used,omitempty"`
	InsightType string                 `json:"insight_type,omitempty"`
	DataRows    *int                   `json:"data_rows,omitempty"`
	Warning     string                 `json:"warning,omitempty"`
}

// ChartSpec describes a chart the client may render
type ChartSpec struct {
	Type  string        `json:"type"`
	Data  []interface{} `json:"data"`
	XAxis string        `json:"xAxis,omitempty"`
	YAxis string        `json:"yAxis,omitempty"`
	Title string        `json:"title,omitempty"`
}

// FromText wraps unstructured agent output as a result.
func FromText(text string) *AgentResult {
	return &AgentResult{Text: text, FollowUps: []string{}}
}
