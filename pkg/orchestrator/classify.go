package orchestrator

import (
	"strings"

	"github.com/harun/insightx/pkg/response"
	"github.com/tidwall/gjson"
)

// Classification is the routing category chosen for a query
type Classification string

const (
	SQLOnly     Classification = "SQL_ONLY"
	PyOnly      Classification = "PY_ONLY"
	SQLThenPy   Classification = "SQL_THEN_PY"
	ExplainOnly Classification = "EXPLAIN_ONLY"
)

// Valid reports whether c is a known classification.
func (c Classification) Valid() bool {
	switch c {
	case SQLOnly, PyOnly, SQLThenPy, ExplainOnly:
		return true
	}
	return false
}

// NeedsSQL reports whether the route includes the data-query agent.
func (c Classification) NeedsSQL() bool {
	return c == SQLOnly || c == SQLThenPy
}

// NeedsPython reports whether the route includes the statistical agent.
func (c Classification) NeedsPython() bool {
	return c == PyOnly || c == SQLThenPy
}

// RouteStatus is the status message announcing the route.
func (c Classification) RouteStatus() string {
	switch c {
	case SQLOnly:
		return "Routing to data-query agent"
	case PyOnly:
		return "Routing to statistical agent"
	case SQLThenPy:
		return "Routing to data-query and statistical agents"
	default:
		return "Routing to contextual agent"
	}
}

// Decision sources
const (
	SourceAgent     = "agent"
	SourceHeuristic = "heuristic"
	SourceFallback  = "fallback"
)

// Decision is the outcome of the classify step
type Decision struct {
	Classification Classification `json:"classification"`
	Reasoning      string         `json:"reasoning"`
	ColumnsNeeded  []string       `json:"columns_needed,omitempty"`
	MetricsNeeded  []string       `json:"metrics_needed,omitempty"`
	Source         string         `json:"-"`
}

// ParseDecision reads the classifier's answer. Output without a recognizable
// classification is routed to the explainer with the raw text as reasoning.
func ParseDecision(raw string) Decision {
	obj, ok := response.ExtractObject(raw)
	if !ok {
		return Decision{Classification: ExplainOnly, Reasoning: strings.TrimSpace(raw), Source: SourceFallback}
	}

	doc := gjson.Parse(obj)
	class := Classification(strings.ToUpper(strings.TrimSpace(doc.Get("classification").String())))
	if !class.Valid() {
		return Decision{Classification: ExplainOnly, Reasoning: strings.TrimSpace(raw), Source: SourceFallback}
	}

	return Decision{
		Classification: class,
		Reasoning:      doc.Get("reasoning").String(),
		ColumnsNeeded:  stringArray(doc.Get("columns_needed")),
		MetricsNeeded:  stringArray(doc.Get("metrics_needed")),
		Source:         SourceAgent,
	}
}

var (
	explainKeywords = []string{
		"what columns", "which columns", "what fields", "describe the dataset", "describe this dataset",
		"what is this dataset", "what does this dataset", "what data", "schema", "explain",
	}
	combinedKeywords = []string{
		"outlier", "anomal", "correlat", "significan", "statistical", "z-score", "zscore",
		"deviation", "unusual",
	}
	pythonKeywords = []string{
		"predict", "forecast", "cluster", "regression", "model ", "projection", "next month", "next year",
	}
)

// Heuristic classifies a query by keywords. It is used when the classifier agent is
// disabled or failed.
func Heuristic(message string) Decision {
	lower := strings.ToLower(message)

	d := Decision{Classification: SQLOnly, Reasoning: "Aggregation or lookup query", Source: SourceHeuristic}
	switch {
	case containsAny(lower, combinedKeywords):
		d.Classification = SQLThenPy
		d.Reasoning = "Statistical analysis over extracted data"
	case containsAny(lower, pythonKeywords):
		d.Classification = PyOnly
		d.Reasoning = "Forecasting or modelling query"
	case containsAny(lower, explainKeywords):
		d.Classification = ExplainOnly
		d.Reasoning = "General question about the dataset"
	}
	return d
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func stringArray(v gjson.Result) []string {
	if !v.IsArray() {
		return nil
	}
	var out []string
	for _, item := range v.Array() {
		if item.Type == gjson.String && item.Str != "" {
			out = append(out, item.Str)
		}
	}
	return out
}
