// Package response extracts structured results from free-form agent output.
package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/xeipuuv/gojsonschema"
)

// ErrInvalidAgentResponse is returned when no JSON object with a text field can be found.
var ErrInvalidAgentResponse = errors.New("invalid agent response")

var fencedBlock = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

var resultSchema = gojsonschema.NewStringLoader(`{
	"type": "object",
	"required": ["text"],
	"properties": {
		"text": {"type": "string", "minLength": 1}
	}
}`)

var compiledSchema = mustSchema(resultSchema)

func mustSchema(loader gojsonschema.JSONLoader) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(loader)
	if err != nil {
		panic(fmt.Sprintf("invalid agent result schema: %v", err))
	}
	return schema
}

// ExtractObject finds the first JSON object in raw. It tries a fenced code block,
// then the whole trimmed text, then a brace-matched scan from the first '{'.
func ExtractObject(raw string) (string, bool) {
	if m := fencedBlock.FindStringSubmatch(raw); m != nil && gjson.Valid(m[1]) {
		return m[1], true
	}

	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "{") && gjson.Valid(trimmed) {
		return trimmed, true
	}

	for offset := 0; offset < len(trimmed); {
		idx := strings.IndexByte(trimmed[offset:], '{')
		if idx < 0 {
			break
		}
		start := offset + idx
		if obj, ok := scanObject(trimmed, start); ok && gjson.Valid(obj) {
			return obj, true
		}
		offset = start + 1
	}
	return "", false
}

// scanObject returns the text from s[start] (a '{') to its matching '}', ignoring
// braces inside string literals.
func scanObject(s string, start int) (string, bool) {

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// Parse extracts and validates an AgentResult. Fields other than text are decoded
// leniently: a value of the wrong type is dropped rather than failing the parse.
func Parse(raw string) (*AgentResult, error) {
	obj, ok := ExtractObject(raw)
	if !ok {
		return nil, fmt.Errorf("%w: no JSON object found", ErrInvalidAgentResponse)
	}

	validation, err := compiledSchema.Validate(gojsonschema.NewStringLoader(obj))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAgentResponse, err)
	}
	if !validation.Valid() {
		msgs := make([]string, 0, len(validation.Errors()))
		for _, e := range validation.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidAgentResponse, strings.Join(msgs, "; "))
	}

	return decode(gjson.Parse(obj)), nil
}

func decode(doc gjson.Result) *AgentResult {
	result := &AgentResult{
		Text:        doc.Get("text").String(),
		FollowUps:   []string{},
		SQLUsed:     stringField(doc, "sql_used"),
		PythonUsed:  stringField(doc, "python_used"),
		InsightType: stringField(doc, "insight_type"),
		Warning:     stringField(doc, "warning"),
	}

	if m := doc.Get("metrics"); m.IsObject() {
		var metrics map[string]interface{}
		if err := json.Unmarshal([]byte(m.Raw), &metrics); err == nil && len(metrics) > 0 {
			result.Metrics = metrics
		}
	}

	if c := doc.Get("chart_spec"); c.IsObject() {
		var chart ChartSpec
		if err := json.Unmarshal([]byte(c.Raw), &chart); err == nil && chart.Type != "" {
			result.ChartSpec = &chart
		}
	}

	if c := doc.Get("confidence"); c.Type == gjson.Number {
		v := c.Float()
		result.Confidence = &v
	}

	if rows := doc.Get("data_rows"); rows.Type == gjson.Number {
		v := int(rows.Int())
		result.DataRows = &v
	}

	if f := doc.Get("follow_ups"); f.IsArray() {
		for _, item := range f.Array() {
			if item.Type == gjson.String && item.String() != "" {
				result.FollowUps = append(result.FollowUps, item.String())
			}
		}
	}

	return result
}

func stringField(doc gjson.Result, path string) string {
	v := doc.Get(path)
	if v.Type != gjson.String {
		return ""
	}
	return v.String()
}

// LooksStructured reports whether text is worth handing to Parse.
func LooksStructured(text string) bool {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") && gjson.Valid(trimmed) {
		return true
	}
	if !strings.Contains(text, `"text"`) {
		return false
	}
	return strings.Contains(text, "```json") ||
		strings.Contains(text, `"metrics"`) ||
		strings.Contains(text, `"follow_ups"`)
}

// ParseOrText parses raw, falling back to the raw text verbatim. The returned bool
// reports whether structured parsing succeeded.
func ParseOrText(raw string) (*AgentResult, bool) {
	result, err := Parse(raw)
	if err != nil {
		return FromText(strings.TrimSpace(raw)), false
	}
	return result, true
}
