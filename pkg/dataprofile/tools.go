package dataprofile

import (
	"fmt"
	"strings"

	"github.com/harun/insightx/pkg/llm"
	"github.com/xeipuuv/gojsonschema"
)

// Tool names
const (
	ToolReadDataDNA  = "read_data_dna"
	ToolReadContext  = "read_context"
	ToolWriteContext = "write_context"
	ToolRunSQL       = "run_sql"
	ToolRunPython    = "run_python"
	ToolWriteCode    = "write_code"
)

type toolDef struct {
	spec   llm.ToolSpec
	schema *gojsonschema.Schema
}

var catalog = buildCatalog()

func buildCatalog() map[string]*toolDef {
	specs := []llm.ToolSpec{
		{
			Name:        ToolReadDataDNA,
			Description: "Read the Data DNA (dataset profile) including schema, baselines, patterns and correlations. Use this to learn which columns exist and what the baseline metrics are.",
			Parameters: objectSchema(map[string]interface{}{
				"sections": map[string]interface{}{
					"type":        "array",
					"items":       map[string]interface{}{"type": "string"},
					"description": "Sections to read: " + strings.Join(Sections, ", ") + ". Omit to read all.",
				},
			}),
		},
		{
			Name:        ToolReadContext,
			Description: "Read insights accumulated from previous queries in this session.",
			Parameters: objectSchema(map[string]interface{}{
				"query_type": map[string]interface{}{
					"type":        "string",
					"description": `Filter insights by type: "all", "outliers", "correlations", "trends".`,
				},
			}),
		},
		{
			Name:        ToolWriteContext,
			Description: "Save a new insight to the session context for future queries.",
			Parameters: objectSchema(map[string]interface{}{
				"insight": map[string]interface{}{
					"type":        "object",
					"description": "The insight to save",
					"properties": map[string]interface{}{
						"query":           map[string]interface{}{"type": "string"},
						"finding":         map[string]interface{}{"type": "string"},
						"baseline_update": map[string]interface{}{"type": "object"},
						"timestamp":       map[string]interface{}{"type": "string"},
					},
					"required": []interface{}{"finding"},
				},
			}, "insight"),
		},
		{
			Name:        ToolRunSQL,
			Description: `Execute a SQL query against the dataset. Only SELECT statements are allowed. Use "transactions" as the table name.`,
			Parameters: objectSchema(map[string]interface{}{
				"sql": map[string]interface{}{
					"type":        "string",
					"minLength":   1,
					"description": "The SELECT statement to execute.",
				},
				"limit": map[string]interface{}{
					"type":        "number",
					"minimum":     1,
					"description": "Maximum rows to return (default: 500)",
				},
			}, "sql"),
		},
		{
			Name:        ToolRunPython,
			Description: `Execute Python for statistical analysis with pandas, numpy and scipy.stats. "result_df" holds the SQL result. Print JSON output.`,
			Parameters: objectSchema(map[string]interface{}{
				"code": map[string]interface{}{
					"type":        "string",
					"minLength":   1,
					"description": "Python code to execute.",
				},
				"timeout": map[string]interface{}{
					"type":        "number",
					"minimum":     1,
					"maximum":     120,
					"description": "Timeout in seconds (default: 10)",
				},
			}, "code"),
		},
		{
			Name:        ToolWriteCode,
			Description: "Publish generated code so the user can see it. Call after writing SQL or Python and before running it.",
			Parameters: objectSchema(map[string]interface{}{
				"code": map[string]interface{}{
					"type":        "string",
					"description": "The code to display",
				},
				"language": map[string]interface{}{
					"type":        "string",
					"enum":        []interface{}{"sql", "python"},
					"description": "The programming language of the code",
				},
				"description": map[string]interface{}{
					"type":        "string",
					"description": "What the code does",
				},
			}, "code", "language"),
		},
	}

	out := make(map[string]*toolDef, len(specs))
	for _, spec := range specs {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(spec.Parameters))
		if err != nil {
			panic(fmt.Sprintf("invalid schema for tool %s: %v", spec.Name, err))
		}
		out[spec.Name] = &toolDef{spec: spec, schema: schema}
	}
	return out
}

func objectSchema(properties map[string]interface{}, required ...string) map[string]interface{} {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		req := make([]interface{}, len(required))
		for i, r := range required {
			req[i] = r
		}
		schema["required"] = req
	}
	return schema
}

// ToolSpecs returns the specs for the named tools, skipping unknown names.
func ToolSpecs(names ...string) []llm.ToolSpec {
	specs := make([]llm.ToolSpec, 0, len(names))
	for _, name := range names {
		if def, ok := catalog[name]; ok {
			specs = append(specs, def.spec)
		}
	}
	return specs
}

// ValidateArguments checks tool arguments against the tool's JSON schema
func ValidateArguments(name string, args map[string]interface{}) error {
	def, ok := catalog[name]
	if !ok {
		return fmt.Errorf("unknown tool: %s", name)
	}
	if args == nil {
		args = map[string]interface{}{}
	}

	result, err := def.schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return fmt.Errorf("failed to validate %s arguments: %w", name, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("invalid %s arguments: %s", name, strings.Join(msgs, "; "))
	}
	return nil
}
