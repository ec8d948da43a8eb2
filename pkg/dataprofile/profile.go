package dataprofile

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// Profile is the precomputed description of an uploaded dataset
type Profile struct {
	SessionID   string   `json:"session_id,omitempty"`
	FileName    string   `json:"file_name,omitempty"`
	RowCount    int64    `json:"row_count"`
	ColumnCount int      `json:"column_count"`
	Columns     []Column `json:"columns"`

	Baselines        json.RawMessage `json:"baselines,omitempty"`
	Patterns         json.RawMessage `json:"patterns,omitempty"`
	Correlations     json.RawMessage `json:"correlations,omitempty"`
	DatetimeInfo     json.RawMessage `json:"datetime_info,omitempty"`
	OutlierSummary   json.RawMessage `json:"outlier_summary,omitempty"`
	SegmentBreakdown json.RawMessage `json:"segment_breakdown,omitempty"`
	SampleValues     json.RawMessage `json:"sample_values,omitempty"`
	Statistics       json.RawMessage `json:"statistics,omitempty"`

	Insights []Insight `json:"accumulated_insights,omitempty"`
}

// Column describes one dataset column
type Column struct {
	Name         string                 `json:"name"`
	Type         string                 `json:"type"`
	Description  string                 `json:"description,omitempty"`
	NullFraction float64                `json:"null_fraction,omitempty"`
	Stats        map[string]interface{} `json:"stats,omitempty"`
}

// Insight is a finding accumulated across turns of a session
type Insight struct {
	Query          string                 `json:"query,omitempty"`
	Finding        string                 `json:"finding"`
	BaselineUpdate map[string]interface{} `json:"baseline_update,omitempty"`
	Timestamp      string                 `json:"timestamp,omitempty"`
}

// Sections lists the names read_data_dna accepts.
var Sections = []string{
	"columns", "baselines", "patterns", "correlations", "datetime_info",
	"outlier_summary", "segment_breakdown", "sample_values", "statistics",
}

// Section returns one top-level section of the profile as raw JSON.
func (p *Profile) Section(name string) (json.RawMessage, bool) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, false
	}
	result := gjson.GetBytes(data, gjson.Escape(name))
	if !result.Exists() {
		return nil, false
	}
	return json.RawMessage(result.Raw), true
}

// HasColumn reports whether the profile contains a column with the given name.
func (p *Profile) HasColumn(name string) bool {
	for _, col := range p.Columns {
		if strings.EqualFold(col.Name, name) {
			return true
		}
	}
	return false
}

// Summary renders the dataset header and the first limit column names.
func (p *Profile) Summary(limit int) string {
	var b strings.Builder
	b.WriteString("DATASET CONTEXT\n")

	name := p.FileName
	if name == "" {
		name = "Uploaded data"
	}
	fmt.Fprintf(&b, "Dataset: %s\n", name)
	fmt.Fprintf(&b, "Rows: %s\n", unknownIfZero(p.RowCount))

	count := p.ColumnCount
	if count == 0 {
		count = len(p.Columns)
	}
	fmt.Fprintf(&b, "Columns: %s\n", unknownIfZero(int64(count)))

	if len(p.Columns) > 0 {
		cols := p.Columns
		if limit > 0 && len(cols) > limit {
			cols = cols[:limit]
		}
		names := make([]string, 0, len(cols))
		for _, col := range cols {
			names = append(names, col.Name)
		}
		fmt.Fprintf(&b, "Key columns: %s\n", strings.Join(names, ", "))
	}

	return strings.TrimRight(b.String(), "\n")
}

// ColumnListing renders every column with its type, for the data-query agent.
func (p *Profile) ColumnListing() string {
	if len(p.Columns) == 0 {
		return ""
	}

	lines := []string{"DATABASE SCHEMA", "", "Available columns:"}
	for _, col := range p.Columns {
		desc := col.Description
		if desc == "" {
			desc = "No description"
		}
		lines = append(lines, fmt.Sprintf("- %s (%s): %s", col.Name, col.Type, desc))
	}
	if len(p.SampleValues) > 0 {
		lines = append(lines, "", "Sample data patterns available in Data DNA.")
	}
	return strings.Join(lines, "\n")
}

// StatisticsNote tells the statistical agent which precomputed analysis exists.
func (p *Profile) StatisticsNote() string {
	if len(p.Statistics) == 0 && len(p.Correlations) == 0 && len(p.OutlierSummary) == 0 {
		return ""
	}
	return strings.Join([]string{
		"STATISTICAL CONTEXT",
		"",
		"Dataset statistics available in Data DNA:",
		"- Distributions, correlations, outliers pre-computed",
	}, "\n")
}

func unknownIfZero(n int64) string {
	if n <= 0 {
		return "Unknown"
	}
	return fmt.Sprintf("%d", n)
}
