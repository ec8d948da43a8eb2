package dataprofile

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleProfile() *Profile {
	return &Profile{
		FileName:    "transactions.csv",
		RowCount:    250000,
		ColumnCount: 3,
		Columns: []Column{
			{Name: "transaction_id", Type: "identifier"},
			{Name: "amount", Type: "numeric", Description: "Transaction amount in INR", Stats: map[string]interface{}{"mean": 1245.0}},
			{Name: "state", Type: "categorical"},
		},
		Baselines:  json.RawMessage(`{"failure_rate": 4.2}`),
		Statistics: json.RawMessage(`{"amount": {"std": 310.5}}`),
	}
}

func TestProfileSummary(t *testing.T) {
	p := sampleProfile()

	summary := p.Summary(10)
	assert.Contains(t, summary, "DATASET CONTEXT")
	assert.Contains(t, summary, "Dataset: transactions.csv")
	assert.Contains(t, summary, "Rows: 250000")
	assert.Contains(t, summary, "Columns: 3")
	assert.Contains(t, summary, "Key columns: transaction_id, amount, state")

	assert.Equal(t, summary, p.Summary(10), "rendering must be deterministic")
}

func TestProfileSummaryTruncatesColumns(t *testing.T) {
	p := &Profile{}
	for i := 0; i < 15; i++ {
		p.Columns = append(p.Columns, Column{Name: fmt.Sprintf("col_%02d", i), Type: "numeric"})
	}

	summary := p.Summary(10)
	assert.Contains(t, summary, "col_09")
	assert.NotContains(t, summary, "col_10")
	assert.Contains(t, summary, "Dataset: Uploaded data")
	assert.Contains(t, summary, "Rows: Unknown")
	assert.Contains(t, summary, "Columns: 15")
}

func TestProfileColumnListing(t *testing.T) {
	listing := sampleProfile().ColumnListing()

	assert.True(t, strings.HasPrefix(listing, "DATABASE SCHEMA"))
	assert.Contains(t, listing, "- amount (numeric): Transaction amount in INR")
	assert.Contains(t, listing, "- state (categorical): No description")

	assert.Empty(t, (&Profile{}).ColumnListing())
}

func TestProfileStatisticsNote(t *testing.T) {
	assert.Contains(t, sampleProfile().StatisticsNote(), "STATISTICAL CONTEXT")
	assert.Empty(t, (&Profile{}).StatisticsNote())
}

func TestProfileSection(t *testing.T) {
	p := sampleProfile()

	raw, ok := p.Section("baselines")
	require.True(t, ok)
	assert.JSONEq(t, `{"failure_rate": 4.2}`, string(raw))

	raw, ok = p.Section("columns")
	require.True(t, ok)
	assert.Contains(t, string(raw), `"amount"`)

	_, ok = p.Section("patterns")
	assert.False(t, ok)
}

func TestProfileHasColumn(t *testing.T) {
	p := sampleProfile()
	assert.True(t, p.HasColumn("Amount"))
	assert.False(t, p.HasColumn("merchant"))
}
