package agent

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/harun/insightx/pkg/dataprofile"
)

// Agent ids
const (
	IDOrchestrator = "orchestrator"
	IDSQL          = "sql_agent"
	IDPython       = "python_agent"
	IDComposer     = "composer"
	IDExplainer    = "explainer"
)

// DefaultModel is the model every agent uses unless overridden.
const DefaultModel = "anthropic/claude-sonnet-4-5"

// ErrUnknownAgent is returned for ids missing from the registry.
var ErrUnknownAgent = errors.New("unknown agent")

// Definition describes one agent role
type Definition struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Model        string   `json:"model"`
	Temperature  float64  `json:"temperature"`
	MaxTokens    int      `json:"max_tokens"`
	SystemPrompt string   `json:"-"`
	Tools        []string `json:"tools"`
}

// AllowsTool reports whether the agent may call the named tool.
func (d Definition) AllowsTool(name string) bool {
	for _, t := range d.Tools {
		if t == name {
			return true
		}
	}
	return false
}

// Override replaces registry defaults. Zero fields are ignored.
type Override struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// Registry holds the agent definitions
type Registry struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

// NewRegistry returns the built-in agents
func NewRegistry() *Registry {
	defs := []Definition{
		{
			ID:           IDOrchestrator,
			Name:         "Orchestrator",
			Description:  "Routes queries to appropriate specialist agents",
			Temperature:  0.3,
			MaxTokens:    500,
			SystemPrompt: orchestratorPrompt,
			Tools:        []string{dataprofile.ToolReadDataDNA, dataprofile.ToolReadContext},
		},
		{
			ID:           IDSQL,
			Name:         "SQL Agent",
			Description:  "Generates and executes DuckDB queries",
			Temperature:  0.2,
			MaxTokens:    1000,
			SystemPrompt: sqlPrompt,
			Tools:        []string{dataprofile.ToolReadDataDNA, dataprofile.ToolRunSQL, dataprofile.ToolWriteCode},
		},
		{
			ID:           IDPython,
			Name:         "Python Analyst",
			Description:  "Performs statistical analysis using Python",
			Temperature:  0.3,
			MaxTokens:    1500,
			SystemPrompt: pythonPrompt,
			Tools: []string{
				dataprofile.ToolReadDataDNA, dataprofile.ToolReadContext,
				dataprofile.ToolRunPython, dataprofile.ToolWriteCode,
			},
		},
		{
			ID:           IDComposer,
			Name:         "Composer",
			Description:  "Synthesizes results into user-friendly responses",
			Temperature:  0.5,
			MaxTokens:    1000,
			SystemPrompt: composerPrompt,
			Tools: []string{
				dataprofile.ToolReadDataDNA, dataprofile.ToolReadContext, dataprofile.ToolWriteContext,
			},
		},
		{
			ID:           IDExplainer,
			Name:         "Explainer",
			Description:  "Explains dataset structure and findings",
			Temperature:  0.4,
			MaxTokens:    800,
			SystemPrompt: explainerPrompt,
			Tools:        []string{dataprofile.ToolReadDataDNA},
		},
	}

	r := &Registry{defs: make(map[string]Definition, len(defs))}
	for _, d := range defs {
		d.Model = DefaultModel
		r.defs[d.ID] = d
	}
	return r
}

// Get returns the definition for id
func (r *Registry) Get(id string) (Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.defs[id]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %s", ErrUnknownAgent, id)
	}
	d.Tools = append([]string(nil), d.Tools...)
	return d, nil
}

// Apply overrides the model, temperature or max tokens of an agent.
func (r *Registry) Apply(id string, o Override) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.defs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAgent, id)
	}
	if o.Model != "" {
		d.Model = o.Model
	}
	if o.Temperature > 0 {
		d.Temperature = o.Temperature
	}
	if o.MaxTokens > 0 {
		d.MaxTokens = o.MaxTokens
	}
	r.defs[id] = d
	return nil
}

// SetModel sets the model of every agent.
func (r *Registry) SetModel(model string) {
	if model == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, d := range r.defs {
		d.Model = model
		r.defs[id] = d
	}
}

// IDs returns the registered agent ids, sorted
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.defs))
	for id := range r.defs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
