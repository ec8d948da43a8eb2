package orchestrator

import (
	"encoding/json"

	"github.com/harun/insightx/pkg/response"
)

// EventType tags each stream event
type EventType string

const (
	TypeStatus             EventType = "status"
	TypeToast              EventType = "toast"
	TypeOrchestratorResult EventType = "orchestrator_result"
	TypeCodeWritten        EventType = "code_written"
	TypeSQLResult          EventType = "sql_result"
	TypePythonResult       EventType = "python_result"
	TypeFinalResponse      EventType = "final_response"
	TypeError              EventType = "error"
)

// Event is one stream message. The set of implementations is closed.
type Event interface {
	Type() EventType
	event()
}

// StatusEvent reports pipeline progress.
type StatusEvent struct {
	Message string
}

// ToastEvent is a transient notice, such as a credential switch.
type ToastEvent struct {
	Message   string
	Reasoning string
}

// OrchestratorResultEvent carries the routing decision.
type OrchestratorResultEvent struct {
	Classification Classification
	Reasoning      string
}

// CodeWrittenEvent publishes generated code before it runs.
type CodeWrittenEvent struct {
	Code     string
	Language string
}

// SQLResultEvent carries the rows of the executed query.
type SQLResultEvent struct {
	Query    string
	Rows     []map[string]interface{}
	RowCount int
}

// PythonResultEvent carries the output of the analysis script.
type PythonResultEvent struct {
	Code    string
	Results interface{}
}

// FinalResponseEvent carries the composed answer.
type FinalResponseEvent struct {
	Result         *response.AgentResult
	Classification Classification
}

// ErrorEvent reports a failed step. Terminal errors end the stream.
type ErrorEvent struct {
	Message  string
	Details  string
	Terminal bool
}

func (StatusEvent) Type() EventType             { return TypeStatus }
func (ToastEvent) Type() EventType              { return TypeToast }
func (OrchestratorResultEvent) Type() EventType { return TypeOrchestratorResult }
func (CodeWrittenEvent) Type() EventType        { return TypeCodeWritten }
func (SQLResultEvent) Type() EventType          { return TypeSQLResult }
func (PythonResultEvent) Type() EventType       { return TypePythonResult }
func (FinalResponseEvent) Type() EventType      { return TypeFinalResponse }
func (ErrorEvent) Type() EventType              { return TypeError }

func (StatusEvent) event()             {}
func (ToastEvent) event()              {}
func (OrchestratorResultEvent) event() {}
func (CodeWrittenEvent) event()        {}
func (SQLResultEvent) event()          {}
func (PythonResultEvent) event()       {}
func (FinalResponseEvent) event()      {}
func (ErrorEvent) event()              {}

type envelope struct {
	Type    EventType   `json:"type"`
	Message string      `json:"message,omitempty"`
	Details string      `json:"details,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func (e StatusEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type    EventType `json:"type"`
		Message string    `json:"message"`
	}{TypeStatus, e.Message})
}

func (e ToastEvent) MarshalJSON() ([]byte, error) {
	env := envelope{Type: TypeToast, Message: e.Message}
	if e.Reasoning != "" {
		env.Data = map[string]string{"reasoning": e.Reasoning}
	}
	return json.Marshal(env)
}

func (e OrchestratorResultEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(envelope{Type: TypeOrchestratorResult, Data: struct {
		Classification Classification `json:"classification"`
		Reasoning      string         `json:"reasoning,omitempty"`
	}{e.Classification, e.Reasoning}})
}

func (e CodeWrittenEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(envelope{Type: TypeCodeWritten, Data: map[string]string{
		"code":     e.Code,
		"language": e.Language,
	}})
}

func (e SQLResultEvent) MarshalJSON() ([]byte, error) {
	rows := e.Rows
	if rows == nil {
		rows = []map[string]interface{}{}
	}
	return json.Marshal(envelope{Type: TypeSQLResult, Data: map[string]interface{}{
		"query": e.Query,
		"results": map[string]interface{}{
			"rows":      rows,
			"row_count": e.RowCount,
		},
	}})
}

func (e PythonResultEvent) MarshalJSON() ([]byte, error) {
	data := map[string]interface{}{"results": e.Results}
	if e.Code != "" {
		data["code"] = e.Code
	}
	return json.Marshal(envelope{Type: TypePythonResult, Data: data})
}

func (e FinalResponseEvent) MarshalJSON() ([]byte, error) {
	result := e.Result
	if result == nil {
		result = response.FromText("")
	}
	return json.Marshal(envelope{Type: TypeFinalResponse, Data: struct {
		*response.AgentResult
		Classification Classification `json:"classification,omitempty"`
	}{result, e.Classification}})
}

func (e ErrorEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type    EventType `json:"type"`
		Message string    `json:"message"`
		Details string    `json:"details,omitempty"`
	}{TypeError, e.Message, e.Details})
}
