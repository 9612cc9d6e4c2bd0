package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/isdmx/codelab/fault"
)

// Type discriminates protocol messages.
type Type string

const (
	TypeExecute Type = "execute"
	TypeAbandon Type = "abandon"
	TypeResult  Type = "result"
	TypeLoading Type = "loading"
	TypeReady   Type = "ready"
	TypeError   Type = "error"
)

// Stage names an initialization phase reported by loading messages.
type Stage string

const (
	StageInit     Stage = "init"
	StagePackages Stage = "packages"
	StageReady    Stage = "ready"
)

// Request asks the sandbox to run one code string.
type Request struct {
	ID   string
	Code string
}

// ExecutionResult is the settled outcome of one execution. Error is empty
// unless the code failed or the call was abandoned.
type ExecutionResult struct {
	Stdout          string `json:"stdout"`
	Stderr          string `json:"stderr"`
	Error           string `json:"error,omitempty"`
	ExecutionTimeMs int64  `json:"executionTimeMs"`
}

// Failed reports whether the execution carries an error.
func (r ExecutionResult) Failed() bool {
	return r.Error != ""
}

// Message is the envelope for every protocol message. Which fields are
// meaningful depends on Type.
type Message struct {
	Type            Type   `json:"type"`
	ID              string `json:"id,omitempty"`
	Code            string `json:"code,omitempty"`
	Stage           Stage  `json:"stage,omitempty"`
	Stdout          string `json:"stdout,omitempty"`
	Stderr          string `json:"stderr,omitempty"`
	Error           string `json:"error,omitempty"`
	ExecutionTimeMs int64  `json:"executionTimeMs,omitempty"`
}

// resultWire keeps stdout, stderr and executionTimeMs on the wire even when empty.
type resultWire struct {
	Type            Type   `json:"type"`
	ID              string `json:"id"`
	Stdout          string `json:"stdout"`
	Stderr          string `json:"stderr"`
	Error           string `json:"error,omitempty"`
	ExecutionTimeMs int64  `json:"executionTimeMs"`
}

type executeWire struct {
	Type Type   `json:"type"`
	ID   string `json:"id"`
	Code string `json:"code"`
}

// MarshalJSON encodes the message in the shape of its type.
func (m Message) MarshalJSON() ([]byte, error) {
	switch m.Type {
	case TypeResult:
		return json.Marshal(resultWire{
			Type:            m.Type,
			ID:              m.ID,
			Stdout:          m.Stdout,
			Stderr:          m.Stderr,
			Error:           m.Error,
			ExecutionTimeMs: m.ExecutionTimeMs,
		})
	case TypeExecute:
		return json.Marshal(executeWire{Type: m.Type, ID: m.ID, Code: m.Code})
	default:
		type plain Message
		return json.Marshal(plain(m))
	}
}

// Execute builds an execute request message.
func Execute(id, code string) Message {
	return Message{Type: TypeExecute, ID: id, Code: code}
}

// Abandon tells the sandbox that the caller gave up on id.
func Abandon(id string) Message {
	return Message{Type: TypeAbandon, ID: id}
}

// Result builds a result message for id.
func Result(id string, res ExecutionResult) Message {
	return Message{
		Type:            TypeResult,
		ID:              id,
		Stdout:          res.Stdout,
		Stderr:          res.Stderr,
		Error:           res.Error,
		ExecutionTimeMs: res.ExecutionTimeMs,
	}
}

// Loading reports progress through an initialization stage.
func Loading(stage Stage) Message {
	return Message{Type: TypeLoading, Stage: stage}
}

// Ready reports that the sandbox accepts executions.
func Ready() Message {
	return Message{Type: TypeReady}
}

// Fatal reports a terminal sandbox failure.
func Fatal(message string) Message {
	return Message{Type: TypeError, Error: message}
}

// Request returns the execute payload of m.
func (m Message) Request() Request {
	return Request{ID: m.ID, Code: m.Code}
}

// Result returns the result payload of m.
func (m Message) Result() ExecutionResult {
	return ExecutionResult{
		Stdout:          m.Stdout,
		Stderr:          m.Stderr,
		Error:           m.Error,
		ExecutionTimeMs: m.ExecutionTimeMs,
	}
}

// Validate checks that m is a well-formed message of a known type.
func (m Message) Validate() error {
	switch m.Type {
	case TypeExecute, TypeAbandon, TypeResult:
		if m.ID == "" {
			return fault.Protocol(fmt.Sprintf("%s message without id", m.Type), nil)
		}
	case TypeLoading:
		switch m.Stage {
		case StageInit, StagePackages, StageReady:
		default:
			return fault.Protocol(fmt.Sprintf("unknown loading stage %q", m.Stage), nil)
		}
	case TypeReady:
	case TypeError:
		if m.Error == "" {
			return fault.Protocol("error message without text", nil)
		}
	default:
		return fault.Protocol(fmt.Sprintf("unknown message type %q", m.Type), nil)
	}
	return nil
}

// Error texts carried by ExecutionResult.Error for failures that happen
// outside the submitted code.
const (
	ErrorTimeout     = "Execution timeout"
	ErrorCanceled    = "Execution canceled"
	ErrorAbandoned   = "Execution abandoned"
	ErrorBusy        = "Sandbox busy"
	ErrorUnavailable = "Sandbox unavailable"
	ErrorClosed      = "Sandbox closed"
)
