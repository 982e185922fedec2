package dap

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// Commands understood by the debug server.
const (
	CommandContinue       = "continue"
	CommandPause          = "pause"
	CommandNext           = "next"
	CommandStepIn         = "stepIn"
	CommandStepOut        = "stepOut"
	CommandRestart        = "restart"
	CommandDisconnect     = "disconnect"
	CommandEvaluate       = "evaluate"
	CommandSetBreakpoints = "setBreakpoints"
	CommandStackTrace     = "stackTrace"
	CommandScopes         = "scopes"
	CommandVariables      = "variables"
)

// Events emitted by the debug server.
const (
	EventInitialized = "initialized"
	EventStopped     = "stopped"
	EventContinued   = "continued"
	EventExited      = "exited"
	EventTerminated  = "terminated"
	EventBreakpoint  = "breakpoint"
	EventOutput      = "output"
)

// Frame type tags.
const (
	TypeRequest  = "request"
	TypeResponse = "response"
	TypeEvent    = "event"
)

// Frame is one decoded wire message. The set of implementations is closed:
// *Request, *Response and *Event.
type Frame interface {
	frameType() string
}

// Request is a command sent to the debug server.
type Request struct {
	Seq       int             `json:"seq"`
	Type      string          `json:"type"`
	Command   string          `json:"command"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

func (*Request) frameType() string { return TypeRequest }

// Response answers the request whose seq equals RequestSeq.
type Response struct {
	Seq        int             `json:"seq,omitempty"`
	Type       string          `json:"type"`
	RequestSeq int             `json:"request_seq"`
	Success    bool            `json:"success"`
	Command    string          `json:"command,omitempty"`
	Message    string          `json:"message,omitempty"`
	Body       json.RawMessage `json:"body,omitempty"`
}

func (*Response) frameType() string { return TypeResponse }

// Event is an asynchronous notification from the debug server.
type Event struct {
	Seq   int             `json:"seq,omitempty"`
	Type  string          `json:"type"`
	Event string          `json:"event"`
	Body  json.RawMessage `json:"body,omitempty"`
}

func (*Event) frameType() string { return TypeEvent }

// DecodeBody unmarshals the event body into v. A missing body leaves v untouched.
func (e *Event) DecodeBody(v any) error {
	if len(e.Body) == 0 || string(e.Body) == "null" {
		return nil
	}
	if err := json.Unmarshal(e.Body, v); err != nil {
		return &ProtocolError{Message: fmt.Sprintf("%s event body", e.Event), Err: err}
	}
	return nil
}

// EncodeRequest serializes a request frame.
func EncodeRequest(seq int, command string, args json.RawMessage) ([]byte, error) {
	return json.Marshal(&Request{
		Seq:       seq,
		Type:      TypeRequest,
		Command:   command,
		Arguments: args,
	})
}

// DecodeFrame validates data and decodes it into one of the Frame variants.
// Validation happens before any caller-visible state is touched; a frame
// that fails it yields a *ProtocolError. For responses whose request_seq is
// readable the error carries that Seq so only the owning request fails.
func DecodeFrame(data []byte) (Frame, error) {
	if !gjson.ValidBytes(data) {
		return nil, &ProtocolError{Err: errors.New("invalid JSON")}
	}

	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, &ProtocolError{Err: errors.New("frame is not an object")}
	}

	typ := root.Get("type")
	if typ.Type != gjson.String {
		return nil, &ProtocolError{Err: errors.New("missing type")}
	}

	switch typ.Str {
	case TypeResponse:
		return decodeResponse(data, root)
	case TypeEvent:
		if ev := root.Get("event"); ev.Type != gjson.String || ev.Str == "" {
			return nil, &ProtocolError{Err: errors.New("event without name")}
		}
		var evt Event
		if err := json.Unmarshal(data, &evt); err != nil {
			return nil, &ProtocolError{Err: err}
		}
		return &evt, nil
	case TypeRequest:
		if cmd := root.Get("command"); cmd.Type != gjson.String {
			return nil, &ProtocolError{Err: errors.New("request without command")}
		}
		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, &ProtocolError{Err: err}
		}
		return &req, nil
	default:
		return nil, &ProtocolError{Err: fmt.Errorf("unknown frame type %q", typ.Str)}
	}
}

func decodeResponse(data []byte, root gjson.Result) (Frame, error) {
	seq := root.Get("request_seq")
	if seq.Type != gjson.Number {
		return nil, &ProtocolError{Err: errors.New("response without request_seq")}
	}
	reqSeq := int(seq.Int())
	command := root.Get("command").String()

	fail := func(err error) error {
		return &ProtocolError{Command: command, Seq: reqSeq, Err: err}
	}

	success := root.Get("success")
	if success.Type != gjson.True && success.Type != gjson.False {
		return nil, fail(errors.New("response without success flag"))
	}
	if body := root.Get("body"); body.Exists() && body.Type != gjson.Null && !body.IsObject() {
		return nil, fail(errors.New("response body is not an object"))
	}

	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fail(err)
	}
	return &resp, nil
}
