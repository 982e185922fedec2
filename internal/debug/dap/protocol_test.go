package dap

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeRequest(t *testing.T) {
	frame, err := EncodeRequest(7, CommandNext, json.RawMessage(`{"threadId":1}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"seq":7,"type":"request","command":"next","arguments":{"threadId":1}}`, string(frame))
}

func TestDecodeFrameVariants(t *testing.T) {
	frame, err := DecodeFrame([]byte(`{"type":"response","request_seq":3,"success":true,"command":"scopes","body":{"scopes":[]}}`))
	require.NoError(t, err)
	resp, ok := frame.(*Response)
	require.True(t, ok, "expected *Response, got %T", frame)
	assert.Equal(t, 3, resp.RequestSeq)
	assert.True(t, resp.Success)
	assert.JSONEq(t, `{"scopes":[]}`, string(resp.Body))

	frame, err = DecodeFrame([]byte(`{"type":"event","event":"stopped","body":{"reason":"step","threadId":1}}`))
	require.NoError(t, err)
	evt, ok := frame.(*Event)
	require.True(t, ok, "expected *Event, got %T", frame)
	assert.Equal(t, EventStopped, evt.Event)

	frame, err = DecodeFrame([]byte(`{"seq":1,"type":"request","command":"runInTerminal"}`))
	require.NoError(t, err)
	_, ok = frame.(*Request)
	assert.True(t, ok)
}

func TestDecodeFrameResponseWithoutBody(t *testing.T) {
	frame, err := DecodeFrame([]byte(`{"type":"response","request_seq":9,"success":false,"message":"bad expression"}`))
	require.NoError(t, err)
	resp := frame.(*Response)
	assert.False(t, resp.Success)
	assert.Equal(t, "bad expression", resp.Message)
	assert.Empty(t, resp.Body)
}

func TestDecodeFrameMalformed(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantSeq int
	}{
		{"not json", `{"type":`, 0},
		{"array", `[1,2,3]`, 0},
		{"missing type", `{"event":"stopped"}`, 0},
		{"unknown type", `{"type":"notification"}`, 0},
		{"event without name", `{"type":"event","body":{}}`, 0},
		{"response without seq", `{"type":"response","success":true}`, 0},
		{"response with string seq", `{"type":"response","request_seq":"4","success":true}`, 0},
		{"response without success", `{"type":"response","request_seq":4}`, 4},
		{"response with scalar body", `{"type":"response","request_seq":5,"success":true,"body":"oops"}`, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := DecodeFrame([]byte(tt.input))
			assert.Nil(t, frame)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrProtocol), "want ErrProtocol, got %v", err)

			var perr *ProtocolError
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, tt.wantSeq, perr.Seq)
		})
	}
}

func TestEventDecodeBody(t *testing.T) {
	evt := &Event{Event: EventExited, Body: json.RawMessage(`{"exitCode":3}`)}
	var body struct {
		ExitCode int `json:"exitCode"`
	}
	require.NoError(t, evt.DecodeBody(&body))
	assert.Equal(t, 3, body.ExitCode)

	empty := &Event{Event: EventTerminated}
	assert.NoError(t, empty.DecodeBody(&body))

	bad := &Event{Event: EventExited, Body: json.RawMessage(`{"exitCode":"x"}`)}
	assert.ErrorIs(t, bad.DecodeBody(&body), ErrProtocol)
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "evaluate failed: bad expression",
		(&ProtocolError{Command: CommandEvaluate, Message: "bad expression"}).Error())
	assert.Equal(t, "transport dial: refused",
		(&TransportError{Op: "dial", Err: errors.New("refused")}).Error())
	assert.ErrorIs(t, &TimeoutError{Command: CommandScopes, Seq: 2}, ErrTimeout)
}
