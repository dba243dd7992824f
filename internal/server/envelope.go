// Package server decodes request envelopes, runs each one as a job and
// encodes the response envelope.
//
// A request is a JSON object {"type": <Kind>, "requestId": ..., ...fields}.
// The response is {"code": "Ok", ...fields}, {"code": "Aborted"} or
// {"code": "Error", "errorCode", "message", "stack"}.
package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/runnerr0/trail/internal/apperr"
)

// Kind names a request type.
type Kind string

const (
	KindPing                 Kind = "Ping"
	KindQuery                Kind = "Query"
	KindQuerySessions        Kind = "QuerySessions"
	KindQuerySessionFacets   Kind = "QuerySessionFacets"
	KindQuerySessionTimeline Kind = "QuerySessionTimeline"
	KindTabChanged           Kind = "TabChanged"
	KindTabClosed            Kind = "TabClosed"
	KindTabInteraction       Kind = "TabInteraction"
	KindExportDatabase       Kind = "ExportDatabase"
	KindImportDatabase       Kind = "ImportDatabase"
	KindRegenerateIndex      Kind = "RegenerateIndex"
	KindGetSettings          Kind = "GetSettings"
	KindUpdateSettings       Kind = "UpdateSettings"
	KindCorrelateChromeVisit Kind = "CorrelateChromeVisit"
	KindCreateGhostSessions  Kind = "CreateGhostSessions"
	KindFixChromeParents     Kind = "FixChromeParents"
	KindApplyRetentionPolicy Kind = "ApplyRetentionPolicy"
	KindNavigationEvent      Kind = "NavigationEvent"
	KindCleanupSessions      Kind = "CleanupSessions"
	KindGetSession           Kind = "GetSession"
	KindGetStats             Kind = "GetStats"
)

// Code is the outcome of a request.
type Code string

const (
	CodeOk      Code = "Ok"
	CodeError   Code = "Error"
	CodeAborted Code = "Aborted"
)

// Envelope is a decoded request. Fields holds the whole request object;
// each kind decodes the fields it needs from it.
type Envelope struct {
	Type      Kind   `json:"type" validate:"required"`
	RequestID string `json:"requestId,omitempty" validate:"omitempty,max=128"`

	Fields json.RawMessage `json:"-"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var head struct {
		Type      Kind   `json:"type"`
		RequestID string `json:"requestId"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	e.Type = head.Type
	e.RequestID = head.RequestID
	e.Fields = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (e Envelope) MarshalJSON() ([]byte, error) {
	fields := map[string]any{}
	if len(e.Fields) > 0 {
		if err := decodeObject(e.Fields, &fields); err != nil {
			return nil, err
		}
	}
	fields["type"] = e.Type
	if e.RequestID != "" {
		fields["requestId"] = e.RequestID
	}
	return json.Marshal(fields)
}

// NewEnvelope builds a request of the given kind from a fields struct.
func NewEnvelope(kind Kind, requestID string, fields any) (Envelope, error) {
	env := Envelope{Type: kind, RequestID: requestID}
	if fields != nil {
		raw, err := json.Marshal(fields)
		if err != nil {
			return env, fmt.Errorf("encode request fields: %w", err)
		}
		env.Fields = raw
	}
	return env, nil
}

// Response is an encoded outcome. Body's fields are flattened into the
// response object.
type Response struct {
	Code      Code
	RequestID string
	ErrorCode apperr.Code
	Message   string
	Stack     string
	Body      any
}

// MarshalJSON implements json.Marshaler.
func (r Response) MarshalJSON() ([]byte, error) {
	fields := map[string]any{}
	if r.Body != nil {
		raw, err := json.Marshal(r.Body)
		if err != nil {
			return nil, fmt.Errorf("encode response: %w", err)
		}
		if err := decodeObject(raw, &fields); err != nil {
			fields = map[string]any{"result": json.RawMessage(raw)}
		}
	}
	fields["code"] = r.Code
	if r.RequestID != "" {
		fields["requestId"] = r.RequestID
	}
	if r.Code == CodeError {
		fields["errorCode"] = r.ErrorCode
		fields["message"] = r.Message
		fields["stack"] = r.Stack
	}
	return json.Marshal(fields)
}

// UnmarshalJSON implements json.Unmarshaler. The flattened fields are kept
// as a json.RawMessage in Body.
func (r *Response) UnmarshalJSON(data []byte) error {
	var head struct {
		Code      Code        `json:"code"`
		RequestID string      `json:"requestId"`
		ErrorCode apperr.Code `json:"errorCode"`
		Message   string      `json:"message"`
		Stack     string      `json:"stack"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	r.Code, r.RequestID = head.Code, head.RequestID
	r.ErrorCode, r.Message, r.Stack = head.ErrorCode, head.Message, head.Stack
	r.Body = json.RawMessage(append([]byte(nil), data...))
	return nil
}

// Decode unmarshals the flattened body of r into v.
func (r Response) Decode(v any) error {
	raw, ok := r.Body.(json.RawMessage)
	if !ok {
		b, err := json.Marshal(r.Body)
		if err != nil {
			return err
		}
		raw = b
	}
	return json.Unmarshal(raw, v)
}

// Err rebuilds the error carried by a non-Ok response.
func (r Response) Err() error {
	switch r.Code {
	case CodeOk:
		return nil
	case CodeAborted:
		return apperr.ErrAborted
	default:
		code := r.ErrorCode
		if code == "" {
			code = apperr.CodeStorage
		}
		return &apperr.Error{Code: code, Message: r.Message}
	}
}

// Ok wraps a successful result.
func Ok(requestID string, body any) Response {
	return Response{Code: CodeOk, RequestID: requestID, Body: body}
}

// Fail wraps err. Cancellation becomes an Aborted response.
func Fail(requestID string, err error) Response {
	if apperr.IsAborted(err) {
		return Response{Code: CodeAborted, RequestID: requestID}
	}
	return Response{
		Code:      CodeError,
		RequestID: requestID,
		ErrorCode: apperr.CodeOf(err),
		Message:   err.Error(),
		Stack:     stack(err),
	}
}

// stack lists the chain of wrapped errors, outermost first.
func stack(err error) string {
	var lines []string
	for e := err; e != nil; e = errors.Unwrap(e) {
		lines = append(lines, fmt.Sprintf("%T: %s", e, e.Error()))
	}
	return strings.Join(lines, "\n")
}

func decodeObject(data []byte, v *map[string]any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if *v == nil {
		*v = map[string]any{}
	}
	return nil
}
