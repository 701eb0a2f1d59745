// Package protocol encodes and decodes the JSON hub protocol spoken by the push endpoint.
// Records are JSON objects terminated by the 0x1E record separator.
// A single transport frame may carry any number of records.
package protocol

import (
	"bytes"
	"cinematch/errors"
	"encoding/json"
	"fmt"
)

const RecordSeparator byte = 0x1e

type RecordType int

const (
	TypeInvocation RecordType = 1
	TypeCompletion RecordType = 3
	TypePing       RecordType = 6
	TypeClose      RecordType = 7
)

// Record is the union of every record shape the hub exchanges.
type Record struct {
	Type           RecordType        `json:"type"`
	InvocationID   string            `json:"invocationId,omitempty"`
	Target         string            `json:"target,omitempty"`
	Arguments      []json.RawMessage `json:"arguments,omitempty"`
	Result         json.RawMessage   `json:"result,omitempty"`
	Error          string            `json:"error,omitempty"`
	AllowReconnect bool              `json:"allowReconnect,omitempty"`
}

// NewInvocation builds an invocation of target. An empty invocationID
// makes it fire-and-forget, the hub sends no completion back.
func NewInvocation(invocationID, target string, args ...any) (Record, error) {
	raw := make([]json.RawMessage, 0, len(args))
	for _, arg := range args {
		b, err := json.Marshal(arg)
		if err != nil {
			return Record{}, fmt.Errorf("%w: argument of %s: %w", errors.ErrInvalidPayload, target, err)
		}
		raw = append(raw, b)
	}
	return Record{
		Type:         TypeInvocation,
		InvocationID: invocationID,
		Target:       target,
		Arguments:    raw,
	}, nil
}

func Ping() Record {
	return Record{Type: TypePing}
}

// Arg decodes the i-th argument of an invocation into v.
func (r Record) Arg(i int, v any) error {
	if i >= len(r.Arguments) {
		return fmt.Errorf("%w: %s has %d arguments, wanted index %d", errors.ErrInvalidPayload, r.Target, len(r.Arguments), i)
	}
	if err := json.Unmarshal(r.Arguments[i], v); err != nil {
		return fmt.Errorf("%w: %s argument %d: %w", errors.ErrInvalidPayload, r.Target, i, err)
	}
	return nil
}

// Encode serializes one record with its trailing separator.
func Encode(r Record) ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return append(b, RecordSeparator), nil
}

// Decode splits a frame into records. A trailing fragment without
// separator is rejected, the hub never splits a record across frames.
func Decode(frame []byte) ([]Record, error) {
	var records []Record
	for len(frame) > 0 {
		idx := bytes.IndexByte(frame, RecordSeparator)
		if idx < 0 {
			return records, fmt.Errorf("%w: unterminated record", errors.ErrInvalidPayload)
		}
		chunk := frame[:idx]
		frame = frame[idx+1:]
		if len(bytes.TrimSpace(chunk)) == 0 {
			continue
		}
		var r Record
		if err := json.Unmarshal(chunk, &r); err != nil {
			return records, fmt.Errorf("%w: %w", errors.ErrInvalidPayload, err)
		}
		records = append(records, r)
	}
	return records, nil
}

type handshakeRequest struct {
	Protocol string `json:"protocol"`
	Version  int    `json:"version"`
}

type handshakeResponse struct {
	Error string `json:"error,omitempty"`
}

// HandshakeRequest is the first frame a client sends after the transport opens.
func HandshakeRequest() []byte {
	b, _ := json.Marshal(handshakeRequest{Protocol: "json", Version: 1})
	return append(b, RecordSeparator)
}

// ParseHandshakeResponse validates the first frame received from the hub and returns
// whatever records followed the handshake in that same frame.
func ParseHandshakeResponse(frame []byte) ([]byte, error) {
	idx := bytes.IndexByte(frame, RecordSeparator)
	if idx < 0 {
		return nil, fmt.Errorf("%w: unterminated response", errors.ErrHandshake)
	}
	var resp handshakeResponse
	if err := json.Unmarshal(frame[:idx], &resp); err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrHandshake, err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("%w: %s", errors.ErrHandshake, resp.Error)
	}
	return frame[idx+1:], nil
}
