// Copyright 2026 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package envelope defines the msgpack documents exchanged between the caller
// and the remote worker: the Payload going out and the Envelope coming back.
package envelope

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Status tells whether the remote call returned or failed.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// ErrMalformed is returned by Decode when a document violates the envelope
// invariants.
var ErrMalformed = errors.New("malformed result envelope")

// Envelope carries either a return value or a captured failure, never both.
type Envelope struct {
	Status          Status             `msgpack:"status"`
	Value           msgpack.RawMessage `msgpack:"value,omitempty"`
	ErrorKind       string             `msgpack:"error_kind,omitempty"`
	ErrorMessage    string             `msgpack:"error_message,omitempty"`
	RemoteStackText string             `msgpack:"remote_stack_text,omitempty"`
}

// Success wraps v as a successful result.
func Success(v any) (*Envelope, error) {
	raw, err := MarshalValue(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode return value: %w", err)
	}
	return &Envelope{Status: StatusSuccess, Value: raw}, nil
}

// Failure wraps a captured remote failure.
func Failure(kind, message, stack string) *Envelope {
	if kind == "" {
		kind = "error"
	}
	return &Envelope{
		Status:          StatusFailure,
		ErrorKind:       kind,
		ErrorMessage:    message,
		RemoteStackText: stack,
	}
}

// Marshal encodes the envelope.
func (e *Envelope) Marshal() ([]byte, error) {
	return msgpack.Marshal(e)
}

// Decode parses and validates an encoded envelope.
func Decode(data []byte) (*Envelope, error) {
	var e Envelope
	if err := msgpack.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch e.Status {
	case StatusSuccess:
		if e.ErrorKind != "" || e.ErrorMessage != "" || e.RemoteStackText != "" {
			return nil, fmt.Errorf("%w: success carries error fields", ErrMalformed)
		}
	case StatusFailure:
		if len(e.Value) > 0 {
			return nil, fmt.Errorf("%w: failure carries a value", ErrMalformed)
		}
	default:
		return nil, fmt.Errorf("%w: unknown status %q", ErrMalformed, e.Status)
	}
	return &e, nil
}

// Err returns the captured failure as a *RemoteError, or nil on success.
func (e *Envelope) Err() error {
	if e.Status != StatusFailure {
		return nil
	}
	return &RemoteError{Kind: e.ErrorKind, Message: e.ErrorMessage, StackText: e.RemoteStackText}
}

// DecodeValue unpacks the returned value into out.
func (e *Envelope) DecodeValue(out any) error {
	if e.Status != StatusSuccess {
		return fmt.Errorf("envelope holds a failure, not a value")
	}
	if out == nil {
		return nil
	}
	return UnmarshalValue(e.Value, out)
}

// RemoteError is a failure raised inside the remote worker, reconstructed
// on the caller. Its text includes the remote stack verbatim.
type RemoteError struct {
	Kind      string
	Message   string
	StackText string
}

func (e *RemoteError) Error() string {
	var b bytes.Buffer
	fmt.Fprintf(&b, "%s: %s", e.Kind, e.Message)
	if e.StackText != "" {
		b.WriteString("\n\nremote stack:\n")
		b.WriteString(e.StackText)
	}
	return b.String()
}

// MarshalValue encodes a user value. Struct fields are named by their json
// tags so callers can reuse their existing types.
func MarshalValue(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalValue is the inverse of MarshalValue.
func UnmarshalValue(data []byte, out any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	return dec.Decode(out)
}
