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

package envelope

import (
	"fmt"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

// Payload describes the call the worker must perform.
type Payload struct {
	Func string             `msgpack:"func"`
	Args msgpack.RawMessage `msgpack:"args,omitempty"`
	// Env holds captured caller environment variables applied before the call.
	Env map[string]string `msgpack:"env,omitempty"`
	// Revision is the caller's source revision, when known.
	Revision string `msgpack:"revision,omitempty"`
}

// NewPayload encodes args for the named function.
func NewPayload(fn string, args any) (*Payload, error) {
	p := &Payload{Func: fn}
	if args != nil {
		raw, err := MarshalValue(args)
		if err != nil {
			return nil, fmt.Errorf("failed to encode arguments for %q: %w", fn, err)
		}
		p.Args = raw
	}
	return p, nil
}

// Marshal encodes the payload.
func (p *Payload) Marshal() ([]byte, error) {
	return msgpack.Marshal(p)
}

// DecodePayload parses an encoded payload.
func DecodePayload(data []byte) (*Payload, error) {
	var p Payload
	if err := msgpack.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}
	if p.Func == "" {
		return nil, fmt.Errorf("payload names no function")
	}
	return &p, nil
}

// CaptureEnv selects variables from environ ("KEY=VALUE" entries) by exact
// name or by a trailing-star prefix pattern such as "WANDB_*".
func CaptureEnv(environ []string, patterns []string) map[string]string {
	if len(patterns) == 0 {
		return nil
	}
	out := map[string]string{}
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		for _, p := range patterns {
			if p == k || (strings.HasSuffix(p, "*") && strings.HasPrefix(k, strings.TrimSuffix(p, "*"))) {
				out[k] = v
				break
			}
		}
	}
	return out
}
