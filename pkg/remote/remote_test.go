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

package remote

import (
	"context"
	"errors"
	"strings"
	"testing"

	"remote-exec/pkg/envelope"
	"remote-exec/pkg/run"

	"github.com/google/go-cmp/cmp"
)

type addArgs struct {
	A int `json:"a"`
	B int `json:"b"`
}

type sum struct {
	Total int `json:"total"`
}

var add = Register("remote_test.add", func(_ context.Context, a addArgs) (sum, error) {
	if a.A < 0 {
		return sum{}, errors.New("negative input")
	}
	return sum{Total: a.A + a.B}, nil
})

// localExecutor runs requests in-process and round-trips them through the
// result envelope like a worker would.
type localExecutor struct {
	got run.Request
}

func (l *localExecutor) Execute(ctx context.Context, req run.Request) ([]byte, error) {
	l.got = req
	args, err := envelope.MarshalValue(req.Args)
	if err != nil {
		return nil, err
	}
	v, err := Invoke(ctx, req.Func, args)
	if err != nil {
		return nil, envelope.Failure("Error", err.Error(), "").Err()
	}
	env, err := envelope.Success(v)
	if err != nil {
		return nil, err
	}
	return env.Value, nil
}

func TestCall(t *testing.T) {
	exec := &localExecutor{}
	got, err := add.Call(context.Background(), exec, addArgs{A: 40, B: 2},
		WithAccelerator("l4"), WithWorkDir("/src"))
	if err != nil {
		t.Fatalf("Call() error: %v", err)
	}
	if got.Total != 42 {
		t.Errorf("Call() = %+v, want total 42", got)
	}
	want := run.Request{Func: "remote_test.add", Args: addArgs{A: 40, B: 2}, Accelerator: "l4", WorkDir: "/src"}
	if diff := cmp.Diff(want, exec.got); diff != "" {
		t.Errorf("request mismatch (-want +got):\n%s", diff)
	}
}

func TestCallRemoteFailure(t *testing.T) {
	_, err := add.Call(context.Background(), &localExecutor{}, addArgs{A: -1})
	var remoteErr *envelope.RemoteError
	if !errors.As(err, &remoteErr) {
		t.Fatalf("Call() error = %v, want *envelope.RemoteError", err)
	}
	if remoteErr.Message != "negative input" {
		t.Errorf("Message = %q", remoteErr.Message)
	}
}

func TestInvoke(t *testing.T) {
	args, err := envelope.MarshalValue(addArgs{A: 1, B: 2})
	if err != nil {
		t.Fatal(err)
	}
	v, err := Invoke(context.Background(), add.Name(), args)
	if err != nil {
		t.Fatalf("Invoke() error: %v", err)
	}
	if v.(sum).Total != 3 {
		t.Errorf("Invoke() = %v", v)
	}

	if _, err := Invoke(context.Background(), "remote_test.missing", nil); !errors.Is(err, ErrUnknownFunction) {
		t.Errorf("Invoke(missing) error = %v, want ErrUnknownFunction", err)
	}
}

func TestInvokeBadArguments(t *testing.T) {
	args, err := envelope.MarshalValue("not a struct")
	if err != nil {
		t.Fatal(err)
	}
	_, err = Invoke(context.Background(), add.Name(), args)
	var argErr *ArgumentError
	if !errors.As(err, &argErr) || argErr.Kind() != "ArgumentError" {
		t.Errorf("Invoke() error = %v, want *ArgumentError", err)
	}
}

func TestRegisterDuplicatePanics(t *testing.T) {
	defer func() {
		r := recover()
		if r == nil || !strings.Contains(r.(string), "registered twice") {
			t.Errorf("recover() = %v, want duplicate registration panic", r)
		}
	}()
	Register("remote_test.add", func(context.Context, addArgs) (sum, error) { return sum{}, nil })
}

func TestBuiltins(t *testing.T) {
	names := Names()
	for _, want := range []string{Echo.Name(), SysInfo.Name(), add.Name()} {
		found := false
		for _, n := range names {
			found = found || n == want
		}
		if !found {
			t.Errorf("Names() = %v, missing %q", names, want)
		}
	}

	exec := &localExecutor{}
	echoed, err := Echo.Call(context.Background(), exec, map[string]any{"msg": "hi"})
	if err != nil || echoed["msg"] != "hi" {
		t.Errorf("Echo.Call() = %v, %v", echoed, err)
	}

	info, err := SysInfo.Call(context.Background(), exec, struct{}{})
	if err != nil {
		t.Fatalf("SysInfo.Call() error: %v", err)
	}
	if info.LogicalCPUs < 1 || info.MemoryTotal == 0 {
		t.Errorf("SysInfo.Call() = %+v", info)
	}
}
