package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/luciancaetano/kephasrpc"
)

// TestEncodeCall tests the call envelope with various inputs
func TestEncodeCall(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		id      int32
		domain  string
		command string
		raw     kephasrpc.RawJSON
		params  []any
		want    string
	}{
		{
			name:    "call with id",
			id:      7,
			domain:  "math",
			command: "add",
			params:  []any{2, 3},
			want:    `[7,"math","add",[2,3]]`,
		},
		{
			name:    "fire and forget omits id",
			id:      kephasrpc.NoID,
			domain:  "chat",
			command: "post",
			params:  []any{"hi"},
			want:    `["chat","post",["hi"]]`,
		},
		{
			name:    "no params",
			id:      0,
			domain:  "ping",
			command: "noop",
			want:    `[0,"ping","noop",[]]`,
		},
		{
			name:    "escaped strings",
			id:      1,
			domain:  "chat",
			command: "post",
			params:  []any{"say \"hi\"\n"},
			want:    `[1,"chat","post",["say \"hi\"\n"]]`,
		},
		{
			name:    "mixed scalar types",
			id:      2,
			domain:  "types",
			command: "all",
			params:  []any{int64(-4), uint8(9), float32(1.5), 2.0, true, nil},
			want:    `[2,"types","all",[-4,9,1.5,2.0,true,null]]`,
		},
		{
			name:    "structured value delegates to encoding/json",
			id:      3,
			domain:  "user",
			command: "set",
			params:  []any{map[string]int{"age": 3}},
			want:    `[3,"user","set",[{"age":3}]]`,
		},
		{
			name:    "raw tail only",
			id:      4,
			domain:  "feed",
			command: "push",
			raw:     kephasrpc.RawJSON(`{"big":true}`),
			want:    `[4,"feed","push",[{"big":true}]]`,
		},
		{
			name:    "raw tail after params",
			id:      kephasrpc.NoID,
			domain:  "feed",
			command: "push",
			raw:     kephasrpc.RawJSON(`[1,2,3]`),
			params:  []any{"tag"},
			want:    `["feed","push",["tag",[1,2,3]]]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			msg, err := EncodeCall(tt.id, tt.domain, tt.command, tt.raw, tt.params...)
			if err != nil {
				t.Fatalf("EncodeCall() error = %v", err)
			}
			if got := string(msg.Bytes()); got != tt.want {
				t.Errorf("EncodeCall() = %s, want %s", got, tt.want)
			}
			if !json.Valid(msg.Bytes()) {
				t.Errorf("EncodeCall() produced invalid JSON: %s", msg.Bytes())
			}
		})
	}
}

// TestEncodeCallRawTailIsNotCopied tests zero-copy composition of the raw tail
func TestEncodeCallRawTailIsNotCopied(t *testing.T) {
	t.Parallel()

	raw := kephasrpc.RawJSON(`{"payload":"large"}`)
	msg, err := EncodeCall(1, "feed", "push", raw, "x")
	if err != nil {
		t.Fatalf("EncodeCall() error = %v", err)
	}
	if len(msg) != 3 {
		t.Fatalf("segments = %d, want 3", len(msg))
	}
	if &msg[1][0] != &raw[0] {
		t.Error("raw tail was copied, want the caller's buffer as its own segment")
	}
}

// TestEncodeCallErrors tests values that cannot be encoded
func TestEncodeCallErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		id     int32
		params []any
	}{
		{name: "negative id", id: -5},
		{name: "NaN param", id: 1, params: []any{nanValue()}},
		{name: "unsupported type", id: 1, params: []any{make(chan int)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if _, err := EncodeCall(tt.id, "d", "c", nil, tt.params...); err == nil {
				t.Error("EncodeCall() expected error, got nil")
			}
		})
	}
}

func nanValue() float64 {
	zero := 0.0
	return zero / zero
}

// TestEncodeResponse tests the response and error envelopes
func TestEncodeResponse(t *testing.T) {
	t.Parallel()

	msg, err := EncodeResponse(7, 5)
	if err != nil {
		t.Fatalf("EncodeResponse() error = %v", err)
	}
	if got := string(msg.Bytes()); got != `[7,"r",5]` {
		t.Errorf("EncodeResponse() = %s, want [7,\"r\",5]", got)
	}

	msg, err = EncodeResponse(8, kephasrpc.RawJSON(`{"a":1}`))
	if err != nil {
		t.Fatalf("EncodeResponse(raw) error = %v", err)
	}
	if len(msg) != 3 {
		t.Errorf("raw response segments = %d, want 3", len(msg))
	}
	if got := string(msg.Bytes()); got != `[8,"r",{"a":1}]` {
		t.Errorf("EncodeResponse(raw) = %s", got)
	}

	msg, err = EncodeResponse(9, nil)
	if err != nil {
		t.Fatalf("EncodeResponse(nil) error = %v", err)
	}
	if got := string(msg.Bytes()); got != `[9,"r",null]` {
		t.Errorf("EncodeResponse(nil) = %s", got)
	}

	msg, err = EncodeError(3, "boom")
	if err != nil {
		t.Fatalf("EncodeError() error = %v", err)
	}
	if got := string(msg.Bytes()); got != `[3,"e","boom"]` {
		t.Errorf("EncodeError() = %s", got)
	}

	if _, err := EncodeResponse(kephasrpc.NoID, 1); err == nil {
		t.Error("EncodeResponse(NoID) expected error")
	}
	if _, err := EncodeError(kephasrpc.NoID, "x"); err == nil {
		t.Error("EncodeError(NoID) expected error")
	}
}

// TestDecode tests envelope decoding
func TestDecode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		input       string
		wantKind    Kind
		wantID      int32
		wantDomain  string
		wantCommand string
		wantParams  string
		wantResult  string
		wantMessage string
	}{
		{
			name:        "call with id",
			input:       `[7,"math","add",[2,3]]`,
			wantKind:    KindCall,
			wantID:      7,
			wantDomain:  "math",
			wantCommand: "add",
			wantParams:  `[2,3]`,
		},
		{
			name:        "call without id",
			input:       `["chat","post",["hi"]]`,
			wantKind:    KindCall,
			wantID:      kephasrpc.NoID,
			wantDomain:  "chat",
			wantCommand: "post",
			wantParams:  `["hi"]`,
		},
		{
			name:        "call without params",
			input:       `[1,"ping","noop"]`,
			wantKind:    KindCall,
			wantID:      1,
			wantDomain:  "ping",
			wantCommand: "noop",
		},
		{
			name:       "response",
			input:      `[7,"r",5]`,
			wantKind:   KindResponse,
			wantID:     7,
			wantResult: `5`,
		},
		{
			name:       "response with object",
			input:      `[12, "r", {"a": [1, 2]}]`,
			wantKind:   KindResponse,
			wantID:     12,
			wantResult: `{"a": [1, 2]}`,
		},
		{
			name:       "response without result",
			input:      `[3,"r"]`,
			wantKind:   KindResponse,
			wantID:     3,
			wantResult: `null`,
		},
		{
			name:        "error",
			input:       `[4,"e","boom"]`,
			wantKind:    KindError,
			wantID:      4,
			wantMessage: "boom",
		},
		{
			name:        "error with structured payload",
			input:       `[4,"e",{"code":1}]`,
			wantKind:    KindError,
			wantID:      4,
			wantMessage: `{"code":1}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			env, err := Decode([]byte(tt.input))
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if env.Kind != tt.wantKind {
				t.Errorf("Kind = %v, want %v", env.Kind, tt.wantKind)
			}
			if env.ID != tt.wantID {
				t.Errorf("ID = %d, want %d", env.ID, tt.wantID)
			}
			if env.Domain != tt.wantDomain {
				t.Errorf("Domain = %q, want %q", env.Domain, tt.wantDomain)
			}
			if env.Command != tt.wantCommand {
				t.Errorf("Command = %q, want %q", env.Command, tt.wantCommand)
			}
			if string(env.Params) != tt.wantParams {
				t.Errorf("Params = %s, want %s", env.Params, tt.wantParams)
			}
			if string(env.Result) != tt.wantResult {
				t.Errorf("Result = %s, want %s", env.Result, tt.wantResult)
			}
			if env.Message != tt.wantMessage {
				t.Errorf("Message = %q, want %q", env.Message, tt.wantMessage)
			}
		})
	}
}

// TestDecodeInvalid tests malformed envelopes
func TestDecodeInvalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
	}{
		{name: "empty", input: ``},
		{name: "not json", input: `hello`},
		{name: "object envelope", input: `{"id":1}`},
		{name: "empty array", input: `[]`},
		{name: "id only", input: `[1]`},
		{name: "numeric domain", input: `[1,2,"x"]`},
		{name: "empty domain", input: `[1,"","x"]`},
		{name: "unknown marker", input: `[1,"x",5]`},
		{name: "response without id", input: `["r",5]`},
		{name: "missing command", input: `[1,"math"]`},
		{name: "params not array", input: `[1,"math","add",{"a":1}]`},
		{name: "negative id", input: `[-3,"math","add",[]]`},
		{name: "fractional id", input: `[1.5,"math","add",[]]`},
		{name: "id overflow", input: `[4294967296,"math","add",[]]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := Decode([]byte(tt.input))
			if err == nil {
				t.Fatal("Decode() expected error, got nil")
			}
			if !errors.Is(err, kephasrpc.ErrInvalidMessage) {
				t.Errorf("Decode() error = %v, want ErrInvalidMessage", err)
			}
		})
	}
}

// TestDecodeOversize tests the maximum message size
func TestDecodeOversize(t *testing.T) {
	t.Parallel()

	data := []byte(`["blob","put",["` + strings.Repeat("a", maxMessageSize) + `"]]`)
	if _, err := Decode(data); err == nil {
		t.Error("Decode() expected size error, got nil")
	}
}

// TestDecodeParamsBounded tests that decoded params stop at the end of the array
func TestDecodeParamsBounded(t *testing.T) {
	t.Parallel()

	data := []byte(`[1,"math","add",[2,3]]`)
	env, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if !bytes.Equal(env.Params, []byte(`[2,3]`)) {
		t.Fatalf("Params = %s, want [2,3]", env.Params)
	}

	// Appending must never overwrite the bytes that follow the params.
	_ = append(env.Params, 'x')
	if string(data) != `[1,"math","add",[2,3]]` {
		t.Errorf("input modified: %s", data)
	}
}

// TestEncodeDecodeCall tests that an encoded call decodes back to its parts
func TestEncodeDecodeCall(t *testing.T) {
	t.Parallel()

	msg, err := EncodeCall(42, "editor", "open", kephasrpc.RawJSON(`{"line":3}`), "main.go", 1.25)
	if err != nil {
		t.Fatalf("EncodeCall() error = %v", err)
	}

	env, err := Decode(msg.Bytes())
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if env.Kind != KindCall || env.ID != 42 || env.Domain != "editor" || env.Command != "open" {
		t.Fatalf("Decode() = %+v", env)
	}

	params, err := kephasrpc.ParseParams(env.Params)
	if err != nil {
		t.Fatalf("ParseParams() error = %v", err)
	}
	if params.Len() != 3 {
		t.Fatalf("params.Len() = %d, want 3", params.Len())
	}
	if s, _ := params.String(0); s != "main.go" {
		t.Errorf("param 0 = %q, want main.go", s)
	}
	if f, _ := params.Float(1); f != 1.25 {
		t.Errorf("param 1 = %v, want 1.25", f)
	}
	var tail struct{ Line int }
	if err := params.Decode(2, &tail); err != nil || tail.Line != 3 {
		t.Errorf("param 2 = %+v, err %v", tail, err)
	}
}

// BenchmarkEncodeCall benchmarks call encoding
func BenchmarkEncodeCall(b *testing.B) {
	raw := kephasrpc.RawJSON(bytes.Repeat([]byte(`1,`), 512*1024))
	raw = append(raw, '1')
	raw = append(kephasrpc.RawJSON{'['}, append(raw, ']')...)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		EncodeCall(int32(i&0x7fffffff), "feed", "push", raw, "tag", i)
	}
}

// BenchmarkDecode benchmarks envelope decoding
func BenchmarkDecode(b *testing.B) {
	data := []byte(`[7,"math","add",[2,3,{"nested":[1,2,3]}]]`)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Decode(data)
	}
}
