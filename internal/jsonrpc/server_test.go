package jsonrpc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/luciancaetano/kephasrpc"
	"github.com/luciancaetano/kephasrpc/internal/pending"
	"github.com/luciancaetano/kephasrpc/internal/protocol"
	"github.com/luciancaetano/kephasrpc/internal/registry"
)

func mathDomain() any {
	return kephasrpc.Commands{
		"add": func(ctx context.Context, client kephasrpc.Client, params kephasrpc.Params) (any, error) {
			a, err := params.Int(0)
			if err != nil {
				return nil, err
			}
			b, err := params.Int(1)
			if err != nil {
				return nil, err
			}
			return a + b, nil
		},
		"div": func(ctx context.Context, client kephasrpc.Client, params kephasrpc.Params) (any, error) {
			a, _ := params.Float(0)
			b, _ := params.Float(1)
			if b == 0 {
				return nil, errors.New("division by zero")
			}
			return a / b, nil
		},
		"boom": func(ctx context.Context, client kephasrpc.Client, params kephasrpc.Params) (any, error) {
			panic("boom")
		},
	}
}

// newTestServer returns a synchronous server with the math domain and one
// connected client.
func newTestServer(t *testing.T) (*Server, *Client, *fakeTransport, *recordingHandler) {
	t.Helper()

	handler := &recordingHandler{}
	s := NewServer(ServerConfig{
		ExceptionHandler: handler,
		Manager:          noHeartbeat(nil),
		SyncHandlers:     true,
	})
	t.Cleanup(func() { s.Dispose(context.Background()) })
	if err := s.RegisterDomain("math", mathDomain, false); err != nil {
		t.Fatalf("RegisterDomain() error = %v", err)
	}

	transport := newFakeTransport()
	client, err := s.Connect(transport)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	return s, client, transport, handler
}

// TestServerDispatch tests the responses written for inbound calls
func TestServerDispatch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "result", in: `[7,"math","add",[2,3]]`, want: `[7,"r",5]`},
		{name: "float result", in: `[8,"math","div",[1,4]]`, want: `[8,"r",0.25]`},
		{name: "handler error", in: `[9,"math","div",[1,0]]`, want: `[9,"e","division by zero"]`},
		{name: "bad params", in: `[10,"math","add",["two",3]]`, want: `[10,"e","invalid params: param 0 is String, want number"]`},
		{name: "unknown method", in: `[11,"math","pow",[2,3]]`, want: `[11,"e","method not found"]`},
		{name: "panic", in: `[12,"math","boom",[]]`, want: `[12,"e","handler panicked: boom"]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s, client, transport, _ := newTestServer(t)
			s.MessageReceived(client, []byte(tt.in))

			msgs := transport.waitWrites(t, 1)
			if got := string(msgs[0].Bytes()); got != tt.want {
				t.Errorf("response = %s, want %s", got, tt.want)
			}
		})
	}
}

// TestServerUnknownDomain tests that an unknown domain gets no response
func TestServerUnknownDomain(t *testing.T) {
	t.Parallel()

	s, client, transport, handler := newTestServer(t)
	s.MessageReceived(client, []byte(`[4,"ghost","walk",[]]`))

	if msgs := transport.messages(); len(msgs) != 0 {
		t.Errorf("wrote %d messages for unknown domain", len(msgs))
	}
	errs := handler.errors()
	if len(errs) != 1 {
		t.Fatalf("handler got %d errors, want 1", len(errs))
	}
	if !strings.Contains(errs[0].Error(), "domain not found") || !errors.Is(errs[0], kephasrpc.ErrDomainNotFound) {
		t.Errorf("handler error = %v", errs[0])
	}
}

// TestServerInvalidMessage tests that undecodable input only reaches the
// exception handler
func TestServerInvalidMessage(t *testing.T) {
	t.Parallel()

	s, client, transport, handler := newTestServer(t)
	for _, in := range []string{`{"id":1}`, `[1,"math"]`, `not json`} {
		s.MessageReceived(client, []byte(in))
	}

	if msgs := transport.messages(); len(msgs) != 0 {
		t.Errorf("wrote %d messages for invalid input", len(msgs))
	}
	errs := handler.errors()
	if len(errs) != 3 {
		t.Fatalf("handler got %d errors, want 3", len(errs))
	}
	for _, err := range errs {
		if !errors.Is(err, kephasrpc.ErrInvalidMessage) {
			t.Errorf("handler error = %v, want ErrInvalidMessage", err)
		}
	}
}

// TestServerNotification tests calls without an id
func TestServerNotification(t *testing.T) {
	t.Parallel()

	s, client, transport, handler := newTestServer(t)
	s.MessageReceived(client, []byte(`["math","add",[2,3]]`))
	s.MessageReceived(client, []byte(`["math","div",[1,0]]`))

	if msgs := transport.messages(); len(msgs) != 0 {
		t.Errorf("wrote %d messages for notifications", len(msgs))
	}
	errs := handler.errors()
	if len(errs) != 1 {
		t.Fatalf("handler got %d errors, want 1", len(errs))
	}
	var herr *kephasrpc.HandlerError
	if !errors.As(errs[0], &herr) || herr.Command != "div" {
		t.Errorf("handler error = %v, want math.div failure", errs[0])
	}
}

// TestServerInvocator tests that an invocator gets the raw parameter array
func TestServerInvocator(t *testing.T) {
	t.Parallel()

	s, client, transport, _ := newTestServer(t)

	var gotRaw string
	var gotID int32
	err := s.RegisterDomain("store", func() any {
		return kephasrpc.InvocatorFunc(func(ctx context.Context, c kephasrpc.Client, id int32, command string, raw []byte) error {
			gotRaw, gotID = string(raw), id
			return c.Respond(id, kephasrpc.RawJSON(raw))
		})
	}, false)
	if err != nil {
		t.Fatalf("RegisterDomain() error = %v", err)
	}

	s.MessageReceived(client, []byte(`[3,"store","put",[{"k":"a","v":[1,2]}, true]]`))

	if gotID != 3 || gotRaw != `[{"k":"a","v":[1,2]}, true]` {
		t.Errorf("invocator got id %d, params %s", gotID, gotRaw)
	}
	msgs := transport.waitWrites(t, 1)
	if got, want := string(msgs[0].Bytes()), `[3,"r",[{"k":"a","v":[1,2]}, true]]`; got != want {
		t.Errorf("response = %s, want %s", got, want)
	}
}

// TestServerResponses tests that inbound responses complete outbound calls
func TestServerResponses(t *testing.T) {
	t.Parallel()

	s, client, transport, handler := newTestServer(t)

	answered := s.Call(client, "ui", "confirm", "quit?")
	failed := s.Call(client, "ui", "prompt")
	msgs := transport.waitWrites(t, 2)

	ids := make([]int32, 2)
	for i, msg := range msgs {
		env, err := protocol.Decode(msg.Bytes())
		if err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		ids[i] = env.ID
	}

	s.MessageReceived(client, fmt.Appendf(nil, `[%d,"r",{"ok":true}]`, ids[0]))
	s.MessageReceived(client, fmt.Appendf(nil, `[%d,"e","cancelled"]`, ids[1]))
	s.MessageReceived(client, fmt.Appendf(nil, `[%d,"r",false]`, ids[0]))

	value, err := awaitResult(t, answered)
	if err != nil || string(value) != `{"ok":true}` {
		t.Errorf("answered = %s, %v", value, err)
	}
	_, err = awaitResult(t, failed)
	var rerr *kephasrpc.RemoteError
	if !errors.As(err, &rerr) || rerr.Message != "cancelled" {
		t.Errorf("failed err = %v, want remote error", err)
	}

	errs := handler.errors()
	if len(errs) != 1 || !errors.Is(errs[0], pending.ErrUnknownCall) {
		t.Errorf("handler errors = %v, want one unknown call", errs)
	}
}

// TestServerClosedClient tests that messages of a disconnected client are
// dropped
func TestServerClosedClient(t *testing.T) {
	t.Parallel()

	s, client, transport, handler := newTestServer(t)
	s.Disconnect(context.Background(), client, true)
	s.MessageReceived(client, []byte(`[1,"math","add",[1,1]]`))

	if len(transport.messages()) != 0 || len(handler.errors()) != 0 {
		t.Error("message of closed client was processed")
	}
}

// TestServerBroadcast tests fire-and-forget broadcasts
func TestServerBroadcast(t *testing.T) {
	t.Parallel()

	s, _, first, _ := newTestServer(t)
	second := newFakeTransport()
	if _, err := s.Connect(second); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if err := s.BroadcastRaw("chat", "message", kephasrpc.RawJSON(`{"text":"hi"}`), "bob"); err != nil {
		t.Fatalf("BroadcastRaw() error = %v", err)
	}
	if err := s.Broadcast("chat", "typing"); err != nil {
		t.Fatalf("Broadcast() error = %v", err)
	}
	if err := s.Broadcast("chat", "bad", func() {}); err == nil {
		t.Error("Broadcast() with unencodable param expected error")
	}

	want := []string{`["chat","message",["bob",{"text":"hi"}]]`, `["chat","typing",[]]`}
	for _, tr := range []*fakeTransport{first, second} {
		msgs := tr.waitWrites(t, 2)
		for i, msg := range msgs {
			if got := string(msg.Bytes()); got != want[i] {
				t.Errorf("message %d = %s, want %s", i, got, want[i])
			}
		}
	}
}

// TestServerBroadcastCall tests that every client answers its own copy of a
// broadcast call
func TestServerBroadcastCall(t *testing.T) {
	t.Parallel()

	s, _, _, _ := newTestServer(t)
	if _, err := s.Connect(newFakeTransport()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	promises, err := s.BroadcastCall("ui", "version")
	if err != nil {
		t.Fatalf("BroadcastCall() error = %v", err)
	}
	if len(promises) != 2 {
		t.Fatalf("got %d promises, want 2", len(promises))
	}

	n := 0
	s.ForEachClient(func(c kephasrpc.Client) bool {
		client := c.(*Client)
		env, err := protocol.Decode(client.Transport().(*fakeTransport).waitWrites(t, 1)[0].Bytes())
		if err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		n++
		s.MessageReceived(client, fmt.Appendf(nil, `[%d,"r",%d]`, env.ID, n))
		return true
	})

	seen := map[string]bool{}
	for _, p := range promises {
		value, err := awaitResult(t, p)
		if err != nil {
			t.Fatalf("promise err = %v", err)
		}
		seen[string(value)] = true
	}
	if !seen["1"] || !seen["2"] {
		t.Errorf("results = %v, want 1 and 2", seen)
	}
}

// TestServerAsyncDispatch tests the goroutine-per-call dispatch
func TestServerAsyncDispatch(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	reg.MustRegister("math", mathDomain, false)
	s := NewServer(ServerConfig{Registry: reg, Manager: noHeartbeat(nil)})

	transports := make([]*fakeTransport, 8)
	var wg sync.WaitGroup
	for i := range transports {
		transports[i] = newFakeTransport()
		client, err := s.Connect(transports[i])
		if err != nil {
			t.Fatalf("Connect() error = %v", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.MessageReceived(client, fmt.Appendf(nil, `[%d,"math","add",[%d,1]]`, i, i))
		}()
	}
	wg.Wait()

	for i, tr := range transports {
		msgs := tr.waitWrites(t, 1)
		if got, want := string(msgs[0].Bytes()), fmt.Sprintf(`[%d,"r",%d]`, i, i+1); got != want {
			t.Errorf("client %d response = %s, want %s", i, got, want)
		}
	}

	s.Dispose(context.Background())
	if s.ClientCount() != 0 {
		t.Errorf("count = %d after Dispose", s.ClientCount())
	}
}
