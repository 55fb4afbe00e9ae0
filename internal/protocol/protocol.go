package protocol

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/tidwall/gjson"

	"github.com/luciancaetano/kephasrpc"
)

const (
	maxMessageSize = 10 * 1024 * 1024 // 10MB max message size
)

// MaxMessageSize is the largest inbound frame Decode accepts.
const MaxMessageSize = maxMessageSize

// Kind tells which branch of the envelope a decoded message took.
type Kind int

const (
	KindCall Kind = iota
	KindResponse
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindCall:
		return "call"
	case KindResponse:
		return "response"
	case KindError:
		return "error"
	}
	return "unknown"
}

// Envelope is one decoded message. Params and Result reference the decoded
// input when possible - do not modify them.
type Envelope struct {
	Kind Kind
	// ID is kephasrpc.NoID for fire-and-forget calls.
	ID      int32
	Domain  string
	Command string
	// Params is the raw parameter array of a call, nil when absent.
	Params []byte
	// Result is the raw result of a response.
	Result []byte
	// Message is the text of an error envelope.
	Message string
}

var (
	closeCall  = []byte("]]")
	closeReply = []byte("]")
	nullValue  = []byte("null")
)

// EncodeCall encodes [id, domain, command, [params..., rawTail]].
//
// The id is omitted when it is kephasrpc.NoID. A non-empty rawTail is
// appended as the last parameter in its own segment, without copying.
func EncodeCall(id int32, domain, command string, rawTail kephasrpc.RawJSON, params ...any) (kephasrpc.Message, error) {
	buf := make([]byte, 0, 64)
	buf = append(buf, '[')
	if id != kephasrpc.NoID {
		if id < 0 {
			return nil, fmt.Errorf("%w: negative message id %d", kephasrpc.ErrInvalidMessage, id)
		}
		buf = strconv.AppendInt(buf, int64(id), 10)
		buf = append(buf, ',')
	}

	var err error
	if buf, err = appendString(buf, domain); err != nil {
		return nil, err
	}
	buf = append(buf, ',')
	if buf, err = appendString(buf, command); err != nil {
		return nil, err
	}
	buf = append(buf, ",["...)

	for i, p := range params {
		if i > 0 {
			buf = append(buf, ',')
		}
		if buf, err = AppendValue(buf, p); err != nil {
			return nil, fmt.Errorf("encode param %d: %w", i, err)
		}
	}

	if len(rawTail) == 0 {
		buf = append(buf, closeCall...)
		return kephasrpc.Message{buf}, nil
	}
	if len(params) > 0 {
		buf = append(buf, ',')
	}
	return kephasrpc.Message{buf, rawTail, closeCall}, nil
}

// EncodeResponse encodes [id, "r", result]. A RawJSON result is kept as its
// own segment.
func EncodeResponse(id int32, result any) (kephasrpc.Message, error) {
	if id < 0 {
		return nil, fmt.Errorf("%w: response needs a message id", kephasrpc.ErrInvalidMessage)
	}
	buf := make([]byte, 0, 32)
	buf = append(buf, '[')
	buf = strconv.AppendInt(buf, int64(id), 10)
	buf = append(buf, `,"r",`...)

	if raw, ok := asRaw(result); ok {
		if len(raw) == 0 {
			raw = nullValue
		}
		return kephasrpc.Message{buf, raw, closeReply}, nil
	}

	var err error
	if buf, err = AppendValue(buf, result); err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	buf = append(buf, closeReply...)
	return kephasrpc.Message{buf}, nil
}

// EncodeError encodes [id, "e", message].
func EncodeError(id int32, message string) (kephasrpc.Message, error) {
	if id < 0 {
		return nil, fmt.Errorf("%w: error needs a message id", kephasrpc.ErrInvalidMessage)
	}
	buf := make([]byte, 0, 32+len(message))
	buf = append(buf, '[')
	buf = strconv.AppendInt(buf, int64(id), 10)
	buf = append(buf, `,"e",`...)
	var err error
	if buf, err = appendString(buf, message); err != nil {
		return nil, err
	}
	buf = append(buf, closeReply...)
	return kephasrpc.Message{buf}, nil
}

// AppendValue appends the JSON encoding of v to buf.
//
// Strings, booleans, integers and floats are written directly; float32 keeps
// 32-bit precision and integral floats keep a ".0" so they stay distinct
// from integers. RawJSON and json.RawMessage are copied verbatim. Any other
// value goes through encoding/json.
func AppendValue(buf []byte, v any) ([]byte, error) {
	switch v := v.(type) {
	case nil:
		return append(buf, nullValue...), nil
	case string:
		return appendString(buf, v)
	case bool:
		return strconv.AppendBool(buf, v), nil
	case int:
		return strconv.AppendInt(buf, int64(v), 10), nil
	case int8:
		return strconv.AppendInt(buf, int64(v), 10), nil
	case int16:
		return strconv.AppendInt(buf, int64(v), 10), nil
	case int32:
		return strconv.AppendInt(buf, int64(v), 10), nil
	case int64:
		return strconv.AppendInt(buf, v, 10), nil
	case uint:
		return strconv.AppendUint(buf, uint64(v), 10), nil
	case uint8:
		return strconv.AppendUint(buf, uint64(v), 10), nil
	case uint16:
		return strconv.AppendUint(buf, uint64(v), 10), nil
	case uint32:
		return strconv.AppendUint(buf, uint64(v), 10), nil
	case uint64:
		return strconv.AppendUint(buf, v, 10), nil
	case float32:
		return appendFloat(buf, float64(v), 32)
	case float64:
		return appendFloat(buf, v, 64)
	case kephasrpc.RawJSON:
		if len(v) == 0 {
			return append(buf, nullValue...), nil
		}
		return append(buf, v...), nil
	case json.RawMessage:
		if len(v) == 0 {
			return append(buf, nullValue...), nil
		}
		return append(buf, v...), nil
	}

	b, err := json.Marshal(v)
	if err != nil {
		return buf, err
	}
	return append(buf, b...), nil
}

func asRaw(v any) ([]byte, bool) {
	switch v := v.(type) {
	case kephasrpc.RawJSON:
		return v, true
	case json.RawMessage:
		return v, true
	}
	return nil, false
}

func appendString(buf []byte, s string) ([]byte, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return buf, err
	}
	return append(buf, b...), nil
}

func appendFloat(buf []byte, f float64, bits int) ([]byte, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return buf, fmt.Errorf("unsupported float value %v", f)
	}
	abs := math.Abs(f)
	format := byte('f')
	if abs != 0 && (abs < 1e-6 || abs >= 1e21) {
		format = 'e'
	}
	start := len(buf)
	buf = strconv.AppendFloat(buf, f, format, -1, bits)
	if format == 'f' {
		integral := true
		for _, c := range buf[start:] {
			if c == '.' {
				integral = false
				break
			}
		}
		if integral {
			buf = append(buf, ".0"...)
		}
	}
	return buf, nil
}

// Decode decodes one envelope.
//
// The array is read element by element: an optional leading number is the
// id, the next string is the domain. A one-character domain is a response
// marker; anything longer is followed by the command and the parameter array.
func Decode(data []byte) (*Envelope, error) {
	if len(data) > maxMessageSize {
		return nil, fmt.Errorf("%w: message size %d exceeds maximum %d bytes", kephasrpc.ErrInvalidMessage, len(data), maxMessageSize)
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: malformed JSON", kephasrpc.ErrInvalidMessage)
	}
	root := gjson.ParseBytes(data)
	if !root.IsArray() {
		return nil, fmt.Errorf("%w: envelope must be an array", kephasrpc.ErrInvalidMessage)
	}
	items := root.Array()

	env := &Envelope{ID: kephasrpc.NoID}
	i := 0
	if len(items) > 0 && items[0].Type == gjson.Number {
		id := items[0].Num
		if id < 0 || id > math.MaxInt32 || id != math.Trunc(id) {
			return nil, fmt.Errorf("%w: invalid message id %s", kephasrpc.ErrInvalidMessage, items[0].Raw)
		}
		env.ID = int32(id)
		i++
	}

	if i >= len(items) || items[i].Type != gjson.String || items[i].Str == "" {
		return nil, fmt.Errorf("%w: missing domain", kephasrpc.ErrInvalidMessage)
	}
	domain := items[i].Str
	i++

	if len(domain) == 1 {
		switch domain {
		case kephasrpc.MarkerResponse:
			env.Kind = KindResponse
		case kephasrpc.MarkerError:
			env.Kind = KindError
		default:
			return nil, fmt.Errorf("%w: unknown response marker %q", kephasrpc.ErrInvalidMessage, domain)
		}
		if env.ID == kephasrpc.NoID {
			return nil, fmt.Errorf("%w: %s without message id", kephasrpc.ErrInvalidMessage, env.Kind)
		}
		if i >= len(items) {
			env.Result = nullValue
			return env, nil
		}
		if env.Kind == KindError {
			if items[i].Type == gjson.String {
				env.Message = items[i].Str
			} else {
				env.Message = items[i].Raw
			}
			return env, nil
		}
		env.Result = rawBytes(data, items[i])
		return env, nil
	}

	env.Kind = KindCall
	env.Domain = domain
	if i >= len(items) || items[i].Type != gjson.String {
		return nil, fmt.Errorf("%w: missing command for domain %q", kephasrpc.ErrInvalidMessage, domain)
	}
	env.Command = items[i].Str
	i++

	if i < len(items) {
		if !items[i].IsArray() {
			return nil, fmt.Errorf("%w: params of %s.%s must be an array", kephasrpc.ErrInvalidMessage, domain, env.Command)
		}
		env.Params = rawBytes(data, items[i])
	}
	return env, nil
}

// rawBytes returns the bytes of r inside data without copying when gjson
// reports the offset.
func rawBytes(data []byte, r gjson.Result) []byte {
	end := r.Index + len(r.Raw)
	if r.Index > 0 && end <= len(data) && string(data[r.Index:end]) == r.Raw {
		return data[r.Index:end:end]
	}
	return []byte(r.Raw)
}
