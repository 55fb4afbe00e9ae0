package kephasrpc

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// Params gives typed access to the parameter array of an inbound call.
// Values are decoded only when read.
type Params struct {
	values []gjson.Result
}

// ParseParams wraps a raw JSON parameter array. An empty input yields empty
// Params; anything other than an array is rejected.
func ParseParams(raw []byte) (Params, error) {
	if len(raw) == 0 {
		return Params{}, nil
	}
	if !gjson.ValidBytes(raw) {
		return Params{}, fmt.Errorf("%w: malformed array", ErrInvalidParams)
	}
	res := gjson.ParseBytes(raw)
	if !res.IsArray() {
		return Params{}, fmt.Errorf("%w: expected array, got %s", ErrInvalidParams, res.Type)
	}
	return Params{values: res.Array()}, nil
}

// Len returns the number of parameters.
func (p Params) Len() int {
	return len(p.values)
}

func (p Params) at(i int) (gjson.Result, error) {
	if i < 0 || i >= len(p.values) {
		return gjson.Result{}, fmt.Errorf("%w: index %d out of range (%d params)", ErrInvalidParams, i, len(p.values))
	}
	return p.values[i], nil
}

// Raw returns parameter i as undecoded JSON.
func (p Params) Raw(i int) (RawJSON, error) {
	v, err := p.at(i)
	if err != nil {
		return nil, err
	}
	return RawJSON(v.Raw), nil
}

// String returns parameter i, which must be a JSON string.
func (p Params) String(i int) (string, error) {
	v, err := p.at(i)
	if err != nil {
		return "", err
	}
	if v.Type != gjson.String {
		return "", fmt.Errorf("%w: param %d is %s, want string", ErrInvalidParams, i, v.Type)
	}
	return v.Str, nil
}

// Int returns parameter i, which must be a JSON number. Fractions are truncated.
func (p Params) Int(i int) (int64, error) {
	v, err := p.at(i)
	if err != nil {
		return 0, err
	}
	if v.Type != gjson.Number {
		return 0, fmt.Errorf("%w: param %d is %s, want number", ErrInvalidParams, i, v.Type)
	}
	return v.Int(), nil
}

// Float returns parameter i, which must be a JSON number.
func (p Params) Float(i int) (float64, error) {
	v, err := p.at(i)
	if err != nil {
		return 0, err
	}
	if v.Type != gjson.Number {
		return 0, fmt.Errorf("%w: param %d is %s, want number", ErrInvalidParams, i, v.Type)
	}
	return v.Num, nil
}

// Bool returns parameter i, which must be a JSON boolean.
func (p Params) Bool(i int) (bool, error) {
	v, err := p.at(i)
	if err != nil {
		return false, err
	}
	if v.Type != gjson.True && v.Type != gjson.False {
		return false, fmt.Errorf("%w: param %d is %s, want boolean", ErrInvalidParams, i, v.Type)
	}
	return v.Bool(), nil
}

// Decode unmarshals parameter i into dst.
func (p Params) Decode(i int, dst any) error {
	v, err := p.at(i)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(v.Raw), dst); err != nil {
		return fmt.Errorf("%w: param %d: %v", ErrInvalidParams, i, err)
	}
	return nil
}
