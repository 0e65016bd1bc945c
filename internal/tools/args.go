package tools

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cast"
)

var ErrInvalidArguments = errors.New("tool arguments are not an object")

// decodeArgs flattens tool arguments into trimmed strings. It accepts an
// object, a JSON string holding an object, or nothing at all.
func decodeArgs(raw json.RawMessage) (map[string]string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return map[string]string{}, nil
	}
	if raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return nil, ErrInvalidArguments
		}
		inner = strings.TrimSpace(inner)
		if inner == "" {
			return map[string]string{}, nil
		}
		raw = json.RawMessage(inner)
	}

	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, ErrInvalidArguments
	}
	out := make(map[string]string, len(obj))
	for k, v := range obj {
		s, err := scalar(v)
		if err != nil {
			return nil, fmt.Errorf("argument %s: %w", k, err)
		}
		out[strings.TrimSpace(k)] = s
	}
	return out, nil
}

func scalar(v any) (string, error) {
	switch v.(type) {
	case nil:
		return "", nil
	case map[string]any, []any:
		b, err := json.Marshal(v)
		return string(b), err
	}
	s, err := cast.ToStringE(v)
	return strings.TrimSpace(s), err
}

// bind copies the flattened arguments into a typed struct by json tag.
func bind(args map[string]string, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(args)
}
