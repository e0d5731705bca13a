package launch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/stackrun/stackrun/internal/aws"
)

// ErrInvalidInput marks problems with the local inputs, found before any
// remote call.
var ErrInvalidInput = errors.New("invalid input")

// DefaultStackName returns emr-test-stack-<UTC yyyymmddHHMMSS>.
func DefaultStackName(now time.Time) string {
	return "emr-test-stack-" + now.UTC().Format("20060102150405")
}

// LoadTemplate reads the template body.
func LoadTemplate(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: reading template: %v", ErrInvalidInput, err)
	}
	return string(data), nil
}

// LoadParams reads a parameters file. See ParseParams.
func LoadParams(path string) ([]aws.Parameter, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading params: %v", ErrInvalidInput, err)
	}
	params, err := ParseParams(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidInput, path, err)
	}
	return params, nil
}

// ParseParams accepts either a JSON array of {"ParameterKey","ParameterValue"}
// objects, kept in order, or a JSON object mapping keys to values. Object
// values are stringified and the result is sorted by key.
func ParseParams(data []byte) ([]aws.Parameter, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.New("params file is empty")
	}

	switch data[0] {
	case '[':
		var params []aws.Parameter
		if err := json.Unmarshal(data, &params); err != nil {
			return nil, fmt.Errorf("parsing params list: %w", err)
		}
		for i, p := range params {
			if p.Key == "" {
				return nil, fmt.Errorf("params entry %d has no ParameterKey", i)
			}
		}
		return params, nil

	case '{':
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		var raw map[string]any
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("parsing params object: %w", err)
		}

		keys := make([]string, 0, len(raw))
		for k := range raw {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		params := make([]aws.Parameter, 0, len(keys))
		for _, k := range keys {
			v, err := stringify(raw[k])
			if err != nil {
				return nil, fmt.Errorf("param %s: %w", k, err)
			}
			params = append(params, aws.Parameter{Key: k, Value: v})
		}
		return params, nil
	}
	return nil, errors.New("unsupported params format: use a JSON list or object")
}

func stringify(v any) (string, error) {
	switch v := v.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case json.Number:
		return v.String(), nil
	case bool:
		if v {
			return "true", nil
		}
		return "false", nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}

// SecretResolver substitutes secret references in a value.
type SecretResolver interface {
	Resolve(ctx context.Context, val string) (string, error)
}

// ResolveParams returns a copy of params with secret references resolved.
func ResolveParams(ctx context.Context, r SecretResolver, params []aws.Parameter) ([]aws.Parameter, error) {
	out := make([]aws.Parameter, len(params))
	for i, p := range params {
		v, err := r.Resolve(ctx, p.Value)
		if err != nil {
			return nil, fmt.Errorf("resolving param %s: %w", p.Key, err)
		}
		out[i] = aws.Parameter{Key: p.Key, Value: v}
	}
	return out, nil
}

// CheckAppPath requires path to be an existing regular file.
func CheckAppPath(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: app path not found: %s", ErrInvalidInput, path)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: app path is not a regular file: %s", ErrInvalidInput, path)
	}
	return nil
}
