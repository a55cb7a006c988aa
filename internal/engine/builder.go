// Package engine builds engine command lines and runs them as supervised
// subprocesses.
package engine

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/pdfbaba/pdfbaba/internal/model"
)

// Build returns the invocation for d:
//
//	<cmd...> <operation> --inputs p1 p2 ... [--output out] [--params <json>]
//
// out is ignored for read-only operations. The arguments are passed to the
// engine as-is, no shell is involved.
func Build(d model.RequestDescriptor, cmd []string, out string) (model.EngineInvocation, error) {
	var zero model.EngineInvocation
	if len(cmd) == 0 || cmd[0] == "" {
		return zero, model.NewError(model.ErrSpawnFailed, "engine command is not configured")
	}
	op := d.Operation()
	inputs := d.InputPaths()
	if len(inputs) == 0 {
		return zero, model.NewError(model.ErrNoFiles, "no inputs for %s", op)
	}
	if !op.ProducesFiles() {
		out = ""
	} else if out == "" {
		return zero, fmt.Errorf("%s: output path is required", op)
	}

	params, err := Params(d)
	if err != nil {
		return zero, err
	}

	args := make([]string, 0, len(cmd)+len(inputs)+6)
	args = append(args, cmd[1:]...)
	args = append(args, op.String(), "--inputs")
	args = append(args, inputs...)
	if out != "" {
		args = append(args, "--output", out)
	}
	if params != "" {
		args = append(args, "--params", params)
	}

	return model.EngineInvocation{
		Executable: cmd[0],
		Args:       args,
		Operation:  op,
		Inputs:     inputs,
		Output:     out,
		Params:     params,
	}, nil
}

// Params serializes the request options into the compact JSON object passed
// with --params. The raw mapping is passed through as sent, including nested
// keys the typed record does not know. Values of the typed record, such as
// defaults, only fill keys the raw mapping lacks. It returns "" when there is
// nothing to pass.
func Params(d model.RequestDescriptor) (string, error) {
	merged := d.Params()
	if opts := d.Options(); opts != nil {
		typed, err := toMap(opts)
		if err != nil {
			return "", fmt.Errorf("encoding %s options: %w", d.Operation(), err)
		}
		merged = fill(merged, typed).(map[string]any)
	}
	if len(merged) == 0 {
		return "", nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(merged); err != nil {
		return "", fmt.Errorf("encoding params: %w", err)
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// fill returns a copy of raw completed with the values of defaults it lacks.
// Objects are completed key by key and arrays of equal length element by
// element. Where both hold a value, raw wins.
func fill(raw, defaults any) any {
	switch r := raw.(type) {
	case map[string]any:
		d, _ := defaults.(map[string]any)
		out := make(map[string]any, len(r)+len(d))
		for k, v := range r {
			if dv, ok := d[k]; ok {
				v = fill(v, dv)
			}
			out[k] = v
		}
		for k, dv := range d {
			if _, ok := r[k]; !ok {
				out[k] = dv
			}
		}
		return out
	case []any:
		d, ok := defaults.([]any)
		if !ok || len(d) != len(r) {
			return r
		}
		out := make([]any, len(r))
		for i := range r {
			out[i] = fill(r[i], d[i])
		}
		return out
	}
	return raw
}

func toMap(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	return m, nil
}
