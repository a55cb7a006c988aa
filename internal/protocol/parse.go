// Package protocol recovers the structured engine result from the possibly
// noisy standard output of one engine run.
package protocol

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"unicode"

	"github.com/pdfbaba/pdfbaba/internal/model"
)

const (
	defaultFailure = "engine reported a failure"
	// raw stdout kept in error details
	maxDetail = 64 << 10
)

// keys with a protocol meaning, everything else at top level is a statistic
var reserved = []string{"status", "success", "tool", "output", "files", "message", "error", "stats"}

// Parse extracts the EngineResult of inv from stdout. A result reporting
// anything but success yields ReportedFailure, a listed file that does not
// exist yields ResultFileMissing.
func Parse(stdout []byte, inv model.EngineInvocation) (model.EngineResult, error) {
	var zero model.EngineResult

	obj, ok := extract(stdout, inv.Operation)
	if !ok {
		return zero, model.NewError(model.ErrUnparsableOutput, "no result object in engine output").
			WithDetail(truncate(stdout))
	}

	status, _ := statusOf(obj)
	res := model.EngineResult{
		Status: status,
		Stats:  stats(obj),
	}
	res.Tool, _ = obj["tool"].(string)
	res.Message = message(obj)

	if status != model.StatusSuccess {
		msg := res.Message
		if msg == "" {
			msg = defaultFailure
		}
		return res, model.NewError(model.ErrReportedFailure, "%s", msg)
	}

	if !inv.Operation.ProducesFiles() {
		return res, nil
	}
	files, err := producedFiles(obj, inv.Output)
	if err != nil {
		return res, err
	}
	res.Files = files
	return res, nil
}

func extract(stdout []byte, op model.Operation) (map[string]any, bool) {
	for _, s := range Strategies {
		if obj, ok := s.Extract(stdout, op); ok {
			return obj, true
		}
	}
	return nil, false
}

func message(obj map[string]any) string {
	for _, key := range []string{"message", "error"} {
		if s, ok := obj[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func stats(obj map[string]any) map[string]any {
	out := map[string]any{}
	for k, v := range obj {
		if slices.Contains(reserved, k) {
			continue
		}
		out[CamelCase(k)] = normalizeValue(v)
	}
	if nested, ok := obj["stats"].(map[string]any); ok {
		for k, v := range nested {
			out[CamelCase(k)] = normalizeValue(v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// producedFiles resolves the file list: "files", else "output", else the
// output path the engine was given when something exists there. A directory
// stands for the regular files it holds, in name order.
func producedFiles(obj map[string]any, output string) ([]string, error) {
	var candidates []string
	switch {
	case obj["files"] != nil:
		list, ok := obj["files"].([]any)
		if !ok {
			return nil, model.NewError(model.ErrUnparsableOutput, "files is %T, not a list", obj["files"])
		}
		for i, item := range list {
			p, ok := item.(string)
			if !ok || p == "" {
				return nil, model.NewError(model.ErrUnparsableOutput, "files[%d] is not a path", i)
			}
			candidates = append(candidates, p)
		}
	case obj["output"] != nil:
		p, ok := obj["output"].(string)
		if !ok || p == "" {
			return nil, model.NewError(model.ErrUnparsableOutput, "output is not a path")
		}
		candidates = []string{p}
	case output != "":
		if _, err := os.Stat(output); err == nil {
			candidates = []string{output}
		}
	}

	var files []string
	for _, p := range candidates {
		info, err := os.Stat(p)
		if err != nil {
			return nil, model.NewError(model.ErrResultFileMissing, "engine reported %s", p).Wrap(err)
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, model.NewError(model.ErrResultFileMissing, "reading %s", p).Wrap(err)
		}
		for _, e := range entries {
			if e.Type().IsRegular() {
				files = append(files, filepath.Join(p, e.Name()))
			}
		}
	}
	return files, nil
}

// CamelCase converts snake_case keys to lowerCamelCase, other keys are
// returned unchanged.
func CamelCase(key string) string {
	if !strings.Contains(key, "_") {
		return key
	}
	var b strings.Builder
	upper := false
	for i, r := range key {
		switch {
		case r == '_':
			upper = b.Len() > 0
		case upper:
			b.WriteRune(unicode.ToUpper(r))
			upper = false
		case i == 0:
			b.WriteRune(unicode.ToLower(r))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// normalizeValue turns json.Number into int64 or float64.
func normalizeValue(v any) any {
	switch v := v.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i
		}
		if f, err := v.Float64(); err == nil {
			return f
		}
		return v.String()
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = normalizeValue(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = normalizeValue(item)
		}
		return out
	}
	return v
}

func truncate(b []byte) string {
	if len(b) <= maxDetail {
		return string(b)
	}
	return fmt.Sprintf("%s... (%d bytes total)", b[:maxDetail], len(b))
}
