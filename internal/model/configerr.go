package model

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	cue "cuelang.org/go/cue"
	cueerrors "cuelang.org/go/cue/errors"
)

// CueErrorDetail is one configuration problem, phrased for the operator.
type CueErrorDetail struct {
	Path    string // engine.timeout
	Code    string // unknown_field | missing_required | empty_value | invalid_format | out_of_range | invalid_enum | type_mismatch | validation_error
	Message string
	Pos     CueErrorPosition
	Raw     string // message as reported by cue
}

func (c CueErrorDetail) Attr(name string) slog.Attr {
	return slog.GroupAttrs(
		name,
		slog.String("code", c.Code),
		slog.String("path", c.Path),
		slog.String("message", c.Message),
		slog.String("file", c.Pos.Filename),
		slog.Int("line", c.Pos.Line),
		slog.Int("column", c.Pos.Column),
	)
}

type CueErrorPosition struct {
	Filename string
	Line     int
	Column   int
}

const durationHint = "use a duration such as 90s, 15m, 1h30m or 2d"

// fieldHints completes the message for fields whose constraint is not
// obvious from the raw cue error.
var fieldHints = map[string]string{
	"engine.command":         "a list whose first element is the engine executable",
	"engine.timeout":         durationHint,
	"engine.max_output":      "must be at least 1024 bytes",
	"engine.env":             "entries look like NAME=value",
	"retention.window":       durationHint,
	"retention.sweep":        "a cron expression or @every <duration>",
	"registry.redis.addr":    "host:port of the redis server",
	"registry.redis.db":      "must be 0 or greater",
	"server.request_timeout": durationHint,
	"server.max_upload":      "must be a positive number of bytes",
	"workspace.dir":          "must not be empty",
	"service.log":            "stderr, stdout, discard or a file path",
	"registry.path":          "must not be empty",
	"server.listen":          "an address such as :4000",
}

// enumFields are string disjunctions in the schema, their allowed values are
// listed in the message.
var enumFields = []string{"registry.backend"}

type rule struct {
	re      *regexp.Regexp
	code    string
	message string // format with the field name
}

// rules are tried in order, the first match classifies the error.
var rules = []rule{
	{regexp.MustCompile(`(?i)not allowed|unknown field`), "unknown_field", "Field %s is not allowed"},
	{regexp.MustCompile(`(?i)incomplete value|missing|required`), "missing_required", "Field %s is required"},
	{regexp.MustCompile(`out of bound !=`), "empty_value", "Field %s must not be empty"},
	{regexp.MustCompile(`out of bound =~`), "invalid_format", "Field %s has an invalid format"},
	{regexp.MustCompile(`out of bound [<>]`), "out_of_range", "Field %s is out of range"},
	{regexp.MustCompile(`(?i)mismatched types|expected .* got`), "type_mismatch", "Field %s has the wrong type"},
	{regexp.MustCompile(`(?i)conflicting values|empty disjunction|must be one of`), "invalid_enum", "Field %s has an invalid value"},
}

// CueErrDetails turns a LoadConfig validation error into one detail per
// offending field.
func CueErrDetails(err error) []CueErrorDetail {
	if err == nil {
		return nil
	}

	reported := make(map[string]struct{})
	var out []CueErrorDetail
	for _, e := range cueerrors.Errors(err) {
		raw, args := e.Msg()
		raw = fmt.Sprintf(raw, args...)
		path := fieldPath(e.Path())
		pos := position(e)
		if path == "" && pos.Filename == "" {
			continue
		}
		if _, ok := reported[path]; ok {
			continue
		}
		reported[path] = struct{}{}

		code, msg := classify(raw, path)
		out = append(out, CueErrorDetail{
			Path:    path,
			Code:    code,
			Message: msg + hint(path),
			Pos:     pos,
			Raw:     raw,
		})
	}
	return out
}

func classify(raw, path string) (code, msg string) {
	name := path
	if i := strings.LastIndexByte(path, '.'); i >= 0 {
		name = path[i+1:]
	}
	for _, r := range rules {
		if r.re.MatchString(raw) {
			return r.code, fmt.Sprintf(r.message, name)
		}
	}
	return "validation_error", raw
}

func hint(path string) string {
	for _, f := range enumFields {
		if f != path {
			continue
		}
		values, dflt := allowed(schema.LookupPath(cue.ParsePath(path)))
		if len(values) == 0 {
			return ""
		}
		s := ": one of " + strings.Join(values, ", ")
		if dflt != "" {
			s += " (default " + dflt + ")"
		}
		return s
	}
	// list elements report paths such as engine.env.0
	for p := path; p != ""; p = parent(p) {
		if h := fieldHints[p]; h != "" {
			return ": " + h
		}
	}
	return ""
}

func parent(p string) string {
	i := strings.LastIndexByte(p, '.')
	if i < 0 {
		return ""
	}
	return p[:i]
}

// allowed lists the string alternatives of a disjunction and its default.
func allowed(v cue.Value) (values []string, dflt string) {
	if d, ok := v.Default(); ok {
		dflt, _ = d.String()
	}
	op, args := v.Expr()
	if op != cue.OrOp {
		args = []cue.Value{v}
	}
	for _, a := range args {
		s, err := a.String()
		if err != nil {
			continue
		}
		values = append(values, s)
	}
	return values, dflt
}

func position(err cueerrors.Error) CueErrorPosition {
	for _, r := range cueerrors.Positions(err) {
		if r.Filename() == "" {
			continue
		}
		return CueErrorPosition{
			Filename: r.Filename(),
			Line:     r.Line(),
			Column:   r.Column(),
		}
	}
	return CueErrorPosition{}
}

// fieldPath joins the selectors of p without the leading #Config.
func fieldPath(p []string) string {
	if len(p) > 0 && strings.HasPrefix(p[0], "#") {
		p = p[1:]
	}
	return strings.Join(p, ".")
}
