// Package enginetest turns a test binary into a stand-in for the external
// engine. A package's TestMain calls Main first; when the binary is started
// with PDFBABA_STUB_ENGINE=1 it behaves like the engine and exits.
//
//	func TestMain(m *testing.M) {
//		enginetest.Main()
//		goleak.VerifyTestMain(m)
//	}
package enginetest

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	EnvEngine  = "PDFBABA_STUB_ENGINE"
	EnvMode    = "PDFBABA_STUB_MODE"
	EnvPages   = "PDFBABA_STUB_PAGES"
	EnvCounter = "PDFBABA_STUB_COUNTER" // file receiving one line per run
)

// Modes understood by the stub.
const (
	ModeNormal        = "normal"
	ModeEcho          = "echo"           // stats.params is the raw --params value
	ModeNoisy         = "noisy"          // diagnostics around the result line
	ModeFail          = "fail"           // "corrupt PDF" on stderr, exit 1
	ModeNotJSON       = "notjson"        // prints "not json", exit 0
	ModeReportFailure = "report-failure" // status failure, exit 0
	ModeSleep         = "sleep"          // never finishes on its own
	ModeMissing       = "missing"        // reports a file it never wrote
	ModeEmpty         = "empty"          // success without any file
	ModeLegacy        = "legacy"         // success: true instead of status
)

// Command is the argv prefix that starts the current binary as the engine.
func Command() []string {
	exe, err := os.Executable()
	if err != nil {
		exe = os.Args[0]
	}
	return []string{exe}
}

// Env is the environment selecting the stub engine in the given mode.
func Env(mode string, extra ...string) []string {
	return append([]string{EnvEngine + "=1", EnvMode + "=" + mode}, extra...)
}

// Main runs the stub engine and exits when the process was started as one,
// otherwise it returns immediately.
func Main() {
	if os.Getenv(EnvEngine) != "1" {
		return
	}
	if counter := os.Getenv(EnvCounter); counter != "" {
		if f, err := os.OpenFile(counter, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
			_, _ = fmt.Fprintln(f, strings.Join(os.Args[1:], " "))
			_ = f.Close()
		}
	}
	os.Exit(run(os.Args[1:], os.Getenv(EnvMode), os.Stdout, os.Stderr))
}

type invocation struct {
	tool   string
	inputs []string
	output string
	params string
}

func parseArgs(args []string) (invocation, error) {
	var inv invocation
	if len(args) == 0 {
		return inv, fmt.Errorf("missing tool")
	}
	inv.tool = args[0]
	for i := 1; i < len(args); i++ {
		switch args[i] {
		case "--inputs":
			for i+1 < len(args) && !strings.HasPrefix(args[i+1], "--") {
				i++
				inv.inputs = append(inv.inputs, args[i])
			}
		case "--output":
			if i+1 >= len(args) {
				return inv, fmt.Errorf("--output needs a value")
			}
			i++
			inv.output = args[i]
		case "--params":
			if i+1 >= len(args) {
				return inv, fmt.Errorf("--params needs a value")
			}
			i++
			inv.params = args[i]
		default:
			return inv, fmt.Errorf("unexpected argument %q", args[i])
		}
	}
	return inv, nil
}

func pages() int {
	n, err := strconv.Atoi(os.Getenv(EnvPages))
	if err != nil || n <= 0 {
		return 5
	}
	return n
}

func run(args []string, mode string, stdout, stderr io.Writer) int {
	inv, err := parseArgs(args)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	if inv.tool == "test" {
		fmt.Fprintln(stdout, `{"status": "ok", "message": "Engine is ready"}`)
		return 0
	}

	switch mode {
	case ModeFail:
		fmt.Fprintln(stderr, "corrupt PDF")
		return 1
	case ModeNotJSON:
		fmt.Fprintln(stdout, "not json")
		return 0
	case ModeReportFailure:
		return reply(stdout, map[string]any{"status": "failure", "tool": inv.tool, "message": "password too weak"})
	case ModeSleep:
		time.Sleep(time.Hour)
		return 0
	case ModeMissing:
		return reply(stdout, map[string]any{
			"status": "success",
			"tool":   inv.tool,
			"files":  []string{filepath.Join(filepath.Dir(inv.output), "never-written.pdf")},
		})
	case ModeEmpty:
		return reply(stdout, map[string]any{"status": "success", "tool": inv.tool, "files": []string{}})
	case ModeEcho:
		return reply(stdout, map[string]any{
			"status": "success",
			"tool":   inv.tool,
			"stats": map[string]any{
				"params": inv.params,
				"inputs": inv.inputs,
				"output": inv.output,
			},
		})
	}

	result, err := produce(inv)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if mode == ModeLegacy {
		delete(result, "status")
		result["success"] = true
	}
	if mode == ModeNoisy {
		fmt.Fprintln(stdout, "Loading fonts...")
		fmt.Fprintln(stdout, `{"progress": 50}`)
		code := reply(stdout, result)
		fmt.Fprintln(stdout, "Done in 0.01s")
		return code
	}
	return reply(stdout, result)
}

func reply(w io.Writer, v map[string]any) int {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		return 3
	}
	return 0
}

// produce writes the outputs a real engine would write for inv.tool and
// returns its result object.
func produce(inv invocation) (map[string]any, error) {
	n := pages()
	switch inv.tool {
	case "analyze":
		return map[string]any{"status": "success", "tool": inv.tool, "stats": map[string]any{"total_pages": n}}, nil
	case "preview":
		return map[string]any{"status": "success", "tool": inv.tool, "image": "data:image/png;base64,iVBORw0KGgo="}, nil
	case "pdf-to-image":
		if err := os.MkdirAll(inv.output, 0o755); err != nil {
			return nil, err
		}
		files := make([]string, n)
		for i := range n {
			files[i] = filepath.Join(inv.output, fmt.Sprintf("page-%d_pdfbaba.jpg", i+1))
			if err := os.WriteFile(files[i], []byte{0xFF, 0xD8, 0xFF, 0xE0, byte(i)}, 0o644); err != nil {
				return nil, err
			}
		}
		return map[string]any{
			"status": "success",
			"tool":   inv.tool,
			"files":  files,
			"stats":  map[string]any{"totalConverted": n},
		}, nil
	}

	size, err := writeDocument(inv)
	if err != nil {
		return nil, err
	}
	if inv.tool == "merge" {
		// merge reports its statistics at top level and no output path
		return map[string]any{
			"status":       "success",
			"tool":         inv.tool,
			"files_merged": len(inv.inputs),
			"totalPages":   n,
			"outputSizeKB": size / 1024,
		}, nil
	}
	return map[string]any{
		"status": "success",
		"tool":   inv.tool,
		"output": inv.output,
		"stats":  map[string]any{"totalPages": n, "outputSizeKB": size / 1024},
	}, nil
}

func writeDocument(inv invocation) (int64, error) {
	if inv.output == "" {
		return 0, fmt.Errorf("%s: --output is required", inv.tool)
	}
	f, err := os.Create(inv.output)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = f.Close()
	}()
	if _, err := io.WriteString(f, "%PDF-1.7\n"); err != nil {
		return 0, err
	}
	for _, in := range ordered(inv) {
		src, err := os.Open(in)
		if err != nil {
			return 0, err
		}
		_, err = io.Copy(f, src)
		_ = src.Close()
		if err != nil {
			return 0, err
		}
	}
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// ordered applies a merge order the way the engine does: only an order
// naming every input is honored.
func ordered(inv invocation) []string {
	if inv.tool != "merge" || inv.params == "" {
		return inv.inputs
	}
	var p struct {
		Order []int `json:"order"`
	}
	if err := json.Unmarshal([]byte(inv.params), &p); err != nil || len(p.Order) != len(inv.inputs) {
		return inv.inputs
	}
	out := make([]string, len(p.Order))
	for i, idx := range p.Order {
		if idx < 0 || idx >= len(inv.inputs) {
			return inv.inputs
		}
		out[i] = inv.inputs[idx]
	}
	return out
}

// Runs returns how many times the stub ran with EnvCounter set to counter.
func Runs(counter string) int {
	b, err := os.ReadFile(counter)
	if err != nil {
		return 0
	}
	return strings.Count(string(b), "\n")
}
