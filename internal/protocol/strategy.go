package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"

	"github.com/pdfbaba/pdfbaba/internal/model"
)

// Strategy recovers one candidate result object from engine stdout.
type Strategy struct {
	Name    string
	Extract func(stdout []byte, op model.Operation) (map[string]any, bool)
}

var (
	// WholeDocument decodes all of stdout as a single JSON object.
	WholeDocument = Strategy{Name: "whole-document", Extract: wholeDocument}
	// PerLine picks the first line holding a successful result for op.
	PerLine = Strategy{Name: "per-line", Extract: perLine}
	// BraceSpan decodes the text between the first '{' and the last '}'.
	BraceSpan = Strategy{Name: "brace-span", Extract: braceSpan}
)

// Strategies are tried in order, the first hit wins.
var Strategies = []Strategy{WholeDocument, PerLine, BraceSpan}

func wholeDocument(stdout []byte, _ model.Operation) (map[string]any, bool) {
	return decodeObject(stdout)
}

func perLine(stdout []byte, op model.Operation) (map[string]any, bool) {
	for line := range bytes.Lines(stdout) {
		obj, ok := decodeObject(line)
		if !ok {
			continue
		}
		if status, _ := statusOf(obj); status != model.StatusSuccess {
			continue
		}
		if tool, ok := obj["tool"].(string); ok && tool != "" && tool != op.String() {
			continue
		}
		return obj, true
	}
	return nil, false
}

func braceSpan(stdout []byte, _ model.Operation) (map[string]any, bool) {
	start := bytes.IndexByte(stdout, '{')
	end := bytes.LastIndexByte(stdout, '}')
	if start < 0 || end <= start {
		return nil, false
	}
	return decodeObject(stdout[start : end+1])
}

// decodeObject accepts a JSON object with a recognizable status field and
// nothing but white space around it.
func decodeObject(b []byte) (map[string]any, bool) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || b[0] != '{' {
		return nil, false
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, false
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, false
	}
	if _, ok := statusOf(obj); !ok {
		return nil, false
	}
	return obj, true
}

// statusOf reads "status", falling back to the legacy boolean "success".
func statusOf(obj map[string]any) (model.Status, bool) {
	if s, ok := obj["status"].(string); ok && s != "" {
		return model.Status(s), true
	}
	if b, ok := obj["success"].(bool); ok {
		if b {
			return model.StatusSuccess, true
		}
		return model.StatusFailure, true
	}
	return "", false
}
