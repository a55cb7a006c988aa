// Package request turns an inbound operation name, its persisted input files
// and the raw option text into an immutable model.RequestDescriptor.
package request

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/pdfbaba/pdfbaba/internal/model"
)

// Validate checks the request in a fixed order: operation, file count,
// options. Unparsable options are not fatal, the descriptor then carries
// empty options and a MalformedOptions warning.
func Validate(op string, files []model.InputFile, rawOptions []byte) (model.RequestDescriptor, error) {
	var zero model.RequestDescriptor

	operation, ok := model.ParseOperation(op)
	if !ok {
		return zero, model.NewError(model.ErrUnknownOperation, "unknown operation %q", op)
	}
	if len(files) == 0 {
		return zero, model.NewError(model.ErrNoFiles, "no files uploaded")
	}
	if need := operation.MinInputs(); len(files) < need {
		return zero, model.NewError(model.ErrInsufficientFiles,
			"%s needs at least %d files, got %d", operation, need, len(files))
	}

	var warnings []error
	params, err := decodeRaw(rawOptions)
	if err != nil {
		warnings = append(warnings, model.NewError(model.ErrMalformedOptions, "ignoring options").Wrap(err))
		params = map[string]any{}
	}
	normalizeAliases(operation, params)

	options, err := decodeTyped(operation, params)
	if err != nil {
		return zero, err
	}
	options = withDefaults(options)
	if err := check(options, len(files)); err != nil {
		return zero, err
	}

	return model.NewRequestDescriptor(operation, files, params, options, warnings...), nil
}

var errNotObject = errors.New("options must be a JSON object")

// decodeRaw decodes the option text into a generic mapping. Numbers are kept
// as json.Number so they reach the engine exactly as sent.
func decodeRaw(raw []byte) (map[string]any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return map[string]any{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing data after options")
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, errNotObject
	}
	return m, nil
}

// normalizeAliases maps option names used by older clients onto the names
// the engine understands.
func normalizeAliases(op model.Operation, params map[string]any) {
	if op != model.OpCompress {
		return
	}
	if v, ok := params["targetSize"]; ok {
		if _, set := params["target_size_kb"]; !set {
			params["target_size_kb"] = v
		}
		delete(params, "targetSize")
	}
}

func decodeTyped(op model.Operation, params map[string]any) (model.Options, error) {
	b, err := json.Marshal(params)
	if err != nil {
		return nil, model.NewError(model.ErrInvalidOption, "encoding options").Wrap(err)
	}

	var target model.Options
	switch op {
	case model.OpMerge:
		target, err = unmarshal[model.MergeOptions](b)
	case model.OpSplit:
		target, err = unmarshal[model.SplitOptions](b)
	case model.OpCompress:
		target, err = unmarshal[model.CompressOptions](b)
	case model.OpAnalyze:
		target, err = model.AnalyzeOptions{}, nil
	case model.OpImageToPDF:
		target, err = unmarshal[model.ImageToPDFOptions](b)
	case model.OpPDFToImage:
		target, err = unmarshal[model.PDFToImageOptions](b)
	case model.OpPDFToWord:
		target, err = unmarshal[model.PDFToWordOptions](b)
	case model.OpProtect:
		target, err = unmarshal[model.ProtectOptions](b)
	case model.OpPreview:
		target, err = model.PreviewOptions{}, nil
	default:
		return nil, model.NewError(model.ErrUnknownOperation, "unknown operation %q", op)
	}
	if err != nil {
		var te *json.UnmarshalTypeError
		if errors.As(err, &te) {
			return nil, model.NewError(model.ErrInvalidOption, "option %s: expected %s, got %s", te.Field, te.Type, te.Value)
		}
		return nil, model.NewError(model.ErrInvalidOption, "decoding %s options", op).Wrap(err)
	}
	return target, nil
}

func unmarshal[T model.Options](b []byte) (model.Options, error) {
	var t T
	if err := json.Unmarshal(b, &t); err != nil {
		return nil, fmt.Errorf("unmarshal %T: %w", t, err)
	}
	return t, nil
}
