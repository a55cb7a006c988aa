package model

import (
	"path/filepath"
	"regexp"
	"strings"
)

// Operation is the transformation requested from the engine. The value is
// the token passed as the first engine argument.
type Operation string

const (
	OpMerge      Operation = "merge"
	OpSplit      Operation = "split"
	OpCompress   Operation = "compress"
	OpAnalyze    Operation = "analyze"
	OpImageToPDF Operation = "image-to-pdf"
	OpPDFToImage Operation = "pdf-to-image"
	OpPDFToWord  Operation = "pdf-to-word"
	OpProtect    Operation = "protect"
	OpPreview    Operation = "preview"
)

// OpTest is the engine readiness probe, it is not a user operation.
const OpTest Operation = "test"

// OutputKind says what the engine is given as --output.
type OutputKind int

const (
	OutputNone OutputKind = iota // read-only operation, no --output
	OutputFile
	OutputDir
)

type opSpec struct {
	minInputs int
	output    OutputKind
	ext       string // extension of the engine output file
}

var operations = map[Operation]opSpec{
	OpMerge:      {minInputs: 2, output: OutputFile, ext: ".pdf"},
	OpSplit:      {minInputs: 1, output: OutputFile, ext: ".pdf"},
	OpCompress:   {minInputs: 1, output: OutputFile, ext: ".pdf"},
	OpAnalyze:    {minInputs: 1, output: OutputNone},
	OpImageToPDF: {minInputs: 1, output: OutputFile, ext: ".pdf"},
	OpPDFToImage: {minInputs: 1, output: OutputDir},
	OpPDFToWord:  {minInputs: 1, output: OutputFile, ext: ".docx"},
	OpProtect:    {minInputs: 1, output: OutputFile, ext: ".pdf"},
	OpPreview:    {minInputs: 1, output: OutputNone},
}

// Operations returns all supported user operations in a stable order.
func Operations() []Operation {
	return []Operation{
		OpMerge, OpSplit, OpCompress, OpAnalyze, OpImageToPDF,
		OpPDFToImage, OpPDFToWord, OpProtect, OpPreview,
	}
}

// ParseOperation returns the operation for name or false when it is unknown.
func ParseOperation(name string) (Operation, bool) {
	op := Operation(strings.TrimSpace(name))
	_, ok := operations[op]
	return op, ok
}

func (o Operation) String() string { return string(o) }

// MinInputs is the minimum number of input files.
func (o Operation) MinInputs() int { return operations[o].minInputs }

// Output says whether the engine writes a file, a directory or nothing.
func (o Operation) Output() OutputKind { return operations[o].output }

// ProducesFiles reports whether a successful run yields an Artifact.
func (o Operation) ProducesFiles() bool { return o.Output() != OutputNone }

// OutputName is the file or directory name handed to the engine as --output
// inside the request work directory.
func (o Operation) OutputName() string {
	switch o.Output() {
	case OutputFile:
		return "output" + operations[o].ext
	case OutputDir:
		return "pages"
	default:
		return ""
	}
}

var unsafeName = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// ArtifactName is the logical, client facing filename. original is the
// uploaded name of the first input, ext the extension of the materialized
// file (".zip" for archives).
func (o Operation) ArtifactName(original, ext string) string {
	base := strings.TrimSuffix(filepath.Base(original), filepath.Ext(original))
	if base == "" || base == "." || base == string(filepath.Separator) {
		base = "document"
	}
	switch o {
	case OpMerge:
		return "merged_pdfbaba" + ext
	case OpSplit:
		return base + "_split" + ext
	case OpCompress:
		return "compressed_" + base + ext
	case OpProtect:
		return "protected_" + unsafeName.ReplaceAllString(base, "_") + ext
	default:
		return base + "_pdfbaba" + ext
	}
}
