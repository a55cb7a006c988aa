package model

import (
	"maps"
	"slices"
)

// InputFile is an input already persisted by the upload collaborator.
type InputFile struct {
	Path         string `json:"path" yaml:"path"`
	OriginalName string `json:"original_name" yaml:"original_name"`
	Size         int64  `json:"size" yaml:"size"`
}

// Options is the closed set of operation specific option records. The
// concrete type always matches the descriptor's Operation.
type Options interface {
	Operation() Operation
}

type MergeOptions struct {
	// Order is a permutation of input indexes, engine side reordering.
	Order []int `json:"order,omitempty"`
}

type SplitOptions struct {
	Range string `json:"range,omitempty"`
}

type CompressOptions struct {
	TargetSizeKB float64 `json:"target_size_kb,omitempty"`
	Quality      string  `json:"quality,omitempty"`
}

type AnalyzeOptions struct{}

// ImagePage places one page of the image-to-pdf output. Type "blank" inserts
// an empty page, otherwise Index refers to the input at that position.
type ImagePage struct {
	Type     string `json:"type,omitempty"`
	Index    *int   `json:"index,omitempty"`
	Rotation int    `json:"rotation,omitempty"`
}

type ImageToPDFOptions struct {
	Pages []ImagePage `json:"pages,omitempty"`
}

type PDFToImageOptions struct {
	Format string `json:"format,omitempty"`
	DPI    int    `json:"dpi,omitempty"`
	Color  string `json:"color,omitempty"`
	Pages  string `json:"pages,omitempty"`
}

type PDFToWordOptions struct {
	Pages string `json:"pages,omitempty"`
	Mode  string `json:"mode,omitempty"`
}

type Permissions struct {
	Printing   string `json:"printing,omitempty"`  // none | low | high
	Modifying  string `json:"modifying,omitempty"` // none | minimal | all
	Copying    *bool  `json:"copying,omitempty"`
	Annotating *bool  `json:"annotating,omitempty"`
}

type ProtectOptions struct {
	UserPassword  string       `json:"user_password,omitempty"`
	OwnerPassword string       `json:"owner_password,omitempty"`
	Permissions   *Permissions `json:"permissions,omitempty"`
	Encryption    string       `json:"encryption,omitempty"`
}

type PreviewOptions struct{}

func (MergeOptions) Operation() Operation      { return OpMerge }
func (SplitOptions) Operation() Operation      { return OpSplit }
func (CompressOptions) Operation() Operation   { return OpCompress }
func (AnalyzeOptions) Operation() Operation    { return OpAnalyze }
func (ImageToPDFOptions) Operation() Operation { return OpImageToPDF }
func (PDFToImageOptions) Operation() Operation { return OpPDFToImage }
func (PDFToWordOptions) Operation() Operation  { return OpPDFToWord }
func (ProtectOptions) Operation() Operation    { return OpProtect }
func (PreviewOptions) Operation() Operation    { return OpPreview }

// RequestDescriptor is the validated form of one inbound request. It is
// immutable: accessors return copies.
type RequestDescriptor struct {
	op       Operation
	inputs   []InputFile
	params   map[string]any
	options  Options
	warnings []error
}

// NewRequestDescriptor copies its arguments. params is the raw option mapping
// as decoded from the request, options its typed view.
func NewRequestDescriptor(op Operation, inputs []InputFile, params map[string]any, options Options, warnings ...error) RequestDescriptor {
	if params == nil {
		params = map[string]any{}
	}
	return RequestDescriptor{
		op:       op,
		inputs:   slices.Clone(inputs),
		params:   maps.Clone(params),
		options:  options,
		warnings: slices.Clone(warnings),
	}
}

func (d RequestDescriptor) Operation() Operation { return d.op }

func (d RequestDescriptor) Inputs() []InputFile { return slices.Clone(d.inputs) }

// InputPaths returns input paths in request order.
func (d RequestDescriptor) InputPaths() []string {
	paths := make([]string, len(d.inputs))
	for i, in := range d.inputs {
		paths[i] = in.Path
	}
	return paths
}

func (d RequestDescriptor) Params() map[string]any { return maps.Clone(d.params) }

func (d RequestDescriptor) Options() Options { return d.options }

// Warnings are non fatal validation findings such as MalformedOptions.
func (d RequestDescriptor) Warnings() []error { return slices.Clone(d.warnings) }

// FirstOriginalName is the uploaded name of the first input.
func (d RequestDescriptor) FirstOriginalName() string {
	if len(d.inputs) == 0 {
		return ""
	}
	if d.inputs[0].OriginalName != "" {
		return d.inputs[0].OriginalName
	}
	return d.inputs[0].Path
}

// EngineInvocation is the fully built engine command line.
type EngineInvocation struct {
	Executable string
	Args       []string
	Operation  Operation
	Inputs     []string
	Output     string // empty for read-only operations
	Params     string // compact JSON, empty when no options
	Env        []string
}
