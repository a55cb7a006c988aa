package request

import (
	"slices"

	"github.com/pdfbaba/pdfbaba/internal/model"
)

var (
	imageFormats  = []string{"jpg", "jpeg", "png", "webp", "tiff", "bmp"}
	colorModes    = []string{"color", "gray", "bw"}
	qualities     = []string{"low", "medium", "high"}
	printingPerms = []string{"none", "low", "high"}
	modifyPerms   = []string{"none", "minimal", "all"}
	encryptions   = []string{"AES-256", "AES-128", "RC4-128"}
)

const maxDPI = 1200

// withDefaults fills the values the engine would otherwise assume, so the
// effective settings travel with the request.
func withDefaults(o model.Options) model.Options {
	switch o := o.(type) {
	case model.SplitOptions:
		if o.Range == "" {
			o.Range = "1-end"
		}
		return o
	case model.CompressOptions:
		if o.Quality == "" {
			o.Quality = "medium"
		}
		return o
	case model.PDFToImageOptions:
		if o.Format == "" {
			o.Format = "jpg"
		}
		if o.DPI == 0 {
			o.DPI = 150
		}
		if o.Color == "" {
			o.Color = "color"
		}
		if o.Pages == "" {
			o.Pages = "all"
		}
		return o
	case model.PDFToWordOptions:
		if o.Pages == "" {
			o.Pages = "all"
		}
		if o.Mode == "" {
			o.Mode = "editable"
		}
		return o
	case model.ProtectOptions:
		if o.Encryption == "" {
			o.Encryption = "AES-256"
		}
		return o
	}
	return o
}

func invalid(format string, args ...any) error {
	return model.NewError(model.ErrInvalidOption, format, args...)
}

func oneOf(name, value string, allowed []string) error {
	if value == "" || slices.Contains(allowed, value) {
		return nil
	}
	return invalid("%s %q is not one of %v", name, value, allowed)
}

// check rejects semantically invalid options. inputs is the number of input
// files, used for index based options.
func check(o model.Options, inputs int) error {
	switch o := o.(type) {
	case model.MergeOptions:
		if len(o.Order) == 0 {
			return nil
		}
		if len(o.Order) != inputs {
			return invalid("order lists %d indexes for %d files", len(o.Order), inputs)
		}
		seen := make(map[int]struct{}, len(o.Order))
		for _, idx := range o.Order {
			if idx < 0 || idx >= inputs {
				return invalid("order index %d out of range [0,%d)", idx, inputs)
			}
			if _, dup := seen[idx]; dup {
				return invalid("order index %d repeated", idx)
			}
			seen[idx] = struct{}{}
		}
	case model.CompressOptions:
		if o.TargetSizeKB < 0 {
			return invalid("target_size_kb must not be negative")
		}
		return oneOf("quality", o.Quality, qualities)
	case model.ImageToPDFOptions:
		for i, p := range o.Pages {
			if p.Type == "blank" {
				continue
			}
			if p.Index == nil {
				return invalid("pages[%d]: missing index", i)
			}
			if *p.Index < 0 || *p.Index >= inputs {
				return invalid("pages[%d]: index %d out of range [0,%d)", i, *p.Index, inputs)
			}
			if p.Rotation%90 != 0 {
				return invalid("pages[%d]: rotation %d is not a multiple of 90", i, p.Rotation)
			}
		}
	case model.PDFToImageOptions:
		if o.DPI < 1 || o.DPI > maxDPI {
			return invalid("dpi %d out of range [1,%d]", o.DPI, maxDPI)
		}
		if err := oneOf("format", o.Format, imageFormats); err != nil {
			return err
		}
		return oneOf("color", o.Color, colorModes)
	case model.ProtectOptions:
		if o.UserPassword == "" {
			return model.NewError(model.ErrMissingRequiredOption, "protect requires user_password")
		}
		if err := oneOf("encryption", o.Encryption, encryptions); err != nil {
			return err
		}
		if p := o.Permissions; p != nil {
			if err := oneOf("permissions.printing", p.Printing, printingPerms); err != nil {
				return err
			}
			return oneOf("permissions.modifying", p.Modifying, modifyPerms)
		}
	}
	return nil
}
