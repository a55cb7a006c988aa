package artifact

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/pdfbaba/pdfbaba/internal/model"
)

// Open returns a stream over the artifact and the filename to suggest to the
// client. A non-empty name overrides the artifact's logical name.
func Open(a model.Artifact, name string) (io.ReadSeekCloser, string, error) {
	f, err := os.Open(a.Path)
	if err != nil {
		return nil, "", fmt.Errorf("opening artifact %s: %w", a.ID, err)
	}
	return f, DisplayName(a, name), nil
}

// DisplayName picks the name presented to the client. Directory parts and
// control characters of override are dropped.
func DisplayName(a model.Artifact, override string) string {
	name := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || r == '\\' {
			return -1
		}
		return r
	}, override)
	name = strings.TrimSpace(filepath.Base(name))
	if name == "" || name == "." || name == "/" || name == ".." {
		return a.Name
	}
	return name
}

// Remove deletes the artifact file, a missing file is not an error.
func Remove(a model.Artifact) error {
	if err := os.Remove(a.Path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
