// Package artifact reduces the files an engine produced to the single
// deliverable handed to the client.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/klauspost/compress/zip"

	"github.com/pdfbaba/pdfbaba/internal/model"
)

const partSuffix = ".part"

var (
	rename = os.Rename
	remove = os.Remove
)

// Materializer places artifacts under Dir, one file per request named after
// the request id.
type Materializer struct {
	Dir string
	Now func() time.Time
}

func NewMaterializer(dir string) *Materializer {
	return &Materializer{
		Dir: dir,
		Now: time.Now,
	}
}

// Materialize turns the produced files of res into one Artifact. A single
// file is moved, several files are packed into a zip archive in reported
// order. The archive only appears at its final path once complete.
func (m *Materializer) Materialize(ctx context.Context, id string, d model.RequestDescriptor, res model.EngineResult) (model.Artifact, error) {
	var zero model.Artifact
	if len(res.Files) == 0 {
		return zero, model.NewError(model.ErrEmptyResult, "%s produced no files", d.Operation())
	}
	if err := os.MkdirAll(m.Dir, 0o755); err != nil {
		return zero, model.NewError(model.ErrPackagingFailed, "creating artifact directory").Wrap(err)
	}

	var path, ext string
	if len(res.Files) == 1 {
		ext = strings.ToLower(filepath.Ext(res.Files[0]))
		path = filepath.Join(m.Dir, id+ext)
		if err := move(ctx, res.Files[0], path); err != nil {
			return zero, model.NewError(model.ErrPackagingFailed, "moving %s", filepath.Base(res.Files[0])).Wrap(err)
		}
	} else {
		ext = ".zip"
		path = filepath.Join(m.Dir, id+ext)
		if err := writeArchive(ctx, path, res.Files); err != nil {
			return zero, model.NewError(model.ErrPackagingFailed, "packing %d files", len(res.Files)).Wrap(err)
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		_ = os.Remove(path)
		return zero, model.NewError(model.ErrPackagingFailed, "stat artifact").Wrap(err)
	}
	contentType := "application/octet-stream"
	if mt, err := mimetype.DetectFile(path); err == nil {
		contentType = mt.String()
	}

	a := model.Artifact{
		ID:          id,
		Path:        path,
		Name:        d.Operation().ArtifactName(d.FirstOriginalName(), ext),
		Size:        info.Size(),
		ContentType: contentType,
		CreatedAt:   m.Now().UTC(),
	}
	slog.DebugContext(ctx, "artifact materialized",
		"path", a.Path,
		"name", a.Name,
		"size", a.Size,
		"files", len(res.Files),
	)
	return a, nil
}

// move renames src to dst, copying when both are on different devices. Once
// dst is complete a leftover src is only logged, the work directory it lives
// in is cleaned with the request.
func move(ctx context.Context, src, dst string) error {
	err := rename(src, dst)
	if err == nil {
		return nil
	}
	var linkErr *os.LinkError
	if !errors.As(err, &linkErr) {
		return err
	}
	if err := copyFile(src, dst); err != nil {
		return err
	}
	if err := remove(src); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.WarnContext(ctx, "removing moved source", "path", src, "error", err)
	}
	return nil
}

func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		_ = in.Close()
	}()

	tmp, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+"-*"+partSuffix)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()
	if _, err = io.Copy(tmp, in); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

func writeArchive(ctx context.Context, dst string, files []string) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+"-*"+partSuffix)
	if err != nil {
		return err
	}
	closed := false
	defer func() {
		if err == nil {
			return
		}
		if !closed {
			_ = tmp.Close()
		}
		if rerr := os.Remove(tmp.Name()); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
			slog.WarnContext(ctx, "removing partial archive", "path", tmp.Name(), "error", rerr)
		}
	}()

	zw := zip.NewWriter(tmp)
	names := entryNames(files)
	for i, file := range files {
		if err = ctx.Err(); err != nil {
			return err
		}
		if err = addEntry(zw, names[i], file); err != nil {
			return fmt.Errorf("entry %s: %w", names[i], err)
		}
	}
	if err = zw.Close(); err != nil {
		return fmt.Errorf("finalizing archive: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	closed = true
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

func addEntry(zw *zip.Writer, name, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
	}()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	hdr.Name = name
	hdr.Method = zip.Deflate
	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, f)
	return err
}

// entryNames uses the base name of every file. A repeated name gets the
// first free numeric suffix, never one another reported file already uses.
func entryNames(files []string) []string {
	reported := make(map[string]struct{}, len(files))
	for _, f := range files {
		reported[filepath.Base(f)] = struct{}{}
	}

	names := make([]string, len(files))
	used := make(map[string]struct{}, len(files))
	for i, f := range files {
		name := filepath.Base(f)
		if _, taken := used[name]; taken {
			ext := filepath.Ext(name)
			stem := strings.TrimSuffix(name, ext)
			for n := 2; ; n++ {
				name = stem + "-" + strconv.Itoa(n) + ext
				_, taken := used[name]
				_, claimed := reported[name]
				if !taken && !claimed {
					break
				}
			}
		}
		used[name] = struct{}{}
		names[i] = name
	}
	return names
}
