package artifact_test

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"

	"github.com/pdfbaba/pdfbaba/internal/artifact"
	"github.com/pdfbaba/pdfbaba/internal/model"
)

func descriptor(t *testing.T, op model.Operation, original string) model.RequestDescriptor {
	t.Helper()
	return model.NewRequestDescriptor(op, []model.InputFile{{Path: "/w/in.pdf", OriginalName: original}}, nil, nil)
}

func newMaterializer(t *testing.T) *artifact.Materializer {
	m := artifact.NewMaterializer(filepath.Join(t.TempDir(), "artifacts"))
	m.Now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return m
}

func TestMaterialize_SingleFile(t *testing.T) {
	work := t.TempDir()
	out := filepath.Join(work, "output.pdf")
	content := []byte("%PDF-1.7\nsmall document")
	require.NoError(t, os.WriteFile(out, content, 0o644))

	m := newMaterializer(t)
	a, err := m.Materialize(t.Context(), "req-1", descriptor(t, model.OpCompress, "scan.pdf"),
		model.EngineResult{Status: model.StatusSuccess, Files: []string{out}})
	require.NoError(t, err)

	require.Equal(t, "req-1", a.ID)
	require.Equal(t, filepath.Join(m.Dir, "req-1.pdf"), a.Path)
	require.Equal(t, "compressed_scan.pdf", a.Name)
	require.Equal(t, int64(len(content)), a.Size)
	require.Equal(t, "application/pdf", a.ContentType)
	require.Equal(t, m.Now().UTC(), a.CreatedAt)

	require.NoFileExists(t, out)
	got, err := os.ReadFile(a.Path)
	require.NoError(t, err)
	require.Equal(t, content, got)
}

func TestMaterialize_Archive(t *testing.T) {
	work := t.TempDir()
	var files []string
	for _, i := range []int{3, 1, 5, 2, 4} {
		p := filepath.Join(work, fmt.Sprintf("deck_page-%d_pdfbaba.jpg", i))
		require.NoError(t, os.WriteFile(p, []byte(fmt.Sprintf("image %d", i)), 0o644))
		files = append(files, p)
	}

	m := newMaterializer(t)
	a, err := m.Materialize(t.Context(), "req-2", descriptor(t, model.OpPDFToImage, "deck.pdf"),
		model.EngineResult{Status: model.StatusSuccess, Files: files})
	require.NoError(t, err)
	require.Equal(t, "deck_pdfbaba.zip", a.Name)
	require.Equal(t, "application/zip", a.ContentType)

	info, err := os.Stat(a.Path)
	require.NoError(t, err)
	require.Equal(t, info.Size(), a.Size)

	zr, err := zip.OpenReader(a.Path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = zr.Close() })
	require.Len(t, zr.File, 5)
	for i, zf := range zr.File {
		require.Equal(t, filepath.Base(files[i]), zf.Name)
		rc, err := zf.Open()
		require.NoError(t, err)
		b, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		want, err := os.ReadFile(files[i])
		require.NoError(t, err)
		require.Equal(t, want, b)
	}

	entries, err := os.ReadDir(m.Dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "no partial archive left behind")
}

func TestMaterialize_DuplicateNames(t *testing.T) {
	a := filepath.Join(t.TempDir(), "page.png")
	b := filepath.Join(t.TempDir(), "page.png")
	require.NoError(t, os.WriteFile(a, []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("b"), 0o644))

	art, err := newMaterializer(t).Materialize(t.Context(), "req-3", descriptor(t, model.OpSplit, "x.pdf"),
		model.EngineResult{Status: model.StatusSuccess, Files: []string{a, b}})
	require.NoError(t, err)

	zr, err := zip.OpenReader(art.Path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = zr.Close() })
	require.Equal(t, "page.png", zr.File[0].Name)
	require.Equal(t, "page-2.png", zr.File[1].Name)
}

func TestMaterialize_DuplicateNamesKeepReported(t *testing.T) {
	dirA, dirB := t.TempDir(), t.TempDir()
	files := []string{
		filepath.Join(dirA, "p.jpg"),
		filepath.Join(dirB, "p.jpg"),
		filepath.Join(dirA, "p-2.jpg"),
		filepath.Join(dirB, "p-2.jpg"),
	}
	for i, f := range files {
		require.NoError(t, os.WriteFile(f, []byte(fmt.Sprintf("image %d", i)), 0o644))
	}

	art, err := newMaterializer(t).Materialize(t.Context(), "req-3b", descriptor(t, model.OpPDFToImage, "x.pdf"),
		model.EngineResult{Status: model.StatusSuccess, Files: files})
	require.NoError(t, err)

	zr, err := zip.OpenReader(art.Path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = zr.Close() })

	var names []string
	for i, f := range zr.File {
		names = append(names, f.Name)
		rc, err := f.Open()
		require.NoError(t, err)
		b, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		require.Equal(t, fmt.Sprintf("image %d", i), string(b))
	}
	require.Equal(t, []string{"p.jpg", "p-3.jpg", "p-2.jpg", "p-2-2.jpg"}, names)
}

func TestMaterialize_Empty(t *testing.T) {
	m := newMaterializer(t)
	_, err := m.Materialize(t.Context(), "req-4", descriptor(t, model.OpSplit, "x.pdf"),
		model.EngineResult{Status: model.StatusSuccess})
	require.ErrorIs(t, err, model.ErrEmptyResult)
	require.NoDirExists(t, m.Dir)
}

func TestMaterialize_PackagingFailed(t *testing.T) {
	work := t.TempDir()
	present := filepath.Join(work, "a.jpg")
	require.NoError(t, os.WriteFile(present, []byte("a"), 0o644))

	m := newMaterializer(t)
	_, err := m.Materialize(t.Context(), "req-5", descriptor(t, model.OpPDFToImage, "x.pdf"),
		model.EngineResult{Status: model.StatusSuccess, Files: []string{present, filepath.Join(work, "vanished.jpg")}})
	require.ErrorIs(t, err, model.ErrPackagingFailed)

	entries, err := os.ReadDir(m.Dir)
	require.NoError(t, err)
	require.Empty(t, entries, "partial archive must be removed")
}

func TestOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "req.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF"), 0o644))
	a := model.Artifact{ID: "req", Path: path, Name: "merged_pdfbaba.pdf"}

	rc, name, err := artifact.Open(a, "")
	require.NoError(t, err)
	require.Equal(t, "merged_pdfbaba.pdf", name)
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "%PDF", string(b))
	require.NoError(t, rc.Close())

	require.Equal(t, "report.pdf", artifact.DisplayName(a, "report.pdf"))
	require.Equal(t, "passwd", artifact.DisplayName(a, "../../etc/passwd"))
	require.Equal(t, "merged_pdfbaba.pdf", artifact.DisplayName(a, "../"))
	require.Equal(t, "ab.pdf", artifact.DisplayName(a, "a\r\nb.pdf"))

	require.NoError(t, artifact.Remove(a))
	require.NoError(t, artifact.Remove(a))
	_, _, err = artifact.Open(a, "")
	require.ErrorIs(t, err, os.ErrNotExist)
}
