package service_test

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pdfbaba/pdfbaba/internal/engine"
	"github.com/pdfbaba/pdfbaba/internal/enginetest"
	"github.com/pdfbaba/pdfbaba/internal/lifecycle"
	"github.com/pdfbaba/pdfbaba/internal/model"
	"github.com/pdfbaba/pdfbaba/internal/service"
	"github.com/pdfbaba/pdfbaba/internal/store"
)

type upload struct {
	name    string
	content string
}

func newServer(t *testing.T, mode string, opts service.Options) (http.Handler, *lifecycle.Pipeline) {
	t.Helper()
	ws := t.TempDir()
	sup := engine.NewSupervisor(time.Minute, model.DefaultMaxOutput, enginetest.Env(mode, enginetest.EnvPages+"=3"))
	p := lifecycle.New(enginetest.Command(), sup, ws)

	reg, err := store.OpenSQLite(t.Context(), filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, reg.Close())
	})
	return service.NewServer(p, reg, opts).Handler(), p
}

func newUpload(t *testing.T, op, options string, files ...upload) *http.Request {
	t.Helper()
	var fields [][2]string
	if options != "" {
		fields = append(fields, [2]string{"options", options})
	}
	return newForm(t, op, fields, files...)
}

func newForm(t *testing.T, op string, fields [][2]string, files ...upload) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, f := range files {
		w, err := mw.CreateFormFile("files", f.name)
		require.NoError(t, err)
		_, err = w.Write([]byte(f.content))
		require.NoError(t, err)
	}
	for _, kv := range fields {
		require.NoError(t, mw.WriteField(kv[0], kv[1]))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequestWithContext(t.Context(), http.MethodPost, "/api/tools/"+op, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func do(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeOutcome(t *testing.T, rec *httptest.ResponseRecorder) model.Outcome {
	t.Helper()
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var out model.Outcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestServer_MergeAndDownload(t *testing.T) {
	h, p := newServer(t, enginetest.ModeNormal, service.Options{})

	rec := do(h, newUpload(t, "merge", "", upload{"a.pdf", "first"}, upload{"b.pdf", "second"}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decodeOutcome(t, rec)
	require.True(t, out.Success)
	require.Equal(t, "merged_pdfbaba.pdf", out.Filename)
	require.Equal(t, "/api/tools/download/"+out.RequestID, out.DownloadURL)
	require.EqualValues(t, 2, out.Stats["filesMerged"])
	require.NoDirExists(t, p.WorkDir(out.RequestID))

	req := httptest.NewRequestWithContext(t.Context(), http.MethodGet, out.DownloadURL+"?name=report.pdf", nil)
	rec = do(h, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	require.Equal(t, `attachment; filename=report.pdf`, rec.Header().Get("Content-Disposition"))
	require.Equal(t, "%PDF-1.7\nfirstsecond", rec.Body.String())

	entries, err := os.ReadDir(p.ArtifactDir())
	require.NoError(t, err)
	require.Empty(t, entries)

	// the artifact is handed out once
	req = httptest.NewRequestWithContext(t.Context(), http.MethodGet, out.DownloadURL, nil)
	rec = do(h, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_MergeOrderField(t *testing.T) {
	var testCases = []struct {
		scenario string
		fields   [][2]string
		then     string
	}{
		{"order alone", [][2]string{{"order", "[1,0]"}}, "%PDF-1.7\nsecondfirst"},
		{"order with properties", [][2]string{{"properties", `{"toc":true}`}, {"order", "[1,0]"}}, "%PDF-1.7\nsecondfirst"},
		{"order replaces options order", [][2]string{{"options", `{"order":[0,1]}`}, {"order", "[1,0]"}}, "%PDF-1.7\nsecondfirst"},
		{"no order", [][2]string{{"options", `{"toc":true}`}}, "%PDF-1.7\nfirstsecond"},
	}

	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			h, _ := newServer(t, enginetest.ModeNormal, service.Options{})
			rec := do(h, newForm(t, "merge", tc.fields, upload{"a.pdf", "first"}, upload{"b.pdf", "second"}))
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			out := decodeOutcome(t, rec)
			require.True(t, out.Success)

			rec = do(h, httptest.NewRequestWithContext(t.Context(), http.MethodGet, out.DownloadURL, nil))
			require.Equal(t, http.StatusOK, rec.Code)
			require.Equal(t, tc.then, rec.Body.String())
		})
	}
}

func TestServer_MergeOrderRejected(t *testing.T) {
	var testCases = []struct {
		scenario string
		order    string
	}{
		{"subset", "[1]"},
		{"not json", "1,0"},
		{"out of range", "[0,2]"},
	}

	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			h, p := newServer(t, enginetest.ModeNormal, service.Options{})
			rec := do(h, newForm(t, "merge", [][2]string{{"order", tc.order}}, upload{"a.pdf", "first"}, upload{"b.pdf", "second"}))
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			out := decodeOutcome(t, rec)
			require.Equal(t, "ValidationError:InvalidOption", out.Code)
			require.NoDirExists(t, p.WorkDir(out.RequestID))
		})
	}
}

func TestServer_ReadOnly(t *testing.T) {
	h, _ := newServer(t, enginetest.ModeNormal, service.Options{})

	rec := do(h, newUpload(t, "analyze", "", upload{"a.pdf", "x"}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decodeOutcome(t, rec)
	require.True(t, out.Success)
	require.Empty(t, out.DownloadURL)
	require.EqualValues(t, 3, out.Stats["totalPages"])
}

func TestServer_Errors(t *testing.T) {
	var testCases = []struct {
		scenario string
		mode     string
		op       string
		options  string
		files    []upload
		status   int
		code     string
	}{
		{"unknown operation", enginetest.ModeNormal, "ocr", "", []upload{{"a.pdf", "x"}}, http.StatusBadRequest, "ValidationError:UnknownOperation"},
		{"no files", enginetest.ModeNormal, "compress", "", nil, http.StatusBadRequest, "ValidationError:NoFiles"},
		{"one file merge", enginetest.ModeNormal, "merge", "", []upload{{"a.pdf", "x"}}, http.StatusBadRequest, "ValidationError:InsufficientFiles"},
		{"no password", enginetest.ModeNormal, "protect", `{"owner_password":"x"}`, []upload{{"a.pdf", "x"}}, http.StatusBadRequest, "ValidationError:MissingRequiredOption"},
		{"engine crash", enginetest.ModeFail, "compress", "", []upload{{"a.pdf", "x"}}, http.StatusInternalServerError, "EngineError:NonZeroExit"},
		{"garbage output", enginetest.ModeNotJSON, "compress", "", []upload{{"a.pdf", "x"}}, http.StatusInternalServerError, "ProtocolError:UnparsableOutput"},
	}

	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			h, p := newServer(t, tc.mode, service.Options{})
			rec := do(h, newUpload(t, tc.op, tc.options, tc.files...))
			require.Equal(t, tc.status, rec.Code, rec.Body.String())
			out := decodeOutcome(t, rec)
			require.False(t, out.Success)
			require.Equal(t, tc.code, out.Code)

			work, err := os.ReadDir(filepath.Dir(p.WorkDir(out.RequestID)))
			if err == nil {
				require.Empty(t, work)
			}
		})
	}
}

func TestServer_UploadTooLarge(t *testing.T) {
	h, _ := newServer(t, enginetest.ModeNormal, service.Options{MaxUpload: 1024})
	rec := do(h, newUpload(t, "compress", "", upload{"a.pdf", strings.Repeat("x", 4096)}))
	require.Contains(t, []int{http.StatusRequestEntityTooLarge, http.StatusBadRequest}, rec.Code)
	require.False(t, decodeOutcome(t, rec).Success)
}

func TestServer_DownloadUnknown(t *testing.T) {
	h, _ := newServer(t, enginetest.ModeNormal, service.Options{})
	req := httptest.NewRequestWithContext(t.Context(), http.MethodGet, "/api/tools/download/nope", nil)
	rec := do(h, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "file not found or expired", decodeOutcome(t, rec).Error)
}

func TestServer_HealthAndReady(t *testing.T) {
	h, _ := newServer(t, enginetest.ModeNormal, service.Options{})

	rec := do(h, httptest.NewRequestWithContext(t.Context(), http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"healthy","service":"pdfbaba"}`, rec.Body.String())

	rec = do(h, httptest.NewRequestWithContext(t.Context(), http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ready","message":"Engine is ready"}`, rec.Body.String())
}
