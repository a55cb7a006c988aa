package engine_test

import (
	"testing"

	"github.com/pdfbaba/pdfbaba/internal/engine"
	"github.com/pdfbaba/pdfbaba/internal/model"
	"github.com/pdfbaba/pdfbaba/internal/request"
	"github.com/stretchr/testify/require"
)

func inputs(paths ...string) []model.InputFile {
	out := make([]model.InputFile, len(paths))
	for i, p := range paths {
		out[i] = model.InputFile{Path: p, OriginalName: p}
	}
	return out
}

func TestBuild(t *testing.T) {
	d, err := request.Validate("merge", inputs("/w/b.pdf", "/w/a.pdf", "/w/c.pdf"), []byte(`{"order":[2,1,0],"toc":true}`))
	require.NoError(t, err)

	inv, err := engine.Build(d, []string{"python3", "/opt/engine/main.py"}, "/w/output.pdf")
	require.NoError(t, err)
	require.Equal(t, "python3", inv.Executable)
	require.Equal(t, []string{
		"/opt/engine/main.py",
		"merge",
		"--inputs", "/w/b.pdf", "/w/a.pdf", "/w/c.pdf",
		"--output", "/w/output.pdf",
		"--params", `{"order":[2,1,0],"toc":true}`,
	}, inv.Args)
	require.Equal(t, []string{"/w/b.pdf", "/w/a.pdf", "/w/c.pdf"}, inv.Inputs)
	require.Equal(t, `{"order":[2,1,0],"toc":true}`, inv.Params)
}

func TestBuild_ReadOnly(t *testing.T) {
	d, err := request.Validate("analyze", inputs("/w/a.pdf"), nil)
	require.NoError(t, err)

	inv, err := engine.Build(d, []string{"pdf-engine"}, "/w/ignored.pdf")
	require.NoError(t, err)
	require.Equal(t, []string{"analyze", "--inputs", "/w/a.pdf"}, inv.Args)
	require.Empty(t, inv.Output)
	require.Empty(t, inv.Params)
}

func TestBuild_Errors(t *testing.T) {
	d, err := request.Validate("compress", inputs("/w/a.pdf"), nil)
	require.NoError(t, err)

	_, err = engine.Build(d, nil, "/w/out.pdf")
	require.ErrorIs(t, err, model.ErrSpawnFailed)

	_, err = engine.Build(d, []string{"pdf-engine"}, "")
	require.Error(t, err)
}

func TestParams(t *testing.T) {
	var testCases = []struct {
		scenario string
		op       string
		n        int
		given    string
		then     string
	}{
		{"defaults added", "pdf-to-image", 1, `{}`, `{"color":"color","dpi":150,"format":"jpg","pages":"all"}`},
		{"alias renamed", "compress", 1, `{"targetSize":100,"quality":"low"}`, `{"quality":"low","target_size_kb":100}`},
		{"no html escaping", "protect", 1, `{"user_password":"<a&b>"}`, `{"encryption":"AES-256","user_password":"<a&b>"}`},
		{"quotes and backslashes", "split", 1, `{"range":"1-2","note":"say \"hi\" C:\\tmp"}`, `{"note":"say \"hi\" C:\\tmp","range":"1-2"}`},
		{"nothing to pass", "merge", 2, ``, ``},
		{"nested keys kept", "image-to-pdf", 1,
			`{"pageSize":"a4","pages":[{"type":"image","index":0,"rotation":0,"label":"cover \"1\""}]}`,
			`{"pageSize":"a4","pages":[{"index":0,"label":"cover \"1\"","rotation":0,"type":"image"}]}`},
		{"nested defaults kept", "protect", 1,
			`{"user_password":"u","permissions":{"printing":"low","extract":true}}`,
			`{"encryption":"AES-256","permissions":{"extract":true,"printing":"low"},"user_password":"u"}`},
	}
	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			paths := []string{"/w/a.pdf", "/w/b.pdf"}[:tc.n]
			d, err := request.Validate(tc.op, inputs(paths...), []byte(tc.given))
			require.NoError(t, err)
			got, err := engine.Params(d)
			require.NoError(t, err)
			require.Equal(t, tc.then, got)
		})
	}
}
