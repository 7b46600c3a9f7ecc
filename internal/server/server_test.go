package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"mediarchive/internal/archive"
	"mediarchive/internal/config"
	"mediarchive/internal/hash"
	"mediarchive/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// testServer wires a daemon over a fresh archive in a temp directory.
func testServer(t *testing.T, bare bool) (*Server, *archive.Archive) {
	t.Helper()

	a, err := archive.Open(t.TempDir(), bare)
	require.NoError(t, err)

	meta, err := store.Open(a.DatabasePath())
	require.NoError(t, err)
	t.Cleanup(func() { meta.Close() })

	return New(config.DefaultConfig(), a, meta, zap.NewNop()), a
}

func doRequest(t *testing.T, s *Server, method, path string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func TestHealth(t *testing.T) {
	s, _ := testServer(t, true)
	rec := doRequest(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUploadAndDownload(t *testing.T) {
	s, _ := testServer(t, true)

	content := "some media content"
	rec := doRequest(t, s, http.MethodPost, "/api/files", strings.NewReader(content))
	require.Equal(t, http.StatusCreated, rec.Code)

	resp := decode[uploadResponse](t, rec)
	assert.Equal(t, int64(len(content)), resp.Size)

	want, err := hash.Sum(strings.NewReader(content))
	require.NoError(t, err)
	assert.Equal(t, want.String(), resp.Hash)

	rec = doRequest(t, s, http.MethodGet, "/api/files/"+resp.Hash, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, content, rec.Body.String())
}

func TestUploadDuplicate(t *testing.T) {
	s, _ := testServer(t, true)

	body := "same bytes"
	rec := doRequest(t, s, http.MethodPost, "/api/files", strings.NewReader(body))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, s, http.MethodPost, "/api/files", strings.NewReader(body))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestUploadRecordsMediaType(t *testing.T) {
	s, _ := testServer(t, true)

	req := httptest.NewRequest(http.MethodPost, "/api/files", strings.NewReader("png bytes"))
	req.Header.Set("Content-Type", "image/png")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)
	resp := decode[uploadResponse](t, rec)

	list := doRequest(t, s, http.MethodGet, "/api/files", nil)
	require.Equal(t, http.StatusOK, list.Code)
	files := decode[[]store.File](t, list)
	require.Len(t, files, 1)
	assert.Equal(t, resp.Hash, files[0].Hash)
	assert.Equal(t, "image/png", files[0].MediaType)
}

func TestDownloadErrors(t *testing.T) {
	s, _ := testServer(t, true)

	rec := doRequest(t, s, http.MethodGet, "/api/files/nothex", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	missing := strings.Repeat("ab", 32)
	rec = doRequest(t, s, http.MethodGet, "/api/files/"+missing, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeployFlow(t *testing.T) {
	s, a := testServer(t, false)

	rec := doRequest(t, s, http.MethodPost, "/api/files", strings.NewReader("artwork"))
	require.Equal(t, http.StatusCreated, rec.Code)
	resp := decode[uploadResponse](t, rec)

	deploy := func(target string) *httptest.ResponseRecorder {
		body, err := json.Marshal(deployRequest{Hash: resp.Hash, Target: target, Method: "copy"})
		require.NoError(t, err)
		return doRequest(t, s, http.MethodPost, "/api/deploy", bytes.NewReader(body))
	}

	rec = deploy("gallery/artwork.png")
	require.Equal(t, http.StatusCreated, rec.Code)
	d := decode[store.Deployment](t, rec)
	assert.Equal(t, "gallery/artwork.png", d.TargetPath)
	assert.Equal(t, "copy", d.Method)

	data, err := os.ReadFile(filepath.Join(a.DeployPath(), "gallery", "artwork.png"))
	require.NoError(t, err)
	assert.Equal(t, "artwork", string(data))

	// Same target again conflicts.
	rec = deploy("gallery/artwork.png")
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Escaping target is rejected.
	rec = deploy("../escape")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Deployments are listed.
	rec = doRequest(t, s, http.MethodGet, "/api/deployments", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	deployments := decode[[]store.Deployment](t, rec)
	assert.Len(t, deployments, 1)
}

func TestDeployUnknownHash(t *testing.T) {
	s, _ := testServer(t, false)

	body, err := json.Marshal(deployRequest{Hash: strings.Repeat("cd", 32), Target: "file.bin"})
	require.NoError(t, err)
	rec := doRequest(t, s, http.MethodPost, "/api/deploy", bytes.NewReader(body))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeployIntoBareArchive(t *testing.T) {
	s, _ := testServer(t, true)

	rec := doRequest(t, s, http.MethodPost, "/api/files", strings.NewReader("bytes"))
	require.Equal(t, http.StatusCreated, rec.Code)
	resp := decode[uploadResponse](t, rec)

	body, err := json.Marshal(deployRequest{Hash: resp.Hash, Target: "file.bin"})
	require.NoError(t, err)
	rec = doRequest(t, s, http.MethodPost, "/api/deploy", bytes.NewReader(body))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestDeleteFile(t *testing.T) {
	s, _ := testServer(t, true)

	rec := doRequest(t, s, http.MethodPost, "/api/files", strings.NewReader("to delete"))
	require.Equal(t, http.StatusCreated, rec.Code)
	resp := decode[uploadResponse](t, rec)

	rec = doRequest(t, s, http.MethodDelete, "/api/files/"+resp.Hash, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, s, http.MethodDelete, "/api/files/"+resp.Hash, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStats(t *testing.T) {
	s, _ := testServer(t, true)

	rec := doRequest(t, s, http.MethodPost, "/api/files", strings.NewReader("12345"))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[store.Stats](t, rec)
	assert.Equal(t, int64(1), stats.Files)
	assert.Equal(t, int64(5), stats.TotalSize)
}
