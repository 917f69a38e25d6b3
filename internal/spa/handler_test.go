package spa

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuitang/xpire-e2e/internal/obs"
)

const shell = `<!DOCTYPE html><html><body><div id="app"></div></body></html>`

func buildDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte(shell), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "assets"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.dart.js"), []byte("console.log(1)"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "assets", "AssetManifest.json"), []byte("{}"), 0o644))
	return dir
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestHandler_ServesFiles(t *testing.T) {
	h, err := NewHandler(buildDir(t), true)
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })

	rec := get(t, h, "/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, shell, rec.Body.String())
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))

	rec = get(t, h, "/main.dart.js")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "javascript")
	assert.Empty(t, rec.Header().Get("Cache-Control"))

	rec = get(t, h, "/assets/AssetManifest.json")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "{}", rec.Body.String())
}

func TestHandler_FallsBackForClientRoutes(t *testing.T) {
	h, err := NewHandler(buildDir(t), true)
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })

	for _, route := range []string{"/login", "/register", "/dashboard", "/challenges", "/stats", "/profile", "/a/b/c", "/assets"} {
		rec := get(t, h, route)
		assert.Equal(t, http.StatusOK, rec.Code, route)
		assert.Equal(t, shell, rec.Body.String(), route)
		assert.Equal(t, "1", rec.Header().Get(obs.FallbackHeader), route)
	}
}

func TestHandler_MissingAssetIs404(t *testing.T) {
	h, err := NewHandler(buildDir(t), true)
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })

	assert.Equal(t, http.StatusNotFound, get(t, h, "/missing.js").Code)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/assets/fonts/x.ttf").Code)
}

func TestHandler_NoFallback(t *testing.T) {
	h, err := NewHandler(buildDir(t), false)
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })

	assert.Equal(t, http.StatusNotFound, get(t, h, "/register").Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/").Code)
}

func TestHandler_StaysInsideRoot(t *testing.T) {
	parent := t.TempDir()
	dir := filepath.Join(parent, "build")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte(shell), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(parent, "secret.txt"), []byte("secret"), 0o644))
	require.NoError(t, os.Symlink(filepath.Join(parent, "secret.txt"), filepath.Join(dir, "leak.txt")))

	h, err := NewHandler(dir, true)
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })

	rec := get(t, h, "/../secret.txt")
	assert.NotContains(t, rec.Body.String(), "secret")

	rec = get(t, h, "/leak.txt")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret")
}

func TestHandler_RejectsWrites(t *testing.T) {
	h, err := NewHandler(buildDir(t), true)
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/register", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestNewHandler_RequiresIndex(t *testing.T) {
	_, err := NewHandler(t.TempDir(), true)
	require.Error(t, err)
}
