// Package spa hosts a built single-page application and manages the web
// server the suite runs against.
package spa

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/kuitang/xpire-e2e/internal/errs"
	"github.com/kuitang/xpire-e2e/internal/obs"
)

const indexFile = "index.html"

type cachedFile struct {
	data    []byte
	modTime time.Time
}

// Handler serves files from a build directory. Access is confined to the
// directory through os.Root, so symlinks cannot escape it.
type Handler struct {
	root     *os.Root
	fallback bool

	mu    sync.RWMutex
	cache map[string]cachedFile
}

// NewHandler opens dir for serving. With fallback set, extension-less paths
// that match no file are answered with index.html so client-side routes
// survive deep links and reloads.
func NewHandler(dir string, fallback bool) (*Handler, error) {
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("open build dir: %w", err)
	}
	if _, err := root.Stat(indexFile); err != nil {
		root.Close()
		return nil, fmt.Errorf("build dir %s has no %s: %w", dir, indexFile, err)
	}
	return &Handler{root: root, fallback: fallback, cache: make(map[string]cachedFile)}, nil
}

// Close releases the build directory.
func (h *Handler) Close() error {
	return h.root.Close()
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
	if name == "" {
		name = indexFile
	}
	requested := name

	f, err := h.read(name)
	if errors.Is(err, errIsDir) {
		name = path.Join(name, indexFile)
		f, err = h.read(name)
	}
	switch {
	case err == nil:
	case errors.Is(err, fs.ErrNotExist) || errors.Is(err, errIsDir):
		if !h.fallback || path.Ext(requested) != "" {
			fail(w, r, errs.New(errs.NotFound, "not found"))
			return
		}
		name = indexFile
		if f, err = h.read(name); err != nil {
			fail(w, r, errs.Wrap(errs.Internal, "index unavailable", err))
			return
		}
		w.Header().Set(obs.FallbackHeader, "1")
	default:
		fail(w, r, errs.Wrap(errs.InvalidArgument, "path rejected", err))
		return
	}

	if name == indexFile {
		// The shell must be refetched so a new build is picked up.
		w.Header().Set("Cache-Control", "no-cache")
	}
	http.ServeContent(w, r, name, f.modTime, bytes.NewReader(f.data))
}

var errIsDir = errors.New("is a directory")

func fail(w http.ResponseWriter, r *http.Request, err error) {
	code := errs.CodeOf(err)
	if code != errs.NotFound {
		obs.From(r.Context()).With("pkg", "spa").Warn("request_failed", "path", r.URL.Path, "code", string(code), "error", err.Error())
	}
	http.Error(w, errs.MessageOf(err), errs.HTTPStatus(code))
}

// read returns the file contents, caching them after the first read.
func (h *Handler) read(name string) (cachedFile, error) {
	h.mu.RLock()
	if f, ok := h.cache[name]; ok {
		h.mu.RUnlock()
		return f, nil
	}
	h.mu.RUnlock()

	file, err := h.root.Open(name)
	if err != nil {
		return cachedFile{}, err
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return cachedFile{}, err
	}
	if info.IsDir() {
		return cachedFile{}, errIsDir
	}
	data, err := io.ReadAll(file)
	if err != nil {
		return cachedFile{}, err
	}

	f := cachedFile{data: data, modTime: info.ModTime()}
	h.mu.Lock()
	h.cache[name] = f
	h.mu.Unlock()
	return f, nil
}
