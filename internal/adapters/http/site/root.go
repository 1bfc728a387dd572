// Package site serves the catalog's image files.
package site

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strings"
)

// Error constants
var (
	ErrNoDirectory = errors.New("images path is not a directory")
)

// ImagesPrefix is the URL prefix catalog image_url values point under.
const ImagesPrefix = "/images/"

// Register serves the files under dir at ImagesPrefix. Directory listings
// are not served.
func Register(_ context.Context, mux *http.ServeMux, dir string) error {
	if mux == nil {
		panic("mux is nil")
	}
	fi, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		return ErrNoDirectory
	}

	files := http.StripPrefix(ImagesPrefix, NewImagesHandler(http.Dir(dir)))
	mux.Handle("GET "+ImagesPrefix, files)
	return nil
}

// ImagesHandler serves image files from a file system.
type ImagesHandler struct {
	files http.Handler
}

// NewImagesHandler creates a new images handler.
func NewImagesHandler(fs http.FileSystem) *ImagesHandler {
	return &ImagesHandler{files: http.FileServer(fs)}
}

func (h *ImagesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "" || strings.HasSuffix(r.URL.Path, "/") {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=3600")
	h.files.ServeHTTP(w, r)
}
