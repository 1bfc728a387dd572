package site

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestImagesHandler(t *testing.T) {
	Convey("Given a directory of images", t, func() {
		ctx := context.Background()
		dir := t.TempDir()
		So(os.WriteFile(filepath.Join(dir, "image_1.png"), []byte("\x89PNG\r\n\x1a\n"), 0o600), ShouldBeNil)
		mux := http.NewServeMux()

		Convey("When registering the images handler", func() {
			So(Register(ctx, mux, dir), ShouldBeNil)

			Convey("Then it should serve a file", func() {
				req := httptest.NewRequest("GET", "/images/image_1.png", nil)
				w := httptest.NewRecorder()
				mux.ServeHTTP(w, req)

				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Header().Get("Content-Type"), ShouldEqual, "image/png")
				So(w.Header().Get("Cache-Control"), ShouldContainSubstring, "max-age")
			})

			Convey("And it should not list the directory", func() {
				req := httptest.NewRequest("GET", "/images/", nil)
				w := httptest.NewRecorder()
				mux.ServeHTTP(w, req)

				So(w.Code, ShouldEqual, http.StatusNotFound)
			})

			Convey("And it should 404 on missing files", func() {
				req := httptest.NewRequest("GET", "/images/nope.png", nil)
				w := httptest.NewRecorder()
				mux.ServeHTTP(w, req)

				So(w.Code, ShouldEqual, http.StatusNotFound)
			})

			Convey("And it should not handle other paths", func() {
				req := httptest.NewRequest("GET", "/image_1.png", nil)
				w := httptest.NewRecorder()
				mux.ServeHTTP(w, req)

				So(w.Code, ShouldEqual, http.StatusNotFound)
			})
		})
	})

	Convey("Given a path that is not a directory", t, func() {
		file := filepath.Join(t.TempDir(), "f")
		So(os.WriteFile(file, nil, 0o600), ShouldBeNil)

		So(Register(context.Background(), http.NewServeMux(), file), ShouldEqual, ErrNoDirectory)
		So(Register(context.Background(), http.NewServeMux(), filepath.Join(file, "missing")), ShouldNotBeNil)
	})

	Convey("Given a nil mux", t, func() {
		So(func() { _ = Register(context.Background(), nil, ".") }, ShouldPanic)
	})
}
