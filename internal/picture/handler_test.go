package picture

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/staffhub/service/internal/imaging"
	"github.com/staffhub/service/internal/middleware"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

func newTestRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Get("/files/*", h.Serve)
	r.Group(func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				ctx := context.WithValue(r.Context(), middleware.UserIDKey, ownerID)
				next.ServeHTTP(w, r.WithContext(ctx))
			})
		})
		r.Post("/users/me/profile-picture", h.Upload)
		r.Delete("/users/me/profile-picture", h.Remove)
	})
	return r
}

type part struct {
	field, filename string
	data            []byte
}

func multipartRequest(t *testing.T, parts ...part) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, p := range parts {
		fw, err := mw.CreateFormFile(p.field, p.filename)
		if err != nil {
			t.Fatalf("create part: %v", err)
		}
		if _, err := fw.Write(p.data); err != nil {
			t.Fatalf("write part: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/users/me/profile-picture", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return env
}

func TestUploadHandler(t *testing.T) {
	f := newFixture(t, nil)
	router := newTestRouter(NewHandler(f.svc, discardLogger()))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, multipartRequest(t, part{FormField, "me.png", pngBytes(t, 200, 120)}))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	env := decode(t, rec)
	var res UploadResult
	if err := json.Unmarshal(env.Data, &res); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if !env.Success || res.ProfilePicture.Path == "" || res.Thumbnail.Width != 100 {
		t.Fatalf("unexpected response %+v", res)
	}

	// The stored primary is served back with caching headers.
	get := httptest.NewRecorder()
	router.ServeHTTP(get, httptest.NewRequest(http.MethodGet, "/files/"+res.Primary.StoragePath, nil))
	if get.Code != http.StatusOK {
		t.Fatalf("serve status = %d", get.Code)
	}
	if ct := get.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Fatalf("content type %q", ct)
	}
	if cc := get.Header().Get("Cache-Control"); cc != cacheControl {
		t.Fatalf("cache control %q", cc)
	}
	if int64(get.Body.Len()) != res.Primary.ByteSize {
		t.Fatalf("served %d bytes, stored %d", get.Body.Len(), res.Primary.ByteSize)
	}

	cond := httptest.NewRequest(http.MethodGet, "/files/"+res.Primary.StoragePath, nil)
	cond.Header.Set("If-Modified-Since", time.Now().Add(time.Minute).UTC().Format(http.TimeFormat))
	notModified := httptest.NewRecorder()
	router.ServeHTTP(notModified, cond)
	if notModified.Code != http.StatusNotModified {
		t.Fatalf("conditional status = %d", notModified.Code)
	}
}

func TestUploadHandlerRejections(t *testing.T) {
	tiny := grayPNG(t, 10, 10)
	cases := []struct {
		name   string
		parts  []part
		status int
		code   string
	}{
		{"missing file", []part{{"other", "me.png", []byte("x")}}, http.StatusBadRequest, "missing_file"},
		{"no parts", nil, http.StatusBadRequest, "missing_file"},
		{"two files", []part{{FormField, "a.png", []byte("a")}, {FormField, "b.png", []byte("b")}}, http.StatusBadRequest, "too_many_files"},
		{"too large", []part{{FormField, "big.jpg", bytes.Repeat([]byte{1}, 5<<20+512<<10)}}, http.StatusRequestEntityTooLarge, "file_too_large"},
		{"not an image", []part{{FormField, "notes.jpg", []byte("plain text pretending to be a photo")}}, http.StatusBadRequest, "unsupported_format"},
		{"too small", []part{{FormField, "tiny.png", tiny}}, http.StatusBadRequest, "image_too_small"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, nil)
			router := newTestRouter(NewHandler(f.svc, discardLogger()))

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, multipartRequest(t, tc.parts...))
			if rec.Code != tc.status {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tc.status, rec.Body.String())
			}
			if env := decode(t, rec); env.Code != tc.code || env.Success {
				t.Fatalf("code = %q, want %q", env.Code, tc.code)
			}
			if got := f.files(t); len(got) != 0 {
				t.Fatalf("rejected request left files: %v", got)
			}
		})
	}
}

func TestUploadHandlerReportsSubMebibyteLimit(t *testing.T) {
	f := newFixture(t, nil)
	f.svc.validator = imaging.NewValidator(imaging.Policy{MaxBytes: 512 << 10, MinDimension: 50, MaxDimension: 5000})
	router := newTestRouter(NewHandler(f.svc, discardLogger()))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, multipartRequest(t, part{FormField, "big.jpg", bytes.Repeat([]byte{1}, 600<<10)}))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413 (body %s)", rec.Code, rec.Body.String())
	}
	if env := decode(t, rec); env.Error != "file exceeds the 512 KiB size limit" {
		t.Fatalf("unexpected message %q", env.Error)
	}
}

func TestUploadHandlerRejectsNonMultipart(t *testing.T) {
	f := newFixture(t, nil)
	router := newTestRouter(NewHandler(f.svc, discardLogger()))

	req := httptest.NewRequest(http.MethodPost, "/users/me/profile-picture", strings.NewReader(`{"picture":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestRemoveHandler(t *testing.T) {
	f := newFixture(t, nil)
	router := newTestRouter(NewHandler(f.svc, discardLogger()))

	del := func() *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/users/me/profile-picture", nil))
		return rec
	}

	if rec := del(); rec.Code != http.StatusNotFound {
		t.Fatalf("remove without picture: status %d", rec.Code)
	}
	if _, err := f.svc.Upload(context.Background(), upload(pngBytes(t, 100, 100), "me.png")); err != nil {
		t.Fatalf("upload: %v", err)
	}
	if rec := del(); rec.Code != http.StatusOK {
		t.Fatalf("remove: status %d body %s", rec.Code, rec.Body.String())
	}
	if got := f.files(t); len(got) != 0 {
		t.Fatalf("files left after remove: %v", got)
	}
}

func TestServeHandlerNotFound(t *testing.T) {
	f := newFixture(t, nil)
	router := newTestRouter(NewHandler(f.svc, discardLogger()))

	res, err := f.svc.Upload(context.Background(), upload(pngBytes(t, 100, 100), "me.png"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	tmpRel := path.Join(path.Dir(res.Primary.StoragePath), ".upload-42")
	if err := os.WriteFile(filepath.Join(f.root, filepath.FromSlash(tmpRel)), []byte("partial"), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	for _, p := range []string{"/files/profile-pictures/2026/01/nope.jpg", "/files/profile-pictures/2026", "/files/" + tmpRel} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, p, nil))
		if rec.Code != http.StatusNotFound {
			t.Fatalf("GET %s: status %d", p, rec.Code)
		}
	}
}

func TestWriteErrorStatusMapping(t *testing.T) {
	h := NewHandler(nil, discardLogger())
	cases := []struct {
		err    error
		status int
	}{
		{newError(ErrInvalidInput, "image_too_small", "too small", nil), http.StatusBadRequest},
		{newError(ErrInvalidInput, "file_too_large", "too big", nil), http.StatusRequestEntityTooLarge},
		{newError(ErrStorageUnavailable, "storage_unavailable", "down", nil), http.StatusServiceUnavailable},
		{newError(ErrProcessingFailed, "processing_failed", "bad", nil), http.StatusUnprocessableEntity},
		{newError(ErrLinkFailed, "link_failed", "db", nil), http.StatusInternalServerError},
		{newError(ErrLinkFailed, "stale_reference", "retry", nil), http.StatusConflict},
		{newError(ErrNotFound, "not_found", "gone", nil), http.StatusNotFound},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		h.writeError(rec, httptest.NewRequest(http.MethodGet, "/", nil), tc.err)
		if rec.Code != tc.status {
			t.Errorf("%v: status %d, want %d", tc.err, rec.Code, tc.status)
		}
	}
}
