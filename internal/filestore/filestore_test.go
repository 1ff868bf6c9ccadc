package filestore

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tuna/fishroom/internal/config"
)

// TestNew checks provider selection and option validation.
func TestNew(t *testing.T) {
	if _, err := New(config.StoreConfig{Provider: "vim-cn"}); err != nil {
		t.Errorf("New(vim-cn) error = %v", err)
	}
	if _, err := New(config.StoreConfig{Provider: "imgur", Options: map[string]string{"client_id": "x"}}); err != nil {
		t.Errorf("New(imgur) error = %v", err)
	}
	if _, err := New(config.StoreConfig{Provider: "imgur"}); err == nil {
		t.Error("New(imgur without client_id) did not fail")
	}
	if _, err := New(config.StoreConfig{Provider: "qiniu"}); err == nil {
		t.Error("New(unknown provider) did not fail")
	}
}

// TestVimCNUpload checks the multipart request shape and URL extraction.
func TestVimCNUpload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("not a multipart request: %v", err)
		}
		f, hdr, err := r.FormFile("image")
		if err != nil {
			t.Fatalf("missing image field: %v", err)
		}
		defer f.Close()
		if hdr.Filename != "cat.png" {
			t.Errorf("filename = %q, want %q", hdr.Filename, "cat.png")
		}
		data, _ := io.ReadAll(f)
		if string(data) != "fakepng" {
			t.Errorf("payload = %q", data)
		}
		io.WriteString(w, "https://img.vim-cn.com/ab/cd.png\n")
	}))
	defer srv.Close()

	v := NewVimCN()
	v.url = srv.URL

	url, err := v.Upload(context.Background(), []byte("fakepng"), "cat.png")
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if url != "https://img.vim-cn.com/ab/cd.png" {
		t.Errorf("Upload() = %q", url)
	}
}

// TestVimCNUploadRejectsGarbage checks a non-URL body is an error.
func TestVimCNUploadRejectsGarbage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "server too busy")
	}))
	defer srv.Close()

	v := NewVimCN()
	v.url = srv.URL
	if _, err := v.Upload(context.Background(), []byte("x"), "x.png"); err == nil {
		t.Error("Upload() accepted a non-URL response")
	}
}

// TestImgurUpload checks auth header, form fields, and response parsing.
func TestImgurUpload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Client-ID myclient" {
			t.Errorf("Authorization = %q", got)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("bad form: %v", err)
		}
		if r.PostForm.Get("type") != "base64" {
			t.Errorf("type = %q, want base64", r.PostForm.Get("type"))
		}
		if r.PostForm.Get("image") == "" {
			t.Error("image field empty")
		}
		io.WriteString(w, `{"status":200,"success":true,"data":{"link":"https://i.imgur.com/x.png"}}`)
	}))
	defer srv.Close()

	i := NewImgur("myclient")
	i.url = srv.URL

	url, err := i.Upload(context.Background(), []byte("fakepng"), "x.png")
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if url != "https://i.imgur.com/x.png" {
		t.Errorf("Upload() = %q", url)
	}
}

// TestImgurUploadError checks the API error shape is surfaced.
func TestImgurUploadError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"status":403,"success":false,"data":{"error":"bad client"}}`)
	}))
	defer srv.Close()

	i := NewImgur("myclient")
	i.url = srv.URL
	_, err := i.Upload(context.Background(), []byte("x"), "x.png")
	if err == nil || !strings.Contains(err.Error(), "bad client") {
		t.Errorf("Upload() error = %v, want imgur error detail", err)
	}
}

type captureUploader struct{ data []byte }

func (c *captureUploader) Upload(_ context.Context, data []byte, _ string) (string, error) {
	c.data = data
	return "https://img.example.com/x.png", nil
}

// TestDownscalerCapsUploads checks the configured width cap is applied
// before bytes reach the backing host.
func TestDownscalerCapsUploads(t *testing.T) {
	wide := image.NewRGBA(image.Rect(0, 0, 100, 40))
	var buf bytes.Buffer
	if err := png.Encode(&buf, wide); err != nil {
		t.Fatal(err)
	}

	sink := &captureUploader{}
	d := &downscaler{next: sink, maxWidth: 50}
	if _, err := d.Upload(context.Background(), buf.Bytes(), "cat.png"); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	img, _, err := image.Decode(bytes.NewReader(sink.data))
	if err != nil {
		t.Fatalf("uploaded bytes do not decode: %v", err)
	}
	if img.Bounds().Dx() != 50 {
		t.Errorf("uploaded width = %d, want 50", img.Bounds().Dx())
	}
}

// TestDownscale checks wide images shrink and everything else passes
// through untouched.
func TestDownscale(t *testing.T) {
	wide := image.NewRGBA(image.Rect(0, 0, 100, 40))
	var buf bytes.Buffer
	if err := png.Encode(&buf, wide); err != nil {
		t.Fatal(err)
	}
	original := buf.Bytes()

	out := Downscale(original, 50)
	img, _, err := image.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("downscaled output does not decode: %v", err)
	}
	if img.Bounds().Dx() != 50 {
		t.Errorf("width = %d, want 50", img.Bounds().Dx())
	}
	if img.Bounds().Dy() != 20 {
		t.Errorf("height = %d, want 20 (aspect kept)", img.Bounds().Dy())
	}

	// Narrow enough already: unchanged.
	if got := Downscale(original, 200); !bytes.Equal(got, original) {
		t.Error("narrow image was rewritten")
	}
	// Not an image: unchanged.
	if got := Downscale([]byte("not an image"), 50); string(got) != "not an image" {
		t.Error("garbage bytes were rewritten")
	}
	// Disabled: unchanged.
	if got := Downscale(original, 0); !bytes.Equal(got, original) {
		t.Error("maxWidth 0 should disable downscaling")
	}
}
