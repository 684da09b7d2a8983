package publish

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/yungbote/neurobridge-explainer/internal/config"
	"github.com/yungbote/neurobridge-explainer/internal/explainer/render"
)

type upload struct {
	bucket, key, contentType, body string
}

type fakeWriter struct {
	uploads []upload
	err     error
}

func (f *fakeWriter) Write(_ context.Context, bucket, key, contentType string, r io.Reader) error {
	if f.err != nil {
		return f.err
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.uploads = append(f.uploads, upload{bucket, key, contentType, string(b)})
	return nil
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestPublishUploadsVideoAndPoster(t *testing.T) {
	dir := t.TempDir()
	res := render.Result{
		VideoPath:  writeFile(t, dir, "NewtonsFirstLawScene.mp4", "video"),
		PosterPath: writeFile(t, dir, "poster.png", "png"),
	}
	w := &fakeWriter{}
	p := newGCS(nil, w, config.PublishConfig{GCSBucket: "explainers", KeyPrefix: "/videos/"})

	url, err := p.Publish(context.Background(), "run-1", res)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if url != "https://storage.googleapis.com/explainers/videos/run-1/NewtonsFirstLawScene.mp4" {
		t.Fatalf("url=%q", url)
	}
	want := []upload{
		{"explainers", "videos/run-1/NewtonsFirstLawScene.mp4", "video/mp4", "video"},
		{"explainers", "videos/run-1/poster.png", "image/png", "png"},
	}
	if len(w.uploads) != len(want) {
		t.Fatalf("uploads=%+v", w.uploads)
	}
	for i := range want {
		if w.uploads[i] != want[i] {
			t.Fatalf("upload %d=%+v want %+v", i, w.uploads[i], want[i])
		}
	}
}

func TestPublicURLUsesBase(t *testing.T) {
	p := newGCS(nil, &fakeWriter{}, config.PublishConfig{GCSBucket: "b", PublicBaseURL: "https://cdn.example.com/"})
	if got := p.PublicURL("/x/y.mp4"); got != "https://cdn.example.com/x/y.mp4" {
		t.Fatalf("url=%q", got)
	}
}

func TestPublishErrors(t *testing.T) {
	p := newGCS(nil, &fakeWriter{}, config.PublishConfig{GCSBucket: "b"})
	if _, err := p.Publish(context.Background(), "r", render.Result{VideoPath: filepath.Join(t.TempDir(), "missing.mp4")}); err == nil {
		t.Fatalf("expected open error")
	}

	dir := t.TempDir()
	p = newGCS(nil, &fakeWriter{err: errors.New("403")}, config.PublishConfig{GCSBucket: "b"})
	_, err := p.Publish(context.Background(), "r", render.Result{VideoPath: writeFile(t, dir, "S.mp4", "v")})
	if err == nil || !strings.Contains(err.Error(), "r/S.mp4") {
		t.Fatalf("err=%v", err)
	}

	if _, err := NewGCS(context.Background(), nil, config.PublishConfig{}); err == nil {
		t.Fatalf("expected bucket error")
	}
}

func TestClientOptions(t *testing.T) {
	t.Setenv("STORAGE_EMULATOR_HOST", "http://localhost:4443")
	if n := len(clientOptions(config.PublishConfig{})); n != 1 {
		t.Fatalf("emulator options=%d", n)
	}
	t.Setenv("STORAGE_EMULATOR_HOST", "")
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS_JSON", "")
	if n := len(clientOptions(config.PublishConfig{CredentialsFile: "/etc/key.json"})); n != 2 {
		t.Fatalf("file options=%d", n)
	}
	if n := len(clientOptions(config.PublishConfig{})); n != 1 {
		t.Fatalf("default options=%d", n)
	}
}
