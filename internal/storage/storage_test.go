package storage

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

func TestFilesystemPutGet(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFilesystem(dir, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if err := fs.Put(ctx, "artwork_abc.jpg", []byte("jpeg")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := fs.Get(ctx, "artwork_abc.jpg")
	if err != nil || string(got) != "jpeg" {
		t.Fatalf("Get=%q, %v", got, err)
	}
	if !fs.Exists("artwork_abc.jpg") {
		t.Fatal("Exists=false after Put")
	}

	tmps, _ := filepath.Glob(filepath.Join(dir, "*.tmp"))
	if len(tmps) != 0 {
		t.Fatalf("temp files left behind: %v", tmps)
	}
}

func TestFilesystemRejectsInvalidKeys(t *testing.T) {
	fs, _ := NewFilesystem(t.TempDir(), zerolog.Nop())
	for _, key := range []string{"", ".", "../escape", "a/b", `a\b`, "x..y"} {
		if err := fs.Put(context.Background(), key, []byte("x")); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("Put(%q) err=%v, want ErrInvalidKey", key, err)
		}
	}
}

func TestFilesystemGetMissing(t *testing.T) {
	fs, _ := NewFilesystem(t.TempDir(), zerolog.Nop())
	if _, err := fs.Get(context.Background(), "nope.jpg"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v, want ErrNotFound", err)
	}
}

func TestFilesystemExistsIgnoresEmptyFiles(t *testing.T) {
	dir := t.TempDir()
	fs, _ := NewFilesystem(dir, zerolog.Nop())
	if err := os.WriteFile(filepath.Join(dir, "empty.png"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if fs.Exists("empty.png") {
		t.Fatal("empty file reported as existing")
	}
}

func TestFilesystemRemoveMatching(t *testing.T) {
	dir := t.TempDir()
	fs, _ := NewFilesystem(dir, zerolog.Nop())
	for _, name := range []string{"metadata_MPD.json", "metadata_Spotify.json", "artwork_a.jpg", "x.jpg.123.tmp"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	n, err := fs.RemoveMatching("metadata_*.json")
	if err != nil || n != 2 {
		t.Fatalf("RemoveMatching=%d, %v", n, err)
	}
	n, _ = fs.RemoveMatching("*.tmp")
	if n != 1 {
		t.Fatalf("removed %d tmp files, want 1", n)
	}
	if !fs.Exists("artwork_a.jpg") {
		t.Fatal("artwork removed by sweep")
	}
}

func TestS3StorePutAndGet(t *testing.T) {
	t.Setenv("AWS_CONFIG_FILE", filepath.Join(t.TempDir(), "config"))
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", filepath.Join(t.TempDir(), "credentials"))

	var mu sync.Mutex
	objects := map[string][]byte{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		switch r.Method {
		case http.MethodPut:
			body, _ := io.ReadAll(r.Body)
			objects[r.URL.Path] = body
			w.WriteHeader(http.StatusOK)
		case http.MethodGet:
			body, ok := objects[r.URL.Path]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Header().Set("Content-Type", "application/octet-stream")
			_, _ = w.Write(body)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	defer srv.Close()

	store, err := NewS3Store(context.Background(), S3Config{
		Bucket:          "art",
		Region:          "us-east-1",
		Endpoint:        srv.URL,
		AccessKeyID:     "test",
		SecretAccessKey: "secret",
		Prefix:          "artwork",
		UsePathStyle:    true,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewS3Store: %v", err)
	}

	if err := store.Put(context.Background(), "artwork_abc.png", []byte("\x89PNG\r\n\x1a\nbody")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	mu.Lock()
	_, stored := objects["/art/artwork/artwork_abc.png"]
	mu.Unlock()
	if !stored {
		t.Fatalf("object not stored at expected path, have %v", objects)
	}

	got, err := store.Get(context.Background(), "artwork_abc.png")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "\x89PNG\r\n\x1a\nbody" {
		t.Fatalf("Get=%q", got)
	}
}

func TestNewS3StoreRequiresBucket(t *testing.T) {
	if _, err := NewS3Store(context.Background(), S3Config{Region: "us-east-1"}, zerolog.Nop()); err == nil {
		t.Fatal("expected error for empty bucket")
	}
}
