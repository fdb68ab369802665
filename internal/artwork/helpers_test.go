package artwork

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/snapmeta/internal/storage"
)

// recordingServer counts requests per path.
type recordingServer struct {
	*httptest.Server
	mu    sync.Mutex
	paths []string
}

func newRecordingServer(t *testing.T, h http.Handler) *recordingServer {
	t.Helper()
	rs := &recordingServer{}
	rs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rs.mu.Lock()
		rs.paths = append(rs.paths, r.URL.Path)
		rs.mu.Unlock()
		h.ServeHTTP(w, r)
	}))
	t.Cleanup(rs.Close)
	return rs
}

func (rs *recordingServer) count(prefix string) int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	n := 0
	for _, p := range rs.paths {
		if strings.HasPrefix(p, prefix) {
			n++
		}
	}
	return n
}

func newTestResolver(t *testing.T, base string) *Resolver {
	t.Helper()
	return NewResolver(ResolverOptions{
		UserAgent: "snapmeta-test",
		Timeout:   2 * time.Second,
		Endpoints: Endpoints{
			RadioBrowser: base,
			ITunes:       base,
			MusicBrainz:  base,
			CoverArt:     base + "/caa",
			Wikidata:     base,
			Wikimedia:    "https://thumbs.test/commons/thumb",
		},
		MusicBrainzPause: time.Millisecond,
	}, zerolog.Nop())
}

func newTestStore(t *testing.T) (*Store, *storage.Filesystem) {
	t.Helper()
	fs, err := storage.NewFilesystem(t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	return NewStore(fs, nil, zerolog.Nop()), fs
}

type memoryStore struct {
	mu   sync.Mutex
	objs map[string][]byte
}

func (m *memoryStore) Put(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objs[key] = data
	return nil
}

func (m *memoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.objs[key], nil
}

type testURLs struct{}

func (testURLs) ArtworkURL(f string) string {
	if f == "" {
		return ""
	}
	return "http://display.test:8083/artwork/" + f
}

func (testURLs) DefaultAssetURL(f string) string {
	return "http://display.test:8083/defaults/" + f
}

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 32)...)
