package nowplaying

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/snapmeta/internal/events"
	"github.com/friendsincode/snapmeta/internal/metadata"
	"github.com/friendsincode/snapmeta/internal/mpd"
	"github.com/friendsincode/snapmeta/internal/snapcast"
	"github.com/friendsincode/snapmeta/internal/storage"
	"github.com/friendsincode/snapmeta/internal/workers"
)

type fakeTopology struct {
	mu     sync.Mutex
	server *snapcast.Server
	err    error
	calls  int
}

func (f *fakeTopology) GetServerStatus(context.Context) (*snapcast.Server, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.server, f.err
}

func (f *fakeTopology) set(server *snapcast.Server) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.server = server
}

type fakePlayer struct {
	status, song mpd.Attrs
	err          error
}

func (f *fakePlayer) NowPlaying(context.Context) (mpd.Attrs, mpd.Attrs, error) {
	return f.status, f.song, f.err
}

type fakeEnricher struct {
	artwork string
	resets  int
}

func (f *fakeEnricher) Enrich(_ context.Context, r *metadata.Record) {
	if r.Playing && r.Artwork == "" {
		r.Artwork = f.artwork
	}
}

func (f *fakeEnricher) ResetFailedDownloads() { f.resets++ }

type broadcast struct {
	streamID string
	rec      metadata.Record
}

type fakeBroadcaster struct {
	zones *snapcast.ZoneMap
	sent  []broadcast
}

func (f *fakeBroadcaster) UpdateZones(z *snapcast.ZoneMap) { f.zones = z }

func (f *fakeBroadcaster) Broadcast(_ context.Context, streamID string, rec metadata.Record, _ *snapcast.Server) int {
	f.sent = append(f.sent, broadcast{streamID, rec})
	return 1
}

type fixture struct {
	svc      *Service
	topo     *fakeTopology
	player   *fakePlayer
	enricher *fakeEnricher
	hub      *fakeBroadcaster
	bus      *events.Bus
	dir      string
}

func newFixture(t *testing.T, server *snapcast.Server) *fixture {
	t.Helper()
	pool, err := workers.New(4, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(pool.Close)
	dir := t.TempDir()
	files, err := storage.NewFilesystem(dir, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	f := &fixture{
		topo:     &fakeTopology{server: server},
		player:   &fakePlayer{status: mpd.Attrs{"state": "stop"}},
		enricher: &fakeEnricher{},
		hub:      &fakeBroadcaster{},
		bus:      events.NewBus(),
		dir:      dir,
	}
	f.svc = New(Deps{
		Topology:    f.topo,
		Player:      f.player,
		Enricher:    f.enricher,
		Broadcaster: f.hub,
		Pool:        pool,
		Files:       files,
		Bus:         f.bus,
	}, Options{MPDStreamID: "MPD", SnapHost: "snap.lan"}, zerolog.Nop())
	return f
}

func playingStream(id, title string, position float64) snapcast.Stream {
	return snapcast.Stream{
		ID:     id,
		Status: "playing",
		URI:    snapcast.StreamURI{Query: map[string]string{"codec": "flac", "sampleformat": "44100:16:2"}},
		Properties: snapcast.StreamProperties{
			Position: position,
			Metadata: snapcast.StreamMetadata{Title: title, Artist: snapcast.Artists{"Band"}, Album: "Album"},
		},
	}
}

func topologyWith(streams ...snapcast.Stream) *snapcast.Server {
	return &snapcast.Server{
		Groups: []snapcast.Group{{StreamID: "Spotify", Clients: []snapcast.Client{{ID: "aa:bb", Host: snapcast.Host{Name: "kitchen"}}}}},
		Streams: streams,
	}
}

func TestPollPublishesAndPersistsNewStreams(t *testing.T) {
	f := newFixture(t, topologyWith(
		snapcast.Stream{ID: "MPD", Status: "idle"},
		playingStream("Spotify", "Song", 10),
	))
	f.enricher.artwork = "http://snap.lan:8083/artwork/a.png"

	if err := f.svc.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	if len(f.hub.sent) != 2 {
		t.Fatalf("broadcasts=%d, want 2", len(f.hub.sent))
	}
	if got, _ := f.hub.zones.Resolve("kitchen"); got != "Spotify" {
		t.Fatal("zone map not installed")
	}

	rec, ok := f.svc.Current("Spotify")
	if !ok || rec.Title != "Song" || rec.Artwork != "http://snap.lan:8083/artwork/a.png" {
		t.Fatalf("current=%+v", rec)
	}
	if def, _ := f.svc.Default(); def.StreamID != "Spotify" {
		t.Fatalf("default=%q, want first playing stream", def.StreamID)
	}

	data, err := os.ReadFile(filepath.Join(f.dir, "metadata_Spotify.json"))
	if err != nil {
		t.Fatalf("metadata file: %v", err)
	}
	var onDisk map[string]any
	if err := json.Unmarshal(data, &onDisk); err != nil {
		t.Fatal(err)
	}
	if onDisk["title"] != "Song" || onDisk["codec"] != "FLAC" {
		t.Fatalf("persisted=%v", onDisk)
	}
	if _, err := os.Stat(filepath.Join(f.dir, "metadata_MPD.json")); err != nil {
		t.Fatalf("idle stream not persisted: %v", err)
	}
	if f.svc.LastPoll().IsZero() {
		t.Fatal("last poll not recorded")
	}
}

func TestPollChangeDetection(t *testing.T) {
	f := newFixture(t, topologyWith(playingStream("Spotify", "Song", 10)))
	tracks := f.bus.Subscribe(events.EventTrackChange)
	ctx := context.Background()

	_ = f.svc.Poll(ctx)
	if f.enricher.resets != 1 || len(tracks) != 1 {
		t.Fatalf("first sight: resets=%d track events=%d", f.enricher.resets, len(tracks))
	}

	// Unchanged: nothing published.
	_ = f.svc.Poll(ctx)
	if len(f.hub.sent) != 1 {
		t.Fatalf("broadcasts=%d after unchanged poll", len(f.hub.sent))
	}

	// Elapsed only: published, no track change.
	f.topo.set(topologyWith(playingStream("Spotify", "Song", 42)))
	_ = f.svc.Poll(ctx)
	if len(f.hub.sent) != 2 || f.hub.sent[1].rec.Elapsed != 42 {
		t.Fatalf("volatile change not published: %+v", f.hub.sent)
	}
	if f.enricher.resets != 1 || len(tracks) != 1 {
		t.Fatal("volatile change treated as track change")
	}

	// New title: track change.
	f.topo.set(topologyWith(playingStream("Spotify", "Other Song", 0)))
	_ = f.svc.Poll(ctx)
	if len(f.hub.sent) != 3 || f.enricher.resets != 2 || len(tracks) != 2 {
		t.Fatalf("track change: broadcasts=%d resets=%d events=%d", len(f.hub.sent), f.enricher.resets, len(tracks))
	}
	ev := <-tracks
	if ev.StreamID() != "Spotify" {
		t.Fatalf("event=%v", ev)
	}
}

func TestPollUsesPlayerForMPDStream(t *testing.T) {
	f := newFixture(t, topologyWith(snapcast.Stream{ID: "MPD", Status: "idle"}))
	f.player.status = mpd.Attrs{"state": "play", "bitrate": "128", "audio": "44100:16:2"}
	f.player.song = mpd.Attrs{"file": "http://radio.example.com/live", "Title": "Band - Tune", "Name": "Example FM"}

	_ = f.svc.Poll(context.Background())
	rec, _ := f.svc.Current("MPD")
	if !rec.Playing || rec.Title != "Tune" || rec.Artist != "Band" || rec.Source != metadata.SourceMPD || !rec.IsRadio() {
		t.Fatalf("record=%+v", rec)
	}
}

func TestPollKeepsSnapcastRecordWhenPlayerIdleOrDown(t *testing.T) {
	tests := []struct {
		name   string
		player fakePlayer
	}{
		{"stopped", fakePlayer{status: mpd.Attrs{"state": "stop"}}},
		{"unreachable", fakePlayer{err: errors.New("connection refused")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, topologyWith(playingStream("MPD", "From Snapcast", 0)))
			*f.player = tt.player

			_ = f.svc.Poll(context.Background())
			rec, _ := f.svc.Current("MPD")
			if rec.Title != "From Snapcast" {
				t.Fatalf("record=%+v", rec)
			}
		})
	}
}

func TestPollTopologyFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.topo.err = errors.New("snapserver unreachable")

	if err := f.svc.Poll(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if len(f.hub.sent) != 0 || !f.svc.LastPoll().IsZero() {
		t.Fatal("failed poll had side effects")
	}
	if _, ok := f.svc.Default(); ok {
		t.Fatal("default record before any stream")
	}
}

func TestDefaultFallsBackToFirstStream(t *testing.T) {
	f := newFixture(t, topologyWith(
		snapcast.Stream{ID: "AirPlay", Status: "idle"},
		snapcast.Stream{ID: "Spotify", Status: "idle"},
	))
	_ = f.svc.Poll(context.Background())

	rec, ok := f.svc.Default()
	if !ok || rec.StreamID != "AirPlay" || rec.Playing {
		t.Fatalf("default=%+v", rec)
	}
	if got := f.svc.Streams(); len(got) != 2 || got[0] != "AirPlay" {
		t.Fatalf("streams=%v", got)
	}
}

func TestRunBacksOffAndStops(t *testing.T) {
	f := newFixture(t, nil)
	f.topo.err = errors.New("down")
	f.svc.opts.Interval = time.Millisecond
	f.svc.opts.Backoff = 50 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	if err := f.svc.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	f.topo.mu.Lock()
	calls := f.topo.calls
	f.topo.mu.Unlock()
	if calls < 1 || calls > 4 {
		t.Fatalf("topology calls=%d, want a few spaced by the backoff", calls)
	}
}
