package artwork

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestRadioLogoScoring(t *testing.T) {
	var gotPath, gotQuery, gotUA string
	srv := newRecordingServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotQuery, gotUA = r.URL.Path, r.URL.RawQuery, r.UserAgent()
		fmt.Fprint(w, `[
			{"favicon": "https://logos.test/popular.png", "votes": 500, "url": "http://other.net/live"},
			{"favicon": "https://logos.test/match.png", "votes": 10, "url_resolved": "http://edge1.stream.example.com/mp3"},
			{"favicon": "", "votes": 99999, "url": "http://stream.example.com/x"}
		]`)
	}))
	res := newTestResolver(t, srv.URL)

	got := res.RadioLogo(context.Background(), "Radio Paradise (Main Mix)", "http://live.stream.example.com:8000/rp.mp3")
	if got != "https://logos.test/match.png" {
		t.Fatalf("logo=%q, want domain match", got)
	}
	if gotPath != "/json/stations/byname/Radio Paradise" {
		t.Fatalf("path=%q", gotPath)
	}
	for _, part := range []string{"limit=20", "order=votes", "reverse=true"} {
		if !strings.Contains(gotQuery, part) {
			t.Errorf("query %q missing %s", gotQuery, part)
		}
	}
	if gotUA != "snapmeta-test" {
		t.Errorf("user agent=%q", gotUA)
	}

	// Cached under the original name.
	res.RadioLogo(context.Background(), "Radio Paradise (Main Mix)", "http://live.stream.example.com:8000/rp.mp3")
	if n := srv.count("/json/"); n != 1 {
		t.Fatalf("requests=%d, want 1", n)
	}
}

func TestRadioLogoHighestVotesWithoutDomain(t *testing.T) {
	srv := newRecordingServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"favicon":"a","votes":5},{"favicon":"b","votes":50}]`)
	}))
	if got := newTestResolver(t, srv.URL).RadioLogo(context.Background(), "Jazz FM", ""); got != "b" {
		t.Fatalf("logo=%q, want b", got)
	}
}

func TestRadioLogoRejectsBadNames(t *testing.T) {
	srv := newRecordingServer(t, http.NotFoundHandler())
	res := newTestResolver(t, srv.URL)

	for _, name := range []string{"", strings.Repeat("x", 201)} {
		if got := res.RadioLogo(context.Background(), name, ""); got != "" {
			t.Fatalf("RadioLogo(%d chars)=%q", len(name), got)
		}
	}
	if n := srv.count("/"); n != 0 {
		t.Fatalf("requests=%d, want 0", n)
	}
}

func TestRadioLogoCachesFailures(t *testing.T) {
	srv := newRecordingServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	res := newTestResolver(t, srv.URL)

	for i := 0; i < 3; i++ {
		if got := res.RadioLogo(context.Background(), "Some Station", ""); got != "" {
			t.Fatalf("logo=%q", got)
		}
	}
	if n := srv.count("/json/"); n != 1 {
		t.Fatalf("requests=%d, want 1", n)
	}
}

func TestCleanStationName(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Radio Paradise (Main Mix)", "Radio Paradise"},
		{"FIP [Paris]", "FIP"},
		{"KEXP - Where the Music Matters", "KEXP"},
		{"BBC Radio 6 Music", "BBC Radio 6 Music"},
		{"AB (x)", "AB (x)"},
		{"Rock Antenne - Heavy (HQ)", "Rock Antenne"},
	}
	for _, tt := range tests {
		if got := cleanStationName(tt.in); got != tt.want {
			t.Errorf("cleanStationName(%q)=%q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStreamDomain(t *testing.T) {
	tests := []struct{ in, want string }{
		{"http://live.stream.example.com:8000/x", "example.com"},
		{"https://example.org/x", "example.org"},
		{"", ""},
		{"http://localhost/x", "localhost"},
	}
	for _, tt := range tests {
		if got := streamDomain(tt.in); got != tt.want {
			t.Errorf("streamDomain(%q)=%q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestAlbumArtPrefersITunes(t *testing.T) {
	srv := newRecordingServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/search":
			if r.URL.Query().Get("entity") != "album" || r.URL.Query().Get("term") != "Daft Punk Discovery" {
				t.Errorf("unexpected query %q", r.URL.RawQuery)
			}
			fmt.Fprint(w, `{"resultCount":2,"results":[
				{"collectionName":"Discovery","artistName":"Someone Else","artworkUrl100":"https://img.test/wrong/100x100bb.jpg"},
				{"collectionName":"Discovery (Remastered)","artistName":"daft punk ","artworkUrl100":"https://img.test/right/100x100bb.jpg"}
			]}`)
		default:
			t.Errorf("unexpected request %s", r.URL.Path)
		}
	}))
	res := newTestResolver(t, srv.URL)

	got := res.AlbumArt(context.Background(), "Daft Punk", "Discovery")
	if got != "https://img.test/right/600x600bb.jpg" {
		t.Fatalf("art=%q", got)
	}
	if srv.count("/ws/2/") != 0 {
		t.Fatal("MusicBrainz queried after an iTunes hit")
	}
}

func TestAlbumArtFallsBackToMusicBrainz(t *testing.T) {
	var mbQuery string
	srv := newRecordingServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/search":
			fmt.Fprint(w, `{"resultCount":0,"results":[]}`)
		case "/ws/2/release/":
			mbQuery = r.URL.Query().Get("query")
			fmt.Fprint(w, `{"releases":[{"id":"mbid-123"}]}`)
		}
	}))
	res := newTestResolver(t, srv.URL)

	got := res.AlbumArt(context.Background(), "Air", "Moon Safari")
	if want := srv.URL + "/caa/release/mbid-123/front-500"; got != want {
		t.Fatalf("art=%q, want %q", got, want)
	}
	if mbQuery != `artist:"Air" AND release:"Moon Safari"` {
		t.Fatalf("query=%q", mbQuery)
	}
}

func TestAlbumArtCachesNegative(t *testing.T) {
	srv := newRecordingServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/search":
			fmt.Fprint(w, `{"resultCount":0}`)
		default:
			fmt.Fprint(w, `{"releases":[]}`)
		}
	}))
	res := newTestResolver(t, srv.URL)

	for i := 0; i < 2; i++ {
		if got := res.AlbumArt(context.Background(), "Nobody", "Nothing"); got != "" {
			t.Fatalf("art=%q", got)
		}
	}
	if n := srv.count("/"); n != 2 {
		t.Fatalf("requests=%d, want 2 (one per provider)", n)
	}
	if got := res.AlbumArt(context.Background(), "", "Nothing"); got != "" {
		t.Fatalf("art=%q for empty artist", got)
	}
}

func wikiServer(t *testing.T, relations, claims string) *recordingServer {
	return newRecordingServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/ws/2/artist/":
			fmt.Fprint(w, `{"artists":[{"id":"artist-1"}]}`)
		case r.URL.Path == "/ws/2/artist/artist-1":
			if r.URL.Query().Get("inc") != "url-rels" {
				t.Errorf("detail query=%q", r.URL.RawQuery)
			}
			fmt.Fprintf(w, `{"relations":%s}`, relations)
		case r.URL.Path == "/wiki/Special:EntityData/Q42.json":
			fmt.Fprintf(w, `{"entities":{"Q42":{"claims":%s}}}`, claims)
		default:
			http.NotFound(w, r)
		}
	}))
}

func md5hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestArtistImageChain(t *testing.T) {
	srv := wikiServer(t,
		`[{"type":"discogs","url":{"resource":"https://discogs.test/a"}},{"type":"wikidata","url":{"resource":"https://www.wikidata.org/wiki/Q42"}}]`,
		`{"P18":[{"mainsnak":{"datavalue":{"value":"Band Photo (2010).jpg"}}}]}`)
	res := newTestResolver(t, srv.URL)

	got := res.ArtistImage(context.Background(), "The Band")
	h := md5hex("Band_Photo_(2010).jpg")
	want := fmt.Sprintf("https://thumbs.test/commons/thumb/%s/%s/Band_Photo_%%282010%%29.jpg/500px-Band_Photo_%%282010%%29.jpg", h[:1], h[:2])
	if got != want {
		t.Fatalf("image=%q\nwant   %q", got, want)
	}

	res.ArtistImage(context.Background(), "The Band")
	if n := srv.count("/"); n != 3 {
		t.Fatalf("requests=%d, want 3", n)
	}
}

func TestArtistImageSVGGetsPNGThumb(t *testing.T) {
	srv := wikiServer(t,
		`[{"type":"wikidata","url":{"resource":"https://www.wikidata.org/wiki/Q42"}}]`,
		`{"P18":[{"mainsnak":{"datavalue":{"value":"Logo.svg"}}}]}`)
	got := newTestResolver(t, srv.URL).ArtistImage(context.Background(), "Logo Band")
	if !strings.HasSuffix(got, "/500px-Logo.svg.png") {
		t.Fatalf("image=%q", got)
	}
}

func TestArtistImageMissingHopCachesNegative(t *testing.T) {
	srv := wikiServer(t, `[{"type":"discogs","url":{"resource":"https://discogs.test/a"}}]`, `{}`)
	res := newTestResolver(t, srv.URL)

	for i := 0; i < 2; i++ {
		if got := res.ArtistImage(context.Background(), "No Wiki"); got != "" {
			t.Fatalf("image=%q", got)
		}
	}
	if n := srv.count("/wiki/"); n != 0 {
		t.Fatalf("wikidata requests=%d, want 0", n)
	}
	if n := srv.count("/ws/2/"); n != 2 {
		t.Fatalf("musicbrainz requests=%d, want 2", n)
	}
}

func TestArtistImageNoClaims(t *testing.T) {
	srv := wikiServer(t, `[{"type":"wikidata","url":{"resource":"https://www.wikidata.org/wiki/Q42"}}]`, `{"P31":[]}`)
	if got := newTestResolver(t, srv.URL).ArtistImage(context.Background(), "X"); got != "" {
		t.Fatalf("image=%q", got)
	}
}

func TestQuotePath(t *testing.T) {
	if got := quotePath("A b/c(d)&é.jpg"); got != "A%20b/c%28d%29%26%C3%A9.jpg" {
		t.Fatalf("quotePath=%q", got)
	}
}
