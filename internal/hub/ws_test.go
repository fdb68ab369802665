package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	ws "nhooyr.io/websocket"
)

func TestWebSocketSession(t *testing.T) {
	mixer := &fakeMixer{server: testServer()}
	player := &fakePlayer{}
	h := newTestHub(mixer, player, nil)
	h.Broadcast(context.Background(), "Spotify", song, mixer.server)

	srv := httptest.NewServer(h)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := ws.Dial(ctx, srv.URL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(ws.StatusNormalClosure, "")

	if err := conn.Write(ctx, ws.MessageText, []byte(`{"subscribe":"kitchen"}`)); err != nil {
		t.Fatal(err)
	}
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read initial update: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got["title"] != "Song" || got["volume"] != float64(40) {
		t.Fatalf("initial update=%v", got)
	}

	next := song
	next.Title = "Next Song"
	if sent := h.Broadcast(ctx, "Spotify", next, mixer.server); sent != 1 {
		t.Fatalf("sent=%d", sent)
	}
	_, data, err = conn.Read(ctx)
	if err != nil {
		t.Fatalf("read broadcast: %v", err)
	}
	if err := json.Unmarshal(data, &got); err != nil || got["title"] != "Next Song" {
		t.Fatalf("broadcast=%s", data)
	}

	conn.Close(ws.StatusNormalClosure, "bye")
	deadline := time.Now().Add(2 * time.Second)
	for h.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("subscribers=%d after disconnect", h.Len())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWebSocketOriginPatterns(t *testing.T) {
	mixer := &fakeMixer{server: testServer()}
	h := newTestHub(mixer, nil, nil)
	h.SetOriginPatterns([]string{"display.lan"})

	srv := httptest.NewServer(h)
	defer srv.Close()

	tests := []struct {
		origin string
		ok     bool
	}{
		{"http://display.lan", true},
		{"http://evil.example", false},
		{"", true}, // non-browser clients send no Origin
	}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			header := http.Header{}
			if tt.origin != "" {
				header.Set("Origin", tt.origin)
			}
			conn, _, err := ws.Dial(ctx, srv.URL, &ws.DialOptions{HTTPHeader: header})
			if tt.ok {
				if err != nil {
					t.Fatalf("dial: %v", err)
				}
				conn.Close(ws.StatusNormalClosure, "")
				return
			}
			if err == nil {
				conn.Close(ws.StatusNormalClosure, "")
				t.Fatal("dial from a foreign origin succeeded")
			}
		})
	}
}
