/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/friendsincode/snapmeta/internal/metadata"
	"github.com/friendsincode/snapmeta/internal/telemetry"
)

// Records exposes the current per-stream records.
type Records interface {
	Current(streamID string) (metadata.Record, bool)
	Default() (metadata.Record, bool)
	LastPoll() time.Time
}

// Subscribers reports the number of subscribed displays.
type Subscribers interface {
	Len() int
}

type routerDeps struct {
	ArtworkDir     string
	DefaultsDir    string
	Records        Records
	Subscribers    Subscribers
	MetricsEnabled bool
	Logger         zerolog.Logger
}

var artworkTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".svg":  "image/svg+xml",
}

var defaultsTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
}

func newRouter(d routerDeps) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(securityHeadersMiddleware)
	r.Use(telemetry.TracingMiddleware("snapmeta-http"))
	r.Use(telemetry.MetricsMiddleware)

	r.Get("/artwork/{filename}", fileHandler(d.ArtworkDir, artworkTypes, "public, max-age=3600"))
	r.Get("/defaults/{filename}", fileHandler(d.DefaultsDir, defaultsTypes, "public, max-age=86400"))
	r.Get("/metadata.json", metadataHandler(d.Records))
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("OK"))
	})
	r.Get("/healthz", healthzHandler(d.Records, d.Subscribers))
	if d.MetricsEnabled {
		r.Handle("/metrics", telemetry.Handler())
	}
	return r
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; img-src 'self'; frame-ancestors 'none'")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

// validFilename allows letters, digits, '-', '_' and '.', and rejects "..".
func validFilename(name string) bool {
	if name == "" || strings.Contains(name, "..") {
		return false
	}
	for _, c := range name {
		if !unicode.IsLetter(c) && !unicode.IsDigit(c) && c != '-' && c != '_' && c != '.' {
			return false
		}
	}
	return true
}

func fileHandler(dir string, types map[string]string, cacheControl string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "filename")
		if !validFilename(name) {
			http.Error(w, "Invalid filename", http.StatusBadRequest)
			return
		}

		f, err := os.Open(filepath.Join(dir, name))
		if err != nil {
			http.NotFound(w, r)
			return
		}
		defer f.Close()
		info, err := f.Stat()
		if err != nil || !info.Mode().IsRegular() {
			http.NotFound(w, r)
			return
		}

		contentType, ok := types[strings.ToLower(filepath.Ext(name))]
		if !ok {
			contentType = "application/octet-stream"
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Cache-Control", cacheControl)
		w.Header().Set("Access-Control-Allow-Origin", "*")
		http.ServeContent(w, r, name, info.ModTime(), f)
	}
}

var notPlaying = []byte(`{"playing":false}`)

func metadataHandler(records Records) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Cache-Control", "no-cache")

		rec, ok := records.Current(r.URL.Query().Get("stream"))
		if !ok {
			rec, ok = records.Default()
		}
		if !ok {
			_, _ = w.Write(notPlaying)
			return
		}
		_ = json.NewEncoder(w).Encode(rec)
	}
}

type healthStatus struct {
	Status      string     `json:"status"`
	LastPoll    *time.Time `json:"last_poll,omitempty"`
	Subscribers int        `json:"subscribers"`
}

func healthzHandler(records Records, subs Subscribers) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		status := healthStatus{Status: "ok", Subscribers: subs.Len()}
		if last := records.LastPoll(); !last.IsZero() {
			status.LastPoll = &last
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache")
		_ = json.NewEncoder(w).Encode(status)
	}
}
