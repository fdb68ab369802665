/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package metadata defines the now-playing record published per stream and
// the rules that decide when a new record is worth publishing.
package metadata

import (
	"encoding/json"
	"fmt"
)

// Record is the now-playing state of one stream.
//
// Bitrate, Artwork, ArtistImage and Elapsed are volatile: a difference in
// them alone is republished but is not a logical change. File and
// StationName are internal and never leave the process.
type Record struct {
	Playing     bool   `json:"playing"`
	Title       string `json:"title"`
	Artist      string `json:"artist"`
	Album       string `json:"album"`
	Artwork     string `json:"artwork"`
	ArtistImage string `json:"artist_image"`
	StreamID    string `json:"stream_id"`
	Source      string `json:"source"`
	Codec       string `json:"codec"`
	Bitrate     int    `json:"bitrate"`
	SampleRate  int    `json:"sample_rate"`
	BitDepth    int    `json:"bit_depth"`
	Elapsed     int    `json:"elapsed"`
	Duration    int    `json:"duration"`

	File        string `json:"-"`
	StationName string `json:"-"`
}

// Idle returns the record published for a stream that is not playing.
func Idle(streamID, source string) Record {
	return Record{StreamID: streamID, Source: source}
}

// IsZero reports whether r was never populated.
func (r Record) IsZero() bool {
	return r == Record{}
}

// MarshalJSON emits only playing, stream_id and source for a stopped stream.
func (r Record) MarshalJSON() ([]byte, error) {
	if !r.Playing {
		return json.Marshal(struct {
			Playing  bool   `json:"playing"`
			StreamID string `json:"stream_id"`
			Source   string `json:"source"`
		}{false, r.StreamID, r.Source})
	}
	type plain Record
	return json.Marshal(plain(r))
}

func (r Record) withoutVolatile() Record {
	r.Bitrate = 0
	r.Artwork = ""
	r.ArtistImage = ""
	r.Elapsed = 0
	return r
}

// Changed reports a logical change: prev was never set, or any non-volatile
// field differs.
func Changed(next, prev Record) bool {
	if prev.IsZero() {
		return true
	}
	return next.withoutVolatile() != prev.withoutVolatile()
}

// VolatileChanged reports that only volatile fields differ.
func VolatileChanged(next, prev Record) bool {
	return !Changed(next, prev) && next != prev
}

// TrackChanged reports a new track: next names a title or artist and the
// (title, artist) pair differs from prev.
func TrackChanged(next, prev Record) bool {
	if next.Title == "" && next.Artist == "" {
		return false
	}
	return next.Title != prev.Title || next.Artist != prev.Artist
}

// Update is a record addressed to one subscriber, carrying that client's
// volume state.
type Update struct {
	Record Record
	Volume int
	Muted  bool
}

// MarshalJSON flattens the record and appends volume and muted.
func (u Update) MarshalJSON() ([]byte, error) {
	body, err := json.Marshal(u.Record)
	if err != nil {
		return nil, err
	}
	// body always ends with the closing brace of a non-empty object.
	tail := fmt.Sprintf(`,"volume":%d,"muted":%t}`, u.Volume, u.Muted)
	return append(body[:len(body)-1], tail...), nil
}
