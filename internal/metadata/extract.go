/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package metadata

import (
	"html"
	"strconv"
	"strings"

	"github.com/friendsincode/snapmeta/internal/mpd"
	"github.com/friendsincode/snapmeta/internal/snapcast"
)

// SourceMPD is the source reported for records built from a direct MPD query.
const SourceMPD = "MPD"

// FromSnapcast builds the record for a stream reported by the stream server.
// Artwork pointing at the "snapcast" container host is rewritten to
// snapHost so that displays can reach it.
func FromSnapcast(s snapcast.Stream, snapHost string) Record {
	if !s.Playing() {
		return Idle(s.ID, s.ID)
	}

	meta := s.Properties.Metadata
	artwork := meta.ArtURL
	if snapHost != "" && strings.Contains(artwork, "://snapcast:") {
		artwork = strings.ReplaceAll(artwork, "://snapcast:", "://"+snapHost+":")
	}

	r := Record{
		Playing:  true,
		Title:    meta.Title,
		Artist:   meta.Artist.String(),
		Album:    meta.Album,
		Artwork:  artwork,
		StreamID: s.ID,
		Source:   s.ID,
		Codec:    strings.ToUpper(s.URI.Query["codec"]),
		Elapsed:  int(s.Properties.Position),
		Duration: int(meta.Duration),
	}
	r.SampleRate, r.BitDepth = ParseAudioFormat(s.URI.Query["sampleformat"])
	return r
}

// FromMPD builds the record for the MPD stream from a status and currentsong
// response. A stopped or paused player yields an idle record.
func FromMPD(streamID string, status, song mpd.Attrs) Record {
	if status["state"] != "play" {
		return Idle(streamID, SourceMPD)
	}

	title, artist := SplitRadioTitle(html.UnescapeString(song["Title"]), html.UnescapeString(song["Artist"]))
	album := song["Album"]
	if album == "" {
		album = song["Name"]
	}

	audioFormat := status["audio"]
	if audioFormat == "" {
		audioFormat = song["Format"]
	}

	r := Record{
		Playing:     true,
		Title:       title,
		Artist:      artist,
		Album:       html.UnescapeString(album),
		StreamID:    streamID,
		Source:      SourceMPD,
		Codec:       DetectCodec(song["file"], audioFormat),
		Bitrate:     atoi(status["bitrate"]),
		Elapsed:     int(atof(status["elapsed"])),
		Duration:    int(atof(status["duration"])),
		File:        song["file"],
		StationName: song["Name"],
	}
	r.SampleRate, r.BitDepth = ParseAudioFormat(audioFormat)
	if r.Title == "" {
		r.Title = r.StationName
	}
	return r
}

// IsRadio reports whether r is an MPD internet radio stream.
func (r Record) IsRadio() bool {
	return r.Codec == CodecRadio
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func atof(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
