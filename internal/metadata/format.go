/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package metadata

import (
	"path"
	"strconv"
	"strings"
)

// CodecRadio marks an internet radio stream played through MPD.
const CodecRadio = "RADIO"

var codecByExt = map[string]string{
	"flac": "FLAC",
	"wav":  "WAV",
	"aiff": "AIFF",
	"aif":  "AIFF",
	"mp3":  "MP3",
	"ogg":  "OGG",
	"opus": "OPUS",
	"m4a":  "AAC",
	"aac":  "AAC",
	"mp4":  "AAC",
	"wma":  "WMA",
	"ape":  "APE",
	"wv":   "WV",
	"dsf":  "DSD",
	"dff":  "DSD",
}

// IsStreamURL reports whether file is an http(s) URL rather than a library path.
func IsStreamURL(file string) bool {
	return strings.HasPrefix(file, "http://") || strings.HasPrefix(file, "https://")
}

// DetectCodec names the codec of an MPD song from its file path, falling
// back to the audio format for extensionless float PCM.
func DetectCodec(file, audioFormat string) string {
	if IsStreamURL(file) {
		return CodecRadio
	}
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(path.Base(file)), "."))
	if codec, ok := codecByExt[ext]; ok {
		return codec
	}
	if strings.Contains(audioFormat, ":f:") {
		return "PCM"
	}
	return strings.ToUpper(ext)
}

// ParseAudioFormat splits "rate:bits:channels" into sample rate and bit
// depth. A bits value of "f" means 32-bit float. Malformed input yields 0, 0.
func ParseAudioFormat(s string) (sampleRate, bitDepth int) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 {
		return 0, 0
	}
	rate, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0
	}
	if parts[1] == "f" {
		return rate, 32
	}
	bits, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0
	}
	return rate, bits
}

// SplitRadioTitle recovers the artist from "Artist - Title" stream titles
// when no artist tag is present.
func SplitRadioTitle(title, artist string) (string, string) {
	if artist != "" {
		return title, artist
	}
	a, t, ok := strings.Cut(title, " - ")
	if !ok {
		return title, artist
	}
	return strings.TrimSpace(t), strings.TrimSpace(a)
}
