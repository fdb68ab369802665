/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package snapcast

import (
	"encoding/json"
	"strings"
)

// Server is the topology returned by Server.GetStatus.
type Server struct {
	Groups  []Group  `json:"groups"`
	Streams []Stream `json:"streams"`
}

// Group binds a set of clients to one stream.
type Group struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	StreamID string   `json:"stream_id"`
	Muted    bool     `json:"muted"`
	Clients  []Client `json:"clients"`
}

// Client represents a Snapcast client (one zone endpoint).
type Client struct {
	ID        string       `json:"id"`
	Connected bool         `json:"connected"`
	Host      Host         `json:"host"`
	Config    ClientConfig `json:"config"`
}

// Host describes the machine a client runs on.
type Host struct {
	Name string `json:"name"`
	IP   string `json:"ip"`
	MAC  string `json:"mac"`
	OS   string `json:"os"`
}

// ClientConfig is the server-side configuration of a client.
type ClientConfig struct {
	Name     string `json:"name"`
	Latency  int    `json:"latency"`
	Instance int    `json:"instance"`
	Volume   Volume `json:"volume"`
}

// Volume is a client's volume state.
type Volume struct {
	Percent int  `json:"percent"`
	Muted   bool `json:"muted"`
}

// DefaultVolume is reported for clients missing from the topology.
var DefaultVolume = Volume{Percent: 100}

// Identifiers returns the non-empty names a client may be addressed by, in
// host name, configured name, id order.
func (c Client) Identifiers() []string {
	ids := make([]string, 0, 3)
	for _, id := range []string{c.Host.Name, c.Config.Name, c.ID} {
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// Stream is one audio source known to the server.
type Stream struct {
	ID         string           `json:"id"`
	Status     string           `json:"status"`
	URI        StreamURI        `json:"uri"`
	Properties StreamProperties `json:"properties"`
}

// Playing reports whether the server marks the stream as playing.
func (s Stream) Playing() bool {
	return s.Status == "playing"
}

// StreamURI is the parsed source URI of a stream.
type StreamURI struct {
	Raw    string            `json:"raw"`
	Scheme string            `json:"scheme"`
	Host   string            `json:"host"`
	Path   string            `json:"path"`
	Query  map[string]string `json:"query"`
}

// StreamProperties carries MPRIS-style properties reported by the stream.
type StreamProperties struct {
	Metadata       StreamMetadata `json:"metadata"`
	Position       float64        `json:"position"`
	PlaybackStatus string         `json:"playbackStatus"`
}

// StreamMetadata is the track information attached to a stream.
type StreamMetadata struct {
	Title    string  `json:"title"`
	Artist   Artists `json:"artist"`
	Album    string  `json:"album"`
	ArtURL   string  `json:"artUrl"`
	Duration float64 `json:"duration"`
}

// Artists accepts either a single string or a list of strings. Any other
// shape decodes as no artist so one odd stream cannot fail a status reply.
type Artists []string

// UnmarshalJSON implements json.Unmarshaler.
func (a *Artists) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		if single == "" {
			*a = nil
		} else {
			*a = Artists{single}
		}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		*a = nil
		return nil
	}
	*a = list
	return nil
}

// String joins the artists for display.
func (a Artists) String() string {
	return strings.Join(a, ", ")
}

// FindClient locates a client by identifier: an exact match on any
// identifier first, then a substring match in either direction. Both passes
// walk groups and clients in topology order and the first hit wins.
func (s *Server) FindClient(id string) (Client, bool) {
	if s == nil || id == "" {
		return Client{}, false
	}
	for _, g := range s.Groups {
		for _, c := range g.Clients {
			for _, ident := range c.Identifiers() {
				if ident == id {
					return c, true
				}
			}
		}
	}
	for _, g := range s.Groups {
		for _, c := range g.Clients {
			for _, ident := range c.Identifiers() {
				if strings.Contains(ident, id) || strings.Contains(id, ident) {
					return c, true
				}
			}
		}
	}
	return Client{}, false
}

// FindVolume returns the volume of the client matching id, or DefaultVolume.
func (s *Server) FindVolume(id string) Volume {
	if c, ok := s.FindClient(id); ok {
		return c.Config.Volume
	}
	return DefaultVolume
}
