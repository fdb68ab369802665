/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package snapcast

import "strings"

// ZoneMap maps every client identifier variant to the stream its group is
// playing. It is rebuilt from scratch each poll cycle.
type ZoneMap struct {
	order []string          // identifiers in topology order
	index map[string]string // identifier -> stream id
}

// BuildZoneMap walks groups then clients. An identifier seen twice keeps its
// first position and takes the later stream id.
func BuildZoneMap(s *Server) *ZoneMap {
	m := &ZoneMap{index: make(map[string]string)}
	if s == nil {
		return m
	}
	for _, g := range s.Groups {
		for _, c := range g.Clients {
			for _, ident := range c.Identifiers() {
				if _, seen := m.index[ident]; !seen {
					m.order = append(m.order, ident)
				}
				m.index[ident] = g.StreamID
			}
		}
	}
	return m
}

// Resolve returns the stream id for clientID. An exact identifier match wins;
// otherwise the first identifier (in topology order) that contains clientID
// or is contained in it is used. Ambiguous substring matches are resolved by
// that order alone.
func (m *ZoneMap) Resolve(clientID string) (string, bool) {
	if m == nil || clientID == "" {
		return "", false
	}
	if streamID, ok := m.index[clientID]; ok {
		return streamID, true
	}
	for _, ident := range m.order {
		if strings.Contains(clientID, ident) || strings.Contains(ident, clientID) {
			return m.index[ident], true
		}
	}
	return "", false
}

// Len returns the number of known identifiers.
func (m *ZoneMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.order)
}
