/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package mpd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/friendsincode/snapmeta/internal/telemetry"
)

// MaxPictureBytes caps the accumulated size of an embedded picture.
const MaxPictureBytes = 10_000_000

var (
	// ErrUnsafePath is returned for paths containing control characters.
	ErrUnsafePath = errors.New("mpd: path contains control characters")
	// ErrNoPicture is returned when the file has no embedded picture.
	ErrNoPicture = errors.New("mpd: no embedded picture")
	// ErrPictureTooLarge is returned when the picture exceeds MaxPictureBytes.
	ErrPictureTooLarge = errors.New("mpd: picture exceeds size limit")
	// ErrBadChunk is returned for a missing, zero, negative or oversized chunk size.
	ErrBadChunk = errors.New("mpd: invalid binary chunk")
)

// chunk is one parsed readpicture response.
type chunk struct {
	total int    // "size:" header, 0 when absent
	data  []byte // nil when the response carried no binary section
}

// ReadPicture fetches the picture embedded in the song at path using
// repeated readpicture requests with an advancing offset.
func (c *Client) ReadPicture(ctx context.Context, path string) ([]byte, error) {
	if path == "" {
		return nil, ErrNoPicture
	}
	if hasControl(path) {
		return nil, ErrUnsafePath
	}

	s, err := c.open(ctx, c.pictureTimeout)
	if err != nil {
		telemetry.PlayerRequests.WithLabelValues("readpicture", "error").Inc()
		return nil, err
	}
	defer s.close()

	quoted := quoteArg(path)
	var image []byte
	for {
		ch, err := s.readPictureChunk(quoted, len(image))
		if err != nil {
			var ack *AckError
			if errors.As(err, &ack) && len(image) == 0 {
				telemetry.PlayerRequests.WithLabelValues("readpicture", "none").Inc()
				return nil, ErrNoPicture
			}
			telemetry.PlayerRequests.WithLabelValues("readpicture", "error").Inc()
			return nil, err
		}
		if ch.data == nil {
			break
		}
		if len(image)+len(ch.data) > MaxPictureBytes {
			telemetry.PlayerRequests.WithLabelValues("readpicture", "too_large").Inc()
			return nil, ErrPictureTooLarge
		}
		image = append(image, ch.data...)
		if ch.total > 0 && len(image) >= ch.total {
			break
		}
	}

	if len(image) == 0 {
		telemetry.PlayerRequests.WithLabelValues("readpicture", "none").Inc()
		return nil, ErrNoPicture
	}
	telemetry.PlayerRequests.WithLabelValues("readpicture", "ok").Inc()
	return image, nil
}

// readPictureChunk issues one request and parses its response:
//
//	header lines ("size: N", "type: ...") until "binary: n" or OK/ACK,
//	exactly n bytes of payload, a newline, then OK.
func (s *session) readPictureChunk(quotedPath string, offset int) (chunk, error) {
	if err := s.send(fmt.Sprintf("readpicture %s %d", quotedPath, offset)); err != nil {
		return chunk{}, err
	}

	var ch chunk
	for {
		line, err := s.readLine()
		if err != nil {
			return chunk{}, fmt.Errorf("read picture header: %w", err)
		}
		if line == "OK" {
			return ch, nil
		}
		if strings.HasPrefix(line, "ACK") {
			return chunk{}, &AckError{Line: line}
		}

		key, value, ok := strings.Cut(line, ": ")
		if !ok {
			continue
		}
		switch key {
		case "size":
			if n, err := strconv.Atoi(value); err == nil && n > 0 {
				ch.total = n
			}
		case "binary":
			n, err := strconv.Atoi(value)
			if err != nil || n <= 0 || n > MaxPictureBytes {
				return chunk{}, fmt.Errorf("%w: %q", ErrBadChunk, value)
			}
			ch.data = make([]byte, n)
			if _, err := io.ReadFull(s.r, ch.data); err != nil {
				return chunk{}, fmt.Errorf("read picture payload: %w", err)
			}
			// Payload is followed by a newline and the final OK.
			for {
				tail, err := s.readLine()
				if err != nil {
					return chunk{}, fmt.Errorf("read picture trailer: %w", err)
				}
				if tail == "OK" {
					return ch, nil
				}
				if strings.HasPrefix(tail, "ACK") {
					return chunk{}, &AckError{Line: tail}
				}
			}
		}
	}
}

func hasControl(s string) bool {
	return strings.IndexFunc(s, unicode.IsControl) >= 0
}

// quoteArg wraps s in double quotes, escaping backslashes and quotes.
func quoteArg(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}

// session is one open protocol connection.
type session struct {
	conn net.Conn
	r    *bufio.Reader
}

func (c *Client) open(ctx context.Context, timeout time.Duration) (*session, error) {
	conn, err := c.dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return nil, fmt.Errorf("connect mpd %s: %w", c.addr, err)
	}

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set deadline: %w", err)
	}

	s := &session{conn: conn, r: bufio.NewReaderSize(conn, maxLineBytes)}
	greeting, err := s.readLine()
	if err != nil {
		s.close()
		return nil, fmt.Errorf("read greeting: %w", err)
	}
	if !strings.HasPrefix(greeting, "OK MPD") {
		s.close()
		return nil, fmt.Errorf("%w: %q", ErrBadGreeting, greeting)
	}
	return s, nil
}

func (s *session) close() {
	_ = s.conn.Close()
}

func (s *session) send(cmd string) error {
	if _, err := s.conn.Write([]byte(cmd + "\n")); err != nil {
		return fmt.Errorf("send %q: %w", commandName(cmd), err)
	}
	return nil
}

// readLine returns one line without its terminator.
func (s *session) readLine() (string, error) {
	line, err := s.r.ReadSlice('\n')
	if errors.Is(err, bufio.ErrBufferFull) {
		return "", ErrLineTooLong
	}
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(line), "\r\n"), nil
}

func commandName(cmd string) string {
	name, _, _ := strings.Cut(cmd, " ")
	return name
}
