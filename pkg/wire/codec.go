// Copyright 2024 The FleetFS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package wire

import (
	"encoding/json"
	"io"
	"net"
	"time"
)

// MessageReader decodes one JSON value at a time off a connection and
// keeps track of whatever bytes the decoder over-read from the socket, so
// a raw byte stream following the JSON value (a file transfer payload) can
// be read without loss, built on encoding/json's own streaming decoder
// rather than a fixed-size receive window.
type MessageReader struct {
	conn net.Conn
	dec  *json.Decoder
}

// NewMessageReader wraps conn for decoding.
func NewMessageReader(conn net.Conn) *MessageReader {
	return &MessageReader{conn: conn, dec: json.NewDecoder(conn)}
}

// Decode reads exactly one JSON value into v.
func (r *MessageReader) Decode(v interface{}) error {
	return r.dec.Decode(v)
}

// Payload returns a reader for the raw bytes that follow the most recently
// decoded JSON value: first whatever the decoder already buffered, then
// whatever remains on the socket.
func (r *MessageReader) Payload() io.Reader {
	return io.MultiReader(r.dec.Buffered(), r.conn)
}

// WriteMessage encodes v as a single JSON value terminated by a newline.
func WriteMessage(w io.Writer, v interface{}) error {
	return json.NewEncoder(w).Encode(v)
}

// SetDeadline applies a bounded read/write deadline to conn, so a stuck
// handler can never pin a connection's resources indefinitely. A zero
// duration disables the deadline.
func SetDeadline(conn net.Conn, d time.Duration) error {
	if d <= 0 {
		return conn.SetDeadline(time.Time{})
	}
	return conn.SetDeadline(time.Now().Add(d))
}

// idleConn wraps a net.Conn so every Read and Write refreshes its
// deadline by idle, rather than the connection carrying one fixed
// deadline for its entire lifetime. A whole-file transfer has no bound
// on total duration, only on how long any single read or write may
// stall, so a sliding deadline lets a slow-but-progressing transfer run
// to completion while still killing a connection that goes silent.
type idleConn struct {
	net.Conn
	idle time.Duration
}

// NewIdleConn wraps conn with a sliding idle deadline. A non-positive
// idle disables the deadline and returns conn unwrapped.
func NewIdleConn(conn net.Conn, idle time.Duration) net.Conn {
	if idle <= 0 {
		return conn
	}
	return &idleConn{Conn: conn, idle: idle}
}

func (c *idleConn) Read(p []byte) (int, error) {
	if err := c.Conn.SetReadDeadline(time.Now().Add(c.idle)); err != nil {
		return 0, err
	}
	return c.Conn.Read(p)
}

func (c *idleConn) Write(p []byte) (int, error) {
	if err := c.Conn.SetWriteDeadline(time.Now().Add(c.idle)); err != nil {
		return 0, err
	}
	return c.Conn.Write(p)
}
