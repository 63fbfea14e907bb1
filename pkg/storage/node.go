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

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net"
	"time"

	"golang.org/x/net/netutil"
	"golang.org/x/time/rate"

	"fleetfs.dev/fleetfs/pkg/wire"
)

// Config controls a Node's behavior.
type Config struct {
	NodeID            string        // opaque identifier registered with the master
	Addr              string        // host:port this node advertises to the master
	MasterAddr        string        // host:port of the master's data-plane listener
	StorageDir        string        // local directory backing the DiskBackend
	HeartbeatInterval time.Duration // how often this node pings the master
	DialTimeout       time.Duration // timeout for register/heartbeat calls to the master
	ConnDeadline      time.Duration // per-connection read/write deadline on the data plane
	MaxConnections    int           // 0 disables the connection cap
	RateLimitBytes    int           // 0 disables transfer throttling
}

// DefaultConfig returns reasonable defaults for a production node.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 3 * time.Second,
		DialTimeout:       5 * time.Second,
		ConnDeadline:      30 * time.Second,
		MaxConnections:    64,
	}
}

// Node is one storage node: a local Backend plus the TCP server and
// heartbeat loop that make it visible to the master and to clients.
type Node struct {
	cfg     Config
	backend Backend
	limiter *rate.Limiter
}

// New constructs a Node. It does not contact the master; call Run for
// that. The storage directory is the backend's own concern (NewDiskBackend
// creates it).
func New(cfg Config, backend Backend) *Node {
	n := &Node{cfg: cfg, backend: backend}
	if cfg.RateLimitBytes > 0 {
		n.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitBytes), cfg.RateLimitBytes)
	}
	return n
}

// Run registers with the master, starts the heartbeat loop, and serves
// accepted connections on ln until ctx is canceled.
func (n *Node) Run(ctx context.Context, ln net.Listener) error {
	if err := n.register(ctx); err != nil {
		// Registration failure is not swallowed: without it the node is
		// invisible to placement and nothing can ever reach it.
		return err
	}

	go n.heartbeatLoop(ctx)

	if n.cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, n.cfg.MaxConnections)
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go n.handleConn(ctx, conn)
	}
}

func (n *Node) register(ctx context.Context) error {
	return n.callMaster(ctx, wire.RegisterNodeRequest{
		Type:   wire.RegisterNode,
		NodeID: n.cfg.NodeID,
		Addr:   n.cfg.Addr,
	})
}

// heartbeatLoop sends HEARTBEAT to the master on HeartbeatInterval.
// Failures are logged and swallowed: a storage node never crashes or
// blocks its data plane because the master is briefly unreachable.
func (n *Node) heartbeatLoop(ctx context.Context) {
	interval := n.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			req := wire.HeartbeatRequest{Type: wire.Heartbeat, NodeID: n.cfg.NodeID}
			if err := n.callMaster(ctx, req); err != nil {
				log.Printf("fleetnode %s: heartbeat failed: %v", n.cfg.NodeID, err)
			}
		}
	}
}

// callMaster opens a short-lived connection to the master, sends req, and
// discards the response (register/heartbeat both always answer "ok" or
// are ignored by the caller).
func (n *Node) callMaster(ctx context.Context, req interface{}) error {
	dialCtx, cancel := context.WithTimeout(ctx, n.dialTimeout())
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", n.cfg.MasterAddr)
	if err != nil {
		return err
	}
	defer conn.Close()

	wire.SetDeadline(conn, n.cfg.DialTimeout)
	if err := wire.WriteMessage(conn, req); err != nil {
		return err
	}
	var resp wire.StatusResponse
	return json.NewDecoder(conn).Decode(&resp)
}

func (n *Node) dialTimeout() time.Duration {
	if n.cfg.DialTimeout <= 0 {
		return 5 * time.Second
	}
	return n.cfg.DialTimeout
}

func (n *Node) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	// A sliding idle deadline, not a fixed one: a whole-file transfer has
	// no bound on total duration, only on how long any single read or
	// write may go silent.
	conn = wire.NewIdleConn(conn, n.cfg.ConnDeadline)

	r := wire.NewMessageReader(conn)

	// A single decode covers every data-plane header: UPLOAD_FILE,
	// DOWNLOAD_FILE, and DELETE_FILE all carry {type, filename}, and
	// UPLOAD_FILE additionally carries size. Dispatch and field extraction
	// therefore need only one read off the wire; the remaining payload
	// bytes (for uploads) come from r.Payload(), which starts exactly
	// where this decode left off.
	var head struct {
		Type     wire.MessageType `json:"type"`
		Filename string           `json:"filename"`
		Size     int64            `json:"size"`
		hasSize  bool
	}
	var raw json.RawMessage
	if err := r.Decode(&raw); err != nil {
		return
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return
	}
	head.hasSize = hasSizeField(raw)

	switch head.Type {
	case wire.UploadFile:
		n.handleUpload(ctx, conn, r, head.Filename, head.Size, head.hasSize)
	case wire.DownloadFile:
		n.handleDownload(ctx, conn, head.Filename)
	case wire.DeleteFile:
		n.handleDelete(conn, head.Filename)
	default:
		// Unknown type: connection closed with no response.
	}
}

// hasSizeField reports whether the raw JSON object actually carried a
// "size" key, distinguishing an absent size (fallback: read until EOF)
// from an explicit size of zero (an empty file).
func hasSizeField(raw json.RawMessage) bool {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return false
	}
	_, ok := probe["size"]
	return ok
}

// handleUpload implements UPLOAD_FILE: respond "ready", then read either
// exactly size bytes or, if size was never sent, until EOF, writing the
// result to the backend.
func (n *Node) handleUpload(ctx context.Context, conn net.Conn, r *wire.MessageReader, filename string, size int64, hasSize bool) {
	if err := wire.WriteMessage(conn, wire.StatusResponse{Status: wire.StatusReady}); err != nil {
		return
	}

	payload := newThrottledReader(ctx, r.Payload(), n.limiter)

	putSize := size
	if !hasSize {
		putSize = -1
	}
	if err := n.backend.Put(filename, putSize, payload); err != nil {
		log.Printf("fleetnode %s: upload %q failed: %v", n.cfg.NodeID, filename, err)
	}
}

// handleDownload implements DOWNLOAD_FILE.
func (n *Node) handleDownload(ctx context.Context, conn net.Conn, filename string) {
	f, size, err := n.backend.Get(filename)
	if err != nil {
		msg := "internal error"
		if errors.Is(err, ErrNotFound) {
			msg = "File not found"
		}
		wire.WriteMessage(conn, wire.DownloadFileResponse{Status: wire.StatusError, Message: msg})
		return
	}
	defer f.Close()

	if err := wire.WriteMessage(conn, wire.DownloadFileResponse{Status: wire.StatusOK, Size: size}); err != nil {
		return
	}

	dst := newThrottledWriter(ctx, conn, n.limiter)
	if _, err := io.Copy(dst, f); err != nil {
		log.Printf("fleetnode %s: download %q failed: %v", n.cfg.NodeID, filename, err)
	}
}

// handleDelete implements DELETE_FILE.
func (n *Node) handleDelete(conn net.Conn, filename string) {
	err := n.backend.Delete(filename)
	if err != nil && !errors.Is(err, ErrNotFound) {
		wire.WriteMessage(conn, wire.StatusResponse{Status: wire.StatusError, Message: err.Error()})
		return
	}
	if errors.Is(err, ErrNotFound) {
		wire.WriteMessage(conn, wire.StatusResponse{Status: wire.StatusError, Message: "File not found"})
		return
	}
	wire.WriteMessage(conn, wire.StatusResponse{Status: wire.StatusOK})
}
