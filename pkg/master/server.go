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

// Package master implements the coordinator's TCP listener: one JSON
// request per connection, dispatched on its "type" field, answered with
// one JSON response, connection closed. All bookkeeping lives in
// pkg/masterstate; this package is purely the network and dispatch layer.
package master

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"time"

	"golang.org/x/net/netutil"

	"fleetfs.dev/fleetfs/pkg/masterstate"
	"fleetfs.dev/fleetfs/pkg/wire"
)

// Config controls a Server's behavior. Zero-value fields fall back to
// sensible defaults.
type Config struct {
	ReplicationFactor int
	HeartbeatTimeout  time.Duration
	HeartbeatInterval time.Duration // monitor sweep period
	LockLease         time.Duration // 0 disables lock-lease expiry
	ConnDeadline      time.Duration // per-connection read/write deadline
	MaxConnections    int           // 0 disables the connection cap
}

// DefaultConfig returns reasonable defaults for a production master.
func DefaultConfig() Config {
	return Config{
		ReplicationFactor: 2,
		HeartbeatTimeout:  10 * time.Second,
		HeartbeatInterval: 2 * time.Second,
		LockLease:         5 * time.Minute,
		ConnDeadline:      10 * time.Second,
		MaxConnections:    256,
	}
}

// Server is the master coordinator.
type Server struct {
	cfg     Config
	state   *masterstate.State
	metrics *metrics
}

// New constructs a Server backed by a fresh masterstate.State.
func New(cfg Config) *Server {
	return &Server{
		cfg:     cfg,
		state:   masterstate.New(cfg.ReplicationFactor, cfg.HeartbeatTimeout, cfg.LockLease),
		metrics: newMetrics(),
	}
}

// State exposes the underlying state for tests and for wiring a metrics
// or admin HTTP surface that wants a direct read.
func (s *Server) State() *masterstate.State { return s.state }

// Serve accepts connections on ln until ctx is canceled, and runs the
// heartbeat/lock-lease monitor in the background. It blocks until ctx is
// done or ln.Accept fails permanently.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxConnections)
	}

	go s.monitorLoop(ctx)

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
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return err
		}
		go s.handleConn(conn)
	}
}

// monitorLoop wakes every HeartbeatInterval, sweeps liveness, and (if
// configured) sweeps expired lock leases. Each sweep executes under the
// same exclusion as client handlers because it calls into
// masterstate.State, which owns its own mutex.
func (s *Server) monitorLoop(ctx context.Context) {
	interval := s.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.state.SweepLiveness(now)
			s.state.SweepLockLeases(now)
		}
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	wire.SetDeadline(conn, s.cfg.ConnDeadline)

	r := wire.NewMessageReader(conn)

	var raw json.RawMessage
	if err := r.Decode(&raw); err != nil {
		// Malformed or truncated request: close with no response.
		return
	}

	var head struct {
		Type wire.MessageType `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return
	}

	s.metrics.requests.WithLabelValues(string(head.Type)).Inc()

	switch head.Type {
	case wire.RegisterNode:
		s.handleRegisterNode(conn, raw)
	case wire.Heartbeat:
		s.handleHeartbeat(conn, raw)
	case wire.LockRequest:
		s.handleLockRequest(conn, raw)
	case wire.LockRelease:
		s.handleLockRelease(conn, raw)
	case wire.ListFiles:
		s.handleListFiles(conn)
	case wire.NodesStatus:
		s.handleNodesStatus(conn)
	case wire.UploadRequest:
		s.handleUploadRequest(conn, raw)
	case wire.UploadDone:
		s.handleUploadDone(conn, raw)
	case wire.DownloadRequest:
		s.handleDownloadRequest(conn, raw)
	case wire.FileInfo:
		s.handleFileInfo(conn, raw)
	case wire.DeleteDone:
		s.handleDeleteDone(conn, raw)
	default:
		// Unknown type: connection closed with no response.
	}
}

func (s *Server) handleRegisterNode(conn net.Conn, raw json.RawMessage) {
	var req wire.RegisterNodeRequest
	if unmarshal(wire.RegisterNode, raw, &req) != nil {
		return
	}
	s.state.RegisterNode(req.NodeID, req.Addr, time.Now())
	wire.WriteMessage(conn, wire.StatusResponse{Status: wire.StatusOK})
}

func (s *Server) handleHeartbeat(conn net.Conn, raw json.RawMessage) {
	var req wire.HeartbeatRequest
	if unmarshal(wire.Heartbeat, raw, &req) != nil {
		return
	}
	s.state.Heartbeat(req.NodeID, time.Now())
	wire.WriteMessage(conn, wire.StatusResponse{Status: wire.StatusOK})
}

func (s *Server) handleLockRequest(conn net.Conn, raw json.RawMessage) {
	var req wire.LockRequestMsg
	if unmarshal(wire.LockRequest, raw, &req) != nil {
		return
	}
	if s.state.LockAcquire(req.Filename, req.ClientID, time.Now()) {
		wire.WriteMessage(conn, wire.StatusResponse{Status: wire.StatusOK})
		return
	}
	s.metrics.lockContention.Inc()
	wire.WriteMessage(conn, wire.StatusResponse{
		Status:  wire.StatusLocked,
		Message: "file is locked by another client",
	})
}

func (s *Server) handleLockRelease(conn net.Conn, raw json.RawMessage) {
	var req wire.LockReleaseMsg
	if unmarshal(wire.LockRelease, raw, &req) != nil {
		return
	}
	s.state.LockRelease(req.Filename, req.ClientID)
	wire.WriteMessage(conn, wire.StatusResponse{Status: wire.StatusOK})
}

func (s *Server) handleListFiles(conn net.Conn) {
	wire.WriteMessage(conn, wire.ListFilesResponse{Files: s.state.ListFiles()})
}

func (s *Server) handleNodesStatus(conn net.Conn) {
	views := s.state.NodesStatus()
	entries := make([]wire.NodeStatusEntry, 0, len(views))
	for _, v := range views {
		st := "DEAD"
		if v.Alive {
			st = "ALIVE"
		}
		entries = append(entries, wire.NodeStatusEntry{ID: v.ID, Address: v.Address, Status: st})
	}
	wire.WriteMessage(conn, wire.NodesStatusResponse{Nodes: entries})
}

func (s *Server) handleUploadRequest(conn net.Conn, raw json.RawMessage) {
	var req wire.UploadRequestMsg
	if unmarshal(wire.UploadRequest, raw, &req) != nil {
		return
	}
	wire.WriteMessage(conn, wire.UploadRequestResponse{Nodes: s.state.PlaceReplicas()})
}

func (s *Server) handleUploadDone(conn net.Conn, raw json.RawMessage) {
	var req wire.UploadDoneMsg
	if unmarshal(wire.UploadDone, raw, &req) != nil {
		return
	}
	s.state.UploadDone(req.Filename, req.Nodes)
	wire.WriteMessage(conn, wire.StatusResponse{Status: wire.StatusOK})
}

func (s *Server) handleDownloadRequest(conn net.Conn, raw json.RawMessage) {
	var req wire.DownloadRequestMsg
	if unmarshal(wire.DownloadRequest, raw, &req) != nil {
		return
	}
	addrs, err := s.state.DownloadRequest(req.Filename)
	if err != nil {
		wire.WriteMessage(conn, wire.DownloadRequestResponse{Status: wire.StatusError, Message: err.Error()})
		return
	}
	wire.WriteMessage(conn, wire.DownloadRequestResponse{Status: wire.StatusOK, Nodes: addrs})
}

func (s *Server) handleFileInfo(conn net.Conn, raw json.RawMessage) {
	var req wire.FileInfoRequest
	if unmarshal(wire.FileInfo, raw, &req) != nil {
		return
	}
	replicas, ok := s.state.FileInfo(req.Filename)
	if !ok {
		wire.WriteMessage(conn, wire.FileInfoResponse{Status: wire.StatusError, Message: "File not found"})
		return
	}
	out := make([]wire.ReplicaInfo, 0, len(replicas))
	for _, rv := range replicas {
		out = append(out, wire.ReplicaInfo{NodeID: rv.NodeID, Address: rv.Address, Alive: rv.Alive})
	}
	wire.WriteMessage(conn, wire.FileInfoResponse{Status: wire.StatusOK, Replicas: out})
}

func (s *Server) handleDeleteDone(conn net.Conn, raw json.RawMessage) {
	var req wire.DeleteDoneMsg
	if unmarshal(wire.DeleteDone, raw, &req) != nil {
		return
	}
	s.state.DeleteDone(req.Filename)
	wire.WriteMessage(conn, wire.StatusResponse{Status: wire.StatusOK})
}

// unmarshal decodes the already-buffered request bytes into a fully typed
// request struct. The master parses the type tag once to dispatch, then
// unmarshals the same bytes again into the specific struct for that
// message type; no further socket reads happen for the request.
func unmarshal(want wire.MessageType, raw json.RawMessage, v interface{}) error {
	if err := json.Unmarshal(raw, v); err != nil {
		log.Printf("master: malformed %s request: %v", want, err)
		return err
	}
	return nil
}
