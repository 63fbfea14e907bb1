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

package master

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"fleetfs.dev/fleetfs/pkg/wire"
)

func startTestServer(t *testing.T) (addr string, srv *Server) {
	t.Helper()

	cfg := DefaultConfig()
	cfg.HeartbeatInterval = 50 * time.Millisecond
	cfg.HeartbeatTimeout = 200 * time.Millisecond
	cfg.ConnDeadline = 2 * time.Second

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	srv = New(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go srv.Serve(ctx, ln)

	return ln.Addr().String(), srv
}

func roundTrip(t *testing.T, addr string, req, resp interface{}) {
	t.Helper()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if err := wire.WriteMessage(conn, req); err != nil {
		t.Fatal(err)
	}
	if err := json.NewDecoder(conn).Decode(resp); err != nil {
		t.Fatal(err)
	}
}

func TestRegisterHeartbeatAndStatus(t *testing.T) {
	addr, _ := startTestServer(t)

	var ok wire.StatusResponse
	roundTrip(t, addr, wire.RegisterNodeRequest{Type: wire.RegisterNode, NodeID: "n1", Addr: "127.0.0.1:9001"}, &ok)
	if ok.Status != wire.StatusOK {
		t.Fatalf("register: got status %q", ok.Status)
	}

	var status wire.NodesStatusResponse
	roundTrip(t, addr, wire.NodesStatusRequest{Type: wire.NodesStatus}, &status)
	if len(status.Nodes) != 1 || status.Nodes[0].Status != "ALIVE" {
		t.Fatalf("unexpected status: %+v", status)
	}

	time.Sleep(400 * time.Millisecond) // let the monitor mark it dead

	roundTrip(t, addr, wire.NodesStatusRequest{Type: wire.NodesStatus}, &status)
	if status.Nodes[0].Status != "DEAD" {
		t.Fatalf("expected node to be DEAD after heartbeat timeout, got %+v", status.Nodes[0])
	}

	roundTrip(t, addr, wire.HeartbeatRequest{Type: wire.Heartbeat, NodeID: "n1"}, &ok)
	roundTrip(t, addr, wire.NodesStatusRequest{Type: wire.NodesStatus}, &status)
	if status.Nodes[0].Status != "ALIVE" {
		t.Fatalf("expected node ALIVE again after heartbeat, got %+v", status.Nodes[0])
	}
}

func TestConcurrentLockRequests(t *testing.T) {
	addr, _ := startTestServer(t)

	results := make(chan string, 2)
	attempt := func(clientID string) {
		var resp wire.StatusResponse
		roundTrip(t, addr, wire.LockRequestMsg{Type: wire.LockRequest, Filename: "x", ClientID: clientID}, &resp)
		results <- resp.Status
	}

	go attempt("client-a")
	go attempt("client-b")

	first, second := <-results, <-results
	okCount := 0
	for _, s := range []string{first, second} {
		if s == wire.StatusOK {
			okCount++
		} else if s != wire.StatusLocked {
			t.Fatalf("unexpected lock status %q", s)
		}
	}
	if okCount != 1 {
		t.Fatalf("expected exactly one winner, got statuses %q %q", first, second)
	}
}

func TestUploadPlacementAndDownloadFiltering(t *testing.T) {
	addr, _ := startTestServer(t)

	var ok wire.StatusResponse
	roundTrip(t, addr, wire.RegisterNodeRequest{Type: wire.RegisterNode, NodeID: "n1", Addr: "10.0.0.1:9001"}, &ok)
	roundTrip(t, addr, wire.RegisterNodeRequest{Type: wire.RegisterNode, NodeID: "n2", Addr: "10.0.0.2:9001"}, &ok)

	var placed wire.UploadRequestResponse
	roundTrip(t, addr, wire.UploadRequestMsg{Type: wire.UploadRequest, Filename: "hello.txt"}, &placed)
	if len(placed.Nodes) != 2 {
		t.Fatalf("expected 2 placement candidates, got %v", placed.Nodes)
	}

	roundTrip(t, addr, wire.UploadDoneMsg{Type: wire.UploadDone, Filename: "hello.txt", Nodes: placed.Nodes}, &ok)

	var files wire.ListFilesResponse
	roundTrip(t, addr, wire.ListFilesRequest{Type: wire.ListFiles}, &files)
	if len(files.Files) != 1 || files.Files[0] != "hello.txt" {
		t.Fatalf("unexpected file list: %v", files.Files)
	}

	var dl wire.DownloadRequestResponse
	roundTrip(t, addr, wire.DownloadRequestMsg{Type: wire.DownloadRequest, Filename: "hello.txt"}, &dl)
	if dl.Status != wire.StatusOK || len(dl.Nodes) != 2 {
		t.Fatalf("unexpected download response: %+v", dl)
	}

	roundTrip(t, addr, wire.DeleteDoneMsg{Type: wire.DeleteDone, Filename: "hello.txt"}, &ok)
	roundTrip(t, addr, wire.DownloadRequestMsg{Type: wire.DownloadRequest, Filename: "hello.txt"}, &dl)
	if dl.Status != wire.StatusError || dl.Message != "File not found" {
		t.Fatalf("expected File not found after delete, got %+v", dl)
	}
}

func TestUnknownTypeClosesConnection(t *testing.T) {
	addr, _ := startTestServer(t)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	wire.WriteMessage(conn, map[string]string{"type": "NOT_A_REAL_TYPE"})

	conn.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 1)
	if _, err := conn.Read(buf); err == nil {
		t.Fatal("expected connection close for unknown message type")
	}
}
