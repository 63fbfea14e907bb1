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
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"fleetfs.dev/fleetfs/pkg/wire"
)

// fakeMaster accepts REGISTER_NODE and HEARTBEAT connections and answers
// "ok", so Node.Run can be exercised without pkg/master.
func fakeMaster(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				var raw json.RawMessage
				if json.NewDecoder(conn).Decode(&raw) != nil {
					return
				}
				wire.WriteMessage(conn, wire.StatusResponse{Status: wire.StatusOK})
			}()
		}
	}()
	return ln.Addr().String()
}

func startTestNode(t *testing.T) (dataAddr string, dir string) {
	t.Helper()
	masterAddr := fakeMaster(t)
	dir = t.TempDir()

	backend, err := NewDiskBackend(dir)
	if err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig()
	cfg.NodeID = "n1"
	cfg.MasterAddr = masterAddr
	cfg.HeartbeatInterval = time.Hour // don't fire during the test
	cfg.StorageDir = dir

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	cfg.Addr = ln.Addr().String()

	node := New(cfg, backend)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go node.Run(ctx, ln)
	return ln.Addr().String(), dir
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	addr, dir := startTestNode(t)
	content := []byte("hi\n")

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	wire.WriteMessage(conn, wire.UploadFileHeader{Type: wire.UploadFile, Filename: "hello.txt", Size: int64(len(content))})

	var ready wire.StatusResponse
	if err := json.NewDecoder(conn).Decode(&ready); err != nil {
		t.Fatal(err)
	}
	if ready.Status != wire.StatusReady {
		t.Fatalf("expected ready, got %+v", ready)
	}
	conn.Write(content)
	conn.Close()

	time.Sleep(50 * time.Millisecond) // let the node finish writing

	if got, err := os.ReadFile(filepath.Join(dir, "hello.txt")); err != nil || !bytes.Equal(got, content) {
		t.Fatalf("got %q, err %v", got, err)
	}

	conn2, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn2.Close()
	wire.WriteMessage(conn2, wire.DownloadFileHeader{Type: wire.DownloadFile, Filename: "hello.txt"})

	var dl wire.DownloadFileResponse
	dec := json.NewDecoder(conn2)
	if err := dec.Decode(&dl); err != nil {
		t.Fatal(err)
	}
	if dl.Status != wire.StatusOK || dl.Size != int64(len(content)) {
		t.Fatalf("unexpected download header: %+v", dl)
	}
	body := make([]byte, dl.Size)
	if _, err := io.ReadFull(io.MultiReader(dec.Buffered(), conn2), body); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(body, content) {
		t.Fatalf("downloaded bytes mismatch: got %q want %q", body, content)
	}
}

func TestPathTraversalBasename(t *testing.T) {
	addr, dir := startTestNode(t)
	content := []byte("X")

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	wire.WriteMessage(conn, wire.UploadFileHeader{Type: wire.UploadFile, Filename: "../../evil", Size: 1})
	var ready wire.StatusResponse
	json.NewDecoder(conn).Decode(&ready)
	conn.Write(content)
	conn.Close()

	time.Sleep(50 * time.Millisecond)

	if _, err := os.Stat(filepath.Join(filepath.Dir(filepath.Dir(dir)), "evil")); err == nil {
		t.Fatal("file escaped the storage directory")
	}
	got, err := os.ReadFile(filepath.Join(dir, "evil"))
	if err != nil || !bytes.Equal(got, content) {
		t.Fatalf("expected evil to land inside storage dir with contents %q, got %q err %v", content, got, err)
	}
}

func TestDeleteUnknownFile(t *testing.T) {
	addr, _ := startTestNode(t)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	wire.WriteMessage(conn, wire.DeleteFileHeader{Type: wire.DeleteFile, Filename: "nope"})

	var resp wire.StatusResponse
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != wire.StatusError || resp.Message != "File not found" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}
