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

// Package client implements the FleetFS client library: the
// upload/download/delete orchestration protocol, plus direct
// passthroughs for list/status/info. A single Client value wraps
// connection details and a per-process identity, with one method per
// server-visible operation.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"fleetfs.dev/fleetfs/pkg/wire"
)

// ErrLocked is returned by Upload when another client currently holds the
// write lock for the target filename.
var ErrLocked = errors.New("file is locked by another client")

// Client drives the master/node protocols on behalf of one logical actor.
// It holds no server-side state of its own beyond the write lock it may
// be holding mid-upload; the zero value is not usable, use New.
type Client struct {
	// MasterAddr is the master's data-plane address, e.g. "127.0.0.1:5000".
	MasterAddr string

	// ClientID identifies this client as a lock holder. New generates a
	// fresh one with github.com/google/uuid for every Client value, and it
	// stays fixed for that Client's lifetime.
	ClientID string

	// DialTimeout bounds every TCP dial this client makes, to the master
	// and to storage nodes alike.
	DialTimeout time.Duration
}

// New returns a Client targeting masterAddr with a freshly generated
// ClientID.
func New(masterAddr string) *Client {
	return &Client{
		MasterAddr:  masterAddr,
		ClientID:    uuid.NewString(),
		DialTimeout: 10 * time.Second,
	}
}

// ListFiles is a direct passthrough to the master's LIST_FILES.
func (c *Client) ListFiles(ctx context.Context) ([]string, error) {
	var resp wire.ListFilesResponse
	if err := c.callMaster(ctx, wire.ListFilesRequest{Type: wire.ListFiles}, &resp); err != nil {
		return nil, err
	}
	return resp.Files, nil
}

// GetNodesStatus is a direct passthrough to the master's NODES_STATUS.
func (c *Client) GetNodesStatus(ctx context.Context) ([]wire.NodeStatusEntry, error) {
	var resp wire.NodesStatusResponse
	if err := c.callMaster(ctx, wire.NodesStatusRequest{Type: wire.NodesStatus}, &resp); err != nil {
		return nil, err
	}
	return resp.Nodes, nil
}

// GetFileInfo is a direct passthrough to the master's FILE_INFO.
func (c *Client) GetFileInfo(ctx context.Context, filename string) ([]wire.ReplicaInfo, error) {
	filename = filepath.Base(filename)
	var resp wire.FileInfoResponse
	if err := c.callMaster(ctx, wire.FileInfoRequest{Type: wire.FileInfo, Filename: filename}, &resp); err != nil {
		return nil, err
	}
	if resp.Status != wire.StatusOK {
		return nil, fmt.Errorf("file_info %q: %s", filename, resp.Message)
	}
	return resp.Replicas, nil
}

// Upload uploads the local file at localPath: verify and size the local
// file, acquire the write lock, request placement, stream the file to
// every chosen replica in order, and report completion to the master.
// The lock is always released on exit, success or failure, with release
// errors swallowed.
func (c *Client) Upload(ctx context.Context, localPath string) error {
	info, err := os.Stat(localPath)
	if err != nil {
		return fmt.Errorf("upload %q: %w", localPath, err)
	}
	filename := filepath.Base(localPath)
	size := info.Size()

	var lockResp wire.StatusResponse
	if err := c.callMaster(ctx, wire.LockRequestMsg{Type: wire.LockRequest, Filename: filename, ClientID: c.ClientID}, &lockResp); err != nil {
		return fmt.Errorf("upload %q: acquiring lock: %w", filename, err)
	}
	if lockResp.Status != wire.StatusOK {
		return fmt.Errorf("upload %q: %w", filename, ErrLocked)
	}
	defer c.releaseLock(filename)

	var placement wire.UploadRequestResponse
	if err := c.callMaster(ctx, wire.UploadRequestMsg{Type: wire.UploadRequest, Filename: filename}, &placement); err != nil {
		return fmt.Errorf("upload %q: requesting placement: %w", filename, err)
	}
	if len(placement.Nodes) == 0 {
		return fmt.Errorf("upload %q: no alive storage nodes available", filename)
	}

	for _, addr := range placement.Nodes {
		if err := c.uploadToNode(ctx, addr, filename, localPath, size); err != nil {
			return fmt.Errorf("upload %q to %s: %w", filename, addr, err)
		}
	}

	var done wire.StatusResponse
	if err := c.callMaster(ctx, wire.UploadDoneMsg{Type: wire.UploadDone, Filename: filename, Nodes: placement.Nodes}, &done); err != nil {
		return fmt.Errorf("upload %q: reporting completion: %w", filename, err)
	}
	return nil
}

func (c *Client) uploadToNode(ctx context.Context, addr, filename, localPath string, size int64) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	conn, err := c.dial(ctx, addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := wire.WriteMessage(conn, wire.UploadFileHeader{Type: wire.UploadFile, Filename: filename, Size: size}); err != nil {
		return err
	}

	var ready wire.StatusResponse
	if err := json.NewDecoder(conn).Decode(&ready); err != nil {
		return fmt.Errorf("waiting for ready: %w", err)
	}
	if ready.Status != wire.StatusReady {
		return fmt.Errorf("node refused upload: %s", ready.Message)
	}

	if _, err := io.CopyN(conn, f, size); err != nil {
		return fmt.Errorf("streaming file: %w", err)
	}
	return nil
}

func (c *Client) releaseLock(filename string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.dialTimeout())
	defer cancel()
	var resp wire.StatusResponse
	_ = c.callMaster(ctx, wire.LockReleaseMsg{Type: wire.LockRelease, Filename: filename, ClientID: c.ClientID}, &resp)
}

// Download fetches filename from one of its live replicas. saveAs
// defaults to the basename of filename when empty.
func (c *Client) Download(ctx context.Context, filename, saveAs string) error {
	filename = filepath.Base(filename)
	if saveAs == "" {
		saveAs = filename
	}

	var dl wire.DownloadRequestResponse
	if err := c.callMaster(ctx, wire.DownloadRequestMsg{Type: wire.DownloadRequest, Filename: filename}, &dl); err != nil {
		return fmt.Errorf("download %q: %w", filename, err)
	}
	if dl.Status != wire.StatusOK || len(dl.Nodes) == 0 {
		return fmt.Errorf("download %q: %s", filename, dl.Message)
	}

	conn, err := c.dial(ctx, dl.Nodes[0])
	if err != nil {
		return fmt.Errorf("download %q: %w", filename, err)
	}
	defer conn.Close()

	if err := wire.WriteMessage(conn, wire.DownloadFileHeader{Type: wire.DownloadFile, Filename: filename}); err != nil {
		return fmt.Errorf("download %q: %w", filename, err)
	}

	dec := json.NewDecoder(conn)
	var head wire.DownloadFileResponse
	if err := dec.Decode(&head); err != nil {
		return fmt.Errorf("download %q: %w", filename, err)
	}
	if head.Status != wire.StatusOK {
		return fmt.Errorf("download %q: %s", filename, head.Message)
	}

	out, err := os.Create(saveAs)
	if err != nil {
		return fmt.Errorf("download %q: %w", filename, err)
	}
	defer out.Close()

	if _, err := io.CopyN(out, io.MultiReader(dec.Buffered(), conn), head.Size); err != nil {
		return fmt.Errorf("download %q: %w", filename, err)
	}
	return nil
}

// Delete removes filename from every known replica: best-effort per-node
// deletes, run concurrently via golang.org/x/sync/errgroup since they have
// no ordering requirement between them, followed by an unconditional
// DELETE_DONE to drop master metadata.
func (c *Client) Delete(ctx context.Context, filename string) error {
	filename = filepath.Base(filename)

	var dl wire.DownloadRequestResponse
	_ = c.callMaster(ctx, wire.DownloadRequestMsg{Type: wire.DownloadRequest, Filename: filename}, &dl)

	if len(dl.Nodes) > 0 {
		g, gctx := errgroup.WithContext(ctx)
		for _, addr := range dl.Nodes {
			addr := addr
			g.Go(func() error {
				if err := c.deleteOnNode(gctx, addr, filename); err != nil {
					log.Printf("fleetctl: delete %q on %s: %v", filename, addr, err)
				}
				return nil
			})
		}
		_ = g.Wait()
	}

	var done wire.StatusResponse
	if err := c.callMaster(ctx, wire.DeleteDoneMsg{Type: wire.DeleteDone, Filename: filename}, &done); err != nil {
		return fmt.Errorf("delete %q: reporting completion: %w", filename, err)
	}
	return nil
}

func (c *Client) deleteOnNode(ctx context.Context, addr, filename string) error {
	conn, err := c.dial(ctx, addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := wire.WriteMessage(conn, wire.DeleteFileHeader{Type: wire.DeleteFile, Filename: filename}); err != nil {
		return err
	}
	var resp wire.StatusResponse
	return json.NewDecoder(conn).Decode(&resp)
}

func (c *Client) dial(ctx context.Context, addr string) (net.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout())
	defer cancel()
	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	// A sliding idle deadline, not a fixed one: a whole-file upload or
	// download has no bound on total duration, only on how long any
	// single read or write may go silent.
	return wire.NewIdleConn(conn, c.dialTimeout()), nil
}

func (c *Client) dialTimeout() time.Duration {
	if c.DialTimeout <= 0 {
		return 10 * time.Second
	}
	return c.DialTimeout
}

// callMaster opens a short-lived connection to MasterAddr, sends req, and
// decodes the response into resp.
func (c *Client) callMaster(ctx context.Context, req, resp interface{}) error {
	conn, err := c.dial(ctx, c.MasterAddr)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := wire.WriteMessage(conn, req); err != nil {
		return err
	}
	return json.NewDecoder(conn).Decode(resp)
}
