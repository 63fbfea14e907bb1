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

// Package wire defines the JSON message schemas and connection framing
// shared by the master, storage nodes, and the client library. Every
// message is a single JSON object; a connection carries exactly one
// request, one response, and (for file transfers only) a raw byte stream
// of declared length.
package wire

// MessageType discriminates the tagged-variant request on a connection.
type MessageType string

// Master-facing message types.
const (
	RegisterNode    MessageType = "REGISTER_NODE"
	Heartbeat       MessageType = "HEARTBEAT"
	LockRequest     MessageType = "LOCK_REQUEST"
	LockRelease     MessageType = "LOCK_RELEASE"
	ListFiles       MessageType = "LIST_FILES"
	NodesStatus     MessageType = "NODES_STATUS"
	UploadRequest   MessageType = "UPLOAD_REQUEST"
	UploadDone      MessageType = "UPLOAD_DONE"
	DownloadRequest MessageType = "DOWNLOAD_REQUEST"
	FileInfo        MessageType = "FILE_INFO"
	DeleteDone      MessageType = "DELETE_DONE"
)

// Storage-node-facing message types.
const (
	UploadFile   MessageType = "UPLOAD_FILE"
	DownloadFile MessageType = "DOWNLOAD_FILE"
	DeleteFile   MessageType = "DELETE_FILE"
)

// StatusOK and friends are the values of the wire "status" field.
const (
	StatusOK     = "ok"
	StatusReady  = "ready"
	StatusLocked = "locked"
	StatusError  = "error"
)

// --- Master protocol ---

// RegisterNodeRequest registers a storage node with the master.
type RegisterNodeRequest struct {
	Type   MessageType `json:"type"`
	NodeID string      `json:"node_id"`
	Addr   string      `json:"addr"`
}

// HeartbeatRequest refreshes a node's liveness.
type HeartbeatRequest struct {
	Type   MessageType `json:"type"`
	NodeID string      `json:"node_id"`
}

// LockRequestMsg requests the write lock for a filename.
type LockRequestMsg struct {
	Type     MessageType `json:"type"`
	Filename string      `json:"filename"`
	ClientID string      `json:"client_id"`
}

// LockReleaseMsg releases the write lock for a filename.
type LockReleaseMsg struct {
	Type     MessageType `json:"type"`
	Filename string      `json:"filename"`
	ClientID string      `json:"client_id"`
}

// ListFilesRequest has no payload beyond its type.
type ListFilesRequest struct {
	Type MessageType `json:"type"`
}

// NodesStatusRequest has no payload beyond its type.
type NodesStatusRequest struct {
	Type MessageType `json:"type"`
}

// UploadRequestMsg asks the master to place a new file.
type UploadRequestMsg struct {
	Type     MessageType `json:"type"`
	Filename string      `json:"filename"`
}

// UploadDoneMsg tells the master where replicas actually landed.
type UploadDoneMsg struct {
	Type     MessageType `json:"type"`
	Filename string      `json:"filename"`
	Nodes    []string    `json:"nodes"`
}

// DownloadRequestMsg asks the master for a file's alive replica addresses.
type DownloadRequestMsg struct {
	Type     MessageType `json:"type"`
	Filename string      `json:"filename"`
}

// FileInfoRequest asks the master for full replica detail on one file.
type FileInfoRequest struct {
	Type     MessageType `json:"type"`
	Filename string      `json:"filename"`
}

// DeleteDoneMsg tells the master to forget a filename.
type DeleteDoneMsg struct {
	Type     MessageType `json:"type"`
	Filename string      `json:"filename"`
}

// StatusResponse is the common shape for calls that only ever answer
// ok/ready/locked/error plus an optional human-readable message.
type StatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// ListFilesResponse answers LIST_FILES.
type ListFilesResponse struct {
	Files []string `json:"files"`
}

// NodeStatusEntry is one row of a NODES_STATUS response.
type NodeStatusEntry struct {
	ID      string `json:"id"`
	Address string `json:"address"`
	Status  string `json:"status"` // "ALIVE" or "DEAD"
}

// NodesStatusResponse answers NODES_STATUS.
type NodesStatusResponse struct {
	Nodes []NodeStatusEntry `json:"nodes"`
}

// UploadRequestResponse answers UPLOAD_REQUEST with chosen replica targets.
type UploadRequestResponse struct {
	Nodes []string `json:"nodes"`
}

// DownloadRequestResponse answers DOWNLOAD_REQUEST.
type DownloadRequestResponse struct {
	Status  string   `json:"status"`
	Message string   `json:"message,omitempty"`
	Nodes   []string `json:"nodes,omitempty"`
}

// ReplicaInfo is one entry of a FILE_INFO response.
type ReplicaInfo struct {
	NodeID  string `json:"node_id"`
	Address string `json:"address"`
	Alive   bool   `json:"alive"`
}

// FileInfoResponse answers FILE_INFO.
type FileInfoResponse struct {
	Status   string        `json:"status"`
	Message  string        `json:"message,omitempty"`
	Replicas []ReplicaInfo `json:"replicas,omitempty"`
}

// --- Storage node protocol ---

// UploadFileHeader opens an UPLOAD_FILE transfer. Size is the exact byte
// count that follows the node's "ready" response; if zero-valued and the
// sender has no size to report, the node reads until EOF instead (see
// pkg/storage).
type UploadFileHeader struct {
	Type     MessageType `json:"type"`
	Filename string      `json:"filename"`
	Size     int64       `json:"size,omitempty"`
}

// DownloadFileHeader opens a DOWNLOAD_FILE transfer.
type DownloadFileHeader struct {
	Type     MessageType `json:"type"`
	Filename string      `json:"filename"`
}

// DownloadFileResponse precedes the raw byte stream of a download.
type DownloadFileResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Size    int64  `json:"size,omitempty"`
}

// DeleteFileHeader requests deletion of one file on one node.
type DeleteFileHeader struct {
	Type     MessageType `json:"type"`
	Filename string      `json:"filename"`
}
