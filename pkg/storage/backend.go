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

// Package storage implements a storage node: a Backend that persists file
// bytes, and a TCP server that speaks the UPLOAD_FILE/DOWNLOAD_FILE/
// DELETE_FILE protocol against it.
package storage

import (
	"errors"
	"io"
	"os"
	"path/filepath"
)

// ErrNotFound is returned by Backend.Get and Backend.Delete for a filename
// that doesn't exist.
var ErrNotFound = errors.New("file not found")

// Backend is the storage node's persistence interface, decomposed into
// narrow single-purpose methods so dispatch code in node.go never
// touches os.* or a filesystem path directly. FleetFS ships exactly one
// implementation, DiskBackend, since local-disk persistence is all a
// node needs.
type Backend interface {
	// Put reads exactly size bytes from r and persists them under name,
	// overwriting any existing contents. If size is negative, Put reads
	// until EOF instead (the size-absent fallback).
	Put(name string, size int64, r io.Reader) error

	// Get opens name for reading and reports its size. The caller must
	// close the returned ReadCloser. Returns ErrNotFound if name does not
	// exist.
	Get(name string) (io.ReadCloser, int64, error)

	// Delete removes name. Returns ErrNotFound if it does not exist.
	Delete(name string) error
}

// DiskBackend persists files under a single directory, one file per
// object, named by basename, with no metadata sidecar.
type DiskBackend struct {
	dir string
}

// NewDiskBackend returns a Backend rooted at dir, creating it if absent.
func NewDiskBackend(dir string) (*DiskBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &DiskBackend{dir: dir}, nil
}

// path reduces name to its basename before touching disk, preventing path
// traversal regardless of what a client sends over the wire.
func (b *DiskBackend) path(name string) string {
	return filepath.Join(b.dir, filepath.Base(name))
}

func (b *DiskBackend) Put(name string, size int64, r io.Reader) error {
	f, err := os.OpenFile(b.path(name), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if size < 0 {
		_, err = io.Copy(f, r)
		return err
	}
	_, err = io.CopyN(f, r, size)
	return err
}

func (b *DiskBackend) Get(name string) (io.ReadCloser, int64, error) {
	f, err := os.Open(b.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, info.Size(), nil
}

func (b *DiskBackend) Delete(name string) error {
	err := os.Remove(b.path(name))
	if os.IsNotExist(err) {
		return ErrNotFound
	}
	return err
}
