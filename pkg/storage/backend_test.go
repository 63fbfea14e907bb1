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
	"errors"
	"io"
	"testing"
)

func TestDiskBackendPutGetDelete(t *testing.T) {
	b, err := NewDiskBackend(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	data := []byte("some bytes")
	if err := b.Put("a.bin", int64(len(data)), bytes.NewReader(data)); err != nil {
		t.Fatal(err)
	}

	r, size, err := b.Get("a.bin")
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if size != int64(len(data)) {
		t.Fatalf("got size %d, want %d", size, len(data))
	}
	got, _ := io.ReadAll(r)
	if !bytes.Equal(got, data) {
		t.Fatalf("got %q, want %q", got, data)
	}

	if err := b.Delete("a.bin"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := b.Get("a.bin"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
	if err := b.Delete("a.bin"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete: got %v, want ErrNotFound", err)
	}
}

func TestDiskBackendOverwrite(t *testing.T) {
	b, err := NewDiskBackend(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	b.Put("a", 5, bytes.NewReader([]byte("first")))
	b.Put("a", 6, bytes.NewReader([]byte("second")))

	r, size, err := b.Get("a")
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	got, _ := io.ReadAll(r)
	if size != 6 || string(got) != "second" {
		t.Fatalf("got %q (size %d), want \"second\" (size 6)", got, size)
	}
}

func TestDiskBackendBasenameOnly(t *testing.T) {
	b, err := NewDiskBackend(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	if b.path("../../evil") != b.path("evil") {
		t.Fatalf("path traversal not neutralized: %q vs %q", b.path("../../evil"), b.path("evil"))
	}
}
