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

package masterstate

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestLockMutualExclusion(t *testing.T) {
	s := New(2, 10*time.Second, 0)
	now := time.Now()

	if !s.LockAcquire("x", "client-a", now) {
		t.Fatal("client-a expected to acquire fresh lock")
	}
	if s.LockAcquire("x", "client-b", now) {
		t.Fatal("client-b acquired a lock already held by client-a")
	}

	s.LockRelease("x", "client-a")

	if !s.LockAcquire("x", "client-b", now) {
		t.Fatal("client-b expected to acquire lock after release")
	}
}

func TestLockReentrant(t *testing.T) {
	s := New(2, 10*time.Second, 0)
	now := time.Now()

	for i := 0; i < 3; i++ {
		if !s.LockAcquire("x", "client-a", now) {
			t.Fatalf("re-entrant LockAcquire #%d failed", i)
		}
	}
}

func TestLockReleaseByNonHolderIsNoop(t *testing.T) {
	s := New(2, 10*time.Second, 0)
	now := time.Now()

	s.LockAcquire("x", "client-a", now)
	s.LockRelease("x", "client-b") // not the holder

	if s.LockAcquire("x", "client-b", now) {
		t.Fatal("client-b should still be locked out after a no-op release by itself")
	}
}

func TestLockLeaseExpiry(t *testing.T) {
	s := New(2, 10*time.Second, time.Minute)
	start := time.Now()

	s.LockAcquire("x", "client-a", start)
	s.SweepLockLeases(start.Add(30 * time.Second))

	if s.LockAcquire("x", "client-b", start.Add(30*time.Second)) {
		t.Fatal("lock should not have expired yet")
	}

	s.SweepLockLeases(start.Add(2 * time.Minute))
	if !s.LockAcquire("x", "client-b", start.Add(2*time.Minute)) {
		t.Fatal("lock should have expired after lease elapsed")
	}
}

func TestLivenessTransitions(t *testing.T) {
	s := New(2, 10*time.Second, 0)
	start := time.Now()

	s.RegisterNode("n1", "127.0.0.1:9001", start)
	s.SweepLiveness(start.Add(5 * time.Second))

	status := s.NodesStatus()
	if len(status) != 1 || !status[0].Alive {
		t.Fatalf("node should still be alive within heartbeat timeout: %+v", status)
	}

	s.SweepLiveness(start.Add(11 * time.Second))
	status = s.NodesStatus()
	if status[0].Alive {
		t.Fatal("node should be dead after heartbeat timeout elapses")
	}

	s.Heartbeat("n1", start.Add(12*time.Second))
	status = s.NodesStatus()
	if !status[0].Alive {
		t.Fatal("node should be alive again immediately after a heartbeat")
	}
}

func TestHeartbeatUnknownNodeIgnored(t *testing.T) {
	s := New(2, 10*time.Second, 0)
	s.Heartbeat("ghost", time.Now()) // must not panic
	if len(s.NodesStatus()) != 0 {
		t.Fatal("heartbeat from an unknown node must not create a record")
	}
}

func TestPlacementBoundAndAliveOnly(t *testing.T) {
	s := New(2, 10*time.Second, 0)
	now := time.Now()

	s.RegisterNode("n1", "10.0.0.1:9001", now)
	s.RegisterNode("n2", "10.0.0.2:9001", now)
	s.RegisterNode("n3", "10.0.0.3:9001", now)
	s.SweepLiveness(now.Add(20 * time.Second)) // everyone goes dead

	if got := s.PlaceReplicas(); len(got) != 0 {
		t.Fatalf("expected no placement candidates once all nodes are dead, got %v", got)
	}

	s.Heartbeat("n1", now.Add(20*time.Second))
	s.Heartbeat("n2", now.Add(20*time.Second))
	s.Heartbeat("n3", now.Add(20*time.Second))

	got := s.PlaceReplicas()
	if len(got) != 2 {
		t.Fatalf("replication factor 2: got %d addresses: %v", len(got), got)
	}
	want := []string{"10.0.0.1:9001", "10.0.0.2:9001"} // insertion order, first-fit
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected placement order (-want +got):\n%s", diff)
	}
}

func TestDownloadFiltering(t *testing.T) {
	s := New(2, 10*time.Second, 0)
	now := time.Now()

	s.RegisterNode("n1", "10.0.0.1:9001", now)
	s.RegisterNode("n2", "10.0.0.2:9001", now)
	s.UploadDone("a.bin", []string{"10.0.0.1:9001", "10.0.0.2:9001"})

	s.SweepLiveness(now.Add(20 * time.Second)) // n1 goes silent below
	s.Heartbeat("n2", now.Add(20*time.Second)) // n2 stays alive

	got, err := s.DownloadRequest("a.bin")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff([]string{"10.0.0.2:9001"}, got); diff != "" {
		t.Fatalf("unexpected replica set (-want +got):\n%s", diff)
	}
}

func TestDownloadUnknownFile(t *testing.T) {
	s := New(2, 10*time.Second, 0)
	if _, err := s.DownloadRequest("nope"); err != ErrFileNotFound {
		t.Fatalf("got %v, want ErrFileNotFound", err)
	}
}

func TestDownloadAllReplicasDead(t *testing.T) {
	s := New(2, 10*time.Second, 0)
	now := time.Now()

	s.RegisterNode("n1", "10.0.0.1:9001", now)
	s.RegisterNode("n2", "10.0.0.2:9001", now)
	s.UploadDone("c", []string{"10.0.0.1:9001", "10.0.0.2:9001"})
	s.SweepLiveness(now.Add(20 * time.Second))

	if _, err := s.DownloadRequest("c"); err != ErrNoAliveReplicas {
		t.Fatalf("got %v, want ErrNoAliveReplicas", err)
	}

	replicas, ok := s.FileInfo("c")
	if !ok {
		t.Fatal("FILE_INFO should still report a deleted-liveness file")
	}
	for _, r := range replicas {
		if r.Alive {
			t.Fatalf("expected all replicas dead in FILE_INFO, got %+v", r)
		}
	}
}

func TestDeleteDoneIdempotent(t *testing.T) {
	s := New(2, 10*time.Second, 0)
	now := time.Now()

	s.RegisterNode("n1", "10.0.0.1:9001", now)
	s.UploadDone("b.txt", []string{"10.0.0.1:9001"})

	s.DeleteDone("b.txt")
	if got := s.ListFiles(); len(got) != 0 {
		t.Fatalf("expected no files after delete, got %v", got)
	}

	s.DeleteDone("b.txt") // second delete: still fine, no panic/error

	if _, err := s.DownloadRequest("b.txt"); err != ErrFileNotFound {
		t.Fatalf("got %v, want ErrFileNotFound after delete", err)
	}
}

func TestUploadDoneOverwrites(t *testing.T) {
	s := New(2, 10*time.Second, 0)
	now := time.Now()

	s.RegisterNode("n1", "10.0.0.1:9001", now)
	s.RegisterNode("n2", "10.0.0.2:9001", now)

	s.UploadDone("f", []string{"10.0.0.1:9001"})
	s.UploadDone("f", []string{"10.0.0.2:9001"})

	got, err := s.DownloadRequest("f")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"10.0.0.2:9001"}, got, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("unexpected replica set after overwrite (-want +got):\n%s", diff)
	}
}
