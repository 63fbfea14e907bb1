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

// Command fleetnode runs a single FleetFS storage node: the
// UPLOAD_FILE/DOWNLOAD_FILE/DELETE_FILE data plane backed by a local
// directory, registering and heartbeating against a master.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"fleetfs.dev/fleetfs/pkg/storage"
)

func main() {
	var (
		nodeID            = flag.String("id", "", "node identifier registered with the master; random if empty")
		addr              = flag.String("addr", ":6000", "data-plane listen address advertised to the master")
		masterAddr        = flag.String("master", "127.0.0.1:5000", "master's data-plane address")
		storageDir        = flag.String("dir", "", "directory backing this node's files (required)")
		heartbeatInterval = flag.Duration("heartbeat-interval", 3*time.Second, "heartbeat send period")
		dialTimeout       = flag.Duration("dial-timeout", 5*time.Second, "timeout for register/heartbeat calls to the master")
		connDeadline      = flag.Duration("conn-deadline", 30*time.Second, "per-connection read/write deadline on the data plane")
		maxConnections    = flag.Int("max-connections", 64, "concurrent data-plane connection cap; 0 disables the cap")
		rateLimitBytes    = flag.Int("rate-limit-bytes", 0, "node-wide transfer rate limit in bytes/sec, shared by all connections; 0 disables throttling")
	)
	flag.Parse()

	if *storageDir == "" {
		fmt.Fprintln(os.Stderr, "fleetnode: -dir is required")
		os.Exit(2)
	}
	if *nodeID == "" {
		*nodeID = uuid.NewString()
	}

	backend, err := storage.NewDiskBackend(*storageDir)
	if err != nil {
		log.Fatalf("fleetnode: storage dir %s: %v", *storageDir, err)
	}

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		log.Fatalf("fleetnode: listen %s: %v", *addr, err)
	}

	cfg := storage.DefaultConfig()
	cfg.NodeID = *nodeID
	cfg.Addr = advertiseAddr(*addr, ln)
	cfg.MasterAddr = *masterAddr
	cfg.StorageDir = *storageDir
	cfg.HeartbeatInterval = *heartbeatInterval
	cfg.DialTimeout = *dialTimeout
	cfg.ConnDeadline = *connDeadline
	cfg.MaxConnections = *maxConnections
	cfg.RateLimitBytes = *rateLimitBytes

	node := storage.New(cfg, backend)
	log.Printf("fleetnode %s: listening on %s, reporting to %s, storing under %s", cfg.NodeID, ln.Addr(), *masterAddr, *storageDir)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := node.Run(ctx, ln); err != nil {
		log.Fatalf("fleetnode %s: %v", cfg.NodeID, err)
	}
}

// advertiseAddr resolves a possibly-wildcard listen address (":6000") to
// something dialable by other hosts, falling back to the flag value
// verbatim when the listener's local address doesn't parse as host:port.
func advertiseAddr(flagAddr string, ln net.Listener) string {
	host, port, err := net.SplitHostPort(flagAddr)
	if err != nil || host != "" {
		return flagAddr
	}
	_, lnPort, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		return flagAddr
	}
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "127.0.0.1"
	}
	if lnPort != "" {
		port = lnPort
	}
	return net.JoinHostPort(hostname, port)
}
