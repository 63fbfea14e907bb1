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

// Command fleetmaster runs the FleetFS master coordinator: the
// data-plane TCP listener, plus a Prometheus metrics endpoint on a
// second listener.
package main

import (
	"context"
	"flag"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fleetfs.dev/fleetfs/pkg/master"
)

func main() {
	var (
		addr              = flag.String("addr", ":5000", "data-plane listen address")
		metricsAddr       = flag.String("metrics-addr", ":9100", "Prometheus metrics listen address, empty to disable")
		replicationFactor = flag.Int("replication-factor", 2, "number of replicas placed per file")
		heartbeatTimeout  = flag.Duration("heartbeat-timeout", 10*time.Second, "time since last heartbeat before a node is declared dead")
		heartbeatInterval = flag.Duration("monitor-interval", 2*time.Second, "liveness/lock-lease sweep period")
		lockLease         = flag.Duration("lock-lease", 5*time.Minute, "write lock expiry; 0 disables expiry")
		maxConnections    = flag.Int("max-connections", 256, "concurrent data-plane connection cap; 0 disables the cap")
	)
	flag.Parse()

	cfg := master.DefaultConfig()
	cfg.ReplicationFactor = *replicationFactor
	cfg.HeartbeatTimeout = *heartbeatTimeout
	cfg.HeartbeatInterval = *heartbeatInterval
	cfg.LockLease = *lockLease
	cfg.MaxConnections = *maxConnections

	srv := master.New(cfg)

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		log.Fatalf("fleetmaster: listen %s: %v", *addr, err)
	}
	log.Printf("fleetmaster: listening on %s (replication factor %d)", ln.Addr(), cfg.ReplicationFactor)

	if *metricsAddr != "" {
		go func() {
			if err := srv.ServeMetrics(*metricsAddr); err != nil {
				log.Printf("fleetmaster: metrics server stopped: %v", err)
			}
		}()
		log.Printf("fleetmaster: metrics on %s/metrics", *metricsAddr)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := srv.Serve(ctx, ln); err != nil {
		log.Fatalf("fleetmaster: %v", err)
	}
}
