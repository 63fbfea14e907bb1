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
	"context"
	"io"

	"golang.org/x/time/rate"
)

// throttledReader and throttledWriter cap transfer throughput through a
// shared golang.org/x/time/rate.Limiter. A nil limiter disables throttling
// entirely, which is the default.

type throttledReader struct {
	r   io.Reader
	lim *rate.Limiter
	ctx context.Context
}

func newThrottledReader(ctx context.Context, r io.Reader, lim *rate.Limiter) io.Reader {
	if lim == nil {
		return r
	}
	return &throttledReader{r: r, lim: lim, ctx: ctx}
}

func (t *throttledReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if n > 0 {
		if werr := waitTokens(t.ctx, t.lim, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}

type throttledWriter struct {
	w   io.Writer
	lim *rate.Limiter
	ctx context.Context
}

func newThrottledWriter(ctx context.Context, w io.Writer, lim *rate.Limiter) io.Writer {
	if lim == nil {
		return w
	}
	return &throttledWriter{w: w, lim: lim, ctx: ctx}
}

func (t *throttledWriter) Write(p []byte) (int, error) {
	n, err := t.w.Write(p)
	if n > 0 {
		if werr := waitTokens(t.ctx, t.lim, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}

// waitTokens charges all n bytes against lim, in burst-sized steps so no
// single WaitN call exceeds the burst.
func waitTokens(ctx context.Context, lim *rate.Limiter, n int) error {
	for n > 0 {
		step := clampBurst(lim, n)
		if err := lim.WaitN(ctx, step); err != nil {
			return err
		}
		n -= step
	}
	return nil
}

// clampBurst keeps WaitN's request within the limiter's burst size, since
// rate.Limiter.WaitN rejects n greater than its burst.
func clampBurst(lim *rate.Limiter, n int) int {
	if b := lim.Burst(); b > 0 && n > b {
		return b
	}
	return n
}
