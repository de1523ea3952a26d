// Copyright 2024 The gopmem Authors.
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

// Package pmemlog is the library's only logging surface: a thin wrapper
// around log/slog used exclusively for the handful of cases that call
// for "log and continue" rather than "return an error".
package pmemlog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

// handler formats records the way util/logger does in the rest of this
// corpus: a timestamp, a level tag, and the message, one line per record.
type handler struct {
	mu  *sync.Mutex
	out io.Writer
}

func (h *handler) Enabled(context.Context, slog.Level) bool { return true }

func (h *handler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, r.Time.Format("2006/01/02 15:04:05")+" "+r.Level.String()+": "+r.Message+"\n")
	return err
}

func (h *handler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *handler) WithGroup(string) slog.Handler      { return h }

var (
	mu sync.Mutex
	// L is the package-level logger used by every component that needs to
	// warn-and-continue. It is not used on any hot path; DeepFlush's
	// missing-control-file warning is logged under the registry read lock.
	L = slog.New(&handler{mu: &sync.Mutex{}, out: os.Stderr})
)

// SetOutput redirects all future log records to w. Intended for tests that
// want to assert on warning text.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	L = slog.New(&handler{mu: &sync.Mutex{}, out: w})
}

// Warnf logs a one-line warning. Used for invalid env overrides, partial
// registration during MapFile, an unsupported fallocate, an unresolvable
// DAX region id, and a missing deep-flush control file.
func Warnf(format string, args ...any) {
	mu.Lock()
	l := L
	mu.Unlock()
	l.Warn(fmt.Sprintf(format, args...))
}
