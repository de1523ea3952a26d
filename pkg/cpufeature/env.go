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

package cpufeature

import (
	"os"
	"strconv"

	"github.com/gopmem/gopmem/internal/pmemlog"
)

// envDisabled reports whether the named boolean override is set to "1".
func envDisabled(name string) bool {
	return os.Getenv(name) == "1"
}

// envThreshold parses a non-negative integer override. An invalid value is
// logged and ignored, per the env-override contract.
func envThreshold(name string) (uint64, bool) {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return 0, false
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		pmemlog.Warnf("cpufeature: ignoring invalid %s=%q: %v", name, v, err)
		return 0, false
	}
	return n, true
}

type forceKind int

const (
	forceUnset forceKind = iota
	forceNever
	forceAlways
)

func envForce(name string) forceKind {
	v, ok := os.LookupEnv(name)
	if !ok {
		return forceUnset
	}
	switch v {
	case "0":
		return forceNever
	case "1":
		return forceAlways
	default:
		pmemlog.Warnf("cpufeature: ignoring invalid %s=%q", name, v)
		return forceUnset
	}
}
