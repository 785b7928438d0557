// Copyright 2025 Tom Barlow
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

package wire

import (
	"math"
	"math/rand/v2"
	"time"
)

// NextDelay returns the backoff delay before the attempt following the given
// failed attempt number (1-based), or false when attempts are exhausted.
// The delay grows exponentially from MinTimeoutInMs by Factor, capped at
// MaxTimeoutInMs. When Randomize is set, the base delay is multiplied by a
// jitter factor uniform in [1, 2) before capping.
func (r RetryConfig) NextDelay(attempt int) (time.Duration, bool) {
	r.ApplyDefaults()

	if attempt >= r.MaxAttempts {
		return 0, false
	}

	jitter := 1.0
	if *r.Randomize {
		jitter = 1 + rand.Float64()
	}

	ms := jitter * float64(r.MinTimeoutInMs) * math.Pow(r.Factor, float64(attempt-1))
	ms = math.Min(ms, float64(r.MaxTimeoutInMs))

	return time.Duration(math.Round(ms)) * time.Millisecond, true
}

// Schedule builds the wire retry object for a failure of the given attempt,
// or nil when attempts are exhausted.
func (r RetryConfig) Schedule(attempt int, now time.Time) *TaskRunRetry {
	delay, ok := r.NextDelay(attempt)
	if !ok {
		return nil
	}
	return &TaskRunRetry{
		Timestamp: now.Add(delay).UnixMilli(),
		Delay:     delay.Milliseconds(),
	}
}
