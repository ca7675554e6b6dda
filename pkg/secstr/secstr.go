// Copyright 2025 The Sandpass Authors
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

// Package secstr stores secrets in buffers that can be wiped after use.
//
// Go gives no destructor hook, so wiping is explicit: callers (and the
// kdbx packages themselves) call Wipe once a secret is no longer needed.
package secstr

// A Str holds a secret byte string.
type Str struct {
	b []byte
}

// New returns a Str that takes ownership of b.  The caller must not
// retain b.
func New(b []byte) *Str {
	return &Str{b: b}
}

// FromString copies s into a new Str.  The original string cannot be
// wiped; prefer New with a byte slice for material that never needs a
// string form.
func FromString(s string) *Str {
	return &Str{b: []byte(s)}
}

// Bytes returns the secret bytes.  The slice aliases the internal
// buffer and becomes garbage after Wipe.
func (s *Str) Bytes() []byte {
	if s == nil {
		return nil
	}
	return s.b
}

// String returns a copy of the secret as a string.
func (s *Str) String() string {
	if s == nil {
		return ""
	}
	return string(s.b)
}

// Len returns the length of the secret in bytes.
func (s *Str) Len() int {
	if s == nil {
		return 0
	}
	return len(s.b)
}

// Wipe overwrites the secret with zero bytes and truncates it.
// Calling Wipe multiple times is harmless.
func (s *Str) Wipe() {
	if s == nil {
		return
	}
	for i := range s.b {
		s.b[i] = 0
	}
	s.b = s.b[:0]
}

// Wipe zeroes b in place.  Helper for secrets held in plain slices.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
