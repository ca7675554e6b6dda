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

package secstr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewTakesOwnership(t *testing.T) {
	b := []byte("secret")
	s := New(b)
	assert.Equal(t, []byte("secret"), s.Bytes())
	assert.Equal(t, "secret", s.String())
	assert.Equal(t, 6, s.Len())
}

func TestWipeZeroes(t *testing.T) {
	b := []byte("secret")
	s := New(b)
	s.Wipe()
	assert.Zero(t, s.Len())
	for i, c := range b {
		assert.Zero(t, c, "backing byte %d survived Wipe", i)
	}
	s.Wipe() // double wipe is harmless
}

func TestNilReceiver(t *testing.T) {
	var s *Str
	assert.Nil(t, s.Bytes())
	assert.Equal(t, "", s.String())
	assert.Zero(t, s.Len())
	s.Wipe()
}

func TestFromString(t *testing.T) {
	s := FromString("hunter2")
	assert.Equal(t, "hunter2", s.String())
	s.Wipe()
	assert.Equal(t, "", s.String())
}

func TestWipeSlice(t *testing.T) {
	b := []byte{1, 2, 3}
	Wipe(b)
	assert.Equal(t, []byte{0, 0, 0}, b)
}
