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

package kdbxcrypt

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testParams() *Params {
	p := &Params{TransformRounds: 32}
	for i := range p.Key {
		p.Key[i] = byte(i)
	}
	for i := range p.MasterSeed {
		p.MasterSeed[i] = byte(i * 3)
	}
	for i := range p.TransformSeed {
		p.TransformSeed[i] = byte(i * 5)
	}
	for i := range p.IV {
		p.IV[i] = byte(i * 7)
	}
	return p
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	plaintexts := [][]byte{
		{},
		[]byte("short"),
		bytes.Repeat([]byte("0123456789abcdef"), 4), // block aligned
		bytes.Repeat([]byte("all work and no play"), 500),
	}
	for _, plaintext := range plaintexts {
		p := testParams()
		buf := new(bytes.Buffer)
		enc, err := NewEncrypter(buf, p)
		require.NoError(t, err)
		_, err = enc.Write(plaintext)
		require.NoError(t, err)
		require.NoError(t, enc.Close())

		assert.Zero(t, buf.Len()%BlockSize, "ciphertext not block aligned")
		if len(plaintext) > 0 {
			assert.NotContains(t, buf.String(), string(plaintext[:min(len(plaintext), 16)]))
		}

		dec, err := NewDecrypter(bytes.NewReader(buf.Bytes()), p)
		require.NoError(t, err)
		got, err := io.ReadAll(dec)
		require.NoError(t, err)
		assert.Equal(t, plaintext, got, "round trip of %d bytes", len(plaintext))
	}
}

func TestDecryptWrongKey(t *testing.T) {
	p := testParams()
	buf := new(bytes.Buffer)
	enc, err := NewEncrypter(buf, p)
	require.NoError(t, err)
	_, err = enc.Write([]byte("super secret database content"))
	require.NoError(t, err)
	require.NoError(t, enc.Close())

	wrong := testParams()
	wrong.Key[0] ^= 0xff
	dec, err := NewDecrypter(bytes.NewReader(buf.Bytes()), wrong)
	require.NoError(t, err)
	got, err := io.ReadAll(dec)
	if err == nil {
		// Padding may decode by chance; the plaintext must still be
		// garbage.
		assert.NotEqual(t, []byte("super secret database content"), got)
	}
}

func TestMasterKeyDependsOnAllInputs(t *testing.T) {
	base := testParams().masterKey()

	k := testParams()
	k.Key[31]++
	assert.NotEqual(t, base, k.masterKey(), "composite key change")

	k = testParams()
	k.MasterSeed[0]++
	assert.NotEqual(t, base, k.masterKey(), "master seed change")

	k = testParams()
	k.TransformSeed[0]++
	assert.NotEqual(t, base, k.masterKey(), "transform seed change")

	k = testParams()
	k.TransformRounds++
	assert.NotEqual(t, base, k.masterKey(), "round count change")

	assert.Equal(t, base, testParams().masterKey(), "derivation not deterministic")
}

func TestMasterKeyZeroRounds(t *testing.T) {
	p := testParams()
	p.TransformRounds = 0
	assert.Len(t, p.masterKey(), 32)
}

func TestCompositeKey(t *testing.T) {
	part1 := bytes.Repeat([]byte{0x01}, 32)
	part2 := bytes.Repeat([]byte{0x02}, 32)

	one, err := CompositeKey(part1)
	require.NoError(t, err)
	assert.Len(t, one.Bytes(), 32)

	both, err := CompositeKey(part1, part2)
	require.NoError(t, err)
	assert.NotEqual(t, one.Bytes(), both.Bytes())

	swapped, err := CompositeKey(part2, part1)
	require.NoError(t, err)
	assert.NotEqual(t, both.Bytes(), swapped.Bytes(), "part order must matter")

	again, err := CompositeKey(part1, part2)
	require.NoError(t, err)
	assert.Equal(t, both.Bytes(), again.Bytes())

	_, err = CompositeKey()
	assert.ErrorIs(t, err, ErrEmptyKey)
}

func TestHashPassword(t *testing.T) {
	a := HashPassword([]byte("password"))
	b := HashPassword([]byte("Password"))
	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, HashPassword([]byte("password")))
}
