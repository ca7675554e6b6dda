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

package keepass

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"

	"zombiezen.com/go/kdbx/pkg/secstr"
)

// Key file shapes on disk.
const (
	binaryKeyFileLen = 32
	hexKeyFileLen    = 64

	xmlKeyFileVersion = "1.00"
)

// KeyFileType identifies the on-disk shape a key file was read from.
type KeyFileType int

// Key file types
const (
	XMLKeyFile KeyFileType = iota
	BinaryKeyFile
	HexKeyFile
	HashedKeyFile
)

// A KeyFile holds the 32 bytes of key material contributed to a
// composite key by a file.
type KeyFile struct {
	key *secstr.Str
	typ KeyFileType
}

// NewKeyFile creates a key file with fresh random key material.  If
// rand is nil, crypto/rand.Reader is used.
func NewKeyFile(rand io.Reader) (*KeyFile, error) {
	rand = orCryptoRand(rand)
	key := make([]byte, binaryKeyFileLen)
	if _, err := io.ReadFull(rand, key); err != nil {
		return nil, err
	}
	return &KeyFile{key: secstr.New(key), typ: XMLKeyFile}, nil
}

// OpenKeyFile reads a key file.  32-byte files are used verbatim,
// 64-byte files of hex characters are decoded, XML files carry the key
// base64-encoded under KeyFile/Key/Data, and anything else contributes
// the SHA-256 of its whole content.
func OpenKeyFile(r io.Reader) (*KeyFile, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCannotReadKeyFile, err)
	}
	defer secstr.Wipe(data)
	switch len(data) {
	case binaryKeyFileLen:
		return &KeyFile{key: secstr.New(bytes.Clone(data)), typ: BinaryKeyFile}, nil
	case hexKeyFileLen:
		key := make([]byte, hex.DecodedLen(len(data)))
		if _, err := hex.Decode(key, data); err == nil {
			return &KeyFile{key: secstr.New(key), typ: HexKeyFile}, nil
		}
	}
	if looksLikeXMLKeyFile(data) {
		return openXMLKeyFile(data)
	}
	sum := sha256.Sum256(data)
	return &KeyFile{key: secstr.New(sum[:]), typ: HashedKeyFile}, nil
}

// looksLikeXMLKeyFile reports whether data has a KeyFile root element.
// Content that is not the XML shape falls back to hashing rather than
// failing, matching what KeePass2 accepts.
func looksLikeXMLKeyFile(data []byte) bool {
	d := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := d.Token()
		if err != nil {
			return false
		}
		if se, ok := tok.(xml.StartElement); ok {
			return se.Name.Local == "KeyFile"
		}
	}
}

func openXMLKeyFile(data []byte) (*KeyFile, error) {
	var doc struct {
		Meta struct {
			Version string `xml:"Version"`
		} `xml:"Meta"`
		Key struct {
			Data string `xml:"Data"`
		} `xml:"Key"`
	}
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyFile, err)
	}
	if doc.Meta.Version != "" && doc.Meta.Version != xmlKeyFileVersion {
		return nil, fmt.Errorf("%w: unsupported version %q", ErrInvalidKeyFile, doc.Meta.Version)
	}
	key, err := base64.StdEncoding.DecodeString(doc.Key.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyFile, err)
	}
	if len(key) != binaryKeyFileLen {
		secstr.Wipe(key)
		return nil, fmt.Errorf("%w: key is %d bytes, should be %d", ErrInvalidKeyFile, len(key), binaryKeyFileLen)
	}
	return &KeyFile{key: secstr.New(key), typ: XMLKeyFile}, nil
}

// Type returns the shape the key file was read from.  Fresh key files
// report XMLKeyFile.
func (f *KeyFile) Type() KeyFileType {
	return f.typ
}

// Save writes the key file in the XML shape.
func (f *KeyFile) Save(w io.Writer) error {
	data := base64.StdEncoding.EncodeToString(f.key.Bytes())
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	buf.WriteString("<KeyFile>\n")
	buf.WriteString("\t<Meta>\n")
	buf.WriteString("\t\t<Version>" + xmlKeyFileVersion + "</Version>\n")
	buf.WriteString("\t</Meta>\n")
	buf.WriteString("\t<Key>\n")
	buf.WriteString("\t\t<Data>" + data + "</Data>\n")
	buf.WriteString("\t</Key>\n")
	buf.WriteString("</KeyFile>\n")
	_, err := w.Write(buf.Bytes())
	return err
}

// Wipe destroys the key material.
func (f *KeyFile) Wipe() {
	if f != nil {
		f.key.Wipe()
	}
}
