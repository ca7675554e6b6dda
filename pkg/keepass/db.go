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

// Package keepass reads and writes the KeePass2 database format
// (.kdbx, container version 3).
package keepass // import "zombiezen.com/go/kdbx/pkg/keepass"

import (
	"bytes"
	"io"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/language"
	textsearch "golang.org/x/text/search"

	"zombiezen.com/go/kdbx/pkg/kdbxcrypt"
	"zombiezen.com/go/kdbx/pkg/secstr"
)

// generatorName is written into Meta/Generator on save.
const generatorName = "kdbx"

// rootGroupName is the name of the root group of a new database.
const rootGroupName = "Root"

// Meta defaults
const (
	defaultHistoryMaxItems        = 10
	defaultHistoryMaxSize         = 6291456
	defaultMaintenanceHistoryDays = 365
)

// MemoryProtection records which of the well-known entry fields the
// database wants treated as protected.
type MemoryProtection struct {
	Title    bool
	UserName bool
	Password bool
	URL      bool
	Notes    bool
}

// A CustomIcon is a PNG image attached to the database and referenced
// by groups and entries through its UUID.
type CustomIcon struct {
	UUID uuid.UUID
	Data []byte
}

// A Binary is one blob in the database binary pool, referenced from
// entries by its ID.
type Binary struct {
	ID         string
	Compressed bool
	Data       []byte
}

// A CustomDataItem is one key/value pair of free-form database data.
type CustomDataItem struct {
	Key   string
	Value string
}

// Meta is the database-wide metadata block.
type Meta struct {
	Generator                  string
	DatabaseName               string
	DatabaseNameChanged        time.Time
	DatabaseDescription        string
	DatabaseDescriptionChanged time.Time
	DefaultUserName            string
	DefaultUserNameChanged     time.Time
	MaintenanceHistoryDays     int32
	Color                      string
	MasterKeyChanged           time.Time
	MasterKeyChangeRec         int64
	MasterKeyChangeForce       int64
	MemoryProtection           MemoryProtection
	CustomIcons                []CustomIcon
	RecycleBinEnabled          bool
	RecycleBinUUID             uuid.UUID
	RecycleBinChanged          time.Time
	EntryTemplatesGroup        uuid.UUID
	EntryTemplatesGroupChanged time.Time
	LastSelectedGroup          uuid.UUID
	LastTopVisibleGroup        uuid.UUID
	HistoryMaxItems            int32
	HistoryMaxSize             int32
	Binaries                   []Binary
	CustomData                 []CustomDataItem

	// headerHash is the SHA-256 of the binary header the XML was read
	// from, as recorded in the file.  Rewritten on every save.
	headerHash []byte
}

// A Database represents a decrypted KDBX file.
//
// A Database is not safe for concurrent use: callers that share one
// across goroutines must serialize access themselves.
type Database struct {
	meta *Meta
	root *Group

	comment         []byte
	compression     uint32
	transformRounds uint64
	deleted         []DeletedObject

	key  *CompositeKey
	rand io.Reader
}

// New creates a new empty database locked by key.
func New(key *CompositeKey, opts *Options) (*Database, error) {
	if _, ok := key.bytes(); !ok {
		return nil, ErrInvalidKey
	}
	db := &Database{
		compression:     opts.getCompression(),
		transformRounds: opts.getTransformRounds(),
		key:             key,
		rand:            opts.getRand(),
	}
	now := db.now()
	db.meta = &Meta{
		Generator:                  generatorName,
		DatabaseNameChanged:        now,
		DatabaseDescriptionChanged: now,
		DefaultUserNameChanged:     now,
		MaintenanceHistoryDays:     defaultMaintenanceHistoryDays,
		MasterKeyChanged:           now,
		MasterKeyChangeRec:         -1,
		MasterKeyChangeForce:       -1,
		MemoryProtection:           MemoryProtection{Password: true},
		RecycleBinEnabled:          true,
		RecycleBinChanged:          now,
		EntryTemplatesGroupChanged: now,
		HistoryMaxItems:            defaultHistoryMaxItems,
		HistoryMaxSize:             defaultHistoryMaxSize,
	}
	id, err := uuid.NewRandomFromReader(db.rand)
	if err != nil {
		return nil, err
	}
	db.root = &Group{
		UUID:       id,
		Name:       rootGroupName,
		Icon:       IconFolder,
		IsExpanded: true,
		Times:      newTimes(now),
		db:         db,
	}
	return db, nil
}

// Open decrypts and reads a database.
func Open(r io.Reader, key *CompositeKey, opts *Options) (*Database, error) {
	raw, ok := key.bytes()
	if !ok {
		return nil, ErrInvalidKey
	}
	defer secstr.Wipe(raw[:])

	h, err := readHeader(r)
	if err != nil {
		return nil, err
	}

	params := &kdbxcrypt.Params{
		Key:             raw,
		MasterSeed:      h.masterSeed,
		TransformSeed:   h.transformSeed,
		TransformRounds: h.transformRounds,
		IV:              h.encryptionIV,
	}
	defer secstr.Wipe(params.Key[:])
	dec, err := kdbxcrypt.NewDecrypter(r, params)
	if err != nil {
		return nil, err
	}

	var start [32]byte
	if _, err := io.ReadFull(dec, start[:]); err != nil {
		// Corrupt padding from a wrong key surfaces as a short or
		// failed read here.
		return nil, ErrInvalidKey
	}
	if start != h.streamStartBytes {
		return nil, ErrInvalidKey
	}

	payload, err := readBlocks(dec)
	if err != nil {
		return nil, err
	}
	defer func() { secstr.Wipe(payload) }()
	if h.compression == compressionGZip {
		plain, err := gzipDecompress(payload)
		if err != nil {
			return nil, err
		}
		secstr.Wipe(payload)
		payload = plain
	}

	stream := kdbxcrypt.NewInnerStream(h.protectedStreamKey[:])
	defer stream.Wipe()
	meta, root, deleted, err := parseXML(bytes.NewReader(payload), stream)
	if err != nil {
		return nil, err
	}
	if meta.headerHash != nil && !bytes.Equal(meta.headerHash, h.hash[:]) {
		root.wipe()
		return nil, ErrInvalidHeaderHash
	}

	db := &Database{
		meta:            meta,
		root:            root,
		comment:         h.comment,
		compression:     h.compression,
		transformRounds: h.transformRounds,
		deleted:         deleted,
		key:             key,
		rand:            opts.getRand(),
	}
	db.adopt(db.root, nil)
	return db, nil
}

// adopt wires the db and parent pointers of a loaded subtree.
func (db *Database) adopt(g *Group, parent *Group) {
	g.db = db
	g.parent = parent
	for _, e := range g.entries {
		e.parent = g
	}
	for _, sub := range g.groups {
		db.adopt(sub, g)
	}
}

// Write encodes the database to w.  All cryptographic material except
// the composite key is regenerated from the database's random source.
func (db *Database) Write(w io.Writer) error {
	raw, ok := db.key.bytes()
	if !ok {
		return ErrInvalidKey
	}
	defer secstr.Wipe(raw[:])

	h := &header{
		minorVersion:    fileVersionMinor,
		majorVersion:    fileVersionMajor,
		comment:         db.comment,
		compression:     db.compression,
		transformRounds: db.transformRounds,
		innerStream:     innerStreamSalsa20,
	}
	rr := reader{r: db.rand}
	rr.readFull(h.masterSeed[:])
	rr.readFull(h.transformSeed[:])
	rr.readFull(h.encryptionIV[:])
	rr.readFull(h.protectedStreamKey[:])
	rr.readFull(h.streamStartBytes[:])
	if rr.err != nil {
		return rr.err
	}

	var headerBuf bytes.Buffer
	if err := h.write(&headerBuf); err != nil {
		return err
	}
	db.meta.headerHash = h.hash[:]

	stream := kdbxcrypt.NewInnerStream(h.protectedStreamKey[:])
	defer stream.Wipe()
	xmlData, err := emitXML(db, stream)
	if err != nil {
		return err
	}
	defer func() { secstr.Wipe(xmlData) }()
	if h.compression == compressionGZip {
		zipped, err := gzipCompress(xmlData)
		if err != nil {
			return err
		}
		secstr.Wipe(xmlData)
		xmlData = zipped
	}

	if _, err := w.Write(headerBuf.Bytes()); err != nil {
		return err
	}
	params := &kdbxcrypt.Params{
		Key:             raw,
		MasterSeed:      h.masterSeed,
		TransformSeed:   h.transformSeed,
		TransformRounds: h.transformRounds,
		IV:              h.encryptionIV,
	}
	defer secstr.Wipe(params.Key[:])
	enc, err := kdbxcrypt.NewEncrypter(w, params)
	if err != nil {
		return err
	}
	if _, err := enc.Write(h.streamStartBytes[:]); err != nil {
		return err
	}
	if err := writeBlocks(enc, xmlData); err != nil {
		return err
	}
	return enc.Close()
}

// Root returns the root group.
func (db *Database) Root() *Group {
	return db.root
}

// Meta returns the database metadata.
func (db *Database) Meta() *Meta {
	return db.meta
}

// Comment returns the free-form comment stored in the file header, or
// nil if absent.
func (db *Database) Comment() []byte {
	return db.comment
}

// SetComment stores a free-form comment in the file header.  The
// comment is not encrypted.
func (db *Database) SetComment(c []byte) {
	db.comment = c
}

// TransformRounds returns the key stretching round count used on save.
func (db *Database) TransformRounds() uint64 {
	return db.transformRounds
}

// SetKey changes the composite key future saves encrypt with.
func (db *Database) SetKey(key *CompositeKey) error {
	if _, ok := key.bytes(); !ok {
		return ErrInvalidKey
	}
	db.key = key
	db.meta.MasterKeyChanged = db.now()
	return nil
}

// DeletedObjects returns the database's deletion records.
func (db *Database) DeletedObjects() []DeletedObject {
	d := make([]DeletedObject, len(db.deleted))
	copy(d, db.deleted)
	return d
}

// Binary returns the binary pool blob with the given ID.
func (db *Database) Binary(id string) ([]byte, bool) {
	for _, b := range db.meta.Binaries {
		if b.ID == id {
			return b.Data, true
		}
	}
	return nil, false
}

// Group returns the group with the given UUID, searching the tree
// depth-first, or nil if there is none.
func (db *Database) Group(id uuid.UUID) *Group {
	var find func(g *Group) *Group
	find = func(g *Group) *Group {
		if g.UUID == id {
			return g
		}
		for _, sub := range g.groups {
			if found := find(sub); found != nil {
				return found
			}
		}
		return nil
	}
	return find(db.root)
}

// Entry returns the entry with the given UUID, searching the tree
// depth-first, or nil if there is none.
func (db *Database) Entry(id uuid.UUID) *Entry {
	var find func(g *Group) *Entry
	find = func(g *Group) *Entry {
		for _, e := range g.entries {
			if e.UUID == id {
				return e
			}
		}
		for _, sub := range g.groups {
			if found := find(sub); found != nil {
				return found
			}
		}
		return nil
	}
	return find(db.root)
}

// FindGroups returns the groups whose name contains the query,
// ignoring case.  An empty query matches nothing.
func (db *Database) FindGroups(query string) []*Group {
	pat := compileQuery(query)
	if pat == nil {
		return nil
	}
	var results []*Group
	if start, _ := pat.IndexString(db.root.Name); start != -1 {
		results = append(results, db.root)
	}
	var walk func(g *Group)
	walk = func(g *Group) {
		for _, sub := range g.groups {
			if start, _ := pat.IndexString(sub.Name); start != -1 {
				results = append(results, sub)
			}
			walk(sub)
		}
	}
	walk(db.root)
	return results
}

// FindEntries returns the entries whose title contains the query,
// ignoring case.  An empty query matches nothing.
func (db *Database) FindEntries(query string) []*Entry {
	pat := compileQuery(query)
	if pat == nil {
		return nil
	}
	var results []*Entry
	var walk func(g *Group)
	walk = func(g *Group) {
		for _, e := range g.entries {
			if start, _ := pat.IndexString(e.Title()); start != -1 {
				results = append(results, e)
			}
		}
		for _, sub := range g.groups {
			walk(sub)
		}
	}
	walk(db.root)
	return results
}

func compileQuery(query string) *textsearch.Pattern {
	if query == "" {
		return nil
	}
	m := textsearch.New(language.Und, textsearch.Loose)
	return m.CompileString(query)
}

// now returns the current time the way it is stored on disk: UTC with
// second precision.
func (db *Database) now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}
