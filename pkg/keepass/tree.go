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
	"time"

	"github.com/google/uuid"

	"zombiezen.com/go/kdbx/pkg/secstr"
)

// An Icon is one of the built-in KeePass icons.
type Icon int32

// Icons used by this package.  The format defines many more; any value
// round-trips.
const (
	IconKey        Icon = 0
	IconFolder     Icon = 48
	IconRecycleBin Icon = 43
)

// Well-known string field keys.
const (
	KeyTitle    = "Title"
	KeyUserName = "UserName"
	KeyPassword = "Password"
	KeyURL      = "URL"
	KeyNotes    = "Notes"
)

// Times holds all of the temporal data for a group or entry.
type Times struct {
	CreationTime         time.Time
	LastModificationTime time.Time
	LastAccessTime       time.Time
	ExpiryTime           time.Time
	Expires              bool
	UsageCount           int32
	LocationChanged      time.Time
}

func newTimes(now time.Time) Times {
	return Times{
		CreationTime:         now,
		LastModificationTime: now,
		LastAccessTime:       now,
		ExpiryTime:           now,
		LocationChanged:      now,
	}
}

// A Value is an entry string field value: either plain text or a
// protected secret.  Protected values are obfuscated inside the
// database XML and live in wipeable buffers in memory.
type Value struct {
	plain  string
	secret *secstr.Str
}

// PlainValue returns a plain string value.
func PlainValue(s string) Value {
	return Value{plain: s}
}

// ProtectedValue returns a protected string value.
func ProtectedValue(s string) Value {
	return Value{secret: secstr.FromString(s)}
}

func protectedValueBytes(b []byte) Value {
	return Value{secret: secstr.New(b)}
}

// Protected reports whether the value is stored protected.
func (v Value) Protected() bool {
	return v.secret != nil
}

// Text returns the value's plaintext.
func (v Value) Text() string {
	if v.secret != nil {
		return v.secret.String()
	}
	return v.plain
}

func (v Value) wipe() {
	v.secret.Wipe()
}

// A String is one key/value field of an entry.
type String struct {
	Key   string
	Value Value
}

// A BinaryRef attaches a blob from the database binary pool to an
// entry under a name.
type BinaryRef struct {
	Key string
	Ref string // ID in the binary pool
}

// AutoType holds an entry's auto-type behavior.
type AutoType struct {
	Enabled         bool
	Obfuscation     int32
	DefaultSequence string
	Associations    []Association
}

// An Association maps a window title to a keystroke sequence.
type Association struct {
	Window            string
	KeystrokeSequence string
}

// A DeletedObject records the deletion of a group or entry, so that
// synchronizing clients can tell deletion from non-existence.
type DeletedObject struct {
	UUID         uuid.UUID
	DeletionTime time.Time
}

// A Group is a hierarchical collection of entries.
type Group struct {
	UUID                    uuid.UUID
	Name                    string
	Notes                   string
	Icon                    Icon
	CustomIconUUID          uuid.UUID
	Times                   Times
	IsExpanded              bool
	DefaultAutoTypeSequence string

	// EnableAutoType and EnableSearching are tristate: nil means the
	// setting is inherited from the parent group.
	EnableAutoType  *bool
	EnableSearching *bool

	LastTopVisibleEntry uuid.UUID

	db      *Database
	parent  *Group
	groups  []*Group
	entries []*Entry
}

// Parent returns the group's parent, or nil for the root group.
func (g *Group) Parent() *Group {
	return g.parent
}

// Groups returns the child groups as a slice.
func (g *Group) Groups() []*Group {
	gg := make([]*Group, len(g.groups))
	copy(gg, g.groups)
	return gg
}

// NGroups returns the number of subgroups this group has.
func (g *Group) NGroups() int {
	return len(g.groups)
}

// Group returns the subgroup at index i.  If i is out of range, this
// method will panic.
func (g *Group) Group(i int) *Group {
	return g.groups[i]
}

// Entries returns the entries in the group as a slice.
func (g *Group) Entries() []*Entry {
	e := make([]*Entry, len(g.entries))
	copy(e, g.entries)
	return e
}

// NEntries returns the number of entries this group has.
func (g *Group) NEntries() int {
	return len(g.entries)
}

// Entry returns the entry at index i.  If i is out of range, this
// method will panic.
func (g *Group) Entry(i int) *Entry {
	return g.entries[i]
}

// NewSubgroup creates a group inside g and returns it.
func (g *Group) NewSubgroup() (*Group, error) {
	id, err := uuid.NewRandomFromReader(g.db.rand)
	if err != nil {
		return nil, err
	}
	sub := &Group{
		UUID:       id,
		Icon:       IconFolder,
		IsExpanded: true,
		Times:      newTimes(g.db.now()),
		db:         g.db,
		parent:     g,
	}
	g.groups = append(g.groups, sub)
	return sub, nil
}

// RemoveSubgroup removes sub from the group's children.
func (g *Group) RemoveSubgroup(sub *Group) {
	i, n := 0, len(g.groups)
	for ; i < n; i++ {
		if g.groups[i] == sub {
			break
		}
	}
	if i >= n {
		return
	}
	copy(g.groups[i:], g.groups[i+1:])
	g.groups[n-1] = nil
	g.groups = g.groups[:n-1]
	sub.parent = nil
}

// NewEntry creates a new entry inside the group and returns it.
// An error is returned if the ID generation fails.
func (g *Group) NewEntry() (*Entry, error) {
	id, err := uuid.NewRandomFromReader(g.db.rand)
	if err != nil {
		return nil, err
	}
	e := &Entry{
		UUID:     id,
		Icon:     IconKey,
		Times:    newTimes(g.db.now()),
		AutoType: AutoType{Enabled: true},
		parent:   g,
	}
	g.entries = append(g.entries, e)
	return e, nil
}

// AttachGroup moves sub into g, detaching it from its previous parent
// if it has one.  The subtree keeps its UUIDs; only the location
// changes.
func (g *Group) AttachGroup(sub *Group) {
	if sub.parent != nil {
		sub.parent.RemoveSubgroup(sub)
	}
	g.db.adopt(sub, g)
	g.groups = append(g.groups, sub)
	sub.Times.LocationChanged = g.db.now()
}

// AttachEntry moves e into g, detaching it from its previous parent if
// it has one.
func (g *Group) AttachEntry(e *Entry) {
	if e.parent != nil {
		e.parent.RemoveEntry(e)
	}
	e.parent = g
	g.entries = append(g.entries, e)
	e.Times.LocationChanged = g.db.now()
}

// RemoveEntry removes e from the group's entries.
func (g *Group) RemoveEntry(e *Entry) {
	i, n := 0, len(g.entries)
	for ; i < n; i++ {
		if g.entries[i] == e {
			break
		}
	}
	if i >= n {
		return
	}
	copy(g.entries[i:], g.entries[i+1:])
	g.entries[n-1] = nil
	g.entries = g.entries[:n-1]
	e.parent = nil
}

// wipe destroys the protected values in the subtree.
func (g *Group) wipe() {
	for _, e := range g.entries {
		e.wipe()
	}
	for _, sub := range g.groups {
		sub.wipe()
	}
}

// An Entry stores the fields and attachments of a single record.
type Entry struct {
	UUID            uuid.UUID
	Icon            Icon
	CustomIconUUID  uuid.UUID
	ForegroundColor string
	BackgroundColor string
	OverrideURL     string
	Tags            string
	Times           Times
	Strings         []String
	Binaries        []BinaryRef
	AutoType        AutoType

	// History holds prior snapshots of the entry, oldest first.
	// Snapshots are made explicitly with PushHistory; saving does not
	// touch history.
	History []*Entry

	parent *Group
}

// Parent returns the group the entry belongs to, or nil if the entry
// is detached (for example a history snapshot).
func (e *Entry) Parent() *Group {
	return e.parent
}

// String returns the value of the field with the given key.
func (e *Entry) String(key string) (Value, bool) {
	for _, s := range e.Strings {
		if s.Key == key {
			return s.Value, true
		}
	}
	return Value{}, false
}

// SetString sets the field with the given key, keeping the position of
// an existing field and appending a new one otherwise.
func (e *Entry) SetString(key string, value Value) {
	for i := range e.Strings {
		if e.Strings[i].Key == key {
			e.Strings[i].Value.wipe()
			e.Strings[i].Value = value
			return
		}
	}
	e.Strings = append(e.Strings, String{Key: key, Value: value})
}

func (e *Entry) stringText(key string) string {
	v, _ := e.String(key)
	return v.Text()
}

// Title returns the entry's title, or the empty string if unset.
func (e *Entry) Title() string { return e.stringText(KeyTitle) }

// Username returns the entry's username, or the empty string if unset.
func (e *Entry) Username() string { return e.stringText(KeyUserName) }

// Password returns the entry's password, or the empty string if unset.
func (e *Entry) Password() string { return e.stringText(KeyPassword) }

// URL returns the entry's URL, or the empty string if unset.
func (e *Entry) URL() string { return e.stringText(KeyURL) }

// Notes returns the entry's notes, or the empty string if unset.
func (e *Entry) Notes() string { return e.stringText(KeyNotes) }

// SetTitle sets the entry's title.
func (e *Entry) SetTitle(s string) { e.SetString(KeyTitle, PlainValue(s)) }

// SetUsername sets the entry's username.
func (e *Entry) SetUsername(s string) { e.SetString(KeyUserName, PlainValue(s)) }

// SetPassword sets the entry's password.  Passwords are stored
// protected.
func (e *Entry) SetPassword(s string) { e.SetString(KeyPassword, ProtectedValue(s)) }

// SetURL sets the entry's URL.
func (e *Entry) SetURL(s string) { e.SetString(KeyURL, PlainValue(s)) }

// SetNotes sets the entry's notes.
func (e *Entry) SetNotes(s string) { e.SetString(KeyNotes, PlainValue(s)) }

// PushHistory appends a snapshot of the entry's current state to its
// history.  The snapshot has no history of its own.
func (e *Entry) PushHistory() {
	snap := &Entry{
		UUID:            e.UUID,
		Icon:            e.Icon,
		CustomIconUUID:  e.CustomIconUUID,
		ForegroundColor: e.ForegroundColor,
		BackgroundColor: e.BackgroundColor,
		OverrideURL:     e.OverrideURL,
		Tags:            e.Tags,
		Times:           e.Times,
		AutoType:        e.AutoType,
	}
	snap.Strings = make([]String, 0, len(e.Strings))
	for _, s := range e.Strings {
		v := s.Value
		if v.Protected() {
			v = ProtectedValue(v.Text())
		}
		snap.Strings = append(snap.Strings, String{Key: s.Key, Value: v})
	}
	snap.Binaries = append([]BinaryRef(nil), e.Binaries...)
	snap.AutoType.Associations = append([]Association(nil), e.AutoType.Associations...)
	e.History = append(e.History, snap)
}

// wipe destroys the entry's protected values, including history.
func (e *Entry) wipe() {
	for i := range e.Strings {
		e.Strings[i].Value.wipe()
	}
	for _, h := range e.History {
		h.wipe()
	}
}
