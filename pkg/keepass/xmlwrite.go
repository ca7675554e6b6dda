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
	"encoding/base64"
	"encoding/xml"
	"strconv"
	"time"

	"github.com/google/uuid"

	"zombiezen.com/go/kdbx/pkg/kdbxcrypt"
	"zombiezen.com/go/kdbx/pkg/secstr"
)

// xmlEmitter writes the database XML document.  Like the binary
// writer, it remembers the first error so call sites stay linear.
type xmlEmitter struct {
	e      *xml.Encoder
	stream *kdbxcrypt.InnerStream
	open   []xml.Name
	err    error
}

// emitXML serializes the database to XML, obfuscating protected values
// with a fresh inner stream in document order.
func emitXML(db *Database, stream *kdbxcrypt.InnerStream) ([]byte, error) {
	var buf bytes.Buffer
	em := &xmlEmitter{e: xml.NewEncoder(&buf), stream: stream}
	em.e.Indent("", "\t")

	em.token(xml.ProcInst{Target: "xml", Inst: []byte(`version="1.0" encoding="utf-8" standalone="yes"`)})
	em.start("KeePassFile")
	em.emitMeta(db.meta)
	em.start("Root")
	em.emitGroup(db.root)
	em.start("DeletedObjects")
	for _, del := range db.deleted {
		em.start("DeletedObject")
		em.uuidTag("UUID", del.UUID)
		em.timeTag("DeletionTime", del.DeletionTime)
		em.end()
	}
	em.end() // DeletedObjects
	em.end() // Root
	em.end() // KeePassFile
	if em.err == nil {
		em.err = em.e.Flush()
	}
	if em.err != nil {
		return nil, em.err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

func (em *xmlEmitter) token(tok xml.Token) {
	if em.err != nil {
		return
	}
	em.err = em.e.EncodeToken(tok)
}

func (em *xmlEmitter) start(name string, attrs ...xml.Attr) {
	n := xml.Name{Local: name}
	em.open = append(em.open, n)
	em.token(xml.StartElement{Name: n, Attr: attrs})
}

func (em *xmlEmitter) end() {
	n := em.open[len(em.open)-1]
	em.open = em.open[:len(em.open)-1]
	em.token(xml.EndElement{Name: n})
}

func (em *xmlEmitter) textTag(name, value string) {
	em.start(name)
	em.token(xml.CharData(value))
	em.end()
}

func (em *xmlEmitter) boolTag(name string, value bool) {
	em.textTag(name, formatBool(value))
}

func (em *xmlEmitter) optBoolTag(name string, value *bool) {
	if value == nil {
		em.textTag(name, "null")
		return
	}
	em.textTag(name, formatBool(*value))
}

func formatBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

func (em *xmlEmitter) intTag(name string, value int64) {
	em.textTag(name, strconv.FormatInt(value, 10))
}

func (em *xmlEmitter) timeTag(name string, value time.Time) {
	em.textTag(name, value.UTC().Format(timeLayout))
}

func (em *xmlEmitter) uuidTag(name string, value uuid.UUID) {
	em.textTag(name, base64.StdEncoding.EncodeToString(value[:]))
}

func (em *xmlEmitter) binaryTag(name string, value []byte) {
	em.textTag(name, base64.StdEncoding.EncodeToString(value))
}

func (em *xmlEmitter) emitMeta(meta *Meta) {
	em.start("Meta")
	em.textTag("Generator", generatorName)
	if meta.headerHash != nil {
		em.binaryTag("HeaderHash", meta.headerHash)
	}
	em.textTag("DatabaseName", meta.DatabaseName)
	em.timeTag("DatabaseNameChanged", meta.DatabaseNameChanged)
	em.textTag("DatabaseDescription", meta.DatabaseDescription)
	em.timeTag("DatabaseDescriptionChanged", meta.DatabaseDescriptionChanged)
	em.textTag("DefaultUserName", meta.DefaultUserName)
	em.timeTag("DefaultUserNameChanged", meta.DefaultUserNameChanged)
	em.intTag("MaintenanceHistoryDays", int64(meta.MaintenanceHistoryDays))
	em.textTag("Color", meta.Color)
	em.timeTag("MasterKeyChanged", meta.MasterKeyChanged)
	em.intTag("MasterKeyChangeRec", meta.MasterKeyChangeRec)
	em.intTag("MasterKeyChangeForce", meta.MasterKeyChangeForce)
	em.start("MemoryProtection")
	em.boolTag("ProtectTitle", meta.MemoryProtection.Title)
	em.boolTag("ProtectUserName", meta.MemoryProtection.UserName)
	em.boolTag("ProtectPassword", meta.MemoryProtection.Password)
	em.boolTag("ProtectURL", meta.MemoryProtection.URL)
	em.boolTag("ProtectNotes", meta.MemoryProtection.Notes)
	em.end()
	if len(meta.CustomIcons) > 0 {
		em.start("CustomIcons")
		for _, icon := range meta.CustomIcons {
			em.start("Icon")
			em.uuidTag("UUID", icon.UUID)
			em.binaryTag("Data", icon.Data)
			em.end()
		}
		em.end()
	}
	em.boolTag("RecycleBinEnabled", meta.RecycleBinEnabled)
	em.uuidTag("RecycleBinUUID", meta.RecycleBinUUID)
	em.timeTag("RecycleBinChanged", meta.RecycleBinChanged)
	em.uuidTag("EntryTemplatesGroup", meta.EntryTemplatesGroup)
	em.timeTag("EntryTemplatesGroupChanged", meta.EntryTemplatesGroupChanged)
	em.uuidTag("LastSelectedGroup", meta.LastSelectedGroup)
	em.uuidTag("LastTopVisibleGroup", meta.LastTopVisibleGroup)
	em.intTag("HistoryMaxItems", int64(meta.HistoryMaxItems))
	em.intTag("HistoryMaxSize", int64(meta.HistoryMaxSize))
	em.start("Binaries")
	for _, bin := range meta.Binaries {
		em.emitPoolBinary(bin)
	}
	em.end()
	em.start("CustomData")
	for _, item := range meta.CustomData {
		em.start("Item")
		em.textTag("Key", item.Key)
		em.textTag("Value", item.Value)
		em.end()
	}
	em.end()
	em.end() // Meta
}

func (em *xmlEmitter) emitPoolBinary(bin Binary) {
	data := bin.Data
	if bin.Compressed {
		zipped, err := gzipCompress(data)
		if err != nil {
			if em.err == nil {
				em.err = err
			}
			return
		}
		data = zipped
	}
	em.start("Binary",
		xml.Attr{Name: xml.Name{Local: "ID"}, Value: bin.ID},
		xml.Attr{Name: xml.Name{Local: "Compressed"}, Value: formatBool(bin.Compressed)})
	em.token(xml.CharData(base64.StdEncoding.EncodeToString(data)))
	em.end()
}

func (em *xmlEmitter) emitGroup(g *Group) {
	em.start("Group")
	em.uuidTag("UUID", g.UUID)
	em.textTag("Name", g.Name)
	em.textTag("Notes", g.Notes)
	em.intTag("IconID", int64(g.Icon))
	if g.CustomIconUUID != uuid.Nil {
		em.uuidTag("CustomIconUUID", g.CustomIconUUID)
	}
	em.emitTimes(g.Times)
	em.boolTag("IsExpanded", g.IsExpanded)
	em.textTag("DefaultAutoTypeSequence", g.DefaultAutoTypeSequence)
	em.optBoolTag("EnableAutoType", g.EnableAutoType)
	em.optBoolTag("EnableSearching", g.EnableSearching)
	em.uuidTag("LastTopVisibleEntry", g.LastTopVisibleEntry)
	for _, e := range g.entries {
		em.emitEntry(e, true)
	}
	for _, sub := range g.groups {
		em.emitGroup(sub)
	}
	em.end()
}

func (em *xmlEmitter) emitEntry(e *Entry, active bool) {
	em.start("Entry")
	em.uuidTag("UUID", e.UUID)
	em.intTag("IconID", int64(e.Icon))
	if e.CustomIconUUID != uuid.Nil {
		em.uuidTag("CustomIconUUID", e.CustomIconUUID)
	}
	em.textTag("ForegroundColor", e.ForegroundColor)
	em.textTag("BackgroundColor", e.BackgroundColor)
	em.textTag("OverrideURL", e.OverrideURL)
	em.textTag("Tags", e.Tags)
	em.emitTimes(e.Times)
	for _, s := range e.Strings {
		em.emitString(s)
	}
	for _, bin := range e.Binaries {
		em.start("Binary")
		em.textTag("Key", bin.Key)
		em.start("Value", xml.Attr{Name: xml.Name{Local: "Ref"}, Value: bin.Ref})
		em.end()
		em.end()
	}
	em.start("AutoType")
	em.boolTag("Enabled", e.AutoType.Enabled)
	em.intTag("DataTransferObfuscation", int64(e.AutoType.Obfuscation))
	em.textTag("DefaultSequence", e.AutoType.DefaultSequence)
	for _, assoc := range e.AutoType.Associations {
		em.start("Association")
		em.textTag("Window", assoc.Window)
		em.textTag("KeystrokeSequence", assoc.KeystrokeSequence)
		em.end()
	}
	em.end() // AutoType
	if active {
		em.start("History")
		for _, snap := range e.History {
			em.emitEntry(snap, false)
		}
		em.end()
	}
	em.end() // Entry
}

func (em *xmlEmitter) emitString(s String) {
	em.start("String")
	em.textTag("Key", s.Key)
	if s.Value.Protected() {
		em.start("Value", xml.Attr{Name: xml.Name{Local: "Protected"}, Value: "True"})
		plain := []byte(s.Value.Text())
		em.stream.XORKeyStream(plain)
		em.token(xml.CharData(base64.StdEncoding.EncodeToString(plain)))
		secstr.Wipe(plain)
		em.end()
	} else {
		em.textTag("Value", s.Value.Text())
	}
	em.end()
}

func (em *xmlEmitter) emitTimes(t Times) {
	em.start("Times")
	em.timeTag("CreationTime", t.CreationTime)
	em.timeTag("LastModificationTime", t.LastModificationTime)
	em.timeTag("LastAccessTime", t.LastAccessTime)
	em.timeTag("ExpiryTime", t.ExpiryTime)
	em.boolTag("Expires", t.Expires)
	em.intTag("UsageCount", int64(t.UsageCount))
	em.timeTag("LocationChanged", t.LocationChanged)
	em.end()
}
