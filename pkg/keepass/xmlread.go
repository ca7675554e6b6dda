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
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"zombiezen.com/go/kdbx/pkg/kdbxcrypt"
)

// timeLayout is the on-disk timestamp format: ISO-8601 UTC seconds.
const timeLayout = "2006-01-02T15:04:05Z"

// xmlParser reads the database XML document.  Protected values are
// deobfuscated eagerly, in document order, so that the inner stream is
// consumed at exactly one well-defined point.
type xmlParser struct {
	d      *xml.Decoder
	stream *kdbxcrypt.InnerStream
}

// parseXML reads the whole database document.
func parseXML(r io.Reader, stream *kdbxcrypt.InnerStream) (*Meta, *Group, []DeletedObject, error) {
	p := &xmlParser{d: xml.NewDecoder(r), stream: stream}

	se, err := p.nextStart()
	if err != nil {
		return nil, nil, nil, err
	}
	if se.Name.Local != "KeePassFile" {
		return nil, nil, nil, fmt.Errorf("%w: root element is <%s>", ErrUnexpectedTag, se.Name.Local)
	}

	meta := new(Meta)
	var root *Group
	var deleted []DeletedObject
	err = p.children(func(se xml.StartElement) error {
		switch se.Name.Local {
		case "Meta":
			return p.parseMeta(meta)
		case "Root":
			return p.children(func(se xml.StartElement) error {
				switch se.Name.Local {
				case "Group":
					if root != nil {
						return p.skip()
					}
					g, err := p.parseGroup(se)
					if err != nil {
						return err
					}
					root = g
					return nil
				case "DeletedObjects":
					d, err := p.parseDeletedObjects()
					if err != nil {
						return err
					}
					deleted = d
					return nil
				default:
					return p.skip()
				}
			})
		default:
			return p.skip()
		}
	})
	if err != nil {
		return nil, nil, nil, err
	}
	if root == nil {
		return nil, nil, nil, fmt.Errorf("%w: no root group", ErrMalformedXML)
	}
	return meta, root, deleted, nil
}

// nextStart returns the next start element at any depth.
func (p *xmlParser) nextStart() (xml.StartElement, error) {
	for {
		tok, err := p.d.Token()
		if err != nil {
			return xml.StartElement{}, fmt.Errorf("%w: %v", ErrMalformedXML, err)
		}
		if se, ok := tok.(xml.StartElement); ok {
			return se, nil
		}
	}
}

// children invokes f for every child element of the element whose
// start tag was just consumed, and consumes the matching end tag.
// f must consume each child element completely.
func (p *xmlParser) children(f func(xml.StartElement) error) error {
	for {
		tok, err := p.d.Token()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedXML, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if err := f(t); err != nil {
				return err
			}
		case xml.EndElement:
			return nil
		}
	}
}

// skip consumes the current element and its whole subtree.  Unknown
// elements are dropped this way; the format gains fields over time and
// a reader that balks at them could not open newer files.
func (p *xmlParser) skip() error {
	if err := p.d.Skip(); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedXML, err)
	}
	return nil
}

// text consumes the current element and returns its character data.
func (p *xmlParser) text() (string, error) {
	var sb strings.Builder
	for {
		tok, err := p.d.Token()
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrMalformedXML, err)
		}
		switch t := tok.(type) {
		case xml.CharData:
			sb.Write(t)
		case xml.StartElement:
			if err := p.skip(); err != nil {
				return "", err
			}
		case xml.EndElement:
			return sb.String(), nil
		}
	}
}

func (p *xmlParser) boolText() (bool, error) {
	s, err := p.text()
	if err != nil {
		return false, err
	}
	return parseBool(s)
}

// optBoolText reads a tristate boolean: "null" (or an empty element)
// yields nil.
func (p *xmlParser) optBoolText() (*bool, error) {
	s, err := p.text()
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "null":
		return nil, nil
	}
	b, err := parseBool(s)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true":
		return true, nil
	case "false", "":
		return false, nil
	}
	return false, fmt.Errorf("%w: invalid boolean %q", ErrMalformedXML, s)
}

func (p *xmlParser) timeText() (time.Time, error) {
	s, err := p.text()
	if err != nil {
		return time.Time{}, err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, s)
	}
	return t.UTC(), nil
}

func (p *xmlParser) intText() (int64, error) {
	s, err := p.text()
	if err != nil {
		return 0, err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid number %q", ErrMalformedXML, s)
	}
	return n, nil
}

func (p *xmlParser) int32Text() (int32, error) {
	n, err := p.intText()
	return int32(n), err
}

// binaryText consumes the current element and base64-decodes its
// content.
func (p *xmlParser) binaryText() ([]byte, error) {
	s, err := p.text()
	if err != nil {
		return nil, err
	}
	b, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBase64, err)
	}
	return b, nil
}

// uuidText reads a base64-encoded 16-byte UUID.  An empty element is
// the nil UUID.
func (p *xmlParser) uuidText() (uuid.UUID, error) {
	b, err := p.binaryText()
	if err != nil {
		return uuid.Nil, err
	}
	if len(b) == 0 {
		return uuid.Nil, nil
	}
	id, err := uuid.FromBytes(b)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %d bytes", ErrInvalidUUID, len(b))
	}
	return id, nil
}

func (p *xmlParser) parseMeta(meta *Meta) error {
	return p.children(func(se xml.StartElement) error {
		var err error
		switch se.Name.Local {
		case "Generator":
			meta.Generator, err = p.text()
		case "HeaderHash":
			meta.headerHash, err = p.binaryText()
		case "DatabaseName":
			meta.DatabaseName, err = p.text()
		case "DatabaseNameChanged":
			meta.DatabaseNameChanged, err = p.timeText()
		case "DatabaseDescription":
			meta.DatabaseDescription, err = p.text()
		case "DatabaseDescriptionChanged":
			meta.DatabaseDescriptionChanged, err = p.timeText()
		case "DefaultUserName":
			meta.DefaultUserName, err = p.text()
		case "DefaultUserNameChanged":
			meta.DefaultUserNameChanged, err = p.timeText()
		case "MaintenanceHistoryDays":
			meta.MaintenanceHistoryDays, err = p.int32Text()
		case "Color":
			meta.Color, err = p.text()
		case "MasterKeyChanged":
			meta.MasterKeyChanged, err = p.timeText()
		case "MasterKeyChangeRec":
			meta.MasterKeyChangeRec, err = p.intText()
		case "MasterKeyChangeForce":
			meta.MasterKeyChangeForce, err = p.intText()
		case "MemoryProtection":
			err = p.parseMemoryProtection(&meta.MemoryProtection)
		case "CustomIcons":
			err = p.parseCustomIcons(meta)
		case "RecycleBinEnabled":
			meta.RecycleBinEnabled, err = p.boolText()
		case "RecycleBinUUID":
			meta.RecycleBinUUID, err = p.uuidText()
		case "RecycleBinChanged":
			meta.RecycleBinChanged, err = p.timeText()
		case "EntryTemplatesGroup":
			meta.EntryTemplatesGroup, err = p.uuidText()
		case "EntryTemplatesGroupChanged":
			meta.EntryTemplatesGroupChanged, err = p.timeText()
		case "LastSelectedGroup":
			meta.LastSelectedGroup, err = p.uuidText()
		case "LastTopVisibleGroup":
			meta.LastTopVisibleGroup, err = p.uuidText()
		case "HistoryMaxItems":
			meta.HistoryMaxItems, err = p.int32Text()
		case "HistoryMaxSize":
			meta.HistoryMaxSize, err = p.int32Text()
		case "Binaries":
			err = p.parseBinaries(meta)
		case "CustomData":
			err = p.parseCustomData(meta)
		default:
			err = p.skip()
		}
		return err
	})
}

func (p *xmlParser) parseMemoryProtection(mp *MemoryProtection) error {
	return p.children(func(se xml.StartElement) error {
		var err error
		switch se.Name.Local {
		case "ProtectTitle":
			mp.Title, err = p.boolText()
		case "ProtectUserName":
			mp.UserName, err = p.boolText()
		case "ProtectPassword":
			mp.Password, err = p.boolText()
		case "ProtectURL":
			mp.URL, err = p.boolText()
		case "ProtectNotes":
			mp.Notes, err = p.boolText()
		default:
			err = p.skip()
		}
		return err
	})
}

func (p *xmlParser) parseCustomIcons(meta *Meta) error {
	return p.children(func(se xml.StartElement) error {
		if se.Name.Local != "Icon" {
			return p.skip()
		}
		var icon CustomIcon
		err := p.children(func(se xml.StartElement) error {
			var err error
			switch se.Name.Local {
			case "UUID":
				icon.UUID, err = p.uuidText()
			case "Data":
				icon.Data, err = p.binaryText()
			default:
				err = p.skip()
			}
			return err
		})
		if err != nil {
			return err
		}
		meta.CustomIcons = append(meta.CustomIcons, icon)
		return nil
	})
}

func (p *xmlParser) parseBinaries(meta *Meta) error {
	return p.children(func(se xml.StartElement) error {
		if se.Name.Local != "Binary" {
			return p.skip()
		}
		var bin Binary
		for _, attr := range se.Attr {
			switch attr.Name.Local {
			case "ID":
				bin.ID = attr.Value
			case "Compressed":
				v, err := parseBool(attr.Value)
				if err != nil {
					return err
				}
				bin.Compressed = v
			}
		}
		data, err := p.binaryText()
		if err != nil {
			return err
		}
		if bin.Compressed {
			data, err = gzipDecompress(data)
			if err != nil {
				return err
			}
		}
		bin.Data = data
		meta.Binaries = append(meta.Binaries, bin)
		return nil
	})
}

func (p *xmlParser) parseCustomData(meta *Meta) error {
	return p.children(func(se xml.StartElement) error {
		if se.Name.Local != "Item" {
			return p.skip()
		}
		var item CustomDataItem
		err := p.children(func(se xml.StartElement) error {
			var err error
			switch se.Name.Local {
			case "Key":
				item.Key, err = p.text()
			case "Value":
				item.Value, err = p.text()
			default:
				err = p.skip()
			}
			return err
		})
		if err != nil {
			return err
		}
		meta.CustomData = append(meta.CustomData, item)
		return nil
	})
}

func (p *xmlParser) parseDeletedObjects() ([]DeletedObject, error) {
	var list []DeletedObject
	err := p.children(func(se xml.StartElement) error {
		if se.Name.Local != "DeletedObject" {
			return p.skip()
		}
		var del DeletedObject
		err := p.children(func(se xml.StartElement) error {
			var err error
			switch se.Name.Local {
			case "UUID":
				del.UUID, err = p.uuidText()
			case "DeletionTime":
				del.DeletionTime, err = p.timeText()
			default:
				err = p.skip()
			}
			return err
		})
		if err != nil {
			return err
		}
		list = append(list, del)
		return nil
	})
	return list, err
}

func (p *xmlParser) parseGroup(start xml.StartElement) (*Group, error) {
	g := &Group{Icon: IconFolder}
	err := p.children(func(se xml.StartElement) error {
		var err error
		switch se.Name.Local {
		case "UUID":
			g.UUID, err = p.uuidText()
		case "Name":
			g.Name, err = p.text()
		case "Notes":
			g.Notes, err = p.text()
		case "IconID":
			var n int32
			n, err = p.int32Text()
			g.Icon = Icon(n)
		case "CustomIconUUID":
			g.CustomIconUUID, err = p.uuidText()
		case "Times":
			err = p.parseTimes(&g.Times)
		case "IsExpanded":
			g.IsExpanded, err = p.boolText()
		case "DefaultAutoTypeSequence":
			g.DefaultAutoTypeSequence, err = p.text()
		case "EnableAutoType":
			g.EnableAutoType, err = p.optBoolText()
		case "EnableSearching":
			g.EnableSearching, err = p.optBoolText()
		case "LastTopVisibleEntry":
			g.LastTopVisibleEntry, err = p.uuidText()
		case "Entry":
			var e *Entry
			e, err = p.parseEntry(se, true)
			if err == nil {
				g.entries = append(g.entries, e)
			}
		case "Group":
			var sub *Group
			sub, err = p.parseGroup(se)
			if err == nil {
				g.groups = append(g.groups, sub)
			}
		default:
			err = p.skip()
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return g, nil
}

// parseEntry reads an entry element.  History snapshots set active to
// false; their nested history, if any, is dropped.
func (p *xmlParser) parseEntry(start xml.StartElement, active bool) (*Entry, error) {
	e := &Entry{Icon: IconKey}
	err := p.children(func(se xml.StartElement) error {
		var err error
		switch se.Name.Local {
		case "UUID":
			e.UUID, err = p.uuidText()
		case "IconID":
			var n int32
			n, err = p.int32Text()
			e.Icon = Icon(n)
		case "CustomIconUUID":
			e.CustomIconUUID, err = p.uuidText()
		case "ForegroundColor":
			e.ForegroundColor, err = p.text()
		case "BackgroundColor":
			e.BackgroundColor, err = p.text()
		case "OverrideURL":
			e.OverrideURL, err = p.text()
		case "Tags":
			e.Tags, err = p.text()
		case "Times":
			err = p.parseTimes(&e.Times)
		case "String":
			err = p.parseString(e)
		case "Binary":
			err = p.parseEntryBinary(e)
		case "AutoType":
			err = p.parseAutoType(&e.AutoType)
		case "History":
			err = p.children(func(se xml.StartElement) error {
				if se.Name.Local != "Entry" {
					return p.skip()
				}
				// Protected values in history still consume the
				// inner stream, so snapshots are parsed even when
				// they end up dropped.
				snap, err := p.parseEntry(se, false)
				if err != nil {
					return err
				}
				if active {
					e.History = append(e.History, snap)
				}
				return nil
			})
		default:
			err = p.skip()
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (p *xmlParser) parseTimes(t *Times) error {
	return p.children(func(se xml.StartElement) error {
		var err error
		switch se.Name.Local {
		case "CreationTime":
			t.CreationTime, err = p.timeText()
		case "LastModificationTime":
			t.LastModificationTime, err = p.timeText()
		case "LastAccessTime":
			t.LastAccessTime, err = p.timeText()
		case "ExpiryTime":
			t.ExpiryTime, err = p.timeText()
		case "Expires":
			t.Expires, err = p.boolText()
		case "UsageCount":
			t.UsageCount, err = p.int32Text()
		case "LocationChanged":
			t.LocationChanged, err = p.timeText()
		default:
			err = p.skip()
		}
		return err
	})
}

func (p *xmlParser) parseString(e *Entry) error {
	var key string
	var value Value
	err := p.children(func(se xml.StartElement) error {
		switch se.Name.Local {
		case "Key":
			k, err := p.text()
			if err != nil {
				return err
			}
			key = k
			return nil
		case "Value":
			v, err := p.parseStringValue(se)
			if err != nil {
				return err
			}
			value = v
			return nil
		default:
			return p.skip()
		}
	})
	if err != nil {
		return err
	}
	e.Strings = append(e.Strings, String{Key: key, Value: value})
	return nil
}

// parseStringValue reads a string field value, deobfuscating it with
// the inner stream when it is protected in the XML.
func (p *xmlParser) parseStringValue(se xml.StartElement) (Value, error) {
	protectedXML := hasTrueAttr(se, "Protected")
	protectedMem := hasTrueAttr(se, "ProtectInMemory") || hasTrueAttr(se, "ProtectMemory")
	if protectedXML {
		raw, err := p.binaryText()
		if err != nil {
			return Value{}, err
		}
		p.stream.XORKeyStream(raw)
		return protectedValueBytes(raw), nil
	}
	s, err := p.text()
	if err != nil {
		return Value{}, err
	}
	if protectedMem {
		return ProtectedValue(s), nil
	}
	return PlainValue(s), nil
}

func (p *xmlParser) parseEntryBinary(e *Entry) error {
	var ref BinaryRef
	err := p.children(func(se xml.StartElement) error {
		switch se.Name.Local {
		case "Key":
			k, err := p.text()
			if err != nil {
				return err
			}
			ref.Key = k
			return nil
		case "Value":
			for _, attr := range se.Attr {
				if attr.Name.Local == "Ref" {
					ref.Ref = attr.Value
				}
			}
			// Protected inline values consume the inner stream even
			// though this package stores attachments in the pool.
			if hasTrueAttr(se, "Protected") {
				raw, err := p.binaryText()
				if err != nil {
					return err
				}
				p.stream.XORKeyStream(raw)
				return nil
			}
			return p.skip()
		default:
			return p.skip()
		}
	})
	if err != nil {
		return err
	}
	e.Binaries = append(e.Binaries, ref)
	return nil
}

func (p *xmlParser) parseAutoType(at *AutoType) error {
	return p.children(func(se xml.StartElement) error {
		var err error
		switch se.Name.Local {
		case "Enabled":
			at.Enabled, err = p.boolText()
		case "DataTransferObfuscation":
			at.Obfuscation, err = p.int32Text()
		case "DefaultSequence":
			at.DefaultSequence, err = p.text()
		case "Association":
			var assoc Association
			err = p.children(func(se xml.StartElement) error {
				var err error
				switch se.Name.Local {
				case "Window":
					assoc.Window, err = p.text()
				case "KeystrokeSequence":
					assoc.KeystrokeSequence, err = p.text()
				default:
					err = p.skip()
				}
				return err
			})
			if err == nil {
				at.Associations = append(at.Associations, assoc)
			}
		default:
			err = p.skip()
		}
		return err
	})
}

func hasTrueAttr(se xml.StartElement, name string) bool {
	for _, attr := range se.Attr {
		if attr.Name.Local == name && strings.EqualFold(attr.Value, "true") {
			return true
		}
	}
	return false
}
