package receipt

import (
	"fmt"
	"time"
)

// Key identifies a receipt in the store.
type Key struct {
	OwnerID  string
	RecordID string
}

func (k Key) String() string {
	return k.OwnerID + "/" + k.RecordID
}

// Record is the server-side copy of one receipt.
type Record struct {
	OwnerID      string
	RecordID     string
	Fields       Fields
	Version      int64
	CreatedAt    time.Time
	LastModified time.Time
}

func (r Record) Key() Key {
	return Key{OwnerID: r.OwnerID, RecordID: r.RecordID}
}

// Clone returns a copy that shares no field storage with r.
func (r Record) Clone() Record {
	r.Fields = r.Fields.Clone()
	return r
}

// Bookkeeping names. They describe a record but are never part of its
// field payload and never take part in a merge.
const (
	AttrReceiptID        = "receiptId"
	AttrRecordID         = "recordId"
	AttrUserID           = "userId"
	AttrOwnerID          = "ownerId"
	AttrServerVersion    = "serverVersion"
	AttrVersion          = "version"
	AttrCreatedAt        = "createdAt"
	AttrUpdatedAt        = "updatedAt"
	AttrLastModified     = "lastModified"
	AttrUserEditedFields = "userEditedFields"
)

var reserved = map[string]struct{}{
	AttrReceiptID:        {},
	AttrRecordID:         {},
	AttrUserID:           {},
	AttrOwnerID:          {},
	AttrServerVersion:    {},
	AttrVersion:          {},
	AttrCreatedAt:        {},
	AttrUpdatedAt:        {},
	AttrLastModified:     {},
	AttrUserEditedFields: {},
}

// IsReserved reports whether name is a bookkeeping attribute.
func IsReserved(name string) bool {
	_, ok := reserved[name]
	return ok
}

// Fields is the field payload of a receipt.
type Fields map[string]Value

func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v.Clone()
	}
	return out
}

// Sanitized returns a copy without reserved or empty names.
func (f Fields) Sanitized() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		if k == "" || IsReserved(k) {
			continue
		}
		out[k] = v.Clone()
	}
	return out
}

// Names returns the field names in lexical order.
func (f Fields) Names() []string {
	return sortedKeys(f)
}

// Equal reports whether both payloads hold the same names and values.
func (f Fields) Equal(o Fields) bool {
	if len(f) != len(o) {
		return false
	}
	for k, v := range f {
		w, ok := o[k]
		if !ok || !v.Equal(w) {
			return false
		}
	}
	return true
}

// Interface converts the payload to a plain map for JSON and DynamoDB.
func (f Fields) Interface() map[string]any {
	out := make(map[string]any, len(f))
	for k, v := range f {
		out[k] = v.Interface()
	}
	return out
}

// FieldsFromMap converts decoded JSON into a payload.
func FieldsFromMap(m map[string]any) (Fields, error) {
	out := make(Fields, len(m))
	for k, x := range m {
		v, err := FromInterface(x)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}
