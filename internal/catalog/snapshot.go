package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Snapshot maps class ids to records for one department at one point in time. It
// remembers insertion order, which is the page/row order the records were extracted in.
//
// The zero value is an empty snapshot. Snapshots share their storage when copied, use
// Clone before mutating one that is not exclusively yours.
type Snapshot struct {
	keys    []string
	records map[string]ClassRecord
}

func NewSnapshot(records ...ClassRecord) Snapshot {
	s := Snapshot{}
	for _, r := range records {
		s.Put(r)
	}
	return s
}

// Put inserts the record under its class id. Replacing an existing record keeps the
// position of the original.
func (s *Snapshot) Put(record ClassRecord) {
	if s.records == nil {
		s.records = map[string]ClassRecord{}
	}
	if _, exists := s.records[record.ClassID]; !exists {
		s.keys = append(s.keys, record.ClassID)
	}
	s.records[record.ClassID] = record
}

func (s Snapshot) Get(classId string) (ClassRecord, bool) {
	r, ok := s.records[classId]
	return r, ok
}

func (s Snapshot) Len() int {
	return len(s.keys)
}

func (s Snapshot) Keys() []string {
	out := make([]string, len(s.keys))
	copy(out, s.keys)
	return out
}

func (s Snapshot) Records() []ClassRecord {
	out := make([]ClassRecord, len(s.keys))
	for i, k := range s.keys {
		out[i] = s.records[k]
	}
	return out
}

func (s Snapshot) Clone() Snapshot {
	out := Snapshot{
		keys:    make([]string, len(s.keys)),
		records: make(map[string]ClassRecord, len(s.records)),
	}
	copy(out.keys, s.keys)
	for k, v := range s.records {
		out.records[k] = v
	}
	return out
}

// Union returns a new snapshot with every record of s followed by the records of other,
// records of other win on conflicting keys.
func (s Snapshot) Union(other Snapshot) Snapshot {
	out := s.Clone()
	for _, r := range other.Records() {
		out.Put(r)
	}
	return out
}

// Equal reports whether both snapshots hold equal records under the same keys, order is
// not compared.
func (s Snapshot) Equal(other Snapshot) bool {
	if s.Len() != other.Len() {
		return false
	}
	for k, r := range s.records {
		o, ok := other.records[k]
		if !ok || !r.Equal(o) {
			return false
		}
	}
	return true
}

// MarshalJSON writes an object keyed by class id in insertion order.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	buffer := bytes.NewBufferString("{")
	for i, k := range s.keys {
		if i > 0 {
			buffer.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(s.records[k])
		if err != nil {
			return nil, err
		}
		buffer.Write(key)
		buffer.WriteByte(':')
		buffer.Write(value)
	}
	buffer.WriteByte('}')
	return buffer.Bytes(), nil
}

// UnmarshalJSON reads an object keyed by class id, keeping the order the keys appear in.
// The key is authoritative over a record's own class_num.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	tok, err := decoder.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*s = Snapshot{}
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("snapshot: expected object, got %v", tok)
	}

	out := Snapshot{}
	for decoder.More() {
		tok, err := decoder.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("snapshot: expected string key, got %v", tok)
		}
		var record ClassRecord
		err = decoder.Decode(&record)
		if err != nil {
			return fmt.Errorf("snapshot: class %s: %w", key, err)
		}
		record.ClassID = key
		out.Put(record)
	}
	_, err = decoder.Token()
	if err != nil {
		return err
	}

	*s = out
	return nil
}
