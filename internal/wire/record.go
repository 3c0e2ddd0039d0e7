package wire

import "fmt"

// ValueType is the declared type of a tree value node. The numeric codes are
// part of the wire contract.
type ValueType uint8

const (
	Bool ValueType = iota
	Int8
	Uint8
	Int32
	Uint32
	Float
	String
	Array
	Object
)

func (t ValueType) String() string {
	switch t {
	case Bool:
		return "bool"
	case Int8:
		return "int8"
	case Uint8:
		return "uint8"
	case Int32:
		return "int32"
	case Uint32:
		return "uint32"
	case Float:
		return "float"
	case String:
		return "string"
	case Array:
		return "array"
	case Object:
		return "object"
	default:
		return fmt.Sprintf("ValueType(%d)", uint8(t))
	}
}

// KeyID is one (key, id) pair added to an Object record.
type KeyID struct {
	Key string
	ID  uint32
}

// ObjectPayload is the payload of an OBJECT record: children added by key and
// children removed by id.
type ObjectPayload struct {
	Added   []KeyID
	Removed []uint32
}

// Record is one unit of tree mutation decoded off the wire: (id, type, payload).
//
// Payload holds, depending on Type:
//   - Bool     -> bool
//   - Int8     -> int8
//   - Uint8    -> uint8
//   - Int32    -> int32
//   - Uint32   -> uint32
//   - Float    -> float32
//   - String   -> string
//   - Array    -> []uint32 (ordered child ids, full replacement contents)
//   - Object   -> ObjectPayload
type Record struct {
	ID      uint32
	Type    ValueType
	Payload interface{}
}

// DecodeRecords repeatedly decodes (type, id, payload) records from buf,
// calling sink for each. Decoding stops with ErrTrailingGarbage if bytes
// remain after the cursor would otherwise be done, and with ErrTruncated if a
// record's payload runs past the end of buf.
const recordHeaderLen = 1 + 4 // type byte + u32 id

func DecodeRecords(buf []byte, sink func(Record) error) error {
	c := NewCursor(buf)
	for !c.AtEnd() {
		if c.Remaining() < recordHeaderLen {
			return fmt.Errorf("%w: %d byte(s) at offset %d", ErrTrailingGarbage, c.Remaining(), c.Pos())
		}
		rec, err := decodeOneRecord(c)
		if err != nil {
			return err
		}
		if err := sink(rec); err != nil {
			return err
		}
	}
	return nil
}

func decodeOneRecord(c *Cursor) (Record, error) {
	typeByte, err := c.ReadU8()
	if err != nil {
		return Record{}, err
	}
	t := ValueType(typeByte)
	id, err := c.ReadU32()
	if err != nil {
		return Record{}, err
	}

	payload, err := decodePayload(c, t)
	if err != nil {
		return Record{}, err
	}
	return Record{ID: id, Type: t, Payload: payload}, nil
}

func decodePayload(c *Cursor, t ValueType) (interface{}, error) {
	switch t {
	case Bool:
		return c.ReadBool()
	case Int8:
		return c.ReadI8()
	case Uint8:
		return c.ReadU8()
	case Int32:
		return c.ReadI32()
	case Uint32:
		return c.ReadU32()
	case Float:
		return c.ReadF32()
	case String:
		return c.ReadString()
	case Array:
		return decodeArrayPayload(c)
	case Object:
		return decodeObjectPayload(c)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownValueType, t)
	}
}

func decodeArrayPayload(c *Cursor) ([]uint32, error) {
	count, err := c.ReadU16()
	if err != nil {
		return nil, err
	}
	ids := make([]uint32, count)
	for i := range ids {
		id, err := c.ReadU32()
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return ids, nil
}

func decodeObjectPayload(c *Cursor) (ObjectPayload, error) {
	addedCount, err := c.ReadU16()
	if err != nil {
		return ObjectPayload{}, err
	}
	added := make([]KeyID, addedCount)
	for i := range added {
		id, err := c.ReadU32()
		if err != nil {
			return ObjectPayload{}, err
		}
		key, err := c.ReadString()
		if err != nil {
			return ObjectPayload{}, err
		}
		added[i] = KeyID{Key: key, ID: id}
	}

	removedCount, err := c.ReadU16()
	if err != nil {
		return ObjectPayload{}, err
	}
	removed := make([]uint32, removedCount)
	for i := range removed {
		id, err := c.ReadU32()
		if err != nil {
			return ObjectPayload{}, err
		}
		removed[i] = id
	}
	return ObjectPayload{Added: added, Removed: removed}, nil
}

// EncodeRecord appends the wire encoding of rec to w. Object payloads are
// always encoded with a zero removed-count, matching the outbound-snapshot
// asymmetry documented in spec §4.B/§9.
func EncodeRecord(w *Writer, rec Record) error {
	w.WriteU8(uint8(rec.Type))
	w.WriteU32(rec.ID)

	switch rec.Type {
	case Bool:
		w.WriteBool(rec.Payload.(bool))
	case Int8:
		w.WriteI8(rec.Payload.(int8))
	case Uint8:
		w.WriteU8(rec.Payload.(uint8))
	case Int32:
		w.WriteI32(rec.Payload.(int32))
	case Uint32:
		w.WriteU32(rec.Payload.(uint32))
	case Float:
		w.WriteF32(rec.Payload.(float32))
	case String:
		w.WriteString(rec.Payload.(string))
	case Array:
		ids := rec.Payload.([]uint32)
		w.WriteU16(uint16(len(ids)))
		for _, id := range ids {
			w.WriteU32(id)
		}
	case Object:
		obj := rec.Payload.(ObjectPayload)
		w.WriteU16(uint16(len(obj.Added)))
		for _, kv := range obj.Added {
			w.WriteU32(kv.ID)
			w.WriteString(kv.Key)
		}
		// Outbound snapshots always report zero removals (spec §4.B, §9.4).
		w.WriteU16(0)
	default:
		return fmt.Errorf("%w: %d", ErrUnknownValueType, rec.Type)
	}
	return nil
}

// EncodeRecords appends the wire encoding of every record in order.
func EncodeRecords(w *Writer, recs []Record) error {
	for _, r := range recs {
		if err := EncodeRecord(w, r); err != nil {
			return err
		}
	}
	return nil
}
