package mutable

import (
	"fmt"

	"github.com/nwca/fleece"
	"github.com/nwca/fleece/encoder"
)

// makeMutableChild implements the shared half of Array.MakeMutableChild and
// Dict.MakeMutableChild: materialize s's content as a mutable *Array/*Dict
// in place, or hand back the one already there.
func makeMutableChild(s *slot) (any, bool) {
	switch s.kind {
	case kindCollection:
		return s.coll, true
	case kindBorrowed:
		switch s.borrowed.Kind() {
		case fleece.KindArray:
			child := NewArrayFrom(s.borrowed)
			child.ownerSlot = s
			s.kind = kindCollection
			s.coll = child
			s.borrowed = fleece.Value{}
			return child, true
		case fleece.KindDict:
			child := NewDictFrom(s.borrowed)
			child.ownerSlot = s
			s.kind = kindCollection
			s.coll = child
			s.borrowed = fleece.Value{}
			return child, true
		default:
			return nil, false
		}
	default:
		return nil, false
	}
}

// writeSlot emits one array element or dict value slot.
func writeSlot(e *encoder.Encoder, s *slot) error {
	if s.kind == kindTombstone {
		return fmt.Errorf("mutable: internal error: tombstone slot outside a dict overlay")
	}
	return writeAny(e, s.value())
}

// writeAny emits v, dispatching on its dynamic type: a borrowed
// fleece.Value, a nested mutable child, or a native scalar.
func writeAny(e *encoder.Encoder, v any) error {
	switch x := v.(type) {
	case fleece.Value:
		return e.WriteValue(x)
	case *Array:
		return x.writeTo(e)
	case *Dict:
		return x.writeTo(e)
	default:
		return writeScalar(e, x)
	}
}

// writeScalar emits a native Go scalar as the value stream event it
// corresponds to.
func writeScalar(e *encoder.Encoder, v any) error {
	switch x := v.(type) {
	case nil:
		return e.WriteNull()
	case bool:
		return e.WriteBool(x)
	case int:
		return e.WriteInt(int64(x))
	case int64:
		return e.WriteInt(x)
	case uint64:
		return e.WriteUint(x)
	case float32:
		return e.WriteFloat(x)
	case float64:
		return e.WriteDouble(x)
	case string:
		return e.WriteString(x)
	case []byte:
		return e.WriteData(x)
	default:
		return fmt.Errorf("mutable: unsupported scalar type %T", v)
	}
}
