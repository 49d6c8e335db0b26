package fleece

import (
	"encoding/base64"
	"strconv"
	"strings"
)

// ToJSON renders v as strict JSON (spec §6.3). Binary `data` values are
// base64-encoded strings. Dumping an `undefined` value is refused: unlike
// `null`, `undefined` has no lossless JSON projection, and silently
// emitting `null` would make round-trips through JSON lossy in a way a
// caller cannot detect (see DESIGN.md's resolution of this spec Open
// Question).
func (v Value) ToJSON() (string, error) {
	var sb strings.Builder
	if err := v.dumpJSON(&sb, false); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// DumpJSON5 renders v as JSON5: object keys that look like identifiers are
// left unquoted (spec §6.3).
func (v Value) DumpJSON5() (string, error) {
	var sb strings.Builder
	if err := v.dumpJSON(&sb, true); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func (v Value) dumpJSON(sb *strings.Builder, json5 bool) error {
	switch v.Kind() {
	case KindUndefined:
		return errf(ErrInvalidData, "cannot dump undefined value to JSON")
	case KindNull:
		sb.WriteString("null")
	case KindBool:
		if v.AsBool() {
			sb.WriteString("true")
		} else {
			sb.WriteString("false")
		}
	case KindNumber:
		writeJSONNumber(sb, v)
	case KindString:
		writeJSONString(sb, v.AsString())
	case KindData:
		sb.WriteByte('"')
		sb.WriteString(base64.StdEncoding.EncodeToString(v.AsData()))
		sb.WriteByte('"')
	case KindArray:
		sb.WriteByte('[')
		it := v.AsArray()
		for i := 0; i < it.Count(); i++ {
			if i > 0 {
				sb.WriteByte(',')
			}
			if err := it.At(i).dumpJSON(sb, json5); err != nil {
				return err
			}
		}
		sb.WriteByte(']')
	case KindDict:
		sb.WriteByte('{')
		d := v.AsDict()
		for it := d.Iterate(); it.Next(); {
			if it.pos > 0 {
				sb.WriteByte(',')
			}
			writeJSONKey(sb, it.Key(), json5)
			sb.WriteByte(':')
			if err := it.Value().dumpJSON(sb, json5); err != nil {
				return err
			}
		}
		sb.WriteByte('}')
	}
	return nil
}

func writeJSONNumber(sb *strings.Builder, v Value) {
	switch v.NumberKind() {
	case NumFloat32, NumFloat64:
		sb.WriteString(strconv.FormatFloat(v.AsDouble(), 'g', -1, 64))
	case NumUnsigned:
		sb.WriteString(strconv.FormatUint(v.AsUnsigned(), 10))
	default:
		sb.WriteString(strconv.FormatInt(v.AsInt(), 10))
	}
}

func writeJSONString(sb *strings.Builder, s string) {
	sb.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			sb.WriteString(`\"`)
		case '\\':
			sb.WriteString(`\\`)
		case '\n':
			sb.WriteString(`\n`)
		case '\t':
			sb.WriteString(`\t`)
		case '\r':
			sb.WriteString(`\r`)
		case '\b', '\f', 0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x0B,
			0x0E, 0x0F, 0x10, 0x11, 0x12, 0x13, 0x14, 0x15, 0x16, 0x17,
			0x18, 0x19, 0x1A, 0x1B, 0x1C, 0x1D, 0x1E, 0x1F:
			const hexDigits = "0123456789abcdef"
			sb.WriteString(`\u00`)
			sb.WriteByte(hexDigits[r>>4])
			sb.WriteByte(hexDigits[r&0xF])
		default:
			sb.WriteRune(r)
		}
	}
	sb.WriteByte('"')
}

func isJSON5Ident(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		ok := r == '_' || r == '$' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
		if i > 0 {
			ok = ok || (r >= '0' && r <= '9')
		}
		if !ok {
			return false
		}
	}
	return true
}

func writeJSONKey(sb *strings.Builder, k string, json5 bool) {
	if json5 && isJSON5Ident(k) {
		sb.WriteString(k)
		return
	}
	writeJSONString(sb, k)
}

// Dump returns a human-readable debug representation of v, for use in test
// failure messages and log output; it is not guaranteed stable across
// versions and is not meant to be machine-parsed (spec §4.1's `dump`).
func (v Value) Dump() string {
	s, err := v.DumpJSON5()
	if err != nil {
		return "<undefined>"
	}
	return s
}
