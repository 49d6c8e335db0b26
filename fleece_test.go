package fleece_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/nwca/fleece"
	"github.com/nwca/fleece/encoder"
)

func buildDoc(t *testing.T, build func(e *encoder.Encoder) error) []byte {
	t.Helper()
	e := encoder.New(encoder.Config{})
	if err := build(e); err != nil {
		t.Fatalf("build: %v", err)
	}
	buf, err := e.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	return buf
}

func sampleDoc(t *testing.T) []byte {
	return buildDoc(t, func(e *encoder.Encoder) error {
		if err := e.BeginDict(4); err != nil {
			return err
		}
		if err := e.WriteKey("name"); err != nil {
			return err
		}
		if err := e.WriteString("Alice"); err != nil {
			return err
		}
		if err := e.WriteKey("age"); err != nil {
			return err
		}
		if err := e.WriteInt(30); err != nil {
			return err
		}
		if err := e.WriteKey("active"); err != nil {
			return err
		}
		if err := e.WriteBool(true); err != nil {
			return err
		}
		if err := e.WriteKey("tags"); err != nil {
			return err
		}
		if err := e.BeginArray(2); err != nil {
			return err
		}
		if err := e.WriteString("admin"); err != nil {
			return err
		}
		if err := e.WriteString("staff"); err != nil {
			return err
		}
		if err := e.EndArray(); err != nil {
			return err
		}
		return e.EndDict()
	})
}

func TestValidateAndRoot(t *testing.T) {
	buf := sampleDoc(t)
	root, err := fleece.Validate(buf)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if root.Kind() != fleece.KindDict {
		t.Fatalf("Kind() = %v, want dict", root.Kind())
	}
}

func TestValidateRejectsOddLength(t *testing.T) {
	if _, err := fleece.Validate([]byte{0x00}); err == nil {
		t.Fatal("Validate of an odd-length buffer: want error, got nil")
	}
}

func TestValidateRejectsTruncatedBuffer(t *testing.T) {
	buf := sampleDoc(t)
	// Cut the leading bytes: the key string "name" was emitted first, at
	// offset 0, so the dict's pointer to it now targets before the buffer.
	// (Cutting from the end instead can leave a prefix whose last two bytes
	// happen to be a valid pointer, e.g. to the key "tags".)
	if _, err := fleece.Validate(buf[2:]); err == nil {
		t.Fatal("Validate of a truncated buffer: want error, got nil")
	}
}

func TestDictGetAndJSON(t *testing.T) {
	buf := sampleDoc(t)
	root, err := fleece.Validate(buf)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	d := root.AsDict()
	if v, ok := d.Get("name"); !ok || v.AsString() != "Alice" {
		t.Errorf("Get(name) = %q, %v, want Alice, true", v.AsString(), ok)
	}
	if v, ok := d.Get("missing"); ok || v.IsValid() {
		t.Errorf("Get(missing) should miss, got %v, %v", v, ok)
	}

	got, err := root.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}
	want := `{"active":true,"age":30,"name":"Alice","tags":["admin","staff"]}`
	if got != want {
		t.Errorf("ToJSON() = %s, want %s", got, want)
	}
}

func TestEvalPath(t *testing.T) {
	buf := sampleDoc(t)
	root, err := fleece.Validate(buf)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	v, err := fleece.EvalPath(root, "tags[1]")
	if err != nil {
		t.Fatalf("EvalPath: %v", err)
	}
	if got := v.AsString(); got != "staff" {
		t.Errorf("EvalPath(tags[1]) = %q, want %q", got, "staff")
	}

	miss, err := fleece.EvalPath(root, "nonexistent.deep")
	if err != nil {
		t.Fatalf("EvalPath: %v", err)
	}
	if miss.IsValid() {
		t.Errorf("EvalPath(nonexistent.deep) should be invalid, got %v", miss)
	}

	if _, err := fleece.EvalPath(root, "tags["); err == nil {
		t.Fatal("EvalPath with unterminated '[': want error, got nil")
	}
}

func TestEqual(t *testing.T) {
	buf1 := buildDoc(t, func(e *encoder.Encoder) error { return e.WriteInt(7) })
	buf2 := buildDoc(t, func(e *encoder.Encoder) error { return e.WriteDouble(7) })
	v1, _ := fleece.Validate(buf1)
	v2, _ := fleece.Validate(buf2)
	if !v1.Equal(v2) {
		t.Errorf("scalar 7 and 7.0 should compare equal at top level")
	}

	arr1 := buildDoc(t, func(e *encoder.Encoder) error {
		if err := e.BeginArray(1); err != nil {
			return err
		}
		if err := e.WriteInt(7); err != nil {
			return err
		}
		return e.EndArray()
	})
	arr2 := buildDoc(t, func(e *encoder.Encoder) error {
		if err := e.BeginArray(1); err != nil {
			return err
		}
		if err := e.WriteDouble(7); err != nil {
			return err
		}
		return e.EndArray()
	})
	av1, _ := fleece.Validate(arr1)
	av2, _ := fleece.Validate(arr2)
	if av1.Equal(av2) {
		t.Errorf("[7] and [7.0] should NOT compare equal (nested type-sensitive)")
	}
}

func TestToJSONRefusesUndefined(t *testing.T) {
	buf := buildDoc(t, func(e *encoder.Encoder) error { return e.WriteUndefined() })
	root, err := fleece.Validate(buf)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if _, err := root.ToJSON(); err == nil {
		t.Fatal("ToJSON of undefined: want error, got nil")
	}
}

func TestMultiKeyGet(t *testing.T) {
	buf := sampleDoc(t)
	root, _ := fleece.Validate(buf)
	d := root.AsDict()
	var got []string
	d.MultiKeyGet([]string{"age", "name", "zzz"}, func(key string, v fleece.Value) {
		got = append(got, key)
	})
	if diff := cmp.Diff([]string{"age", "name"}, got); diff != "" {
		t.Errorf("MultiKeyGet order/content mismatch (-want +got):\n%s", diff)
	}
}

func TestLookupKeyCache(t *testing.T) {
	buf := sampleDoc(t)
	root, _ := fleece.Validate(buf)
	d := root.AsDict()
	lk := fleece.NewLookupKey("name")
	v, ok := d.GetCached(lk)
	if !ok || v.AsString() != "Alice" {
		t.Fatalf("GetCached(name) = %q, %v, want Alice, true", v.AsString(), ok)
	}
	// Second call should hit the last-slot-index cache path.
	v2, ok2 := d.GetCached(lk)
	if !ok2 || v2.AsString() != "Alice" {
		t.Fatalf("GetCached(name) second call = %q, %v, want Alice, true", v2.AsString(), ok2)
	}
}

func TestDocWrapper(t *testing.T) {
	buf := sampleDoc(t)
	doc, err := fleece.NewDoc(buf)
	if err != nil {
		t.Fatalf("NewDoc: %v", err)
	}
	if doc.Root().Kind() != fleece.KindDict {
		t.Errorf("Root().Kind() = %v, want dict", doc.Root().Kind())
	}
	if diff := cmp.Diff(buf, doc.Bytes()); diff != "" {
		t.Errorf("Bytes() mismatch (-want +got):\n%s", diff)
	}
}
