package canonical

import (
	"math"
	"testing"
)

func TestMarshalSortsKeys(t *testing.T) {
	a, err := Marshal(map[string]interface{}{"b": 1, "a": 2})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	b, err := Marshal(map[string]interface{}{"a": 2, "b": 1})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(a) != string(b) {
		t.Fatalf("expected identical bytes regardless of key order: %s != %s", a, b)
	}
	want := `{"a":2,"b":1}`
	if string(a) != want {
		t.Fatalf("got %s, want %s", a, want)
	}
}

func TestMarshalPreservesNull(t *testing.T) {
	out, err := Marshal(map[string]interface{}{"x": nil})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != `{"x":null}` {
		t.Fatalf("got %s", out)
	}
}

func TestMarshalRejectsNonFiniteFloat(t *testing.T) {
	type payload struct {
		V float64
	}
	if _, err := Marshal(payload{V: 1}); err != nil {
		t.Fatalf("unexpected error for finite value: %v", err)
	}
	if _, err := Marshal(payload{V: math.Inf(1)}); err == nil {
		t.Fatalf("expected an error for +Inf")
	}
}

func TestMarshalNoWhitespace(t *testing.T) {
	out, err := Marshal([]interface{}{1, 2, 3})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != "[1,2,3]" {
		t.Fatalf("got %s", out)
	}
}

func TestMarshalJSONRoundTrip(t *testing.T) {
	out, err := MarshalJSON([]byte(`{"z":1,"a":{"y":2,"x":3}}`))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"a":{"x":3,"y":2},"z":1}`
	if string(out) != want {
		t.Fatalf("got %s, want %s", out, want)
	}
}
