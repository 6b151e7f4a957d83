package core

import (
	"testing"

	"github.com/goccy/go-json"
)

func TestPlural(t *testing.T) {
	cases := map[string]string{
		"college":    "colleges",
		"student":    "students",
		"university": "universities",
		"child":      "children",
	}
	for singular, plural := range cases {
		if p := Plural(singular); p != plural {
			t.Fatalf("plural of %s: got %s, want %s", singular, p, plural)
		}
	}
}

func TestOperationUnmarshal(t *testing.T) {
	var o Operation
	if err := json.Unmarshal([]byte(`"read_all"`), &o); err != nil {
		t.Fatal(err)
	}
	if o != OperationReadAll {
		t.Fatal("unexpected operation:", o)
	}
	if err := json.Unmarshal([]byte(`"drop_table"`), &o); err == nil {
		t.Fatal("expected error for invalid operation")
	}
}
