package canonicaljson

import (
	"testing"
)

func TestMarshalSortsKeysAndDropsWhitespace(t *testing.T) {
	got, err := MarshalRaw([]byte(`{ "b": 1, "a": {"z": true, "y": null}, "c": [3, "x"] }`))
	if err != nil {
		t.Fatalf("marshal raw failed: %v", err)
	}
	want := `{"a":{"y":null,"z":true},"b":1,"c":[3,"x"]}`
	if string(got) != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestMarshalStructAndMapAgree(t *testing.T) {
	type payload struct {
		Name   string `json:"name"`
		Amount int64  `json:"amount"`
	}
	fromStruct, err := Marshal(payload{Name: "Q3 budget", Amount: 1250})
	if err != nil {
		t.Fatalf("marshal struct failed: %v", err)
	}
	fromMap, err := Marshal(map[string]any{"amount": 1250, "name": "Q3 budget"})
	if err != nil {
		t.Fatalf("marshal map failed: %v", err)
	}
	if string(fromStruct) != string(fromMap) {
		t.Fatalf("expected equal encodings, got %s and %s", fromStruct, fromMap)
	}
}

func TestMarshalDoesNotEscapeHTML(t *testing.T) {
	got, err := Marshal(map[string]any{"note": "a<b & c>d"})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(got) != `{"note":"a<b & c>d"}` {
		t.Fatalf("unexpected encoding %s", got)
	}
}

func TestMarshalNormalizesUnicode(t *testing.T) {
	composed, err := Marshal("caf\u00e9")
	if err != nil {
		t.Fatalf("marshal composed failed: %v", err)
	}
	decomposed, err := Marshal("cafe\u0301")
	if err != nil {
		t.Fatalf("marshal decomposed failed: %v", err)
	}
	if string(composed) != string(decomposed) {
		t.Fatalf("expected NFC normalization, got %q and %q", composed, decomposed)
	}
}

func TestMarshalNumbers(t *testing.T) {
	cases := map[string]string{
		`1.50`:   `1.5`,
		`100`:    `100`,
		`-0`:     `0`,
		`1e21`:   `1e+21`,
		`2.5e-7`: `2.5e-7`,
		`0.001`:  `0.001`,
	}
	for input, want := range cases {
		got, err := MarshalRaw([]byte(input))
		if err != nil {
			t.Fatalf("marshal %s failed: %v", input, err)
		}
		if string(got) != want {
			t.Fatalf("number %s: expected %s, got %s", input, want, got)
		}
	}
}

func TestHashIsStableAcrossKeyOrder(t *testing.T) {
	first, err := Hash(map[string]any{"a": 1, "b": "two"})
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	second, err := Hash(map[string]any{"b": "two", "a": 1})
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	if first != second || len(first) != 64 {
		t.Fatalf("expected equal 64-char hashes, got %s and %s", first, second)
	}
}
