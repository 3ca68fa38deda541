package markup

import (
	"encoding/json"
	"errors"
	"math/rand"
	"strings"
	"testing"
)

func TestSerializeRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	sources := []string{
		`<div id="a" hidden>text<!--c--><span class="x">y</span></div>`,
		`<input disabled value="">`,
		`<!DOCTYPE html><p>x</p>`,
		``,
	}
	for i := 0; i < 20; i++ {
		sources = append(sources, randomSource(r, 4, 3))
	}

	for _, src := range sources {
		tree := MustParse(src)
		data, err := json.Marshal(Serialize(tree))
		if err != nil {
			t.Fatalf("Marshal error: %v", err)
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			t.Fatalf("Unmarshal error: %v", err)
		}
		back, err := Deserialize(&rec)
		if err != nil {
			t.Fatalf("Deserialize(%s) error: %v", data, err)
		}
		sameTree(t, tree, back)
		if OuterHTML(back) != OuterHTML(tree) {
			t.Errorf("render mismatch for %q", src)
		}
	}
}

func TestSerializeWireShape(t *testing.T) {
	el := NewElement("input", []*Node{NewBooleanAttribute("disabled"), NewAttribute("value", "")})
	data, err := json.Marshal(Serialize(el))
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	s := string(data)
	if !strings.Contains(s, `"kind":3`) || !strings.Contains(s, `"name":"input"`) {
		t.Errorf("missing element fields: %s", s)
	}
	if !strings.Contains(s, `"name":"disabled"}`) {
		t.Errorf("boolean attribute should omit value: %s", s)
	}
	if !strings.Contains(s, `"name":"value","value":""`) {
		t.Errorf("empty value should be kept: %s", s)
	}
}

func TestDeserializeRejectsInvalidRecords(t *testing.T) {
	text := "x"
	tests := []struct {
		name string
		rec  *Record
	}{
		{"nil", nil},
		{"unknown kind", &Record{Kind: 42}},
		{"element without name", &Record{Kind: KindElement}},
		{"attribute as child", &Record{Kind: KindFragment, ChildNodes: []*Record{{Kind: KindAttribute, Name: "a"}}}},
		{"nested fragment", &Record{Kind: KindFragment, ChildNodes: []*Record{{Kind: KindFragment}}}},
		{"text in attributes", &Record{Kind: KindElement, Name: "a", Attributes: []*Record{{Kind: KindText, Value: &text}}}},
		{"text with children", &Record{Kind: KindText, Value: &text, ChildNodes: []*Record{{Kind: KindText}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Deserialize(tt.rec); !errors.Is(err, ErrInvalidRecord) {
				t.Errorf("Expected ErrInvalidRecord, got %v", err)
			}
		})
	}
}

func TestDeserializeAssignsMissingIDs(t *testing.T) {
	v := "a"
	n, err := Deserialize(&Record{Kind: KindText, Value: &v})
	if err != nil {
		t.Fatalf("Deserialize error: %v", err)
	}
	if n.ID() == "" {
		t.Error("Expected a generated id")
	}
}
