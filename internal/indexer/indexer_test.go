package indexer

import (
	"testing"
)

func sampleRaw() []RawElement {
	return []RawElement{
		{Tag: "A", Text: "  Home \n page ", Rect: Rect{X: 0, Y: 0, W: 40, H: 20}},
		{Tag: "button", Text: "Sign In", Rect: Rect{X: 10, Y: 30, W: 80, H: 30}},
		{Tag: "input", Text: "", FieldType: "email", Attributes: map[string]string{"name": "email"}},
		{Tag: "button", Text: "Sign In", Rect: Rect{X: 10, Y: 90, W: 80, H: 30}},
	}
}

func TestBuildAssignsSequentialIndices(t *testing.T) {
	ix := New()
	res := ix.Build(sampleRaw())

	if len(res.Elements) != 4 {
		t.Fatalf("expected 4 elements, got %d", len(res.Elements))
	}
	for i, el := range res.Elements {
		if el.Index != i {
			t.Errorf("element %d has index %d", i, el.Index)
		}
		if el.Generation != res.Generation {
			t.Errorf("element %d generation %d != scan generation %d", i, el.Generation, res.Generation)
		}
	}
	if res.Elements[0].Tag != "a" {
		t.Errorf("tag should be lowercased, got %q", res.Elements[0].Tag)
	}
	if res.Elements[0].VisibleText != "Home page" {
		t.Errorf("whitespace should collapse, got %q", res.Elements[0].VisibleText)
	}
}

func TestGenerationsIncrease(t *testing.T) {
	ix := New()
	a := ix.Build(sampleRaw())
	b := ix.Build(sampleRaw())

	if b.Generation <= a.Generation {
		t.Errorf("generation must increase: %d then %d", a.Generation, b.Generation)
	}

	// Indices within each generation are stable and self-consistent;
	// cross-generation identity is not promised.
	for i := range a.Elements {
		if a.Elements[i].Index != b.Elements[i].Index {
			t.Errorf("same DOM, same scan order: index %d vs %d", a.Elements[i].Index, b.Elements[i].Index)
		}
	}
}

func TestByIndex(t *testing.T) {
	ix := New()
	res := ix.Build(sampleRaw())

	if el := res.ByIndex(1); el == nil || el.VisibleText != "Sign In" {
		t.Errorf("ByIndex(1) = %+v", el)
	}
	if el := res.ByIndex(-1); el != nil {
		t.Errorf("negative index should return nil, got %+v", el)
	}
	if el := res.ByIndex(99); el != nil {
		t.Errorf("out-of-range index should return nil, got %+v", el)
	}

	var empty *ScanResult
	if el := empty.ByIndex(0); el != nil {
		t.Errorf("nil scan should return nil, got %+v", el)
	}
}

func TestByTextFirstMatchWins(t *testing.T) {
	ix := New()
	res := ix.Build(sampleRaw())

	tests := []struct {
		query string
		want  int // expected index, -1 for no match
	}{
		{"sign in", 1}, // two buttons share the text; earliest scan order wins
		{"SIGN", 1},
		{"home", 0},
		{"checkout", -1},
		{"", -1},
	}
	for _, tt := range tests {
		el := res.ByText(tt.query)
		if tt.want == -1 {
			if el != nil {
				t.Errorf("ByText(%q) = %+v, want nil", tt.query, el)
			}
			continue
		}
		if el == nil || el.Index != tt.want {
			t.Errorf("ByText(%q) = %+v, want index %d", tt.query, el, tt.want)
		}
	}
}
