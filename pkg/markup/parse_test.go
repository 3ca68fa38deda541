package markup

import "testing"

func TestParseBasic(t *testing.T) {
	root, err := Parse(`<div id="a"><span>hi</span><!--c--></div>`)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if root.Kind() != KindFragment {
		t.Fatalf("Expected fragment root, got %s", root.Kind())
	}
	div := root.Children()[0]
	if div.Name() != "div" {
		t.Errorf("Expected div, got %q", div.Name())
	}
	if v, _ := div.GetAttribute("id"); v != "a" {
		t.Errorf("Expected id=a, got %q", v)
	}
	if len(div.Children()) != 2 {
		t.Fatalf("Expected 2 children, got %d", len(div.Children()))
	}
	if c := div.Children()[1]; c.Kind() != KindComment || c.Value() != "c" {
		t.Errorf("Expected comment c, got %s %q", c.Kind(), c.Value())
	}
	if div.Parent() != root {
		t.Error("Expected parent back-reference")
	}
}

func TestParseRender(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"self closing", `<div id="a" />`, `<div id="a"></div>`},
		{"void", `<p>a<br>b</p>`, `<p>a<br>b</p>`},
		{"custom self closing", `<div>a<!--b--><c /></div>`, `<div>a<!--b--><c></c></div>`},
		{"stray end tag", `<div></span>x</div>`, `<div>x</div>`},
		{"unclosed", `<div><b>x`, `<div><b>x</b></div>`},
		{"implicit close", `<a><b>x</a>y`, `<a><b>x</b></a>y`},
		{"entities", `<p title="a&amp;b">1 &lt; 2</p>`, `<p title="a&amp;b">1 &lt; 2</p>`},
		{"uppercase", `<DIV ID="x"></DIV>`, `<div id="x"></div>`},
		{"doctype", `<!DOCTYPE html><p></p>`, `<!DOCTYPE html><p></p>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root, err := Parse(tt.src)
			if err != nil {
				t.Fatalf("Parse error: %v", err)
			}
			if got := OuterHTML(root); got != tt.want {
				t.Errorf("OuterHTML = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseRenderRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"doctype", "<!DOCTYPE html>\n<html><head></head><body><p>x</p></body></html>\n"},
		{"script", `<script>if (a < b && c) { s = "</p>"; }</script>`},
		{"style", `<style>a > b { content: "&"; }</style>`},
		{"escaped title", `<title>a &lt; b &amp; c</title>`},
		{"escaped textarea", `<textarea>&lt;b&gt;</textarea>`},
		{"quotes in text", `<p>it's "quoted"</p>`},
		{"document", "<!DOCTYPE html>\n<html>\n<head><style>p > a { }</style></head>\n<body><script>x = 1 < 2;</script></body>\n</html>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root, err := Parse(tt.src)
			if err != nil {
				t.Fatalf("Parse error: %v", err)
			}
			if got := InnerHTML(root); got != tt.src {
				t.Errorf("InnerHTML = %q, want %q", got, tt.src)
			}
			again := MustParse(InnerHTML(root))
			if !Equivalent(root, again) {
				t.Errorf("reparse differs: %q", InnerHTML(again))
			}
		})
	}
}

func TestParseDoctype(t *testing.T) {
	root := MustParse(`<!DOCTYPE html><p>x</p>`)
	if root.Doctype() != "html" {
		t.Errorf("Doctype = %q, want html", root.Doctype())
	}
	if len(root.Children()) != 1 {
		t.Errorf("Expected the doctype to stay out of the children, got %d", len(root.Children()))
	}
	if root.Children()[0].Doctype() != "" {
		t.Error("Expected no doctype on an element")
	}

	got, err := Apply(root, Diff(root, MustParse(`<p>x</p>`)))
	if err != nil {
		t.Fatalf("Apply error: %v", err)
	}
	if InnerHTML(got) != `<p>x</p>` {
		t.Errorf("Expected the doctype to be removed, got %q", InnerHTML(got))
	}

	back, err := Deserialize(Serialize(MustParse(`<!DOCTYPE html>`)))
	if err != nil {
		t.Fatalf("Deserialize error: %v", err)
	}
	if back.Doctype() != "html" {
		t.Errorf("Expected the doctype to survive a record, got %q", back.Doctype())
	}
}

func TestParseBooleanAttributes(t *testing.T) {
	root := MustParse(`<input disabled value="">`)
	input := root.Children()[0]
	if !input.Attribute("disabled").Boolean() {
		t.Error("Expected disabled to be boolean")
	}
	if input.Attribute("value").Boolean() {
		t.Error("Expected value=\"\" to carry an empty value")
	}
	if got := OuterHTML(root); got != `<input disabled value="">` {
		t.Errorf("OuterHTML = %q", got)
	}
}

func TestParseDuplicateAttributesLastWins(t *testing.T) {
	root := MustParse(`<g a="gca" b="x" a="geab"></g>`)
	g := root.Children()[0]
	if len(g.Attributes()) != 2 {
		t.Fatalf("Expected 2 attributes, got %d", len(g.Attributes()))
	}
	if g.Attributes()[0].Name() != "a" {
		t.Error("Expected the first position to be kept")
	}
	if v, _ := g.GetAttribute("a"); v != "geab" {
		t.Errorf("Expected last value geab, got %q", v)
	}
}

func TestParsePositions(t *testing.T) {
	root := MustParse(`<a>x</a><!--c-->`)
	a := root.Children()[0]
	if p := a.Position(); p == nil || p.Start != 0 || p.End != 8 {
		t.Errorf("element position = %+v", p)
	}
	if p := a.Children()[0].Position(); p == nil || p.Start != 3 || p.End != 4 {
		t.Errorf("text position = %+v", p)
	}
	if p := root.Children()[1].Position(); p == nil || p.Start != 8 || p.End != 16 {
		t.Errorf("comment position = %+v", p)
	}
}

func TestParseSourceIDsAreDeterministic(t *testing.T) {
	src := `<div a="1"><b>x</b><!--y--></div>`
	first := MustParse(src, WithSourceIDs("doc"))
	second := MustParse(src, WithSourceIDs("doc"))
	sameTree(t, first, second)

	if id := first.Children()[0].ID(); id != "doc#e0" {
		t.Errorf("Expected doc#e0, got %q", id)
	}
	seen := map[string]bool{}
	Walk(first, func(n *Node) bool {
		if seen[n.ID()] {
			t.Errorf("duplicate id %q", n.ID())
		}
		seen[n.ID()] = true
		return true
	})
}

func TestParseWithIDGenerator(t *testing.T) {
	root := MustParse(`<a>b</a>`, WithIDGenerator(NewSequenceGenerator("n")))
	if root.ID() != "n1" || root.Children()[0].ID() != "n2" {
		t.Errorf("unexpected ids %q %q", root.ID(), root.Children()[0].ID())
	}
}
