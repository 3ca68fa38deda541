package markup

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"
)

// sameTree fails the test when a and b differ in shape, identifiers or
// values. Positions and parents are not compared.
func sameTree(t *testing.T, a, b *Node) {
	t.Helper()
	if msg := treeDiff(a, b, "root"); msg != "" {
		t.Fatalf("trees differ: %s\nwant: %s\ngot:  %s", msg, OuterHTML(a), OuterHTML(b))
	}
}

func treeDiff(a, b *Node, path string) string {
	if a.kind != b.kind {
		return fmt.Sprintf("%s: kind %s != %s", path, a.kind, b.kind)
	}
	if a.id != b.id {
		return fmt.Sprintf("%s: id %q != %q", path, a.id, b.id)
	}
	if a.name != b.name || a.value != b.value || a.boolean != b.boolean {
		return fmt.Sprintf("%s: %q=%q(%v) != %q=%q(%v)", path, a.name, a.value, a.boolean, b.name, b.value, b.boolean)
	}
	// Attributes are compared as a set keyed by name.
	if len(a.attributes) != len(b.attributes) {
		return fmt.Sprintf("%s: %d attributes != %d", path, len(a.attributes), len(b.attributes))
	}
	for _, aa := range a.attributes {
		ba := b.Attribute(aa.name)
		if ba == nil || ba.value != aa.value || ba.boolean != aa.boolean {
			return fmt.Sprintf("%s@%s: attribute differs", path, aa.name)
		}
	}
	if len(a.children) != len(b.children) {
		return fmt.Sprintf("%s: %d children != %d", path, len(a.children), len(b.children))
	}
	for i := range a.children {
		if b.children[i].parent != b {
			return fmt.Sprintf("%s/%d: parent not set", path, i)
		}
		if msg := treeDiff(a.children[i], b.children[i], fmt.Sprintf("%s/%d", path, i)); msg != "" {
			return msg
		}
	}
	return ""
}

// randomSource generates markup from a small alphabet so that random pairs
// share tags and attribute names.
func randomSource(r *rand.Rand, maxDepth, maxChildren int) string {
	var b strings.Builder
	writeRandomElement(&b, r, maxDepth, maxChildren)
	return b.String()
}

const alphabet = "abcdefg"

func randomWord(r *rand.Rand, max int) string {
	n := 1 + r.Intn(max)
	w := make([]byte, n)
	for i := range w {
		w[i] = alphabet[r.Intn(len(alphabet))]
	}
	return string(w)
}

func writeRandomElement(b *strings.Builder, r *rand.Rand, depth, maxChildren int) {
	name := string(alphabet[r.Intn(len(alphabet))])
	b.WriteString("<" + name)
	for i := r.Intn(4); i > 0; i-- {
		fmt.Fprintf(b, ` %c="%s"`, alphabet[r.Intn(len(alphabet))], randomWord(r, 4))
	}
	b.WriteString(">")
	if depth > 0 {
		for i := r.Intn(maxChildren + 1); i > 0; i-- {
			switch r.Intn(3) {
			case 0:
				writeRandomElement(b, r, depth-1, maxChildren)
			case 1:
				b.WriteString(randomWord(r, 5))
			default:
				b.WriteString("<!--" + randomWord(r, 5) + "-->")
			}
		}
	}
	b.WriteString("</" + name + ">")
}

func mustParseElement(t *testing.T, src string) *Node {
	t.Helper()
	root, err := Parse(src)
	if err != nil {
		t.Fatalf("Parse(%q) error: %v", src, err)
	}
	if len(root.Children()) != 1 {
		t.Fatalf("Parse(%q): expected 1 top-level node, got %d", src, len(root.Children()))
	}
	el := root.Children()[0]
	root.RemoveChild(el)
	return el
}
