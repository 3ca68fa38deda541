package markup

import (
	"regexp"
	"sort"
	"strings"

	"golang.org/x/net/html"
)

// voidElements never have children or end tags.
var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"param": true, "source": true, "track": true, "wbr": true,
}

// rawTextElements hold text that is not entity-decoded when parsed and
// must not be escaped when rendered.
var rawTextElements = map[string]bool{
	"iframe": true, "noembed": true, "noframes": true, "noscript": true,
	"plaintext": true, "script": true, "style": true, "xmp": true,
}

var textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// IsVoidElement reports whether name is an HTML void element.
func IsVoidElement(name string) bool {
	return voidElements[strings.ToLower(name)]
}

// OuterHTML renders n including its own tag.
func OuterHTML(n *Node) string {
	if n == nil {
		return ""
	}
	r := &renderer{}
	n.Accept(r)
	return r.b.String()
}

// InnerHTML renders the children of n. The doctype of a fragment is part
// of its content.
func InnerHTML(n *Node) string {
	if n == nil {
		return ""
	}
	r := &renderer{}
	if n.kind == KindFragment {
		n.Accept(r)
		return r.b.String()
	}
	for _, c := range n.children {
		c.Accept(r)
	}
	return r.b.String()
}

// CanonicalHTML renders n with attributes sorted by name. Attribute order
// is not significant for equivalence.
func CanonicalHTML(n *Node) string {
	if n == nil {
		return ""
	}
	r := &renderer{sorted: true}
	n.Accept(r)
	return r.b.String()
}

type renderer struct {
	b      strings.Builder
	sorted bool
}

func (r *renderer) VisitFragment(n *Node) {
	if n.value != "" {
		r.b.WriteString("<!DOCTYPE ")
		r.b.WriteString(n.value)
		r.b.WriteByte('>')
	}
	for _, c := range n.children {
		c.Accept(r)
	}
}

func (r *renderer) VisitElement(n *Node) {
	r.b.WriteByte('<')
	r.b.WriteString(n.name)
	attrs := n.attributes
	if r.sorted && len(attrs) > 1 {
		attrs = append([]*Node(nil), attrs...)
		sort.SliceStable(attrs, func(i, j int) bool { return attrs[i].name < attrs[j].name })
	}
	for _, a := range attrs {
		r.b.WriteByte(' ')
		a.Accept(r)
	}
	r.b.WriteByte('>')
	if voidElements[n.name] && len(n.children) == 0 {
		return
	}
	for _, c := range n.children {
		c.Accept(r)
	}
	r.b.WriteString("</")
	r.b.WriteString(n.name)
	r.b.WriteByte('>')
}

func (r *renderer) VisitAttribute(n *Node) {
	r.b.WriteString(n.name)
	if n.boolean {
		return
	}
	r.b.WriteString(`="`)
	r.b.WriteString(html.EscapeString(n.value))
	r.b.WriteByte('"')
}

func (r *renderer) VisitText(n *Node) {
	if p := n.parent; p != nil && p.kind == KindElement && rawTextElements[p.name] {
		r.b.WriteString(n.value)
		return
	}
	textEscaper.WriteString(&r.b, n.value)
}

func (r *renderer) VisitComment(n *Node) {
	r.b.WriteString("<!--")
	r.b.WriteString(n.value)
	r.b.WriteString("-->")
}

var (
	interTagSpace = regexp.MustCompile(`>\s+<`)
	spaceRun      = regexp.MustCompile(`\s+`)
)

// NormalizeWhitespace collapses incidental whitespace in rendered markup so
// that two renders can be compared for equivalence.
func NormalizeWhitespace(s string) string {
	s = interTagSpace.ReplaceAllString(s, "><")
	s = spaceRun.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Equivalent reports whether a and b render to the same markup once
// attribute order and incidental whitespace are normalized.
func Equivalent(a, b *Node) bool {
	return NormalizeWhitespace(CanonicalHTML(a)) == NormalizeWhitespace(CanonicalHTML(b))
}
