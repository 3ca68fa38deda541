package markup

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// ParseOption configures Parse.
type ParseOption func(*parseConfig)

type parseConfig struct {
	ids          IDGenerator
	sourcePrefix string
	sourceIDs    bool
}

// WithIDGenerator assigns identifiers from g instead of the default ULIDs.
func WithIDGenerator(g IDGenerator) ParseOption {
	return func(c *parseConfig) {
		c.ids = g
	}
}

// WithSourceIDs derives identifiers from the node kind and its byte offset,
// qualified by prefix. Two parses of the same text produce the same
// identifiers, so a script computed against one applies to the other.
func WithSourceIDs(prefix string) ParseOption {
	return func(c *parseConfig) {
		c.sourceIDs = true
		c.sourcePrefix = prefix
	}
}

func (c *parseConfig) id(kind Kind, offset int) string {
	if c.sourceIDs {
		return c.sourcePrefix + "#" + kind.String()[:1] + strconv.Itoa(offset)
	}
	if c.ids != nil {
		return c.ids.Next()
	}
	return newID()
}

func (c *parseConfig) attrID(el *Node, key []byte) string {
	if c.sourceIDs {
		return el.id + "@" + string(key)
	}
	if c.ids != nil {
		return c.ids.Next()
	}
	return newID()
}

// Parse reads markup into a fragment root. The parser is lenient: stray end
// tags are ignored, unclosed elements are closed at the end of input and
// void elements never take children. When an attribute is repeated the
// last value wins and the first position is kept. A top-level doctype is
// kept as the value of the root fragment.
func Parse(src string, opts ...ParseOption) (*Node, error) {
	cfg := &parseConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	z := html.NewTokenizer(strings.NewReader(src))
	root := &Node{
		kind:     KindFragment,
		id:       cfg.id(KindFragment, 0),
		position: &Position{Start: 0, End: len(src)},
	}
	stack := []*Node{root}
	offset := 0

	for {
		tt := z.Next()
		raw := z.Raw()
		start := offset
		offset += len(raw)
		top := stack[len(stack)-1]

		switch tt {
		case html.ErrorToken:
			if errors.Is(z.Err(), io.EOF) {
				for _, open := range stack[1:] {
					open.position.End = offset
				}
				return root, nil
			}
			return nil, fmt.Errorf("markup: parse at offset %d: %w", start, z.Err())

		case html.TextToken:
			text := &Node{
				kind:     KindText,
				id:       cfg.id(KindText, start),
				value:    string(z.Text()),
				position: &Position{Start: start, End: offset},
			}
			text.parent = top
			top.children = append(top.children, text)

		case html.CommentToken:
			comment := &Node{
				kind:     KindComment,
				id:       cfg.id(KindComment, start),
				value:    string(z.Text()),
				position: &Position{Start: start, End: offset},
			}
			comment.parent = top
			top.children = append(top.children, comment)

		case html.StartTagToken, html.SelfClosingTagToken:
			rawTag := append([]byte(nil), raw...)
			name, hasAttr := z.TagName()
			el := &Node{
				kind:     KindElement,
				id:       cfg.id(KindElement, start),
				name:     string(name),
				position: &Position{Start: start, End: offset},
			}
			for hasAttr {
				var key, val []byte
				key, val, hasAttr = z.TagAttr()
				a := &Node{
					kind:  KindAttribute,
					id:    cfg.attrID(el, key),
					name:  string(key),
					value: string(val),
				}
				if len(val) == 0 && !attrHasValue(rawTag, key) {
					a.boolean = true
				}
				el.putAttribute(a)
			}
			el.parent = top
			top.children = append(top.children, el)
			if tt == html.StartTagToken && !voidElements[el.name] {
				stack = append(stack, el)
			}

		case html.EndTagToken:
			name, _ := z.TagName()
			for i := len(stack) - 1; i > 0; i-- {
				if stack[i].name != string(name) {
					continue
				}
				for _, open := range stack[i+1:] {
					open.position.End = start
				}
				stack[i].position.End = offset
				stack = stack[:i]
				break
			}

		case html.DoctypeToken:
			if top == root && root.value == "" {
				root.value = strings.TrimSpace(string(z.Text()))
			}
		}
	}
}

// MustParse is like Parse but panics on error. It is intended for tests and
// static fixtures.
func MustParse(src string, opts ...ParseOption) *Node {
	n, err := Parse(src, opts...)
	if err != nil {
		panic(err)
	}
	return n
}

// attrHasValue reports whether key appears in the raw tag followed by '='.
// The tokenizer reports both `a` and `a=""` with an empty value.
func attrHasValue(rawTag, key []byte) bool {
	lower := bytes.ToLower(rawTag)
	for i := 0; i < len(lower); {
		j := bytes.Index(lower[i:], key)
		if j < 0 {
			return false
		}
		pos := i + j
		end := pos + len(key)
		i = end
		if pos == 0 || !isSpace(lower[pos-1]) {
			continue
		}
		for end < len(lower) && isSpace(lower[end]) {
			end++
		}
		if end < len(lower) && lower[end] == '=' {
			return true
		}
	}
	return false
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == '\f'
}
