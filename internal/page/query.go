package page

import (
	"strings"

	"golang.org/x/net/html"
)

// Predicate decides whether an element node matches a query.
type Predicate func(*html.Node) bool

// Attr returns the value of the named attribute on n, and whether it exists.
func Attr(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, name) {
			return a.Val, true
		}
	}
	return "", false
}

// HasClass reports whether n carries the given class token.
func HasClass(n *html.Node, class string) bool {
	raw, ok := Attr(n, "class")
	if !ok {
		return false
	}
	for _, token := range strings.Fields(raw) {
		if token == class {
			return true
		}
	}
	return false
}

// ByTag matches element nodes with the given tag name.
func ByTag(tag string) Predicate {
	return func(n *html.Node) bool {
		return n.Type == html.ElementNode && strings.EqualFold(n.Data, tag)
	}
}

// ByClass matches element nodes carrying the given class token.
func ByClass(class string) Predicate {
	return func(n *html.Node) bool {
		return n.Type == html.ElementNode && HasClass(n, class)
	}
}

// ByAttr matches element nodes that have the named attribute, regardless of value.
func ByAttr(name string) Predicate {
	return func(n *html.Node) bool {
		if n.Type != html.ElementNode {
			return false
		}
		_, ok := Attr(n, name)
		return ok
	}
}

// ByAttrContains matches element nodes whose named attribute contains substr.
func ByAttrContains(name, substr string) Predicate {
	return func(n *html.Node) bool {
		if n.Type != html.ElementNode {
			return false
		}
		v, ok := Attr(n, name)
		return ok && strings.Contains(v, substr)
	}
}

// And combines predicates; all must match.
func And(preds ...Predicate) Predicate {
	return func(n *html.Node) bool {
		for _, p := range preds {
			if !p(n) {
				return false
			}
		}
		return true
	}
}

// FindAll walks the tree depth-first and collects every node matching pred,
// in document order.
func FindAll(root *html.Node, pred Predicate) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if pred(n) {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	if root != nil {
		walk(root)
	}
	return out
}

// FindFirst returns the first node matching pred in document order, or nil.
func FindFirst(root *html.Node, pred Predicate) *html.Node {
	var found *html.Node
	var walk func(*html.Node) bool
	walk = func(n *html.Node) bool {
		if pred(n) {
			found = n
			return true
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if walk(c) {
				return true
			}
		}
		return false
	}
	if root != nil {
		walk(root)
	}
	return found
}
