package envelope

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// PropertyHTML is the value property carrying rendered markup.
const PropertyHTML = "html"

// SuccessHTML creates a success response whose value is {"html": markup}.
// Script, stylesheet and style elements are lifted out of the fragment into
// the response resources in document order; the rest is serialized.
func SuccessHTML(markup string) (*Response, error) {
	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(markup), body)
	if err != nil {
		return nil, fmt.Errorf("parse html fragment: %w", err)
	}

	resp := Success(nil)
	var b strings.Builder
	for _, n := range nodes {
		if resp.liftSpecial(n) {
			continue
		}
		resp.stripSpecial(n)
		if err := html.Render(&b, n); err != nil {
			return nil, fmt.Errorf("render html fragment: %w", err)
		}
	}
	resp.value = map[string]string{PropertyHTML: b.String()}
	return resp, nil
}

func (r *Response) stripSpecial(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if r.liftSpecial(c) {
			n.RemoveChild(c)
		} else {
			r.stripSpecial(c)
		}
		c = next
	}
}

// liftSpecial moves n into the response resources and reports whether it did.
func (r *Response) liftSpecial(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	switch n.DataAtom {
	case atom.Script:
		if t := attr(n, "type"); t != "" && !strings.Contains(strings.ToLower(t), "javascript") {
			return false
		}
		if src := attr(n, "src"); src != "" {
			r.AddExternalJS(src)
		} else {
			r.AddInlineJS(text(n))
		}
		return true
	case atom.Link:
		if !strings.EqualFold(attr(n, "rel"), "stylesheet") || attr(n, "href") == "" {
			return false
		}
		r.AddExternalCSS(attr(n, "href"))
		return true
	case atom.Style:
		r.AddInlineCSS(text(n))
		return true
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func text(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return b.String()
}
