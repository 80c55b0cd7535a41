package export

import (
	"math"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// SnapshotClass marks a PNG the browser attached to a chart region.
const SnapshotClass = "chart-snapshot"

func cloneNode(n *html.Node) *html.Node {
	c := &html.Node{
		Type:      n.Type,
		DataAtom:  n.DataAtom,
		Data:      n.Data,
		Namespace: n.Namespace,
		Attr:      append([]html.Attribute(nil), n.Attr...),
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		c.AppendChild(cloneNode(child))
	}
	return c
}

// findByClass walks the roots in document order.
func findByClass(roots []*html.Node, class string) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && hasClass(n, class) {
			out = append(out, n)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, r := range roots {
		walk(r)
	}
	return out
}

func findFirst(n *html.Node, match func(*html.Node) bool) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if match(c) {
			return c
		}
		if found := findFirst(c, match); found != nil {
			return found
		}
	}
	return nil
}

func replaceChildren(n, child *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
	n.AppendChild(child)
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

// regionSize prefers the size the browser recorded on the region, then the
// svg's own width and height, then its viewBox.
func regionSize(region, svg *html.Node) (int, int, bool) {
	if w, h, ok := sizePair(attr(region, "data-rendered-width"), attr(region, "data-rendered-height")); ok {
		return w, h, true
	}
	if w, h, ok := sizePair(attr(svg, "width"), attr(svg, "height")); ok {
		return w, h, true
	}
	f := strings.FieldsFunc(attr(svg, "viewBox"), func(r rune) bool { return r == ' ' || r == ',' })
	if len(f) == 4 {
		return sizePair(f[2], f[3])
	}
	return 0, 0, false
}

func sizePair(ws, hs string) (int, int, bool) {
	w, ok1 := dimension(ws)
	h, ok2 := dimension(hs)
	return w, h, ok1 && ok2
}

func dimension(s string) (int, bool) {
	s = strings.TrimSuffix(strings.TrimSpace(s), "px")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f <= 0 || math.IsInf(f, 0) || f > maxDimension {
		return 0, false
	}
	return int(math.Ceil(f)), true
}
