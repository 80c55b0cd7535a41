// Package export turns the rendered conversation into a standalone HTML
// document with charts embedded as PNG images.
package export

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/KaramelBytes/edaloom/internal/view"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Document is an exported analysis ready to be written or downloaded.
type Document struct {
	Filename string
	HTML     []byte
	// Charts is the number of chart regions found; Embedded how many of them
	// were replaced by an image.
	Charts   int
	Embedded int
}

// ImageError reports a chart region that could not be turned into an image.
type ImageError struct {
	Index  int
	Reason string
	Err    error
}

func (e *ImageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("chart %d: %s: %v", e.Index, e.Reason, e.Err)
	}
	return fmt.Sprintf("chart %d: %s", e.Index, e.Reason)
}

func (e *ImageError) Unwrap() error { return e.Err }

// Serializer produces export documents. The zero value is not usable; call
// NewSerializer.
type Serializer struct {
	log    *zap.Logger
	policy *bluemonday.Policy
}

// NewSerializer returns a Serializer logging image failures to log.
func NewSerializer(log *zap.Logger) *Serializer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Serializer{log: log, policy: newPolicy()}
}

// Export builds the document for the dataset named filename from the view
// markup. Chart regions in the live tree are measured and rasterized; the
// images replace the matching regions in a detached copy so the input is
// never modified. A region that fails is left as it was.
func (s *Serializer) Export(filename string, markup []byte) (*Document, error) {
	ctx := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	live, err := html.ParseFragment(bytes.NewReader(markup), ctx)
	if err != nil {
		return nil, fmt.Errorf("parse view: %w", err)
	}
	copied := make([]*html.Node, len(live))
	for i, n := range live {
		copied[i] = cloneNode(n)
	}

	liveRegions := findByClass(live, view.ChartRegionClass)
	copyRegions := findByClass(copied, view.ChartRegionClass)
	doc := &Document{Filename: ExportFilename(filename), Charts: len(liveRegions)}
	for i, region := range liveRegions {
		uri, err := regionImage(i, region)
		if err != nil {
			s.log.Warn("chart not embedded", zap.Int("chart", i), zap.Error(err))
			continue
		}
		replaceChildren(copyRegions[i], imageNode(uri))
		doc.Embedded++
	}

	var body bytes.Buffer
	for _, n := range copied {
		if err := html.Render(&body, n); err != nil {
			return nil, fmt.Errorf("render view: %w", err)
		}
	}
	clean := s.policy.SanitizeBytes(body.Bytes())
	title := strings.TrimSpace(filename)
	if title == "" {
		title = "dataset"
	}
	out, err := wrapDocument(title, clean)
	if err != nil {
		return nil, err
	}
	doc.HTML = out
	s.log.Info("analysis exported",
		zap.String("file", doc.Filename),
		zap.Int("charts", doc.Charts),
		zap.Int("embedded", doc.Embedded),
		zap.Int("bytes", len(out)))
	return doc, nil
}

// regionImage returns a PNG data URI for a chart region. A snapshot image
// already attached by the browser wins over rasterizing the svg here.
func regionImage(index int, region *html.Node) (string, error) {
	if img := findFirst(region, func(n *html.Node) bool {
		return n.DataAtom == atom.Img && hasClass(n, SnapshotClass) && strings.HasPrefix(attr(n, "src"), "data:image/png;base64,")
	}); img != nil {
		return attr(img, "src"), nil
	}
	svg := findFirst(region, func(n *html.Node) bool { return n.Type == html.ElementNode && n.Data == "svg" })
	if svg == nil {
		return "", &ImageError{Index: index, Reason: "no rendered chart"}
	}
	w, h, ok := regionSize(region, svg)
	if !ok {
		return "", &ImageError{Index: index, Reason: "unknown chart size"}
	}
	if attr(svg, "viewBox") == "" {
		vw, vh, ok := sizePair(attr(svg, "width"), attr(svg, "height"))
		if !ok {
			vw, vh = w, h
		}
		svg = cloneNode(svg)
		svg.Attr = append(svg.Attr, html.Attribute{Key: "viewBox", Val: fmt.Sprintf("0 0 %d %d", vw, vh)})
	}
	var src bytes.Buffer
	if err := html.Render(&src, svg); err != nil {
		return "", &ImageError{Index: index, Reason: "serialize svg", Err: err}
	}
	uri, err := rasterize(src.Bytes(), w, h)
	if err != nil {
		return "", &ImageError{Index: index, Reason: "rasterize svg", Err: err}
	}
	return uri, nil
}

func imageNode(uri string) *html.Node {
	return &html.Node{
		Type:     html.ElementNode,
		Data:     "img",
		DataAtom: atom.Img,
		Attr: []html.Attribute{
			{Key: "src", Val: uri},
			{Key: "alt", Val: "Chart visualization"},
			{Key: "class", Val: "chart-image"},
			{Key: "style", Val: "width:100%;height:auto"},
		},
	}
}

// ExportFilename names the exported file after the dataset:
// "sales.csv" becomes "analise-sales.html".
func ExportFilename(name string) string {
	return "analise-" + displayName(name) + ".html"
}

func displayName(name string) string {
	base := strings.NewReplacer("/", "_", "\\", "_").Replace(strings.TrimSpace(name))
	if len(base) >= 4 && strings.EqualFold(base[len(base)-4:], ".csv") {
		base = base[:len(base)-4]
	}
	if base == "" {
		base = "dataset"
	}
	return base
}
