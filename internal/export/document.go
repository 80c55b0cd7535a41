package export

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/microcosm-cc/bluemonday"
)

var svgElements = []string{
	"svg", "g", "path", "rect", "circle", "ellipse", "line", "polyline",
	"polygon", "text", "tspan", "title", "defs", "clippath",
}

// newPolicy allows the markup the view produces plus inline data-URI images
// and enough svg to keep charts that could not be rasterized. Scripts,
// including the chart payloads, are removed.
func newPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowAttrs("class").Globally()
	p.AllowDataAttributes()
	p.AllowDataURIImages()
	p.AllowStyles("width", "height").OnElements("img")
	p.AllowElements(svgElements...)
	p.AllowAttrs(
		"viewbox", "width", "height", "d", "fill", "fill-opacity", "stroke",
		"stroke-width", "stroke-opacity", "opacity", "transform", "x", "y",
		"x1", "y1", "x2", "y2", "cx", "cy", "r", "rx", "ry", "points",
		"text-anchor", "font-size", "font-family", "font-weight", "role",
		"aria-label", "clip-path", "dx", "dy",
	).OnElements(svgElements...)
	return p
}

var documentTmpl = template.Must(template.New("export").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>EDA Analysis Export - {{.Name}}</title>
<script src="https://cdn.tailwindcss.com"></script>
<script>
tailwind.config = {
  theme: {
    extend: {
      fontFamily: { sans: ['Inter', 'sans-serif'] },
      colors: { primary: '#0f62fe', 'primary-hover': '#0353e9' }
    }
  }
}
</script>
<link rel="preconnect" href="https://fonts.googleapis.com">
<link href="https://fonts.googleapis.com/css2?family=Inter:wght@400;500;600;700&display=swap" rel="stylesheet">
<style>
body { font-family: 'Inter', sans-serif; background-color: #f9fafb; }
.prose table { width: 100%; border-collapse: collapse; margin: 1em 0; }
.prose th, .prose td { border: 1px solid #e5e7eb; padding: 0.5rem 0.75rem; text-align: left; }
.prose th { background-color: #f3f4f6; font-weight: 600; }
.prose tr:nth-child(even) td { background-color: #f9fafb; }
.message { margin-bottom: 1.5rem; padding: 1rem 1.25rem; border-radius: 0.75rem; background: #ffffff; box-shadow: 0 1px 2px rgba(0,0,0,0.05); }
.message-user { background: #eef4ff; }
.error-block { border-left: 4px solid #dc2626; background: #fef2f2; color: #991b1b; padding: 0.75rem 1rem; border-radius: 0.5rem; }
.chart-render-wrapper { margin: 1rem 0; }
.chart-image { width: 100%; height: auto; }
.chart-fallback { font-size: 0.75rem; overflow-x: auto; background: #f3f4f6; padding: 0.75rem; border-radius: 0.5rem; }
</style>
</head>
<body class="text-gray-800">
<main class="max-w-4xl mx-auto px-4 py-8">
<h1 class="text-3xl font-bold text-primary mb-8">EDA Analysis: {{.Name}}</h1>
{{.Content}}
</main>
</body>
</html>
`))

func wrapDocument(name string, content []byte) ([]byte, error) {
	var buf bytes.Buffer
	err := documentTmpl.Execute(&buf, struct {
		Name    string
		Content template.HTML
	}{name, template.HTML(content)})
	if err != nil {
		return nil, fmt.Errorf("render document: %w", err)
	}
	return buf.Bytes(), nil
}
