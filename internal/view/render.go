// Package view renders a conversation to the HTML markup shared by the web
// UI and the exporter.
package view

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"strings"

	"github.com/KaramelBytes/edaloom/internal/chat"
	"github.com/KaramelBytes/edaloom/internal/dataset"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// Class names the exporter and the browser script rely on.
const (
	ChartRegionClass   = "chart-render-wrapper"
	ChartPayloadClass  = "chart-payload"
	ChartFallbackClass = "chart-fallback"
)

// Renderer turns messages into HTML. Markdown is rendered with GitHub
// flavored extensions; raw HTML in model output is escaped.
type Renderer struct {
	md goldmark.Markdown
}

// NewRenderer returns a Renderer.
func NewRenderer() *Renderer {
	return &Renderer{md: goldmark.New(goldmark.WithExtensions(extension.GFM))}
}

// Markdown renders markdown source to HTML.
func (r *Renderer) Markdown(src string) (template.HTML, error) {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(src), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return template.HTML(buf.String()), nil
}

var messageTmpl = template.Must(template.New("message").Parse(
	`<div class="message message-{{.Role}}" data-message-id="{{.ID}}">{{range .Blocks}}{{.}}{{end}}</div>`))

// Message renders one message. Chart regions are numbered from chartIndex;
// the returned count is the number of chart blocks rendered.
func (r *Renderer) Message(m chat.Message, chartIndex int) (template.HTML, int, error) {
	v := &blockRenderer{r: r, chartIndex: chartIndex}
	for _, b := range m.Content {
		if err := b.Accept(v); err != nil {
			return "", 0, err
		}
	}
	var buf bytes.Buffer
	err := messageTmpl.Execute(&buf, struct {
		Role   chat.Role
		ID     string
		Blocks []template.HTML
	}{m.Role, m.ID, v.out})
	if err != nil {
		return "", 0, fmt.Errorf("render message: %w", err)
	}
	return template.HTML(buf.String()), v.chartIndex - chartIndex, nil
}

// Conversation renders every message in order.
func (r *Renderer) Conversation(c chat.Conversation) (template.HTML, error) {
	var b strings.Builder
	charts := 0
	for _, m := range c.Messages {
		h, n, err := r.Message(m, charts)
		if err != nil {
			return "", err
		}
		charts += n
		b.WriteString(string(h))
	}
	return template.HTML(b.String()), nil
}

type blockRenderer struct {
	r          *Renderer
	chartIndex int
	out        []template.HTML
}

func (v *blockRenderer) VisitText(b chat.TextBlock) error {
	h, err := v.r.Markdown(b.Text)
	if err != nil {
		return err
	}
	v.out = append(v.out, template.HTML(`<div class="prose prose-sm max-w-none">`)+h+template.HTML(`</div>`))
	return nil
}

var chartTmpl = template.Must(template.New("chart").Parse(
	`<div class="` + ChartRegionClass + `" data-chart-index="{{.Index}}">` +
		`<script type="application/json" class="` + ChartPayloadClass + `">{{.Payload}}</script>` +
		`<pre class="` + ChartFallbackClass + `">{{.Fallback}}</pre></div>`))

func (v *blockRenderer) VisitChart(b chat.ChartBlock) error {
	payload, err := ChartPayload(b)
	if err != nil {
		return err
	}
	fallback, err := json.MarshalIndent(b.Spec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode chart spec: %w", err)
	}
	var buf bytes.Buffer
	err = chartTmpl.Execute(&buf, struct {
		Index    int
		Payload  template.JS
		Fallback string
	}{v.chartIndex, template.JS(payload), string(fallback)})
	if err != nil {
		return fmt.Errorf("render chart: %w", err)
	}
	v.chartIndex++
	v.out = append(v.out, template.HTML(buf.String()))
	return nil
}

func (v *blockRenderer) VisitError(b chat.ErrorBlock) error {
	h, err := v.r.Markdown(b.Text)
	if err != nil {
		return err
	}
	v.out = append(v.out, template.HTML(`<div class="error-block prose prose-sm max-w-none">`)+h+template.HTML(`</div>`))
	return nil
}

// ChartPayload encodes the spec with the sample injected as inline values.
// The encoder escapes <, > and & so the result is safe inside a script
// element.
func ChartPayload(b chat.ChartBlock) ([]byte, error) {
	spec := make(map[string]any, len(b.Spec)+1)
	for k, val := range b.Spec {
		spec[k] = val
	}
	data := b.Data
	if data == nil {
		data = []dataset.Row{}
	}
	spec["data"] = map[string]any{"values": data}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(true)
	if err := enc.Encode(spec); err != nil {
		return nil, fmt.Errorf("encode chart payload: %w", err)
	}
	return bytes.TrimSpace(buf.Bytes()), nil
}
