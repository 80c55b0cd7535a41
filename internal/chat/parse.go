package chat

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/KaramelBytes/edaloom/internal/dataset"
)

// MaxSuggestions caps the follow-up questions kept from a response.
const MaxSuggestions = 3

var (
	fenceOpen  = regexp.MustCompile("^```[a-zA-Z]*[ \t]*\r?\n?")
	fenceClose = regexp.MustCompile("\r?\n?```$")
)

type rawBlock struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content"`
}

// ParseResponse decodes a model reply into content blocks and follow-up
// suggestions. Only an unreadable reply is an error; a bad chart or an
// unknown block type becomes an ErrorBlock in place so sibling blocks
// survive.
func ParseResponse(raw string, sample []dataset.Row) ([]Block, []string, error) {
	text := stripFences(raw)
	var top map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &top); err != nil {
		return nil, nil, &OracleError{Kind: KindMalformed, Err: fmt.Errorf("decode response: %w", err)}
	}

	var items []rawBlock
	if rb, ok := top["response"]; ok && isJSONArray(rb) {
		var generic []json.RawMessage
		if err := json.Unmarshal(rb, &generic); err == nil {
			for _, g := range generic {
				var item rawBlock
				if err := json.Unmarshal(g, &item); err != nil {
					item = rawBlock{Type: jsonTypeName(g)}
				}
				items = append(items, item)
			}
		}
	}

	blocks := make([]Block, 0, len(items))
	for _, it := range items {
		switch it.Type {
		case "text":
			blocks = append(blocks, TextBlock{Text: contentString(it.Content)})
		case "chart":
			spec, err := parseChartSpec(it.Content)
			if err != nil {
				blocks = append(blocks, ErrorBlock{Text: err.Error()})
				continue
			}
			blocks = append(blocks, ChartBlock{Spec: spec, Data: sample})
		default:
			blocks = append(blocks, ErrorBlock{Text: fmt.Sprintf("Unexpected content type: %s", it.Type)})
		}
	}
	return blocks, parseSuggestions(top["followUpQuestions"]), nil
}

func stripFences(raw string) string {
	text := strings.TrimSpace(raw)
	if strings.HasPrefix(text, "```") {
		text = fenceOpen.ReplaceAllString(text, "")
		text = fenceClose.ReplaceAllString(text, "")
	}
	return strings.TrimSpace(text)
}

// parseChartSpec accepts the spec either as a JSON-encoded string or as an
// inline object. The embedded data property is dropped.
func parseChartSpec(content json.RawMessage) (map[string]any, error) {
	src := bytes.TrimSpace(content)
	var s string
	if len(src) > 0 && src[0] == '"' {
		if err := json.Unmarshal(src, &s); err != nil {
			return nil, &RenderError{Reason: "the chart specification is not valid JSON"}
		}
		src = []byte(stripFences(s))
	}
	if !isJSONObject(src) {
		return nil, &RenderError{Reason: "the chart specification is not valid JSON"}
	}
	var spec map[string]any
	if err := json.Unmarshal(src, &spec); err != nil || spec == nil {
		return nil, &RenderError{Reason: "the chart specification is not valid JSON"}
	}
	delete(spec, "data")
	return spec, nil
}

func parseSuggestions(raw json.RawMessage) []string {
	if !isJSONArray(raw) {
		return nil
	}
	var items []any
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	var out []string
	for _, it := range items {
		s, ok := it.(string)
		if !ok {
			continue
		}
		if s = strings.TrimSpace(s); s == "" {
			continue
		}
		out = append(out, s)
		if len(out) == MaxSuggestions {
			break
		}
	}
	return out
}

func contentString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	t := bytes.TrimSpace(raw)
	if len(t) == 0 || string(t) == "null" {
		return ""
	}
	return string(t)
}

func isJSONArray(b []byte) bool {
	t := bytes.TrimSpace(b)
	return len(t) > 0 && t[0] == '['
}

func isJSONObject(b []byte) bool {
	t := bytes.TrimSpace(b)
	return len(t) > 0 && t[0] == '{'
}

func jsonTypeName(b []byte) string {
	t := bytes.TrimSpace(b)
	if len(t) == 0 {
		return "undefined"
	}
	switch t[0] {
	case '"':
		return "string"
	case '[':
		return "array"
	case '{':
		return "object"
	case 'n':
		return "null"
	case 't', 'f':
		return "boolean"
	default:
		return "number"
	}
}

func containsFold(s, sub string) bool {
	if s == "" || sub == "" {
		return false
	}
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
