package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/KaramelBytes/edaloom/internal/ai"
)

func TestParseTruncatedChartKeepsSiblings(t *testing.T) {
	raw := `{"response":[{"type":"text","content":"before"},{"type":"chart","content":"{\"mark\": \"bar\""},{"type":"text","content":"after"}],"followUpQuestions":["a"]}`
	blocks, sugg, err := ParseResponse(raw, nil)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if len(blocks) != 3 {
		t.Fatalf("blocks=%d", len(blocks))
	}
	if b, ok := blocks[0].(TextBlock); !ok || b.Text != "before" {
		t.Fatalf("first block: %#v", blocks[0])
	}
	eb, ok := blocks[1].(ErrorBlock)
	if !ok || !strings.Contains(eb.Text, "chart") {
		t.Fatalf("second block should be a chart error, got %#v", blocks[1])
	}
	if b, ok := blocks[2].(TextBlock); !ok || b.Text != "after" {
		t.Fatalf("third block: %#v", blocks[2])
	}
	if len(sugg) != 1 {
		t.Fatalf("suggestions=%v", sugg)
	}
}

func TestParseChartVariants(t *testing.T) {
	cases := []struct {
		name    string
		content string
		ok      bool
	}{
		{"string spec", `"{\"mark\":\"line\"}"`, true},
		{"inline object", `{"mark":"point","data":{"url":"x.csv"}}`, true},
		{"fenced string", "\"```json\\n{\\\"mark\\\":\\\"area\\\"}\\n```\"", true},
		{"array", `"[1,2]"`, false},
		{"number", `42`, false},
		{"garbage string", `"not json"`, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			raw := fmt.Sprintf(`{"response":[{"type":"chart","content":%s}]}`, c.content)
			blocks, _, err := ParseResponse(raw, nil)
			if err != nil {
				t.Fatalf("ParseResponse: %v", err)
			}
			chart, isChart := blocks[0].(ChartBlock)
			if isChart != c.ok {
				t.Fatalf("chart=%v want %v (%#v)", isChart, c.ok, blocks[0])
			}
			if isChart {
				if _, has := chart.Spec["data"]; has {
					t.Fatalf("data not stripped")
				}
				if chart.Spec["mark"] == nil {
					t.Fatalf("mark missing: %v", chart.Spec)
				}
			}
		})
	}
}

func TestParseUnknownTypeAndOddShapes(t *testing.T) {
	blocks, sugg, err := ParseResponse(`{"response":[{"type":"table","content":"x"},"loose"],"followUpQuestions":"nope"}`, nil)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if eb, ok := blocks[0].(ErrorBlock); !ok || eb.Text != "Unexpected content type: table" {
		t.Fatalf("unknown type block: %#v", blocks[0])
	}
	if _, ok := blocks[1].(ErrorBlock); !ok {
		t.Fatalf("non-object item should be an error block: %#v", blocks[1])
	}
	if sugg != nil {
		t.Fatalf("suggestions should be empty, got %v", sugg)
	}

	blocks, _, err = ParseResponse(`{"response":{"type":"text"}}`, nil)
	if err != nil || len(blocks) != 0 {
		t.Fatalf("non-array response should yield no blocks: %v %v", blocks, err)
	}
}

func TestParseMalformed(t *testing.T) {
	for _, raw := range []string{"", "hello", "```json\n{\"response\": \n```", "[1,2]"} {
		_, _, err := ParseResponse(raw, nil)
		var oe *OracleError
		if !errors.As(err, &oe) || oe.Kind != KindMalformed {
			t.Fatalf("%q: expected malformed, got %v", raw, err)
		}
	}
}

func TestBlockJSON(t *testing.T) {
	msg := NewMessage(RoleAssistant, TextBlock{Text: "hi"}, ChartBlock{Spec: map[string]any{"mark": "bar"}}, ErrorBlock{Text: "bad"})
	b, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(b)
	for _, want := range []string{`"role":"assistant"`, `{"type":"text","content":"hi"}`, `{"type":"chart","spec":{"mark":"bar"},"data":[]}`, `{"type":"error","content":"bad"}`} {
		if !strings.Contains(s, want) {
			t.Fatalf("json missing %s: %s", want, s)
		}
	}
	if msg.ID == "" || msg.ID == NewMessage(RoleUser).ID {
		t.Fatalf("message ids must be unique")
	}
}

type countingVisitor struct{ text, chart, errs int }

func (v *countingVisitor) VisitText(TextBlock) error   { v.text++; return nil }
func (v *countingVisitor) VisitChart(ChartBlock) error { v.chart++; return nil }
func (v *countingVisitor) VisitError(ErrorBlock) error { v.errs++; return nil }

func TestVisitorDispatch(t *testing.T) {
	v := &countingVisitor{}
	for _, b := range []Block{TextBlock{}, ChartBlock{}, ErrorBlock{}, TextBlock{}} {
		if err := b.Accept(v); err != nil {
			t.Fatalf("accept: %v", err)
		}
	}
	if v.text != 2 || v.chart != 1 || v.errs != 1 {
		t.Fatalf("dispatch counts: %+v", v)
	}
}

func TestClassify(t *testing.T) {
	var syntaxErr error = &json.SyntaxError{}
	cases := []struct {
		err  error
		kind Kind
	}{
		{syntaxErr, KindMalformed},
		{&ai.AuthError{APIError: &ai.APIError{StatusCode: 403}}, KindInvalidCredential},
		{errors.New("googleapi: API key not valid. Please pass a valid API key."), KindInvalidCredential},
		{&ai.SafetyError{}, KindSafety},
		{errors.New("candidate blocked due to SAFETY"), KindSafety},
		{context.DeadlineExceeded, KindTimeout},
		{errors.New("request timed out"), KindTimeout},
		{errors.New("quota exhausted"), KindAPI},
	}
	for _, c := range cases {
		if got := Classify(c.err); got.Kind != c.kind {
			t.Errorf("Classify(%v)=%v want %v", c.err, got.Kind, c.kind)
		}
	}
	if Classify(nil) != nil {
		t.Fatalf("nil error should classify to nil")
	}
	if msg := Classify(errors.New("quota exhausted")).Error(); msg != "API error: quota exhausted" {
		t.Fatalf("api message=%q", msg)
	}
}
