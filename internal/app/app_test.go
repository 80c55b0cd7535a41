package app

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/KaramelBytes/edaloom/internal/ai"
	"github.com/KaramelBytes/edaloom/internal/chat"
	"github.com/KaramelBytes/edaloom/internal/dataset"
)

const okReply = `{"response":[{"type":"text","content":"## Overview"},{"type":"chart","content":"{\"mark\":\"bar\"}"}],"followUpQuestions":["Why?","How?"]}`

type scriptedRuntime struct {
	mu      sync.Mutex
	calls   int
	errs    map[int]error
	gate    chan struct{}
	entered chan struct{}
}

func (s *scriptedRuntime) Generate(ctx context.Context, req ai.GenerateRequest) (*ai.GenerateResponse, error) {
	s.mu.Lock()
	i := s.calls
	s.calls++
	gate, entered := s.gate, s.entered
	s.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	if err := s.errs[i]; err != nil {
		return nil, err
	}
	return &ai.GenerateResponse{Choices: []ai.Choice{{Message: ai.Message{Role: ai.RoleAssistant, Content: okReply}}}}, nil
}

func (s *scriptedRuntime) block() {
	s.mu.Lock()
	s.gate = make(chan struct{})
	s.entered = make(chan struct{}, 1)
	s.mu.Unlock()
}

func newTestApp(rt ai.Runtime) *App {
	return New(dataset.NewLoader(0, dataset.Options{}), chat.NewController(rt, chat.Options{}, nil), nil)
}

func upload(t *testing.T, a *App, name, body string) error {
	t.Helper()
	r := strings.NewReader(body)
	return a.Upload(context.Background(), name, r, r.Size())
}

func zipOf(t *testing.T, files ...string) *bytes.Reader {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for i := 0; i+1 < len(files); i += 2 {
		w, err := zw.Create(files[i])
		if err != nil {
			t.Fatalf("zip create: %v", err)
		}
		if _, err := w.Write([]byte(files[i+1])); err != nil {
			t.Fatalf("zip write: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return bytes.NewReader(buf.Bytes())
}

func errorText(t *testing.T, m chat.Message) string {
	t.Helper()
	if len(m.Content) != 1 {
		t.Fatalf("expected one block, got %d", len(m.Content))
	}
	eb, ok := m.Content[0].(chat.ErrorBlock)
	if !ok {
		t.Fatalf("expected an error block, got %T", m.Content[0])
	}
	return eb.Text
}

func TestUploadStartsAnalysis(t *testing.T) {
	a := newTestApp(&scriptedRuntime{})
	if err := upload(t, a, "people.csv", "name,age\nAna,30\nBob,\n"); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	st := a.Snapshot()
	if st.Dataset == nil || st.Dataset.Filename != "people.csv" || st.Dataset.RowCount != 2 {
		t.Fatalf("dataset meta: %+v", st.Dataset)
	}
	if len(st.Conversation.Messages) != 1 || st.Conversation.Messages[0].Role != chat.RoleAssistant {
		t.Fatalf("conversation: %+v", st.Conversation)
	}
	if len(st.Conversation.Suggestions) != 2 || st.Conversation.SessionID == "" || st.Busy {
		t.Fatalf("state: %+v", st)
	}
}

func TestUploadLoadFailure(t *testing.T) {
	a := newTestApp(&scriptedRuntime{})
	err := upload(t, a, "notes.txt", "hello")
	var uf *dataset.UnsupportedFormatError
	if !errors.As(err, &uf) {
		t.Fatalf("expected unsupported format, got %v", err)
	}
	st := a.Snapshot()
	if st.Dataset != nil || len(st.Conversation.Messages) != 1 {
		t.Fatalf("state: %+v", st)
	}
	if txt := errorText(t, st.Conversation.Messages[0]); !strings.HasPrefix(txt, loadFailedPrefix) {
		t.Fatalf("error text=%q", txt)
	}
}

func TestUploadAnalysisFailure(t *testing.T) {
	rt := &scriptedRuntime{errs: map[int]error{0: &ai.AuthError{APIError: &ai.APIError{StatusCode: 401}}}}
	a := newTestApp(rt)
	if err := upload(t, a, "people.csv", "name\nAna\n"); err == nil {
		t.Fatalf("expected an error")
	}
	st := a.Snapshot()
	if st.Conversation.SessionID != "" || len(st.Conversation.Messages) != 1 {
		t.Fatalf("state: %+v", st)
	}
	if txt := errorText(t, st.Conversation.Messages[0]); !strings.HasPrefix(txt, analyzeFailedPrefix) {
		t.Fatalf("error text=%q", txt)
	}
	if err := a.Ask(context.Background(), "hi"); err == nil {
		t.Fatalf("ask without a session should fail")
	}
}

func TestZipEntrySelection(t *testing.T) {
	a := newTestApp(&scriptedRuntime{})
	z := zipOf(t, "a.csv", "x\n1\n", "b.csv", "y\n2\n3\n")
	if err := a.Upload(context.Background(), "bundle.zip", z, z.Size()); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	st := a.Snapshot()
	if st.Archive != "bundle.zip" || strings.Join(st.Pending, ",") != "a.csv,b.csv" || st.Dataset != nil {
		t.Fatalf("pending state: %+v", st)
	}
	if err := a.SelectEntry(context.Background(), "missing.csv"); err == nil {
		t.Fatalf("expected missing entry error")
	}
	if st := a.Snapshot(); len(st.Pending) != 2 {
		t.Fatalf("archive should stay pending after a bad pick")
	}
	if err := a.SelectEntry(context.Background(), "b.csv"); err != nil {
		t.Fatalf("SelectEntry: %v", err)
	}
	st = a.Snapshot()
	if st.Dataset == nil || st.Dataset.Filename != "b.csv" || st.Dataset.RowCount != 2 || st.Pending != nil {
		t.Fatalf("state after pick: %+v", st)
	}
	if err := a.SelectEntry(context.Background(), "a.csv"); !errors.Is(err, ErrNoArchive) {
		t.Fatalf("expected ErrNoArchive, got %v", err)
	}
}

func TestAsk(t *testing.T) {
	rt := &scriptedRuntime{errs: map[int]error{2: errors.New("quota exhausted")}}
	a := newTestApp(rt)
	ctx := context.Background()
	if err := a.Ask(ctx, "anything"); !errors.Is(err, ErrNoDataset) {
		t.Fatalf("expected ErrNoDataset, got %v", err)
	}
	if err := upload(t, a, "people.csv", "name\nAna\n"); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if err := a.Ask(ctx, "   "); err != nil {
		t.Fatalf("blank prompt: %v", err)
	}
	if err := a.Ask(ctx, "by age?"); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if err := a.Ask(ctx, "again"); err == nil {
		t.Fatalf("expected failure")
	}
	msgs := a.Snapshot().Conversation.Messages
	if len(msgs) != 5 {
		t.Fatalf("messages=%d", len(msgs))
	}
	if msgs[1].Role != chat.RoleUser || msgs[3].Role != chat.RoleUser {
		t.Fatalf("user messages out of place: %+v", msgs)
	}
	if txt := errorText(t, msgs[4]); !strings.HasPrefix(txt, askFailedPrefix) || !strings.Contains(txt, "quota exhausted") {
		t.Fatalf("error text=%q", txt)
	}
	if sugg := a.Snapshot().Conversation.Suggestions; len(sugg) != 0 {
		t.Fatalf("suggestions should be cleared after a failed ask: %v", sugg)
	}
}

func TestAskBusyAndStale(t *testing.T) {
	rt := &scriptedRuntime{}
	a := newTestApp(rt)
	if err := upload(t, a, "people.csv", "name\nAna\n"); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	rt.block()
	done := make(chan error, 1)
	go func() { done <- a.Ask(context.Background(), "slow") }()
	<-rt.entered

	if !a.Snapshot().Busy {
		t.Fatalf("expected busy")
	}
	if err := a.Ask(context.Background(), "again"); !errors.Is(err, chat.ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	a.Clear()
	close(rt.gate)
	if err := <-done; !errors.Is(err, chat.ErrStaleResponse) {
		t.Fatalf("expected stale, got %v", err)
	}
	st := a.Snapshot()
	if st.Dataset != nil || len(st.Conversation.Messages) != 0 || st.Busy {
		t.Fatalf("cleared state was modified: %+v", st)
	}
}

func TestUploadDuringFollowUpDropsLateReply(t *testing.T) {
	rt := &scriptedRuntime{}
	a := newTestApp(rt)
	if err := upload(t, a, "old.csv", "name\nAna\n"); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	rt.block()
	oldGate := rt.gate
	done := make(chan error, 1)
	go func() { done <- a.Ask(context.Background(), "slow") }()
	<-rt.entered

	// The new analysis answers right away.
	rt.mu.Lock()
	rt.gate, rt.entered = nil, nil
	rt.mu.Unlock()
	if err := upload(t, a, "new.csv", "city\nLisbon\nPorto\n"); err != nil {
		t.Fatalf("second Upload: %v", err)
	}
	before := a.Snapshot()

	close(oldGate)
	if err := <-done; !errors.Is(err, chat.ErrStaleResponse) {
		t.Fatalf("expected stale, got %v", err)
	}
	st := a.Snapshot()
	if st.Dataset == nil || st.Dataset.Filename != "new.csv" || st.Busy {
		t.Fatalf("state: %+v", st)
	}
	if len(st.Conversation.Messages) != 1 || st.Conversation.SessionID != before.Conversation.SessionID {
		t.Fatalf("late reply reached the new conversation: %+v", st.Conversation)
	}
	if len(st.Conversation.Suggestions) != 2 {
		t.Fatalf("suggestions: %v", st.Conversation.Suggestions)
	}
}

func TestStaleStartKeepsBusy(t *testing.T) {
	rt := &scriptedRuntime{}
	a := newTestApp(rt)
	if err := upload(t, a, "people.csv", "name\nAna\n"); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	a.mu.Lock()
	ds, gen := a.ds, a.gen
	a.mu.Unlock()

	rt.block()
	firstGate := rt.gate
	first := make(chan error, 1)
	go func() { first <- a.start(context.Background(), gen, ds) }()
	<-rt.entered

	rt.mu.Lock()
	secondGate := make(chan struct{})
	rt.gate = secondGate
	rt.mu.Unlock()
	second := make(chan error, 1)
	go func() { second <- a.start(context.Background(), gen, ds) }()
	<-rt.entered

	close(firstGate)
	if err := <-first; !errors.Is(err, chat.ErrStaleResponse) {
		t.Fatalf("expected stale first start, got %v", err)
	}
	if !a.Snapshot().Busy {
		t.Fatalf("busy cleared while the second start is in flight")
	}
	close(secondGate)
	if err := <-second; err != nil {
		t.Fatalf("second start: %v", err)
	}
	if st := a.Snapshot(); st.Busy || len(st.Conversation.Messages) != 1 {
		t.Fatalf("state: %+v", st)
	}
}

func TestReject(t *testing.T) {
	a := newTestApp(&scriptedRuntime{})
	if err := upload(t, a, "people.csv", "name\nAna\n"); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	a.Reject("big.csv", &dataset.SizeLimitError{Name: "big.csv", Size: 2 << 20, Limit: 1 << 10})
	st := a.Snapshot()
	if st.Dataset != nil || st.Conversation.SessionID != "" || len(st.Conversation.Messages) != 1 {
		t.Fatalf("state: %+v", st)
	}
	if txt := errorText(t, st.Conversation.Messages[0]); !strings.HasPrefix(txt, loadFailedPrefix) || !strings.Contains(txt, "big.csv") {
		t.Fatalf("error text=%q", txt)
	}
	if err := a.Ask(context.Background(), "hi"); !errors.Is(err, ErrNoDataset) {
		t.Fatalf("expected ErrNoDataset, got %v", err)
	}
}

func TestExport(t *testing.T) {
	a := newTestApp(&scriptedRuntime{})
	if _, err := a.Export(nil); !errors.Is(err, ErrNothingToExport) {
		t.Fatalf("expected ErrNothingToExport, got %v", err)
	}
	if err := upload(t, a, "people.csv", "name\nAna\n"); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	doc, err := a.Export(nil)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if doc.Filename != "analise-people.html" || doc.Charts != 1 {
		t.Fatalf("doc=%+v", doc)
	}
	if !strings.Contains(string(doc.HTML), "<h2>Overview</h2>") {
		t.Fatalf("export missing rendered markdown:\n%s", doc.HTML)
	}
}
