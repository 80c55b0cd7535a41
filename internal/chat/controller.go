package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/KaramelBytes/edaloom/internal/ai"
	"github.com/KaramelBytes/edaloom/internal/dataset"
	"github.com/KaramelBytes/edaloom/internal/utils"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Options tunes the requests a Controller sends.
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int
	// Timeout bounds one exchange; zero leaves it to the caller's context.
	Timeout time.Duration
}

// Turn is the parsed outcome of one successful exchange.
type Turn struct {
	SessionID   string
	Blocks      []Block
	Suggestions []string
	Usage       ai.Usage
}

// Controller owns at most one analysis session at a time and runs exchanges
// against an AI runtime. It is safe for concurrent use; at most one exchange
// per session is in flight.
type Controller struct {
	rt   ai.Runtime
	opts Options
	log  *zap.Logger

	mu   sync.Mutex
	sess *session
}

type session struct {
	id      string
	history []ai.Message
	busy    bool
}

// NewController returns a controller bound to a runtime.
func NewController(rt ai.Runtime, opts Options, log *zap.Logger) *Controller {
	if log == nil {
		log = zap.NewNop()
	}
	return &Controller{rt: rt, opts: opts, log: log}
}

// Start opens a new session for ds, replacing any previous one, and returns
// the opening analysis. On failure no session remains.
func (c *Controller) Start(ctx context.Context, ds *dataset.Dataset) (*Turn, error) {
	if ds == nil {
		return nil, errors.New("start session: dataset is nil")
	}
	s := &session{id: uuid.NewString(), busy: true}
	c.mu.Lock()
	c.sess = s
	c.mu.Unlock()

	preamble := DatasetContext(ds)
	msgs := []ai.Message{
		{Role: ai.RoleSystem, Content: SystemInstruction},
		{Role: ai.RoleUser, Content: preamble + "\n" + InitialPrompt},
	}
	c.log.Info("starting analysis session",
		zap.String("session_id", s.id),
		zap.String("dataset", ds.Meta.Filename),
		zap.Int("rows", ds.Meta.RowCount),
		zap.Int("columns", ds.Meta.ColumnCount),
		zap.Int("preamble_tokens_est", utils.CountTokens(preamble)))

	reply, usage, err := c.exchange(ctx, s.id, msgs)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != s {
		c.log.Debug("discarding stale start response", zap.String("session_id", s.id))
		return nil, ErrStaleResponse
	}
	if err != nil {
		c.sess = nil
		oe := Classify(err)
		c.log.Warn("session start failed", zap.String("session_id", s.id), zap.Stringer("kind", oe.Kind), zap.Error(err))
		return nil, oe
	}
	blocks, suggestions, err := ParseResponse(reply, ds.Sample)
	if err != nil {
		c.sess = nil
		c.log.Warn("unreadable opening response", zap.String("session_id", s.id), zap.Error(err))
		return nil, Classify(err)
	}
	s.history = append(msgs, ai.Message{Role: ai.RoleAssistant, Content: reply})
	s.busy = false
	return &Turn{SessionID: s.id, Blocks: blocks, Suggestions: suggestions, Usage: usage}, nil
}

// Continue sends a follow-up prompt within the active session. ds supplies
// the sample attached to chart blocks and may be nil.
func (c *Controller) Continue(ctx context.Context, prompt string, ds *dataset.Dataset) (*Turn, error) {
	c.mu.Lock()
	s := c.sess
	if s == nil {
		c.mu.Unlock()
		return nil, ErrNoSession
	}
	if s.busy {
		c.mu.Unlock()
		return nil, ErrBusy
	}
	s.busy = true
	msgs := make([]ai.Message, 0, len(s.history)+1)
	msgs = append(msgs, s.history...)
	msgs = append(msgs, ai.Message{Role: ai.RoleUser, Content: prompt})
	c.mu.Unlock()
	c.log.Debug("follow-up prompt",
		zap.String("session_id", s.id),
		zap.String("prompt", utils.TruncateToTokenLimit(prompt, 40)))

	reply, usage, err := c.exchange(ctx, s.id, msgs)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != s {
		c.log.Debug("discarding stale response", zap.String("session_id", s.id))
		return nil, ErrStaleResponse
	}
	s.busy = false
	if err != nil {
		oe := Classify(err)
		c.log.Warn("exchange failed", zap.String("session_id", s.id), zap.Stringer("kind", oe.Kind), zap.Error(err))
		return nil, oe
	}
	var sample []dataset.Row
	if ds != nil {
		sample = ds.Sample
	}
	blocks, suggestions, err := ParseResponse(reply, sample)
	if err != nil {
		c.log.Warn("unreadable response", zap.String("session_id", s.id), zap.Error(err))
		return nil, Classify(err)
	}
	s.history = append(msgs, ai.Message{Role: ai.RoleAssistant, Content: reply})
	return &Turn{SessionID: s.id, Blocks: blocks, Suggestions: suggestions, Usage: usage}, nil
}

// End discards the active session. It is a no-op without one.
func (c *Controller) End() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != nil {
		c.log.Debug("ending session", zap.String("session_id", c.sess.id))
	}
	c.sess = nil
}

// SessionID returns the active session id, or "" without a session.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return ""
	}
	return c.sess.id
}

// Busy reports whether an exchange is in flight.
func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess != nil && c.sess.busy
}

// exchange calls the runtime without holding the lock. Panics inside a
// runtime surface as KindUnknown failures.
func (c *Controller) exchange(ctx context.Context, sessionID string, msgs []ai.Message) (reply string, usage ai.Usage, err error) {
	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = &OracleError{Kind: KindUnknown, Err: fmt.Errorf("runtime panic: %v", r)}
		}
	}()
	start := time.Now()
	resp, err := c.rt.Generate(ctx, ai.GenerateRequest{
		Model:       c.opts.Model,
		Messages:    msgs,
		MaxTokens:   c.opts.MaxTokens,
		Temperature: c.opts.Temperature,
		Schema:      ResponseSchema,
		SchemaName:  SchemaName,
	})
	if err != nil {
		return "", ai.Usage{}, err
	}
	c.log.Debug("oracle exchange",
		zap.String("session_id", sessionID),
		zap.Int("messages", len(msgs)),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
		zap.String("request_id", resp.RequestID),
		zap.Duration("elapsed", time.Since(start)))
	return resp.Text(), resp.Usage, nil
}
