// Package app ties the loader, the analysis session, and the exporter into
// the single-dataset workflow the CLI and the web UI drive.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/KaramelBytes/edaloom/internal/chat"
	"github.com/KaramelBytes/edaloom/internal/dataset"
	"github.com/KaramelBytes/edaloom/internal/export"
	"github.com/KaramelBytes/edaloom/internal/view"
	"go.uber.org/zap"
)

var (
	// ErrNoDataset is returned when an operation needs a loaded dataset.
	ErrNoDataset = errors.New("no dataset loaded")
	// ErrNoArchive is returned by SelectEntry without a pending archive.
	ErrNoArchive = errors.New("no archive is waiting for an entry choice")
	// ErrNothingToExport is returned by Export before any analysis exists.
	ErrNothingToExport = errors.New("nothing to export yet")
)

const (
	loadFailedPrefix    = "Sorry, I could not load the dataset. **Detail:** "
	analyzeFailedPrefix = "Sorry, I could not analyze the dataset. **Detail:** "
	askFailedPrefix     = "Sorry, something went wrong. **Detail:** "
)

// State is a point-in-time copy of the application state.
type State struct {
	Dataset      *dataset.Meta     `json:"dataset,omitempty"`
	Archive      string            `json:"archive,omitempty"`
	Pending      []string          `json:"pendingEntries,omitempty"`
	Conversation chat.Conversation `json:"conversation"`
	Busy         bool              `json:"busy"`
}

// App owns the current dataset, any archive awaiting an entry pick, and the
// conversation about the dataset. Loading a new dataset replaces all of it.
type App struct {
	loader     *dataset.Loader
	ctrl       *chat.Controller
	renderer   *view.Renderer
	serializer *export.Serializer
	log        *zap.Logger

	mu      sync.Mutex
	ds      *dataset.Dataset
	archive *dataset.Archive
	conv    chat.Conversation
	busy    bool
	// gen changes whenever the state is reset so late results can be
	// recognised and dropped.
	gen uint64
}

// New returns an App.
func New(loader *dataset.Loader, ctrl *chat.Controller, log *zap.Logger) *App {
	if log == nil {
		log = zap.NewNop()
	}
	return &App{
		loader:     loader,
		ctrl:       ctrl,
		renderer:   view.NewRenderer(),
		serializer: export.NewSerializer(log),
		log:        log,
	}
}

// Renderer returns the view renderer used for exports.
func (a *App) Renderer() *view.Renderer { return a.renderer }

// Upload replaces the current state with the uploaded file. A ZIP with
// several CSV files leaves the entries pending for SelectEntry; otherwise
// the analysis session starts right away.
func (a *App) Upload(ctx context.Context, name string, r io.ReaderAt, size int64) error {
	gen := a.reset()
	res, err := a.loader.Load(name, r, size)
	return a.accept(ctx, gen, res, err)
}

// Open is Upload for a file on disk.
func (a *App) Open(ctx context.Context, path string) error {
	gen := a.reset()
	res, err := a.loader.LoadFile(path)
	return a.accept(ctx, gen, res, err)
}

// SelectEntry parses one entry of the pending archive and starts the
// analysis. A failed entry leaves the archive pending so another can be
// picked.
func (a *App) SelectEntry(ctx context.Context, name string) error {
	a.mu.Lock()
	archive := a.archive
	gen := a.gen
	a.mu.Unlock()
	if archive == nil {
		return ErrNoArchive
	}
	ds, err := a.loader.LoadEntry(archive, name)

	a.mu.Lock()
	if a.gen != gen {
		a.mu.Unlock()
		return chat.ErrStaleResponse
	}
	if err != nil {
		a.conv = failure(loadFailedPrefix, err)
		a.mu.Unlock()
		a.log.Warn("archive entry failed to load", zap.String("archive", archive.Name), zap.String("entry", name), zap.Error(err))
		return err
	}
	a.archive = nil
	a.ds = ds
	a.mu.Unlock()
	if err := archive.Close(); err != nil {
		a.log.Debug("closing archive", zap.Error(err))
	}
	return a.start(ctx, gen, ds)
}

// Reject replaces the current state with a load failure for a file that
// never reached the loader, such as an upload cut off at the size limit.
func (a *App) Reject(name string, err error) {
	gen := a.reset()
	a.mu.Lock()
	if a.gen == gen {
		a.conv = failure(loadFailedPrefix, err)
	}
	a.mu.Unlock()
	a.log.Warn("dataset rejected", zap.String("file", name), zap.Error(err))
}

// Clear drops the dataset, any pending archive, and the conversation. An
// exchange still in flight is discarded when it returns.
func (a *App) Clear() {
	a.reset()
}

// Ask sends a follow-up question. A blank prompt is ignored.
func (a *App) Ask(ctx context.Context, prompt string) error {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil
	}
	a.mu.Lock()
	if a.ds == nil {
		a.mu.Unlock()
		return ErrNoDataset
	}
	if a.busy {
		a.mu.Unlock()
		return chat.ErrBusy
	}
	ds, gen := a.ds, a.gen
	a.busy = true
	a.conv.Append(chat.NewMessage(chat.RoleUser, chat.TextBlock{Text: prompt}))
	a.conv.Suggestions = nil
	a.mu.Unlock()

	turn, err := a.ctrl.Continue(ctx, prompt, ds)

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.gen != gen {
		return chat.ErrStaleResponse
	}
	if errors.Is(err, chat.ErrStaleResponse) || (err == nil && turn.SessionID != a.conv.SessionID) {
		return chat.ErrStaleResponse
	}
	a.busy = false
	if err != nil {
		a.conv.Append(chat.NewMessage(chat.RoleAssistant, chat.ErrorBlock{Text: askFailedPrefix + err.Error()}))
		return err
	}
	a.conv.Append(chat.NewMessage(chat.RoleAssistant, turn.Blocks...))
	a.conv.Suggestions = turn.Suggestions
	return nil
}

// Snapshot returns a copy of the current state.
func (a *App) Snapshot() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	st := State{Conversation: a.conv.Clone(), Busy: a.busy}
	if a.ds != nil {
		meta := a.ds.Meta
		st.Dataset = &meta
	}
	if a.archive != nil {
		st.Archive = a.archive.Name
		st.Pending = a.archive.Entries()
	}
	return st
}

// Dataset returns the loaded dataset, or nil.
func (a *App) Dataset() *dataset.Dataset {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ds
}

// Export builds the standalone document. markup is the conversation as the
// browser rendered it; when empty the conversation is rendered here and
// charts keep their spec fallback unless they carry rendered output.
func (a *App) Export(markup []byte) (*export.Document, error) {
	a.mu.Lock()
	ds := a.ds
	conv := a.conv.Clone()
	a.mu.Unlock()
	if ds == nil || len(conv.Messages) == 0 {
		return nil, ErrNothingToExport
	}
	if len(markup) == 0 {
		h, err := a.renderer.Conversation(conv)
		if err != nil {
			return nil, fmt.Errorf("render conversation: %w", err)
		}
		markup = []byte(h)
	}
	return a.serializer.Export(ds.Meta.Filename, markup)
}

func (a *App) reset() uint64 {
	a.ctrl.End()
	a.mu.Lock()
	archive := a.archive
	a.ds = nil
	a.archive = nil
	a.conv = chat.Conversation{}
	a.busy = false
	a.gen++
	gen := a.gen
	a.mu.Unlock()
	if err := archive.Close(); err != nil {
		a.log.Debug("closing archive", zap.Error(err))
	}
	return gen
}

func (a *App) accept(ctx context.Context, gen uint64, res *dataset.Result, err error) error {
	a.mu.Lock()
	if a.gen != gen {
		a.mu.Unlock()
		if res != nil {
			_ = res.Archive.Close()
		}
		return chat.ErrStaleResponse
	}
	if err != nil {
		a.conv = failure(loadFailedPrefix, err)
		a.mu.Unlock()
		a.log.Warn("dataset failed to load", zap.Error(err))
		return err
	}
	if res.Archive != nil {
		a.archive = res.Archive
		a.mu.Unlock()
		a.log.Info("archive holds several CSV files",
			zap.String("archive", res.Archive.Name),
			zap.Strings("entries", res.Archive.Entries()))
		return nil
	}
	a.ds = res.Dataset
	a.mu.Unlock()
	return a.start(ctx, gen, res.Dataset)
}

func (a *App) start(ctx context.Context, gen uint64, ds *dataset.Dataset) error {
	a.mu.Lock()
	if a.gen != gen {
		a.mu.Unlock()
		return chat.ErrStaleResponse
	}
	a.busy = true
	a.mu.Unlock()

	turn, err := a.ctrl.Start(ctx, ds)

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.gen != gen {
		return chat.ErrStaleResponse
	}
	// A stale start lost the session to a newer one, which owns busy.
	if errors.Is(err, chat.ErrStaleResponse) {
		return err
	}
	a.busy = false
	if err != nil {
		a.conv = failure(analyzeFailedPrefix, err)
		return err
	}
	a.conv = chat.Conversation{
		SessionID:   turn.SessionID,
		Messages:    []chat.Message{chat.NewMessage(chat.RoleAssistant, turn.Blocks...)},
		Suggestions: turn.Suggestions,
	}
	a.log.Info("analysis ready",
		zap.String("dataset", ds.Meta.Filename),
		zap.Int("blocks", len(turn.Blocks)),
		zap.Int("suggestions", len(turn.Suggestions)))
	return nil
}

func failure(prefix string, err error) chat.Conversation {
	return chat.Conversation{Messages: []chat.Message{
		chat.NewMessage(chat.RoleAssistant, chat.ErrorBlock{Text: prefix + err.Error()}),
	}}
}
