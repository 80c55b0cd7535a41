package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"html/template"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/KaramelBytes/edaloom/internal/app"
	"github.com/KaramelBytes/edaloom/internal/chat"
	"github.com/KaramelBytes/edaloom/internal/dataset"
	"go.uber.org/zap"
)

const (
	multipartAllowance = 1 << 20
	jsonBodyLimit      = 1 << 20
	exportBodyLimit    = 64 << 20
)

type messageView struct {
	ID   string        `json:"id"`
	Role chat.Role     `json:"role"`
	HTML template.HTML `json:"html"`
}

type stateResponse struct {
	Dataset     *dataset.Meta `json:"dataset"`
	Archive     string        `json:"archive,omitempty"`
	Pending     []string      `json:"pendingEntries"`
	SessionID   string        `json:"sessionId,omitempty"`
	Messages    []messageView `json:"messages"`
	Suggestions []string      `json:"suggestions"`
	Busy        bool          `json:"busy"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(indexHTML)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	s.writeState(w, http.StatusOK)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	limit := s.cfg.MaxUploadBytes
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartAllowance)
	part, err := filePart(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, errors.New("expected a multipart form with a \"file\" field"))
		return
	}
	defer part.Close()
	name := part.FileName()

	// The upload is held in memory: an archive outlives the request while
	// its entries are pending.
	data, err := io.ReadAll(io.LimitReader(part, limit+1))
	if err != nil && !isMaxBytesError(err) {
		s.writeError(w, http.StatusBadRequest, &dataset.IOError{Name: name, Err: err})
		return
	}
	if err != nil || int64(len(data)) > limit {
		tooBig := &dataset.SizeLimitError{Name: name, Size: max(r.ContentLength, int64(len(data))), Limit: limit}
		s.app.Reject(name, tooBig)
		s.writeAppError(w, tooBig)
		return
	}
	if err := s.app.Upload(r.Context(), name, bytes.NewReader(data), int64(len(data))); err != nil {
		s.writeAppError(w, err)
		return
	}
	s.writeState(w, http.StatusOK)
}

// filePart returns the "file" part of a multipart request, skipping any
// fields sent before it.
func filePart(r *http.Request) (*multipart.Part, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, err
	}
	for {
		p, err := mr.NextPart()
		if err != nil {
			return nil, err
		}
		if p.FormName() == "file" && p.FileName() != "" {
			return p, nil
		}
		_ = p.Close()
	}
}

func (s *Server) handleSelectEntry(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(w, r, jsonBodyLimit, &req); err != nil || req.Name == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("expected a JSON body with an entry \"name\""))
		return
	}
	if err := s.app.SelectEntry(r.Context(), req.Name); err != nil {
		s.writeAppError(w, err)
		return
	}
	s.writeState(w, http.StatusOK)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	s.app.Clear()
	s.writeState(w, http.StatusOK)
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Prompt string `json:"prompt"`
	}
	if err := decodeJSON(w, r, jsonBodyLimit, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, errors.New("expected a JSON body with a \"prompt\""))
		return
	}
	if err := s.app.Ask(r.Context(), req.Prompt); err != nil {
		s.writeAppError(w, err)
		return
	}
	s.writeState(w, http.StatusOK)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var req struct {
		HTML string `json:"html"`
	}
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, exportBodyLimit, &req); err != nil && !errors.Is(err, io.EOF) {
			s.writeError(w, http.StatusBadRequest, errors.New("expected a JSON body with the rendered \"html\""))
			return
		}
	}
	doc, err := s.app.Export([]byte(req.HTML))
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": doc.Filename}))
	w.Header().Set("Content-Length", strconv.Itoa(len(doc.HTML)))
	_, _ = w.Write(doc.HTML)
}

func (s *Server) writeState(w http.ResponseWriter, status int) {
	st := s.app.Snapshot()
	resp := stateResponse{
		Dataset:     st.Dataset,
		Archive:     st.Archive,
		Pending:     st.Pending,
		SessionID:   st.Conversation.SessionID,
		Messages:    make([]messageView, 0, len(st.Conversation.Messages)),
		Suggestions: st.Conversation.Suggestions,
		Busy:        st.Busy,
	}
	if resp.Pending == nil {
		resp.Pending = []string{}
	}
	if resp.Suggestions == nil {
		resp.Suggestions = []string{}
	}
	charts := 0
	for _, m := range st.Conversation.Messages {
		h, n, err := s.app.Renderer().Message(m, charts)
		if err != nil {
			s.log.Error("render message", zap.String("message_id", m.ID), zap.Error(err))
			s.writeError(w, http.StatusInternalServerError, errors.New("could not render the conversation"))
			return
		}
		charts += n
		resp.Messages = append(resp.Messages, messageView{ID: m.ID, Role: m.Role, HTML: h})
	}
	writeJSON(w, status, resp)
}

// writeAppError maps workflow errors to status codes. Load and analysis
// failures are already part of the conversation; the body still carries the
// plain-language message.
func (s *Server) writeAppError(w http.ResponseWriter, err error) {
	var (
		sizeErr   *dataset.SizeLimitError
		formatErr *dataset.FormatError
		unsupErr  *dataset.UnsupportedFormatError
		oracleErr *chat.OracleError
	)
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &sizeErr):
		status = http.StatusRequestEntityTooLarge
	case errors.As(err, &formatErr), errors.As(err, &unsupErr):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, dataset.ErrEntryNotFound):
		status = http.StatusNotFound
	case errors.Is(err, chat.ErrBusy), errors.Is(err, chat.ErrStaleResponse):
		status = http.StatusConflict
	case errors.Is(err, app.ErrNoDataset), errors.Is(err, app.ErrNoArchive),
		errors.Is(err, app.ErrNothingToExport), errors.Is(err, chat.ErrNoSession):
		status = http.StatusBadRequest
	case errors.As(err, &oracleErr):
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", zap.Error(err))
	}
	s.writeError(w, status, err)
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	return json.NewDecoder(r.Body).Decode(v)
}

func isMaxBytesError(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}
