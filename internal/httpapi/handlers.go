package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/yuin/goldmark"

	"podcastrag/internal/domain"
	rerrors "podcastrag/internal/errors"
	"podcastrag/internal/service"
	"podcastrag/internal/session"
)

const maxBodyBytes = 1 << 20

type queryRequest struct {
	Question       string `json:"question"`
	SessionID      string `json:"session_id"`
	TopK           int    `json:"top_k"`
	Diversity      *bool  `json:"diversity"`
	GuestFilter    string `json:"guest_filter"`
	IndustryFilter string `json:"industry_filter"`
	Stateless      bool   `json:"stateless"`
}

type queryResponse struct {
	SessionID  string                      `json:"session_id,omitempty"`
	Answer     string                      `json:"answer"`
	AnswerHTML string                      `json:"answer_html"`
	Sources    []domain.RetrievalCandidate `json:"sources"`
	Query      domain.ProcessedQuery       `json:"query"`
	Model      string                      `json:"model"`
}

type historyResponse struct {
	SessionID string                     `json:"session_id"`
	Turns     []domain.Message           `json:"turns"`
	Context   domain.ConversationContext `json:"context"`
}

type errorBody struct {
	Code    rerrors.ErrorCode `json:"code"`
	Message string            `json:"message"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	st := Stats{Embedder: s.deps.Embedder, Model: s.deps.Model, ActiveSessions: s.sessions.count()}
	if s.deps.Episodes != nil {
		eps, err := s.deps.Episodes.ListEpisodes(ctx)
		if err != nil {
			s.writeError(w, rerrors.NewInternal(err))
			return
		}
		guests := make([]string, 0, len(eps))
		for _, ep := range eps {
			guests = append(guests, ep.Guest)
		}
		st.Episodes = len(eps)
		st.Guests = len(domain.UniqueStrings(guests))
	}
	if s.deps.Vectors != nil {
		n, err := s.deps.Vectors.Count(ctx)
		if err != nil {
			s.writeError(w, rerrors.NewRetrievalUnavailable("count vectors", err))
			return
		}
		st.Chunks = n
	}
	writeJSON(w, http.StatusOK, st)
}

// decodeQuery parses the body and resolves the session the query belongs to.
func (s *Server) decodeQuery(w http.ResponseWriter, r *http.Request) (queryRequest, *liveSession, service.Request, error) {
	var body queryRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		return body, nil, service.Request{}, rerrors.NewInvalidRequest(fmt.Sprintf("invalid JSON body: %v", err))
	}
	if body.SessionID == "" && !body.Stateless {
		body.SessionID = session.NewID()
	}
	if body.Stateless {
		body.SessionID = ""
	}

	var conv *liveSession
	if body.Stateless {
		conv = &liveSession{svc: s.deps.NewSession()}
	} else {
		c, err := s.sessions.get(r.Context(), body.SessionID)
		if err != nil {
			return body, nil, service.Request{}, err
		}
		conv = c
	}

	req := conv.svc.DefaultRequest(body.Question)
	if body.TopK > 0 {
		req.TopK = body.TopK
	}
	if body.Diversity != nil {
		req.Diversity = *body.Diversity
	}
	req.GuestFilter = body.GuestFilter
	req.IndustryFilter = body.IndustryFilter
	req.Stateless = body.Stateless
	return body, conv, req, nil
}

func (s *Server) query(w http.ResponseWriter, r *http.Request) {
	body, conv, req, err := s.decodeQuery(w, r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	conv.mu.Lock()
	defer conv.mu.Unlock()

	resp, err := conv.svc.Answer(r.Context(), req)
	s.persist(r.Context(), body.SessionID, conv, err)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, queryResponse{
		SessionID:  body.SessionID,
		Answer:     resp.Answer,
		AnswerHTML: renderMarkdown(resp.Answer),
		Sources:    resp.Sources,
		Query:      resp.Query,
		Model:      resp.Model,
	})
}

// queryStream answers as server-sent events: text increments, then sources and done,
// or a single error event.
func (s *Server) queryStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, rerrors.NewInternal(fmt.Errorf("streaming unsupported")))
		return
	}
	body, conv, req, err := s.decodeQuery(w, r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	conv.mu.Lock()
	defer conv.mu.Unlock()

	st, err := conv.svc.Stream(r.Context(), req)
	if err != nil {
		s.persist(r.Context(), body.SessionID, conv, err)
		s.writeError(w, err)
		return
	}
	defer st.Cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for tok := range st.Tokens() {
		if err := writeEvent(w, "text", map[string]string{"content": tok}); err != nil {
			st.Cancel()
			break
		}
		flusher.Flush()
	}
	answer, err := st.Wait()
	s.persist(r.Context(), body.SessionID, conv, err)
	if err != nil {
		if r.Context().Err() == nil {
			writeEvent(w, "error", errorOf(err))
			flusher.Flush()
		}
		return
	}
	writeEvent(w, "sources", st.Sources())
	writeEvent(w, "done", map[string]string{
		"session_id":  body.SessionID,
		"answer_html": renderMarkdown(answer),
	})
	flusher.Flush()
}

// persist saves the session after a query that changed its history. A failed
// generation still recorded the question.
func (s *Server) persist(ctx context.Context, id string, conv *liveSession, queryErr error) {
	if id == "" {
		return
	}
	if queryErr != nil && !rerrors.Is(queryErr, rerrors.ErrGenerationFailure) {
		return
	}
	if err := s.sessions.save(context.WithoutCancel(ctx), id, conv); err != nil {
		s.log.Warn("session not saved", logrus.Fields{"session": id, "error": err.Error()})
	}
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !session.ValidID(id) {
		s.writeError(w, rerrors.NewInvalidRequest("invalid session id: "+id))
		return
	}
	resp, err := s.sessions.history(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) clearHistory(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !session.ValidID(id) {
		s.writeError(w, rerrors.NewInvalidRequest("invalid session id: "+id))
		return
	}
	if err := s.sessions.clear(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := rerrors.StatusOf(err)
	if status >= 500 {
		s.log.Error("request failed", logrus.Fields{"error": err.Error()})
	}
	writeJSON(w, status, map[string]errorBody{"error": errorOf(err)})
}

func errorOf(err error) errorBody {
	rErr, ok := rerrors.As(err)
	if !ok {
		rErr = rerrors.NewInternal(err)
	}
	return errorBody{Code: rErr.Code, Message: rErr.Message}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeEvent(w http.ResponseWriter, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

// renderMarkdown converts an answer to HTML, falling back to the escaped text.
func renderMarkdown(md string) string {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return html.EscapeString(md)
	}
	return buf.String()
}
