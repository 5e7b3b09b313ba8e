package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"quizzify/internal/models"
)

const maxUploadBytes = 32 << 20

// QuizBuilder is the pipeline entry point the API drives
type QuizBuilder interface {
	BuildQuiz(ctx context.Context, topic string, count int, docs []models.Document) (*models.QuizBank, error)
}

// Server exposes quiz building and navigation over HTTP
type Server struct {
	builder      QuizBuilder
	sessions     *Sessions
	defaultCount int
}

type Option func(*Server)

// WithSessionTTL sets how long an untouched session is kept
func WithSessionTTL(d time.Duration) Option {
	return func(s *Server) { s.sessions = NewSessions(d) }
}

func New(builder QuizBuilder, defaultCount int, opts ...Option) *Server {
	s := &Server{builder: builder, sessions: NewSessions(DefaultSessionTTL), defaultCount: defaultCount}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// questionView is the current question without its answer
type questionView struct {
	ID       string          `json:"id"`
	Topic    string          `json:"topic"`
	Index    int             `json:"index"`
	Total    int             `json:"total"`
	Question string          `json:"question"`
	Choices  []models.Choice `json:"choices"`
	Selected string          `json:"selected,omitempty"`
}

type answerResult struct {
	Correct     bool         `json:"correct"`
	Answer      string       `json:"answer"`
	Explanation string       `json:"explanation"`
	Current     questionView `json:"current"`
}

type advanceRequest struct {
	Direction int `json:"direction"`
}

type answerRequest struct {
	Key string `json:"key"`
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/healthz", s.handleHealth)
	r.Route("/quizzes", func(r chi.Router) {
		r.Post("/", s.handleCreate)
		r.Get("/{id}", s.handleCurrent)
		r.Post("/{id}/advance", s.handleAdvance)
		r.Post("/{id}/answer", s.handleAnswer)
		r.Delete("/{id}", s.handleDelete)
	})
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("Request served")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "expected a multipart form with files")
		return
	}

	count := s.defaultCount
	if raw := strings.TrimSpace(r.FormValue("count")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "count must be an integer")
			return
		}
		count = n
	}

	var docs []models.Document
	for _, fh := range r.MultipartForm.File["files"] {
		f, err := fh.Open()
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		docs = append(docs, models.Document{Name: fh.Filename, Data: data})
	}

	bank, err := s.builder.BuildQuiz(r.Context(), r.FormValue("topic"), count, docs)
	if err != nil {
		log.Error().Err(err).Int("documents", len(docs)).Msg("Failed to build quiz")
		writeError(w, statusFor(err), models.Describe(err))
		return
	}

	id, err := s.sessions.Create(bank)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	var view questionView
	s.sessions.With(id, func(sess *session) { view = viewOf(id, sess) })
	writeJSON(w, http.StatusCreated, view)
}

func (s *Server) handleCurrent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var view questionView
	if !s.sessions.With(id, func(sess *session) { view = viewOf(id, sess) }) {
		writeError(w, http.StatusNotFound, "quiz not found")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req advanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var view questionView
	found := s.sessions.With(id, func(sess *session) {
		sess.nav.Advance(req.Direction)
		view = viewOf(id, sess)
	})
	if !found {
		writeError(w, http.StatusNotFound, "quiz not found")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Key == "" {
		writeError(w, http.StatusBadRequest, "a choice key is required")
		return
	}

	var result answerResult
	found := s.sessions.With(id, func(sess *session) {
		q := sess.nav.Current()
		sess.answers[sess.nav.Index()] = req.Key
		result = answerResult{
			Correct:     sess.nav.Evaluate(req.Key),
			Answer:      q.Answer,
			Explanation: q.Explanation,
			Current:     viewOf(id, sess),
		}
	})
	if !found {
		writeError(w, http.StatusNotFound, "quiz not found")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if !s.sessions.Delete(chi.URLParam(r, "id")) {
		writeError(w, http.StatusNotFound, "quiz not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func viewOf(id string, sess *session) questionView {
	q := sess.nav.Current()
	return questionView{
		ID:       id,
		Topic:    sess.nav.Bank().Topic,
		Index:    sess.nav.Index(),
		Total:    sess.nav.Len(),
		Question: q.Question,
		Choices:  q.Choices,
		Selected: sess.answers[sess.nav.Index()],
	}
}

// statusFor maps pipeline errors to HTTP statuses
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidCount),
		errors.Is(err, models.ErrEmptyInput),
		errors.Is(err, models.ErrUnsupportedFormat):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrEmptyIndex), errors.Is(err, models.ErrIndexNotBuilt):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrGenerationTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, models.ErrGenerationSchema), errors.Is(err, models.ErrInsufficientUniqueQuestions):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// ListenAndServe runs the API until ctx is cancelled
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go s.sessions.Expire(ctx, max(s.sessions.ttl/4, time.Second))

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("Listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
