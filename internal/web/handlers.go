package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/auralis/auralis/internal/analytics"
	"github.com/auralis/auralis/internal/auth"
	"github.com/auralis/auralis/internal/db"
	"github.com/auralis/auralis/internal/rag"
)

// UserResolver maps an incoming request to a user. The real authentication
// layer lives in front of this service; it identifies callers and this
// interface is where its verdict enters.
type UserResolver interface {
	Resolve(r *http.Request) (*db.User, error)
}

// ErrUnidentified is returned by resolvers when the request carries no
// usable identity.
var ErrUnidentified = errors.New("request has no user identity")

// UserStore is the lookup surface EmailHeaderResolver needs.
type UserStore interface {
	GetByEmail(ctx context.Context, email string) (*db.User, error)
}

// EmailHeaderResolver resolves users from the X-User-Email header set by the
// upstream proxy.
type EmailHeaderResolver struct {
	Users UserStore
}

// Resolve implements UserResolver.
func (r *EmailHeaderResolver) Resolve(req *http.Request) (*db.User, error) {
	email := req.Header.Get("X-User-Email")
	if email == "" {
		return nil, ErrUnidentified
	}
	user, err := r.Users.GetByEmail(req.Context(), email)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrUnidentified
	}
	return user, err
}

// Syncer triggers a sync for one user.
type Syncer interface {
	SyncRecentlyPlayed(ctx context.Context, userID uuid.UUID) (int, error)
}

// Answerer answers listening questions.
type Answerer interface {
	Answer(ctx context.Context, userID uuid.UUID, question string) (*rag.Answer, error)
	AnswerWithSQL(ctx context.Context, userID uuid.UUID, question string) (*rag.Answer, error)
}

// Analytics serves rankings.
type Analytics interface {
	TopArtists(ctx context.Context, userID uuid.UUID, timeRange string, limit int) ([]db.CachedTopArtist, error)
	TopTracks(ctx context.Context, userID uuid.UUID, period string, limit int) ([]db.TrackPlayCount, error)
}

// Handlers holds the HTTP handlers and their collaborators.
type Handlers struct {
	resolver  UserResolver
	auth      *auth.Authenticator
	states    *StateStore
	syncer    Syncer
	answers   Answerer
	analytics Analytics
	log       zerolog.Logger
}

// NewHandlers creates the handler set.
func NewHandlers(resolver UserResolver, authenticator *auth.Authenticator, syncer Syncer, answers Answerer, analyticsService Analytics, log zerolog.Logger) *Handlers {
	return &Handlers{
		resolver:  resolver,
		auth:      authenticator,
		states:    NewStateStore(),
		syncer:    syncer,
		answers:   answers,
		analytics: analyticsService,
		log:       log.With().Str("component", "handlers").Logger(),
	}
}

// Health reports liveness.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Login starts the Spotify link flow with a redirect to the consent page.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}

	state, err := auth.GenerateState()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.states.Put(state, user.ID)
	http.Redirect(w, r, h.auth.AuthURL(state), http.StatusFound)
}

// Callback finishes the link flow: state check, code exchange, profile fetch
// and account persistence.
func (h *Handlers) Callback(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	userID, ok := h.states.Take(state)
	if !ok {
		respondError(w, http.StatusBadRequest, "unknown or expired state")
		return
	}

	token, err := h.auth.Exchange(r.Context(), state, r)
	if err != nil {
		if errors.Is(err, auth.ErrStateMismatch) {
			respondError(w, http.StatusBadRequest, "state mismatch")
			return
		}
		h.fail(w, r, err)
		return
	}

	account, err := h.auth.Link(r.Context(), userID, token)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"linked":          true,
		"spotify_user_id": account.SpotifyUserID,
		"display_name":    account.DisplayName,
	})
}

// Status reports whether the caller has a linked account.
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}

	account, err := h.auth.Status(r.Context(), user.ID)
	if errors.Is(err, auth.ErrNotLinked) {
		respondJSON(w, http.StatusOK, map[string]any{"linked": false})
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"linked":          account.Linked(),
		"spotify_user_id": account.SpotifyUserID,
		"display_name":    account.DisplayName,
		"last_sync_at":    account.LastSyncAt,
	})
}

// Unlink removes the caller's account link.
func (h *Handlers) Unlink(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}

	if err := h.auth.Unlink(r.Context(), user.ID); err != nil {
		if errors.Is(err, auth.ErrNotLinked) {
			respondError(w, http.StatusNotFound, "no linked account")
			return
		}
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"linked": false})
}

// Sync triggers an immediate sync for the caller.
func (h *Handlers) Sync(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}

	count, err := h.syncer.SyncRecentlyPlayed(r.Context(), user.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"new_entries": count})
}

type askRequest struct {
	Question string `json:"question"`
}

// Ask answers a question from retrieved documents.
func (h *Handlers) Ask(w http.ResponseWriter, r *http.Request) {
	h.ask(w, r, h.answers.Answer)
}

// AskWithSQL answers a question through a generated read-only query.
func (h *Handlers) AskWithSQL(w http.ResponseWriter, r *http.Request) {
	h.ask(w, r, h.answers.AnswerWithSQL)
}

func (h *Handlers) ask(w http.ResponseWriter, r *http.Request, answer func(context.Context, uuid.UUID, string) (*rag.Answer, error)) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}

	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Question == "" {
		respondError(w, http.StatusBadRequest, "question is required")
		return
	}

	result, err := answer(r.Context(), user.ID, req.Question)
	if err != nil {
		switch {
		case errors.Is(err, rag.ErrInvalidAnswer), errors.Is(err, rag.ErrUnsafeQuery):
			respondError(w, http.StatusBadGateway, "model produced an unusable answer")
		case errors.Is(err, rag.ErrNoResults):
			respondError(w, http.StatusNotFound, "nothing matched your question")
		default:
			h.fail(w, r, err)
		}
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// TopArtists serves the cached top-artist ranking.
func (h *Handlers) TopArtists(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}

	timeRange := r.URL.Query().Get("time_range")
	if timeRange == "" {
		timeRange = "medium_term"
	}
	limit := queryLimit(r, 20)

	ranking, err := h.analytics.TopArtists(r.Context(), user.ID, timeRange, limit)
	if err != nil {
		if errors.Is(err, analytics.ErrUnavailable) {
			respondError(w, http.StatusServiceUnavailable, "ranking unavailable")
			return
		}
		h.fail(w, r, err)
		return
	}

	type artistItem struct {
		ArtistID string  `json:"artist_id"`
		Name     string  `json:"name"`
		ImageURL *string `json:"image_url,omitempty"`
		Rank     int     `json:"rank"`
	}
	items := make([]artistItem, len(ranking))
	for i, a := range ranking {
		items[i] = artistItem{ArtistID: a.ArtistID, Name: a.ArtistName, ImageURL: a.ImageURL, Rank: a.Rank}
	}
	respondJSON(w, http.StatusOK, map[string]any{"time_range": timeRange, "artists": items})
}

// TopTracks serves the play-count ranking from the ledger.
func (h *Handlers) TopTracks(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}

	period := r.URL.Query().Get("period")
	limit := queryLimit(r, 20)

	tracks, err := h.analytics.TopTracks(r.Context(), user.ID, period, limit)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	type trackItem struct {
		TrackID   string `json:"track_id"`
		Name      string `json:"name"`
		Artist    string `json:"artist"`
		PlayCount int    `json:"play_count"`
	}
	items := make([]trackItem, len(tracks))
	for i, t := range tracks {
		items[i] = trackItem{TrackID: t.TrackID, Name: t.TrackName, Artist: t.ArtistName, PlayCount: t.PlayCount}
	}
	respondJSON(w, http.StatusOK, map[string]any{"period": period, "tracks": items})
}

func (h *Handlers) user(w http.ResponseWriter, r *http.Request) (*db.User, bool) {
	user, err := h.resolver.Resolve(r)
	if errors.Is(err, ErrUnidentified) {
		respondError(w, http.StatusUnauthorized, "unidentified request")
		return nil, false
	}
	if err != nil {
		h.fail(w, r, err)
		return nil, false
	}
	return user, true
}

func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	h.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	respondError(w, http.StatusInternalServerError, "internal error")
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func queryLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 || limit > 50 {
		return fallback
	}
	return limit
}
