package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auralis/auralis/internal/analytics"
	"github.com/auralis/auralis/internal/db"
	"github.com/auralis/auralis/internal/rag"
)

type fakeResolver struct {
	user *db.User
}

func (f *fakeResolver) Resolve(*http.Request) (*db.User, error) {
	if f.user == nil {
		return nil, ErrUnidentified
	}
	return f.user, nil
}

type fakeSyncTrigger struct {
	count int
	err   error
}

func (f *fakeSyncTrigger) SyncRecentlyPlayed(context.Context, uuid.UUID) (int, error) {
	return f.count, f.err
}

type fakeAnswerer struct {
	answer *rag.Answer
	err    error
	gotQ   string
}

func (f *fakeAnswerer) Answer(_ context.Context, _ uuid.UUID, question string) (*rag.Answer, error) {
	f.gotQ = question
	return f.answer, f.err
}

func (f *fakeAnswerer) AnswerWithSQL(_ context.Context, _ uuid.UUID, question string) (*rag.Answer, error) {
	f.gotQ = question
	return f.answer, f.err
}

type fakeAnalytics struct {
	artists  []db.CachedTopArtist
	tracks   []db.TrackPlayCount
	err      error
	gotRange string
	gotLimit int
}

func (f *fakeAnalytics) TopArtists(_ context.Context, _ uuid.UUID, timeRange string, limit int) ([]db.CachedTopArtist, error) {
	f.gotRange = timeRange
	f.gotLimit = limit
	return f.artists, f.err
}

func (f *fakeAnalytics) TopTracks(_ context.Context, _ uuid.UUID, period string, limit int) ([]db.TrackPlayCount, error) {
	f.gotLimit = limit
	return f.tracks, f.err
}

func testUser() *db.User {
	return &db.User{ID: uuid.New(), Email: "user@example.com"}
}

func newTestHandlers(resolver UserResolver, syncer Syncer, answers Answerer, analyticsService Analytics) *Handlers {
	return NewHandlers(resolver, nil, syncer, answers, analyticsService, zerolog.Nop())
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestUnidentifiedRequestIs401(t *testing.T) {
	h := newTestHandlers(&fakeResolver{}, &fakeSyncTrigger{}, &fakeAnswerer{}, &fakeAnalytics{})

	rec := httptest.NewRecorder()
	h.Sync(rec, httptest.NewRequest(http.MethodPost, "/api/sync", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unidentified request", decodeBody(t, rec)["error"])
}

func TestSyncReportsNewEntries(t *testing.T) {
	h := newTestHandlers(&fakeResolver{user: testUser()}, &fakeSyncTrigger{count: 7}, &fakeAnswerer{}, &fakeAnalytics{})

	rec := httptest.NewRecorder()
	h.Sync(rec, httptest.NewRequest(http.MethodPost, "/api/sync", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(7), decodeBody(t, rec)["new_entries"])
}

func TestAskReturnsAnswer(t *testing.T) {
	answers := &fakeAnswerer{answer: &rag.Answer{Summary: "mostly pop"}}
	h := newTestHandlers(&fakeResolver{user: testUser()}, &fakeSyncTrigger{}, answers, &fakeAnalytics{})

	req := httptest.NewRequest(http.MethodPost, "/api/rag/ask",
		strings.NewReader(`{"question": "what do I listen to?"}`))
	rec := httptest.NewRecorder()
	h.Ask(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "mostly pop", decodeBody(t, rec)["summary"])
	assert.Equal(t, "what do I listen to?", answers.gotQ)
}

func TestAskRequiresQuestion(t *testing.T) {
	h := newTestHandlers(&fakeResolver{user: testUser()}, &fakeSyncTrigger{}, &fakeAnswerer{}, &fakeAnalytics{})

	req := httptest.NewRequest(http.MethodPost, "/api/rag/ask", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	h.Ask(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAskErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"invalid answer", rag.ErrInvalidAnswer, http.StatusBadGateway},
		{"unsafe query", rag.ErrUnsafeQuery, http.StatusBadGateway},
		{"no results", rag.ErrNoResults, http.StatusNotFound},
		{"other failure", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandlers(&fakeResolver{user: testUser()}, &fakeSyncTrigger{},
				&fakeAnswerer{err: tt.err}, &fakeAnalytics{})

			req := httptest.NewRequest(http.MethodPost, "/api/rag/ask-v2",
				strings.NewReader(`{"question": "q"}`))
			rec := httptest.NewRecorder()
			h.AskWithSQL(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
		})
	}
}

func TestTopArtistsDefaultsAndLimit(t *testing.T) {
	img := "https://img.example/a.jpg"
	svc := &fakeAnalytics{artists: []db.CachedTopArtist{
		{ArtistID: "a1", ArtistName: "A", ImageURL: &img, Rank: 1},
	}}
	h := newTestHandlers(&fakeResolver{user: testUser()}, &fakeSyncTrigger{}, &fakeAnswerer{}, svc)

	rec := httptest.NewRecorder()
	h.TopArtists(rec, httptest.NewRequest(http.MethodGet, "/api/analytics/top-artists", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "medium_term", svc.gotRange)
	assert.Equal(t, 20, svc.gotLimit)

	body := decodeBody(t, rec)
	assert.Equal(t, "medium_term", body["time_range"])
	artists := body["artists"].([]any)
	require.Len(t, artists, 1)
	first := artists[0].(map[string]any)
	assert.Equal(t, "A", first["name"])
	assert.Equal(t, img, first["image_url"])
	assert.Equal(t, float64(1), first["rank"])
}

func TestTopArtistsUnavailableIs503(t *testing.T) {
	svc := &fakeAnalytics{err: analytics.ErrUnavailable}
	h := newTestHandlers(&fakeResolver{user: testUser()}, &fakeSyncTrigger{}, &fakeAnswerer{}, svc)

	rec := httptest.NewRecorder()
	h.TopArtists(rec, httptest.NewRequest(http.MethodGet, "/api/analytics/top-artists", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestTopTracksBadPeriodIs400(t *testing.T) {
	svc := &fakeAnalytics{err: errors.New(`unknown period "fortnight"`)}
	h := newTestHandlers(&fakeResolver{user: testUser()}, &fakeSyncTrigger{}, &fakeAnswerer{}, svc)

	rec := httptest.NewRecorder()
	h.TopTracks(rec, httptest.NewRequest(http.MethodGet, "/api/analytics/top-tracks?period=fortnight", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueryLimit(t *testing.T) {
	tests := []struct {
		raw  string
		want int
	}{
		{"", 20},
		{"10", 10},
		{"1", 1},
		{"50", 50},
		{"0", 20},
		{"51", 20},
		{"-3", 20},
		{"abc", 20},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/?limit="+tt.raw, nil)
		assert.Equal(t, tt.want, queryLimit(req, 20), "limit=%q", tt.raw)
	}
}

type staticUserStore struct {
	users map[string]*db.User
}

func (s *staticUserStore) GetByEmail(_ context.Context, email string) (*db.User, error) {
	user, ok := s.users[email]
	if !ok {
		return nil, db.ErrNotFound
	}
	return user, nil
}

func TestEmailHeaderResolver(t *testing.T) {
	known := testUser()
	resolver := &EmailHeaderResolver{Users: &staticUserStore{
		users: map[string]*db.User{known.Email: known},
	}}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-User-Email", known.Email)
	user, err := resolver.Resolve(req)
	require.NoError(t, err)
	assert.Equal(t, known.ID, user.ID)

	// No header and unknown email both resolve to no identity.
	_, err = resolver.Resolve(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.ErrorIs(t, err, ErrUnidentified)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-User-Email", "stranger@example.com")
	_, err = resolver.Resolve(req)
	assert.ErrorIs(t, err, ErrUnidentified)
}

func TestStateStoreSingleUse(t *testing.T) {
	store := NewStateStore()
	userID := uuid.New()
	store.Put("state-1", userID)

	got, ok := store.Take("state-1")
	require.True(t, ok)
	assert.Equal(t, userID, got)

	_, ok = store.Take("state-1")
	assert.False(t, ok)
}

func TestStateStoreUnknownState(t *testing.T) {
	store := NewStateStore()
	_, ok := store.Take("never-put")
	assert.False(t, ok)
}

func TestStateStoreExpiry(t *testing.T) {
	store := NewStateStore()
	store.entries["old"] = stateEntry{
		userID:  uuid.New(),
		expires: time.Now().Add(-time.Minute),
	}

	_, ok := store.Take("old")
	assert.False(t, ok)
}
