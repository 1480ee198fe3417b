package rag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/auralis/auralis/internal/db"
)

// Common errors.
var (
	// ErrInvalidAnswer is returned when the model's reply does not satisfy
	// the answer contract.
	ErrInvalidAnswer = errors.New("invalid model answer")

	// ErrUnsafeQuery is returned when the generated SQL is anything other
	// than a single SELECT.
	ErrUnsafeQuery = errors.New("generated query is not a SELECT")

	// ErrNoResults is returned when the generated query matched nothing.
	ErrNoResults = errors.New("no results for question")
)

// retrievalTypes are the summary types eligible for context retrieval. The
// rolling daily and weekly reports are excluded; their content overlaps the
// monthly documents and churns too fast to be stable context.
var retrievalTypes = []string{
	db.SummaryMonthly,
	db.SummaryMonthlyStructured,
	db.SummaryHourlyPatterns,
	db.SummaryTopTracksGlobal,
}

const retrievalLimit = 10

// TrackStat is one ranked track in an answer.
type TrackStat struct {
	Title  string `json:"title"`
	Artist string `json:"artist"`
	Genre  string `json:"genre"`
	Count  int    `json:"count"`
}

// GenreStat is one genre share in an answer.
type GenreStat struct {
	Name       string  `json:"name"`
	Percentage float64 `json:"percentage"`
}

// Answer is the structured reply returned to the caller. TopTracks, Genres
// and Period are optional as a group: a simple answer carries only the
// summary, a detailed one carries all of them.
type Answer struct {
	Summary   string      `json:"summary"`
	TopTracks []TrackStat `json:"topTracks,omitempty"`
	Genres    []GenreStat `json:"genres,omitempty"`
	Period    string      `json:"period,omitempty"`
}

// DocumentSearcher retrieves the documents nearest a query embedding.
type DocumentSearcher interface {
	Nearest(ctx context.Context, userID uuid.UUID, embedding []float32, summaryTypes []string, k int) ([]db.Document, error)
}

// Completer runs a chat completion.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// SQLRunner executes a validated read-only query.
type SQLRunner interface {
	QueryRows(ctx context.Context, query string) ([]map[string]any, error)
}

const answerSystemPrompt = `You are a music analytics assistant. You answer questions about the user's listening history using ONLY the context documents provided.

Reply with a single JSON object and nothing else. Two formats are allowed:

Simple answer:
{"summary": "..."}

Detailed answer (when the question asks for rankings or statistics):
{"summary": "...", "topTracks": [{"title": "...", "artist": "...", "genre": "...", "count": 12}], "genres": [{"name": "...", "percentage": 42.5}], "period": "..."}

Rules:
- "summary" is always required.
- If you include "topTracks" you must include "period".
- If you include "genres" you must include "topTracks" and "period".
- Use only facts from the context. If the context does not answer the question, say so in the summary.`

// sqlSchema is the read-only schema description handed to the model on the
// SQL answer path.
const sqlSchema = `CREATE TABLE listening_history (
    user_id uuid NOT NULL,
    track_id text NOT NULL,
    played_at timestamptz NOT NULL
);
CREATE TABLE tracks (
    id text PRIMARY KEY,
    name text NOT NULL,
    album_id text,
    duration_ms integer NOT NULL
);
CREATE TABLE albums (
    id text PRIMARY KEY,
    name text NOT NULL
);
CREATE TABLE artists (
    id text PRIMARY KEY,
    name text NOT NULL
);
CREATE TABLE track_artists (
    track_id text NOT NULL,
    artist_id text NOT NULL
);
CREATE TABLE track_genres (
    track_id text NOT NULL,
    genre text NOT NULL
);`

// AnswerService answers questions about a user's listening history, either
// from retrieved documents or through a generated read-only SQL query.
type AnswerService struct {
	embedder Embedder
	docs     DocumentSearcher
	llm      Completer
	sql      SQLRunner
	log      zerolog.Logger
}

// NewAnswerService creates an AnswerService.
func NewAnswerService(embedder Embedder, docs DocumentSearcher, llm Completer, sql SQLRunner, log zerolog.Logger) *AnswerService {
	return &AnswerService{
		embedder: embedder,
		docs:     docs,
		llm:      llm,
		sql:      sql,
		log:      log.With().Str("component", "rag_answer").Logger(),
	}
}

// Answer embeds the question, retrieves the nearest documents and asks the
// model for a structured reply grounded in them.
func (s *AnswerService) Answer(ctx context.Context, userID uuid.UUID, question string) (*Answer, error) {
	embedding, err := s.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embedding question: %w", err)
	}

	docs, err := s.docs.Nearest(ctx, userID, embedding, retrievalTypes, retrievalLimit)
	if err != nil {
		return nil, fmt.Errorf("retrieving context: %w", err)
	}

	contents := make([]string, len(docs))
	for i, doc := range docs {
		contents[i] = doc.Content
	}
	user := fmt.Sprintf("Context documents:\n---\n%s\n---\n\nQuestion: %s",
		strings.Join(contents, "\n\n"), question)

	raw, err := s.llm.Complete(ctx, answerSystemPrompt, user)
	if err != nil {
		return nil, fmt.Errorf("asking model: %w", err)
	}

	cleaned := cleanJSONResponse(raw)
	var answer Answer
	if err := json.Unmarshal([]byte(cleaned), &answer); err != nil {
		s.log.Warn().Str("raw", raw).Msg("model reply is not valid JSON")
		return nil, fmt.Errorf("%w: parsing reply: %v", ErrInvalidAnswer, err)
	}
	if err := validateAnswer(&answer); err != nil {
		return nil, err
	}
	return &answer, nil
}

// AnswerWithSQL asks the model to generate a SELECT over the listening
// schema, runs it, and wraps the rows in a short summary.
func (s *AnswerService) AnswerWithSQL(ctx context.Context, userID uuid.UUID, question string) (*Answer, error) {
	prompt := fmt.Sprintf(`You are a PostgreSQL expert. Generate ONE SQL query answering the user's question.

Requirements:
- Join listening_history with tracks, and tracks with track_artists plus artists for artist names.
- Join tracks with track_genres for genres and with albums for the album name.
- Count plays with COUNT(*) AS listen_count.
- Include every non-aggregated column in GROUP BY.
- Filter on the user with user_id = '%s'.
- If the question names a genre, artist or time period, add a matching WHERE clause (for example AND tg.genre ILIKE '%%pop%%').

Output raw SQL only, no markdown, no explanations.

Reference schema:
---
%s
---
Question: %s`, userID, sqlSchema, question)

	raw, err := s.llm.Complete(ctx, "You translate questions into PostgreSQL queries.", prompt)
	if err != nil {
		return nil, fmt.Errorf("generating query: %w", err)
	}

	query := cleanSQLResponse(raw)
	if !isSelect(query) {
		s.log.Warn().Str("query", query).Msg("rejected generated query")
		return nil, ErrUnsafeQuery
	}

	rows, err := s.sql.QueryRows(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("running generated query: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrNoResults
	}

	tracks := make([]TrackStat, len(rows))
	for i, row := range rows {
		tracks[i] = TrackStat{
			Title:  stringColumn(row, "name", "track_name", "title"),
			Artist: stringColumn(row, "artist_name", "artist"),
			Genre:  stringColumn(row, "genres", "genre"),
			Count:  intColumn(row, "listen_count", "count"),
		}
	}

	summary, err := s.llm.Complete(ctx,
		"You write short friendly one-liners.",
		"Write a short, friendly introduction sentence for a list of a user's favourite tracks.")
	if err != nil {
		return nil, fmt.Errorf("summarizing results: %w", err)
	}

	return &Answer{Summary: strings.TrimSpace(summary), TopTracks: tracks}, nil
}

var (
	trailingCommaObject = regexp.MustCompile(`,\s*}`)
	trailingCommaArray  = regexp.MustCompile(`,\s*]`)
)

// cleanJSONResponse strips the decoration models wrap around JSON: leading
// and trailing prose or code fences, and trailing commas.
func cleanJSONResponse(raw string) string {
	cleaned := strings.TrimSpace(raw)
	cleaned = trailingCommaObject.ReplaceAllString(cleaned, "}")
	cleaned = trailingCommaArray.ReplaceAllString(cleaned, "]")

	if !strings.HasPrefix(cleaned, "{") {
		if i := strings.Index(cleaned, "{"); i != -1 {
			cleaned = cleaned[i:]
		}
	}
	if !strings.HasSuffix(cleaned, "}") {
		if i := strings.LastIndex(cleaned, "}"); i != -1 {
			cleaned = cleaned[:i+1]
		}
	}
	return cleaned
}

// cleanSQLResponse strips markdown fences and language tags from a generated
// query.
func cleanSQLResponse(raw string) string {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.ReplaceAll(cleaned, "`", "")
	lower := strings.ToLower(cleaned)
	if strings.HasPrefix(lower, "sql") {
		cleaned = strings.TrimSpace(cleaned[3:])
	}
	return strings.TrimSpace(cleaned)
}

func isSelect(query string) bool {
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(query)), "SELECT")
}

// validateAnswer enforces the consistency rules between the optional answer
// fields.
func validateAnswer(a *Answer) error {
	if a.Summary == "" {
		return fmt.Errorf("%w: summary is missing", ErrInvalidAnswer)
	}
	if a.TopTracks != nil {
		if a.Period == "" {
			return fmt.Errorf("%w: topTracks present but period is missing", ErrInvalidAnswer)
		}
		if len(a.TopTracks) == 0 && len(a.Genres) == 0 {
			return fmt.Errorf("%w: detailed format with empty fields", ErrInvalidAnswer)
		}
	}
	if a.Genres != nil && (a.TopTracks == nil || a.Period == "") {
		return fmt.Errorf("%w: genres present but topTracks or period missing", ErrInvalidAnswer)
	}
	if a.Period != "" && a.TopTracks == nil {
		return fmt.Errorf("%w: period present but topTracks missing", ErrInvalidAnswer)
	}
	return nil
}

func stringColumn(row map[string]any, names ...string) string {
	for _, name := range names {
		if v, ok := row[name]; ok && v != nil {
			return fmt.Sprintf("%v", v)
		}
	}
	return "Unknown"
}

func intColumn(row map[string]any, names ...string) int {
	for _, name := range names {
		v, ok := row[name]
		if !ok || v == nil {
			continue
		}
		switch n := v.(type) {
		case int:
			return n
		case int32:
			return int(n)
		case int64:
			return int(n)
		case float64:
			return int(n)
		default:
			if parsed, err := strconv.Atoi(fmt.Sprintf("%v", v)); err == nil {
				return parsed
			}
		}
	}
	return 0
}
