package enrich

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/orbitfeed/orbitfeed/internal/metrics"
	"github.com/orbitfeed/orbitfeed/internal/pipeline"
)

func init() {
	metrics.Init()
}

type fakeCondenser struct {
	fn             func(text string) (string, error)
	gotMin, gotMax int
}

func (f *fakeCondenser) Condense(_ context.Context, text string, min, max int) (string, error) {
	f.gotMin, f.gotMax = min, max
	return f.fn(text)
}

type fakeTranslator struct {
	fn func(text string) (string, error)
}

func (f *fakeTranslator) Translate(_ context.Context, text, _, _ string) (string, error) {
	return f.fn(text)
}

type fakeStore struct {
	raws     []pipeline.RawArticle
	rules    []pipeline.TagRule
	inserted []pipeline.EnrichedArticle
}

func (f *fakeStore) ListUnenriched(context.Context) ([]pipeline.RawArticle, error) {
	return f.raws, nil
}

func (f *fakeStore) ListEnabledRules(context.Context) ([]pipeline.TagRule, error) {
	return f.rules, nil
}

func (f *fakeStore) InsertEnriched(_ context.Context, a pipeline.EnrichedArticle) (bool, error) {
	f.inserted = append(f.inserted, a)
	return true, nil
}

func newTestEngine(c pipeline.Condenser, tr pipeline.Translator) *Engine {
	return NewEngine(EngineConfig{
		ChunkWords: 5,
		MinWords:   4,
		SummaryMin: 2,
		SummaryMax: 10,
		SourceLang: "en",
		TargetLang: "fa",
	}, c, tr, zap.NewNop())
}

func TestTaggerEligibility(t *testing.T) {
	tagger := NewTagger([]string{"rocket", "crew"})
	rules := []pipeline.TagRule{{Pattern: "starlink", Tag: "constellation"}}

	require.True(t, tagger.Eligible("The ROCKET lifted off.", nil))
	require.True(t, tagger.Eligible("another Starlink batch", rules))
	require.False(t, tagger.Eligible("quarterly earnings report", rules))
}

func TestTaggerExtractOrderAndDedup(t *testing.T) {
	tagger := NewTagger([]string{"rocket", "crew"})
	rules := []pipeline.TagRule{
		{Pattern: "starlink", Tag: "constellation"},
		{Pattern: "rocket engine", Tag: "rocket"}, // same tag as a keyword
	}

	tags := tagger.Extract("Crew aboard as the rocket engine fired; Starlink next.", rules)
	require.Equal(t, []string{"rocket", "crew", "constellation"}, tags)
}

func TestCondenseShortTextVerbatim(t *testing.T) {
	engine := newTestEngine(
		&fakeCondenser{fn: func(string) (string, error) { return "SUMMARY", nil }},
		&fakeTranslator{fn: func(s string) (string, error) { return s, nil }},
	)

	// three words, below the four-word threshold
	out := engine.Condense(context.Background(), "too short anyway")
	require.Equal(t, "too short anyway", out)
}

func TestCondenseChunksJoinInOrder(t *testing.T) {
	var chunks []string
	engine := newTestEngine(
		&fakeCondenser{fn: func(text string) (string, error) {
			chunks = append(chunks, text)
			return "S" + string(rune('0'+len(chunks))), nil
		}},
		&fakeTranslator{fn: func(s string) (string, error) { return s, nil }},
	)

	words := make([]string, 12)
	for i := range words {
		words[i] = "w"
	}
	out := engine.Condense(context.Background(), strings.Join(words, " "))

	require.Equal(t, "S1 S2 S3", out)
	require.Len(t, chunks, 3)
	require.Len(t, strings.Fields(chunks[0]), 5)
	require.Len(t, strings.Fields(chunks[2]), 2)
}

func TestCondenseFailedChunkFallsBackToRawText(t *testing.T) {
	calls := 0
	engine := newTestEngine(
		&fakeCondenser{fn: func(string) (string, error) {
			calls++
			if calls == 2 {
				return "", errors.New("model timeout")
			}
			return "OK", nil
		}},
		&fakeTranslator{fn: func(s string) (string, error) { return s, nil }},
	)

	out := engine.Condense(context.Background(), "a b c d e f g h i j")
	require.Equal(t, "OK f g h i j", out)
}

func TestCondensePassesSummaryRange(t *testing.T) {
	cond := &fakeCondenser{fn: func(string) (string, error) { return "S", nil }}
	engine := newTestEngine(
		cond,
		&fakeTranslator{fn: func(s string) (string, error) { return s, nil }},
	)

	engine.Condense(context.Background(), "one two three four five")

	// The summarizer gets the summary length range, not the verbatim threshold.
	require.Equal(t, 2, cond.gotMin)
	require.Equal(t, 10, cond.gotMax)
}

func TestExtractIgnoresDisabledRuleButKeepsStoredTags(t *testing.T) {
	tagger := NewTagger(nil)
	rules := []pipeline.TagRule{{Pattern: "starlink", Tag: "constellation"}}
	body := "Another Starlink batch reached orbit."

	stored := tagger.Extract(body, rules)
	require.Equal(t, []string{"constellation"}, stored)

	// Disabling the rule means later extractions no longer see it; rows
	// tagged while it was enabled keep their tags as stored.
	require.Empty(t, tagger.Extract(body, nil))
	require.Equal(t, []string{"constellation"}, stored)
}

func TestTranslateFailureDegradesToSource(t *testing.T) {
	engine := newTestEngine(
		&fakeCondenser{fn: func(s string) (string, error) { return s, nil }},
		&fakeTranslator{fn: func(string) (string, error) { return "", errors.New("down") }},
	)

	out := engine.Translate(context.Background(), "hello there")
	require.Equal(t, "hello there", out)
}

func TestFirstParagraphBlock(t *testing.T) {
	require.Equal(t, "lead para", FirstParagraphBlock("lead para\n\nsecond para"))
	require.Equal(t, "only line", FirstParagraphBlock("only line"))
	require.Equal(t, "first", FirstParagraphBlock("first\nsecond\nthird"))
}

func TestWorkerCommitsEligibleSkipsRest(t *testing.T) {
	store := &fakeStore{
		raws: []pipeline.RawArticle{
			{Title: "Launch", URL: "https://example.com/a", Body: "The rocket flew.\n\nMore detail.", Source: "example"},
			{Title: "Earnings", URL: "https://example.com/b", Body: "Quarterly results.", Source: "example"},
		},
		rules: []pipeline.TagRule{{Pattern: "rocket", Tag: "rocket"}},
	}

	engine := newTestEngine(
		&fakeCondenser{fn: func(s string) (string, error) { return s, nil }},
		&fakeTranslator{fn: func(string) (string, error) { return "متن", nil }},
	)
	w := NewWorker(WorkerConfig{
		FirstBlockOnly: map[string]bool{"example": true},
	}, store, engine, NewTagger(nil), zap.NewNop())

	require.NoError(t, w.RunOnce(context.Background()))

	require.Len(t, store.inserted, 1)
	got := store.inserted[0]
	require.Equal(t, "https://example.com/a", got.URL)
	require.Equal(t, "The rocket flew.", got.Body) // pre-trimmed
	require.Equal(t, "متن", got.Translated)
	require.Equal(t, []string{"rocket"}, got.Tags)
}
