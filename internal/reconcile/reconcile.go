// Package reconcile runs the periodic tag-repair job: articles enriched
// before a rule existed get that rule's tag appended retroactively.
package reconcile

import (
	"context"
	"strings"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/orbitfeed/orbitfeed/internal/pipeline"
)

// Store is the slice of the content store the job needs.
type Store interface {
	ListEnrichedArticles(ctx context.Context) ([]pipeline.EnrichedArticle, error)
	ListEnabledRules(ctx context.Context) ([]pipeline.TagRule, error)
	UpdateTags(ctx context.Context, url string, tags []string) error
}

// Job appends missing rule tags to already-enriched articles. Running it
// twice with an unchanged ruleset changes nothing.
type Job struct {
	store  Store
	logger *zap.Logger
}

// NewJob builds a reconciliation Job.
func NewJob(store Store, logger *zap.Logger) *Job {
	return &Job{store: store, logger: logger}
}

// Schedule registers the job on the given cron spec (e.g. "@weekly") and
// returns the started scheduler. Stop it to halt future runs.
func (j *Job) Schedule(ctx context.Context, spec string) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		if err := j.Run(ctx); err != nil {
			j.logger.Error("tag reconciliation failed", zap.Error(err))
		}
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}

// Run performs one reconciliation pass.
func (j *Job) Run(ctx context.Context) error {
	rules, err := j.store.ListEnabledRules(ctx)
	if err != nil {
		return err
	}
	if len(rules) == 0 {
		return nil
	}

	articles, err := j.store.ListEnrichedArticles(ctx)
	if err != nil {
		return err
	}

	repaired := 0
	for _, a := range articles {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		tags, changed := appendMissing(a, rules)
		if !changed {
			continue
		}
		if err := j.store.UpdateTags(ctx, a.URL, tags); err != nil {
			j.logger.Error("tag update failed", zap.String("url", a.URL), zap.Error(err))
			continue
		}
		repaired++
		j.logger.Info("tags repaired", zap.String("url", a.URL), zap.Strings("tags", tags))
	}
	if repaired > 0 {
		j.logger.Info("tag reconciliation pass done", zap.Int("repaired", repaired))
	}
	return nil
}

// appendMissing returns the article's tag set with every matching rule tag
// present, preserving the stored order and appending new tags at the end.
func appendMissing(a pipeline.EnrichedArticle, rules []pipeline.TagRule) ([]string, bool) {
	have := make(map[string]struct{}, len(a.Tags))
	for _, tag := range a.Tags {
		have[tag] = struct{}{}
	}

	body := strings.ToLower(a.Body)
	tags := a.Tags
	changed := false
	for _, rule := range rules {
		if rule.Pattern == "" || rule.Tag == "" {
			continue
		}
		if _, ok := have[rule.Tag]; ok {
			continue
		}
		if !strings.Contains(body, strings.ToLower(rule.Pattern)) {
			continue
		}
		tags = append(tags, rule.Tag)
		have[rule.Tag] = struct{}{}
		changed = true
	}
	return tags, changed
}
