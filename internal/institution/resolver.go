package institution

import (
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Source names the cascade step that produced a label.
type Source string

const (
	SourceWhitelist  Source = "whitelist"
	SourceLearned    Source = "learned"
	SourceKeyword    Source = "keyword"
	SourceLongest    Source = "longest"
	SourceUnresolved Source = "unresolved"
)

// Resolution is a resolved label plus the step that decided it.
type Resolution struct {
	Label  string
	Source Source
}

// Observer is notified of every resolution, e.g. for metrics.
type Observer interface {
	ObserveResolution(source string)
}

// Resolver maps document text to an institution label. It never fails: any
// problem degrades to a lower-priority step and finally to Unresolved.
type Resolver struct {
	catalog   *Catalog
	store     Store
	extractor OrgExtractor
	observer  Observer
	logger    *zap.Logger

	loadOnce sync.Once
}

type ResolverOption func(*Resolver)

func WithObserver(o Observer) ResolverOption {
	return func(r *Resolver) { r.observer = o }
}

func WithLogger(l *zap.Logger) ResolverOption {
	return func(r *Resolver) { r.logger = l }
}

func NewResolver(catalog *Catalog, store Store, extractor OrgExtractor, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		catalog:   catalog,
		store:     store,
		extractor: extractor,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the institution label for text.
func (r *Resolver) Resolve(text string) string {
	return r.ResolveDetailed(text).Label
}

func (r *Resolver) ResolveDetailed(text string) Resolution {
	r.loadOnce.Do(func() {
		if err := r.store.Load(); err != nil {
			r.logger.Warn("Failed to load learned institutions", zap.Error(err))
		}
	})

	res := r.resolve(text)
	if r.observer != nil {
		r.observer.ObserveResolution(string(res.Source))
	}
	r.logger.Debug("Resolved institution",
		zap.String("label", res.Label),
		zap.String("source", string(res.Source)))
	return res
}

func (r *Resolver) resolve(text string) Resolution {
	lower := strings.ToLower(text)

	for _, name := range r.catalog.Institutions {
		if containsFold(lower, name) {
			return Resolution{Label: name, Source: SourceWhitelist}
		}
	}

	for _, label := range r.store.Labels() {
		if label == Unresolved {
			continue
		}
		if containsFold(lower, label) {
			return Resolution{Label: label, Source: SourceLearned}
		}
	}

	var candidates []string
	if strings.TrimSpace(text) != "" {
		for _, c := range r.extractor.ExtractOrgs(text) {
			c = strings.TrimSpace(c)
			if isNoise(c) {
				continue
			}
			candidates = append(candidates, c)
		}
	}

	if len(candidates) == 0 {
		r.remember(Unresolved)
		return Resolution{Label: Unresolved, Source: SourceUnresolved}
	}

	for _, c := range candidates {
		if r.catalog.HasOrgHint(c) {
			return Resolution{Label: r.remember(c), Source: SourceKeyword}
		}
	}

	longest := candidates[0]
	for _, c := range candidates[1:] {
		if len([]rune(c)) > len([]rune(longest)) {
			longest = c
		}
	}
	return Resolution{Label: r.remember(longest), Source: SourceLongest}
}

// remember persists label and returns its stored form. Failures are logged
// and do not change the result.
func (r *Resolver) remember(label string) string {
	for _, name := range r.catalog.Institutions {
		if strings.EqualFold(name, label) {
			return name
		}
	}
	stored, err := r.store.Add(label)
	if err != nil {
		r.logger.Warn("Failed to persist institution",
			zap.String("label", label),
			zap.Error(err))
	}
	if stored == "" {
		return label
	}
	return stored
}
