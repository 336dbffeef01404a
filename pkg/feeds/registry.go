package feeds

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/coordtech/packline/pkg/errdefs"
)

// Registry holds the named feeds known to a run. Identifiers are unique;
// registering a duplicate is an error rather than a replacement.
type Registry struct {
	logger zerolog.Logger

	mu    sync.RWMutex
	feeds map[string]Feed
}

// NewRegistry creates an empty feed registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		logger: logger.With().Str("component", "feed-registry").Logger(),
		feeds:  make(map[string]Feed),
	}
}

// Register adds a feed under its identifier.
func (r *Registry) Register(f Feed) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := f.Identifier()
	if _, exists := r.feeds[id]; exists {
		return fmt.Errorf("feed %q is already registered", id)
	}
	r.feeds[id] = f

	r.logger.Debug().
		Str("feed", id).
		Str("kind", string(f.Kind())).
		Msg("Feed registered")
	return nil
}

// Resolve returns the feed registered under id. Unknown identifiers fail
// with a permanent error carrying CodeUnknownFeed.
func (r *Registry) Resolve(id string) (Feed, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.feeds[id]
	if !ok {
		return nil, errdefs.NewPermanent(fmt.Sprintf("feed %q is not registered", id), nil).
			WithCode(errdefs.CodeUnknownFeed).
			WithResource(id)
	}
	return f, nil
}

// All returns the registered feeds in resolution priority order: kind
// precedence first, identifier order within a kind for determinism.
func (r *Registry) All() []Feed {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Feed, 0, len(r.feeds))
	for _, f := range r.feeds {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		pi, pj := out[i].Kind().Priority(), out[j].Kind().Priority()
		if pi != pj {
			return pi < pj
		}
		return out[i].Identifier() < out[j].Identifier()
	})
	return out
}
