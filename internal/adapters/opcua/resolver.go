package opcua

import (
	"context"
	"fmt"
	"strings"

	"github.com/cadigan/CortexFlow/internal/ports"
)

// Resolver matches a discovery predicate against the configured sources and
// opens the single match. Zero or multiple matches fail the attempt.
//
// Predicates are of the form "name='eeg-rig'" or "endpoint='opc.tcp://...'";
// a bare string matches against the source name.
type Resolver struct {
	configs []Config
}

func NewResolver(configs []Config) *Resolver {
	for i := range configs {
		configs[i].ApplyDefaults()
	}
	return &Resolver{configs: configs}
}

func (r *Resolver) Resolve(ctx context.Context, predicate string) (ports.SampleSource, error) {
	var matches []Config
	for _, cfg := range r.configs {
		if matchPredicate(cfg, predicate) {
			matches = append(matches, cfg)
		}
	}
	if len(matches) != 1 {
		return nil, fmt.Errorf("%w: predicate %q matched %d sources",
			ports.ErrSourceDiscovery, predicate, len(matches))
	}

	src, err := NewSource(matches[0])
	if err != nil {
		return nil, err
	}
	if err := src.Start(ctx); err != nil {
		return nil, err
	}
	return src, nil
}

func matchPredicate(cfg Config, predicate string) bool {
	predicate = strings.TrimSpace(predicate)
	if key, val, ok := splitPredicate(predicate); ok {
		switch key {
		case "name":
			return cfg.Name == val
		case "endpoint":
			return cfg.Endpoint == val
		default:
			return false
		}
	}
	return cfg.Name == predicate
}

func splitPredicate(predicate string) (key, value string, ok bool) {
	i := strings.IndexByte(predicate, '=')
	if i < 0 {
		return "", "", false
	}
	key = strings.TrimSpace(predicate[:i])
	value = strings.Trim(strings.TrimSpace(predicate[i+1:]), "'\"")
	return key, value, true
}

var _ ports.SourceResolver = (*Resolver)(nil)
