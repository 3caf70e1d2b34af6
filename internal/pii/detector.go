package pii

import (
	"fmt"

	"github.com/raaihank/mail-sentinel/internal/config"
	"github.com/raaihank/mail-sentinel/internal/logger"
	"go.uber.org/zap"
)

// Detector handles PII detection and masking for a configured set of
// categories. It is immutable after construction and safe for concurrent use.
type Detector struct {
	rules    []Rule
	resolver *Resolver
	logger   *logger.Logger
	config   config.PrivacyConfig
}

// New creates a new PII detector instance over the built-in registry
func New(cfg config.PrivacyConfig, log *logger.Logger) (*Detector, error) {
	return NewWithRegistry(cfg, DefaultRegistry(), defaultResolver, log)
}

// NewWithRegistry creates a detector over an explicit registry and resolver.
func NewWithRegistry(cfg config.PrivacyConfig, registry *Registry, resolver *Resolver, log *logger.Logger) (*Detector, error) {
	rules, err := selectRules(registry, cfg.Detectors)
	if err != nil {
		return nil, fmt.Errorf("failed to configure detectors: %w", err)
	}

	detector := &Detector{
		rules:    rules,
		resolver: resolver,
		logger:   log,
		config:   cfg,
	}

	log.Info("Privacy detector initialized",
		zap.Bool("enabled", cfg.Enabled),
		zap.Int("total_rules", registry.Len()),
		zap.Int("enabled_rules", len(rules)),
	)

	return detector, nil
}

// selectRules keeps the registry rules named in detectors, in registration
// order. "all" selects every rule.
func selectRules(registry *Registry, detectors []string) ([]Rule, error) {
	wanted := make(map[Category]bool)
	for _, name := range detectors {
		if name == "all" {
			return registry.Rules(), nil
		}

		c, ok := ParseCategory(name)
		if !ok {
			return nil, fmt.Errorf("unknown detector: %s", name)
		}
		if _, registered := registry.Lookup(c); !registered {
			return nil, fmt.Errorf("detector not registered: %s", name)
		}
		wanted[c] = true
	}

	var rules []Rule
	for _, rule := range registry.Rules() {
		if wanted[rule.Category] {
			rules = append(rules, rule)
		}
	}
	return rules, nil
}

// Mask detects PII in text and returns the masked text with the entities it
// removed.
func (d *Detector) Mask(text string) Result {
	if !d.config.Enabled {
		return Result{
			MaskedText: text,
			Entities:   []Entity{},
			Original:   text,
		}
	}

	raw := Scan(d.rules, text)
	resolved, stats := d.resolver.Resolve(raw)
	result := Build(text, resolved)

	if len(raw) > 0 {
		d.logger.Debug("PII detected and masked",
			zap.Int("raw_matches", len(raw)),
			zap.Int("suppressed", stats.Suppressed),
			zap.Any("suppressed_by", stats.ByCondition),
			zap.Int("overlapping_dropped", stats.Overlapping),
			zap.Strings("labels", result.Labels()),
		)
	}

	return result
}

// Enabled reports whether masking is switched on.
func (d *Detector) Enabled() bool {
	return d.config.Enabled
}

// EnabledCategories returns the active categories in registration order.
func (d *Detector) EnabledCategories() []string {
	names := make([]string, len(d.rules))
	for i, rule := range d.rules {
		names[i] = rule.Category.String()
	}
	return names
}
