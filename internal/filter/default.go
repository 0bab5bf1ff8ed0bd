package filter

import (
	"log/slog"

	"github.com/dshills/kbsync/internal/config"
	"github.com/dshills/kbsync/internal/ecosystem"
	"github.com/dshills/kbsync/internal/ignore"
)

// Default assembles the built-in chain from configuration
func Default(cfg *config.Config, resolver *ignore.Resolver, detector *ecosystem.Detector, logger *slog.Logger) (*Chain, error) {
	regex, err := NewRegexFilter(cfg.Indexing.ExcludePatterns)
	if err != nil {
		return nil, err
	}
	return NewChain(detector, logger,
		NewIgnoreRuleFilter(resolver),
		BinaryFilter{},
		SizeFilter{MaxBytes: cfg.Indexing.MaxFileSizeBytes},
		EcosystemFilter{},
		regex,
	), nil
}
