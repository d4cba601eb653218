package engine

import "log/slog"

// applyActivationPolicy applies the config's enable/disable directives
// to a freshly loaded engine. Order matters and must not change:
//
//  1. disable by name substring, in list order;
//  2. disable by tag;
//  3. if any enabled tags are set, disable everything and re-enable
//     only rules carrying those tags, an exclusive allow-list that
//     overrides steps 1 and 2 entirely.
func applyActivationPolicy(e *Engine, cfg *Config, logger *slog.Logger) {
	for _, substring := range cfg.DisabledRuleSubstrings {
		logger.Info("disabling rules matching substring", "substring", substring)
		e.EnableRule(substring, false)
	}

	if len(cfg.DisabledRuleTags) > 0 {
		for _, tag := range cfg.DisabledRuleTags {
			logger.Info("disabling rules with tag", "tag", tag)
		}
		e.EnableRuleByTag(cfg.DisabledRuleTags, false)
	}

	if len(cfg.EnabledRuleTags) > 0 {
		// Only specific tags should run, so start from nothing.
		e.EnableRule("", false)
		for _, tag := range cfg.EnabledRuleTags {
			logger.Info("enabling rules with tag", "tag", tag)
		}
		e.EnableRuleByTag(cfg.EnabledRuleTags, true)
	}
}
