package app

import "xquiz-funnel-service/internal/domain"

// Fallback profile thresholds used when no result rule matches. These are a
// fixed product default, not author-configurable; tests pin the boundaries.
const (
	FallbackExpertMinScore   = 70
	FallbackAdvancedMinScore = 40

	FallbackProfileExpert   = "Expert"
	FallbackProfileAdvanced = "Avançado"
	FallbackProfileBeginner = "Iniciante"
)

// EvaluateResult walks the rule list in author order and returns the first
// matching rule's outcome. Score conditions match inclusively on both ends;
// tag conditions require every listed tag to be present. When nothing
// matches, the three-tier fallback profile applies with no redirect.
func EvaluateResult(score float64, tags []string, rules []domain.ResultRule) domain.Outcome {
	for _, rule := range rules {
		if ruleMatches(rule.Condition, score, tags) {
			return domain.Outcome{
				Score:       score,
				Tags:        tags,
				Profile:     rule.Profile,
				RedirectURL: rule.RedirectURL,
			}
		}
	}
	return domain.Outcome{Score: score, Tags: tags, Profile: fallbackProfile(score)}
}

func ruleMatches(cond domain.RuleCondition, score float64, tags []string) bool {
	switch cond.Kind {
	case domain.ConditionScore:
		return score >= cond.MinScore && score <= cond.MaxScore
	case domain.ConditionTags:
		for _, required := range cond.RequiredTags {
			if !containsTag(tags, required) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func containsTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

func fallbackProfile(score float64) string {
	switch {
	case score >= FallbackExpertMinScore:
		return FallbackProfileExpert
	case score >= FallbackAdvancedMinScore:
		return FallbackProfileAdvanced
	default:
		return FallbackProfileBeginner
	}
}
