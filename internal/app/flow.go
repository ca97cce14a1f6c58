package app

import "xquiz-funnel-service/internal/domain"

// ResolveNext determines the index of the element that follows currentIndex,
// honoring branch targets in strict priority order: the chosen option's
// target first, then the element's own target, then sequential order.
// A target that does not resolve to an existing element falls through to the
// next rule instead of failing; authors may delete a referenced element at
// any time. The second return is false when the funnel is at its end.
func ResolveNext(quiz domain.Quiz, currentIndex int, answers map[string]domain.Answer) (int, bool) {
	if currentIndex < 0 || currentIndex >= len(quiz.Elements) {
		return 0, false
	}
	current := quiz.Elements[currentIndex]

	if current.Kind.HasOptions() {
		if ans, ok := answers[current.ID]; ok {
			for i := range current.Options {
				if current.Options[i].ID == ans.OptionID {
					if idx := quiz.ElementByID(current.Options[i].NextElementID); idx >= 0 {
						return idx, true
					}
					break
				}
			}
		}
	}

	if idx := quiz.ElementByID(current.NextElementID); idx >= 0 {
		return idx, true
	}

	if currentIndex+1 < len(quiz.Elements) {
		return currentIndex + 1, true
	}
	return 0, false
}
