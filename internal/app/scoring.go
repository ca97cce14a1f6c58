package app

import "xquiz-funnel-service/internal/domain"

// ApplyAnswer maps an answer to its score delta and option tags, given the
// owning element's configuration. Pure: the session applies the delta.
// Unknown option ids contribute nothing rather than failing.
func ApplyAnswer(el domain.Element, ans domain.Answer) (float64, []string) {
	switch el.Kind {
	case domain.KindMultipleChoice, domain.KindImageSelection:
		for i := range el.Options {
			if el.Options[i].ID == ans.OptionID {
				return float64(el.Options[i].Points), el.Options[i].Tags
			}
		}
		return 0, nil
	case domain.KindRangeSlider:
		return ans.Number * el.SliderWeight(), nil
	default:
		// Welcome, video, text, lead form, countdown, loading and result
		// screens carry no scoring signal.
		return 0, nil
	}
}
