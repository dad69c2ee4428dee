package service

import "github.com/clefworks/msm-api/internal/models"

// ResolveLessonFee resolves the per-lesson fee for a duration against the
// organisation's rate cards. Resolution order: exact duration match, the org
// default card, the first card supplied, then the fixed fallback. It never
// fails; incomplete rate-card configuration must not abort a run build.
func ResolveLessonFee(durationMinutes int, cards []models.RateCard, fallbackCents int) int {
	for _, card := range cards {
		if card.DurationMinutes == durationMinutes {
			return card.AmountCents
		}
	}
	for _, card := range cards {
		if card.IsDefault {
			return card.AmountCents
		}
	}
	if len(cards) > 0 {
		return cards[0].AmountCents
	}
	return fallbackCents
}
