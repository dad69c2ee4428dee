package service

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clefworks/msm-api/internal/models"
)

func TestResolveLessonFeeExactDuration(t *testing.T) {
	cards := []models.RateCard{
		{ID: "rc-45", DurationMinutes: 45, AmountCents: 4200},
		{ID: "rc-30", DurationMinutes: 30, AmountCents: 3000, IsDefault: true},
	}
	require.Equal(t, 4200, ResolveLessonFee(45, cards, 2500))
}

func TestResolveLessonFeeFallsBackToDefaultCard(t *testing.T) {
	cards := []models.RateCard{
		{ID: "rc-45", DurationMinutes: 45, AmountCents: 4200},
		{ID: "rc-30", DurationMinutes: 30, AmountCents: 3000, IsDefault: true},
	}
	require.Equal(t, 3000, ResolveLessonFee(60, cards, 2500))
}

func TestResolveLessonFeeFirstCardWhenNoDefault(t *testing.T) {
	cards := []models.RateCard{
		{ID: "rc-45", DurationMinutes: 45, AmountCents: 4200},
	}
	require.Equal(t, 4200, ResolveLessonFee(60, cards, 2500))
}

func TestResolveLessonFeeConfiguredFallback(t *testing.T) {
	require.Equal(t, 2500, ResolveLessonFee(30, nil, 2500))
}
