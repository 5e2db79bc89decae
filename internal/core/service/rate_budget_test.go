package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/berfenger/forecast2mqtt/internal/core/domain"
)

func testBudget(limits map[string]int) *RateBudgetTracker {
	return NewRateBudgetTracker(limits, zap.NewNop())
}

func TestBudgetExhaustion(t *testing.T) {

	require := require.New(t)

	budget := testBudget(map[string]int{"solcast": 2})

	require.NoError(budget.Reserve("solcast"))
	require.NoError(budget.Reserve("solcast"))
	assert.Equal(t, 0, budget.Remaining("solcast"))

	err := budget.Reserve("solcast")
	require.Error(err)
	assert.True(t, domain.IsErrorKind(err, domain.ERROR_KIND_RATE_LIMIT))
}

func TestBudgetUnlimitedProvider(t *testing.T) {

	require := require.New(t)

	budget := testBudget(map[string]int{"solcast": 1})

	for i := 0; i < 50; i++ {
		require.NoError(budget.Reserve("forecast.solar"))
	}
	assert.Equal(t, -1, budget.Remaining("forecast.solar"))
}

func TestBudgetRelease(t *testing.T) {

	require := require.New(t)

	budget := testBudget(map[string]int{"solcast": 1})

	require.NoError(budget.Reserve("solcast"))
	require.Error(budget.Reserve("solcast"))

	budget.Release("solcast")
	require.NoError(budget.Reserve("solcast"))

	// release never goes below zero
	budget.Release("solcast")
	budget.Release("solcast")
	assert.Equal(t, 1, budget.Remaining("solcast"))
}

func TestBudgetMidnightReset(t *testing.T) {

	require := require.New(t)

	budget := testBudget(map[string]int{"solcast": 1})
	day := time.Date(2026, 3, 14, 23, 59, 0, 0, time.Local)
	budget.now = func() time.Time { return day }

	require.NoError(budget.Reserve("solcast"))
	require.Error(budget.Reserve("solcast"))

	// cross local midnight
	day = day.Add(2 * time.Minute)
	require.NoError(budget.Reserve("solcast"))
	assert.Equal(t, 0, budget.Remaining("solcast"))
}

func TestBudgetProvidersIndependent(t *testing.T) {

	require := require.New(t)

	budget := testBudget(map[string]int{"a": 1, "b": 1})

	require.NoError(budget.Reserve("a"))
	require.Error(budget.Reserve("a"))
	require.NoError(budget.Reserve("b"))
}
