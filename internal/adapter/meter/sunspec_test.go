package meter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/berfenger/forecast2mqtt/pkg/sunspec_energy"
)

func testMeter(t *testing.T) (*SunSpecProductionMeter, *sunspec_energy.TestInverterEnergyReader) {
	t.Helper()
	reader := &sunspec_energy.TestInverterEnergyReader{EnergyWh: 1000000}
	m, err := NewSunSpecProductionMeter(reader, t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	return m, reader
}

func atMidnight(m *SunSpecProductionMeter, date string) {
	day, _ := time.ParseInLocation("2006-01-02", date, time.Local)
	m.now = func() time.Time { return day }
}

func TestDayYieldFromBaselines(t *testing.T) {

	require := require.New(t)

	m, reader := testMeter(t)
	ctx := context.Background()

	atMidnight(m, "2025-10-14")
	require.NoError(m.CaptureBaseline(ctx))

	reader.Advance(9800)
	atMidnight(m, "2025-10-15")
	require.NoError(m.CaptureBaseline(ctx))

	yield, err := m.DayYieldWh(ctx, "2025-10-14")
	require.NoError(err)
	assert.InDelta(t, 9800.0, yield, 0.001)
}

func TestDayYieldMissingBaseline(t *testing.T) {

	require := require.New(t)

	m, _ := testMeter(t)
	ctx := context.Background()

	_, err := m.DayYieldWh(ctx, "2025-10-14")
	require.Error(err)

	atMidnight(m, "2025-10-14")
	require.NoError(m.CaptureBaseline(ctx))

	// still missing the closing baseline
	_, err = m.DayYieldWh(ctx, "2025-10-14")
	require.Error(err)
}

func TestCaptureBaselineFirstSampleWins(t *testing.T) {

	require := require.New(t)

	m, reader := testMeter(t)
	ctx := context.Background()

	atMidnight(m, "2025-10-14")
	require.NoError(m.CaptureBaseline(ctx))

	// a later capture on the same day must not move the baseline
	reader.Advance(5000)
	require.NoError(m.CaptureBaseline(ctx))

	reader.Advance(5000)
	atMidnight(m, "2025-10-15")
	require.NoError(m.CaptureBaseline(ctx))

	yield, err := m.DayYieldWh(ctx, "2025-10-14")
	require.NoError(err)
	assert.InDelta(t, 10000.0, yield, 0.001)
}

func TestBaselinesSurviveRestart(t *testing.T) {

	require := require.New(t)

	reader := &sunspec_energy.TestInverterEnergyReader{EnergyWh: 1000000}
	dir := t.TempDir()
	ctx := context.Background()

	m1, err := NewSunSpecProductionMeter(reader, dir, zap.NewNop())
	require.NoError(err)
	atMidnight(m1, "2025-10-14")
	require.NoError(m1.CaptureBaseline(ctx))
	require.NoError(m1.Close())

	reader.Advance(7500)

	m2, err := NewSunSpecProductionMeter(reader, dir, zap.NewNop())
	require.NoError(err)
	atMidnight(m2, "2025-10-15")
	require.NoError(m2.CaptureBaseline(ctx))

	yield, err := m2.DayYieldWh(ctx, "2025-10-14")
	require.NoError(err)
	assert.InDelta(t, 7500.0, yield, 0.001)
}

func TestDayYieldCounterRollback(t *testing.T) {

	require := require.New(t)

	m, reader := testMeter(t)
	ctx := context.Background()

	atMidnight(m, "2025-10-14")
	require.NoError(m.CaptureBaseline(ctx))

	reader.EnergyWh = 500000
	atMidnight(m, "2025-10-15")
	require.NoError(m.CaptureBaseline(ctx))

	_, err := m.DayYieldWh(ctx, "2025-10-14")
	require.Error(err)
}
