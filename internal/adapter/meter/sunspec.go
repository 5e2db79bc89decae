package meter

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/berfenger/forecast2mqtt/internal/core/domain"
	"github.com/berfenger/forecast2mqtt/internal/core/port"
	"github.com/berfenger/forecast2mqtt/pkg/sunspec_energy"
)

const BASELINES_FILE = "baselines.json"

// SunSpecProductionMeter derives per-day PV yield from the inverter's
// lifetime energy counter. A baseline is the counter value sampled at local
// midnight starting a day; the day's yield is the delta to the next
// midnight's baseline.
type SunSpecProductionMeter struct {
	reader sunspec_energy.InverterEnergyReader
	path   string
	now    func() time.Time
	logger *zap.Logger

	mu        sync.Mutex
	opened    bool
	baselines map[string]float64
}

func NewSunSpecProductionMeter(reader sunspec_energy.InverterEnergyReader, dataDir string, logger *zap.Logger) (*SunSpecProductionMeter, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	m := &SunSpecProductionMeter{
		reader: reader,
		path:   filepath.Join(dataDir, BASELINES_FILE),
		now:    time.Now,
		logger: logger.Named("production_meter"),
	}
	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

// CaptureBaseline samples the lifetime counter for today's boundary. The
// first sample of a day wins, so a restarted service cannot move an already
// captured baseline.
func (m *SunSpecProductionMeter) CaptureBaseline(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	day := m.now().Local().Format(domain.DateFormat)
	if _, ok := m.baselines[day]; ok {
		m.logger.Debug("baseline already captured", zap.String("day", day))
		return nil
	}

	if err := m.ensureOpen(); err != nil {
		return err
	}
	wh, err := m.reader.GetLifetimeEnergyWh()
	if err != nil {
		return fmt.Errorf("read lifetime energy: %w", err)
	}

	m.baselines[day] = wh
	if err := m.save(); err != nil {
		return err
	}
	m.logger.Info("baseline captured", zap.String("day", day), zap.Float64("lifetime_wh", wh))
	return nil
}

// DayYieldWh needs the baselines bounding the date: the one starting it and
// the one starting the following day.
func (m *SunSpecProductionMeter) DayYieldWh(ctx context.Context, date string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	day, err := time.ParseInLocation(domain.DateFormat, date, time.Local)
	if err != nil {
		return 0, fmt.Errorf("invalid date %q: %w", date, err)
	}
	nextDay := day.AddDate(0, 0, 1).Format(domain.DateFormat)

	start, ok := m.baselines[date]
	if !ok {
		return 0, fmt.Errorf("no baseline captured for %s", date)
	}
	end, ok := m.baselines[nextDay]
	if !ok {
		return 0, fmt.Errorf("no baseline captured for %s", nextDay)
	}
	if end < start {
		return 0, fmt.Errorf("lifetime counter went backwards between %s and %s", date, nextDay)
	}
	return end - start, nil
}

func (m *SunSpecProductionMeter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.opened {
		return nil
	}
	m.opened = false
	return m.reader.Close()
}

func (m *SunSpecProductionMeter) ensureOpen() error {
	if m.opened {
		return nil
	}
	if err := m.reader.Open(); err != nil {
		return fmt.Errorf("open inverter connection: %w", err)
	}
	if err := m.reader.Validate(); err != nil {
		m.reader.Close()
		return fmt.Errorf("validate inverter: %w", err)
	}
	m.opened = true
	return nil
}

func (m *SunSpecProductionMeter) load() error {
	m.baselines = make(map[string]float64)
	content, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read baselines: %w", err)
	}
	if err := json.Unmarshal(content, &m.baselines); err != nil {
		return fmt.Errorf("decode baselines: %w", err)
	}
	return nil
}

func (m *SunSpecProductionMeter) save() error {
	content, err := json.MarshalIndent(m.baselines, "", "  ")
	if err != nil {
		return fmt.Errorf("encode baselines: %w", err)
	}
	if err := os.WriteFile(m.path, content, 0o644); err != nil {
		return fmt.Errorf("write baselines: %w", err)
	}
	return nil
}

var _ port.ProductionMeter = (*SunSpecProductionMeter)(nil)
