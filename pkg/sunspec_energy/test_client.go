package sunspec_energy

import "sync"

func CreateTestInverterEnergyReader() (InverterEnergyReader, error) {
	return &TestInverterEnergyReader{EnergyWh: 4250000}, nil
}

// TestInverterEnergyReader is a fake reader backed by a settable counter.
type TestInverterEnergyReader struct {
	mu       sync.Mutex
	EnergyWh float64
}

func (reader *TestInverterEnergyReader) Open() error {
	return nil
}

func (reader *TestInverterEnergyReader) Close() error {
	return nil
}

func (reader *TestInverterEnergyReader) Validate() error {
	return nil
}

func (reader *TestInverterEnergyReader) GetInfo() (*InverterInfo, error) {
	return &InverterInfo{
		Manufacturer: "Forecast2MQTT",
		Model:        "Test Inverter 5K",
		Version:      "1.0",
		Serial:       "00000000",
	}, nil
}

func (reader *TestInverterEnergyReader) GetLifetimeEnergyWh() (float64, error) {
	reader.mu.Lock()
	defer reader.mu.Unlock()
	return reader.EnergyWh, nil
}

// Advance increases the fake lifetime counter.
func (reader *TestInverterEnergyReader) Advance(wh float64) {
	reader.mu.Lock()
	defer reader.mu.Unlock()
	reader.EnergyWh += wh
}
