package sunspec_energy

import (
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/simonvetter/modbus"
	"go.uber.org/zap"
)

// InverterEnergyReader reads production counters from a SunSpec compatible
// inverter over Modbus TCP. Read only: no control registers are ever written.
type InverterEnergyReader interface {
	Open() error
	Close() error
	Validate() error
	GetInfo() (*InverterInfo, error)
	// GetLifetimeEnergyWh returns the inverter's accumulated AC energy
	// counter in Wh. Monotonically increasing over the device's life.
	GetLifetimeEnergyWh() (float64, error)
}

type InverterInfo struct {
	Manufacturer string
	Model        string
	Version      string
	Serial       string
}

type ModbusClient struct {
	client     *modbus.ModbusClient
	instrument []ModbusInstrument
}

type ModbusInstrument struct {
	RecordTime func(fnName string, readTime time.Duration)
}

func (reader ModbusClient) readString(address uint16, size uint16) (string, error) {
	bytes, err := reader.readRawBytes(address, size, modbus.HOLDING_REGISTER)
	if err != nil {
		return "", err
	}
	f := slices.Index(bytes, 0x00)
	if f >= 0 {
		return string(bytes[:f]), nil
	}
	return string(bytes), nil
}

func (reader ModbusClient) applySFuint32(number uint32, sf uint16) float64 {
	return float64(number) * math.Pow(10, float64(int16(sf)))
}

func (reader ModbusClient) readRegister(addr uint16, regType modbus.RegType) (uint16, error) {
	defer RecordTimer("ReadRegister", reader.instrument)()
	return reader.client.ReadRegister(addr, regType)
}

func (reader ModbusClient) readUint32(addr uint16, regType modbus.RegType) (uint32, error) {
	defer RecordTimer("ReadUint32", reader.instrument)()
	return reader.client.ReadUint32(addr, regType)
}

func (reader ModbusClient) readRawBytes(addr uint16, quantity uint16, regType modbus.RegType) ([]byte, error) {
	defer RecordTimer("ReadRawBytes", reader.instrument)()
	return reader.client.ReadRawBytes(addr, quantity, regType)
}

func RecordTimer(name string, instrument []ModbusInstrument) func() {
	if instrument == nil {
		return func() {}
	}

	start := time.Now()
	return func() {
		duration := time.Since(start)
		for i := range instrument {
			instrument[i].RecordTime(name, duration)
		}
	}
}

// IntSFEnergyReader implements InverterEnergyReader for inverters exposing
// the integer+scale-factor SunSpec models (101-103).
type IntSFEnergyReader struct {
	ModbusClient

	logger *zap.Logger
	blocks energyModbusBlocks
}

func (inv *IntSFEnergyReader) Open() error {
	if err := inv.client.Open(); err != nil {
		return err
	}
	return inv.survey()
}

func (inv IntSFEnergyReader) Close() error {
	return inv.client.Close()
}

func (inv IntSFEnergyReader) Validate() error {
	_, err := inv.readString(inv.blocks.common+2, 32)
	return err
}

func (inv IntSFEnergyReader) GetInfo() (*InverterInfo, error) {
	manufacturer, err := inv.readString(inv.blocks.common+2, 32)
	if err != nil {
		return nil, err
	}
	model, err := inv.readString(inv.blocks.common+18, 32)
	if err != nil {
		return nil, err
	}
	version, err := inv.readString(inv.blocks.common+42, 16)
	if err != nil {
		return nil, err
	}
	serial, err := inv.readString(inv.blocks.common+50, 32)
	if err != nil {
		return nil, err
	}
	return &InverterInfo{
		Manufacturer: manufacturer,
		Model:        model,
		Version:      version,
		Serial:       serial,
	}, nil
}

func (inv IntSFEnergyReader) GetLifetimeEnergyWh() (float64, error) {
	// WH acc32 + WH_SF in the inverter model block
	wh, err := inv.readUint32(inv.blocks.inverter+24, modbus.HOLDING_REGISTER)
	if err != nil {
		return 0, err
	}
	whSF, err := inv.readRegister(inv.blocks.inverter+26, modbus.HOLDING_REGISTER)
	if err != nil {
		return 0, err
	}
	return inv.applySFuint32(wh, whSF), nil
}

func traceLoggerInstrumentation(logger *zap.Logger) *ModbusInstrument {
	if logger.Core().Enabled(zap.DebugLevel) {
		return &ModbusInstrument{
			RecordTime: func(fnName string, readTime time.Duration) {
				logger.Debug("modbus read", zap.String("fn", fnName),
					zap.Int64("millis", readTime.Milliseconds()))
			},
		}
	}
	return nil
}

func CreateIntSFEnergyReader(ip string, port uint, inverterAddress uint8, timeout time.Duration,
	logger *zap.Logger, instrumentation *ModbusInstrument) (InverterEnergyReader, error) {

	client, err := modbus.NewClient(&modbus.ClientConfiguration{
		URL:     fmt.Sprintf("tcp://%s:%d", ip, port),
		Timeout: timeout,
	})
	if err != nil {
		return nil, err
	}

	var inst []ModbusInstrument
	logInst := traceLoggerInstrumentation(logger.With(zap.String("target", "inverter"),
		zap.Uint8("address", inverterAddress)))
	if logInst != nil {
		inst = append(inst, *logInst)
	}
	if instrumentation != nil {
		inst = append(inst, *instrumentation)
	}

	if inverterAddress > 0 {
		if err := client.SetUnitId(inverterAddress); err != nil {
			return nil, err
		}
	}

	reader := IntSFEnergyReader{
		ModbusClient: ModbusClient{
			client:     client,
			instrument: inst,
		},
		logger: logger,
	}
	return &reader, nil
}
