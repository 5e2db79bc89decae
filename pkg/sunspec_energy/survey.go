package sunspec_energy

import (
	"errors"

	"github.com/simonvetter/modbus"
)

const (
	SUNSPEC_WK_COMMON        = 1
	SUNSPEC_WK_INVERTERS_MIN = 101
	SUNSPEC_WK_INVERTERS_MAX = 103
)

type energyModbusBlocks struct {
	common   uint16
	inverter uint16
}

func (blk *energyModbusBlocks) AllBlocksDefined() bool {
	return blk.common > 0 && blk.inverter > 0
}

func (inv *IntSFEnergyReader) survey() error {

	// check SunSpec
	str, err := inv.readString(40000, 4)
	if err != nil {
		return err
	}
	if str != "SunS" {
		return errors.New("could not find a SunSpec inverter")
	}

	// survey blocks
	blocks := energyModbusBlocks{}
	var baseAddr uint16 = 40002
	n := 0
	for {
		block, err := surveyModbusBlock(inv.client, baseAddr)
		if err != nil {
			return err
		}
		if block.isEndBlock() {
			break
		}
		if block.id >= SUNSPEC_WK_INVERTERS_MIN && block.id <= SUNSPEC_WK_INVERTERS_MAX {
			blocks.inverter = block.baseAddr
		} else if block.id == SUNSPEC_WK_COMMON {
			blocks.common = block.baseAddr
		}
		baseAddr = baseAddr + block.length + 2
		// ensure the loop has an ending
		if blocks.AllBlocksDefined() || n > 20 {
			break
		}
		n++
	}
	if blocks.AllBlocksDefined() {
		inv.blocks = blocks
		return nil
	}
	return errors.New("could not find all required sunspec blocks (common, inverter)")
}

type modbusBlock struct {
	id       uint16
	baseAddr uint16
	length   uint16
}

func (block *modbusBlock) isEndBlock() bool {
	return block.id == 0xFFFF
}

func surveyModbusBlock(client *modbus.ModbusClient, baseAddr uint16) (*modbusBlock, error) {
	wellKnownValue, err := client.ReadRegister(baseAddr, modbus.HOLDING_REGISTER)
	if err != nil {
		return nil, err
	}
	length, err := client.ReadRegister(baseAddr+1, modbus.HOLDING_REGISTER)
	if err != nil {
		return nil, err
	}
	return &modbusBlock{
		id:       wellKnownValue,
		length:   length,
		baseAddr: baseAddr,
	}, nil
}
