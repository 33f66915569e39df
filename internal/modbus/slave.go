// Package modbus 把一个串口包装成 Modbus RTU 主站连接（对端为从站），
// 寄存器级操作委托给 goburrow/modbus。
package modbus

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrNotOpen 表示从站绑定存在但传输层已关闭
var ErrNotOpen = errors.New("modbus port is not open")

// Config 描述从站绑定的串口线路，Path 在创建后不可更改
type Config struct {
	Path     string
	BaudRate int
	DataBits int
	Parity   string
}

// Slave 是 broker 持有的 Modbus 从站绑定
type Slave interface {
	Path() string
	IsOpen() bool
	// Open 连接传输层，已连接时返回 nil
	Open() error
	// Close 断开传输层，已断开时返回 nil
	Close() error
	NodeAddress() int
	SetNodeAddress(addr int) error
	ReadInputRegisters(start, qty uint16) ([]uint16, error)
	ReadHoldingRegisters(start, qty uint16) ([]uint16, error)
	WriteRegister(addr, value uint16) error
	WriteRegisters(start uint16, values []uint16) error
	ReadDeviceIdentification(idCode, objectID byte) (DeviceIdentification, error)
}

// Factory 构造一个尚未连接的从站绑定
type Factory func(cfg Config) Slave

const (
	// DefaultNodeAddress 是创建后、set-node-address 之前使用的节点地址
	DefaultNodeAddress = 1
	MaxNodeAddress     = 247
)

func checkNodeAddress(addr int) error {
	if addr < 0 || addr > MaxNodeAddress {
		return fmt.Errorf("node address %d out of range 0..%d", addr, MaxNodeAddress)
	}
	return nil
}

func bytesToWords(b []byte) ([]uint16, error) {
	if len(b)%2 != 0 {
		return nil, fmt.Errorf("odd register payload length %d", len(b))
	}
	out := make([]uint16, len(b)/2)
	for i := range out {
		out[i] = binary.BigEndian.Uint16(b[2*i:])
	}
	return out, nil
}

func wordsToBytes(words []uint16) []byte {
	out := make([]byte, 2*len(words))
	for i, w := range words {
		binary.BigEndian.PutUint16(out[2*i:], w)
	}
	return out
}
