package serial

import (
	"go.bug.st/serial/enumerator"

	"github.com/linjuya-lu/serial_broker_go/internal/protocol"
)

// Enumerator 列出系统上的串口
type Enumerator func() ([]protocol.PortDescriptor, error)

// SystemPorts 通过 go.bug.st/serial/enumerator 枚举串口，USB 口附带 VID/PID/序列号
func SystemPorts() ([]protocol.PortDescriptor, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}
	out := make([]protocol.PortDescriptor, 0, len(details))
	for _, d := range details {
		out = append(out, describe(d))
	}
	return out, nil
}

func describe(d *enumerator.PortDetails) protocol.PortDescriptor {
	desc := protocol.PortDescriptor{Path: d.Name}
	if d.IsUSB {
		desc.IsUSB = true
		desc.VendorID = d.VID
		desc.ProductID = d.PID
		desc.SerialNumber = d.SerialNumber
		desc.PnpID = protocol.PnpIDFor(d.VID, d.PID, d.SerialNumber)
		desc.Product = d.Product
	}
	return desc
}
