package driver

import (
	"fmt"
	"strings"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/errors"
	"github.com/edgexfoundry/go-mod-core-contracts/v4/models"
	"github.com/spf13/cast"

	"github.com/linjuya-lu/serial_broker_go/internal/config"
	"github.com/linjuya-lu/serial_broker_go/internal/protocol"
)

// 协议块中的属性名
const (
	propTag         = "tag"
	propPath        = "path"
	propPnpID       = "pnpId"
	propBaudRate    = "baudRate"
	propParity      = "parity"
	propNodeAddress = "nodeAddress"
)

// 设备资源 attributes 中的属性名
const (
	attrRegisterType = "registerType"
	attrStartAddress = "startAddress"
	attrQty          = "qty"

	registerHolding = "holding"
	registerInput   = "input"
)

// slaveProps 是设备协议块解析后的结果
type slaveProps struct {
	Tag         string
	Path        string
	PnpID       string
	BaudRate    int
	Parity      string
	NodeAddress int
}

func (p slaveProps) port() protocol.PortDescriptor {
	return protocol.PortDescriptor{Path: p.Path, PnpID: p.PnpID}
}

func (p slaveProps) line() protocol.LineConfig {
	return protocol.LineConfig{BaudRate: p.BaudRate, Parity: p.Parity}
}

func parseProtocol(deviceName string, protocols map[string]models.ProtocolProperties, cfg config.Device) (slaveProps, error) {
	pp, ok := protocols[cfg.ProtocolName]
	if !ok {
		return slaveProps{}, errors.NewCommonEdgeX(errors.KindContractInvalid,
			fmt.Sprintf("device %s has no %s protocol", deviceName, cfg.ProtocolName), nil)
	}
	props := slaveProps{
		Tag:         deviceName,
		BaudRate:    cfg.BaudRate,
		Parity:      cfg.Parity,
		NodeAddress: cfg.NodeAddress,
	}
	var err error
	if v, ok := pp[propTag]; ok {
		if props.Tag, err = cast.ToStringE(v); err != nil {
			return slaveProps{}, invalidProperty(deviceName, propTag, err)
		}
	}
	if props.Path, err = cast.ToStringE(pp[propPath]); err != nil {
		return slaveProps{}, invalidProperty(deviceName, propPath, err)
	}
	if props.PnpID, err = cast.ToStringE(pp[propPnpID]); err != nil {
		return slaveProps{}, invalidProperty(deviceName, propPnpID, err)
	}
	if v, ok := pp[propBaudRate]; ok {
		if props.BaudRate, err = cast.ToIntE(v); err != nil || props.BaudRate <= 0 {
			return slaveProps{}, invalidProperty(deviceName, propBaudRate, err)
		}
	}
	if v, ok := pp[propParity]; ok {
		if props.Parity, err = cast.ToStringE(v); err != nil {
			return slaveProps{}, invalidProperty(deviceName, propParity, err)
		}
		props.Parity = strings.ToLower(props.Parity)
	}
	if v, ok := pp[propNodeAddress]; ok {
		props.NodeAddress, err = cast.ToIntE(v)
		if err != nil || props.NodeAddress < 0 || props.NodeAddress > 247 {
			return slaveProps{}, invalidProperty(deviceName, propNodeAddress, err)
		}
	}
	props.Tag = strings.TrimSpace(props.Tag)
	if props.Tag == "" {
		return slaveProps{}, invalidProperty(deviceName, propTag, nil)
	}
	if props.Path == "" && props.PnpID == "" {
		return slaveProps{}, errors.NewCommonEdgeX(errors.KindContractInvalid,
			fmt.Sprintf("device %s needs %s or %s", deviceName, propPath, propPnpID), nil)
	}
	return props, nil
}

func invalidProperty(deviceName, name string, err error) errors.EdgeX {
	return errors.NewCommonEdgeX(errors.KindContractInvalid,
		fmt.Sprintf("device %s: invalid protocol property %s", deviceName, name), err)
}

// registerAttrs 是一个设备资源对应的寄存器区间
type registerAttrs struct {
	Type  string
	Start int
	Qty   int
}

// parseRegisterAttributes 解析资源 attributes；qty 缺省时按值类型推断
func parseRegisterAttributes(resource string, attrs map[string]any, valueType string) (registerAttrs, error) {
	ra := registerAttrs{Type: registerHolding, Qty: wordsFor(valueType)}
	var err error
	if v, ok := attrs[attrRegisterType]; ok {
		if ra.Type, err = cast.ToStringE(v); err != nil {
			return ra, invalidAttribute(resource, attrRegisterType, err)
		}
		ra.Type = strings.ToLower(ra.Type)
	}
	if ra.Type != registerHolding && ra.Type != registerInput {
		return ra, invalidAttribute(resource, attrRegisterType, fmt.Errorf("want %s or %s, got %q", registerHolding, registerInput, ra.Type))
	}
	v, ok := attrs[attrStartAddress]
	if !ok {
		return ra, invalidAttribute(resource, attrStartAddress, fmt.Errorf("missing"))
	}
	if ra.Start, err = cast.ToIntE(v); err != nil || ra.Start < 0 || ra.Start > 65535 {
		return ra, invalidAttribute(resource, attrStartAddress, err)
	}
	if v, ok := attrs[attrQty]; ok {
		if ra.Qty, err = cast.ToIntE(v); err != nil || ra.Qty < 1 || ra.Qty > 125 {
			return ra, invalidAttribute(resource, attrQty, err)
		}
	}
	return ra, nil
}

func invalidAttribute(resource, name string, err error) errors.EdgeX {
	return errors.NewCommonEdgeX(errors.KindContractInvalid,
		fmt.Sprintf("resource %s: invalid attribute %s", resource, name), err)
}
