// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2019-2023 IOTech Ltd
//
// SPDX-License-Identifier: Apache-2.0

// Package driver provides an implementation of a ProtocolDriver interface
// that serves Modbus registers through the serial broker.
package driver

import (
	"context"
	"fmt"
	"sync"

	"github.com/edgexfoundry/device-sdk-go/v4/pkg/interfaces"
	dsModels "github.com/edgexfoundry/device-sdk-go/v4/pkg/models"
	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"
	"github.com/edgexfoundry/go-mod-core-contracts/v4/errors"
	"github.com/edgexfoundry/go-mod-core-contracts/v4/models"

	"github.com/linjuya-lu/serial_broker_go/internal/client"
	"github.com/linjuya-lu/serial_broker_go/internal/config"
)

type Driver struct {
	lc   logger.LoggingClient
	sdk  interfaces.DeviceServiceSDK
	cfg  config.Config
	api  client.API
	conn *client.Conn
	db   *DB
	// locker 串行化设备的添加与移除
	locker sync.Mutex
}

var once sync.Once
var driver *Driver

func NewSerialBrokerDriver() interfaces.ProtocolDriver {
	once.Do(func() {
		driver = new(Driver)
	})
	return driver
}

// newDriver 在已有的 broker 连接上创建驱动
func newDriver(api client.API, cfg config.Config, lc logger.LoggingClient) *Driver {
	return &Driver{lc: lc, cfg: cfg, api: api, db: NewDB()}
}

func (d *Driver) Initialize(sdk interfaces.DeviceServiceSDK) error {
	d.sdk = sdk
	d.lc = sdk.LoggingClient()
	d.db = NewDB()

	ctx, cancel := context.WithTimeout(context.Background(), config.DefaultResponseTimeout)
	defer cancel()
	cfg, conn, err := connectBroker(ctx, d.lc)
	if err != nil {
		return fmt.Errorf("初始化串口 broker 客户端失败: %w", err)
	}
	d.cfg, d.conn, d.api = cfg, conn, conn
	return nil
}

func (d *Driver) Start() error {
	d.lc.Infof("serial broker driver started, protocol %s", d.cfg.Device.ProtocolName)
	return nil
}

func (d *Driver) commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), d.cfg.Device.CommandTimeout)
}

// device 返回已添加的设备；SDK 尚未调用 AddDevice 时按协议块即时添加
func (d *Driver) device(deviceName string, protocols map[string]models.ProtocolProperties) (*slaveDevice, error) {
	if dev, err := d.db.Get(deviceName); err == nil {
		return dev, nil
	}
	if err := d.AddDevice(deviceName, protocols, models.Unlocked); err != nil {
		return nil, err
	}
	return d.db.Get(deviceName)
}

func (d *Driver) HandleReadCommands(deviceName string, protocols map[string]models.ProtocolProperties, reqs []dsModels.CommandRequest) ([]*dsModels.CommandValue, error) {
	dev, err := d.device(deviceName, protocols)
	if err != nil {
		return nil, err
	}
	ctx, cancel := d.commandContext()
	defer cancel()

	res := make([]*dsModels.CommandValue, len(reqs))
	for i, req := range reqs {
		attrs, err := parseRegisterAttributes(req.DeviceResourceName, req.Attributes, req.Type)
		if err != nil {
			return nil, err
		}
		var r = dev.mdb.ReadHoldingRegisters
		op := "read-holding-registers"
		if attrs.Type == registerInput {
			r, op = dev.mdb.ReadInputRegisters, "read-input-registers"
		}
		out := r(ctx, attrs.Start, attrs.Qty)
		if !out.Success {
			return nil, resultError(op, deviceName, out)
		}
		regs, err := out.Registers()
		if err != nil {
			return nil, errors.NewCommonEdgeX(errors.KindServerError, "read "+req.DeviceResourceName, err)
		}
		cv, err := registerValue(req.DeviceResourceName, req.Type, regs)
		if err != nil {
			return nil, errors.NewCommonEdgeX(errors.KindContractInvalid, "read "+req.DeviceResourceName, err)
		}
		res[i] = cv
		d.lc.Debugf("读取值: %s.%s = %v", deviceName, req.DeviceResourceName, cv.Value)
	}
	return res, nil
}

func (d *Driver) HandleWriteCommands(deviceName string, protocols map[string]models.ProtocolProperties, reqs []dsModels.CommandRequest,
	params []*dsModels.CommandValue) error {
	if len(reqs) != len(params) {
		return errors.NewCommonEdgeX(errors.KindContractInvalid,
			fmt.Sprintf("%d write requests but %d values", len(reqs), len(params)), nil)
	}
	dev, err := d.device(deviceName, protocols)
	if err != nil {
		return err
	}
	ctx, cancel := d.commandContext()
	defer cancel()

	for i, req := range reqs {
		attrs, err := parseRegisterAttributes(req.DeviceResourceName, req.Attributes, req.Type)
		if err != nil {
			return err
		}
		if attrs.Type != registerHolding {
			return errors.NewCommonEdgeX(errors.KindContractInvalid,
				fmt.Sprintf("resource %s: %s registers are read-only", req.DeviceResourceName, attrs.Type), nil)
		}
		words, err := registerWords(params[i])
		if err != nil {
			return errors.NewCommonEdgeX(errors.KindContractInvalid, "write "+req.DeviceResourceName, err)
		}
		if len(words) == 1 {
			if out := dev.mdb.WriteSingleRegister(ctx, attrs.Start, int(words[0])); !out.Success {
				return resultError("write-holding-register", deviceName, out)
			}
		} else {
			values := make([]int, len(words))
			for j, w := range words {
				values[j] = int(w)
			}
			if out := dev.mdb.WriteMultipleRegisters(ctx, attrs.Start, values); !out.Success {
				return resultError("write-holding-registers", deviceName, out)
			}
		}
		d.lc.Debugf("写入值: %s.%s = %v", deviceName, req.DeviceResourceName, words)
	}
	return nil
}

// Stop 释放所有从站并断开与 broker 的连接
func (d *Driver) Stop(force bool) error {
	d.lc.Info("serial broker driver is stopping...")
	if !force {
		ctx, cancel := d.commandContext()
		defer cancel()
		for _, name := range d.db.Names() {
			if dev, ok := d.db.Delete(name); ok {
				dev.mdb.Free(ctx)
			}
		}
	}
	if d.conn != nil {
		return d.conn.Close()
	}
	return nil
}

func (d *Driver) AddDevice(deviceName string, protocols map[string]models.ProtocolProperties, adminState models.AdminState) error {
	d.locker.Lock()
	defer d.locker.Unlock()

	if _, err := d.db.Get(deviceName); err == nil {
		return nil
	}
	props, err := parseProtocol(deviceName, protocols, d.cfg.Device)
	if err != nil {
		return err
	}
	ctx, cancel := d.commandContext()
	defer cancel()
	dev, err := d.attach(ctx, deviceName, props)
	if err != nil {
		d.lc.Errorf("add device %s: %v", deviceName, err)
		return err
	}
	d.db.Add(dev)
	d.lc.Debugf("a new Device is added: %s", deviceName)
	return nil
}

func (d *Driver) UpdateDevice(deviceName string, protocols map[string]models.ProtocolProperties, adminState models.AdminState) error {
	if err := d.RemoveDevice(deviceName, protocols); err != nil {
		return err
	}
	d.lc.Debugf("Device %s is updated", deviceName)
	return d.AddDevice(deviceName, protocols, adminState)
}

func (d *Driver) RemoveDevice(deviceName string, protocols map[string]models.ProtocolProperties) error {
	d.locker.Lock()
	defer d.locker.Unlock()

	dev, ok := d.db.Delete(deviceName)
	if !ok {
		return nil
	}
	ctx, cancel := d.commandContext()
	defer cancel()
	if res := dev.mdb.Free(ctx); !res.Success {
		d.lc.Warnf("free slave %s for device %s: %s", dev.props.Tag, deviceName, res.Text())
	}
	d.lc.Debugf("Device %s is removed", deviceName)
	return nil
}

func (d *Driver) Discover() error {
	return fmt.Errorf("driver's Discover function isn't implemented")
}

// ValidateDevice 只检查协议块，不访问 broker
func (d *Driver) ValidateDevice(device models.Device) error {
	_, err := parseProtocol(device.Name, device.Protocols, d.cfg.Device)
	return err
}
