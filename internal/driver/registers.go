// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2025 YourCompany
//
// SPDX-License-Identifier: Apache-2.0

package driver

import (
	"fmt"

	"github.com/edgexfoundry/device-sdk-go/v4/pkg/models"
	"github.com/edgexfoundry/go-mod-core-contracts/v4/common"
)

// wordsFor 返回值类型默认占用的寄存器个数
func wordsFor(valueType string) int {
	switch valueType {
	case common.ValueTypeUint32, common.ValueTypeInt32:
		return 2
	}
	return 1
}

// registerValue 把读到的寄存器封装成对应类型的 CommandValue。
// 32 位类型按高字在前组合两个寄存器。
func registerValue(deviceResourceName, valueType string, regs []uint16) (*models.CommandValue, error) {
	need := wordsFor(valueType)
	if valueType != common.ValueTypeUint16Array && len(regs) < need {
		return nil, fmt.Errorf("%s needs %d registers, got %d", valueType, need, len(regs))
	}

	var v any
	switch valueType {
	case common.ValueTypeUint16:
		v = regs[0]
	case common.ValueTypeInt16:
		v = int16(regs[0])
	case common.ValueTypeUint32:
		v = uint32(regs[0])<<16 | uint32(regs[1])
	case common.ValueTypeInt32:
		v = int32(uint32(regs[0])<<16 | uint32(regs[1]))
	case common.ValueTypeUint16Array:
		v = append([]uint16(nil), regs...)
	default:
		return nil, fmt.Errorf("unsupported register value type: %s", valueType)
	}

	cv, err := models.NewCommandValue(deviceResourceName, valueType, v)
	if err != nil {
		return nil, fmt.Errorf("creating %s CommandValue: %w", valueType, err)
	}
	return cv, nil
}

// registerWords 把上层下发的 CommandValue 拆成待写入的寄存器
func registerWords(param *models.CommandValue) ([]uint16, error) {
	var (
		words []uint16
		err   error
	)
	switch param.Type {
	case common.ValueTypeUint16:
		var v uint16
		if v, err = param.Uint16Value(); err == nil {
			words = []uint16{v}
		}
	case common.ValueTypeInt16:
		var v int16
		if v, err = param.Int16Value(); err == nil {
			words = []uint16{uint16(v)}
		}
	case common.ValueTypeUint32:
		var v uint32
		if v, err = param.Uint32Value(); err == nil {
			words = []uint16{uint16(v >> 16), uint16(v)}
		}
	case common.ValueTypeInt32:
		var v int32
		if v, err = param.Int32Value(); err == nil {
			words = []uint16{uint16(uint32(v) >> 16), uint16(v)}
		}
	case common.ValueTypeUint16Array:
		words, err = param.Uint16ArrayValue()
	default:
		return nil, fmt.Errorf("unsupported register value type: %s", param.Type)
	}

	if err != nil {
		return nil, fmt.Errorf("invalid register write for %s: %w", param.DeviceResourceName, err)
	}
	if len(words) == 0 {
		return nil, fmt.Errorf("no registers to write for %s", param.DeviceResourceName)
	}
	return words, nil
}
