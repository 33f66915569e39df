// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018-2022 IOTech Ltd
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"github.com/edgexfoundry/device-sdk-go/v4/pkg/startup"

	"github.com/linjuya-lu/serial_broker_go/internal/driver"
)

const (
	serviceName string = "device-serial-broker"
)

// Version 由构建时的 -ldflags 覆盖
var Version = "0.0.0"

func main() {
	d := driver.NewSerialBrokerDriver()
	startup.Bootstrap(serviceName, Version, d)
}
