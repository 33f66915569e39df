// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018-2022 IOTech Ltd
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"
)

func main() {
	code, err := newRootCmd().execute()
	if err != nil {
		os.Exit(1)
	}
	os.Exit(code)
}
