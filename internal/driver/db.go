package driver

import (
	"sort"
	"sync"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/errors"

	"github.com/linjuya-lu/serial_broker_go/internal/client"
)

// slaveDevice 是一个 EdgeX 设备对应的 broker 从站会话
type slaveDevice struct {
	name  string
	props slaveProps
	mdb   *client.Modbus
}

// DB 是一个简单的内存表：DeviceName → slaveDevice
type DB struct {
	mu    sync.RWMutex
	store map[string]*slaveDevice
}

func NewDB() *DB {
	return &DB{store: make(map[string]*slaveDevice)}
}

// Add 添加或替换一个设备
func (d *DB) Add(dev *slaveDevice) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.store[dev.name] = dev
}

// Get 返回设备，不存在时返回 KindEntityDoesNotExist
func (d *DB) Get(deviceName string) (*slaveDevice, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	dev, ok := d.store[deviceName]
	if !ok {
		return nil, errors.NewCommonEdgeX(errors.KindEntityDoesNotExist, "device "+deviceName+" not found", nil)
	}
	return dev, nil
}

// Delete 删除设备并返回被删除的条目
func (d *DB) Delete(deviceName string) (*slaveDevice, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	dev, ok := d.store[deviceName]
	delete(d.store, deviceName)
	return dev, ok
}

// Names 按字母序返回所有设备名
func (d *DB) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.store))
	for n := range d.store {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
