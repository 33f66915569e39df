package protocol

import (
	"fmt"
	"strings"
)

// PortDescriptor 是操作系统枚举出的串口快照，Path 在系统内唯一
type PortDescriptor struct {
	Path         string `json:"path" mapstructure:"path" validate:"required"`
	Manufacturer string `json:"manufacturer,omitempty" mapstructure:"manufacturer"`
	SerialNumber string `json:"serialNumber,omitempty" mapstructure:"serialNumber"`
	PnpID        string `json:"pnpId,omitempty" mapstructure:"pnpId"`
	LocationID   string `json:"locationId,omitempty" mapstructure:"locationId"`
	VendorID     string `json:"vendorId,omitempty" mapstructure:"vendorId"`
	ProductID    string `json:"productId,omitempty" mapstructure:"productId"`
	Product      string `json:"product,omitempty" mapstructure:"product"`
	IsUSB        bool   `json:"isUsb" mapstructure:"isUsb"`
}

// PnpIDFor 在系统没有提供 pnpId 时按 USB VID/PID/序列号合成一个
func PnpIDFor(vid, pid, serial string) string {
	if vid == "" && pid == "" {
		return ""
	}
	id := fmt.Sprintf("USB\\VID_%s&PID_%s", strings.ToUpper(vid), strings.ToUpper(pid))
	if serial != "" {
		id += "\\" + serial
	}
	return id
}

// SameDevice 判断两个描述是否指向同一个物理端口（路径与硬件标识都一致）
func (d PortDescriptor) SameDevice(o PortDescriptor) bool {
	return d.Path == o.Path && d.PnpID == o.PnpID
}

// Property 按 JSON 属性名取值，供端口过滤使用
func (d PortDescriptor) Property(name string) (string, bool) {
	switch name {
	case "path":
		return d.Path, true
	case "manufacturer":
		return d.Manufacturer, true
	case "serialNumber":
		return d.SerialNumber, true
	case "pnpId":
		return d.PnpID, true
	case "locationId":
		return d.LocationID, true
	case "vendorId":
		return d.VendorID, true
	case "productId":
		return d.ProductID, true
	case "product":
		return d.Product, true
	case "isUsb":
		return fmt.Sprint(d.IsUSB), true
	}
	return "", false
}

// PortFilter 属性名 → 期望值
type PortFilter map[string]string

// FilterPorts 返回匹配 filter 中任一属性的端口，保持枚举顺序且不重复。
// 过滤条件为空时返回 nil。
func FilterPorts(ports []PortDescriptor, filter PortFilter) []PortDescriptor {
	var out []PortDescriptor
	seen := make(map[string]bool)
	for _, p := range ports {
		for prop, want := range filter {
			if got, ok := p.Property(prop); ok && got == want && !seen[p.Path] {
				seen[p.Path] = true
				out = append(out, p)
			}
		}
	}
	return out
}
