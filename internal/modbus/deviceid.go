package modbus

import "fmt"

const (
	funcCodeEncapsulated = 0x2B
	meiReadDeviceID      = 0x0E
)

// DeviceIdentification 是 FC 0x2B / MEI 0x0E 的解析结果，Objects 以对象 id 为键
type DeviceIdentification struct {
	ConformityLevel int            `json:"conformityLevel"`
	MoreFollows     bool           `json:"moreFollows"`
	NextObjectID    int            `json:"nextObjectId"`
	Objects         map[int]string `json:"data"`
}

func deviceIDRequest(idCode, objectID byte) []byte {
	return []byte{meiReadDeviceID, idCode, objectID}
}

// parseDeviceID 解析响应 PDU 的数据部分（不含功能码）：
// MEI, ReadDevIdCode, Conformity, MoreFollows, NextObjectId, NumberOfObjects, {id, len, value}...
func parseDeviceID(data []byte) (DeviceIdentification, error) {
	var out DeviceIdentification
	if len(data) < 6 {
		return out, fmt.Errorf("device identification response too short: %d bytes", len(data))
	}
	if data[0] != meiReadDeviceID {
		return out, fmt.Errorf("unexpected MEI type 0x%02X", data[0])
	}
	out.ConformityLevel = int(data[2])
	out.MoreFollows = data[3] == 0xFF
	out.NextObjectID = int(data[4])
	n := int(data[5])
	out.Objects = make(map[int]string, n)

	rest := data[6:]
	for i := 0; i < n; i++ {
		if len(rest) < 2 {
			return out, fmt.Errorf("object %d header truncated", i)
		}
		id, size := int(rest[0]), int(rest[1])
		if len(rest) < 2+size {
			return out, fmt.Errorf("object 0x%02X truncated", id)
		}
		out.Objects[id] = string(rest[2 : 2+size])
		rest = rest[2+size:]
	}
	return out, nil
}
