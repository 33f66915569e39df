package protocol

// LineConfig 是 open-port / create-mdb-slave 的 config 字段
type LineConfig struct {
	BaudRate int    `json:"baudRate,omitempty" mapstructure:"baudRate" validate:"min=0"`
	Parity   string `json:"parity,omitempty" mapstructure:"parity" validate:"omitempty,oneof=none even odd mark space"`
	DataBits int    `json:"dataBits,omitempty" mapstructure:"dataBits" validate:"omitempty,oneof=5 6 7 8"`
	TagName  string `json:"tagName" mapstructure:"tagName" validate:"required"`
}

const (
	DefaultBaudRate = 9600
	DefaultDataBits = 8
	DefaultParity   = "none"
)

// WithDefaults 为零值字段填入默认值：9600 8N
func (c LineConfig) WithDefaults() LineConfig {
	if c.BaudRate == 0 {
		c.BaudRate = DefaultBaudRate
	}
	if c.DataBits == 0 {
		c.DataBits = DefaultDataBits
	}
	if c.Parity == "" {
		c.Parity = DefaultParity
	}
	return c
}

type OpenRequest struct {
	PortInfo PortDescriptor `json:"portInfo" mapstructure:"portInfo"`
	Config   LineConfig     `json:"config" mapstructure:"config"`
}

type TagRequest struct {
	TagName string `json:"tagName" mapstructure:"tagName" validate:"required"`
}

type ReadRequest struct {
	TagName  string `json:"tagName" mapstructure:"tagName" validate:"required"`
	Encoding string `json:"encoding,omitempty" mapstructure:"encoding" validate:"omitempty,oneof=hex utf8 ascii binary"`
}

// WriteMessage.Content 为字符串（按 Encoding 解释）或字节数组（忽略 Encoding）
type WriteMessage struct {
	Content  any    `json:"content" mapstructure:"content"`
	Encoding string `json:"encoding,omitempty" mapstructure:"encoding" validate:"omitempty,oneof=hex utf8 ascii binary"`
}

type WriteRequest struct {
	TagName string       `json:"tagName" mapstructure:"tagName" validate:"required"`
	Message WriteMessage `json:"message" mapstructure:"message"`
}

type NodeAddressRequest struct {
	NodeAddress int    `json:"nodeAddress" mapstructure:"nodeAddress" validate:"min=0,max=247"`
	TagName     string `json:"tagName" mapstructure:"tagName" validate:"required"`
}

type RegisterReadRequest struct {
	TagName      string `json:"tagName" mapstructure:"tagName" validate:"required"`
	StartAddress int    `json:"startAddress" mapstructure:"startAddress" validate:"min=0,max=65535"`
	Qty          int    `json:"qty" mapstructure:"qty" validate:"min=1,max=125"`
}

type RegisterWriteRequest struct {
	TagName      string `json:"tagName" mapstructure:"tagName" validate:"required"`
	StartAddress int    `json:"startAddress" mapstructure:"startAddress" validate:"min=0,max=65535"`
	Value        int    `json:"value" mapstructure:"value" validate:"min=0,max=65535"`
}

type RegistersWriteRequest struct {
	TagName      string `json:"tagName" mapstructure:"tagName" validate:"required"`
	StartAddress int    `json:"startAddress" mapstructure:"startAddress" validate:"min=0,max=65535"`
	ArrValues    []int  `json:"arrValues" mapstructure:"arrValues" validate:"min=1,max=123,dive,min=0,max=65535"`
}

type DeviceIDRequest struct {
	TagName  string `json:"tagName" mapstructure:"tagName" validate:"required"`
	IDCode   int    `json:"idCode" mapstructure:"idCode" validate:"min=1,max=4"`
	ObjectID int    `json:"objectId" mapstructure:"objectId" validate:"min=0,max=255"`
}

// PortSummary 是 get-openports 中每个 tag 的摘要
type PortSummary struct {
	Path     string `json:"path"`
	BaudRate int    `json:"baudRate"`
	Parity   string `json:"parity"`
	IsOpen   bool   `json:"isOpen"`
	Readable bool   `json:"readable"`
	Writable bool   `json:"writable"`
}

// SlaveSummary 是 active-slave 中每个 tag 的摘要
type SlaveSummary struct {
	Path        string `json:"path"`
	NodeAddress int    `json:"nodeAddress"`
	IsOpen      bool   `json:"isOpen"`
}
