package broker

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
)

type kind int

const (
	kindString kind = iota
	kindInteger
	kindObject
	kindArray
	// kindContent 是字符串或数组
	kindContent
)

func (k kind) String() string {
	switch k {
	case kindString:
		return "string"
	case kindInteger:
		return "integer"
	case kindObject:
		return "object"
	case kindArray:
		return "array"
	}
	return "string or array"
}

// field 描述一个载荷字段，name 用点号表示嵌套
type field struct {
	name     string
	kind     kind
	optional bool
}

func req(name string, k kind) field { return field{name: name, kind: k} }
func opt(name string, k kind) field { return field{name: name, kind: k, optional: true} }

var (
	lineRequest = []field{
		req("portInfo", kindObject), req("portInfo.path", kindString), opt("portInfo.pnpId", kindString),
		req("config", kindObject), req("config.tagName", kindString),
		opt("config.baudRate", kindInteger), opt("config.parity", kindString), opt("config.dataBits", kindInteger),
	}
	tagRequest      = []field{req("tagName", kindString)}
	readRequest     = []field{req("tagName", kindString), opt("encoding", kindString)}
	writeRequest    = []field{req("tagName", kindString), req("message", kindObject), req("message.content", kindContent), opt("message.encoding", kindString)}
	nodeRequest     = []field{req("nodeAddress", kindInteger), req("tagName", kindString)}
	regReadRequest  = []field{req("tagName", kindString), req("startAddress", kindInteger), req("qty", kindInteger)}
	regWriteRequest = []field{req("tagName", kindString), req("startAddress", kindInteger), req("value", kindInteger)}
	regsRequest     = []field{req("tagName", kindString), req("startAddress", kindInteger), req("arrValues", kindArray)}
	deviceIDRequest = []field{req("tagName", kindString), req("idCode", kindInteger), req("objectId", kindInteger)}
)

// payloadError 汇总一个请求中所有不合格的字段
type payloadError struct {
	problems []string
}

func (e *payloadError) Error() string {
	return strings.Join(e.problems, "\n")
}

func (e *payloadError) add(format string, args ...any) {
	e.problems = append(e.problems, fmt.Sprintf(format, args...))
}

func (e *payloadError) orNil() error {
	if len(e.problems) == 0 {
		return nil
	}
	return e
}

// checkShape 校验字段存在、非 null 且为期望的基本类型
func checkShape(data map[string]any, fields []field) error {
	perr := &payloadError{}
	for _, f := range fields {
		v, present := lookupPath(data, f.name)
		if !present || v == nil {
			if !f.optional {
				perr.add("%q is required (non-null %s)", f.name, f.kind)
			}
			continue
		}
		if !isKind(v, f.kind) {
			perr.add("%q must be of type %s, got %s", f.name, f.kind, describeJSON(v))
		}
	}
	return perr.orNil()
}

func lookupPath(data map[string]any, name string) (any, bool) {
	var cur any = data
	for _, part := range strings.Split(name, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}

func isKind(v any, k kind) bool {
	switch k {
	case kindString:
		_, ok := v.(string)
		return ok
	case kindInteger:
		f, ok := v.(float64)
		return ok && f == math.Trunc(f) && !math.IsInf(f, 0)
	case kindObject:
		_, ok := v.(map[string]any)
		return ok
	case kindArray:
		_, ok := v.([]any)
		return ok
	case kindContent:
		return isKind(v, kindString) || isKind(v, kindArray)
	}
	return false
}

func describeJSON(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	}
	return fmt.Sprintf("%T", v)
}

// payloadDecoder 依次做类型校验、mapstructure 解码与 validator 取值范围检查
type payloadDecoder struct {
	validate *validator.Validate
}

func newPayloadDecoder() *payloadDecoder {
	return &payloadDecoder{validate: validator.New()}
}

func (d *payloadDecoder) decode(raw json.RawMessage, fields []field, out any) error {
	var data map[string]any
	if len(raw) == 0 || string(raw) == "null" {
		data = map[string]any{}
	} else if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("payload must be a JSON object: %v", err)
	}
	if err := checkShape(data, fields); err != nil {
		return err
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{TagName: "mapstructure", Result: out})
	if err != nil {
		return err
	}
	if err := dec.Decode(data); err != nil {
		return err
	}
	if err := d.validate.Struct(out); err != nil {
		return describeValidation(err)
	}
	return nil
}

// decodeTag 接受裸字符串或 {tagName}
func (d *payloadDecoder) decodeTag(raw json.RawMessage) (string, error) {
	var tag string
	if err := json.Unmarshal(raw, &tag); err == nil {
		if tag == "" {
			return "", &payloadError{problems: []string{`"tagName" is required (non-empty string)`}}
		}
		return tag, nil
	}
	var r struct {
		TagName string `mapstructure:"tagName" validate:"required"`
	}
	if err := d.decode(raw, tagRequest, &r); err != nil {
		return "", err
	}
	return r.TagName, nil
}

func describeValidation(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	perr := &payloadError{}
	for _, fe := range verrs {
		if fe.Param() != "" {
			perr.add("%q failed %s=%s (got %v)", fe.Namespace(), fe.Tag(), fe.Param(), fe.Value())
		} else {
			perr.add("%q failed %s (got %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
	}
	return perr
}
