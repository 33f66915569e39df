package protocol

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

const (
	EncodingHex    = "hex"
	EncodingUTF8   = "utf8"
	EncodingASCII  = "ascii"
	EncodingBinary = "binary"
)

// 寄存器/字节的十六进制字符宽度
const (
	WidthByte  = 2
	WidthWord  = 4
	WidthDWord = 8
)

// EncodeBytes 把接收到的字节按编码转为字符串
func EncodeBytes(b []byte, encoding string) (string, error) {
	switch encoding {
	case "", EncodingHex:
		return hex.EncodeToString(b), nil
	case EncodingUTF8:
		return string(b), nil
	case EncodingASCII:
		out := make([]byte, len(b))
		for i, c := range b {
			out[i] = c & 0x7f
		}
		return string(out), nil
	case EncodingBinary:
		var sb strings.Builder
		for _, c := range b {
			sb.WriteRune(rune(c))
		}
		return sb.String(), nil
	}
	return "", fmt.Errorf("unsupported encoding %q", encoding)
}

// DecodeContent 把待发送内容转为字节。
// 字符串按 encoding 解释；数组（[]any / []int / []byte）逐项作为字节，忽略 encoding。
func DecodeContent(content any, encoding string) ([]byte, error) {
	switch c := content.(type) {
	case string:
		return decodeString(c, encoding)
	case []byte:
		return c, nil
	case []int:
		return intsToBytes(c)
	case []any:
		ints := make([]int, len(c))
		for i, v := range c {
			f, ok := v.(float64)
			if !ok || f != float64(int(f)) {
				return nil, fmt.Errorf("content[%d] is not an integer: %v", i, v)
			}
			ints[i] = int(f)
		}
		return intsToBytes(ints)
	}
	return nil, fmt.Errorf("content must be a string or byte array, got %T", content)
}

func decodeString(s, encoding string) ([]byte, error) {
	switch encoding {
	case "", EncodingHex:
		b, err := hex.DecodeString(strings.ReplaceAll(s, " ", ""))
		if err != nil {
			return nil, fmt.Errorf("invalid hex content %q: %w", s, err)
		}
		return b, nil
	case EncodingUTF8:
		return []byte(s), nil
	case EncodingASCII, EncodingBinary:
		out := make([]byte, 0, len(s))
		for _, r := range s {
			out = append(out, byte(r))
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported encoding %q", encoding)
}

func intsToBytes(ints []int) ([]byte, error) {
	out := make([]byte, len(ints))
	for i, v := range ints {
		if v < 0 || v > 0xff {
			return nil, fmt.Errorf("content[%d]=%d out of byte range", i, v)
		}
		out[i] = byte(v)
	}
	return out, nil
}

// HexToWords 按 width 个十六进制字符切分字符串并解析为整数，剩余不足一组的字符被丢弃
func HexToWords(s string, width int) []int {
	var out []int
	for len(s) >= width && width > 0 {
		v, err := strconv.ParseUint(s[:width], 16, 64)
		if err != nil {
			break
		}
		out = append(out, int(v))
		s = s[width:]
	}
	return out
}

// WordsToHex 把整数格式化为定宽大写十六进制并以 sep 连接
func WordsToHex(words []int, width int, sep string) string {
	parts := make([]string, len(words))
	for i, w := range words {
		parts[i] = fmt.Sprintf("%0*X", width, w)
	}
	return strings.Join(parts, sep)
}
