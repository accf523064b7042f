package dispatch

import (
	"fmt"
	"strings"
)

// DataType is an element type a caller can declare for kernel inputs and
// outputs.
type DataType int

const (
	DataTypeUndefined DataType = iota
	DataTypeInt8
	DataTypeInt32
	DataTypeFloat16
	DataTypeBFloat16
	DataTypeFloat32
)

var dataTypeNames = map[DataType]string{
	DataTypeUndefined: "undefined",
	DataTypeInt8:      "int8",
	DataTypeInt32:     "int32",
	DataTypeFloat16:   "float16",
	DataTypeBFloat16:  "bf16",
	DataTypeFloat32:   "float32",
}

func (t DataType) String() string {
	if name, ok := dataTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("DataType(%d)", int(t))
}

// Size returns the element size in bytes, or 0 for undefined types.
func (t DataType) Size() int {
	switch t {
	case DataTypeInt8:
		return 1
	case DataTypeFloat16, DataTypeBFloat16:
		return 2
	case DataTypeInt32, DataTypeFloat32:
		return 4
	default:
		return 0
	}
}

// ParseDataType accepts the names String produces plus a few common
// aliases.
func ParseDataType(s string) (DataType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "int8", "i8":
		return DataTypeInt8, nil
	case "int32", "i32":
		return DataTypeInt32, nil
	case "float16", "fp16", "f16", "half":
		return DataTypeFloat16, nil
	case "bf16", "bfloat16":
		return DataTypeBFloat16, nil
	case "float32", "fp32", "f32", "float":
		return DataTypeFloat32, nil
	default:
		return DataTypeUndefined, fmt.Errorf("unknown data type %q", s)
	}
}

func (t DataType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *DataType) UnmarshalText(b []byte) error {
	v, err := ParseDataType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}
