package gguf

import "fmt"

type TensorType uint32

const (
	TensorTypeF32  TensorType = 0
	TensorTypeF16  TensorType = 1
	TensorTypeQ4_0 TensorType = 2
	TensorTypeQ4_1 TensorType = 3
	TensorTypeQ5_0 TensorType = 6
	TensorTypeQ5_1 TensorType = 7
	TensorTypeQ8_0 TensorType = 8
	TensorTypeQ8_1 TensorType = 9
	TensorTypeQ2_K TensorType = 10
	TensorTypeQ3_K TensorType = 11
	TensorTypeQ4_K TensorType = 12
	TensorTypeQ5_K TensorType = 13
	TensorTypeQ6_K TensorType = 14
	TensorTypeQ8_K TensorType = 15
	TensorTypeI8   TensorType = 24
	TensorTypeI16  TensorType = 25
	TensorTypeI32  TensorType = 26
	TensorTypeI64  TensorType = 27
	TensorTypeF64  TensorType = 28
	TensorTypeBF16 TensorType = 30
)

type typeTraits struct {
	name      string
	blockSize uint64
	typeSize  uint64
}

var tensorTypes = map[TensorType]typeTraits{
	TensorTypeF32:  {"F32", 1, 4},
	TensorTypeF16:  {"F16", 1, 2},
	TensorTypeQ4_0: {"Q4_0", 32, 18},
	TensorTypeQ4_1: {"Q4_1", 32, 20},
	TensorTypeQ5_0: {"Q5_0", 32, 22},
	TensorTypeQ5_1: {"Q5_1", 32, 24},
	TensorTypeQ8_0: {"Q8_0", 32, 34},
	TensorTypeQ8_1: {"Q8_1", 32, 36},
	TensorTypeQ2_K: {"Q2_K", 256, 84},
	TensorTypeQ3_K: {"Q3_K", 256, 110},
	TensorTypeQ4_K: {"Q4_K", 256, 144},
	TensorTypeQ5_K: {"Q5_K", 256, 176},
	TensorTypeQ6_K: {"Q6_K", 256, 210},
	TensorTypeQ8_K: {"Q8_K", 256, 292},
	TensorTypeI8:   {"I8", 1, 1},
	TensorTypeI16:  {"I16", 1, 2},
	TensorTypeI32:  {"I32", 1, 4},
	TensorTypeI64:  {"I64", 1, 8},
	TensorTypeF64:  {"F64", 1, 8},
	TensorTypeBF16: {"BF16", 1, 2},
}

func (t TensorType) Valid() bool {
	_, ok := tensorTypes[t]
	return ok
}

// BlockSize is the number of elements stored in one block of the type.
func (t TensorType) BlockSize() uint64 {
	return tensorTypes[t].blockSize
}

// TypeSize is the number of bytes used by one block of the type.
func (t TensorType) TypeSize() uint64 {
	return tensorTypes[t].typeSize
}

func (t TensorType) String() string {
	if tt, ok := tensorTypes[t]; ok {
		return tt.name
	}
	return fmt.Sprintf("TensorType(%d)", uint32(t))
}

type TensorInfo struct {
	Name   string
	Offset uint64
	Shape  []uint64
	Type   TensorType
}

func (ti TensorInfo) Valid() bool {
	return ti.Name != "" && ti.Type.Valid() && len(ti.Shape) > 0
}

func (ti TensorInfo) NumValues() uint64 {
	var numItems uint64 = 1
	for _, dim := range ti.Shape {
		numItems *= dim
	}
	return numItems
}

// NumBytes returns the number of bytes in the tensor.
func (ti TensorInfo) NumBytes() uint64 {
	return ti.NumValues() * ti.Type.TypeSize() / ti.Type.BlockSize()
}

// value types of key-value pairs
const (
	typeUint8   uint32 = 0
	typeInt8    uint32 = 1
	typeUint16  uint32 = 2
	typeInt16   uint32 = 3
	typeUint32  uint32 = 4
	typeInt32   uint32 = 5
	typeFloat32 uint32 = 6
	typeBool    uint32 = 7
	typeString  uint32 = 8
	typeArray   uint32 = 9
	typeUint64  uint32 = 10
	typeInt64   uint32 = 11
	typeFloat64 uint32 = 12
)
