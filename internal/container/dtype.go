package container

import (
	"encoding/binary"
	"fmt"
	"math"
)

// DType is a Zarr v2 dtype string such as "<f4" or "|b1". The first byte is
// the byte order ("<" little, ">" big, "|" not applicable), the second the
// kind, and the rest the element size in bytes.
type DType string

// Canonical little-endian dtypes used when writing.
const (
	Float32 DType = "<f4"
	Float64 DType = "<f8"
	Int8    DType = "|i1"
	Int16   DType = "<i2"
	Int32   DType = "<i4"
	Int64   DType = "<i8"
	Uint8   DType = "|u1"
	Uint16  DType = "<u2"
	Uint32  DType = "<u4"
	Uint64  DType = "<u8"
	Bool    DType = "|b1"
)

func (d DType) valid() bool {
	_, _, _, err := d.parts()
	return err == nil
}

func (d DType) parts() (order binary.ByteOrder, kind byte, size int, err error) {
	if len(d) < 3 {
		return nil, 0, 0, fmt.Errorf("invalid dtype %q", string(d))
	}
	switch d[0] {
	case '<', '|':
		order = binary.LittleEndian
	case '>':
		order = binary.BigEndian
	default:
		return nil, 0, 0, fmt.Errorf("invalid dtype byte order in %q", string(d))
	}
	kind = d[1]
	switch string(d[2:]) {
	case "1":
		size = 1
	case "2":
		size = 2
	case "4":
		size = 4
	case "8":
		size = 8
	default:
		return nil, 0, 0, fmt.Errorf("unsupported dtype size in %q", string(d))
	}
	switch kind {
	case 'f':
		if size != 4 && size != 8 {
			return nil, 0, 0, fmt.Errorf("unsupported float size in %q", string(d))
		}
	case 'i', 'u':
	case 'b':
		if size != 1 {
			return nil, 0, 0, fmt.Errorf("unsupported bool size in %q", string(d))
		}
	default:
		return nil, 0, 0, fmt.Errorf("unsupported dtype kind %q", string(kind))
	}
	return order, kind, size, nil
}

// Size returns the element size in bytes.
func (d DType) Size() (int, error) {
	_, _, size, err := d.parts()
	return size, err
}

// Decode converts raw chunk bytes into float64 values.
func (d DType) Decode(raw []byte) ([]float64, error) {
	order, kind, size, err := d.parts()
	if err != nil {
		return nil, err
	}
	if len(raw)%size != 0 {
		return nil, fmt.Errorf("chunk length %d not a multiple of element size %d for %q", len(raw), size, string(d))
	}
	n := len(raw) / size
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		b := raw[i*size : (i+1)*size]
		switch kind {
		case 'f':
			if size == 4 {
				out[i] = float64(math.Float32frombits(order.Uint32(b)))
			} else {
				out[i] = math.Float64frombits(order.Uint64(b))
			}
		case 'i':
			switch size {
			case 1:
				out[i] = float64(int8(b[0]))
			case 2:
				out[i] = float64(int16(order.Uint16(b)))
			case 4:
				out[i] = float64(int32(order.Uint32(b)))
			case 8:
				out[i] = float64(int64(order.Uint64(b)))
			}
		case 'u':
			switch size {
			case 1:
				out[i] = float64(b[0])
			case 2:
				out[i] = float64(order.Uint16(b))
			case 4:
				out[i] = float64(order.Uint32(b))
			case 8:
				out[i] = float64(order.Uint64(b))
			}
		case 'b':
			if b[0] != 0 {
				out[i] = 1
			}
		}
	}
	return out, nil
}

// Encode converts float64 values into raw little-endian chunk bytes. Writers
// always emit little-endian regardless of the dtype's declared order.
func (d DType) Encode(values []float64) ([]byte, error) {
	_, kind, size, err := d.parts()
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(values)*size)
	for i, v := range values {
		b := out[i*size : (i+1)*size]
		switch kind {
		case 'f':
			if size == 4 {
				binary.LittleEndian.PutUint32(b, math.Float32bits(float32(v)))
			} else {
				binary.LittleEndian.PutUint64(b, math.Float64bits(v))
			}
		case 'i':
			iv := int64(v)
			switch size {
			case 1:
				b[0] = byte(int8(iv))
			case 2:
				binary.LittleEndian.PutUint16(b, uint16(int16(iv)))
			case 4:
				binary.LittleEndian.PutUint32(b, uint32(int32(iv)))
			case 8:
				binary.LittleEndian.PutUint64(b, uint64(iv))
			}
		case 'u':
			uv := uint64(v)
			switch size {
			case 1:
				b[0] = byte(uv)
			case 2:
				binary.LittleEndian.PutUint16(b, uint16(uv))
			case 4:
				binary.LittleEndian.PutUint32(b, uint32(uv))
			case 8:
				binary.LittleEndian.PutUint64(b, uv)
			}
		case 'b':
			if v != 0 {
				b[0] = 1
			}
		}
	}
	return out, nil
}

// Canonical maps a dtype onto its little-endian writing form, so cropped
// copies of big-endian sources stay readable by the writer path.
func (d DType) Canonical() DType {
	if len(d) >= 1 && d[0] == '>' {
		return DType("<" + string(d[1:]))
	}
	return d
}
