package ingest

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// RFC 8746 tags used on the wire.
const (
	tagMultiDimArray = 40
	tagUint8         = 64
	tagUint16LE      = 69
)

var errDimensionMismatch = errors.New("dimension mismatch")

// typedArray is a decoded multidimensional array. data is left in wire byte
// order so depth samples can be used without conversion.
type typedArray struct {
	dims     []int
	elemTag  uint64
	elemSize int
	data     []byte
}

// maxArrayBytes bounds a single decoded array; a 4K BGRA frame is well below.
const maxArrayBytes = 1 << 30

// elements returns the element count, or false when the dimensions describe
// more than maxArrayBytes.
func (a typedArray) elements() (int, bool) {
	size := a.elemSize
	if size < 1 {
		size = 1
	}
	n := 1
	for _, d := range a.dims {
		if d <= 0 || n > maxArrayBytes/size/d {
			return 0, false
		}
		n *= d
	}
	return n, true
}

func decodeMultiDimArray(value any) (typedArray, error) {
	tag, ok := value.(cbor.Tag)
	if !ok || tag.Number != tagMultiDimArray {
		return typedArray{}, fmt.Errorf("expected multidim tag 40")
	}

	items, ok := tag.Content.([]any)
	if !ok || len(items) != 2 {
		return typedArray{}, fmt.Errorf("invalid multidim array content")
	}

	dimsRaw, ok := items[0].([]any)
	if !ok || len(dimsRaw) < 2 || len(dimsRaw) > 3 {
		return typedArray{}, fmt.Errorf("invalid multidim dimensions")
	}
	dims := make([]int, len(dimsRaw))
	for i, raw := range dimsRaw {
		d, err := toInt(raw)
		if err != nil {
			return typedArray{}, err
		}
		if d <= 0 {
			return typedArray{}, fmt.Errorf("invalid dimension %d", d)
		}
		dims[i] = d
	}

	elemTag, data, err := decodeTypedArray(items[1])
	if err != nil {
		return typedArray{}, err
	}
	arr := typedArray{dims: dims, elemTag: elemTag, data: data}
	switch elemTag {
	case tagUint8:
		arr.elemSize = 1
	case tagUint16LE:
		arr.elemSize = 2
	}
	n, ok := arr.elements()
	if !ok {
		return typedArray{}, fmt.Errorf("%w: dims %v exceed %d bytes", errDimensionMismatch, dims, maxArrayBytes)
	}
	if n*arr.elemSize != len(data) {
		return typedArray{}, fmt.Errorf("%w: dims %v need %d bytes, got %d",
			errDimensionMismatch, dims, n*arr.elemSize, len(data))
	}
	return arr, nil
}

func decodeTypedArray(value any) (uint64, []byte, error) {
	tag, ok := value.(cbor.Tag)
	if !ok {
		return 0, nil, fmt.Errorf("expected typed array tag")
	}
	data, ok := tag.Content.([]byte)
	if !ok {
		return 0, nil, fmt.Errorf("unsupported typed array content %T", tag.Content)
	}
	switch tag.Number {
	case tagUint8, tagUint16LE:
		return tag.Number, data, nil
	default:
		return 0, nil, fmt.Errorf("unsupported typed array tag %d", tag.Number)
	}
}

func encodeMultiDimArray(dims []int, elemTag uint64, data []byte) cbor.Tag {
	return cbor.Tag{
		Number: tagMultiDimArray,
		Content: []any{
			dims,
			cbor.Tag{Number: elemTag, Content: data},
		},
	}
}
