package ptckpt

import (
	"bytes"
	"fmt"
	"math"

	"github.com/nlpodyssey/gopickle/pytorch"
)

// maxTensorElements bounds the size of a single rebuilt tensor
const maxTensorElements = 1 << 30

// storageType is the element type of a torch storage, identified by its legacy class name
type storageType struct {
	name     string
	dtype    string
	elemSize int
	float    bool
	class    pytorch.StorageClassInterface
}

var storageTypes = map[string]*storageType{
	"FloatStorage":    {"FloatStorage", "float32", 4, true, &pytorch.FloatStorageClass{}},
	"DoubleStorage":   {"DoubleStorage", "float64", 8, true, &pytorch.DoubleStorageClass{}},
	"HalfStorage":     {"HalfStorage", "float16", 2, true, &pytorch.HalfStorageClass{}},
	"BFloat16Storage": {"BFloat16Storage", "bfloat16", 2, true, &pytorch.BFloat16StorageClass{}},
	"LongStorage":     {"LongStorage", "int64", 8, false, &pytorch.LongStorageClass{}},
	"IntStorage":      {"IntStorage", "int32", 4, false, &pytorch.IntStorageClass{}},
	"ShortStorage":    {"ShortStorage", "int16", 2, false, &pytorch.ShortStorageClass{}},
	"CharStorage":     {"CharStorage", "int8", 1, false, &pytorch.CharStorageClass{}},
	"ByteStorage":     {"ByteStorage", "uint8", 1, false, &pytorch.ByteStorageClass{}},
	"BoolStorage":     {"BoolStorage", "bool", 1, false, &pytorch.BoolStorageClass{}},
}

// storage is one decoded data/<key> record.
// It embeds the typed gopickle storage, so that it can be handed to pytorch.RebuildTensorV2.
type storage struct {
	pytorch.StorageInterface
	typ   *storageType
	numel int
}

// decodeStorage decodes numel little endian elements out of raw
func decodeStorage(typ *storageType, raw []byte, numel int, location string) (*storage, error) {
	if numel < 0 {
		return nil, fmt.Errorf("Storage has negative size %v", numel)
	}
	if numel > len(raw)/typ.elemSize {
		return nil, fmt.Errorf("Storage of %v %v elements needs %v bytes, but the record holds %v", numel, typ.dtype, uint64(numel)*uint64(typ.elemSize), len(raw))
	}
	data := typ.class.New(numel, location)
	if err := data.SetFromFileWithSize(bytes.NewReader(raw), numel); err != nil {
		return nil, err
	}
	return &storage{StorageInterface: data, typ: typ, numel: numel}, nil
}

func (s *storage) numElements() int {
	return s.numel
}

func (s *storage) float(i int) float32 {
	switch d := s.StorageInterface.(type) {
	case *pytorch.FloatStorage:
		return d.Data[i]
	case *pytorch.HalfStorage:
		return d.Data[i]
	case *pytorch.BFloat16Storage:
		return d.Data[i]
	case *pytorch.DoubleStorage:
		return float32(d.Data[i])
	}
	return 0
}

func (s *storage) int(i int) int64 {
	switch d := s.StorageInterface.(type) {
	case *pytorch.LongStorage:
		return d.Data[i]
	case *pytorch.IntStorage:
		return int64(d.Data[i])
	case *pytorch.ShortStorage:
		return int64(d.Data[i])
	case *pytorch.CharStorage:
		return int64(d.Data[i])
	case *pytorch.ByteStorage:
		return int64(d.Data[i])
	case *pytorch.BoolStorage:
		if d.Data[i] {
			return 1
		}
	}
	return 0
}

// rebuildTensor gathers a strided view of a storage into a dense tensor.
// Every index the view touches is validated before anything is allocated.
func rebuildTensor(st *storage, offset int, size, stride []int) (*Tensor, error) {
	if len(size) != len(stride) {
		return nil, fmt.Errorf("Tensor size %v and stride %v have different ranks", size, stride)
	}
	if offset < 0 {
		return nil, fmt.Errorf("Tensor has negative storage offset %v", offset)
	}
	n := 1
	for i := range size {
		if size[i] < 0 {
			return nil, fmt.Errorf("Tensor size %v has a negative dimension", size)
		}
		if stride[i] < 0 {
			return nil, fmt.Errorf("Tensor stride %v has a negative step", stride)
		}
		if size[i] > 0 && n > maxTensorElements/size[i] {
			return nil, fmt.Errorf("Tensor size %v has more than %v elements", size, maxTensorElements)
		}
		n *= size[i]
	}

	if n > 0 {
		// Highest storage index we touch
		last := offset
		for i := range size {
			span := size[i] - 1
			if span == 0 || stride[i] == 0 {
				continue
			}
			if stride[i] > (math.MaxInt-last)/span {
				return nil, fmt.Errorf("Tensor view %v/%v at offset %v exceeds storage of %v elements", size, stride, offset, st.numElements())
			}
			last += span * stride[i]
		}
		if last >= st.numElements() {
			return nil, fmt.Errorf("Tensor view %v/%v at offset %v exceeds storage of %v elements", size, stride, offset, st.numElements())
		}
	}

	t := &Tensor{
		DType: st.typ.dtype,
		Shape: size,
	}
	if st.typ.float {
		t.Data = make([]float32, n)
	} else {
		t.Ints = make([]int64, n)
	}
	idx := make([]int, len(size))
	for i := 0; i < n; i++ {
		pos := offset
		for d := range idx {
			pos += idx[d] * stride[d]
		}
		if st.typ.float {
			t.Data[i] = st.float(pos)
		} else {
			t.Ints[i] = st.int(pos)
		}
		// increment the multi-index, last dimension fastest
		for d := len(idx) - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < size[d] {
				break
			}
			idx[d] = 0
		}
	}
	return t, nil
}
