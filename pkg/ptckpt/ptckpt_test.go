package ptckpt

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

// Pickle opcodes used by torch.save
const (
	opMark       byte = '('
	opStop       byte = '.'
	opBinInt     byte = 'J'
	opBinInt1    byte = 'K'
	opNone       byte = 'N'
	opBinPersID  byte = 'Q'
	opReduce     byte = 'R'
	opBinUnicode byte = 'X'
	opBuild      byte = 'b'
	opGlobal     byte = 'c'
	opEmptyDict  byte = '}'
	opBinPut     byte = 'q'
	opSetItem    byte = 's'
	opTuple      byte = 't'
	opEmptyTuple byte = ')'
	opSetItems   byte = 'u'
	opProto      byte = 0x80
	opNewObj     byte = 0x81
	opNewFalse   byte = 0x89
	opLong1      byte = 0x8a
	opMemoize    byte = 0x94
	opFrame      byte = 0x95
	opBinBytes8  byte = 0x8e
)

// pickler emits the opcodes that torch.save produces
type pickler struct {
	bytes.Buffer
}

func newPickler() *pickler {
	p := &pickler{}
	p.op(opProto, 2)
	return p
}

func (p *pickler) op(b ...byte) {
	p.Write(b)
}

func (p *pickler) str(s string) {
	p.op(opBinUnicode)
	binary.Write(p, binary.LittleEndian, uint32(len(s)))
	p.WriteString(s)
}

func (p *pickler) int(v int) {
	switch {
	case v >= 0 && v < 256:
		p.op(opBinInt1, byte(v))
	case v >= math.MinInt32 && v <= math.MaxInt32:
		p.op(opBinInt)
		binary.Write(p, binary.LittleEndian, int32(v))
	default:
		p.op(opLong1, 8)
		binary.Write(p, binary.LittleEndian, int64(v))
	}
}

func (p *pickler) global(module, name string) {
	p.op(opGlobal)
	p.WriteString(module + "\n" + name + "\n")
}

func (p *pickler) ints(v ...int) {
	p.op(opMark)
	for _, x := range v {
		p.int(x)
	}
	p.op(opTuple)
}

func (p *pickler) orderedDict() {
	p.global("collections", "OrderedDict")
	p.op(opEmptyTuple, opReduce)
}

// tensor emits _rebuild_tensor_v2(storage, offset, size, stride, False, OrderedDict())
func (p *pickler) tensor(storageClass, key string, numel, offset int, size, stride []int) {
	p.global("torch._utils", "_rebuild_tensor_v2")
	p.op(opMark)
	p.op(opMark)
	p.str("storage")
	p.global("torch", storageClass)
	p.str(key)
	p.str("cpu")
	p.int(numel)
	p.op(opTuple, opBinPersID)
	p.int(offset)
	p.ints(size...)
	p.ints(stride...)
	p.op(opNewFalse)
	p.orderedDict()
	p.op(opTuple, opReduce)
}

func makeArchive(t *testing.T, pkl []byte, records map[string][]byte) []byte {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	write := func(name string, data []byte) {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
	}
	write("archive/data.pkl", pkl)
	write("archive/byteorder", []byte("little"))
	for key, data := range records {
		write("archive/data/"+key, data)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func float32Bytes(v ...float32) []byte {
	b := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(x))
	}
	return b
}

func TestLoadStateDict(t *testing.T) {
	p := newPickler()
	p.orderedDict()
	p.op(opBinPut, 0)
	p.op(opMark)
	p.str("conv.weight")
	p.tensor("FloatStorage", "0", 6, 0, []int{2, 3}, []int{3, 1})
	p.str("conv.weight_t")
	// Transposed view of the same storage
	p.tensor("FloatStorage", "0", 6, 0, []int{3, 2}, []int{1, 3})
	p.str("bn.num_batches_tracked")
	p.tensor("LongStorage", "1", 1, 0, []int{}, []int{})
	p.op(opSetItems, opStop)

	long := make([]byte, 8)
	binary.LittleEndian.PutUint64(long, 42)
	data := makeArchive(t, p.Bytes(), map[string][]byte{
		"0": float32Bytes(1, 2, 3, 4, 5, 6),
		"1": long,
	})

	root, err := Load(data)
	require.NoError(t, err)
	d, ok := root.(*Dict)
	require.True(t, ok)
	require.Equal(t, []string{"conv.weight", "conv.weight_t", "bn.num_batches_tracked"}, d.Keys())

	v, _ := d.Get("conv.weight")
	w := v.(*Tensor)
	require.Equal(t, "float32", w.DType)
	require.Equal(t, []int{2, 3}, w.Shape)
	require.Equal(t, []float32{1, 2, 3, 4, 5, 6}, w.Data)
	require.True(t, w.IsFloat())

	v, _ = d.Get("conv.weight_t")
	wt := v.(*Tensor)
	require.Equal(t, []float32{1, 4, 2, 5, 3, 6}, wt.Data)

	v, _ = d.Get("bn.num_batches_tracked")
	nb := v.(*Tensor)
	require.False(t, nb.IsFloat())
	require.Equal(t, []int64{42}, nb.Ints)
	require.Equal(t, 1, nb.NumElements())
}

func TestLoadNestedCheckpoint(t *testing.T) {
	// {"epoch": 3, "state_dict": {"w": half tensor}, "note": None}
	p := newPickler()
	p.op(opEmptyDict)
	p.op(opMark)
	p.str("epoch")
	p.int(3)
	p.str("state_dict")
	p.op(opEmptyDict, opMemoize)
	p.str("w")
	p.tensor("HalfStorage", "0", 2, 0, []int{2}, []int{1})
	p.op(opSetItem)
	p.str("note")
	p.op(opNone)
	p.op(opSetItems, opStop)

	half := []byte{0x00, 0x3c, 0x00, 0xc0} // 1.0, -2.0
	root, err := Load(makeArchive(t, p.Bytes(), map[string][]byte{"0": half}))
	require.NoError(t, err)
	d := root.(*Dict)
	epoch, _ := d.Get("epoch")
	require.Equal(t, int64(3), epoch)
	note, ok := d.Get("note")
	require.True(t, ok)
	require.Nil(t, note)
	sd, _ := d.Get("state_dict")
	w, _ := sd.(*Dict).Get("w")
	require.Equal(t, []float32{1, -2}, w.(*Tensor).Data)
	require.Equal(t, "float16", w.(*Tensor).DType)
}

func TestLoadModuleObject(t *testing.T) {
	// A pickled nn.Module: NEWOBJ followed by BUILD with its __dict__
	p := newPickler()
	p.global("ultralytics.nn.tasks", "DetectionModel")
	p.op(opEmptyTuple, opNewObj)
	p.op(opEmptyDict)
	p.str("_parameters")
	p.orderedDict()
	p.op(opMark)
	p.str("bias")
	p.tensor("FloatStorage", "0", 2, 0, []int{2}, []int{1})
	p.op(opSetItems)
	p.op(opSetItem)
	p.op(opBuild, opStop)

	root, err := Load(makeArchive(t, p.Bytes(), map[string][]byte{"0": float32Bytes(7, 8)}))
	require.NoError(t, err)
	obj, ok := root.(*Object)
	require.True(t, ok)
	require.Equal(t, "ultralytics.nn.tasks.DetectionModel", obj.Class.String())
	state := obj.State.(*Dict)
	params, _ := state.Get("_parameters")
	bias, _ := params.(*Dict).Get("bias")
	require.Equal(t, []float32{7, 8}, bias.(*Tensor).Data)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load([]byte("\x80\x02}q\x00."))
	require.True(t, errors.Is(err, ErrLegacyFormat))

	// Storage record missing from the archive
	p := newPickler()
	p.tensor("FloatStorage", "9", 1, 0, []int{1}, []int{1})
	p.op(opStop)
	_, err = Load(makeArchive(t, p.Bytes(), nil))
	require.ErrorContains(t, err, "missing storage record")

	// Unknown opcode
	_, err = Load(makeArchive(t, []byte{opProto, 2, 0xff}, nil))
	require.Error(t, err)

	// Truncated pickle
	_, err = Load(makeArchive(t, []byte{opProto, 2, opMark, opBinUnicode, 9}, nil))
	require.Error(t, err)

	// A short pickle that declares a huge byte string
	huge := []byte{opProto, 4, opBinBytes8}
	huge = binary.LittleEndian.AppendUint64(huge, 1<<40)
	huge = append(huge, 'x', opStop)
	_, err = Load(makeArchive(t, huge, nil))
	require.ErrorContains(t, err, "declares 1099511627776 bytes")
}

func TestCheckPickle(t *testing.T) {
	p := newPickler()
	p.tensor("FloatStorage", "0", 2, 0, []int{2}, []int{1})
	p.op(opStop)
	require.NoError(t, checkPickle(p.Bytes()))

	// Protocol 4 wraps opcodes in frames
	body := p.Bytes()[2:]
	framed := []byte{opProto, 4, opFrame}
	framed = binary.LittleEndian.AppendUint64(framed, uint64(len(body)))
	framed = append(framed, body...)
	require.NoError(t, checkPickle(framed))

	bigFrame := []byte{opProto, 4, opFrame}
	bigFrame = binary.LittleEndian.AppendUint64(bigFrame, uint64(len(body)+1))
	bigFrame = append(bigFrame, body...)
	require.ErrorContains(t, checkPickle(bigFrame), "declares")

	require.ErrorContains(t, checkPickle([]byte{opProto, 2, opEmptyDict}), "no STOP")
	require.ErrorContains(t, checkPickle([]byte{opProto, 2, 0xff, opStop}), "Unknown pickle opcode 0xff")
	require.ErrorContains(t, checkPickle([]byte{opProto, 2, opGlobal, 'a', '\n'}), "truncated")
}

func TestLoadRejectsBadTensorViews(t *testing.T) {
	cases := []struct {
		name     string
		numel    int
		record   []byte
		offset   int
		size     []int
		stride   []int
		contains string
	}{
		{"negative stride", 2, float32Bytes(1, 2), 0, []int{1}, []int{-1}, "negative step"},
		{"negative size", 9, float32Bytes(1, 2, 3, 4, 5, 6, 7, 8, 9), 0, []int{-3, -3}, []int{3, 1}, "negative dimension"},
		{"negative offset", 2, float32Bytes(1, 2), -1, []int{1}, []int{1}, "negative storage offset"},
		{"rank mismatch", 2, float32Bytes(1, 2), 0, []int{2}, []int{1, 1}, "different ranks"},
		{"past end of storage", 2, float32Bytes(1, 2), 1, []int{2}, []int{1}, "exceeds storage"},
		{"element count overflow", 1, float32Bytes(1), 0, []int{1 << 20, 1 << 20, 1 << 20}, []int{0, 0, 0}, "more than"},
		{"index overflow", 2, float32Bytes(1, 2), 0, []int{2, 2}, []int{math.MaxInt64, 1}, "exceeds storage"},
		{"storage larger than record", 1 << 40, float32Bytes(1, 2), 0, []int{1}, []int{1}, "needs"},
		{"negative storage size", -4, float32Bytes(1, 2), 0, []int{1}, []int{1}, "negative size"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			p := newPickler()
			p.tensor("FloatStorage", "0", c.numel, c.offset, c.size, c.stride)
			p.op(opStop)
			var root any
			var err error
			require.NotPanics(t, func() {
				root, err = Load(makeArchive(t, p.Bytes(), map[string][]byte{"0": c.record}))
			})
			require.Nil(t, root)
			require.ErrorContains(t, err, c.contains)
		})
	}
}

func TestLoadRebuildTensorV1(t *testing.T) {
	// Older checkpoints call _rebuild_tensor(storage, offset, size, stride)
	p := newPickler()
	p.global("torch._utils", "_rebuild_tensor")
	p.op(opMark)
	p.op(opMark)
	p.str("storage")
	p.global("torch", "DoubleStorage")
	p.str("0")
	p.str("cpu")
	p.int(2)
	p.op(opTuple, opBinPersID)
	p.int(0)
	p.ints(2)
	p.ints(1)
	p.op(opTuple, opReduce, opStop)

	double := make([]byte, 16)
	binary.LittleEndian.PutUint64(double, math.Float64bits(0.25))
	binary.LittleEndian.PutUint64(double[8:], math.Float64bits(-3))
	root, err := Load(makeArchive(t, p.Bytes(), map[string][]byte{"0": double}))
	require.NoError(t, err)
	tensor := root.(*Tensor)
	require.Equal(t, "float64", tensor.DType)
	require.Equal(t, []float32{0.25, -3}, tensor.Data)
}
