// Package ptckpt reads PyTorch checkpoints written by torch.save.
//
// Only the zip container format (the default since PyTorch 1.6) is supported. The pickle
// stream is decoded by gopickle, and the resulting object graph is converted into Go values:
//
//	None          nil
//	bool          bool
//	int           int64 (or *big.Int if it does not fit)
//	float         float64
//	str           string
//	bytes         []byte
//	tuple         Tuple
//	list, set     *List
//	dict          *Dict
//	torch.Tensor  *Tensor
//	anything else *Object
package ptckpt

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"path"
	"strings"

	"github.com/nlpodyssey/gopickle/pickle"
	"github.com/nlpodyssey/gopickle/types"
)

// ErrLegacyFormat is returned for checkpoints that are not zip files. Those were written
// by PyTorch versions older than 1.6, or with _use_new_zipfile_serialization=False.
var ErrLegacyFormat = errors.New("Checkpoint is not a zip archive. Only the torch.save format of PyTorch 1.6 and later is supported")

// LoadFile reads a checkpoint from disk
func LoadFile(filename string) (any, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return Load(b)
}

// Load decodes the root object of a checkpoint
func Load(data []byte) (root any, err error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, ErrLegacyFormat
	}

	// Records live under a single top level directory, whose name depends on the filename
	// that was passed to torch.save.
	var pklFile *zip.File
	files := map[string]*zip.File{}
	for _, f := range zr.File {
		files[f.Name] = f
		if path.Base(f.Name) == "data.pkl" && strings.Count(f.Name, "/") == 1 {
			pklFile = f
		}
	}
	if pklFile == nil {
		return nil, errors.New("Checkpoint archive has no data.pkl")
	}
	prefix := path.Dir(pklFile.Name)

	if f, ok := files[prefix+"/byteorder"]; ok {
		b, err := readZipFile(f)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(string(b)) == "big" {
			return nil, errors.New("Checkpoint was written on a big endian machine, which is not supported")
		}
	}

	pkl, err := readZipFile(pklFile)
	if err != nil {
		return nil, err
	}
	if err := checkPickle(pkl); err != nil {
		return nil, fmt.Errorf("Failed to decode checkpoint: %w", err)
	}

	storages := map[string]*storage{}
	u := pickle.NewUnpickler(bytes.NewReader(pkl))
	u.FindClass = findClass
	u.PersistentLoad = func(pid any) (any, error) {
		t, ok := pid.(*types.Tuple)
		if !ok || t.Len() < 5 {
			return nil, fmt.Errorf("Unrecognized persistent id %v", pid)
		}
		if kind, _ := t.Get(0).(string); kind != "storage" {
			return nil, fmt.Errorf("Unrecognized persistent id type %v", t.Get(0))
		}
		typ, ok := t.Get(1).(*storageType)
		if !ok {
			return nil, fmt.Errorf("Unsupported storage type %v", t.Get(1))
		}
		key, ok := t.Get(2).(string)
		if !ok {
			return nil, fmt.Errorf("Storage key is %T, not a string", t.Get(2))
		}
		location, _ := t.Get(3).(string)
		numel, ok := t.Get(4).(int)
		if !ok {
			return nil, fmt.Errorf("Storage size is %T, not an integer", t.Get(4))
		}
		if st, ok := storages[key]; ok {
			return st, nil
		}
		f, ok := files[prefix+"/data/"+key]
		if !ok {
			return nil, fmt.Errorf("Checkpoint is missing storage record %v", key)
		}
		raw, err := readZipFile(f)
		if err != nil {
			return nil, err
		}
		st, err := decodeStorage(typ, raw, numel, location)
		if err != nil {
			return nil, fmt.Errorf("Storage record %v: %w", key, err)
		}
		storages[key] = st
		return st, nil
	}

	// gopickle indexes into its stack and byte buffers without checking some lengths
	defer func() {
		if r := recover(); r != nil {
			root = nil
			err = fmt.Errorf("Failed to decode checkpoint: %v", r)
		}
	}()
	v, err := u.Load()
	if err != nil {
		return nil, fmt.Errorf("Failed to decode checkpoint: %w", err)
	}
	return newConverter().convert(v), nil
}

func readZipFile(f *zip.File) ([]byte, error) {
	r, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// converter turns gopickle values into our own types, preserving shared references
type converter struct {
	seen map[any]any
}

func newConverter() *converter {
	return &converter{seen: map[any]any{}}
}

func (c *converter) convert(v any) any {
	switch x := v.(type) {
	case int:
		return int64(x)
	case *big.Int:
		if x.IsInt64() {
			return x.Int64()
		}
		return x
	case *types.ByteArray:
		return []byte(*x)
	case *types.Tuple:
		return c.tuple(*x)
	case *types.FrozenSet:
		items := make([]any, 0, x.Len())
		for k := range *x {
			items = append(items, k)
		}
		return c.tuple(items)
	case *types.List:
		if out, ok := c.seen[x]; ok {
			return out
		}
		l := &List{}
		c.seen[x] = l
		for _, item := range *x {
			l.Items = append(l.Items, c.convert(item))
		}
		return l
	case *types.Set:
		if out, ok := c.seen[x]; ok {
			return out
		}
		l := &List{}
		c.seen[x] = l
		for k := range *x {
			l.Items = append(l.Items, c.convert(k))
		}
		return l
	case *types.Dict:
		if out, ok := c.seen[x]; ok {
			return out
		}
		d := NewDict()
		c.seen[x] = d
		for _, e := range *x {
			d.Set(c.convert(e.Key), c.convert(e.Value))
		}
		return d
	case *types.OrderedDict:
		if out, ok := c.seen[x]; ok {
			return out
		}
		d := NewDict()
		c.seen[x] = d
		for el := x.List.Front(); el != nil; el = el.Next() {
			e := el.Value.(*types.OrderedDictEntry)
			d.Set(c.convert(e.Key), c.convert(e.Value))
		}
		return d
	case *Object:
		if _, ok := c.seen[x]; ok {
			return x
		}
		c.seen[x] = x
		x.Args = c.tuple(x.Args)
		x.State = c.convert(x.State)
		return x
	}
	return v
}

func (c *converter) tuple(items []any) Tuple {
	t := make(Tuple, len(items))
	for i, item := range items {
		t[i] = c.convert(item)
	}
	return t
}
