package ptckpt

import "fmt"

// Tuple is an immutable Python tuple
type Tuple []any

// List is a Python list or set. It is a pointer type so that shared references
// in the pickle stay shared.
type List struct {
	Items []any
}

// Class is a global that we have no native representation for
type Class struct {
	Module string
	Name   string
}

func (c *Class) String() string {
	return c.Module + "." + c.Name
}

// PyNew and Call instantiate the class, for NEWOBJ and REDUCE
func (c *Class) PyNew(args ...any) (any, error) {
	return &Object{Class: c, Args: Tuple(args)}, nil
}

func (c *Class) Call(args ...any) (any, error) {
	return c.PyNew(args...)
}

// Object is an instance of a class we have no native representation for, such as an nn.Module.
// State is whatever was passed to BUILD, typically the instance __dict__.
type Object struct {
	Class *Class
	Args  Tuple
	State any
}

func (o *Object) PySetState(state any) error {
	o.State = state
	return nil
}

// Dict is an insertion ordered Python dict (or OrderedDict).
// Only strings, integers, floats and bools can be used for lookup, although
// any key is preserved in Entries.
type Dict struct {
	entries []DictEntry
	index   map[any]int
}

type DictEntry struct {
	Key   any
	Value any
}

func NewDict() *Dict {
	return &Dict{index: map[any]int{}}
}

func hashable(key any) bool {
	switch key.(type) {
	case string, int64, float64, bool, nil:
		return true
	}
	return false
}

// Set inserts or replaces a key, keeping the position of an existing key
func (d *Dict) Set(key, value any) {
	if hashable(key) {
		if i, ok := d.index[key]; ok {
			d.entries[i].Value = value
			return
		}
		d.index[key] = len(d.entries)
	}
	d.entries = append(d.entries, DictEntry{Key: key, Value: value})
}

// Get returns the value of a string key
func (d *Dict) Get(key string) (any, bool) {
	i, ok := d.index[key]
	if !ok {
		return nil, false
	}
	return d.entries[i].Value, true
}

// Keys returns the string keys, in insertion order
func (d *Dict) Keys() []string {
	keys := make([]string, 0, len(d.entries))
	for _, e := range d.entries {
		if s, ok := e.Key.(string); ok {
			keys = append(keys, s)
		}
	}
	return keys
}

func (d *Dict) Entries() []DictEntry {
	return d.entries
}

func (d *Dict) Len() int {
	return len(d.entries)
}

// Tensor is a dense tensor read out of a checkpoint.
// Floating point tensors of any precision are widened or narrowed to float32 and stored in Data.
// Integer and bool tensors are stored in Ints.
type Tensor struct {
	DType string
	Shape []int
	Data  []float32
	Ints  []int64
}

// IsFloat returns true if the tensor holds floating point values
func (t *Tensor) IsFloat() bool {
	return t.Ints == nil
}

// NumElements is the product of the shape
func (t *Tensor) NumElements() int {
	n := 1
	for _, s := range t.Shape {
		n *= s
	}
	return n
}

// PySetState discards python attributes that were attached to the tensor
func (t *Tensor) PySetState(state any) error {
	return nil
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(%v, %v)", t.DType, t.Shape)
}

// Shape64 returns the shape as int64, which is what inference runtimes want
func (t *Tensor) Shape64() []int64 {
	s := make([]int64, len(t.Shape))
	for i, v := range t.Shape {
		s[i] = int64(v)
	}
	return s
}
