package ptckpt

import (
	"fmt"

	"github.com/nlpodyssey/gopickle/pytorch"
	"github.com/nlpodyssey/gopickle/types"
)

// function is a Python global that we know how to invoke natively
type function struct {
	name string
	fn   func(args []any) (any, error)
}

func (f *function) Call(args ...any) (any, error) {
	v, err := f.fn(args)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", f.name, err)
	}
	return v, nil
}

// findClass resolves the globals that torch.save emits.
// gopickle itself handles collections.OrderedDict and the python 2 builtins.
func findClass(module, name string) (any, error) {
	full := module + "." + name
	switch full {
	case "builtins.dict", "__builtin__.dict":
		return &function{full, newDict}, nil
	case "torch._utils._rebuild_tensor_v2", "torch._utils._rebuild_tensor":
		return &function{full, rebuildTensorFromArgs}, nil
	case "torch._utils._rebuild_parameter", "torch._utils._rebuild_parameter_with_state":
		return &function{full, firstArg}, nil
	case "torch._utils._rebuild_from_type_v2":
		return &function{full, rebuildFromType}, nil
	case "torch.Size", "builtins.tuple", "__builtin__.tuple":
		return &function{full, toTuple}, nil
	case "builtins.list", "__builtin__.list", "builtins.set", "__builtin__.set":
		return &function{full, toList}, nil
	case "_codecs.encode":
		return &function{full, encodeLatin1}, nil
	case "copyreg._reconstructor":
		return &function{full, reconstruct}, nil
	}
	if module == "torch" {
		if st, ok := storageTypes[name]; ok {
			return st, nil
		}
	}
	return &Class{Module: module, Name: name}, nil
}

func newDict(args []any) (any, error) {
	d := types.NewDict()
	if len(args) == 0 {
		return d, nil
	}
	var pairs []any
	switch a := args[0].(type) {
	case *types.Dict:
		return a, nil
	case *types.List:
		pairs = *a
	case *types.Tuple:
		pairs = *a
	default:
		return nil, fmt.Errorf("cannot make a dict from %T", args[0])
	}
	for _, p := range pairs {
		kv, ok := p.(*types.Tuple)
		if !ok || kv.Len() != 2 {
			return nil, fmt.Errorf("expected (key, value) pairs")
		}
		d.Set(kv.Get(0), kv.Get(1))
	}
	return d, nil
}

// rebuildTensorFromArgs handles (storage, storage_offset, size, stride, [requires_grad, backward_hooks, [metadata]]).
// The arguments are parsed by gopickle, and the strided view is gathered here.
func rebuildTensorFromArgs(args []any) (any, error) {
	if len(args) < 4 {
		return nil, fmt.Errorf("expected at least 4 arguments, got %v", len(args))
	}
	v2 := make([]any, 6)
	copy(v2, args)
	if len(args) < 5 {
		v2[4] = false
	}
	parsed, err := (&pytorch.RebuildTensorV2{}).Call(v2...)
	if err != nil {
		return nil, err
	}
	pt := parsed.(*pytorch.Tensor)
	st, ok := pt.Source.(*storage)
	if !ok {
		return nil, fmt.Errorf("tensor source is %T, not a checkpoint storage", pt.Source)
	}
	return rebuildTensor(st, pt.StorageOffset, pt.Size, pt.Stride)
}

func firstArg(args []any) (any, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("missing argument")
	}
	return args[0], nil
}

// (func, new_type, args, state)
func rebuildFromType(args []any) (any, error) {
	if len(args) < 3 {
		return nil, fmt.Errorf("expected 4 arguments, got %v", len(args))
	}
	fn, ok := args[0].(types.Callable)
	if !ok {
		return nil, fmt.Errorf("%T is not callable", args[0])
	}
	inner, ok := args[2].(*types.Tuple)
	if !ok {
		return nil, fmt.Errorf("arguments are %T, not a tuple", args[2])
	}
	return fn.Call(*inner...)
}

func toTuple(args []any) (any, error) {
	if len(args) == 0 {
		return types.NewTupleFromSlice(nil), nil
	}
	switch a := args[0].(type) {
	case *types.Tuple:
		return a, nil
	case *types.List:
		return types.NewTupleFromSlice(append([]any{}, *a...)), nil
	}
	return nil, fmt.Errorf("cannot make a tuple from %T", args[0])
}

func toList(args []any) (any, error) {
	t, err := toTuple(args)
	if err != nil {
		return nil, err
	}
	return types.NewListFromSlice(append([]any{}, *t.(*types.Tuple)...)), nil
}

// Protocol 2 pickles bytes as _codecs.encode(str, "latin1")
func encodeLatin1(args []any) (any, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("missing argument")
	}
	s, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("argument is %T, not a string", args[0])
	}
	b := make([]byte, 0, len(s))
	for _, r := range s {
		if r > 0xff {
			return nil, fmt.Errorf("character %q is outside latin1", r)
		}
		b = append(b, byte(r))
	}
	return b, nil
}

// (cls, base, state)
func reconstruct(args []any) (any, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("missing argument")
	}
	cls, ok := args[0].(types.PyNewable)
	if !ok {
		return nil, fmt.Errorf("%T cannot be instantiated", args[0])
	}
	return cls.PyNew()
}
