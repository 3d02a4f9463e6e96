package xdb

import (
	"database/sql"
	"fmt"
	"reflect"
	"strings"
)

// Direction tells the engine how a parameter flows.
type Direction int

const (
	DirectionIn Direction = iota
	DirectionOut
	DirectionInOut
)

func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "in"
	case DirectionOut:
		return "out"
	case DirectionInOut:
		return "inout"
	}
	return fmt.Sprintf("Direction(%d)", int(d))
}

// DBType is the declared type tag of a parameter. It is informational for
// most drivers and drives literal rendering in PreviewSQL.
type DBType int

const (
	TypeUnknown DBType = iota
	TypeString
	TypeInt
	TypeFloat
	TypeDecimal
	TypeBool
	TypeTime
	TypeBytes
)

// Parameter is one staged command parameter.
type Parameter struct {
	Name      string
	Direction Direction
	Value     any
	Size      int
	Type      DBType
}

// Registry is an ordered, name-keyed parameter collection. Names are unique
// case-insensitively. A Registry is owned by one command and is not safe for
// concurrent mutation.
type Registry struct {
	params  []Parameter
	index   map[string]int
	outputs map[string]any
}

func NewRegistry() *Registry {
	return &Registry{index: make(map[string]int)}
}

// CheckParameterName strips one leading '@', ':' or '$' and surrounding
// blanks, and rejects names that end up empty.
func CheckParameterName(name string) (string, error) {
	n := strings.TrimSpace(name)
	if n != "" && strings.ContainsRune("@:$", rune(n[0])) {
		n = n[1:]
	}
	if n == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidParameterName, name)
	}
	return n, nil
}

// ResolveValue normalizes absent values to the null sentinel (nil): nil
// interfaces, nil pointers, maps and slices, and empty byte slices.
// Empty strings are kept as-is.
func ResolveValue(raw any) any {
	if raw == nil {
		return nil
	}
	rv := reflect.ValueOf(raw)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
	case reflect.Slice:
		if rv.IsNil() || (rv.Type().Elem().Kind() == reflect.Uint8 && rv.Len() == 0) {
			return nil
		}
	}
	return raw
}

// Add stages p. The value is normalized with ResolveValue.
func (r *Registry) Add(p Parameter) error {
	name, err := CheckParameterName(p.Name)
	if err != nil {
		return err
	}
	if r.index == nil {
		r.index = make(map[string]int)
	}
	key := strings.ToLower(name)
	if _, ok := r.index[key]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateParameter, name)
	}
	p.Name = name
	p.Value = ResolveValue(p.Value)
	r.index[key] = len(r.params)
	r.params = append(r.params, p)
	return nil
}

// In stages an input parameter. An optional type tag may be given.
func (r *Registry) In(name string, value any, typ ...DBType) error {
	return r.Add(Parameter{Name: name, Direction: DirectionIn, Value: value, Type: firstType(typ)})
}

// Out stages an output parameter with an optional initial value.
func (r *Registry) Out(name string, typ DBType, value any) error {
	return r.Add(Parameter{Name: name, Direction: DirectionOut, Value: value, Type: typ})
}

// InOut stages a parameter whose value is sent and then replaced by the
// engine-returned value.
func (r *Registry) InOut(name string, value any, typ ...DBType) error {
	return r.Add(Parameter{Name: name, Direction: DirectionInOut, Value: value, Type: firstType(typ)})
}

func firstType(typ []DBType) DBType {
	if len(typ) > 0 {
		return typ[0]
	}
	return TypeUnknown
}

// Clear resets the registry for the next statement on the same command.
func (r *Registry) Clear() {
	r.params = r.params[:0]
	clear(r.index)
	r.outputs = nil
}

func (r *Registry) Len() int { return len(r.params) }

// Params returns a copy of the staged parameters in declaration order.
func (r *Registry) Params() []Parameter {
	return append([]Parameter(nil), r.params...)
}

// Lookup returns the staged parameter with the given name.
func (r *Registry) Lookup(name string) (Parameter, bool) {
	n, err := CheckParameterName(name)
	if err != nil {
		return Parameter{}, false
	}
	i, ok := r.index[strings.ToLower(n)]
	if !ok {
		return Parameter{}, false
	}
	return r.params[i], true
}

// Value returns the current value of a parameter: the engine-returned value
// for Out/InOut parameters after a completed execution, otherwise the
// supplied value.
func (r *Registry) Value(name string) (any, bool) {
	p, ok := r.Lookup(name)
	if !ok {
		return nil, false
	}
	if p.Direction != DirectionIn {
		if v, ok := r.outputs[strings.ToLower(p.Name)]; ok {
			return v, true
		}
	}
	return p.Value, true
}

// setOutputs records engine-returned values. Called only after Completed.
func (r *Registry) setOutputs(out map[string]any) {
	if len(out) == 0 {
		return
	}
	r.outputs = make(map[string]any, len(out))
	for k, v := range out {
		r.outputs[strings.ToLower(k)] = v
	}
}

// binding is the per-execution view of a registry. Output destinations are
// fresh for every call so concurrent targets never share buffers.
type binding struct {
	ordered []any          // driver args in declaration order
	named   []any          // sql.NamedArg in declaration order
	values  map[string]any // lower-case name -> driver arg
	outs    map[string]*any
}

func (r *Registry) bind() binding {
	b := binding{
		ordered: make([]any, 0, len(r.params)),
		named:   make([]any, 0, len(r.params)),
		values:  make(map[string]any, len(r.params)),
	}
	for _, p := range r.params {
		var arg any = p.Value
		if p.Direction != DirectionIn {
			dest := new(any)
			*dest = p.Value
			if b.outs == nil {
				b.outs = make(map[string]*any)
			}
			b.outs[p.Name] = dest
			arg = sql.Out{Dest: dest, In: p.Direction == DirectionInOut}
		}
		b.ordered = append(b.ordered, arg)
		b.named = append(b.named, sql.Named(p.Name, arg))
		b.values[strings.ToLower(p.Name)] = arg
	}
	return b
}

func (b binding) lookup(name string) (any, bool) {
	v, ok := b.values[strings.ToLower(name)]
	return v, ok
}

// outputs dereferences the output destinations.
func (b binding) outputs() map[string]any {
	if len(b.outs) == 0 {
		return nil
	}
	m := make(map[string]any, len(b.outs))
	for k, p := range b.outs {
		m[k] = *p
	}
	return m
}
