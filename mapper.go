package xdb

import (
	"database/sql"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Field describes one bindable property of a FieldMapper.
type Field struct {
	Name     string
	Ptr      any // non-nil pointer to the destination
	Required bool
}

// FieldMapper lets an entity describe its columns explicitly instead of being
// indexed through struct tags. DBFields is called on a fresh value for every
// row and must return the same names in the same order each time.
type FieldMapper interface {
	DBFields() []Field
}

// Mapper owns the binding-plan caches. Use the package-level lazy getter
// (getMapper) or create your own in tests.
type Mapper struct {
	planCache        sync.Map // key: planKey -> *plan   (per (T, column-set))
	structIndexCache sync.Map // key: reflect.Type -> *fieldIndex (per T)
	builds           atomic.Int64
}

func NewMapper() *Mapper { return &Mapper{} }

// Builds reports how many binding plans this mapper has constructed.
func (m *Mapper) Builds() int64 { return m.builds.Load() }

// --- package-level lazy global mapper ---

var (
	mapper     *Mapper
	mapperOnce sync.Once
)

func getMapper() *Mapper {
	mapperOnce.Do(func() { mapper = NewMapper() })
	return mapper
}

// ---------------- Planning & caches ----------------

type planKey struct {
	rt    reflect.Type
	hash  uint64 // FNV-1a of normalized columns
	ncols int
}

type planKind uint8

const (
	planStruct planKind = iota // tagged struct fields
	planFields                 // FieldMapper
	planWhole                  // single column into T itself
)

type plan struct {
	rt      reflect.Type
	kind    planKind
	cols    []string
	steps   []step   // one per column
	missing []string // required fields with no column
}

type stepKind uint8

const (
	stepDrop     stepKind = iota // sink into RawBytes
	stepDirect                   // scan directly into field address or *T
	stepIndirect                 // scan into nullable temp, then convert/assign
)

type step struct {
	kind   stepKind
	fpath  []int        // struct field path (planStruct)
	field  int          // DBFields index (planFields)
	convTo reflect.Type // for indirect
	post   func(dst, src reflect.Value) error
}

// getPlan returns the cached plan for (rt, shape), building it on a miss.
// Concurrent misses may build twice; LoadOrStore keeps exactly one.
func (m *Mapper) getPlan(rt reflect.Type, shape Shape) (*plan, error) {
	key := planKey{rt: rt, hash: shape.Key, ncols: len(shape.Columns)}
	if v, ok := m.planCache.Load(key); ok {
		p := v.(*plan)
		if shape.equal(p.cols) {
			return p, nil
		}
		// hash collision: serve an uncached plan
		return m.buildPlan(rt, shape)
	}
	p, err := m.buildPlan(rt, shape)
	if err != nil {
		return nil, err
	}
	actual, _ := m.planCache.LoadOrStore(key, p)
	return actual.(*plan), nil
}

func (m *Mapper) buildPlan(rt reflect.Type, shape Shape) (*plan, error) {
	if !instantiable(rt) {
		return nil, fmt.Errorf("%w: %s", ErrNoDefaultConstructor, rt)
	}
	m.builds.Add(1)

	cols := shape.Columns
	p := &plan{rt: rt, cols: cols}

	switch {
	case implementsFieldMapper(rt):
		p.kind = planFields
		fields := reflect.New(rt).Interface().(FieldMapper).DBFields()
		byName := make(map[string]int, len(fields))
		for i, f := range fields {
			if f.Ptr == nil || reflect.TypeOf(f.Ptr).Kind() != reflect.Pointer {
				return nil, fmt.Errorf("xdb: %s.DBFields: field %q needs a non-nil pointer", rt, f.Name)
			}
			lc := toLowerAscii(f.Name)
			if _, dup := byName[lc]; !dup {
				byName[lc] = i
			}
			if f.Required && !shape.Has(f.Name) {
				p.missing = append(p.missing, f.Name)
			}
		}
		p.steps = make([]step, len(cols))
		for i, c := range cols {
			fi, ok := byName[c]
			if !ok {
				p.steps[i] = step{kind: stepDrop}
				continue
			}
			st := makeStep(reflect.TypeOf(fields[fi].Ptr).Elem())
			st.field = fi
			p.steps[i] = st
		}

	case isWholeValue(rt):
		if len(cols) != 1 {
			return nil, fmt.Errorf("xdb: cannot map %d columns into %s; use a struct", len(cols), rt)
		}
		p.kind = planWhole
		p.steps = []step{makeStep(rt)}

	default:
		p.kind = planStruct
		indexer := m.structIndex(derefPtr(rt))
		p.steps = make([]step, len(cols))
		for i, c := range cols {
			fp, ok := indexer.byName[c]
			if !ok {
				p.steps[i] = step{kind: stepDrop}
				continue
			}
			st := makeStep(fieldTypeByPath(rt, fp))
			st.fpath = fp
			p.steps[i] = st
		}
		for _, name := range indexer.required {
			if !shape.Has(name) {
				p.missing = append(p.missing, name)
			}
		}
	}
	return p, nil
}

type fieldIndex struct {
	byName   map[string][]int // lower-case column name -> index path
	required []string         // column names tagged required, in field order
}

func (m *Mapper) structIndex(rt reflect.Type) *fieldIndex {
	if v, ok := m.structIndexCache.Load(rt); ok {
		return v.(*fieldIndex)
	}
	fi := buildStructIndex(rt)
	v, _ := m.structIndexCache.LoadOrStore(rt, &fi)
	return v.(*fieldIndex)
}

// --------------- Dest allocation per scan ---------------

// destPtrs returns one scan destination per column and a finalizer that
// moves indirect temporaries into place. rv is a *T.
func (p *plan) destPtrs(rv reflect.Value, fields []Field) ([]any, func() error) {
	if p.kind == planWhole {
		st := p.steps[0]
		if st.kind == stepIndirect {
			tmp := reflect.New(st.convTo).Elem()
			return []any{tmp.Addr().Interface()}, func() error {
				return st.post(rv.Elem(), tmp)
			}
		}
		return []any{rv.Interface()}, func() error { return nil }
	}

	root := rv.Elem()
	target := func(st step) reflect.Value {
		if p.kind == planFields {
			return reflect.ValueOf(fields[st.field].Ptr).Elem()
		}
		return fieldByPathAlloc(root, st.fpath)
	}

	dests := make([]any, len(p.steps))
	var finals []func() error

	var sink sql.RawBytes // reused for all unmapped columns
	for i, st := range p.steps {
		switch st.kind {
		case stepDirect:
			dests[i] = target(st).Addr().Interface()
		case stepIndirect:
			tmp := reflect.New(st.convTo).Elem()
			dst := target(st)
			post := st.post
			dests[i] = tmp.Addr().Interface()
			finals = append(finals, func() error { return post(dst, tmp) })
		default:
			dests[i] = &sink
		}
	}

	return dests, func() error {
		for _, f := range finals {
			if err := f(); err != nil {
				return err
			}
		}
		return nil
	}
}

// ---------------- Struct indexing & tags ----------------

func buildStructIndex(rt reflect.Type) fieldIndex {
	idx := fieldIndex{byName: make(map[string][]int)}

	var walk func(t reflect.Type, base []int, forceInline bool)
	walk = func(t reflect.Type, base []int, forceInline bool) {
		t = derefPtr(t)
		if t.Kind() != reflect.Struct {
			return
		}
		for i := 0; i < t.NumField(); i++ {
			sf := t.Field(i)
			if sf.PkgPath != "" && !sf.Anonymous { // unexported, non-anonymous
				continue
			}
			tag := sf.Tag.Get("db")
			opts := parseTag(tag)
			if opts.omit {
				continue
			}
			ft := sf.Type
			path := append(append([]int(nil), base...), i)

			if opts.inline || (sf.Anonymous && (forceInline || tag == "")) {
				if isStruct(ft) && !isWholeValue(ft) {
					walk(ft, path, opts.inline)
					continue
				}
			}
			if sf.PkgPath != "" { // unexported embedded non-struct
				continue
			}
			name := opts.name
			if name == "" {
				name = sf.Name
			}
			lc := toLowerAscii(name)
			if _, ok := idx.byName[lc]; ok {
				continue
			}
			idx.byName[lc] = path
			if opts.required {
				idx.required = append(idx.required, name)
			}
		}
	}
	walk(rt, nil, false)
	return idx
}

type tagOptions struct {
	name     string
	inline   bool
	omit     bool
	required bool
}

// parseTag supports: "-", "col", ",inline", "col,inline", "inline,col",
// "col,required".
func parseTag(tag string) tagOptions {
	var o tagOptions
	if tag == "-" {
		o.omit = true
		return o
	}
	for i, part := range strings.Split(tag, ",") {
		switch {
		case part == "inline":
			o.inline = true
		case part == "required" && i > 0:
			o.required = true
		case part != "" && o.name == "":
			o.name = part
		}
	}
	return o
}

// ---------------- Step construction ----------------

func makeStep(ft reflect.Type) step {
	// Scanners, pointers and interfaces take NULL natively.
	if implementsScanner(ft) || ft.Kind() == reflect.Pointer || ft.Kind() == reflect.Interface {
		return step{kind: stepDirect}
	}
	if convTo, post, ok := pickIndirect(ft); ok {
		return step{kind: stepIndirect, convTo: convTo, post: post}
	}
	return step{kind: stepDirect}
}

// ---------------- Type/convert helpers ----------------

var (
	scannerType     = reflect.TypeFor[sql.Scanner]()
	fieldMapperType = reflect.TypeFor[FieldMapper]()
	timeType        = reflect.TypeFor[time.Time]()
	int64Type       = reflect.TypeFor[int64]()
	uint64Type      = reflect.TypeFor[uint64]()
	float64Type     = reflect.TypeFor[float64]()
	stringType      = reflect.TypeFor[string]()
	boolType        = reflect.TypeFor[bool]()
	bytesType       = reflect.TypeFor[[]byte]()
)

func isStruct(t reflect.Type) bool { return derefPtr(t).Kind() == reflect.Struct }

func derefPtr(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

func implementsScanner(t reflect.Type) bool {
	return reflect.PointerTo(t).Implements(scannerType)
}

func implementsFieldMapper(t reflect.Type) bool {
	return t.Kind() != reflect.Pointer && reflect.PointerTo(t).Implements(fieldMapperType)
}

// isWholeValue reports whether T is scanned as one value rather than by field.
func isWholeValue(t reflect.Type) bool {
	if implementsScanner(t) || implementsScanner(derefPtr(t)) {
		return true
	}
	d := derefPtr(t)
	return d.Kind() != reflect.Struct || d == timeType
}

// instantiable reports whether a zero value of t can be populated.
func instantiable(t reflect.Type) bool {
	switch derefPtr(t).Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer, reflect.Invalid:
		return false
	case reflect.Interface:
		return derefPtr(t).NumMethod() == 0
	}
	return true
}

// pickIndirect returns a nullable temporary scan type (*base) and a
// post-assignment function that converts it into dstType. NULL leaves the
// destination at its zero value. It covers builtin and named types whose
// kind is an integer, float, string, bool or []byte, plus time.Time.
func pickIndirect(dt reflect.Type) (reflect.Type, func(dst, src reflect.Value) error, bool) {
	var base reflect.Type
	switch dt.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		base = int64Type
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		base = uint64Type
	case reflect.Float32, reflect.Float64:
		base = float64Type
	case reflect.String:
		base = stringType
	case reflect.Bool:
		base = boolType
	case reflect.Slice:
		if dt.Elem().Kind() != reflect.Uint8 {
			return nil, nil, false
		}
		base = bytesType
	case reflect.Struct:
		if dt != timeType {
			return nil, nil, false
		}
		base = timeType
	default:
		return nil, nil, false
	}

	return reflect.PointerTo(base), func(dst, src reflect.Value) error {
		if src.IsNil() {
			dst.SetZero()
			return nil
		}
		v := src.Elem()
		switch dt.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			if dst.OverflowInt(v.Int()) {
				return fmt.Errorf("%w: %d overflows %s", ErrTypeCoercion, v.Int(), dt)
			}
			dst.SetInt(v.Int())
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			if dst.OverflowUint(v.Uint()) {
				return fmt.Errorf("%w: %d overflows %s", ErrTypeCoercion, v.Uint(), dt)
			}
			dst.SetUint(v.Uint())
		case reflect.Float32, reflect.Float64:
			if dst.OverflowFloat(v.Float()) {
				return fmt.Errorf("%w: %g overflows %s", ErrTypeCoercion, v.Float(), dt)
			}
			dst.SetFloat(v.Float())
		case reflect.String:
			dst.SetString(v.String())
		case reflect.Bool:
			dst.SetBool(v.Bool())
		case reflect.Slice:
			dst.SetBytes(v.Bytes())
		default:
			dst.Set(v.Convert(dt))
		}
		return nil
	}, true
}

func fieldTypeByPath(root reflect.Type, fpath []int) reflect.Type {
	t := root
	for _, i := range fpath {
		t = derefPtr(t)
		t = t.Field(i).Type
	}
	return t
}

// fieldByPathAlloc walks fpath, allocating nil embedded pointers on the way.
// The final field itself is returned as-is.
func fieldByPathAlloc(root reflect.Value, fpath []int) reflect.Value {
	v := root
	for _, i := range fpath {
		if v.Kind() == reflect.Pointer {
			if v.IsNil() {
				v.Set(reflect.New(v.Type().Elem()))
			}
			v = v.Elem()
		}
		v = v.Field(i)
	}
	return v
}
