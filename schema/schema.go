// Package schema holds the static field registry the mapping layer
// resolves every field specification against. It is a leaf dependency:
// descriptors are built once at startup and consulted by the projection
// builder, the filter compiler and the operation pipeline.
package schema

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/influx6/codm/storage"
)

//==============================================================================

// Kind enumerates the field descriptor variants.
type Kind int

// The supported field variants: a plain value, an embedded document, a
// list of a base variant and a reference to another document type.
const (
	Scalar Kind = iota
	Embedded
	List
	Reference
)

// Field describes a single declared attribute of a document type.
type Field struct {
	Name   string
	DbName string

	Kind   Kind
	Elem   *Field      // item descriptor for List fields
	Embeds *Descriptor // target type for Embedded fields
	Refers *Descriptor // target type for Reference fields

	Unique bool
	Sparse bool

	// OnSave, when set, is applied to the document right before it is
	// serialized for a save. The creating flag reports whether the save
	// will insert a new record.
	OnSave func(doc Document, creating bool)
}

// StorageName returns the storage-level name for this field.
func (f *Field) StorageName() string {
	if f.DbName != "" {
		return f.DbName
	}

	return f.Name
}

//==============================================================================

var ErrNoFactory = errors.New("descriptor requires a document factory")
var ErrNoCollection = errors.New("descriptor requires a collection name")
var ErrBadField = errors.New("bad field description")

// Config provides the document-type level settings for a Descriptor.
type Config struct {
	Name       string
	Collection string
	Alias      string

	// Lazy suppresses automatic reference resolution after a fetch for
	// this type unless a call overrides it.
	Lazy bool

	// Make returns a fresh, empty document instance for materialization.
	Make func() Document
}

// Descriptor is the static registry for one document type: its collection
// binding and its ordered field declarations.
type Descriptor struct {
	Config

	fields []*Field
	byName map[string]*Field
}

// New validates the giving configuration and field declarations and
// returns the Descriptor for the document type.
func New(c Config, fields ...*Field) (*Descriptor, error) {
	if c.Make == nil {
		return nil, ErrNoFactory
	}

	if c.Collection == "" {
		return nil, ErrNoCollection
	}

	if c.Name == "" {
		c.Name = c.Collection
	}

	d := Descriptor{
		Config: c,
		byName: make(map[string]*Field),
	}

	for _, field := range fields {
		if err := validField(field); err != nil {
			return nil, err
		}

		if _, ok := d.byName[field.Name]; ok {
			return nil, errors.Wrapf(ErrBadField, "duplicate field %q", field.Name)
		}

		d.fields = append(d.fields, field)
		d.byName[field.Name] = field
	}

	return &d, nil
}

// MustNew returns the Descriptor for the giving configuration, panicking
// on a bad declaration. Intended for package-level registry setup.
func MustNew(c Config, fields ...*Field) *Descriptor {
	d, err := New(c, fields...)
	if err != nil {
		panic(err)
	}

	return d
}

// Embed returns a field-only Descriptor for a type that lives inside
// another document and is never fetched on its own. It panics on a bad
// declaration, like MustNew.
func Embed(name string, fields ...*Field) *Descriptor {
	d := Descriptor{
		Config: Config{Name: name},
		byName: make(map[string]*Field),
	}

	for _, field := range fields {
		if err := validField(field); err != nil {
			panic(err)
		}

		if _, ok := d.byName[field.Name]; ok {
			panic(errors.Wrapf(ErrBadField, "duplicate field %q", field.Name))
		}

		d.fields = append(d.fields, field)
		d.byName[field.Name] = field
	}

	return &d
}

func validField(f *Field) error {
	if f == nil || f.Name == "" {
		return ErrBadField
	}

	switch f.Kind {
	case Scalar:
	case Embedded:
		if f.Embeds == nil {
			return errors.Wrapf(ErrBadField, "embedded field %q requires a target type", f.Name)
		}
	case Reference:
		if f.Refers == nil {
			return errors.Wrapf(ErrBadField, "reference field %q requires a target type", f.Name)
		}
	case List:
		if f.Elem == nil {
			return errors.Wrapf(ErrBadField, "list field %q requires an item descriptor", f.Name)
		}
		if f.Elem.Kind == List {
			return errors.Wrapf(ErrBadField, "list field %q can not nest another list", f.Name)
		}
		if err := validField(&Field{Name: f.Name, Kind: f.Elem.Kind, Embeds: f.Elem.Embeds, Refers: f.Elem.Refers, Elem: f.Elem.Elem}); err != nil {
			return err
		}
	default:
		return errors.Wrapf(ErrBadField, "field %q has unknown kind", f.Name)
	}

	return nil
}

// Fields returns the ordered field declarations for this type.
func (d *Descriptor) Fields() []*Field {
	return d.fields
}

// Field returns the declared field for the giving logical name, or nil.
func (d *Descriptor) Field(name string) *Field {
	return d.byName[name]
}

// Has returns true/false if the giving logical name is declared on this
// type.
func (d *Descriptor) Has(name string) bool {
	_, ok := d.byName[name]
	return ok
}

//==============================================================================

// ReferenceProjections maps a reference field's dotted storage path to the
// nested projection to apply when the referenced document is fetched.
type ReferenceProjections map[string]map[string]interface{}

// Put records a projection value for a tail path under the giving
// reference path, creating the nested set lazily.
func (r ReferenceProjections) Put(path string, tail string, value interface{}) {
	set, ok := r[path]
	if !ok {
		set = make(map[string]interface{})
		r[path] = set
	}

	set[tail] = value
}

// For returns the nested projection recorded for the giving reference
// path, or nil when the whole referenced document should be loaded.
func (r ReferenceProjections) For(path string) map[string]interface{} {
	if r == nil {
		return nil
	}

	return r[path]
}

//==============================================================================

// RefsHandler reports the outcome of a document's reference resolution:
// the number of follow-up fetches performed and the first error met.
type RefsHandler func(loaded int, err error)

// Loader is implemented by the query layer and hands a document the means
// to fetch one referenced document, honoring the nested projection
// recorded for its path.
type Loader interface {
	LoadReference(target *Descriptor, id interface{}, fields map[string]interface{}, alias string, handler func(Document, error))
}

// Document is the contract a mapped type fulfills towards the query
// layer. Serialization internals stay behind ToSon/FromSon; reference
// walking stays behind LoadReferences.
type Document interface {
	ID() interface{}
	SetID(id interface{})

	Validate() error

	ToSon() storage.Record
	FromSon(rec storage.Record, partlyLoaded bool, refs ReferenceProjections) error

	// PartlyLoaded reports whether this instance was materialized under a
	// non-empty projection and therefore must not be saved back.
	PartlyLoaded() bool

	// LoadReferences resolves this document's pending reference fields
	// through the giving loader and invokes the handler exactly once.
	LoadReferences(loader Loader, refs ReferenceProjections, alias string, handler RefsHandler)
}

//==============================================================================

// FieldResolutionError is returned when a field specification does not
// resolve against the declared schema. It surfaces before any store call.
type FieldResolutionError struct {
	Doc   string
	Field string
}

// Message returns the internal message for this error.
func (e FieldResolutionError) Message() string {
	return fmt.Sprintf("Invalid field %q: field not found in %q", e.Field, e.Doc)
}

// Error returns the error message for this resolution error.
func (e FieldResolutionError) Error() string {
	return e.Message()
}

//==============================================================================

// Resolution is the outcome of resolving one field specification: the
// storage-level dotted path consumed, the projection value to apply to it
// and, when the path crossed a reference boundary, the remaining tail to
// project on the referenced document.
type Resolution struct {
	Path      string
	Value     interface{}
	Reference bool
	Tail      string
}

// ResolveProjection normalizes a field specification against the giving
// type: a declared name or the identity field passes through, a dotted
// path is walked component by component through embedded and list-of-
// embedded fields, and a reference boundary stops the walk with the rest
// of the path as a nested projection tail.
func ResolveProjection(d *Descriptor, name string, value interface{}) (Resolution, error) {
	if !strings.Contains(name, ".") {
		if name == "_id" {
			return Resolution{Path: name, Value: value}, nil
		}

		if field := d.Field(name); field != nil {
			return Resolution{Path: field.StorageName(), Value: value}, nil
		}

		return Resolution{}, FieldResolutionError{Doc: d.Name, Field: name}
	}

	var head []string

	cur := d
	tail := name

	for tail != "" {
		var component string

		parts := strings.SplitN(tail, ".", 2)
		if len(parts) == 2 {
			component, tail = parts[0], parts[1]
		} else {
			component, tail = parts[0], ""
		}

		if cur == nil {
			return Resolution{}, FieldResolutionError{Doc: d.Name, Field: name}
		}

		field := cur.Field(component)
		if field == nil {
			return Resolution{}, FieldResolutionError{Doc: d.Name, Field: name}
		}

		head = append(head, field.StorageName())

		switch field.Kind {
		case Embedded:
			cur = field.Embeds

		case List:
			switch field.Elem.Kind {
			case Embedded:
				cur = field.Elem.Embeds
			case Reference:
				return referenceResolution(head, tail, value), nil
			default:
				cur = nil
			}

		case Reference:
			return referenceResolution(head, tail, value), nil

		default:
			cur = nil
		}
	}

	return Resolution{Path: strings.Join(head, "."), Value: value}, nil
}

// referenceResolution records the split at a reference boundary: the
// reference field itself is forced into the projection so the link is
// fetched, and any remaining tail becomes the nested projection for the
// referenced document.
func referenceResolution(head []string, tail string, value interface{}) Resolution {
	path := strings.Join(head, ".")

	if tail != "" {
		return Resolution{Path: path, Value: 1, Reference: true, Tail: tail}
	}

	return Resolution{Path: path, Value: value, Reference: true}
}

//==============================================================================
