package codm

import (
	"github.com/influx6/codm/schema"
	"github.com/influx6/codm/storage"
)

//==============================================================================

// Projection values for a field specification. A $slice document (see
// Slice and SliceRange) is the third accepted value.
const (
	Exclude = 0
	Include = 1
)

// Slice returns the projection value retrieving the first n elements of a
// list field (the last -n when negative).
func Slice(n int) interface{} {
	return storage.Record{"$slice": n}
}

// SliceRange returns the projection value retrieving limit elements of a
// list field after skipping skip.
func SliceRange(skip, limit int) interface{} {
	return storage.Record{"$slice": []interface{}{skip, limit}}
}

//==============================================================================

// ProjectionSet accumulates the effective field projection for a
// QuerySet. Incremental Only/Exclude/Fields calls merge monotonically:
// the set holds either the union of include entries or the union of
// exclude entries, with the identity projection and the always-include
// names tracked on the side.
type ProjectionSet struct {
	value      int
	fields     map[string]interface{}
	idValue    interface{}
	onlyCalled bool

	// alwaysInclude names survive an exclude-only projection and are
	// forced into an include projection.
	alwaysInclude []string
}

// NewProjectionSet returns an empty set carrying the giving
// always-include names.
func NewProjectionSet(alwaysInclude ...string) *ProjectionSet {
	return &ProjectionSet{
		fields:        make(map[string]interface{}),
		alwaysInclude: alwaysInclude,
	}
}

// Empty returns true/false if the set holds no effective projection.
func (p *ProjectionSet) Empty() bool {
	return len(p.fields) == 0 && p.idValue == nil
}

// Reset drops all accumulated projection state while preserving the
// always-include names.
func (p *ProjectionSet) Reset() {
	p.fields = make(map[string]interface{})
	p.value = Exclude
	p.idValue = nil
	p.onlyCalled = false
}

// Merge folds one resolved group of (storage name, value) entries sharing
// a projection value into the set. Groups never mix include and exclude
// entries; the identity field is tracked apart so an explicit exclusion
// survives an active include projection.
func (p *ProjectionSet) Merge(group map[string]interface{}, value int, onlyCalled bool) {
	cleaned := make(map[string]interface{}, len(group))
	for name, v := range group {
		if name == "_id" {
			p.idValue = value
			continue
		}
		cleaned[name] = v
	}

	defer func() {
		p.onlyCalled = p.onlyCalled || onlyCalled
	}()

	if len(cleaned) == 0 {
		return
	}

	if len(p.fields) == 0 {
		p.value = value
		p.fields = cleaned
		return
	}

	switch {
	case p.value == Include && value == Include:
		if !p.onlyCalled && !onlyCalled {
			p.fields = cleaned
			return
		}
		for name, v := range cleaned {
			p.fields[name] = v
		}

	case p.value == Exclude && value == Exclude:
		for name, v := range cleaned {
			p.fields[name] = v
		}

	case p.value == Include && value == Exclude:
		for name := range cleaned {
			delete(p.fields, name)
		}

	case p.value == Exclude && value == Include:
		excluded := p.fields
		p.value = Include
		p.fields = make(map[string]interface{}, len(cleaned))
		for name, v := range cleaned {
			if _, dropped := excluded[name]; dropped {
				continue
			}
			p.fields[name] = v
		}
	}
}

// ToQuery materializes the driver projection document. Include and
// exclude entries are never mixed in the result, with the identity
// projection and the always-include names as the only carve-outs.
func (p *ProjectionSet) ToQuery(d *schema.Descriptor) storage.Record {
	out := make(storage.Record)

	if len(p.fields) > 0 {
		if p.value == Include {
			for name, v := range p.fields {
				out[name] = v
			}
			for _, name := range p.alwaysInclude {
				if _, ok := out[name]; !ok {
					out[name] = 1
				}
			}
		} else {
			for name := range p.fields {
				if contains(p.alwaysInclude, name) {
					continue
				}
				out[name] = 0
			}
		}
	}

	if p.idValue != nil {
		out["_id"] = p.idValue
	}

	if len(out) == 0 {
		return nil
	}

	return out
}

func contains(list []string, name string) bool {
	for _, item := range list {
		if item == name {
			return true
		}
	}

	return false
}

//==============================================================================
