// Package query provides the composable, driver-agnostic filter
// expressions the query layer accumulates and compiles into driver filter
// documents.
package query

import (
	"fmt"
	"strings"

	"github.com/influx6/codm/schema"
	"github.com/influx6/codm/storage"
)

//==============================================================================

// Expr defines a composable predicate compiled against a document type
// into a driver filter document.
type Expr interface {
	ToQuery(d *schema.Descriptor) (storage.Record, error)
}

//==============================================================================

// FieldError is returned when a comparison names a field the document
// type does not declare. It surfaces at compile time, before any store
// call.
type FieldError struct {
	Doc   string
	Field string
}

// Message returns the internal message for this error.
func (e FieldError) Message() string {
	return fmt.Sprintf("Invalid filter field %q: field not found in %q", e.Field, e.Doc)
}

// Error returns the error message for this filter error.
func (e FieldError) Error() string {
	return e.Message()
}

//==============================================================================

// operators lists the comparison suffixes a keyword key may carry after
// the "__" separator.
var operators = map[string]string{
	"gt":     "$gt",
	"gte":    "$gte",
	"lt":     "$lt",
	"lte":    "$lte",
	"ne":     "$ne",
	"in":     "$in",
	"nin":    "$nin",
	"exists": "$exists",
}

// Q defines a set of keyword comparisons, conjoined. A key is a declared
// field name (dotted paths through embedded fields allowed), optionally
// carrying a comparison suffix: Q{"name": "alex", "year__gt": 2010}.
type Q map[string]interface{}

// ToQuery compiles the comparisons into a driver filter document,
// normalizing logical names to their storage names.
func (q Q) ToQuery(d *schema.Descriptor) (storage.Record, error) {
	out := make(storage.Record)

	for key, value := range q {
		name, op := splitOp(key)

		path, err := resolveFieldPath(d, name)
		if err != nil {
			return nil, err
		}

		if op == "" {
			out[path] = value
			continue
		}

		cond, ok := out[path].(storage.Record)
		if !ok {
			cond = make(storage.Record)
			out[path] = cond
		}

		cond[op] = value
	}

	return out, nil
}

// splitOp splits a keyword key into its field name and driver operator.
func splitOp(key string) (string, string) {
	if n := strings.LastIndex(key, "__"); n > 0 {
		if op, ok := operators[key[n+2:]]; ok {
			return key[:n], op
		}
	}

	return key, ""
}

// resolveFieldPath walks a dotted comparison path through embedded and
// list-of-embedded declarations, normalizing each component to its
// storage name. Reference and scalar fields terminate the walk.
func resolveFieldPath(d *schema.Descriptor, name string) (string, error) {
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

		if component == "_id" && cur == d && tail == "" {
			return "_id", nil
		}

		if cur == nil {
			return "", FieldError{Doc: d.Name, Field: name}
		}

		field := cur.Field(component)
		if field == nil {
			return "", FieldError{Doc: d.Name, Field: name}
		}

		head = append(head, field.StorageName())

		switch field.Kind {
		case schema.Embedded:
			cur = field.Embeds
		case schema.List:
			if field.Elem.Kind == schema.Embedded {
				cur = field.Elem.Embeds
			} else {
				cur = nil
			}
		default:
			cur = nil
		}
	}

	return strings.Join(head, "."), nil
}

//==============================================================================

// and conjoins a set of expressions.
type and []Expr

// And returns the conjunction of the giving expressions, skipping nils.
// Compilation merges disjoint plain comparisons flat and falls back to a
// driver $and document when keys collide.
func And(exprs ...Expr) Expr {
	var list and
	for _, e := range exprs {
		if e == nil {
			continue
		}
		if sub, ok := e.(and); ok {
			list = append(list, sub...)
			continue
		}
		list = append(list, e)
	}

	if len(list) == 1 {
		return list[0]
	}

	return list
}

// ToQuery compiles the conjunction.
func (a and) ToQuery(d *schema.Descriptor) (storage.Record, error) {
	var parts []storage.Record

	for _, e := range a {
		sub, err := e.ToQuery(d)
		if err != nil {
			return nil, err
		}
		parts = append(parts, sub)
	}

	if len(parts) == 0 {
		return storage.Record{}, nil
	}

	if len(parts) == 1 {
		return parts[0], nil
	}

	flat := make(storage.Record)
	disjoint := true

merge:
	for _, part := range parts {
		for key, value := range part {
			if _, exists := flat[key]; exists || strings.HasPrefix(key, "$") {
				disjoint = false
				break merge
			}
			flat[key] = value
		}
	}

	if disjoint {
		return flat, nil
	}

	subs := make([]interface{}, 0, len(parts))
	for _, part := range parts {
		subs = append(subs, part)
	}

	return storage.Record{"$and": subs}, nil
}

//==============================================================================

// or disjoins a set of expressions.
type or []Expr

// Or returns the disjunction of the giving expressions, skipping nils.
func Or(exprs ...Expr) Expr {
	var list or
	for _, e := range exprs {
		if e == nil {
			continue
		}
		if sub, ok := e.(or); ok {
			list = append(list, sub...)
			continue
		}
		list = append(list, e)
	}

	if len(list) == 1 {
		return list[0]
	}

	return list
}

// ToQuery compiles the disjunction into a driver $or document.
func (o or) ToQuery(d *schema.Descriptor) (storage.Record, error) {
	if len(o) == 0 {
		return storage.Record{}, nil
	}

	subs := make([]interface{}, 0, len(o))

	for _, e := range o {
		sub, err := e.ToQuery(d)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}

	return storage.Record{"$or": subs}, nil
}

//==============================================================================

// not negates a single expression.
type not struct {
	expr Expr
}

// Not returns the logical negation of the giving expression.
func Not(e Expr) Expr {
	return not{expr: e}
}

// ToQuery compiles the negation into a driver $nor document wrapping the
// inner filter.
func (n not) ToQuery(d *schema.Descriptor) (storage.Record, error) {
	inner, err := n.expr.ToQuery(d)
	if err != nil {
		return nil, err
	}

	return storage.Record{"$nor": []interface{}{inner}}, nil
}

//==============================================================================
