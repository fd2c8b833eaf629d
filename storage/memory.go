package storage

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"gopkg.in/mgo.v2/bson"
)

//==============================================================================

// index defines a single-field index registered on a collection.
type index struct {
	field  string
	unique bool
	sparse bool
}

// collection holds the records and indexes for one logical collection.
type collection struct {
	records map[string]Record
	order   []string
	indexes []index
}

// Memory provides an in-memory Store honoring the asynchronous completion
// contract. Every operation dispatches on its own goroutine and reports
// through its handler, which makes it a faithful stand-in for a driver
// during tests and local runs.
type Memory struct {
	ml   sync.Mutex
	cols map[string]*collection
}

// NewMemory returns a new in-memory store instance.
func NewMemory() *Memory {
	return &Memory{cols: make(map[string]*collection)}
}

// run dispatches the giving operation without blocking the caller.
func (m *Memory) run(op func()) {
	go op()
}

// col returns the collection for the giving name, creating it when absent.
// Callers must hold the store lock.
func (m *Memory) col(name string) *collection {
	c, ok := m.cols[name]
	if !ok {
		c = &collection{records: make(map[string]Record)}
		m.cols[name] = c
	}

	return c
}

//==============================================================================

// Insert adds the giving records, assigning identities where missing and
// enforcing the collection's unique indexes.
func (m *Memory) Insert(col string, recs []Record, handler InsertHandler) {
	m.run(func() {
		m.ml.Lock()
		defer m.ml.Unlock()

		c := m.col(col)

		ids := make([]interface{}, 0, len(recs))
		pending := make([]Record, 0, len(recs))

		for _, rec := range recs {
			cp := cloneRecord(rec)
			if cp["_id"] == nil {
				cp["_id"] = bson.NewObjectId()
			}

			if err := c.checkUnique(cp, idKey(cp["_id"])); err != nil {
				handler(nil, err)
				return
			}

			if err := c.checkUniqueBatch(cp, pending); err != nil {
				handler(nil, err)
				return
			}

			ids = append(ids, cp["_id"])
			pending = append(pending, cp)
		}

		for _, cp := range pending {
			key := idKey(cp["_id"])
			if _, ok := c.records[key]; !ok {
				c.order = append(c.order, key)
			}
			c.records[key] = cp
		}

		handler(ids, nil)
	})
}

// Update modifies the record(s) matching the giving filter. A change
// carrying a "$set" entry patches fields in place, any other change
// replaces the matched record wholesale while preserving its identity.
func (m *Memory) Update(col string, filter Record, change Record, multi bool, handler ChangeHandler) {
	m.run(func() {
		m.ml.Lock()
		defer m.ml.Unlock()

		c := m.col(col)

		var matched int

		for _, key := range c.order {
			rec := c.records[key]
			if !matchRecord(rec, filter) {
				continue
			}

			next := applyChange(rec, change)
			if err := c.checkUnique(next, key); err != nil {
				handler(nil, err)
				return
			}

			c.records[key] = next
			matched++

			if !multi {
				break
			}
		}

		handler(&ChangeInfo{Matched: matched, UpdatedExisting: matched > 0}, nil)
	})
}

// Remove deletes every record matching the giving filter. An empty filter
// removes all records in the collection.
func (m *Memory) Remove(col string, filter Record, handler RemoveHandler) {
	m.run(func() {
		m.ml.Lock()
		defer m.ml.Unlock()

		c := m.col(col)

		var kept []string
		var removed int

		for _, key := range c.order {
			if matchRecord(c.records[key], filter) {
				delete(c.records, key)
				removed++
				continue
			}
			kept = append(kept, key)
		}

		c.order = kept
		handler(removed, nil)
	})
}

// Find returns the records matching the giving query, honoring its sort,
// skip, limit and projection.
func (m *Memory) Find(col string, q Query, handler RecordsHandler) {
	m.run(func() {
		m.ml.Lock()

		c := m.col(col)

		var matched []Record
		for _, key := range c.order {
			if matchRecord(c.records[key], q.Filter) {
				matched = append(matched, c.records[key])
			}
		}

		m.ml.Unlock()

		sortRecords(matched, q.Sort)

		if q.Skip > 0 {
			if q.Skip >= len(matched) {
				matched = nil
			} else {
				matched = matched[q.Skip:]
			}
		}

		if q.Limit > 0 && q.Limit < len(matched) {
			matched = matched[:q.Limit]
		}

		out := make([]Record, 0, len(matched))
		for _, rec := range matched {
			out = append(out, projectRecord(rec, q.Projection))
		}

		handler(out, nil)
	})
}

// FindOne returns the first record matching the giving filter or
// (nil, nil) when none does.
func (m *Memory) FindOne(col string, filter Record, projection Record, handler RecordHandler) {
	m.run(func() {
		m.ml.Lock()

		c := m.col(col)

		var found Record
		for _, key := range c.order {
			if matchRecord(c.records[key], filter) {
				found = c.records[key]
				break
			}
		}

		m.ml.Unlock()

		if found == nil {
			handler(nil, nil)
			return
		}

		handler(projectRecord(found, projection), nil)
	})
}

// Count returns the number of records matching the giving filter.
func (m *Memory) Count(col string, filter Record, handler CountHandler) {
	m.run(func() {
		m.ml.Lock()
		defer m.ml.Unlock()

		c := m.col(col)

		var n int
		for _, key := range c.order {
			if matchRecord(c.records[key], filter) {
				n++
			}
		}

		handler(n, nil)
	})
}

// EnsureIndex registers a single-field index on the giving collection.
// Re-ensuring an existing index is a no-op.
func (m *Memory) EnsureIndex(col string, field string, unique bool, sparse bool, handler IndexHandler) {
	m.run(func() {
		m.ml.Lock()
		defer m.ml.Unlock()

		c := m.col(col)

		for _, in := range c.indexes {
			if in.field == field {
				handler(nil)
				return
			}
		}

		c.indexes = append(c.indexes, index{field: field, unique: unique, sparse: sparse})
		handler(nil)
	})
}

// Aggregate runs a reduced aggregation pipeline supporting the $match,
// $skip, $limit and $count stages.
func (m *Memory) Aggregate(col string, pipeline []Record, handler RecordsHandler) {
	m.run(func() {
		m.ml.Lock()

		c := m.col(col)

		var recs []Record
		for _, key := range c.order {
			recs = append(recs, cloneRecord(c.records[key]))
		}

		m.ml.Unlock()

		for _, stage := range pipeline {
			for op, arg := range stage {
				switch op {
				case "$match":
					filter, ok := toRecord(arg)
					if !ok {
						handler(nil, errors.Errorf("aggregate: bad $match stage %v", arg))
						return
					}

					var kept []Record
					for _, rec := range recs {
						if matchRecord(rec, filter) {
							kept = append(kept, rec)
						}
					}
					recs = kept

				case "$skip":
					n, ok := toInt(arg)
					if !ok || n >= len(recs) {
						recs = nil
						continue
					}
					recs = recs[n:]

				case "$limit":
					n, ok := toInt(arg)
					if ok && n < len(recs) {
						recs = recs[:n]
					}

				case "$count":
					name, _ := arg.(string)
					if name == "" {
						name = "count"
					}
					recs = []Record{{name: len(recs)}}

				default:
					handler(nil, errors.Errorf("aggregate: unsupported stage %q", op))
					return
				}
			}
		}

		handler(recs, nil)
	})
}

// Shutdown drops all collections held by the store.
func (m *Memory) Shutdown(context interface{}) {
	m.ml.Lock()
	m.cols = make(map[string]*collection)
	m.ml.Unlock()
}

//==============================================================================

// checkUnique validates the giving record against the collection's unique
// indexes, ignoring the record stored under the giving key.
func (c *collection) checkUnique(rec Record, selfKey string) error {
	for _, in := range c.indexes {
		if !in.unique {
			continue
		}

		value, ok := lookupPath(rec, in.field)
		if !ok || value == nil {
			if in.sparse {
				continue
			}
			value = nil
		}

		for _, key := range c.order {
			if key == selfKey {
				continue
			}

			other, otherOk := lookupPath(c.records[key], in.field)
			if !otherOk || other == nil {
				if in.sparse {
					continue
				}
			}

			if reflect.DeepEqual(other, value) {
				return errors.Wrapf(ErrDuplicateKey, "index %q value %v", in.field, value)
			}
		}
	}

	return nil
}

// checkUniqueBatch validates the giving record against records accepted
// earlier in the same insert batch, which the driver would also reject.
func (c *collection) checkUniqueBatch(rec Record, batch []Record) error {
	for _, in := range c.indexes {
		if !in.unique {
			continue
		}

		value, ok := lookupPath(rec, in.field)
		if (!ok || value == nil) && in.sparse {
			continue
		}

		for _, other := range batch {
			otherValue, otherOk := lookupPath(other, in.field)
			if (!otherOk || otherValue == nil) && in.sparse {
				continue
			}

			if reflect.DeepEqual(otherValue, value) {
				return errors.Wrapf(ErrDuplicateKey, "index %q value %v", in.field, value)
			}
		}
	}

	return nil
}

//==============================================================================

// idKey renders an identity into the map key used by the collection.
func idKey(id interface{}) string {
	if oid, ok := id.(bson.ObjectId); ok {
		return oid.Hex()
	}

	return fmt.Sprintf("%v", id)
}

// cloneRecord deep-copies a record, preserving value types.
func cloneRecord(rec Record) Record {
	out := make(Record, len(rec))
	for k, v := range rec {
		out[k] = cloneValue(v)
	}

	return out
}

func cloneValue(v interface{}) interface{} {
	switch tv := v.(type) {
	case Record:
		return cloneRecord(tv)
	case map[string]interface{}:
		return cloneRecord(Record(tv))
	case bson.M:
		return cloneRecord(Record(tv))
	case []interface{}:
		out := make([]interface{}, len(tv))
		for i, item := range tv {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

// toRecord normalizes the map shapes a caller may hand a filter in.
func toRecord(v interface{}) (Record, bool) {
	switch tv := v.(type) {
	case Record:
		return tv, true
	case map[string]interface{}:
		return Record(tv), true
	case bson.M:
		return Record(tv), true
	}

	return nil, false
}

func toInt(v interface{}) (int, bool) {
	switch tv := v.(type) {
	case int:
		return tv, true
	case int32:
		return int(tv), true
	case int64:
		return int(tv), true
	case float64:
		return int(tv), true
	}

	return 0, false
}

//==============================================================================

// lookupPath resolves a dotted path into the giving record. A path segment
// crossing a list resolves to the list of the remaining lookups.
func lookupPath(rec Record, path string) (interface{}, bool) {
	parts := strings.SplitN(path, ".", 2)

	value, ok := rec[parts[0]]
	if !ok {
		return nil, false
	}

	if len(parts) == 1 {
		return value, true
	}

	switch tv := value.(type) {
	case Record:
		return lookupPath(tv, parts[1])
	case map[string]interface{}:
		return lookupPath(Record(tv), parts[1])
	case bson.M:
		return lookupPath(Record(tv), parts[1])
	case []interface{}:
		var out []interface{}
		for _, item := range tv {
			if sub, subOk := toRecord(item); subOk {
				if v, found := lookupPath(sub, parts[1]); found {
					out = append(out, v)
				}
			}
		}
		if len(out) == 0 {
			return nil, false
		}
		return out, true
	}

	return nil, false
}

//==============================================================================

// matchRecord reports whether the giving record satisfies the filter.
func matchRecord(rec Record, filter Record) bool {
	for key, cond := range filter {
		switch key {
		case "$and":
			subs, ok := cond.([]interface{})
			if !ok {
				return false
			}
			for _, sub := range subs {
				sf, sok := toRecord(sub)
				if !sok || !matchRecord(rec, sf) {
					return false
				}
			}

		case "$or":
			subs, ok := cond.([]interface{})
			if !ok {
				return false
			}
			var any bool
			for _, sub := range subs {
				if sf, sok := toRecord(sub); sok && matchRecord(rec, sf) {
					any = true
					break
				}
			}
			if !any {
				return false
			}

		case "$nor":
			subs, ok := cond.([]interface{})
			if !ok {
				return false
			}
			for _, sub := range subs {
				if sf, sok := toRecord(sub); sok && matchRecord(rec, sf) {
					return false
				}
			}

		default:
			value, found := lookupPath(rec, key)
			if !matchField(value, found, cond) {
				return false
			}
		}
	}

	return true
}

// matchField applies a single field condition, either a plain equality or
// an operator document.
func matchField(value interface{}, found bool, cond interface{}) bool {
	if ops, ok := toRecord(cond); ok && isOperatorDoc(ops) {
		for op, arg := range ops {
			if !matchOp(value, found, op, arg) {
				return false
			}
		}
		return true
	}

	return equalsOrContains(value, found, cond)
}

func matchOp(value interface{}, found bool, op string, arg interface{}) bool {
	switch op {
	case "$gt":
		cmp, ok := compareValues(value, arg)
		return ok && cmp > 0
	case "$gte":
		cmp, ok := compareValues(value, arg)
		return ok && cmp >= 0
	case "$lt":
		cmp, ok := compareValues(value, arg)
		return ok && cmp < 0
	case "$lte":
		cmp, ok := compareValues(value, arg)
		return ok && cmp <= 0
	case "$ne":
		return !equalsOrContains(value, found, arg)
	case "$in":
		items, ok := arg.([]interface{})
		if !ok {
			return false
		}
		for _, item := range items {
			if equalsOrContains(value, found, item) {
				return true
			}
		}
		return false
	case "$nin":
		items, ok := arg.([]interface{})
		if !ok {
			return false
		}
		for _, item := range items {
			if equalsOrContains(value, found, item) {
				return false
			}
		}
		return true
	case "$exists":
		want, _ := arg.(bool)
		return found == want
	case "$not":
		return !matchField(value, found, arg)
	}

	return false
}

// isOperatorDoc reports whether every key of the giving document is a
// query operator, which distinguishes an operator condition from an
// equality match on an embedded document.
func isOperatorDoc(doc Record) bool {
	if len(doc) == 0 {
		return false
	}

	for key := range doc {
		if !strings.HasPrefix(key, "$") {
			return false
		}
	}

	return true
}

// equalsOrContains matches a stored value against an expected one, with
// the driver's semantic that a list matches when any element does.
func equalsOrContains(value interface{}, found bool, expected interface{}) bool {
	if !found {
		return expected == nil
	}

	if reflect.DeepEqual(value, expected) {
		return true
	}

	if numericEqual(value, expected) {
		return true
	}

	if items, ok := value.([]interface{}); ok {
		for _, item := range items {
			if reflect.DeepEqual(item, expected) || numericEqual(item, expected) {
				return true
			}
		}
	}

	return false
}

func numericEqual(a, b interface{}) bool {
	fa, oka := toFloat(a)
	fb, okb := toFloat(b)
	return oka && okb && fa == fb
}

func toFloat(v interface{}) (float64, bool) {
	switch tv := v.(type) {
	case int:
		return float64(tv), true
	case int8:
		return float64(tv), true
	case int16:
		return float64(tv), true
	case int32:
		return float64(tv), true
	case int64:
		return float64(tv), true
	case uint:
		return float64(tv), true
	case uint32:
		return float64(tv), true
	case uint64:
		return float64(tv), true
	case float32:
		return float64(tv), true
	case float64:
		return tv, true
	}

	return 0, false
}

// compareValues orders two values numerically or lexically. The second
// return reports whether the pair was comparable at all.
func compareValues(a, b interface{}) (int, bool) {
	if fa, ok := toFloat(a); ok {
		fb, okb := toFloat(b)
		if !okb {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		}
		return 0, true
	}

	sa, oka := a.(string)
	sb, okb := b.(string)
	if oka && okb {
		return strings.Compare(sa, sb), true
	}

	oa, oka := a.(bson.ObjectId)
	ob, okb := b.(bson.ObjectId)
	if oka && okb {
		return strings.Compare(string(oa), string(ob)), true
	}

	return 0, false
}

//==============================================================================

// sortRecords orders the giving records by the sort pairs, applied in
// sequence.
func sortRecords(recs []Record, pairs []Sort) {
	if len(pairs) == 0 {
		return
	}

	sort.SliceStable(recs, func(i, j int) bool {
		for _, pair := range pairs {
			av, _ := lookupPath(recs[i], pair.Field)
			bv, _ := lookupPath(recs[j], pair.Field)

			cmp, ok := compareValues(av, bv)
			if !ok || cmp == 0 {
				continue
			}

			if pair.Direction == Descending {
				return cmp > 0
			}
			return cmp < 0
		}

		return false
	})
}

//==============================================================================

// projectRecord applies a driver projection document to a record copy.
// An empty projection returns the full record.
func projectRecord(rec Record, projection Record) Record {
	if len(projection) == 0 {
		return cloneRecord(rec)
	}

	includeMode := false
	for field, value := range projection {
		if field == "_id" {
			continue
		}
		if isInclude(value) {
			includeMode = true
			break
		}
	}

	// Without an include entry the record keeps its shape: slices are
	// applied in place and exclusions removed, matching the driver's
	// treatment of a bare $slice projection.
	if !includeMode {
		out := cloneRecord(rec)
		for field, value := range projection {
			if spec, isSlice := sliceOf(value); isSlice {
				if v, ok := lookupPathRaw(out, field); ok {
					setPath(out, field, applySlice(v, spec))
				}
				continue
			}
			if !isInclude(value) {
				deletePath(out, field)
			}
		}
		return out
	}

	out := make(Record)

	if id, ok := rec["_id"]; ok {
		if idv, has := projection["_id"]; !has || isInclude(idv) {
			out["_id"] = id
		}
	}

	for field, value := range projection {
		if field == "_id" {
			continue
		}

		spec, isSlice := sliceOf(value)
		if !isSlice && !isInclude(value) {
			continue
		}

		v, ok := lookupPathRaw(rec, field)
		if !ok {
			continue
		}

		if isSlice {
			v = applySlice(v, spec)
		}

		setPath(out, field, cloneValue(v))
	}

	return out
}

// isInclude reports whether a projection value asks for inclusion of its
// field in an include-mode projection.
func isInclude(value interface{}) bool {
	if n, ok := toInt(value); ok {
		return n != 0
	}

	return false
}

func sliceOf(value interface{}) (interface{}, bool) {
	doc, ok := toRecord(value)
	if !ok {
		return nil, false
	}

	spec, has := doc["$slice"]
	return spec, has
}

// applySlice reduces a list value per the $slice spec: a count (possibly
// negative) or a [skip, limit] pair.
func applySlice(value interface{}, spec interface{}) interface{} {
	items, ok := value.([]interface{})
	if !ok {
		return value
	}

	if pair, isPair := spec.([]interface{}); isPair && len(pair) == 2 {
		skip, ok1 := toInt(pair[0])
		limit, ok2 := toInt(pair[1])
		if !ok1 || !ok2 {
			return value
		}
		if skip < 0 {
			skip += len(items)
			if skip < 0 {
				skip = 0
			}
		}
		if skip >= len(items) {
			return []interface{}{}
		}
		end := skip + limit
		if end > len(items) {
			end = len(items)
		}
		return items[skip:end]
	}

	n, ok := toInt(spec)
	if !ok {
		return value
	}

	if n < 0 {
		if -n >= len(items) {
			return items
		}
		return items[len(items)+n:]
	}

	if n >= len(items) {
		return items
	}
	return items[:n]
}

// lookupPathRaw resolves a dotted path without flattening lists, so a
// projection of an embedded list field keeps its shape.
func lookupPathRaw(rec Record, path string) (interface{}, bool) {
	parts := strings.SplitN(path, ".", 2)

	value, ok := rec[parts[0]]
	if !ok {
		return nil, false
	}

	if len(parts) == 1 {
		return value, true
	}

	if sub, subOk := toRecord(value); subOk {
		return lookupPathRaw(sub, parts[1])
	}

	return nil, false
}

// setPath writes a value under a dotted path, creating intermediate
// documents as needed.
func setPath(rec Record, path string, value interface{}) {
	parts := strings.SplitN(path, ".", 2)

	if len(parts) == 1 {
		rec[parts[0]] = value
		return
	}

	sub, ok := toRecord(rec[parts[0]])
	if !ok {
		sub = make(Record)
		rec[parts[0]] = sub
	}

	setPath(sub, parts[1], value)
}

// deletePath removes a dotted path from the record in place.
func deletePath(rec Record, path string) {
	parts := strings.SplitN(path, ".", 2)

	if len(parts) == 1 {
		delete(rec, parts[0])
		return
	}

	if sub, ok := toRecord(rec[parts[0]]); ok {
		deletePath(sub, parts[1])
	}
}

//==============================================================================

// applyChange produces the next version of a record for an update: a
// "$set" document patches dotted fields, anything else replaces the record
// while keeping its identity.
func applyChange(rec Record, change Record) Record {
	if setDoc, ok := toRecord(change["$set"]); ok {
		next := cloneRecord(rec)
		for field, value := range setDoc {
			setPath(next, field, cloneValue(value))
		}
		return next
	}

	next := cloneRecord(change)
	next["_id"] = rec["_id"]
	return next
}

//==============================================================================
