package codm

import (
	"github.com/pborman/uuid"
	"github.com/pkg/errors"
	"gopkg.in/mgo.v2/bson"

	"github.com/influx6/codm/query"
	"github.com/influx6/codm/schema"
	"github.com/influx6/codm/storage"
)

//==============================================================================

// DefaultLimit caps a find-all that did not set an explicit limit.
const DefaultLimit = 1000

// Ascending and Descending define the two supported sort directions.
const (
	Ascending  = storage.Ascending
	Descending = storage.Descending
)

//==============================================================================

// Document aliases the schema-level document contract so call sites need
// not import the schema package for handler signatures.
type Document = schema.Document

// DocumentHandler is invoked with the outcome of a single-document
// operation. A nil document with a nil error reports "not found".
type DocumentHandler func(doc schema.Document, err error)

// DocumentsHandler is invoked with the outcome of a multi-document
// operation. An empty list is a normal result, not a failure.
type DocumentsHandler func(docs []schema.Document, err error)

// UpdateResult reports how many documents an update matched and whether
// any existing document was modified.
type UpdateResult struct {
	Count           int
	UpdatedExisting bool
}

// UpdateHandler is invoked with the outcome of an update operation.
type UpdateHandler func(res *UpdateResult, err error)

// RemoveHandler is invoked with the number of removed documents.
type RemoveHandler func(removed int, err error)

// CountHandler is invoked with the number of matching documents.
type CountHandler func(n int, err error)

// IndexHandler is invoked with the number of indexes (re)confirmed.
type IndexHandler func(confirmed int, err error)

//==============================================================================

// QuerySet holds the accumulated filter, projection and cursor state for
// one document type and exposes the fluent builders and the asynchronous
// terminal operations. Builder calls mutate and return the same instance;
// filter state is consumed by each terminal read/delete/update, so one
// chain serves exactly one filter-bearing query.
type QuerySet struct {
	EventLog

	desc *schema.Descriptor

	filters      query.Expr
	skip         int
	limit        int
	sort         []storage.Sort
	projection   *ProjectionSet
	refs         schema.ReferenceProjections
	lazyOverride *bool

	err error
}

// New returns a QuerySet for the giving document type.
func New(events EventLog, desc *schema.Descriptor) *QuerySet {
	if events == nil {
		events = nullLog{}
	}

	return &QuerySet{
		EventLog:   events,
		desc:       desc,
		projection: NewProjectionSet(),
		refs:       make(schema.ReferenceProjections),
	}
}

// Descriptor returns the document type this QuerySet serves.
func (q *QuerySet) Descriptor() *schema.Descriptor {
	return q.desc
}

//==============================================================================

// fail records the first builder error met; the next terminal operation
// reports it synchronously, before any store call.
func (q *QuerySet) fail(err error) {
	if q.err == nil {
		q.err = err
	}
}

// takeErr consumes the sticky builder error.
func (q *QuerySet) takeErr() error {
	err := q.err
	q.err = nil
	return err
}

// takeFilters consumes the accumulated filter expression, resetting the
// QuerySet's filter state for the next chain.
func (q *QuerySet) takeFilters() query.Expr {
	filters := q.filters
	q.filters = nil
	return filters
}

// compile turns the giving expression into a driver filter document. A
// nil expression compiles to the match-all filter.
func (q *QuerySet) compile(filters query.Expr) (storage.Record, error) {
	if filters == nil {
		return storage.Record{}, nil
	}

	return filters.ToQuery(q.desc)
}

// lazy reports the effective reference-resolution mode for the next
// fetch.
func (q *QuerySet) lazy() bool {
	if q.lazyOverride != nil {
		return *q.lazyOverride
	}

	return q.desc.Lazy
}

// connection resolves the effective alias for the giving override and
// returns the store and collection to operate on.
func (q *QuerySet) connection(alias []string) (storage.Store, string, string, error) {
	var name string

	if len(alias) > 0 && alias[0] != "" {
		name = alias[0]
	} else if q.desc.Alias != "" {
		name = q.desc.Alias
	}

	store, err := Connection(name)
	if err != nil {
		return nil, "", name, err
	}

	return store, q.desc.Collection, name, nil
}

//==============================================================================

// asExpr normalizes the accepted filter shapes into an expression,
// validating its comparisons against the declared schema.
func (q *QuerySet) asExpr(filter interface{}) (query.Expr, error) {
	var expr query.Expr

	switch f := filter.(type) {
	case query.Expr:
		expr = f
	case query.Q:
		expr = f
	case map[string]interface{}:
		expr = query.Q(f)
	case storage.Record:
		expr = query.Q(f)
	default:
		return nil, errors.Errorf("unsupported filter type %T", filter)
	}

	if _, err := expr.ToQuery(q.desc); err != nil {
		if fe, ok := errors.Cause(err).(query.FieldError); ok {
			return nil, InvalidFilterFieldError{Doc: fe.Doc, Field: fe.Field}
		}
		return nil, err
	}

	return expr, nil
}

// Filter conjoins the giving filter (a query.Expr or a map of keyword
// comparisons) with any previously accumulated filter.
func (q *QuerySet) Filter(filter interface{}) *QuerySet {
	expr, err := q.asExpr(filter)
	if err != nil {
		q.fail(err)
		return q
	}

	q.filters = query.And(q.filters, expr)
	return q
}

// FilterNot conjoins the logical negation of the giving filter.
func (q *QuerySet) FilterNot(filter interface{}) *QuerySet {
	expr, err := q.asExpr(filter)
	if err != nil {
		q.fail(err)
		return q
	}

	q.filters = query.And(q.filters, query.Not(expr))
	return q
}

// Skip sets how many documents the next read skips.
func (q *QuerySet) Skip(skip int) *QuerySet {
	if skip < 0 {
		skip = 0
	}

	q.skip = skip
	return q
}

// Limit caps how many documents the next read returns.
func (q *QuerySet) Limit(limit int) *QuerySet {
	if limit < 0 {
		limit = 0
	}

	q.limit = limit
	return q
}

// Lazily overrides the document type's reference-resolution default for
// the next fetches on this QuerySet.
func (q *QuerySet) Lazily(lazy bool) *QuerySet {
	q.lazyOverride = &lazy
	return q
}

// OrderBy appends a sort pair for the giving declared field. List fields
// are rejected: ordering on a list is ill-defined.
func (q *QuerySet) OrderBy(field interface{}, direction int) *QuerySet {
	name, ok := fieldName(field)
	if !ok {
		q.fail(InvalidSortFieldError{Doc: q.desc.Name, Field: "?", Reason: "unsupported field specification"})
		return q
	}

	declared := q.desc.Field(name)
	if declared == nil {
		q.fail(InvalidSortFieldError{Doc: q.desc.Name, Field: name})
		return q
	}

	if declared.Kind == schema.List {
		q.fail(InvalidSortFieldError{Doc: q.desc.Name, Field: name, Reason: "can't order by a list field"})
		return q
	}

	q.sort = append(q.sort, storage.Sort{Field: declared.StorageName(), Direction: direction})
	return q
}

//==============================================================================

// fieldEntry pairs a field specification with its projection value.
type fieldEntry struct {
	name  string
	value interface{}
}

// fieldName normalizes a field specification to its logical name.
func fieldName(field interface{}) (string, bool) {
	switch f := field.(type) {
	case string:
		return f, true
	case *schema.Field:
		if f == nil {
			return "", false
		}
		return f.Name, true
	}

	return "", false
}

// applyFields resolves one batch of field specifications and merges them
// into the projection set, grouped by projection value (exclusions
// first). Paths crossing a reference boundary register their tail in the
// reference projection map and force the reference field itself in.
func (q *QuerySet) applyFields(entries []fieldEntry, onlyCalled bool) *QuerySet {
	include := make(map[string]interface{})
	exclude := make(map[string]interface{})

	for _, entry := range entries {
		res, err := schema.ResolveProjection(q.desc, entry.name, entry.value)
		if err != nil {
			q.fail(err)
			return q
		}

		if res.Reference && res.Tail != "" {
			q.refs.Put(res.Path, res.Tail, entry.value)
			include[res.Path] = 1
			continue
		}

		if n, ok := intValue(res.Value); ok && n == Exclude {
			exclude[res.Path] = 0
			continue
		}

		include[res.Path] = res.Value
	}

	if len(exclude) > 0 {
		q.projection.Merge(exclude, Exclude, false)
	}

	if len(include) > 0 {
		q.projection.Merge(include, Include, onlyCalled)
	}

	return q
}

func intValue(v interface{}) (int, bool) {
	switch tv := v.(type) {
	case int:
		return tv, true
	case int32:
		return int(tv), true
	case int64:
		return int(tv), true
	}

	return 0, false
}

// Only loads only the giving subset of the document's fields. Chained
// calls union. Only never implicitly excludes the identity field: an
// explicit Exclude("_id") is the one way to drop it.
func (q *QuerySet) Only(fields ...interface{}) *QuerySet {
	entries := make([]fieldEntry, 0, len(fields))

	for _, field := range fields {
		name, ok := fieldName(field)
		if !ok {
			q.fail(schema.FieldResolutionError{Doc: q.desc.Name, Field: "?"})
			return q
		}
		entries = append(entries, fieldEntry{name: name, value: Include})
	}

	return q.applyFields(entries, true)
}

// Exclude drops the giving fields from the next reads. Chained calls
// union; excluding against an active Only narrows its set.
func (q *QuerySet) Exclude(fields ...interface{}) *QuerySet {
	entries := make([]fieldEntry, 0, len(fields))

	for _, field := range fields {
		name, ok := fieldName(field)
		if !ok {
			q.fail(schema.FieldResolutionError{Doc: q.desc.Name, Field: "?"})
			return q
		}
		entries = append(entries, fieldEntry{name: name, value: Exclude})
	}

	return q.applyFields(entries, false)
}

// Fields merges an explicit projection specification: values are Include,
// Exclude or a Slice/SliceRange document, keyed by field specification.
func (q *QuerySet) Fields(spec map[string]interface{}) *QuerySet {
	entries := make([]fieldEntry, 0, len(spec))

	for name, value := range spec {
		entries = append(entries, fieldEntry{name: name, value: value})
	}

	return q.applyFields(entries, false)
}

// AllFields resets any accumulated Only/Exclude/Fields projection while
// preserving the always-include names.
func (q *QuerySet) AllFields() *QuerySet {
	q.projection.Reset()
	return q
}

//==============================================================================

// storeErr decorates a store-reported failure with the operation and its
// correlation id.
func storeErr(op string, rid string, err error) error {
	return errors.Wrapf(err, "%s Op[%s]", op, rid)
}

// ensureIndexWith sequentially (re)ensures one index per unique or sparse
// declared field, aborting at the first failure and reporting the field
// that failed. Zero declared indexes completes immediately.
func (q *QuerySet) ensureIndexWith(store storage.Store, col string, done func(confirmed int, err error)) {
	var flagged []*schema.Field

	for _, field := range q.desc.Fields() {
		if field.Unique || field.Sparse {
			flagged = append(flagged, field)
		}
	}

	if len(flagged) == 0 {
		done(0, nil)
		return
	}

	var next func(i int)

	next = func(i int) {
		if i >= len(flagged) {
			done(len(flagged), nil)
			return
		}

		field := flagged[i]
		store.EnsureIndex(col, field.StorageName(), field.Unique, field.Sparse, func(err error) {
			if err != nil {
				done(i, errors.Wrapf(err, "ensure index for field %q", field.StorageName()))
				return
			}

			next(i + 1)
		})
	}

	next(0)
}

// EnsureIndex (re)ensures the indexes for every unique or sparse declared
// field and delivers the confirmed count.
func (q *QuerySet) EnsureIndex(context interface{}, handler IndexHandler, alias ...string) error {
	rid := uuid.New()
	q.Log(context, "EnsureIndex", "Started : Doc[%s] : Op[%s]", q.desc.Name, rid)

	if handler == nil {
		return ErrMissingContinuation
	}

	if err := q.takeErr(); err != nil {
		q.Error(context, "EnsureIndex", err, "Completed")
		return err
	}

	store, col, _, err := q.connection(alias)
	if err != nil {
		q.Error(context, "EnsureIndex", err, "Completed")
		return err
	}

	q.ensureIndexWith(store, col, func(confirmed int, err error) {
		if err != nil {
			q.Error(context, "EnsureIndex", err, "Completed : Op[%s]", rid)
			handler(confirmed, storeErr("EnsureIndex", rid, err))
			return
		}

		q.Log(context, "EnsureIndex", "Completed : Op[%s] : Indexes[%d]", rid, confirmed)
		handler(confirmed, nil)
	})

	return nil
}

//==============================================================================

// Save persists the giving document: an insert when it carries no
// identity yet, a replacement by identity otherwise. Unique and sparse
// indexes are ensured first, then per-field pre-save transforms applied.
func (q *QuerySet) Save(context interface{}, doc schema.Document, handler DocumentHandler, alias ...string) error {
	rid := uuid.New()
	q.Log(context, "Save", "Started : Doc[%s] : Op[%s]", q.desc.Name, rid)

	if handler == nil {
		return ErrMissingContinuation
	}

	if err := q.takeErr(); err != nil {
		q.Error(context, "Save", err, "Completed")
		return err
	}

	if doc.PartlyLoaded() {
		err := PartlyLoadedDocumentError{Doc: q.desc.Name}
		q.Error(context, "Save", err, "Completed")
		return err
	}

	if err := doc.Validate(); err != nil {
		verr := ValidationError{Doc: q.desc.Name, Index: -1, IError: err}
		q.Error(context, "Save", verr, "Completed")
		return verr
	}

	store, col, _, err := q.connection(alias)
	if err != nil {
		q.Error(context, "Save", err, "Completed")
		return err
	}

	q.ensureIndexWith(store, col, func(_ int, err error) {
		if err != nil {
			q.Error(context, "Save", err, "Completed : Op[%s]", rid)
			handler(nil, storeErr("Save", rid, err))
			return
		}

		creating := doc.ID() == nil

		for _, field := range q.desc.Fields() {
			if field.OnSave != nil {
				field.OnSave(doc, creating)
			}
		}

		son := doc.ToSon()

		if !creating {
			store.Update(col, storage.Record{"_id": doc.ID()}, son, false, func(_ *storage.ChangeInfo, err error) {
				if err != nil {
					if storage.IsDuplicateKey(err) {
						err = UniqueKeyViolationError{Doc: q.desc.Name, IError: err}
					} else {
						err = storeErr("Save", rid, err)
					}
					q.Error(context, "Save", err, "Completed : Op[%s]", rid)
					handler(nil, err)
					return
				}

				q.Log(context, "Save", "Completed : Op[%s]", rid)
				handler(doc, nil)
			})
			return
		}

		store.Insert(col, []storage.Record{son}, func(ids []interface{}, err error) {
			if err != nil {
				if storage.IsDuplicateKey(err) {
					err = UniqueKeyViolationError{Doc: q.desc.Name, IError: err}
				} else {
					err = storeErr("Save", rid, err)
				}
				q.Error(context, "Save", err, "Completed : Op[%s]", rid)
				handler(nil, err)
				return
			}

			doc.SetID(ids[0])
			q.Log(context, "Save", "Completed : Op[%s]", rid)
			handler(doc, nil)
		})
	})

	return nil
}

// Create persists a freshly built document. It is Save under a name that
// reads better at call sites building the instance inline.
func (q *QuerySet) Create(context interface{}, doc schema.Document, handler DocumentHandler, alias ...string) error {
	return q.Save(context, doc, handler, alias...)
}

//==============================================================================

// BulkInsert validates every giving document before any I/O, reporting
// the index of the first failure, then inserts the batch in one store
// call and assigns identities in input order.
func (q *QuerySet) BulkInsert(context interface{}, docs []schema.Document, handler DocumentsHandler, alias ...string) error {
	rid := uuid.New()
	q.Log(context, "BulkInsert", "Started : Doc[%s] : Op[%s] : Total[%d]", q.desc.Name, rid, len(docs))

	if handler == nil {
		return ErrMissingContinuation
	}

	if err := q.takeErr(); err != nil {
		q.Error(context, "BulkInsert", err, "Completed")
		return err
	}

	sons := make([]storage.Record, 0, len(docs))

	for index, doc := range docs {
		if err := doc.Validate(); err != nil {
			verr := ValidationError{Doc: q.desc.Name, Index: index, IError: err}
			q.Error(context, "BulkInsert", verr, "Completed")
			return verr
		}

		sons = append(sons, doc.ToSon())
	}

	store, col, _, err := q.connection(alias)
	if err != nil {
		q.Error(context, "BulkInsert", err, "Completed")
		return err
	}

	store.Insert(col, sons, func(ids []interface{}, err error) {
		if err != nil {
			if storage.IsDuplicateKey(err) {
				err = UniqueKeyViolationError{Doc: q.desc.Name, IError: err}
			} else {
				err = storeErr("BulkInsert", rid, err)
			}
			q.Error(context, "BulkInsert", err, "Completed : Op[%s]", rid)
			handler(nil, err)
			return
		}

		for index, id := range ids {
			docs[index].SetID(id)
		}

		q.Log(context, "BulkInsert", "Completed : Op[%s]", rid)
		handler(docs, nil)
	})

	return nil
}

//==============================================================================

// normalizeDefinition maps declared logical names in an update definition
// to their storage names, leaving unknown keys untouched.
func (q *QuerySet) normalizeDefinition(definition map[string]interface{}) storage.Record {
	out := make(storage.Record, len(definition))

	for key, value := range definition {
		if field := q.desc.Field(key); field != nil {
			out[field.StorageName()] = value
			continue
		}

		out[key] = value
	}

	return out
}

// Update applies the giving definition as a $set to every document
// matching the accumulated filter (all documents when none), consuming
// the filter state.
func (q *QuerySet) Update(context interface{}, definition map[string]interface{}, handler UpdateHandler, alias ...string) error {
	rid := uuid.New()
	q.Log(context, "Update", "Started : Doc[%s] : Op[%s]", q.desc.Name, rid)

	if handler == nil {
		return ErrMissingContinuation
	}

	if len(definition) == 0 {
		q.Error(context, "Update", ErrEmptyUpdate, "Completed")
		return ErrEmptyUpdate
	}

	if err := q.takeErr(); err != nil {
		q.Error(context, "Update", err, "Completed")
		return err
	}

	filter, err := q.compile(q.takeFilters())
	if err != nil {
		q.Error(context, "Update", err, "Completed")
		return err
	}

	store, col, _, err := q.connection(alias)
	if err != nil {
		q.Error(context, "Update", err, "Completed")
		return err
	}

	change := storage.Record{"$set": q.normalizeDefinition(definition)}

	store.Update(col, filter, change, true, func(info *storage.ChangeInfo, err error) {
		if err != nil {
			if storage.IsDuplicateKey(err) {
				err = UniqueKeyViolationError{Doc: q.desc.Name, IError: err}
			} else {
				err = storeErr("Update", rid, err)
			}
			q.Error(context, "Update", err, "Completed : Op[%s]", rid)
			handler(nil, err)
			return
		}

		q.Log(context, "Update", "Completed : Op[%s] : Matched[%d]", rid, info.Matched)
		handler(&UpdateResult{Count: info.Matched, UpdatedExisting: info.UpdatedExisting}, nil)
	})

	return nil
}

//==============================================================================

// Remove deletes a single instance by identity when one is given, the
// documents matching the accumulated filter otherwise (all documents when
// no filter), consuming the filter state. Delivers the removed count.
func (q *QuerySet) Remove(context interface{}, instance schema.Document, handler RemoveHandler, alias ...string) error {
	rid := uuid.New()
	q.Log(context, "Remove", "Started : Doc[%s] : Op[%s]", q.desc.Name, rid)

	if handler == nil {
		return ErrMissingContinuation
	}

	if err := q.takeErr(); err != nil {
		q.Error(context, "Remove", err, "Completed")
		return err
	}

	var filter storage.Record

	if instance != nil {
		q.takeFilters()

		if instance.ID() == nil {
			q.Log(context, "Remove", "Completed : Op[%s] : No identity", rid)
			handler(0, nil)
			return nil
		}

		filter = storage.Record{"_id": instance.ID()}
	} else {
		compiled, err := q.compile(q.takeFilters())
		if err != nil {
			q.Error(context, "Remove", err, "Completed")
			return err
		}

		filter = compiled
	}

	store, col, _, err := q.connection(alias)
	if err != nil {
		q.Error(context, "Remove", err, "Completed")
		return err
	}

	store.Remove(col, filter, func(removed int, err error) {
		if err != nil {
			err = storeErr("Remove", rid, err)
			q.Error(context, "Remove", err, "Completed : Op[%s]", rid)
			handler(0, err)
			return
		}

		q.Log(context, "Remove", "Completed : Op[%s] : Removed[%d]", rid, removed)
		handler(removed, nil)
	})

	return nil
}

// Delete removes every document matching the accumulated filter. It is
// the bulk spelling of Remove.
func (q *QuerySet) Delete(context interface{}, handler RemoveHandler, alias ...string) error {
	return q.Remove(context, nil, handler, alias...)
}

//==============================================================================

// coerceID normalizes an identity specification: a valid hex string
// becomes a driver ObjectId, anything else passes through.
func coerceID(id interface{}) interface{} {
	if s, ok := id.(string); ok && bson.IsObjectIdHex(s) {
		return bson.ObjectIdHex(s)
	}

	return id
}

// Get fetches a single document by identity or by the accumulated filter,
// consuming the filter state. Not-found delivers (nil, nil); references
// are resolved before delivery unless the effective mode is lazy.
func (q *QuerySet) Get(context interface{}, id interface{}, handler DocumentHandler, alias ...string) error {
	rid := uuid.New()
	q.Log(context, "Get", "Started : Doc[%s] : Op[%s]", q.desc.Name, rid)

	if handler == nil {
		return ErrMissingContinuation
	}

	if err := q.takeErr(); err != nil {
		q.Error(context, "Get", err, "Completed")
		return err
	}

	if id == nil && q.filters == nil {
		q.Error(context, "Get", ErrMissingIdentityOrFilter, "Completed")
		return ErrMissingIdentityOrFilter
	}

	var filter storage.Record

	if id != nil {
		q.takeFilters()
		filter = storage.Record{"_id": coerceID(id)}
	} else {
		compiled, err := q.compile(q.takeFilters())
		if err != nil {
			q.Error(context, "Get", err, "Completed")
			return err
		}

		filter = compiled
	}

	store, col, aliasName, err := q.connection(alias)
	if err != nil {
		q.Error(context, "Get", err, "Completed")
		return err
	}

	partly := !q.projection.Empty()
	projection := q.projection.ToQuery(q.desc)
	refs := q.refs
	lazy := q.lazy()

	store.FindOne(col, filter, projection, func(rec storage.Record, err error) {
		if err != nil {
			err = storeErr("Get", rid, err)
			q.Error(context, "Get", err, "Completed : Op[%s]", rid)
			handler(nil, err)
			return
		}

		if rec == nil {
			q.Log(context, "Get", "Completed : Op[%s] : Not Found", rid)
			handler(nil, nil)
			return
		}

		doc := q.desc.Make()
		if err := doc.FromSon(rec, partly, refs); err != nil {
			q.Error(context, "Get", err, "Completed : Op[%s]", rid)
			handler(nil, err)
			return
		}

		if lazy {
			q.Log(context, "Get", "Completed : Op[%s]", rid)
			handler(doc, nil)
			return
		}

		doc.LoadReferences(q, refs, aliasName, func(loaded int, err error) {
			if err != nil {
				q.Error(context, "Get", err, "Completed : Op[%s]", rid)
				handler(nil, err)
				return
			}

			q.Log(context, "Get", "Completed : Op[%s] : References[%d]", rid, loaded)
			handler(doc, nil)
		})
	})

	return nil
}

//==============================================================================

// FindAll fetches every document matching the accumulated filter,
// honoring projection, sort, skip and limit (DefaultLimit when unset),
// and consumes the filter state. Batch reference resolution delivers the
// full result exactly once.
func (q *QuerySet) FindAll(context interface{}, handler DocumentsHandler, alias ...string) error {
	rid := uuid.New()
	q.Log(context, "FindAll", "Started : Doc[%s] : Op[%s]", q.desc.Name, rid)

	if handler == nil {
		return ErrMissingContinuation
	}

	if err := q.takeErr(); err != nil {
		q.Error(context, "FindAll", err, "Completed")
		return err
	}

	filter, err := q.compile(q.takeFilters())
	if err != nil {
		q.Error(context, "FindAll", err, "Completed")
		return err
	}

	store, col, aliasName, err := q.connection(alias)
	if err != nil {
		q.Error(context, "FindAll", err, "Completed")
		return err
	}

	limit := q.limit
	if limit == 0 {
		limit = DefaultLimit
	}

	find := storage.Query{
		Filter:     filter,
		Projection: q.projection.ToQuery(q.desc),
		Sort:       q.sort,
		Skip:       q.skip,
		Limit:      limit,
	}

	partly := !q.projection.Empty()
	refs := q.refs
	lazy := q.lazy()

	store.Find(col, find, func(recs []storage.Record, err error) {
		if err != nil {
			err = storeErr("FindAll", rid, err)
			q.Error(context, "FindAll", err, "Completed : Op[%s]", rid)
			handler(nil, err)
			return
		}

		docs := make([]schema.Document, 0, len(recs))

		for _, rec := range recs {
			doc := q.desc.Make()
			if ferr := doc.FromSon(rec, partly, refs); ferr != nil {
				q.Error(context, "FindAll", ferr, "Completed : Op[%s]", rid)
				handler(nil, ferr)
				return
			}

			docs = append(docs, doc)
		}

		if len(docs) == 0 {
			q.Log(context, "FindAll", "Completed : Op[%s] : Total[0]", rid)
			handler(docs, nil)
			return
		}

		q.resolveReferences(context, rid, docs, lazy, aliasName, refs, handler)
	})

	return nil
}

//==============================================================================

// Count reports how many documents match the accumulated filter,
// consuming the filter state. Projection and cursor modifiers are
// ignored.
func (q *QuerySet) Count(context interface{}, handler CountHandler, alias ...string) error {
	rid := uuid.New()
	q.Log(context, "Count", "Started : Doc[%s] : Op[%s]", q.desc.Name, rid)

	if handler == nil {
		return ErrMissingContinuation
	}

	if err := q.takeErr(); err != nil {
		q.Error(context, "Count", err, "Completed")
		return err
	}

	filter, err := q.compile(q.takeFilters())
	if err != nil {
		q.Error(context, "Count", err, "Completed")
		return err
	}

	store, col, _, err := q.connection(alias)
	if err != nil {
		q.Error(context, "Count", err, "Completed")
		return err
	}

	store.Count(col, filter, func(n int, err error) {
		if err != nil {
			err = storeErr("Count", rid, err)
			q.Error(context, "Count", err, "Completed : Op[%s]", rid)
			handler(0, err)
			return
		}

		q.Log(context, "Count", "Completed : Op[%s] : Total[%d]", rid, n)
		handler(n, nil)
	})

	return nil
}

//==============================================================================

// Aggregate hands a raw pipeline to the store collaborator and delivers
// its records untouched. Pipeline building itself stays outside this
// layer.
func (q *QuerySet) Aggregate(context interface{}, pipeline []storage.Record, handler storage.RecordsHandler, alias ...string) error {
	rid := uuid.New()
	q.Log(context, "Aggregate", "Started : Doc[%s] : Op[%s] : Stages[%d]", q.desc.Name, rid, len(pipeline))

	if handler == nil {
		return ErrMissingContinuation
	}

	if err := q.takeErr(); err != nil {
		q.Error(context, "Aggregate", err, "Completed")
		return err
	}

	store, col, _, err := q.connection(alias)
	if err != nil {
		q.Error(context, "Aggregate", err, "Completed")
		return err
	}

	store.Aggregate(col, pipeline, func(recs []storage.Record, err error) {
		if err != nil {
			err = storeErr("Aggregate", rid, err)
			q.Error(context, "Aggregate", err, "Completed : Op[%s]", rid)
			handler(nil, err)
			return
		}

		q.Log(context, "Aggregate", "Completed : Op[%s] : Total[%d]", rid, len(recs))
		handler(recs, nil)
	})

	return nil
}

//==============================================================================
