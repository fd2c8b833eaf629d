package storage

import (
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

//==============================================================================

// Record defines the raw document type exchanged with a store.
type Record map[string]interface{}

// Records defines a lists of Record items.
type Records []Record

// JSON returns the stringified version of the record. Uses jsoniter
// underneath and returns an empty string when the record can not be
// serialized.
func (r Record) JSON() string {
	data, err := jsoniter.Marshal(r)
	if err != nil {
		return ""
	}

	return string(data)
}

//==============================================================================

// Ascending and Descending define the two supported sort directions for a
// find operation.
const (
	Ascending  = 1
	Descending = -1
)

// Sort defines a single (storage field name, direction) sort pair.
type Sort struct {
	Field     string
	Direction int
}

// Query defines the full argument set for a find operation: the compiled
// filter, the projection document and the cursor modifiers.
type Query struct {
	Filter     Record
	Projection Record
	Sort       []Sort
	Skip       int
	Limit      int
}

// ChangeInfo reports the outcome of an update operation.
type ChangeInfo struct {
	Matched         int
	UpdatedExisting bool
}

//==============================================================================

// InsertHandler is invoked with the identities assigned to the inserted
// records, in input order.
type InsertHandler func(ids []interface{}, err error)

// ChangeHandler is invoked with the outcome of an update operation.
type ChangeHandler func(info *ChangeInfo, err error)

// RemoveHandler is invoked with the number of removed records.
type RemoveHandler func(removed int, err error)

// RecordsHandler is invoked with the records matched by a find operation.
type RecordsHandler func(recs []Record, err error)

// RecordHandler is invoked with the single record matched by a find-one
// operation. A nil record with a nil error reports "not found".
type RecordHandler func(rec Record, err error)

// CountHandler is invoked with the number of records matching a filter.
type CountHandler func(n int, err error)

// IndexHandler is invoked once an index-ensure operation completes.
type IndexHandler func(err error)

//==============================================================================

// Store defines the interface for the non-blocking driver operations the
// operation pipeline composes. Every call returns immediately and reports
// its outcome through the supplied completion handler exactly once.
type Store interface {
	Insert(col string, recs []Record, handler InsertHandler)
	Update(col string, filter Record, change Record, multi bool, handler ChangeHandler)
	Remove(col string, filter Record, handler RemoveHandler)
	Find(col string, q Query, handler RecordsHandler)
	FindOne(col string, filter Record, projection Record, handler RecordHandler)
	Count(col string, filter Record, handler CountHandler)
	EnsureIndex(col string, field string, unique bool, sparse bool, handler IndexHandler)
	Aggregate(col string, pipeline []Record, handler RecordsHandler)
	Shutdown(context interface{})
}

//==============================================================================

// ErrDuplicateKey is the cause carried by every duplicate-key conflict a
// store reports, whatever the driver's native error looked like.
var ErrDuplicateKey = errors.New("duplicate key")

// IsDuplicateKey returns true/false if the giving error reports a
// duplicate-key conflict.
func IsDuplicateKey(err error) bool {
	return errors.Cause(err) == ErrDuplicateKey
}

//==============================================================================
