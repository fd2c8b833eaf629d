// Package streams provides blocking adapters over the callback-driven
// codm terminal operations, turning a handler-based call into a normal
// function call with a maximum wait.
package streams

import (
	"time"

	"github.com/pkg/errors"

	"github.com/influx6/codm"
	"github.com/influx6/codm/schema"
	"github.com/influx6/codm/storage"
)

//==============================================================================

// ErrRequestTimeout is returned when the maximum wait time for an
// operation's completion passes without a result.
var ErrRequestTimeout = errors.New("request timed out")

//==============================================================================

// ReadDocument runs the giving single-document operation and waits for
// its result, up to the giving maximum duration.
func ReadDocument(maxWait time.Duration, op func(codm.DocumentHandler) error) (schema.Document, error) {
	type result struct {
		doc schema.Document
		err error
	}

	res := make(chan result, 1)

	if err := op(func(doc schema.Document, err error) {
		res <- result{doc: doc, err: err}
	}); err != nil {
		return nil, err
	}

	select {
	case r := <-res:
		return r.doc, r.err
	case <-time.After(maxWait):
		return nil, ErrRequestTimeout
	}
}

// ReadDocuments runs the giving multi-document operation and waits for
// its result, up to the giving maximum duration.
func ReadDocuments(maxWait time.Duration, op func(codm.DocumentsHandler) error) ([]schema.Document, error) {
	type result struct {
		docs []schema.Document
		err  error
	}

	res := make(chan result, 1)

	if err := op(func(docs []schema.Document, err error) {
		res <- result{docs: docs, err: err}
	}); err != nil {
		return nil, err
	}

	select {
	case r := <-res:
		return r.docs, r.err
	case <-time.After(maxWait):
		return nil, ErrRequestTimeout
	}
}

// ReadUpdate runs the giving update operation and waits for its result,
// up to the giving maximum duration.
func ReadUpdate(maxWait time.Duration, op func(codm.UpdateHandler) error) (*codm.UpdateResult, error) {
	type result struct {
		res *codm.UpdateResult
		err error
	}

	res := make(chan result, 1)

	if err := op(func(ur *codm.UpdateResult, err error) {
		res <- result{res: ur, err: err}
	}); err != nil {
		return nil, err
	}

	select {
	case r := <-res:
		return r.res, r.err
	case <-time.After(maxWait):
		return nil, ErrRequestTimeout
	}
}

// ReadRemoved runs the giving removal operation and waits for the removed
// count, up to the giving maximum duration.
func ReadRemoved(maxWait time.Duration, op func(codm.RemoveHandler) error) (int, error) {
	return readCount(maxWait, func(deliver func(int, error)) error {
		return op(deliver)
	})
}

// ReadCount runs the giving count operation and waits for the count, up
// to the giving maximum duration.
func ReadCount(maxWait time.Duration, op func(codm.CountHandler) error) (int, error) {
	return readCount(maxWait, func(deliver func(int, error)) error {
		return op(deliver)
	})
}

// ReadIndexes runs the giving index operation and waits for the confirmed
// count, up to the giving maximum duration.
func ReadIndexes(maxWait time.Duration, op func(codm.IndexHandler) error) (int, error) {
	return readCount(maxWait, func(deliver func(int, error)) error {
		return op(deliver)
	})
}

// ReadRecords runs the giving raw-record operation and waits for its
// result, up to the giving maximum duration.
func ReadRecords(maxWait time.Duration, op func(storage.RecordsHandler) error) ([]storage.Record, error) {
	type result struct {
		recs []storage.Record
		err  error
	}

	res := make(chan result, 1)

	if err := op(func(recs []storage.Record, err error) {
		res <- result{recs: recs, err: err}
	}); err != nil {
		return nil, err
	}

	select {
	case r := <-res:
		return r.recs, r.err
	case <-time.After(maxWait):
		return nil, ErrRequestTimeout
	}
}

func readCount(maxWait time.Duration, op func(func(int, error)) error) (int, error) {
	type result struct {
		n   int
		err error
	}

	res := make(chan result, 1)

	if err := op(func(n int, err error) {
		res <- result{n: n, err: err}
	}); err != nil {
		return 0, err
	}

	select {
	case r := <-res:
		return r.n, r.err
	case <-time.After(maxWait):
		return 0, ErrRequestTimeout
	}
}

//==============================================================================
