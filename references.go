package codm

import (
	"sync"

	"github.com/influx6/codm/schema"
)

//==============================================================================

// refBatch accumulates the per-document reference resolutions of one
// result set and fires the continuation exactly once, when the last
// document reports in. The first error met wins; later results still
// count toward completion so the batch never stalls.
type refBatch struct {
	mu      sync.Mutex
	current int
	size    int
	loaded  int
	err     error
	docs    []schema.Document
	handler DocumentsHandler
}

// done records one document's resolution outcome.
func (b *refBatch) done(loaded int, err error) {
	b.mu.Lock()

	b.current++
	b.loaded += loaded
	if err != nil && b.err == nil {
		b.err = err
	}

	fire := b.current == b.size
	berr := b.err
	b.mu.Unlock()

	if !fire {
		return
	}

	if berr != nil {
		b.handler(nil, berr)
		return
	}

	b.handler(b.docs, nil)
}

// resolveReferences resolves the references of every giving document and
// delivers the full result set once all have reported. Lazy mode skips
// resolution and delivers immediately.
func (q *QuerySet) resolveReferences(context interface{}, rid string, docs []schema.Document, lazy bool, alias string, refs schema.ReferenceProjections, handler DocumentsHandler) {
	if lazy {
		q.Log(context, "FindAll", "Completed : Op[%s] : Total[%d]", rid, len(docs))
		handler(docs, nil)
		return
	}

	batch := &refBatch{
		size: len(docs),
		docs: docs,
		handler: func(docs []schema.Document, err error) {
			if err != nil {
				q.Error(context, "FindAll", err, "Completed : Op[%s]", rid)
				handler(nil, err)
				return
			}

			q.Log(context, "FindAll", "Completed : Op[%s] : Total[%d]", rid, len(docs))
			handler(docs, nil)
		},
	}

	for _, doc := range docs {
		doc.LoadReferences(q, refs, alias, batch.done)
	}
}

//==============================================================================

// LoadReference fetches one referenced document by identity on behalf of
// a referring document, applying any nested field projection registered
// for the reference. The target type's own references resolve recursively
// under its declared mode, so a chain of non-lazy types loads fully.
func (q *QuerySet) LoadReference(target *schema.Descriptor, id interface{}, fields map[string]interface{}, alias string, handler func(schema.Document, error)) {
	child := New(q.EventLog, target)

	if len(fields) > 0 {
		child.Fields(fields)
	}

	if err := child.Get("codm.LoadReference", id, DocumentHandler(handler), alias); err != nil {
		handler(nil, err)
	}
}

//==============================================================================
