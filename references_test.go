package codm_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/ardanlabs/kit/tests"

	"github.com/influx6/codm"
	"github.com/influx6/codm/streams"
)

//==============================================================================

// seedPosts stores one author and the giving number of posts referencing
// it under the giving alias.
func seedPosts(t *testing.T, alias string, total int) {
	openStore(alias)

	authors := codm.New(events, authorType)
	posts := codm.New(events, postType)

	ann := &Author{Name: "Ann Field", Nickname: "ann"}
	if err := mustCreate(authors, ann, alias); err != nil {
		t.Fatalf("\t%s\tShould have created the author: %q", tests.Failed, err)
	}

	titles := []string{"Ref One", "Ref Two", "Ref Three", "Ref Four"}
	for i := 0; i < total; i++ {
		post := &Post{Title: titles[i%len(titles)], AuthorID: ann.ID()}
		if err := mustCreate(posts, post, alias); err != nil {
			t.Fatalf("\t%s\tShould have created post %d: %q", tests.Failed, i, err)
		}
	}
}

//==============================================================================

// TestReferenceBatchLoading validates that a find resolves every
// document's references and delivers the batch exactly once.
func TestReferenceBatchLoading(t *testing.T) {
	t.Logf("Given the need to resolve references across a result set")
	{
		t.Logf("\tWhen giving three posts referencing one author")
		{
			seedPosts(t, "t-refs", 3)

			posts := codm.New(events, postType)

			var calls int64
			delivered := make(chan []codm.Document, 1)

			err := posts.FindAll(context, func(docs []codm.Document, err error) {
				atomic.AddInt64(&calls, 1)
				if err != nil {
					t.Errorf("\t%s\tShould have listed the posts: %q", tests.Failed, err)
				}
				delivered <- docs
			}, "t-refs")
			if err != nil {
				t.Fatalf("\t%s\tShould have started the find: %q", tests.Failed, err)
			}

			var docs []codm.Document
			select {
			case docs = <-delivered:
			case <-time.After(maxWait):
				t.Fatalf("\t%s\tShould have delivered the result in time", tests.Failed)
			}

			if len(docs) != 3 {
				t.Fatalf("\t%s\tShould have returned all three posts: %d", tests.Failed, len(docs))
			}
			t.Logf("\t%s\tShould have returned all three posts.", tests.Success)

			for _, doc := range docs {
				post := doc.(*Post)
				if post.Author == nil || post.Author.Name != "Ann Field" {
					t.Fatalf("\t%s\tShould have resolved every post's author", tests.Failed)
				}
			}
			t.Logf("\t%s\tShould have resolved every post's author.", tests.Success)

			time.Sleep(50 * time.Millisecond)

			if n := atomic.LoadInt64(&calls); n != 1 {
				t.Fatalf("\t%s\tShould have delivered the batch exactly once: %d", tests.Failed, n)
			}
			t.Logf("\t%s\tShould have delivered the batch exactly once.", tests.Success)
		}
	}
}

//==============================================================================

// TestLazyTypeDefault validates that a lazy document type skips reference
// resolution on fetch.
func TestLazyTypeDefault(t *testing.T) {
	t.Logf("Given the need to defer reference resolution for a lazy type")
	{
		t.Logf("\tWhen giving posts fetched through the lazy type registry")
		{
			seedPosts(t, "t-lazy", 2)

			posts := codm.New(events, lazyPostType)

			docs, err := streams.ReadDocuments(maxWait, func(h codm.DocumentsHandler) error {
				return posts.FindAll(context, h, "t-lazy")
			})
			if err != nil || len(docs) != 2 {
				t.Fatalf("\t%s\tShould have listed the posts: %q", tests.Failed, err)
			}
			t.Logf("\t%s\tShould have listed the posts.", tests.Success)

			for _, doc := range docs {
				post := doc.(*Post)
				if post.Author != nil {
					t.Fatalf("\t%s\tShould have left the author unresolved", tests.Failed)
				}
				if post.AuthorID == nil {
					t.Fatalf("\t%s\tShould still carry the author identity", tests.Failed)
				}
			}
			t.Logf("\t%s\tShould have left the author unresolved.", tests.Success)
		}
	}
}

// TestLazilyOverride validates the per-call override of the type's
// reference-resolution default.
func TestLazilyOverride(t *testing.T) {
	t.Logf("Given the need to override reference resolution per call")
	{
		t.Logf("\tWhen suppressing resolution on an eager type")
		{
			seedPosts(t, "t-lazily", 1)

			posts := codm.New(events, postType)

			docs, err := streams.ReadDocuments(maxWait, func(h codm.DocumentsHandler) error {
				return posts.Lazily(true).FindAll(context, h, "t-lazily")
			})
			if err != nil || len(docs) != 1 {
				t.Fatalf("\t%s\tShould have listed the post: %q", tests.Failed, err)
			}

			if docs[0].(*Post).Author != nil {
				t.Fatalf("\t%s\tShould have skipped the author fetch", tests.Failed)
			}
			t.Logf("\t%s\tShould have skipped the author fetch.", tests.Success)
		}

		t.Logf("\tWhen forcing resolution on a lazy type")
		{
			lazy := codm.New(events, lazyPostType)

			docs, err := streams.ReadDocuments(maxWait, func(h codm.DocumentsHandler) error {
				return lazy.Lazily(false).FindAll(context, h, "t-lazily")
			})
			if err != nil || len(docs) != 1 {
				t.Fatalf("\t%s\tShould have listed the post: %q", tests.Failed, err)
			}

			if docs[0].(*Post).Author == nil {
				t.Fatalf("\t%s\tShould have resolved the author", tests.Failed)
			}
			t.Logf("\t%s\tShould have resolved the author.", tests.Success)
		}
	}
}

//==============================================================================

// TestNestedReferenceProjection validates that a dotted projection across
// a reference boundary narrows the referenced fetch.
func TestNestedReferenceProjection(t *testing.T) {
	t.Logf("Given the need to project fields of a referenced document")
	{
		t.Logf("\tWhen giving Only on a dotted path through the author")
		{
			seedPosts(t, "t-nested", 1)

			posts := codm.New(events, postType)

			docs, err := streams.ReadDocuments(maxWait, func(h codm.DocumentsHandler) error {
				return posts.Only("title", "author.name").FindAll(context, h, "t-nested")
			})
			if err != nil || len(docs) != 1 {
				t.Fatalf("\t%s\tShould have listed the post: %q", tests.Failed, err)
			}

			post := docs[0].(*Post)

			if post.Author == nil {
				t.Fatalf("\t%s\tShould have resolved the author reference", tests.Failed)
			}
			t.Logf("\t%s\tShould have resolved the author reference.", tests.Success)

			if post.Author.Name != "Ann Field" || post.Author.Nickname != "" {
				t.Fatalf("\t%s\tShould have narrowed the author fetch to its name: %+v", tests.Failed, post.Author)
			}
			t.Logf("\t%s\tShould have narrowed the author fetch to its name.", tests.Success)

			if !post.PartlyLoaded() || !post.Author.PartlyLoaded() {
				t.Fatalf("\t%s\tShould have marked both documents partly loaded", tests.Failed)
			}
			t.Logf("\t%s\tShould have marked both documents partly loaded.", tests.Success)
		}
	}
}
