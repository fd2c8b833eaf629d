package codm_test

import (
	"testing"

	"github.com/ardanlabs/kit/tests"

	"github.com/influx6/codm"
	"github.com/influx6/codm/streams"
)

//==============================================================================

// TestProjectionMerging validates the include and exclude merge rules of
// the projection set.
func TestProjectionMerging(t *testing.T) {
	t.Logf("Given the need to accumulate field projections across calls")
	{
		t.Logf("\tWhen giving chained include groups")
		{
			p := codm.NewProjectionSet()

			p.Merge(map[string]interface{}{"title": 1}, codm.Include, true)
			p.Merge(map[string]interface{}{"slug": 1}, codm.Include, true)

			out := p.ToQuery(postType)
			if len(out) != 2 || out["title"] != 1 || out["slug"] != 1 {
				t.Fatalf("\t%s\tShould have unioned the include groups: %+v", tests.Failed, out)
			}
			t.Logf("\t%s\tShould have unioned the include groups.", tests.Success)
		}

		t.Logf("\tWhen excluding against an active include projection")
		{
			p := codm.NewProjectionSet()

			p.Merge(map[string]interface{}{"title": 1, "slug": 1}, codm.Include, true)
			p.Merge(map[string]interface{}{"slug": 0}, codm.Exclude, false)

			out := p.ToQuery(postType)
			if len(out) != 1 || out["title"] != 1 {
				t.Fatalf("\t%s\tShould have narrowed the include set: %+v", tests.Failed, out)
			}
			t.Logf("\t%s\tShould have narrowed the include set.", tests.Success)
		}

		t.Logf("\tWhen including after an exclude projection")
		{
			p := codm.NewProjectionSet()

			p.Merge(map[string]interface{}{"title": 0, "slug": 0}, codm.Exclude, false)
			p.Merge(map[string]interface{}{"slug": 1, "tags": 1}, codm.Include, false)

			out := p.ToQuery(postType)
			if out["tags"] != 1 {
				t.Fatalf("\t%s\tShould have switched to an include projection: %+v", tests.Failed, out)
			}
			t.Logf("\t%s\tShould have switched to an include projection.", tests.Success)

			if _, held := out["slug"]; held {
				t.Fatalf("\t%s\tShould have dropped the previously excluded field: %+v", tests.Failed, out)
			}
			t.Logf("\t%s\tShould have dropped the previously excluded field.", tests.Success)
		}

		t.Logf("\tWhen giving chained exclude groups")
		{
			p := codm.NewProjectionSet()

			p.Merge(map[string]interface{}{"title": 0}, codm.Exclude, false)
			p.Merge(map[string]interface{}{"slug": 0}, codm.Exclude, false)

			out := p.ToQuery(postType)
			if len(out) != 2 || out["title"] != 0 || out["slug"] != 0 {
				t.Fatalf("\t%s\tShould have unioned the exclude groups: %+v", tests.Failed, out)
			}
			t.Logf("\t%s\tShould have unioned the exclude groups.", tests.Success)
		}
	}
}

//==============================================================================

// TestProjectionIdentity validates the identity field carve-outs.
func TestProjectionIdentity(t *testing.T) {
	t.Logf("Given the need to keep identity projection explicit")
	{
		t.Logf("\tWhen giving an include projection without identity mention")
		{
			p := codm.NewProjectionSet()
			p.Merge(map[string]interface{}{"title": 1}, codm.Include, true)

			out := p.ToQuery(postType)
			if _, held := out["_id"]; held {
				t.Fatalf("\t%s\tShould not have touched the identity projection: %+v", tests.Failed, out)
			}
			t.Logf("\t%s\tShould not have touched the identity projection.", tests.Success)
		}

		t.Logf("\tWhen excluding the identity field explicitly")
		{
			p := codm.NewProjectionSet()
			p.Merge(map[string]interface{}{"title": 1}, codm.Include, true)
			p.Merge(map[string]interface{}{"_id": 0}, codm.Exclude, false)

			out := p.ToQuery(postType)
			if out["_id"] != codm.Exclude {
				t.Fatalf("\t%s\tShould have carried the identity exclusion: %+v", tests.Failed, out)
			}
			t.Logf("\t%s\tShould have carried the identity exclusion.", tests.Success)

			if out["title"] != 1 {
				t.Fatalf("\t%s\tShould have kept the include set intact: %+v", tests.Failed, out)
			}
			t.Logf("\t%s\tShould have kept the include set intact.", tests.Success)
		}
	}
}

//==============================================================================

// TestProjectionAlwaysInclude validates the always-include carve-outs.
func TestProjectionAlwaysInclude(t *testing.T) {
	t.Logf("Given the need to force designated fields into every projection")
	{
		t.Logf("\tWhen giving an include projection missing the forced field")
		{
			p := codm.NewProjectionSet("slug")
			p.Merge(map[string]interface{}{"title": 1}, codm.Include, true)

			out := p.ToQuery(postType)
			if out["slug"] != 1 {
				t.Fatalf("\t%s\tShould have forced the field in: %+v", tests.Failed, out)
			}
			t.Logf("\t%s\tShould have forced the field in.", tests.Success)
		}

		t.Logf("\tWhen giving an exclude projection naming the forced field")
		{
			p := codm.NewProjectionSet("slug")
			p.Merge(map[string]interface{}{"slug": 0, "title": 0}, codm.Exclude, false)

			out := p.ToQuery(postType)
			if _, held := out["slug"]; held {
				t.Fatalf("\t%s\tShould have ignored the forced field's exclusion: %+v", tests.Failed, out)
			}
			t.Logf("\t%s\tShould have ignored the forced field's exclusion.", tests.Success)
		}
	}
}

//==============================================================================

// TestSliceProjectionFetch validates that an array slice specification
// rides Fields through a fetch and trims only the named array.
func TestSliceProjectionFetch(t *testing.T) {
	t.Logf("Given the need to fetch a document with a sliced array field")
	{
		t.Logf("\tWhen giving a post carrying three comments and a slice of one")
		{
			openStore("t-slice")

			posts := codm.New(events, postType)

			post := &Post{
				Title: "Sliced Reads",
				Slug:  "sliced-reads",
				Comments: []Comment{
					{Author: "ann", Body: "first"},
					{Author: "ben", Body: "second"},
					{Author: "cid", Body: "third"},
				},
			}
			if err := mustCreate(posts, post, "t-slice"); err != nil {
				t.Fatalf("\t%s\tShould have created the post: %q", tests.Failed, err)
			}
			t.Logf("\t%s\tShould have created the post.", tests.Success)

			doc, err := streams.ReadDocument(maxWait, func(h codm.DocumentHandler) error {
				return posts.Fields(map[string]interface{}{"comments": codm.Slice(1)}).Get(context, post.ID(), h, "t-slice")
			})
			if err != nil || doc == nil {
				t.Fatalf("\t%s\tShould have fetched the sliced post: %q", tests.Failed, err)
			}
			t.Logf("\t%s\tShould have fetched the sliced post.", tests.Success)

			found := doc.(*Post)

			if len(found.Comments) != 1 || found.Comments[0].Author != "ann" {
				t.Fatalf("\t%s\tShould have kept only the first comment: %+v", tests.Failed, found.Comments)
			}
			t.Logf("\t%s\tShould have kept only the first comment.", tests.Success)

			if found.Title != post.Title {
				t.Fatalf("\t%s\tShould have kept the fields outside the slice: %+v", tests.Failed, found)
			}
			t.Logf("\t%s\tShould have kept the fields outside the slice.", tests.Success)

			if !found.PartlyLoaded() {
				t.Fatalf("\t%s\tShould have marked the post partly loaded", tests.Failed)
			}
			t.Logf("\t%s\tShould have marked the post partly loaded.", tests.Success)
		}
	}
}

//==============================================================================

// TestProjectionReset validates that a reset restores the whole-document
// projection.
func TestProjectionReset(t *testing.T) {
	t.Logf("Given the need to return to the whole-document projection")
	{
		t.Logf("\tWhen giving an accumulated projection and a reset")
		{
			p := codm.NewProjectionSet("slug")
			p.Merge(map[string]interface{}{"title": 1}, codm.Include, true)
			p.Merge(map[string]interface{}{"_id": 0}, codm.Exclude, false)

			p.Reset()

			if !p.Empty() {
				t.Fatalf("\t%s\tShould have cleared the projection", tests.Failed)
			}
			t.Logf("\t%s\tShould have cleared the projection.", tests.Success)

			if out := p.ToQuery(postType); out != nil {
				t.Fatalf("\t%s\tShould have produced no driver projection: %+v", tests.Failed, out)
			}
			t.Logf("\t%s\tShould have produced no driver projection.", tests.Success)
		}
	}
}
