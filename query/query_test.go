package query_test

import (
	"testing"

	"github.com/ardanlabs/kit/tests"

	"github.com/influx6/codm/query"
	"github.com/influx6/codm/schema"
	"github.com/influx6/codm/storage"
)

//==============================================================================

var addressType = schema.Embed("Address",
	&schema.Field{Name: "city"},
	&schema.Field{Name: "zip"},
)

var personType = schema.MustNew(schema.Config{
	Name:       "Person",
	Collection: "people",
	Make:       func() schema.Document { return nil },
},
	&schema.Field{Name: "name"},
	&schema.Field{Name: "year", DbName: "yr"},
	&schema.Field{Name: "address", Kind: schema.Embedded, Embeds: addressType},
)

//==============================================================================

// TestKeywordCompilation validates keyword comparison compilation.
func TestKeywordCompilation(t *testing.T) {
	t.Logf("Given the need to compile keyword comparisons into a filter")
	{
		t.Logf("\tWhen giving plain equality comparisons")
		{
			out, err := query.Q{"name": "alex"}.ToQuery(personType)
			if err != nil || out["name"] != "alex" {
				t.Fatalf("\t%s\tShould have compiled the equality: %+v %v", tests.Failed, out, err)
			}
			t.Logf("\t%s\tShould have compiled the equality.", tests.Success)
		}

		t.Logf("\tWhen giving operator suffixes on a renamed field")
		{
			out, err := query.Q{"year__gt": 2010, "year__lte": 2020}.ToQuery(personType)
			if err != nil {
				t.Fatalf("\t%s\tShould have compiled the range: %v", tests.Failed, err)
			}

			cond, ok := out["yr"].(storage.Record)
			if !ok || cond["$gt"] != 2010 || cond["$lte"] != 2020 {
				t.Fatalf("\t%s\tShould have merged both operators under the storage name: %+v", tests.Failed, out)
			}
			t.Logf("\t%s\tShould have merged both operators under the storage name.", tests.Success)
		}

		t.Logf("\tWhen giving a dotted path through an embedded field")
		{
			out, err := query.Q{"address.city__ne": "berlin"}.ToQuery(personType)
			if err != nil {
				t.Fatalf("\t%s\tShould have compiled the dotted comparison: %v", tests.Failed, err)
			}

			cond, ok := out["address.city"].(storage.Record)
			if !ok || cond["$ne"] != "berlin" {
				t.Fatalf("\t%s\tShould have kept the dotted storage path: %+v", tests.Failed, out)
			}
			t.Logf("\t%s\tShould have kept the dotted storage path.", tests.Success)
		}

		t.Logf("\tWhen giving an undeclared field")
		{
			_, err := query.Q{"bogus": 1}.ToQuery(personType)
			if _, ok := err.(query.FieldError); !ok {
				t.Fatalf("\t%s\tShould have rejected the undeclared field: %v", tests.Failed, err)
			}
			t.Logf("\t%s\tShould have rejected the undeclared field.", tests.Success)
		}
	}
}

//==============================================================================

// TestConjunction validates And composition and flattening.
func TestConjunction(t *testing.T) {
	t.Logf("Given the need to conjoin filter expressions")
	{
		t.Logf("\tWhen giving disjoint comparisons")
		{
			expr := query.And(query.Q{"name": "alex"}, query.Q{"year__gt": 2010})

			out, err := expr.ToQuery(personType)
			if err != nil {
				t.Fatalf("\t%s\tShould have compiled the conjunction: %v", tests.Failed, err)
			}

			if out["name"] != "alex" || out["yr"] == nil {
				t.Fatalf("\t%s\tShould have merged disjoint keys flat: %+v", tests.Failed, out)
			}
			t.Logf("\t%s\tShould have merged disjoint keys flat.", tests.Success)
		}

		t.Logf("\tWhen giving colliding comparisons")
		{
			expr := query.And(query.Q{"name": "alex"}, query.Q{"name": "sasha"})

			out, err := expr.ToQuery(personType)
			if err != nil {
				t.Fatalf("\t%s\tShould have compiled the conjunction: %v", tests.Failed, err)
			}

			subs, ok := out["$and"].([]interface{})
			if !ok || len(subs) != 2 {
				t.Fatalf("\t%s\tShould have fallen back to an explicit $and: %+v", tests.Failed, out)
			}
			t.Logf("\t%s\tShould have fallen back to an explicit $and.", tests.Success)
		}

		t.Logf("\tWhen giving nil members")
		{
			expr := query.And(nil, query.Q{"name": "alex"}, nil)

			out, err := expr.ToQuery(personType)
			if err != nil || out["name"] != "alex" {
				t.Fatalf("\t%s\tShould have skipped the nil members: %+v %v", tests.Failed, out, err)
			}
			t.Logf("\t%s\tShould have skipped the nil members.", tests.Success)
		}
	}
}

//==============================================================================

// TestDisjunction validates Or compilation.
func TestDisjunction(t *testing.T) {
	t.Logf("Given the need to disjoin filter expressions")
	{
		t.Logf("\tWhen giving two alternative comparisons")
		{
			expr := query.Or(query.Q{"name": "alex"}, query.Q{"name": "sasha"})

			out, err := expr.ToQuery(personType)
			if err != nil {
				t.Fatalf("\t%s\tShould have compiled the disjunction: %v", tests.Failed, err)
			}

			subs, ok := out["$or"].([]interface{})
			if !ok || len(subs) != 2 {
				t.Fatalf("\t%s\tShould have produced a driver $or: %+v", tests.Failed, out)
			}
			t.Logf("\t%s\tShould have produced a driver $or.", tests.Success)
		}
	}
}

//==============================================================================

// TestNegation validates Not compilation.
func TestNegation(t *testing.T) {
	t.Logf("Given the need to negate a filter expression")
	{
		t.Logf("\tWhen giving a simple comparison")
		{
			out, err := query.Not(query.Q{"name": "alex"}).ToQuery(personType)
			if err != nil {
				t.Fatalf("\t%s\tShould have compiled the negation: %v", tests.Failed, err)
			}

			subs, ok := out["$nor"].([]interface{})
			if !ok || len(subs) != 1 {
				t.Fatalf("\t%s\tShould have wrapped the inner filter in $nor: %+v", tests.Failed, out)
			}
			t.Logf("\t%s\tShould have wrapped the inner filter in $nor.", tests.Success)

			inner, ok := subs[0].(storage.Record)
			if !ok || inner["name"] != "alex" {
				t.Fatalf("\t%s\tShould have kept the inner comparison intact: %+v", tests.Failed, subs[0])
			}
			t.Logf("\t%s\tShould have kept the inner comparison intact.", tests.Success)
		}
	}
}
