package codm_test

import (
	"fmt"
	"strings"
	"time"

	"github.com/influx6/codm"
	"github.com/influx6/codm/schema"
	"github.com/influx6/codm/storage"
	"github.com/influx6/codm/streams"
)

//==============================================================================

var context = "testing"

// maxWait bounds how long a test waits for an asynchronous operation.
var maxWait = 2 * time.Second

//==============================================================================

var events eventlog

// eventlog provides a concrete implementation of a logger.
type eventlog struct{}

// Log logs all standard log reports.
func (eventlog) Log(context interface{}, name string, message string, data ...interface{}) {}

// Error logs all error reports.
func (eventlog) Error(context interface{}, name string, err error, message string, data ...interface{}) {
}

//==============================================================================

// Comment models a reader comment embedded in a post.
type Comment struct {
	Author string
	Body   string
}

var commentType = schema.Embed("Comment",
	&schema.Field{Name: "author"},
	&schema.Field{Name: "body"},
)

//==============================================================================

// Author models a post author stored in its own collection.
type Author struct {
	id     interface{}
	partly bool

	Name     string
	Nickname string
}

var authorType = schema.MustNew(schema.Config{
	Name:       "Author",
	Collection: "authors",
	Make:       func() schema.Document { return &Author{} },
},
	&schema.Field{Name: "name"},
	&schema.Field{Name: "nickname", Unique: true},
)

func (a *Author) ID() interface{} { return a.id }
func (a *Author) SetID(id interface{}) { a.id = id }

func (a *Author) Validate() error {
	if a.Name == "" {
		return fmt.Errorf("author requires a name")
	}

	return nil
}

func (a *Author) ToSon() storage.Record {
	rec := storage.Record{
		"name":     a.Name,
		"nickname": a.Nickname,
	}

	if a.id != nil {
		rec["_id"] = a.id
	}

	return rec
}

func (a *Author) FromSon(rec storage.Record, partlyLoaded bool, refs schema.ReferenceProjections) error {
	a.id = rec["_id"]
	a.partly = partlyLoaded

	if name, ok := rec["name"].(string); ok {
		a.Name = name
	}

	if nickname, ok := rec["nickname"].(string); ok {
		a.Nickname = nickname
	}

	return nil
}

func (a *Author) PartlyLoaded() bool { return a.partly }

func (a *Author) LoadReferences(loader schema.Loader, refs schema.ReferenceProjections, alias string, handler schema.RefsHandler) {
	handler(0, nil)
}

//==============================================================================

// Post models a blog post with embedded comments and a referenced author.
type Post struct {
	id     interface{}
	partly bool

	Title    string
	Slug     string
	Tags     []string
	Comments []Comment

	AuthorID interface{}
	Author   *Author
}

var postFields = []*schema.Field{
	{Name: "title"},
	{Name: "slug", Unique: true, Sparse: true, OnSave: func(doc schema.Document, creating bool) {
		p := doc.(*Post)
		if p.Slug == "" {
			p.Slug = strings.ToLower(strings.Replace(p.Title, " ", "-", -1))
		}
	}},
	{Name: "tags", Kind: schema.List, Elem: &schema.Field{Name: "tags"}},
	{Name: "comments", Kind: schema.List, Elem: &schema.Field{Name: "comments", Kind: schema.Embedded, Embeds: commentType}},
	{Name: "author", Kind: schema.Reference, Refers: authorType},
}

var postType = schema.MustNew(schema.Config{
	Name:       "Post",
	Collection: "posts",
	Make:       func() schema.Document { return &Post{} },
}, postFields...)

// lazyPostType shares the Post shape but suppresses automatic reference
// resolution after a fetch.
var lazyPostType = schema.MustNew(schema.Config{
	Name:       "Post",
	Collection: "posts",
	Lazy:       true,
	Make:       func() schema.Document { return &Post{} },
}, postFields...)

func (p *Post) ID() interface{} { return p.id }
func (p *Post) SetID(id interface{}) { p.id = id }

func (p *Post) Validate() error {
	if p.Title == "" {
		return fmt.Errorf("post requires a title")
	}

	return nil
}

func (p *Post) ToSon() storage.Record {
	tags := make([]interface{}, 0, len(p.Tags))
	for _, tag := range p.Tags {
		tags = append(tags, tag)
	}

	comments := make([]interface{}, 0, len(p.Comments))
	for _, comment := range p.Comments {
		comments = append(comments, storage.Record{
			"author": comment.Author,
			"body":   comment.Body,
		})
	}

	rec := storage.Record{
		"title":    p.Title,
		"slug":     p.Slug,
		"tags":     tags,
		"comments": comments,
		"author":   p.AuthorID,
	}

	if p.id != nil {
		rec["_id"] = p.id
	}

	return rec
}

func (p *Post) FromSon(rec storage.Record, partlyLoaded bool, refs schema.ReferenceProjections) error {
	p.id = rec["_id"]
	p.partly = partlyLoaded
	p.AuthorID = rec["author"]

	if title, ok := rec["title"].(string); ok {
		p.Title = title
	}

	if slug, ok := rec["slug"].(string); ok {
		p.Slug = slug
	}

	p.Tags = nil
	if tags, ok := rec["tags"].([]interface{}); ok {
		for _, tag := range tags {
			if s, ok := tag.(string); ok {
				p.Tags = append(p.Tags, s)
			}
		}
	}

	p.Comments = nil
	if comments, ok := rec["comments"].([]interface{}); ok {
		for _, item := range comments {
			var sub storage.Record

			switch tm := item.(type) {
			case storage.Record:
				sub = tm
			case map[string]interface{}:
				sub = storage.Record(tm)
			default:
				continue
			}

			comment := Comment{}
			if author, ok := sub["author"].(string); ok {
				comment.Author = author
			}
			if body, ok := sub["body"].(string); ok {
				comment.Body = body
			}

			p.Comments = append(p.Comments, comment)
		}
	}

	return nil
}

func (p *Post) PartlyLoaded() bool { return p.partly }

func (p *Post) LoadReferences(loader schema.Loader, refs schema.ReferenceProjections, alias string, handler schema.RefsHandler) {
	if p.AuthorID == nil {
		handler(0, nil)
		return
	}

	loader.LoadReference(authorType, p.AuthorID, refs.For("author"), alias, func(doc schema.Document, err error) {
		if err != nil {
			handler(0, err)
			return
		}

		if author, ok := doc.(*Author); ok {
			p.Author = author
		}

		handler(1, nil)
	})
}

//==============================================================================

// openStore registers a fresh in-memory store under the giving alias so
// tests stay isolated from each other.
func openStore(alias string) {
	codm.Register(alias, storage.NewMemory())
}

// mustCreate saves the giving document through the alias store, failing
// the returned error channel on any outcome but success.
func mustCreate(qs *codm.QuerySet, doc schema.Document, alias string) error {
	_, err := streams.ReadDocument(maxWait, func(h codm.DocumentHandler) error {
		return qs.Create(context, doc, h, alias)
	})

	return err
}
