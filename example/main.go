package main

import (
	"fmt"
	"os"
	"time"

	"github.com/ardanlabs/kit/log"

	"github.com/influx6/codm"
	"github.com/influx6/codm/db/mongo"
	"github.com/influx6/codm/query"
	"github.com/influx6/codm/schema"
	"github.com/influx6/codm/storage"
	"github.com/influx6/codm/streams"
)

func init() {
	log.Init(os.Stdout, func() int { return log.DEV }, log.Ldefault)
}

//==============================================================================

var events eventlog

// eventlog provides a concrete implementation of a logger.
type eventlog struct{}

// Log logs all standard log reports.
func (l eventlog) Log(context interface{}, name string, message string, data ...interface{}) {
	log.Dev(context, name, message, data...)
}

// Error logs all error reports.
func (l eventlog) Error(context interface{}, name string, err error, message string, data ...interface{}) {
	log.Error(context, name, err, message, data...)
}

//==============================================================================

var context = "example-app"

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

// ID returns the author's identity.
func (a *Author) ID() interface{} { return a.id }

// SetID sets the author's identity.
func (a *Author) SetID(id interface{}) { a.id = id }

// Validate checks the author's required fields.
func (a *Author) Validate() error {
	if a.Name == "" {
		return fmt.Errorf("author requires a name")
	}

	return nil
}

// ToSon serializes the author for storage.
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

// FromSon materializes the author from a stored record.
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

// PartlyLoaded reports whether the author came from a projected fetch.
func (a *Author) PartlyLoaded() bool { return a.partly }

// LoadReferences completes immediately: authors reference nothing.
func (a *Author) LoadReferences(loader schema.Loader, refs schema.ReferenceProjections, alias string, handler schema.RefsHandler) {
	handler(0, nil)
}

//==============================================================================

// Post models a blog post referencing its author by identity.
type Post struct {
	id     interface{}
	partly bool

	Title    string
	Tags     []string
	Modified time.Time

	AuthorID interface{}
	Author   *Author
}

var postType = schema.MustNew(schema.Config{
	Name:       "Post",
	Collection: "posts",
	Make:       func() schema.Document { return &Post{} },
},
	&schema.Field{Name: "title"},
	&schema.Field{Name: "tags", Kind: schema.List, Elem: &schema.Field{Name: "tags"}},
	&schema.Field{Name: "modified", OnSave: func(doc schema.Document, creating bool) {
		doc.(*Post).Modified = time.Now()
	}},
	&schema.Field{Name: "author", Kind: schema.Reference, Refers: authorType},
)

// ID returns the post's identity.
func (p *Post) ID() interface{} { return p.id }

// SetID sets the post's identity.
func (p *Post) SetID(id interface{}) { p.id = id }

// Validate checks the post's required fields.
func (p *Post) Validate() error {
	if p.Title == "" {
		return fmt.Errorf("post requires a title")
	}

	return nil
}

// ToSon serializes the post for storage.
func (p *Post) ToSon() storage.Record {
	tags := make([]interface{}, 0, len(p.Tags))
	for _, tag := range p.Tags {
		tags = append(tags, tag)
	}

	rec := storage.Record{
		"title":    p.Title,
		"tags":     tags,
		"modified": p.Modified,
		"author":   p.AuthorID,
	}

	if p.id != nil {
		rec["_id"] = p.id
	}

	return rec
}

// FromSon materializes the post from a stored record.
func (p *Post) FromSon(rec storage.Record, partlyLoaded bool, refs schema.ReferenceProjections) error {
	p.id = rec["_id"]
	p.partly = partlyLoaded
	p.AuthorID = rec["author"]

	if title, ok := rec["title"].(string); ok {
		p.Title = title
	}

	if modified, ok := rec["modified"].(time.Time); ok {
		p.Modified = modified
	}

	if tags, ok := rec["tags"].([]interface{}); ok {
		p.Tags = p.Tags[:0]
		for _, tag := range tags {
			if s, ok := tag.(string); ok {
				p.Tags = append(p.Tags, s)
			}
		}
	}

	return nil
}

// PartlyLoaded reports whether the post came from a projected fetch.
func (p *Post) PartlyLoaded() bool { return p.partly }

// LoadReferences fetches the post's author through the giving loader.
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

func main() {
	store, err := mongo.New(events, mongo.Config{
		Host:    "127.0.0.1:27017",
		AuthDB:  "blog",
		DB:      "blog",
		Workers: 10,
	})
	if err != nil {
		events.Error(context, "main", err, "Unable to connect store")
		os.Exit(1)
	}

	codm.Use(store)
	defer codm.ShutdownConnections(context)

	wait := 30 * time.Second

	authors := codm.New(events, authorType)
	posts := codm.New(events, postType)

	bob := &Author{Name: "Bob Marshall", Nickname: "bob"}

	if _, err := streams.ReadDocument(wait, func(h codm.DocumentHandler) error {
		return authors.Create(context, bob, h)
	}); err != nil {
		events.Error(context, "main", err, "Unable to create author")
		os.Exit(1)
	}

	post := &Post{
		Title:    "Interesting Posts About Go",
		Tags:     []string{"go", "odm"},
		AuthorID: bob.ID(),
	}

	if _, err := streams.ReadDocument(wait, func(h codm.DocumentHandler) error {
		return posts.Create(context, post, h)
	}); err != nil {
		events.Error(context, "main", err, "Unable to create post")
		os.Exit(1)
	}

	found, err := streams.ReadDocuments(wait, func(h codm.DocumentsHandler) error {
		return posts.Filter(query.Q{"tags": "go"}).OrderBy("title", codm.Ascending).FindAll(context, h)
	})
	if err != nil {
		events.Error(context, "main", err, "Unable to list posts")
		os.Exit(1)
	}

	for _, doc := range found {
		p := doc.(*Post)
		fmt.Printf("Post: %q by %q\n", p.Title, p.Author.Name)
	}
}
