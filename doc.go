// Package codm is an asynchronous object-document mapping layer for
// MongoDB-shaped stores. Document types declare a static field registry
// (see the schema package) and query through a fluent QuerySet whose
// terminal operations compose non-blocking store calls and deliver typed
// outcomes to completion handlers.
// eg
/*

   posts := codm.New(events, postDesc)

   posts.Filter(query.Q{"title": "Go"}).
       Only("title", "author.name").
       FindAll("api", func(docs []schema.Document, err error) {
           // referenced authors are resolved before delivery unless the
           // type (or the call) opted into lazy references.
       })

*/
package codm
