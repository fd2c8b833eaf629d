// Package mongo provides a MongoDB-backed store for codm document
// operations, dispatching each store call through a worker stream.
package mongo

import (
	"sync"
	"time"

	"github.com/influx6/faux/sumex"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"gopkg.in/mgo.v2"
	"gopkg.in/mgo.v2/bson"

	"github.com/influx6/codm/db"
	"github.com/influx6/codm/storage"
)

//==============================================================================

// masterListLock provides a mutex for controlling access to the masterList.
var masterListLock sync.Mutex

// masterList contains a set of session lists of connections that have been
// created.
var masterList = make(map[string]*mgo.Session)

//==============================================================================

// Config provides configuration for connecting to a db.
type Config struct {
	Host     string
	AuthDB   string
	DB       string
	User     string
	Password string

	// Workers sets the operation stream's concurrency. Zero means one.
	Workers int
}

//==============================================================================

// EventLog defines event logger that allows us to record events for a
// specific action that occured.
type EventLog interface {
	Log(context interface{}, name string, message string, data ...interface{})
	Error(context interface{}, name string, err error, message string, data ...interface{})
}

//==============================================================================

// opRunner executes injected store operations on the worker stream.
type opRunner struct{}

// Do runs the giving operation closure.
func (opRunner) Do(data interface{}, err error) (interface{}, error) {
	if err != nil {
		return nil, err
	}

	if op, ok := data.(func()); ok {
		op()
	}

	return nil, nil
}

//==============================================================================

// Mongo provides a storage.Store backed by a MongoDB session, running
// every operation on its worker stream and reporting through the
// operation's handler.
type Mongo struct {
	*Config
	EventLog

	session *mgo.Session
	ops     sumex.Streams
}

// New returns a new Mongo store for the giving configuration, reusing the
// master session for an already-dialed host and database pair.
func New(events EventLog, c Config) (*Mongo, error) {
	workers := c.Workers
	if workers < 1 {
		workers = 1
	}

	m := Mongo{
		Config:   &c,
		EventLog: events,
		ops:      sumex.New(workers, events, opRunner{}),
	}

	key := c.Host + ":" + c.DB

	masterListLock.Lock()
	ms, ok := masterList[key]
	masterListLock.Unlock()

	if !ok {
		if err := m.connectDB("mongo.New"); err != nil {
			return nil, err
		}

		ms = m.session.Copy()

		masterListLock.Lock()
		masterList[key] = ms
		masterListLock.Unlock()
	} else {
		m.session = ms.Copy()
	}

	return &m, nil
}

// connectDB connects and initializes the master session for the mongo
// list.
func (m *Mongo) connectDB(context interface{}) error {
	m.Log(context, "connectDB", "Started : Config : %s", m.Query(m.Config))

	// We need this object to establish a session to our MongoDB.
	info := mgo.DialInfo{
		Addrs:    []string{m.Host},
		Timeout:  60 * time.Second,
		Database: m.AuthDB,
		Username: m.User,
		Password: m.Password,
	}

	// Create a session which maintains a pool of socket connections
	// to our MongoDB.
	ses, err := mgo.DialWithInfo(&info)
	if err != nil {
		m.Error(context, "connectDB", err, "Completed")
		return err
	}

	ses.SetMode(mgo.Monotonic, true)
	m.session = ses

	m.Log(context, "connectDB", "Completed")
	return nil
}

//==============================================================================

// QueryIndent returns the stringified version of the giving data and
// indents its result.
func (m *Mongo) QueryIndent(ms interface{}) string {
	data, err := jsoniter.MarshalIndent(ms, "", "  ")
	if err != nil {
		return ""
	}

	return string(data)
}

// Query returns a stringified version of the provided argument.
func (m *Mongo) Query(ms interface{}) string {
	data, err := jsoniter.Marshal(ms)
	if err != nil {
		return ""
	}

	return string(data)
}

//==============================================================================

// collection copies the session and captures the specified collection,
// returning the close function for the copy.
func (m *Mongo) collection(col string) (*mgo.Collection, func()) {
	ses := m.session.Copy()
	return ses.DB(m.DB).C(col), ses.Close
}

// dupErr normalizes the driver's duplicate-key failure into the
// storage-level sentinel.
func dupErr(err error) error {
	if mgo.IsDup(err) {
		return errors.Wrap(storage.ErrDuplicateKey, err.Error())
	}

	return err
}

//==============================================================================

// Insert stores the giving records, assigning identities to records that
// carry none, and delivers the identities in input order.
func (m *Mongo) Insert(col string, recs []storage.Record, handler storage.InsertHandler) {
	m.Log("mongo", "Insert", "Started : Db[%s] : Collection[%s] : Total[%d]", m.DB, col, len(recs))

	m.ops.Inject(func() {
		c, done := m.collection(col)
		defer done()

		ids := make([]interface{}, 0, len(recs))
		docs := make([]interface{}, 0, len(recs))

		for _, rec := range recs {
			if rec["_id"] == nil {
				rec["_id"] = bson.NewObjectId()
			}

			ids = append(ids, rec["_id"])
			docs = append(docs, rec)
		}

		if err := c.Insert(docs...); err != nil {
			err = dupErr(err)
			m.Error("mongo", "Insert", err, "Completed")
			handler(nil, err)
			return
		}

		m.Log("mongo", "Insert", "Completed")
		handler(ids, nil)
	})
}

// Update applies the giving change document to the documents matching the
// filter, every match when multi is set and the first otherwise.
func (m *Mongo) Update(col string, filter storage.Record, change storage.Record, multi bool, handler storage.ChangeHandler) {
	m.Log("mongo", "Update", "Started : Db[%s] : Collection[%s] : Filter : %s", m.DB, col, m.Query(filter))

	m.ops.Inject(func() {
		c, done := m.collection(col)
		defer done()

		if multi {
			info, err := c.UpdateAll(filter, change)
			if err != nil {
				err = dupErr(err)
				m.Error("mongo", "Update", err, "Completed")
				handler(nil, err)
				return
			}

			m.Log("mongo", "Update", "Completed : Matched[%d]", info.Updated)
			handler(&storage.ChangeInfo{Matched: info.Updated, UpdatedExisting: info.Updated > 0}, nil)
			return
		}

		if err := c.Update(filter, change); err != nil {
			if err == mgo.ErrNotFound {
				m.Log("mongo", "Update", "Completed : Matched[0]")
				handler(&storage.ChangeInfo{}, nil)
				return
			}

			err = dupErr(err)
			m.Error("mongo", "Update", err, "Completed")
			handler(nil, err)
			return
		}

		m.Log("mongo", "Update", "Completed : Matched[1]")
		handler(&storage.ChangeInfo{Matched: 1, UpdatedExisting: true}, nil)
	})
}

// Remove deletes every document matching the giving filter and delivers
// the removed count.
func (m *Mongo) Remove(col string, filter storage.Record, handler storage.RemoveHandler) {
	m.Log("mongo", "Remove", "Started : Db[%s] : Collection[%s] : Filter : %s", m.DB, col, m.Query(filter))

	m.ops.Inject(func() {
		c, done := m.collection(col)
		defer done()

		info, err := c.RemoveAll(filter)
		if err != nil {
			m.Error("mongo", "Remove", err, "Completed")
			handler(0, err)
			return
		}

		m.Log("mongo", "Remove", "Completed : Removed[%d]", info.Removed)
		handler(info.Removed, nil)
	})
}

// Find retrieves the documents matching the giving query, honoring its
// projection, sort, skip and limit.
func (m *Mongo) Find(col string, q storage.Query, handler storage.RecordsHandler) {
	m.Log("mongo", "Find", "Started : Db[%s] : Collection[%s] : Query : %s", m.DB, col, m.Query(q.Filter))

	m.ops.Inject(func() {
		c, done := m.collection(col)
		defer done()

		find := c.Find(q.Filter)

		if q.Projection != nil {
			find = find.Select(q.Projection)
		}

		if len(q.Sort) > 0 {
			find = find.Sort(sortSpecs(q.Sort)...)
		}

		if q.Skip > 0 {
			find = find.Skip(q.Skip)
		}

		if q.Limit > 0 {
			find = find.Limit(q.Limit)
		}

		var recs []storage.Record
		if err := find.All(&recs); err != nil {
			m.Error("mongo", "Find", err, "Completed")
			handler(nil, err)
			return
		}

		m.Log("mongo", "Find", "Completed : Total[%d]", len(recs))
		handler(recs, nil)
	})
}

// sortSpecs renders sort pairs as driver sort strings, prefixing
// descending fields with a minus.
func sortSpecs(sort []storage.Sort) []string {
	specs := make([]string, 0, len(sort))

	for _, s := range sort {
		if s.Direction == storage.Descending {
			specs = append(specs, "-"+s.Field)
			continue
		}

		specs = append(specs, s.Field)
	}

	return specs
}

// FindOne retrieves the first document matching the giving filter under
// the giving projection. Not-found delivers a nil record with a nil
// error.
func (m *Mongo) FindOne(col string, filter storage.Record, projection storage.Record, handler storage.RecordHandler) {
	m.Log("mongo", "FindOne", "Started : Db[%s] : Collection[%s] : Filter : %s", m.DB, col, m.Query(filter))

	m.ops.Inject(func() {
		c, done := m.collection(col)
		defer done()

		find := c.Find(filter)

		if projection != nil {
			find = find.Select(projection)
		}

		var rec storage.Record
		if err := find.One(&rec); err != nil {
			if err == mgo.ErrNotFound {
				m.Log("mongo", "FindOne", "Completed : Not Found")
				handler(nil, nil)
				return
			}

			m.Error("mongo", "FindOne", err, "Completed")
			handler(nil, err)
			return
		}

		m.Log("mongo", "FindOne", "Completed")
		handler(rec, nil)
	})
}

// Count delivers the number of documents matching the giving filter.
func (m *Mongo) Count(col string, filter storage.Record, handler storage.CountHandler) {
	m.Log("mongo", "Count", "Started : Db[%s] : Collection[%s] : Filter : %s", m.DB, col, m.Query(filter))

	m.ops.Inject(func() {
		c, done := m.collection(col)
		defer done()

		n, err := c.Find(filter).Count()
		if err != nil {
			m.Error("mongo", "Count", err, "Completed")
			handler(0, err)
			return
		}

		m.Log("mongo", "Count", "Completed : Total[%d]", n)
		handler(n, nil)
	})
}

// EnsureIndex (re)ensures a single-field index with the giving
// constraints, built in the background.
func (m *Mongo) EnsureIndex(col string, field string, unique bool, sparse bool, handler storage.IndexHandler) {
	m.Log("mongo", "EnsureIndex", "Started : Db[%s] : Collection[%s] : Field[%s]", m.DB, col, field)

	m.ops.Inject(func() {
		c, done := m.collection(col)
		defer done()

		err := c.EnsureIndex(mgo.Index{
			Key:        []string{field},
			Unique:     unique,
			Sparse:     sparse,
			Background: true,
		})
		if err != nil {
			m.Error("mongo", "EnsureIndex", err, "Completed")
			handler(err)
			return
		}

		m.Log("mongo", "EnsureIndex", "Completed")
		handler(nil)
	})
}

// Aggregate runs the giving pipeline and delivers its resulting records.
func (m *Mongo) Aggregate(col string, pipeline []storage.Record, handler storage.RecordsHandler) {
	m.Log("mongo", "Aggregate", "Started : Db[%s] : Collection[%s] : Stages[%d]", m.DB, col, len(pipeline))

	m.ops.Inject(func() {
		c, done := m.collection(col)
		defer done()

		var recs []storage.Record
		if err := c.Pipe(pipeline).All(&recs); err != nil {
			m.Error("mongo", "Aggregate", err, "Completed")
			handler(nil, err)
			return
		}

		m.Log("mongo", "Aggregate", "Completed : Total[%d]", len(recs))
		handler(recs, nil)
	})
}

// Shutdown stops the worker stream and closes the session copy.
func (m *Mongo) Shutdown(context interface{}) {
	m.Log(context, "Shutdown", "Started : Db[%s]", m.DB)

	if m.ops != nil {
		m.ops.Shutdown()
	}

	if m.session != nil {
		m.session.Close()
	}

	m.Log(context, "Shutdown", "Completed")
}

//==============================================================================

var _ storage.Store = (*Mongo)(nil)
var _ db.Db = (*Mongo)(nil)
