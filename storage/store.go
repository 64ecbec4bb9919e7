////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package storage is the in-memory offline store of the reference worker. It
// keeps one database of JSON collections per user, each user's readiness flag
// and the schema version foregrounds compare against to decide whether to
// reload.
package storage

import (
	"sync"

	jww "github.com/spf13/jwalterweatherman"
)

// Store holds the databases of every user.
type Store struct {
	dbs           map[string]*Database
	schemaVersion string

	// seed is copied into the collections of a database when it is
	// initialised.
	seed map[string][]Record

	mux sync.RWMutex
}

// NewStore returns an empty store at the schema version. Every database
// initialised later is filled with a copy of the seed records.
func NewStore(schemaVersion string, seed map[string][]Record) *Store {
	return &Store{
		dbs:           make(map[string]*Database),
		schemaVersion: schemaVersion,
		seed:          seed,
	}
}

// IsInitialised returns true if the user's database has been initialised.
func (s *Store) IsInitialised(username string) bool {
	s.mux.RLock()
	defer s.mux.RUnlock()
	_, exists := s.dbs[username]
	return exists
}

// Initialise creates and seeds the user's database. Initialising an existing
// database returns it unchanged.
func (s *Store) Initialise(username string) (*Database, error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	if db, exists := s.dbs[username]; exists {
		return db, nil
	}

	db := newDatabase(username)
	for name, records := range s.seed {
		c := db.collection(name)
		for _, r := range records {
			if _, err := c.Create(r); err != nil {
				return nil, err
			}
		}
	}
	s.dbs[username] = db

	jww.INFO.Printf("[STORE] Initialised database for %q with %d collections.",
		username, len(s.seed))
	return db, nil
}

// Open returns the user's database, or false if it has not been initialised.
func (s *Store) Open(username string) (*Database, bool) {
	s.mux.RLock()
	defer s.mux.RUnlock()
	db, exists := s.dbs[username]
	return db, exists
}

// SchemaVersion returns the current schema version.
func (s *Store) SchemaVersion() string {
	s.mux.RLock()
	defer s.mux.RUnlock()
	return s.schemaVersion
}

// SetSchemaVersion changes the schema version. Returns true if it differs from
// the previous one.
func (s *Store) SetSchemaVersion(v string) bool {
	s.mux.Lock()
	defer s.mux.Unlock()
	if v == s.schemaVersion {
		return false
	}
	jww.INFO.Printf("[STORE] Schema version changed: %s → %s", s.schemaVersion, v)
	s.schemaVersion = v
	return true
}

// Database is the set of collections of one user. It is safe for concurrent
// use.
type Database struct {
	username    string
	collections map[string]*Collection
	mux         sync.RWMutex
}

func newDatabase(username string) *Database {
	return &Database{
		username:    username,
		collections: make(map[string]*Collection),
	}
}

// Username returns the owner of the database.
func (db *Database) Username() string {
	return db.username
}

// collection returns the named collection, creating it if needed. The caller
// must hold the write lock or own the database exclusively.
func (db *Database) collection(name string) *Collection {
	c, exists := db.collections[name]
	if !exists {
		c = newCollection(name)
		db.collections[name] = c
	}
	return c
}

// View calls fn with the named collection under a read lock. A missing
// collection is passed as an empty one.
func (db *Database) View(name string, fn func(c *Collection) error) error {
	db.mux.RLock()
	defer db.mux.RUnlock()
	c, exists := db.collections[name]
	if !exists {
		c = newCollection(name)
	}
	return fn(c)
}

// Update calls fn with the named collection under the write lock, creating
// the collection if needed.
func (db *Database) Update(name string, fn func(c *Collection) error) error {
	db.mux.Lock()
	defer db.mux.Unlock()
	return fn(db.collection(name))
}
