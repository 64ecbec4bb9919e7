////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package storage

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ErrNotFound is returned when no record has the requested ID.
var ErrNotFound = errors.New("record not found")

// Record is one JSON object of a collection. Its "id" field is its key.
type Record map[string]any

// idField is the field holding the record ID.
const idField = "id"

// Query selects a page of records. A zero PerPage returns every match.
type Query struct {
	Page      int
	PerPage   int
	SortField string
	SortOrder string
	Filter    map[string]any
}

// Collection is an ordered set of records keyed on their ID. It is not safe for
// concurrent use; Database guards it.
type Collection struct {
	name    string
	records map[string]Record
	order   []string
	nextID  int
}

func newCollection(name string) *Collection {
	return &Collection{name: name, records: make(map[string]Record)}
}

// key returns the map key of a JSON ID. Numbers and strings with the same text
// are the same ID.
func key(id any) string {
	switch v := id.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// List returns the page of records matching the query and the number of
// matches before paging.
func (c *Collection) List(q Query) ([]Record, int) {
	matches := make([]Record, 0, len(c.order))
	for _, k := range c.order {
		if r := c.records[k]; r.matches(q.Filter) {
			matches = append(matches, r)
		}
	}

	if q.SortField != "" {
		desc := strings.EqualFold(q.SortOrder, "DESC")
		sort.SliceStable(matches, func(i, j int) bool {
			a, b := matches[i][q.SortField], matches[j][q.SortField]
			if desc {
				return less(b, a)
			}
			return less(a, b)
		})
	}

	total := len(matches)
	if q.PerPage > 0 {
		page := q.Page
		if page < 1 {
			page = 1
		}
		// Pages past the end are empty; checked by division so that a huge
		// page cannot overflow
		start, end := total, total
		if page-1 < total/q.PerPage+1 {
			start = (page - 1) * q.PerPage
			end = start + min(q.PerPage, total-start)
		}
		matches = matches[start:end]
	}
	return matches, total
}

// Get returns the record with the ID.
func (c *Collection) Get(id any) (Record, error) {
	r, exists := c.records[key(id)]
	if !exists {
		return nil, errors.Wrapf(ErrNotFound, "%s %v", c.name, id)
	}
	return r, nil
}

// GetMany returns the records with the IDs in order. Missing IDs are skipped.
func (c *Collection) GetMany(ids []any) []Record {
	out := make([]Record, 0, len(ids))
	for _, id := range ids {
		if r, exists := c.records[key(id)]; exists {
			out = append(out, r)
		}
	}
	return out
}

// Create adds the record. A record without an ID is given the next free
// numeric ID. Creating a record with an existing ID fails.
func (c *Collection) Create(r Record) (Record, error) {
	r = r.clone()
	id, hasID := r[idField]
	if !hasID || id == nil {
		for {
			c.nextID++
			id = strconv.Itoa(c.nextID)
			if _, taken := c.records[id.(string)]; !taken {
				break
			}
		}
		r[idField] = id
	}

	k := key(id)
	if _, exists := c.records[k]; exists {
		return nil, errors.Errorf("%s %v already exists", c.name, id)
	}
	c.records[k] = r
	c.order = append(c.order, k)
	return r, nil
}

// Update merges the fields of data into the record with the ID. The ID cannot
// be changed.
func (c *Collection) Update(id any, data Record) (Record, error) {
	old, err := c.Get(id)
	if err != nil {
		return nil, err
	}
	r := old.clone()
	for f, v := range data {
		if f != idField {
			r[f] = v
		}
	}
	c.records[key(id)] = r
	return r, nil
}

// Delete removes the record with the ID and returns it.
func (c *Collection) Delete(id any) (Record, error) {
	r, err := c.Get(id)
	if err != nil {
		return nil, err
	}
	k := key(id)
	delete(c.records, k)
	for i, o := range c.order {
		if o == k {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return r, nil
}

// Len returns the number of records.
func (c *Collection) Len() int {
	return len(c.records)
}

func (r Record) clone() Record {
	out := make(Record, len(r))
	for f, v := range r {
		out[f] = v
	}
	return out
}

// matches returns true if the record satisfies every filter. A list filter
// value matches any of its elements; the "q" filter matches a substring of any
// string field.
func (r Record) matches(filter map[string]any) bool {
	for f, want := range filter {
		if f == "q" {
			if !r.contains(fmt.Sprint(want)) {
				return false
			}
			continue
		}
		got, exists := r[f]
		if !exists {
			return false
		}
		if list, ok := want.([]any); ok {
			found := false
			for _, w := range list {
				if key(w) == key(got) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		} else if key(want) != key(got) {
			return false
		}
	}
	return true
}

func (r Record) contains(s string) bool {
	s = strings.ToLower(s)
	for _, v := range r {
		if str, ok := v.(string); ok && strings.Contains(strings.ToLower(str), s) {
			return true
		}
	}
	return false
}

// less orders JSON values: numbers numerically, everything else by its text.
// Missing values sort first.
func less(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b != nil
	}
	fa, okA := a.(float64)
	fb, okB := b.(float64)
	if okA && okB {
		return fa < fb
	}
	return key(a) < key(b)
}
