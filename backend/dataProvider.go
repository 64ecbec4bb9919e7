////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package backend

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"gitlab.com/transcrobes/offline-proxy/dataprovider"
	"gitlab.com/transcrobes/offline-proxy/storage"
)

// descriptor is a DataProvider request as received. Params are decoded once
// the method is known.
type descriptor struct {
	Collection string              `json:"collection"`
	Method     dataprovider.Method `json:"method"`
	Params     json.RawMessage     `json:"params"`
}

// dataProvider serves the collection verbs. Replies are {data} objects, with a
// total for list verbs.
func (h *Handler) dataProvider(
	_ context.Context, _ string, value json.RawMessage) (any, error) {
	var d descriptor
	if err := json.Unmarshal(value, &d); err != nil {
		return nil, errors.Wrap(err, "failed to decode data provider request")
	}
	if d.Collection == "" {
		return nil, errors.New("collection is required")
	}

	db, err := h.database()
	if err != nil {
		return nil, err
	}

	switch d.Method {
	case dataprovider.GetList:
		var p dataprovider.ListParams
		if err = decodeParams(d, &p); err != nil {
			return nil, err
		}
		return list(db, d.Collection, toQuery(p.Pagination, p.Sort, p.Filter))

	case dataprovider.GetManyReference:
		var p dataprovider.GetManyReferenceParams
		if err = decodeParams(d, &p); err != nil {
			return nil, err
		}
		if p.Target == "" {
			return nil, errors.New("target is required")
		}
		filter := make(map[string]any, len(p.Filter)+1)
		for f, v := range p.Filter {
			filter[f] = v
		}
		filter[p.Target] = p.ID
		return list(db, d.Collection, toQuery(p.Pagination, p.Sort, filter))

	case dataprovider.GetOne:
		var p dataprovider.GetOneParams
		if err = decodeParams(d, &p); err != nil {
			return nil, err
		}
		return view(db, d.Collection, func(c *storage.Collection) (any, error) {
			return c.Get(p.ID)
		})

	case dataprovider.GetMany:
		var p dataprovider.GetManyParams
		if err = decodeParams(d, &p); err != nil {
			return nil, err
		}
		return view(db, d.Collection, func(c *storage.Collection) (any, error) {
			return c.GetMany(p.IDs), nil
		})

	case dataprovider.Create:
		var p struct {
			Data storage.Record `json:"data"`
		}
		if err = decodeParams(d, &p); err != nil {
			return nil, err
		}
		return update(db, d.Collection, func(c *storage.Collection) (any, error) {
			return c.Create(p.Data)
		})

	case dataprovider.Update:
		var p struct {
			ID   any            `json:"id"`
			Data storage.Record `json:"data"`
		}
		if err = decodeParams(d, &p); err != nil {
			return nil, err
		}
		return update(db, d.Collection, func(c *storage.Collection) (any, error) {
			return c.Update(p.ID, p.Data)
		})

	case dataprovider.UpdateMany:
		var p struct {
			IDs  []any          `json:"ids"`
			Data storage.Record `json:"data"`
		}
		if err = decodeParams(d, &p); err != nil {
			return nil, err
		}
		return update(db, d.Collection, func(c *storage.Collection) (any, error) {
			ids := make([]any, 0, len(p.IDs))
			for _, id := range p.IDs {
				if _, err := c.Update(id, p.Data); err == nil {
					ids = append(ids, id)
				}
			}
			return ids, nil
		})

	case dataprovider.Delete:
		var p dataprovider.DeleteParams
		if err = decodeParams(d, &p); err != nil {
			return nil, err
		}
		return update(db, d.Collection, func(c *storage.Collection) (any, error) {
			return c.Delete(p.ID)
		})

	case dataprovider.DeleteMany:
		var p dataprovider.DeleteManyParams
		if err = decodeParams(d, &p); err != nil {
			return nil, err
		}
		return update(db, d.Collection, func(c *storage.Collection) (any, error) {
			ids := make([]any, 0, len(p.IDs))
			for _, id := range p.IDs {
				if _, err := c.Delete(id); err == nil {
					ids = append(ids, id)
				}
			}
			return ids, nil
		})

	default:
		return nil, errors.Errorf("unknown data provider method %q", d.Method)
	}
}

func decodeParams(d descriptor, p any) error {
	if len(d.Params) == 0 || string(d.Params) == "null" {
		return nil
	}
	if err := json.Unmarshal(d.Params, p); err != nil {
		return errors.Wrapf(err, "invalid params for %s on %s",
			d.Method, d.Collection)
	}
	return nil
}

func toQuery(pg dataprovider.Pagination, s dataprovider.Sort,
	filter map[string]any) storage.Query {
	return storage.Query{
		Page:      pg.Page,
		PerPage:   pg.PerPage,
		SortField: s.Field,
		SortOrder: s.Order,
		Filter:    filter,
	}
}

type listReply struct {
	Data  []storage.Record `json:"data"`
	Total int              `json:"total"`
}

type dataReply struct {
	Data any `json:"data"`
}

func list(db *storage.Database, collection string, q storage.Query) (any, error) {
	var reply listReply
	err := db.View(collection, func(c *storage.Collection) error {
		reply.Data, reply.Total = c.List(q)
		return nil
	})
	return reply, err
}

func view(db *storage.Database, collection string,
	fn func(c *storage.Collection) (any, error)) (any, error) {
	var reply dataReply
	err := db.View(collection, func(c *storage.Collection) (err error) {
		reply.Data, err = fn(c)
		return err
	})
	if err != nil {
		return nil, err
	}
	return reply, nil
}

func update(db *storage.Database, collection string,
	fn func(c *storage.Collection) (any, error)) (any, error) {
	var reply dataReply
	err := db.Update(collection, func(c *storage.Collection) (err error) {
		reply.Data, err = fn(c)
		return err
	})
	if err != nil {
		return nil, err
	}
	return reply, nil
}
