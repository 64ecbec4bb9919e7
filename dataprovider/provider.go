////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package dataprovider is the collection-agnostic repository used by the
// foreground. Every verb becomes one DataProvider request to the background
// worker, which owns all pagination, filtering and uniqueness semantics. The
// provider itself never validates, transforms or caches anything.
package dataprovider

import (
	"context"
	"encoding/json"

	"gitlab.com/transcrobes/offline-proxy/proxy"
	"gitlab.com/transcrobes/offline-proxy/worker"
)

// Method is a verb understood by the worker's DataProvider handler.
type Method string

const (
	GetList          Method = "getList"
	GetOne           Method = "getOne"
	GetMany          Method = "getMany"
	GetManyReference Method = "getManyReference"
	Create           Method = "create"
	Update           Method = "update"
	UpdateMany       Method = "updateMany"
	Delete           Method = "delete"
	DeleteMany       Method = "deleteMany"
)

// Methods lists every verb.
var Methods = []Method{GetList, GetOne, GetMany, GetManyReference, Create,
	Update, UpdateMany, Delete, DeleteMany}

// Descriptor is the value of a DataProvider request. Params is opaque to this
// package and is JSON marshalled as is.
type Descriptor struct {
	Collection string `json:"collection"`
	Method     Method `json:"method"`
	Params     any    `json:"params"`
}

// Provider forwards descriptors to the worker through a [proxy.Sender].
type Provider struct {
	s      proxy.Sender
	source string
}

// New returns a Provider sending through s. The source names the caller on
// every request.
func New(s proxy.Sender, source string) *Provider {
	return &Provider{s: s, source: source}
}

// Do sends the descriptor and returns the worker's reply unchanged. Errors from
// the sender are returned unchanged.
func (p *Provider) Do(ctx context.Context, d Descriptor) (json.RawMessage, error) {
	return p.s.SendMessage(ctx, proxy.Envelope{
		Source: p.source,
		Type:   worker.DataProviderTag,
		Value:  d,
	})
}

func (p *Provider) do(ctx context.Context, m Method, collection string,
	params any) (json.RawMessage, error) {
	return p.Do(ctx, Descriptor{Collection: collection, Method: m, Params: params})
}

// GetList returns a page of records of the collection, typically with
// [ListParams].
func (p *Provider) GetList(
	ctx context.Context, collection string, params any) (json.RawMessage, error) {
	return p.do(ctx, GetList, collection, params)
}

// GetOne returns one record, typically with [GetOneParams].
func (p *Provider) GetOne(
	ctx context.Context, collection string, params any) (json.RawMessage, error) {
	return p.do(ctx, GetOne, collection, params)
}

// GetMany returns the records with the given IDs, typically with
// [GetManyParams].
func (p *Provider) GetMany(
	ctx context.Context, collection string, params any) (json.RawMessage, error) {
	return p.do(ctx, GetMany, collection, params)
}

// GetManyReference returns the records referencing another record, typically
// with [GetManyReferenceParams].
func (p *Provider) GetManyReference(
	ctx context.Context, collection string, params any) (json.RawMessage, error) {
	return p.do(ctx, GetManyReference, collection, params)
}

// Create adds a record, typically with [CreateParams].
func (p *Provider) Create(
	ctx context.Context, collection string, params any) (json.RawMessage, error) {
	return p.do(ctx, Create, collection, params)
}

// Update changes a record, typically with [UpdateParams].
func (p *Provider) Update(
	ctx context.Context, collection string, params any) (json.RawMessage, error) {
	return p.do(ctx, Update, collection, params)
}

// UpdateMany changes several records, typically with [UpdateManyParams].
func (p *Provider) UpdateMany(
	ctx context.Context, collection string, params any) (json.RawMessage, error) {
	return p.do(ctx, UpdateMany, collection, params)
}

// Delete removes a record, typically with [DeleteParams].
func (p *Provider) Delete(
	ctx context.Context, collection string, params any) (json.RawMessage, error) {
	return p.do(ctx, Delete, collection, params)
}

// DeleteMany removes several records, typically with [DeleteManyParams].
func (p *Provider) DeleteMany(
	ctx context.Context, collection string, params any) (json.RawMessage, error) {
	return p.do(ctx, DeleteMany, collection, params)
}
