////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package dataprovider

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Sort orders.
const (
	Ascending  = "ASC"
	Descending = "DESC"
)

type Pagination struct {
	Page    int `json:"page"`
	PerPage int `json:"perPage"`
}

type Sort struct {
	Field string `json:"field"`
	Order string `json:"order"`
}

// ListParams are the params of a getList request.
type ListParams struct {
	Pagination Pagination     `json:"pagination"`
	Sort       Sort           `json:"sort"`
	Filter     map[string]any `json:"filter,omitempty"`
}

// GetOneParams are the params of a getOne request.
type GetOneParams struct {
	ID any `json:"id"`
}

// GetManyParams are the params of a getMany request.
type GetManyParams struct {
	IDs []any `json:"ids"`
}

// GetManyReferenceParams are the params of a getManyReference request. Target
// is the field of the collection holding the referenced ID.
type GetManyReferenceParams struct {
	Target     string         `json:"target"`
	ID         any            `json:"id"`
	Pagination Pagination     `json:"pagination"`
	Sort       Sort           `json:"sort"`
	Filter     map[string]any `json:"filter,omitempty"`
}

// CreateParams are the params of a create request.
type CreateParams struct {
	Data any `json:"data"`
}

// UpdateParams are the params of an update request.
type UpdateParams struct {
	ID           any `json:"id"`
	Data         any `json:"data"`
	PreviousData any `json:"previousData,omitempty"`
}

// UpdateManyParams are the params of an updateMany request.
type UpdateManyParams struct {
	IDs  []any `json:"ids"`
	Data any   `json:"data"`
}

// DeleteParams are the params of a delete request.
type DeleteParams struct {
	ID           any `json:"id"`
	PreviousData any `json:"previousData,omitempty"`
}

// DeleteManyParams are the params of a deleteMany request.
type DeleteManyParams struct {
	IDs []any `json:"ids"`
}

// ListResult is the usual reply to getList and getManyReference.
type ListResult[T any] struct {
	Data  []T `json:"data"`
	Total int `json:"total"`
}

// RecordResult is the usual reply to getOne, create, update and delete.
type RecordResult[T any] struct {
	Data T `json:"data"`
}

// DecodeList decodes a list reply. The provider returns raw replies, so
// decoding is left to callers that know the record type.
func DecodeList[T any](raw json.RawMessage) (ListResult[T], error) {
	var res ListResult[T]
	if err := json.Unmarshal(raw, &res); err != nil {
		return res, errors.Wrapf(err, "failed to decode list of %T", *new(T))
	}
	return res, nil
}

// DecodeRecord decodes a single record reply.
func DecodeRecord[T any](raw json.RawMessage) (T, error) {
	var res RecordResult[T]
	if err := json.Unmarshal(raw, &res); err != nil {
		return res.Data, errors.Wrapf(err, "failed to decode record %T", res.Data)
	}
	return res.Data, nil
}
