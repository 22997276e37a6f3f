// picsync - Steam PICS catalog ingestion service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/picsync

package store

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// restRequest accumulates one PostgREST request: table (or rpc) path, filter
// params, Prefer header, and an optional JSON body.
type restRequest struct {
	method string
	path   string
	params url.Values
	prefer string
	body   any
}

// newRequest starts a request against a table path.
func newRequest(method, table string) *restRequest {
	return &restRequest{
		method: method,
		path:   "/" + table,
		params: url.Values{},
	}
}

// newRPCRequest starts a request against a stored procedure.
func newRPCRequest(name string, args any) *restRequest {
	return &restRequest{
		method: "POST",
		path:   "/rpc/" + name,
		params: url.Values{},
		body:   args,
	}
}

// selecting sets the PostgREST column projection.
func (r *restRequest) selecting(columns string) *restRequest {
	r.params.Set("select", columns)
	return r
}

// filter adds a raw PostgREST filter, e.g. filter("appid", "eq.730").
func (r *restRequest) filter(column, predicate string) *restRequest {
	r.params.Set(column, predicate)
	return r
}

// filterIn adds an appid=in.(…) membership filter.
func (r *restRequest) filterIn(column string, ids []uint32) *restRequest {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatUint(uint64(id), 10)
	}
	r.params.Set(column, "in.("+strings.Join(parts, ",")+")")
	return r
}

// orderBy adds an ascending order clause.
func (r *restRequest) orderBy(column string) *restRequest {
	r.params.Set("order", column+".asc")
	return r
}

// limit caps the result set.
func (r *restRequest) limit(n int) *restRequest {
	r.params.Set("limit", strconv.Itoa(n))
	return r
}

// onConflict sets the upsert conflict target and the merge-duplicates Prefer
// header PostgREST requires for upsert semantics.
func (r *restRequest) onConflict(columns string) *restRequest {
	r.params.Set("on_conflict", columns)
	r.prefer = "resolution=merge-duplicates,return=minimal"
	return r
}

// returnMinimal suppresses the response representation for writes.
func (r *restRequest) returnMinimal() *restRequest {
	r.prefer = "return=minimal"
	return r
}

// withBody attaches the JSON request body.
func (r *restRequest) withBody(body any) *restRequest {
	r.body = body
	return r
}

// url renders the full request URL.
func (r *restRequest) url(baseURL string) string {
	if len(r.params) == 0 {
		return baseURL + r.path
	}
	return fmt.Sprintf("%s%s?%s", baseURL, r.path, r.params.Encode())
}
