// picsync - Steam PICS catalog ingestion service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/picsync

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// Row is one JSON row payload for an insert or upsert. Keys are column
// names; nil values write SQL NULL.
type Row map[string]any

// Timestamp renders t the way PostgREST expects timestamptz values.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// UpsertRows upserts rows into table with the given conflict target. The
// whole call is one statement on the store side: it either lands completely
// or fails completely.
func (c *Client) UpsertRows(ctx context.Context, table string, rows []Row, conflict string) error {
	if len(rows) == 0 {
		return nil
	}
	req := newRequest("POST", table).onConflict(conflict).withBody(rows)
	_, err := c.do(ctx, "upsert_"+table, req)
	return err
}

// InsertRows inserts rows into table.
func (c *Client) InsertRows(ctx context.Context, table string, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	req := newRequest("POST", table).returnMinimal().withBody(rows)
	_, err := c.do(ctx, "insert_"+table, req)
	return err
}

// DeleteByAppID removes all of table's rows for one app. Relation tables are
// rewritten delete-then-insert; the brief gap is tolerated by readers.
func (c *Client) DeleteByAppID(ctx context.Context, table string, appid uint32) error {
	req := newRequest("DELETE", table).
		filter("appid", fmt.Sprintf("eq.%d", appid)).
		returnMinimal()
	_, err := c.do(ctx, "delete_"+table, req)
	return err
}

// UpsertFranchise calls the store-side upsert_franchise routine, which
// creates the franchise row if needed and returns its id.
func (c *Client) UpsertFranchise(ctx context.Context, name string) (int64, error) {
	req := newRPCRequest("upsert_franchise", map[string]string{"p_name": name})
	body, err := c.do(ctx, "rpc_upsert_franchise", req)
	if err != nil {
		return 0, err
	}

	var id int64
	if err := json.Unmarshal(body, &id); err != nil {
		return 0, fmt.Errorf("store: decode upsert_franchise result %q: %w", body, err)
	}
	return id, nil
}
