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

	"github.com/tomtom215/picsync/internal/logging"
)

// pageSize is the store's hard per-request row cap; larger limits are
// silently truncated, so reads paginate by appid keyset. Offset pagination is
// forbidden for the same reason.
const pageSize = 1000

// syncStatusBatchSize chunks sync_status upserts.
const syncStatusBatchSize = 500

type appidRow struct {
	AppID uint32 `json:"appid"`
}

func decodeAppIDSet(body []byte) (map[uint32]bool, error) {
	var rows []appidRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("store: decode appid rows: %w", err)
	}
	out := make(map[uint32]bool, len(rows))
	for _, r := range rows {
		out[r.AppID] = true
	}
	return out, nil
}

// ExistingAppIDs reports which of the given appids already have an apps row.
// The sync pipeline never creates apps rows (the applist worker owns
// creation), so callers drop absent ids as skipped.
func (c *Client) ExistingAppIDs(ctx context.Context, appids []uint32) (map[uint32]bool, error) {
	if len(appids) == 0 {
		return map[uint32]bool{}, nil
	}
	req := newRequest("GET", "apps").selecting("appid").filterIn("appid", appids)
	body, err := c.do(ctx, "select_apps_existing", req)
	if err != nil {
		return nil, err
	}
	return decodeAppIDSet(body)
}

// AppIDsWithReleaseDate reports which of the given appids carry a storefront
// release_date_raw. The storefront ingester owns release dates for those
// apps; the persister must not overwrite them.
func (c *Client) AppIDsWithReleaseDate(ctx context.Context, appids []uint32) (map[uint32]bool, error) {
	if len(appids) == 0 {
		return map[uint32]bool{}, nil
	}
	req := newRequest("GET", "apps").
		selecting("appid").
		filterIn("appid", appids).
		filter("release_date_raw", "not.is.null")
	body, err := c.do(ctx, "select_apps_storefront_date", req)
	if err != nil {
		return nil, err
	}
	return decodeAppIDSet(body)
}

// AppIDsWithStorefrontSync reports which of the given appids have been
// visited by the storefront ingester. Those apps keep the storefront's
// is_free and is_released values.
func (c *Client) AppIDsWithStorefrontSync(ctx context.Context, appids []uint32) (map[uint32]bool, error) {
	if len(appids) == 0 {
		return map[uint32]bool{}, nil
	}
	req := newRequest("GET", "sync_status").
		selecting("appid").
		filterIn("appid", appids).
		filter("last_storefront_sync", "not.is.null")
	body, err := c.do(ctx, "select_storefront_sync", req)
	if err != nil {
		return nil, err
	}
	return decodeAppIDSet(body)
}

// UnsyncedAppIDs returns the appids whose last_pics_sync is still null,
// paginating by appid keyset. This is the bulk backfill's work list; it
// shrinks as the backfill marks apps synced, which makes interrupted runs
// resumable.
func (c *Client) UnsyncedAppIDs(ctx context.Context) ([]uint32, error) {
	return c.paginateAppIDs(ctx, "select_unsynced_appids", func(lastAppID uint32) *restRequest {
		return newRequest("GET", "sync_status").
			selecting("appid").
			filter("last_pics_sync", "is.null").
			filter("appid", fmt.Sprintf("gt.%d", lastAppID)).
			orderBy("appid").
			limit(pageSize)
	})
}

func (c *Client) paginateAppIDs(ctx context.Context, op string, page func(lastAppID uint32) *restRequest) ([]uint32, error) {
	var all []uint32
	var lastAppID uint32

	for {
		body, err := c.do(ctx, op, page(lastAppID))
		if err != nil {
			return all, err
		}

		var rows []appidRow
		if err := json.Unmarshal(body, &rows); err != nil {
			return all, fmt.Errorf("store: decode appid page: %w", err)
		}
		if len(rows) == 0 {
			break
		}

		for _, r := range rows {
			all = append(all, r.AppID)
		}
		lastAppID = rows[len(rows)-1].AppID
		logging.Debug().
			Int("page", len(rows)).
			Int("total", len(all)).
			Uint32("cursor", lastAppID).
			Msg("fetched appid page")

		if len(rows) < pageSize {
			break
		}
	}
	return all, nil
}

// MarkPICSSynced stamps last_pics_sync for the given apps, in chunks. The
// caller passes only apps whose row upsert and relation sync both succeeded.
func (c *Client) MarkPICSSynced(ctx context.Context, appids []uint32, now time.Time) error {
	ts := Timestamp(now)
	var firstErr error

	for start := 0; start < len(appids); start += syncStatusBatchSize {
		end := min(start+syncStatusBatchSize, len(appids))
		rows := make([]Row, 0, end-start)
		for _, appid := range appids[start:end] {
			rows = append(rows, Row{"appid": appid, "last_pics_sync": ts})
		}
		if err := c.UpsertRows(ctx, "sync_status", rows, "appid"); err != nil {
			logging.Error().Err(err).Int("apps", len(rows)).Msg("sync status batch failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
