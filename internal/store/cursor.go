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

	"github.com/tomtom215/picsync/internal/metrics"
)

// The global change cursor lives in the pics_sync_state singleton row. It is
// created on first write and only ever advances.
const cursorRowID = 1

// LastChangeNumber reads the persisted change cursor. A missing singleton
// row reads as 0, which makes the first poll start from the live stream
// head.
func (c *Client) LastChangeNumber(ctx context.Context) (uint64, error) {
	req := newRequest("GET", "pics_sync_state").
		selecting("last_change_number").
		filter("id", fmt.Sprintf("eq.%d", cursorRowID))
	body, err := c.do(ctx, "select_change_cursor", req)
	if err != nil {
		return 0, err
	}

	var rows []struct {
		LastChangeNumber uint64 `json:"last_change_number"`
	}
	if err := json.Unmarshal(body, &rows); err != nil {
		return 0, fmt.Errorf("store: decode change cursor: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[0].LastChangeNumber, nil
}

// SetLastChangeNumber advances the persisted change cursor, creating the
// singleton row if absent.
func (c *Client) SetLastChangeNumber(ctx context.Context, changeNumber uint64) error {
	row := Row{
		"id":                 cursorRowID,
		"last_change_number": changeNumber,
		"updated_at":         Timestamp(time.Now()),
	}
	if err := c.UpsertRows(ctx, "pics_sync_state", []Row{row}, "id"); err != nil {
		return err
	}
	metrics.SetChangeNumber(changeNumber)
	return nil
}
