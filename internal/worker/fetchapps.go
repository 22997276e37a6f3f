// picsync - Steam PICS catalog ingestion service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/picsync

package worker

import (
	"context"
	"fmt"
	"sort"

	"github.com/tomtom215/picsync/internal/extract"
	"github.com/tomtom215/picsync/internal/logging"
	"github.com/tomtom215/picsync/internal/steam"
)

// FetchApps is the debug mode: fetch a fixed id list once, log what the
// extractor makes of it, write nothing. Used to smoke-test bridge
// connectivity and extraction against known apps.
type FetchApps struct {
	session *steam.Session
	fetcher *steam.Fetcher
	appids  []uint32
}

func NewFetchApps(session *steam.Session, fetcher *steam.Fetcher, appids []uint32) *FetchApps {
	return &FetchApps{session: session, fetcher: fetcher, appids: appids}
}

func (f *FetchApps) Run(ctx context.Context) error {
	defer f.session.Disconnect()

	if len(f.appids) == 0 {
		return fmt.Errorf("worker: fetch_apps mode needs test app ids")
	}
	logging.Info().Int("apps", len(f.appids)).Msg("fetching test apps")

	raw, err := f.fetcher.FetchAppsBatch(ctx, f.appids)
	if err != nil {
		return fmt.Errorf("worker: fetch test apps: %w", err)
	}

	appids := make([]uint32, 0, len(raw))
	for appid := range raw {
		appids = append(appids, appid)
	}
	sort.Slice(appids, func(i, j int) bool { return appids[i] < appids[j] })

	for _, appid := range appids {
		app := extract.Extract(appid, raw[appid])
		logging.Info().
			Uint32("appid", app.AppID).
			Str("name", app.Name).
			Str("type", app.Type).
			Ints("tags", app.StoreTags).
			Ints("genres", app.Genres).
			Msg("extracted app")
		logging.Debug().Interface("record", app).Msg("full extraction")
	}

	logging.Info().
		Int("requested", len(f.appids)).
		Int("delivered", len(raw)).
		Msg("test fetch complete")
	return nil
}
