// picsync - Steam PICS catalog ingestion service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/picsync

// Package persist lands extracted app records in the catalog store: chunked
// upserts of the apps row, delete-then-insert relation sync, and the
// cross-source authority rules that keep this pipeline from overwriting
// columns owned by the storefront ingester.
package persist

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/tomtom215/picsync/internal/extract"
	"github.com/tomtom215/picsync/internal/logging"
	"github.com/tomtom215/picsync/internal/metrics"
	"github.com/tomtom215/picsync/internal/store"
)

// upsertBatchSize chunks apps-row upserts; each chunk is one store statement.
const upsertBatchSize = 500

// deckCategoryNames maps the numeric Steam Deck verdict to the stored enum.
var deckCategoryNames = map[int]string{
	0: "unknown",
	1: "unsupported",
	2: "playable",
	3: "verified",
}

// Result accounts for every app handed to UpsertAppsBatch:
// Skipped + Updated + Failed + BuildFailures equals the batch size.
type Result struct {
	Created       int
	Updated       int
	Failed        int
	Skipped       int
	BuildFailures int
}

// Persister writes extracted app records to the store.
type Persister struct {
	store *store.Client
	tags  *tagCache
	now   func() time.Time
}

func New(st *store.Client) *Persister {
	return &Persister{
		store: st,
		tags:  newTagCache(),
		now:   time.Now,
	}
}

// UpsertAppsBatch persists a batch of extracted apps. Apps without an
// existing apps row are skipped: this pipeline never creates catalog entries,
// the applist worker owns creation. Relation sync runs only for apps whose
// row upsert succeeded, and last_pics_sync is stamped only for apps whose
// relation sync also succeeded. A returned error means the pre-flight probes
// failed and nothing was written; the caller should retry the whole batch.
func (p *Persister) UpsertAppsBatch(ctx context.Context, apps []*extract.App) (*Result, error) {
	result := &Result{}
	if len(apps) == 0 {
		return result, nil
	}

	appids := make([]uint32, 0, len(apps))
	for _, app := range apps {
		if app != nil {
			appids = append(appids, app.AppID)
		}
	}

	existing, err := p.store.ExistingAppIDs(ctx, appids)
	if err != nil {
		return nil, err
	}
	hasStorefrontDate, err := p.store.AppIDsWithReleaseDate(ctx, appids)
	if err != nil {
		return nil, err
	}
	hasStorefrontSync, err := p.store.AppIDsWithStorefrontSync(ctx, appids)
	if err != nil {
		return nil, err
	}

	var rows []store.Row
	var candidates []*extract.App
	for _, app := range apps {
		if app == nil {
			result.BuildFailures++
			continue
		}
		if !existing[app.AppID] {
			result.Skipped++
			continue
		}
		rows = append(rows, p.buildAppRow(app, hasStorefrontDate, hasStorefrontSync))
		candidates = append(candidates, app)
	}

	logging.Info().
		Int("apps", len(apps)).
		Int("rows", len(rows)).
		Int("skipped", result.Skipped).
		Int("build_failures", result.BuildFailures).
		Msg("built app rows")

	succeeded := make(map[uint32]bool, len(rows))
	for start := 0; start < len(rows); start += upsertBatchSize {
		end := min(start+upsertBatchSize, len(rows))
		if err := p.store.UpsertRows(ctx, "apps", rows[start:end], "appid"); err != nil {
			logging.Error().Err(err).Int("rows", end-start).Msg("app batch upsert failed")
			result.Failed += end - start
			continue
		}
		result.Updated += end - start
		for _, app := range candidates[start:end] {
			succeeded[app.AppID] = true
		}
	}

	var synced []uint32
	for _, app := range candidates {
		if !succeeded[app.AppID] {
			continue
		}
		if err := p.syncRelations(ctx, app); err != nil {
			logging.Error().Err(err).Uint32("appid", app.AppID).Msg("relation sync failed")
			continue
		}
		synced = append(synced, app.AppID)
	}

	if len(synced) > 0 {
		if marked := p.markSynced(ctx, synced); marked > 0 {
			metrics.RecordSyncMarks(marked)
		}
	}

	metrics.RecordUpsertResults(result.Updated, result.Failed, result.Skipped, result.BuildFailures)
	return result, nil
}

// markSynced stamps last_pics_sync for the given apps and returns how many
// landed. A failed bulk stamp falls back to per-app writes so one bad row
// cannot withhold the stamp from the rest of the batch.
func (p *Persister) markSynced(ctx context.Context, synced []uint32) int {
	now := p.now()
	err := p.store.MarkPICSSynced(ctx, synced, now)
	if err == nil {
		return len(synced)
	}
	logging.Error().Err(err).Int("apps", len(synced)).Msg("bulk sync stamp failed, retrying per app")

	marked := 0
	for _, appid := range synced {
		if err := p.store.MarkPICSSynced(ctx, []uint32{appid}, now); err != nil {
			logging.Error().Err(err).Uint32("appid", appid).Msg("sync stamp failed")
			continue
		}
		marked++
	}
	return marked
}

// buildAppRow renders one apps-table row. Name lands only when non-empty and
// type always lands; release_date and is_free/is_released defer to the
// storefront ingester for apps it has already visited.
func (p *Persister) buildAppRow(app *extract.App, hasStorefrontDate, hasStorefrontSync map[uint32]bool) store.Row {
	row := store.Row{
		"appid":                  app.AppID,
		"pics_review_score":      app.ReviewScore,
		"pics_review_percentage": app.ReviewPercentage,
		"controller_support":     nullString(app.ControllerSupport),
		"metacritic_score":       app.MetacriticScore,
		"metacritic_url":         nullString(app.MetacriticURL),
		"platforms":              joinPlatforms(app.Platforms),
		"release_state":          nullString(app.ReleaseState),
		"homepage_url":           nullString(app.HomepageURL),
		"app_state":              nullString(app.AppState),
		"last_content_update":    nullTimestamp(app.LastUpdateTimestamp),
		"current_build_id":       nullString(app.CurrentBuildID),
		"content_descriptors":    nullMap(app.ContentDescriptors),
		"languages":              nullMap(app.Languages),
		"has_workshop":           app.HasWorkshop,
		"original_release_date":  nullTimestamp(app.OriginalReleaseDate),
		"store_asset_mtime":      nullTimestamp(app.StoreAssetMtime),
		"primary_genre_id":       app.PrimaryGenre,
		"updated_at":             store.Timestamp(p.now()),
	}

	if app.Name != "" {
		row["name"] = app.Name
	}
	if app.Type != "" {
		row["type"] = mapAppType(app.Type)
	} else {
		row["type"] = inferType(app.Name)
	}

	if app.SteamReleaseDate != nil && !hasStorefrontDate[app.AppID] {
		row["release_date"] = app.SteamReleaseDate.UTC().Format("2006-01-02")
	}
	if !hasStorefrontSync[app.AppID] {
		row["is_free"] = app.IsFree
		row["is_released"] = app.ReleaseState == "released"
	}
	return row
}

// syncRelations rewrites the app's relation tables. Each sub-step failure is
// logged and the remaining sub-steps still run; the first error is returned
// so the caller withholds the app's last_pics_sync bump.
func (p *Persister) syncRelations(ctx context.Context, app *extract.App) error {
	var firstErr error
	fail := func(relation string, err error) {
		logging.Error().Err(err).Uint32("appid", app.AppID).Str("relation", relation).Msg("relation sync step failed")
		metrics.RecordRelationSyncFailure(relation)
		if firstErr == nil {
			firstErr = err
		}
	}

	if app.SteamDeck != nil {
		if err := p.upsertSteamDeck(ctx, app.AppID, app.SteamDeck); err != nil {
			fail("steam_deck", err)
		}
	}
	if len(app.Categories) > 0 {
		if err := p.syncCategories(ctx, app.AppID, app.Categories); err != nil {
			fail("categories", err)
		}
	}
	if len(app.Genres) > 0 {
		if err := p.syncGenres(ctx, app.AppID, app.Genres, app.PrimaryGenre); err != nil {
			fail("genres", err)
		}
	}
	if len(app.StoreTags) > 0 {
		if err := p.syncStoreTags(ctx, app.AppID, app.StoreTags); err != nil {
			fail("store_tags", err)
		}
	}
	for _, assoc := range app.Associations {
		if assoc.Kind != extract.AssociationFranchise {
			continue
		}
		if err := p.linkFranchise(ctx, app.AppID, assoc.Name); err != nil {
			fail("franchises", err)
		}
	}
	if len(app.DLCAppIDs) > 0 {
		if err := p.syncDLC(ctx, app.AppID, app.DLCAppIDs); err != nil {
			fail("dlc", err)
		}
	}
	return firstErr
}

func (p *Persister) upsertSteamDeck(ctx context.Context, appid uint32, deck *extract.SteamDeck) error {
	category, ok := deckCategoryNames[deck.Category]
	if !ok {
		category = "unknown"
	}
	row := store.Row{
		"appid":           appid,
		"category":        category,
		"test_timestamp":  nullTimestamp(deck.TestTimestamp),
		"tested_build_id": nullString(deck.TestedBuildID),
		"tests":           nullMap(deck.Tests),
		"updated_at":      store.Timestamp(p.now()),
	}
	return p.store.UpsertRows(ctx, "app_steam_deck", []store.Row{row}, "appid")
}

func (p *Persister) syncCategories(ctx context.Context, appid uint32, categories map[int]bool) error {
	if err := p.store.DeleteByAppID(ctx, "app_categories", appid); err != nil {
		return err
	}

	enabled := make([]int, 0, len(categories))
	for id, on := range categories {
		if on {
			enabled = append(enabled, id)
		}
	}
	if len(enabled) == 0 {
		return nil
	}
	sort.Ints(enabled)

	lookup := make([]store.Row, 0, len(enabled))
	links := make([]store.Row, 0, len(enabled))
	for _, id := range enabled {
		lookup = append(lookup, store.Row{"category_id": id, "name": categoryName(id)})
		links = append(links, store.Row{"appid": appid, "category_id": id})
	}
	if err := p.store.UpsertRows(ctx, "steam_categories", lookup, "category_id"); err != nil {
		return err
	}
	return p.store.InsertRows(ctx, "app_categories", links)
}

func (p *Persister) syncGenres(ctx context.Context, appid uint32, genres []int, primary *int) error {
	if err := p.store.DeleteByAppID(ctx, "app_genres", appid); err != nil {
		return err
	}

	lookup := make([]store.Row, 0, len(genres))
	links := make([]store.Row, 0, len(genres))
	for _, id := range genres {
		lookup = append(lookup, store.Row{"genre_id": id, "name": genreName(id)})
		links = append(links, store.Row{
			"appid":      appid,
			"genre_id":   id,
			"is_primary": primary != nil && id == *primary,
		})
	}
	if err := p.store.UpsertRows(ctx, "steam_genres", lookup, "genre_id"); err != nil {
		return err
	}
	return p.store.InsertRows(ctx, "app_genres", links)
}

func (p *Persister) syncStoreTags(ctx context.Context, appid uint32, tagIDs []int) error {
	if err := p.store.DeleteByAppID(ctx, "app_steam_tags", appid); err != nil {
		return err
	}

	now := store.Timestamp(p.now())
	lookup := make([]store.Row, 0, len(tagIDs))
	links := make([]store.Row, 0, len(tagIDs))
	for rank, id := range tagIDs {
		lookup = append(lookup, store.Row{"tag_id": id, "name": p.tags.Name(id), "updated_at": now})
		links = append(links, store.Row{"appid": appid, "tag_id": id, "rank": rank})
	}
	if err := p.store.UpsertRows(ctx, "steam_tags", lookup, "tag_id"); err != nil {
		return err
	}
	return p.store.InsertRows(ctx, "app_steam_tags", links)
}

func (p *Persister) linkFranchise(ctx context.Context, appid uint32, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	franchiseID, err := p.store.UpsertFranchise(ctx, name)
	if err != nil {
		return err
	}
	if franchiseID == 0 {
		return nil
	}
	row := store.Row{"appid": appid, "franchise_id": franchiseID}
	return p.store.UpsertRows(ctx, "app_franchises", []store.Row{row}, "appid,franchise_id")
}

// syncDLC links the parent to its announced DLC. The dlc rows carry no
// referential constraint: a DLC is often announced in the parent's record
// before its own apps row exists.
func (p *Persister) syncDLC(ctx context.Context, parent uint32, dlcIDs []uint32) error {
	rows := make([]store.Row, 0, len(dlcIDs))
	for _, id := range dlcIDs {
		rows = append(rows, store.Row{
			"parent_appid": parent,
			"dlc_appid":    id,
			"source":       "pics",
		})
	}
	return p.store.UpsertRows(ctx, "app_dlc", rows, "parent_appid,dlc_appid")
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTimestamp(t *time.Time) any {
	if t == nil {
		return nil
	}
	return store.Timestamp(*t)
}

func nullMap(m map[string]any) any {
	if len(m) == 0 {
		return nil
	}
	return m
}

func joinPlatforms(platforms []string) any {
	if len(platforms) == 0 {
		return nil
	}
	return strings.Join(platforms, ",")
}
