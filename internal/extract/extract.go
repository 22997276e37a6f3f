// picsync - Steam PICS catalog ingestion service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/picsync

// Package extract converts raw tag-oriented PICS records into typed App
// values. Extraction is total: malformed or missing upstream data never
// produces an error, it coerces to zero values and unset optionals.
package extract

import (
	"time"

	"github.com/tomtom215/picsync/internal/steam"
)

// Association kinds as delivered by PICS.
const (
	AssociationDeveloper = "developer"
	AssociationPublisher = "publisher"
	AssociationFranchise = "franchise"
	AssociationAward     = "award"
)

// Association is one (kind, name) pair from the common.associations record.
// Order follows the upstream record.
type Association struct {
	Kind string
	Name string
}

// SteamDeck is the Steam Deck compatibility sub-record.
// Category is 0 unknown, 1 unsupported, 2 playable, 3 verified; anything
// outside that range is coerced to 0 during extraction.
type SteamDeck struct {
	Category      int
	TestTimestamp *time.Time
	TestedBuildID string
	Tests         map[string]any
}

// App is the typed extraction of one raw PICS app record. Pointer fields are
// nil when the upstream record carried no usable value; slices and maps
// preserve upstream order and are empty, never nil-vs-present significant.
type App struct {
	AppID uint32
	Name  string
	Type  string

	Developer    string
	Publisher    string
	Associations []Association

	// ParentAppID is parsed for completeness but the upstream value is
	// unreliable; the persister never writes it.
	ParentAppID *uint32
	DLCAppIDs   []uint32

	SteamReleaseDate    *time.Time
	OriginalReleaseDate *time.Time
	StoreAssetMtime     *time.Time
	ReleaseState        string
	LastUpdateTimestamp *time.Time
	CurrentBuildID      string

	ReviewScore      *int
	ReviewPercentage *int
	MetacriticScore  *int
	MetacriticURL    string

	// StoreTags order carries meaning: the 0-based position becomes the
	// persisted tag rank.
	StoreTags    []int
	Genres       []int
	PrimaryGenre *int
	Categories   map[int]bool

	Platforms         []string
	ControllerSupport string
	SteamDeck         *SteamDeck

	HasWorkshop bool
	IsFree      bool

	// ContentDescriptors and Languages are preserved verbatim.
	ContentDescriptors map[string]any
	Languages          map[string]any

	HomepageURL string
	AppState    string
}

// Extract builds an App from one raw PICS record. It accepts both the bare
// record and the appinfo-wrapped envelope some responses use.
func Extract(appid uint32, raw steam.RawApp) *App {
	appinfo := map[string]any(raw)
	if wrapped := asMap(raw["appinfo"]); wrapped != nil {
		appinfo = wrapped
	}

	common := asMap(appinfo["common"])
	extended := asMap(appinfo["extended"])
	config := asMap(appinfo["config"])
	depots := asMap(appinfo["depots"])

	app := &App{
		AppID: appid,
		Name:  asString(common["name"]),
		Type:  asString(common["type"]),

		Developer:    firstString(common["developer"], extended["developer"]),
		Publisher:    firstString(common["publisher"], extended["publisher"]),
		Associations: extractAssociations(asMap(common["associations"])),

		ParentAppID: asUint32Ptr(common["parent"]),
		DLCAppIDs:   parseDLCList(asString(extended["listofdlc"])),

		SteamReleaseDate:    asTimePtr(common["steam_release_date"]),
		OriginalReleaseDate: asTimePtr(common["original_release_date"]),
		StoreAssetMtime:     asTimePtr(common["store_asset_mtime"]),
		ReleaseState:        asString(common["releasestate"]),

		ReviewScore:      asIntPtr(common["review_score"]),
		ReviewPercentage: asIntPtr(common["review_percentage"]),
		MetacriticScore:  asIntPtr(common["metacritic_score"]),
		MetacriticURL:    asString(common["metacritic_url"]),

		StoreTags:    extractIDList(asMap(common["store_tags"])),
		Genres:       extractIDList(asMap(common["genres"])),
		PrimaryGenre: asIntPtr(common["primary_genre"]),
		Categories:   extractCategories(asMap(common["category"])),

		Platforms:         parsePlatforms(asString(common["oslist"])),
		ControllerSupport: asString(common["controller_support"]),
		SteamDeck:         extractSteamDeck(asMap(common["steam_deck_compatibility"])),

		HasWorkshop: hasKey(config, "workshop") || asString(common["workshop_visible"]) == "1",
		IsFree:      asString(common["isfreeapp"]) == "1",

		ContentDescriptors: asMap(common["content_descriptors"]),
		Languages:          asMap(common["languages"]),

		HomepageURL: firstString(extended["homepage"], extended["developer_url"]),
		AppState:    asString(extended["state"]),
	}

	if public := asMap(asMap(depots["branches"])["public"]); public != nil {
		app.CurrentBuildID = asString(public["buildid"])
		app.LastUpdateTimestamp = asTimePtr(public["timeupdated"])
	}

	return app
}

// extractAssociations reads the numbered association mapping in upstream
// order. Entries without both a type and a name are dropped.
func extractAssociations(data map[string]any) []Association {
	var out []Association
	for _, v := range orderedValues(data) {
		assoc := asMap(v)
		if assoc == nil {
			continue
		}
		kind := asString(assoc["type"])
		name := asString(assoc["name"])
		if kind == "" || name == "" {
			continue
		}
		out = append(out, Association{Kind: kind, Name: name})
	}
	return out
}

// extractIDList reads a numbered mapping of IDs in upstream order, ignoring
// keys. Values that do not convert to integers are silently dropped.
func extractIDList(data map[string]any) []int {
	var out []int
	for _, v := range orderedValues(data) {
		if id := asIntPtr(v); id != nil {
			out = append(out, *id)
		}
	}
	return out
}

// extractCategories converts category_<N> keys into an id→enabled map.
func extractCategories(data map[string]any) map[int]bool {
	if len(data) == 0 {
		return nil
	}
	out := make(map[int]bool, len(data))
	for k, v := range data {
		id, ok := categoryID(k)
		if !ok {
			continue
		}
		out[id] = asString(v) == "1"
	}
	return out
}

// parsePlatforms splits a comma-separated OS list, trimming entries and
// dropping empties.
func parsePlatforms(oslist string) []string {
	return splitTrimmed(oslist)
}

// parseDLCList parses the comma-separated listofdlc value. Non-integer
// entries are silently dropped.
func parseDLCList(list string) []uint32 {
	var out []uint32
	for _, entry := range splitTrimmed(list) {
		if id := parseUint32(entry); id != nil {
			out = append(out, *id)
		}
	}
	return out
}

// extractSteamDeck reads the steam_deck_compatibility sub-record. Category
// values outside 0..3 coerce to 0 (unknown).
func extractSteamDeck(data map[string]any) *SteamDeck {
	if len(data) == 0 {
		return nil
	}

	category := 0
	if v := asIntPtr(data["category"]); v != nil && *v >= 0 && *v <= 3 {
		category = *v
	}

	return &SteamDeck{
		Category:      category,
		TestTimestamp: asTimePtr(data["test_timestamp"]),
		TestedBuildID: asString(data["tested_build_id"]),
		Tests:         asMap(data["tests"]),
	}
}
