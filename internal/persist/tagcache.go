// picsync - Steam PICS catalog ingestion service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/picsync

package persist

import (
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/picsync/internal/logging"
)

// steamTagsURL serves the public tag vocabulary. PICS app records carry only
// tag ids; names come from here.
const steamTagsURL = "https://store.steampowered.com/tagdata/populartags/english"

const tagFetchTimeout = 30 * time.Second

// tagCache lazily loads the tag id→name vocabulary on first use. A failed
// load is non-fatal: the cache stays empty and every lookup falls back to a
// placeholder, so tag rows still land with recoverable names.
type tagCache struct {
	url   string
	once  sync.Once
	names map[int]string
}

func newTagCache() *tagCache {
	return &tagCache{url: steamTagsURL}
}

// Name returns the display name for a tag id, loading the vocabulary on the
// first call.
func (c *tagCache) Name(id int) string {
	c.once.Do(c.fetch)
	if name, ok := c.names[id]; ok {
		return name
	}
	return fmt.Sprintf("Tag %d", id)
}

func (c *tagCache) fetch() {
	client := &http.Client{Timeout: tagFetchTimeout}
	resp, err := client.Get(c.url)
	if err != nil {
		logging.Warn().Err(err).Msg("tag name load failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		logging.Warn().Int("status", resp.StatusCode).Msg("tag name load failed")
		return
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		logging.Warn().Err(err).Msg("tag name load failed")
		return
	}

	var tags []struct {
		TagID int    `json:"tagid"`
		Name  string `json:"name"`
	}
	if err := json.Unmarshal(body, &tags); err != nil {
		logging.Warn().Err(err).Msg("tag name decode failed")
		return
	}

	c.names = make(map[int]string, len(tags))
	for _, t := range tags {
		c.names[t.TagID] = t.Name
	}
	logging.Info().Int("tags", len(c.names)).Msg("loaded tag names")
}
