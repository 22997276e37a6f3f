// picsync - Steam PICS catalog ingestion service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/picsync

package persist

import "fmt"

// genreNames maps PICS genre ids to display names. PICS carries only the ids;
// the names are stable Steam storefront vocabulary. Unknown ids fall back to
// a placeholder so relation rows never block on a missing name.
var genreNames = map[int]string{
	1:  "Action",
	2:  "Strategy",
	3:  "RPG",
	4:  "Casual",
	5:  "Racing",
	9:  "Racing",
	12: "Sports",
	18: "Sports",
	23: "Indie",
	25: "Adventure",
	28: "Simulation",
	29: "Massively Multiplayer",
	37: "Free to Play",
	51: "Animation & Modeling",
	53: "Design & Illustration",
	54: "Education",
	55: "Software Training",
	56: "Utilities",
	57: "Video Production",
	58: "Web Publishing",
	59: "Game Development",
	60: "Photo Editing",
	70: "Early Access",
	71: "Audio Production",
	72: "Accounting",
	81: "Documentary",
	82: "Episodic",
	83: "Feature Film",
	84: "Short",
	85: "Benchmark",
	86: "VR",
	87: "360 Video",
}

// categoryNames maps Steam feature category ids to display names.
var categoryNames = map[int]string{
	1:  "Multi-player",
	2:  "Single-player",
	9:  "Co-op",
	20: "MMO",
	22: "Steam Achievements",
	23: "Steam Cloud",
	27: "Cross-Platform Multiplayer",
	28: "Full Controller Support",
	29: "Steam Trading Cards",
	30: "Steam Workshop",
	35: "In-App Purchases",
	36: "Online PvP",
	37: "Online Co-op",
	38: "Local Co-op",
	41: "Shared/Split Screen",
	42: "Partial Controller Support",
	43: "Remote Play on TV",
	44: "Remote Play Together",
	45: "Captions Available",
	46: "LAN PvP",
	47: "LAN Co-op",
	48: "HDR",
	49: "VR Supported",
	50: "VR Only",
	51: "Steam China Workshop",
	52: "Tracked Controller Support",
	53: "Family Sharing",
	55: "Timeline Support",
	56: "GPU Recording",
	57: "Cloud Gaming",
	59: "Co-op Campaigns",
	60: "Steam Overlay Support",
	61: "Remote Play on Phone",
	62: "Remote Play on Tablet",
}

func genreName(id int) string {
	if name, ok := genreNames[id]; ok {
		return name
	}
	return fmt.Sprintf("Genre %d", id)
}

func categoryName(id int) string {
	if name, ok := categoryNames[id]; ok {
		return name
	}
	return fmt.Sprintf("Category %d", id)
}
