// picsync - Steam PICS catalog ingestion service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/picsync

package persist

import "strings"

// typeMap normalizes the PICS type vocabulary to the catalog type enum.
// tool and application land as game: the storefront treats both as playable
// entries and downstream filters key on the game type.
var typeMap = map[string]string{
	"game":        "game",
	"dlc":         "dlc",
	"demo":        "demo",
	"mod":         "mod",
	"video":       "video",
	"tool":        "game",
	"application": "game",
	"hardware":    "hardware",
	"music":       "music",
}

// mapAppType maps a PICS-provided type through the enum, defaulting to game.
func mapAppType(picsType string) string {
	if mapped, ok := typeMap[strings.ToLower(picsType)]; ok {
		return mapped
	}
	return "game"
}

// inferType guesses a catalog type from the app name when PICS carries none.
// It never returns dlc: DLC identity comes only from the parent's listofdlc,
// and a name-based guess would poison the type column.
func inferType(name string) string {
	n := strings.ToLower(name)

	looksDemo := strings.Contains(n, " demo") ||
		strings.HasSuffix(n, " demo") ||
		strings.Contains(n, "(demo)") ||
		strings.Contains(n, "[demo]")
	if looksDemo &&
		!strings.Contains(n, "demon") &&
		!strings.Contains(n, "democracy") &&
		!strings.Contains(n, "demolition") {
		return "demo"
	}

	switch {
	case strings.Contains(n, "soundtrack"),
		strings.Contains(n, " ost"),
		strings.Contains(n, "original score"),
		strings.Contains(n, "music pack"):
		return "music"
	case strings.Contains(n, " sdk"),
		strings.Contains(n, "dedicated server"),
		strings.Contains(n, "level editor"),
		strings.Contains(n, "modding tool"):
		return "tool"
	case strings.Contains(n, "trailer"),
		strings.Contains(n, "- video"),
		strings.Contains(n, "making of"),
		strings.Contains(n, "behind the scenes"):
		return "video"
	}
	return "game"
}
