// picsync - Steam PICS catalog ingestion service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/picsync

package extract

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// The bridge renders PICS KeyValues as JSON, so a leaf may arrive as a
// string, a float64, or a json.Number depending on the encoder. Every
// coercion below accepts all three and treats anything else as absent.

// asMap returns v as a string-keyed map, or nil.
func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

// asString returns v rendered as a string. Numeric leaves are formatted the
// way the bridge would have sent them as strings.
func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case interface{ String() string }:
		return t.String()
	default:
		return ""
	}
}

// firstString returns the first value that renders to a non-empty string.
func firstString(values ...any) string {
	for _, v := range values {
		if s := asString(v); s != "" {
			return s
		}
	}
	return ""
}

// asIntPtr converts v to an integer, returning nil for anything that does
// not parse.
func asIntPtr(v any) *int {
	switch t := v.(type) {
	case float64:
		n := int(t)
		return &n
	case int:
		return &t
	case int64:
		n := int(t)
		return &n
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return nil
		}
		return &n
	case interface{ Int64() (int64, error) }:
		i, err := t.Int64()
		if err != nil {
			return nil
		}
		n := int(i)
		return &n
	default:
		return nil
	}
}

// asUint32Ptr converts v to a uint32, returning nil for unparseable or
// out-of-range values.
func asUint32Ptr(v any) *uint32 {
	n := asIntPtr(v)
	if n == nil || *n < 0 || int64(*n) > int64(^uint32(0)) {
		return nil
	}
	u := uint32(*n)
	return &u
}

// parseUint32 parses a decimal string into a uint32, or nil.
func parseUint32(s string) *uint32 {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return nil
	}
	u := uint32(n)
	return &u
}

// asTimePtr interprets v as Unix seconds. Zero, negative, and unparseable
// values yield nil.
func asTimePtr(v any) *time.Time {
	n := asIntPtr(v)
	if n == nil || *n <= 0 {
		return nil
	}
	t := time.Unix(int64(*n), 0).UTC()
	return &t
}

// hasKey reports whether m contains key.
func hasKey(m map[string]any, key string) bool {
	_, ok := m[key]
	return ok
}

// splitTrimmed splits on commas, trims each entry, and drops empties.
func splitTrimmed(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// categoryID extracts N from a category_<N> key.
func categoryID(key string) (int, bool) {
	const prefix = "category_"
	if !strings.HasPrefix(key, prefix) {
		return 0, false
	}
	n, err := strconv.Atoi(key[len(prefix):])
	if err != nil {
		return 0, false
	}
	return n, true
}

// orderedValues returns the values of a numbered mapping in upstream record
// order. PICS renders ordered lists as maps keyed "0", "1", "2", …, so the
// numeric key order is the original insertion order; non-numeric keys sort
// after numeric ones lexicographically as a fallback.
func orderedValues(data map[string]any) []any {
	if len(data) == 0 {
		return nil
	}

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		ni, erri := strconv.Atoi(keys[i])
		nj, errj := strconv.Atoi(keys[j])
		switch {
		case erri == nil && errj == nil:
			return ni < nj
		case erri == nil:
			return true
		case errj == nil:
			return false
		default:
			return keys[i] < keys[j]
		}
	})

	out := make([]any, 0, len(keys))
	for _, k := range keys {
		out = append(out, data[k])
	}
	return out
}
