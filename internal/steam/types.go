// picsync - Steam PICS catalog ingestion service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/picsync

package steam

// RawApp is the raw product-info record for a single app as delivered by the
// upstream, prior to extraction. Values are decoded JSON: nested maps,
// strings, and numbers.
type RawApp map[string]any

// ChangeDelta describes the catalog changes accumulated after a given change
// number.
type ChangeDelta struct {
	// CurrentChangeNumber is the change number the delta runs up to.
	CurrentChangeNumber uint64

	// AppIDs lists the apps touched between the queried number and
	// CurrentChangeNumber.
	AppIDs []uint32
}

// Credentials select the logon mode. The zero value logs on anonymously.
type Credentials struct {
	Username string
	Password string
}

// Anonymous reports whether the credentials request an anonymous logon.
func (c Credentials) Anonymous() bool {
	return c.Username == ""
}
