package storage

import (
	"crypto/sha256"
	"encoding/hex"
)

// PageID derives the deterministic page identifier from a canonical URL.
// The same URL always maps to the same ID, which is what makes the page
// upsert safe under interleaved calls: insert and update paths agree on
// the identity before touching the database.
func PageID(canonicalURL string) string {
	sum := sha256.Sum256([]byte(canonicalURL))
	return "pg_" + hex.EncodeToString(sum[:12])
}

// EdgeID derives the deterministic edge identifier from the unique
// (from, to, session) composite key.
func EdgeID(fromPageID, toPageID, sessionID string) string {
	sum := sha256.Sum256([]byte(fromPageID + "\x00" + toPageID + "\x00" + sessionID))
	return "eg_" + hex.EncodeToString(sum[:12])
}
