// Package ids derives the stable content hash and document identifiers
// used to address rows across the store's tables. Both derivations are
// part of the on-disk contract: changing either invalidates every
// existing document id and content row.
package ids

import (
	"crypto/md5"  //nolint:gosec // content addressing, not a security boundary
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// ContentHash returns the content-addressing hash of a document body.
func ContentHash(body string) string {
	sum := md5.Sum([]byte(body)) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

// DocumentID derives a stable 12-hex document id from a content hash and
// the document's path, so that the same body at two different paths
// gets two different ids, and the same path re-written with the same
// body keeps its id.
func DocumentID(contentHash, path string) string {
	sum := sha256.Sum256([]byte(contentHash + "|" + path))
	return hex.EncodeToString(sum[:])[:12]
}

// VecKey derives the primary key of the vector table row for a given
// content hash and chunk sequence number.
func VecKey(contentHash string, seq int) string {
	return contentHash + "_" + strconv.Itoa(seq)
}

// ContentHashFromVecKey recovers the content hash half of a VecKey,
// discarding the chunk sequence suffix.
func ContentHashFromVecKey(key string) string {
	idx := strings.LastIndex(key, "_")
	if idx == -1 {
		return key
	}
	return key[:idx]
}
