package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// uidLen and fingerprintLen are hex-character lengths of the derived ids.
const (
	uidLen         = 12
	fingerprintLen = 16
)

// NormalizeTitle lowercases a title and collapses internal whitespace so
// cosmetic edits do not change a task's identity.
func NormalizeTitle(title string) string {
	return strings.Join(strings.Fields(strings.ToLower(title)), " ")
}

// UID derives the deterministic task identity. It hashes only stable
// inputs (no timestamps), so recomputation after a restart yields the
// same value.
func UID(workUnitID, title, discoveredFrom string, ordinal int) string {
	h := sha256.New()
	h.Write([]byte(workUnitID))
	h.Write([]byte{0})
	h.Write([]byte(NormalizeTitle(title)))
	h.Write([]byte{0})
	h.Write([]byte(discoveredFrom))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(ordinal)))
	return hex.EncodeToString(h.Sum(nil))[:uidLen]
}

// Fingerprint hashes the semantic identity of a candidate task for
// discovery deduplication. Two candidates differing only in description
// produce different fingerprints.
func Fingerprint(title, description string, acceptanceCriteria []string, parentUID string) string {
	h := sha256.New()
	h.Write([]byte(NormalizeTitle(title)))
	h.Write([]byte{0})
	h.Write([]byte(description))
	h.Write([]byte{0})
	for _, c := range acceptanceCriteria {
		h.Write([]byte(c))
		h.Write([]byte{1})
	}
	h.Write([]byte{0})
	h.Write([]byte(parentUID))
	return hex.EncodeToString(h.Sum(nil))[:fingerprintLen]
}
