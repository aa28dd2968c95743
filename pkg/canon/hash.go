package canon

import (
	"crypto/sha256"
	"encoding/hex"
)

// Body hashes, content IDs, and head hashes all share the same
// "<prefix>:<hex sha256>" shape described by the data model. The prefix
// distinguishes the three identifier spaces so a hash from one can never
// be mistaken for a hash from another.
const (
	bodyPrefix = "b:"
	cidPrefix  = "c:"
	headPrefix = "h:"
)

// Genesis is the seeded head_hash of an empty ledger.
const Genesis = headPrefix + "genesis"

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// BodyHash returns the "b:"-prefixed canonical hash of v.
func BodyHash(v interface{}) (string, error) {
	b, err := JSON(v)
	if err != nil {
		return "", err
	}
	return bodyPrefix + sha256Hex(b), nil
}

// CID computes the content ID of an atom: the canonical hash of the
// atom with its own cid field absent. Callers pass a value (typically a
// map or a struct with the cid field already zeroed/omitted) that
// excludes "cid" from the canonicalized output.
func CID(atomWithoutCID interface{}) (string, error) {
	b, err := JSON(atomWithoutCID)
	if err != nil {
		return "", err
	}
	return cidPrefix + sha256Hex(b), nil
}

// HeadHash computes the next head hash in the chain from the previous
// head and the new atom's cid: h:sha256(prevHead + ":" + cid).
func HeadHash(prevHead, cid string) string {
	return headPrefix + sha256Hex([]byte(prevHead+":"+cid))
}
