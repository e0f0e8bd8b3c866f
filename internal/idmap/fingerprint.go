package idmap

import (
	"encoding/binary"

	"github.com/zeebo/blake3"
)

// accountDomainKey separates account fingerprints from any other BLAKE3
// use. Changing it reassigns every account ID not already persisted.
var accountDomainKey = [32]byte{
	's', 'k', 'y', 'b', 'r', 'i', 'd', 'g', 'e', '.', 'i', 'd', 'm', 'a', 'p', '.',
	'a', 'c', 'c', 'o', 'u', 'n', 't', 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// Fingerprint derives the candidate ID for key on the given attempt. Attempt
// 0 is the plain fingerprint; higher attempts salt it with the attempt
// number. The result has the top bit cleared and may be zero.
func Fingerprint(key string, attempt int) int64 {
	hasher, err := blake3.NewKeyed(accountDomainKey[:])
	if err != nil {
		panic("idmap: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(key)))
	_, _ = hasher.Write(n[:])
	_, _ = hasher.Write([]byte(key))
	if attempt > 0 {
		binary.BigEndian.PutUint64(n[:], uint64(attempt))
		_, _ = hasher.Write(n[:])
	}
	sum := hasher.Sum(nil)
	return int64(binary.BigEndian.Uint64(sum[:8]) &^ (1 << 63))
}

// deriveNodeID folds seed into the snowflake node range.
func deriveNodeID(seed string) int64 {
	sum := blake3.Sum256([]byte(seed))
	return int64(binary.BigEndian.Uint16(sum[:2])) & maxNode
}
