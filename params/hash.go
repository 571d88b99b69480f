package params

import (
	"crypto/sha256"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
)

// DoubleSHA256 computes sha256(sha256(b)), the header-identity and
// commitment hash used throughout the Alpha wire protocol (spec §3, §4.2).
func DoubleSHA256(b []byte) common.Hash {
	first := sha256.Sum256(b)
	second := sha256.Sum256(first[:])
	return common.Hash(second)
}

// EpochSeed computes the deterministic RandomX epoch seed for the given
// epoch index: sha256d("Alpha/RandomX/Epoch/" || decimal_string(epoch_index))
// (spec §4.2, byte-exact across implementations).
func EpochSeed(epochIndex int64) common.Hash {
	s := "Alpha/RandomX/Epoch/" + strconv.FormatInt(epochIndex, 10)
	return DoubleSHA256([]byte(s))
}
