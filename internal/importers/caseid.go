package importers

import (
	"crypto/md5"
	"encoding/binary"
	"fmt"
)

// maxInt32Safe is the largest id the target accepts (spec §4.5: 32-bit signed).
const maxInt32Safe = 2147483647

// hashID implements the oversize-id fallback: MD5 the decimal string, take
// the first 8 hex digits as a uint32, mod into the safe range (spec §4.5).
func hashID(sourceID int) int {
	sum := md5.Sum([]byte(fmt.Sprintf("%d", sourceID)))
	v := binary.BigEndian.Uint32(sum[:4])
	return int(v % maxInt32Safe)
}

// ResolveCaseID implements spec §4.5's ID-safety rules:
//   - preserve_ids=true, source id within range: keep it.
//   - preserve_ids=true, source id oversize: hash it into range.
//   - preserve_ids=false: generate nowMS mod (2^31-1) for in-range sources,
//     the same hash for oversize sources; if the generated value is still
//     out of range, mod it again.
func ResolveCaseID(sourceID int, preserveIDs bool, nowMS int64) int {
	if preserveIDs {
		if sourceID <= maxInt32Safe {
			return sourceID
		}
		return hashID(sourceID)
	}

	var generated int
	if sourceID <= maxInt32Safe {
		generated = int(nowMS % maxInt32Safe)
	} else {
		generated = hashID(sourceID)
	}
	if generated > maxInt32Safe {
		generated = generated % maxInt32Safe
	}
	return generated
}
