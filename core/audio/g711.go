package audio

import (
	"fmt"

	"github.com/zaf/g711"
)

// ToLinear16 converts data in this encoding to little-endian 16-bit PCM.
func (e EncodingInfo) ToLinear16(data []byte) ([]byte, error) {
	switch e.Format {
	case EncodingLinear16:
		return data, nil
	case EncodingMulaw:
		return g711.DecodeUlaw(data), nil
	case EncodingALaw:
		return g711.DecodeAlaw(data), nil
	default:
		return nil, fmt.Errorf("unsupported encoding %q", e.Format.Name())
	}
}
