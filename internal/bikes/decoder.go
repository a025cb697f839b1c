package bikes

import (
	"fmt"

	"github.com/lowaak/smart-trainer/bike-bridge/internal/cycling"
)

// Decoder turns raw packets from one bike into readings. Packets that do
// not carry stats return an error wrapping ErrUnrecognizedFormat.
type Decoder interface {
	Decode(data []byte) (cycling.Reading, error)
}

// DecoderFunc adapts a stateless parse function to Decoder.
type DecoderFunc func(data []byte) (cycling.Reading, error)

func (f DecoderFunc) Decode(data []byte) (cycling.Reading, error) {
	return f(data)
}

// NewDecoder returns a fresh decoder for kind.
func NewDecoder(kind Kind) (Decoder, error) {
	switch kind {
	case KindFlywheel:
		return DecoderFunc(ParseFlywheel), nil
	case KindIC4:
		return DecoderFunc(ParseIC4), nil
	case KindEchelon:
		return &EchelonDecoder{}, nil
	case KindKeiser:
		return &KeiserDecoder{}, nil
	case KindPeloton:
		return &PelotonDecoder{}, nil
	case KindBot:
		return &BotDecoder{}, nil
	default:
		return nil, fmt.Errorf("no decoder for bike type %q", kind)
	}
}

func unrecognized(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrUnrecognizedFormat}, args...)...)
}
