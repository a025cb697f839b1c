package bikes

import (
	"context"
	"fmt"
	"os"

	"github.com/lowaak/smart-trainer/bike-bridge/internal/bt"
)

// Options hold the per-bike settings used by NewClient.
type Options struct {
	Flywheel BLEOptions
	IC4      BLEOptions
	Echelon  BLEOptions
	Keiser   BLEOptions
	Peloton  PelotonOptions
	Bot      BotOptions
}

// Detect picks the bike to use: Peloton when its serial device exists,
// otherwise the first Flywheel, IC4 or Keiser bike seen in a scan.
// exists defaults to a stat of the path.
func Detect(ctx context.Context, scanner Scanner, pelotonPath string, exists func(path string) bool) (Kind, error) {
	if exists == nil {
		exists = func(path string) bool {
			_, err := os.Stat(path)
			return err == nil
		}
	}
	if pelotonPath != "" && exists(pelotonPath) {
		return KindPeloton, nil
	}
	if scanner == nil {
		return "", fmt.Errorf("autodetect: no bluetooth adapter and %s not found", pelotonPath)
	}
	adv, err := scanner.Scan(ctx, bt.NamesFilter(FlywheelLocalName, IC4LocalName, KeiserLocalName))
	if err != nil {
		return "", fmt.Errorf("autodetect: %w", err)
	}
	switch adv.LocalName {
	case FlywheelLocalName:
		return KindFlywheel, nil
	case IC4LocalName:
		return KindIC4, nil
	case KeiserLocalName:
		return KindKeiser, nil
	default:
		return "", fmt.Errorf("autodetect: unexpected bike %s", adv)
	}
}

// NewClient creates the client for kind. Autodetection must have been
// resolved by the caller.
func NewClient(kind Kind, deps Deps, opts Options) (Client, error) {
	switch kind {
	case KindFlywheel:
		return NewFlywheel(deps, opts.Flywheel), nil
	case KindIC4:
		return NewIC4(deps, opts.IC4), nil
	case KindEchelon:
		return NewEchelon(deps, opts.Echelon), nil
	case KindKeiser:
		return NewKeiser(deps, opts.Keiser), nil
	case KindPeloton:
		return NewPeloton(deps, opts.Peloton), nil
	case KindBot:
		return NewBot(deps, opts.Bot), nil
	default:
		return nil, fmt.Errorf("no client for bike type %q", kind)
	}
}
