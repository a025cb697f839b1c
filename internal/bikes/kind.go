package bikes

import (
	"fmt"
	"strings"
)

// Kind identifies a bike protocol family.
type Kind string

const (
	KindAutodetect Kind = "autodetect"
	KindFlywheel   Kind = "flywheel"
	KindEchelon    Kind = "echelon"
	KindIC4        Kind = "ic4"
	KindKeiser     Kind = "keiser"
	KindPeloton    Kind = "peloton"
	KindBot        Kind = "bot"
)

// Kinds lists every selectable value, autodetect first.
var Kinds = []Kind{KindAutodetect, KindFlywheel, KindEchelon, KindIC4, KindKeiser, KindPeloton, KindBot}

// ParseKind validates s as a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Kinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown bike type %q", s)
}

func (k Kind) String() string {
	return string(k)
}
