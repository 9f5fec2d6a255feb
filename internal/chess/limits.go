package chess

import (
	"fmt"
	"strings"

	"github.com/park285/cheese-repertoire/internal/chess/uci"
)

const defaultAnalysisDepth = 14

// DefaultLimits is a depth-bounded search, quick enough for per-move grading.
func DefaultLimits() uci.Limits {
	return uci.Limits{Depth: defaultAnalysisDepth}
}

func ValidateLimits(l uci.Limits) error {
	if l.Depth < 0 || l.MoveTimeMillis < 0 || l.NodeCap < 0 {
		return fmt.Errorf("search limits must be >= 0: %+v", l)
	}
	if l.Depth == 0 && l.MoveTimeMillis == 0 && l.NodeCap == 0 {
		return fmt.Errorf("search limits are empty")
	}
	return nil
}

func FormatGoCommand(l uci.Limits) (string, error) {
	if err := ValidateLimits(l); err != nil {
		return "", err
	}
	args, err := uci.BuildGoTokens(l)
	if err != nil {
		return "", err
	}
	return strings.Join(args, " "), nil
}
