package log

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestInit_Level(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)

	Init("prod", "warn")
	if zerolog.GlobalLevel() != zerolog.WarnLevel {
		t.Errorf("GlobalLevel() = %v, want warn", zerolog.GlobalLevel())
	}

	Init("dev", "nonsense")
	if zerolog.GlobalLevel() != zerolog.InfoLevel {
		t.Errorf("GlobalLevel() = %v, want info fallback", zerolog.GlobalLevel())
	}
}
