package dispatcher

import (
	"testing"
)

func TestConfig_WithDefaults(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   int
		want int
	}{
		{"zero", 0, 1000},
		{"negative", -5, 1000},
		{"custom", 50, 50},
	}

	for _, tt := range tests {
		if got := (Config{MaxBatchSize: tt.in}).withDefaults().MaxBatchSize; got != tt.want {
			t.Errorf("%s: MaxBatchSize = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("MAX_BATCH_SIZE", "25")

	if got := LoadConfigFromEnv().MaxBatchSize; got != 25 {
		t.Errorf("MaxBatchSize = %d, want 25", got)
	}
}
