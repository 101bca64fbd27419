package queue

import "testing"

func TestBackoffSeconds_WithinCeiling(t *testing.T) {
	tests := []struct {
		receiveCount int
		ceiling      int
	}{
		{0, 5},
		{1, 10},
		{2, 20},
		{3, 40},
		{10, 5120},
		{13, 40960},
		{14, MaxVisibilityTimeout},
		{30, MaxVisibilityTimeout},
		{1000, MaxVisibilityTimeout},
		{-1, 5},
	}

	for _, tt := range tests {
		for i := 0; i < 200; i++ {
			got := BackoffSeconds(tt.receiveCount)
			if got < 0 || got >= tt.ceiling {
				t.Fatalf("BackoffSeconds(%d) = %d, want in [0, %d)", tt.receiveCount, got, tt.ceiling)
			}
		}
	}
}

func TestBackoffSeconds_Jitters(t *testing.T) {
	seen := make(map[int]struct{})
	for i := 0; i < 200; i++ {
		seen[BackoffSeconds(10)] = struct{}{}
	}
	if len(seen) < 2 {
		t.Error("expected jittered backoff to vary across samples")
	}
}
