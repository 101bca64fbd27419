package queue

import "math/rand"

// MaxVisibilityTimeout caps how long a message can be hidden between
// redeliveries: 12 hours, in seconds.
const MaxVisibilityTimeout = 43200

// DefaultBackoffBase is the base backoff multiplier in seconds.
const DefaultBackoffBase = 5

// BackoffSeconds returns a redelivery delay for a message on its Nth
// delivery: a uniform sample from [0, min(MaxVisibilityTimeout, 2^n * base)).
// Full jitter, per the AWS exponential backoff and jitter guidance; sampling
// the whole range avoids thundering-herd redelivery when many events back
// off together.
//
// Ceilings for increasing receive counts (base 5):
// 10, 20, 40, 80, 160, 320, 640, 1280, 2560, 5120, 10240, 20480, 40960, 43200
func BackoffSeconds(receiveCount int) int {
	return backoffSeconds(receiveCount, DefaultBackoffBase)
}

func backoffSeconds(receiveCount, base int) int {
	if receiveCount < 0 {
		receiveCount = 0
	}
	ceiling := MaxVisibilityTimeout
	// 2^receiveCount overflows long before the shift limit; past the cap the
	// ceiling is constant anyway.
	if receiveCount < 30 {
		if c := (1 << uint(receiveCount)) * base; c < ceiling {
			ceiling = c
		}
	}
	return rand.Intn(ceiling)
}
