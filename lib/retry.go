package lib

import (
	"context"
	"time"

	"github.com/avast/retry-go"
)

func Retry(ctx context.Context, fn func() error) error {
	return RetryAttempts(ctx, 6, fn)
}

func RetryAttempts(ctx context.Context, attempts int, fn func() error) error {
	return retry.Do(
		fn,
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.Attempts(uint(attempts)),
		retry.Delay(150*time.Millisecond),
		retry.MaxDelay(5*time.Second),
	)
}
