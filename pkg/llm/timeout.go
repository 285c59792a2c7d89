package llm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type timeoutClient struct {
	inner   Client
	timeout time.Duration
}

// WithTimeout bounds every call of inner by d. A zero or negative d leaves inner untouched.
func WithTimeout(inner Client, d time.Duration) Client {
	if d <= 0 {
		return inner
	}
	return &timeoutClient{inner: inner, timeout: d}
}

func (c *timeoutClient) CompleteJSON(ctx context.Context, req Request) ([]byte, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	type answer struct {
		data []byte
		err  error
	}
	done := make(chan answer, 1)
	go func() {
		data, err := c.inner.CompleteJSON(callCtx, req)
		done <- answer{data: data, err: err}
	}()

	select {
	case a := <-done:
		if a.err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w after %s: %v", ErrTimeout, c.timeout, a.err)
		}
		return a.data, a.err
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w after %s", ErrTimeout, c.timeout)
	}
}

func (c *timeoutClient) Close() error {
	return c.inner.Close()
}
