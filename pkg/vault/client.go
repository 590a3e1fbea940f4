package vault

import (
	"context"
	"errors"
	"time"

	"github.com/systmms/seccat/internal/logging"
	"github.com/systmms/seccat/internal/metrics"
	"github.com/systmms/seccat/internal/secure"
	"github.com/systmms/seccat/pkg/effect"
)

// Client reads and writes material for exactly one owner.
type Client struct {
	owner   string
	token   *secure.SealedToken
	backend Backend
	logger  *logging.Logger
	metrics *metrics.Recorder
}

// Owner returns the owner the client is bound to.
func (c *Client) Owner() string {
	return c.owner
}

// Read returns the material stored at path.
func (c *Client) Read(ctx context.Context, path string) (Fields, error) {
	return c.ReadEffect(path, metrics.ModeSync).Run(ctx)
}

// ReadAsync is the non-blocking form of Read.
func (c *Client) ReadAsync(ctx context.Context, path string) *effect.Future[Fields] {
	return c.ReadEffect(path, metrics.ModeAsync).Start(ctx)
}

// Write stores fields at path, replacing any previous material. The payload
// is not checked against a secret type here.
func (c *Client) Write(ctx context.Context, path string, fields Fields) error {
	_, err := c.WriteEffect(path, fields, metrics.ModeSync).Run(ctx)
	return err
}

// WriteAsync is the non-blocking form of Write. A write whose future is
// abandoned after the request was sent may still be applied.
func (c *Client) WriteAsync(ctx context.Context, path string, fields Fields) *effect.Future[struct{}] {
	return c.WriteEffect(path, fields, metrics.ModeAsync).Start(ctx)
}

// Delete removes the material at path.
func (c *Client) Delete(ctx context.Context, path string) error {
	_, err := c.DeleteEffect(path, metrics.ModeSync).Run(ctx)
	return err
}

// DeleteAsync is the non-blocking form of Delete.
func (c *Client) DeleteAsync(ctx context.Context, path string) *effect.Future[struct{}] {
	return c.DeleteEffect(path, metrics.ModeAsync).Start(ctx)
}

// ReadEffect returns the read operation for composition. mode only labels metrics.
func (c *Client) ReadEffect(path, mode string) effect.Effect[Fields] {
	return operation(c, "read", path, mode, func(ctx context.Context, token string) (Fields, error) {
		return c.backend.Read(ctx, token, path)
	})
}

// WriteEffect returns the write operation for composition.
func (c *Client) WriteEffect(path string, fields Fields, mode string) effect.Effect[struct{}] {
	payload := fields.Clone()
	return operation(c, "write", path, mode, func(ctx context.Context, token string) (struct{}, error) {
		return struct{}{}, c.backend.Write(ctx, token, path, payload)
	})
}

// DeleteEffect returns the delete operation for composition.
func (c *Client) DeleteEffect(path, mode string) effect.Effect[struct{}] {
	return operation(c, "delete", path, mode, func(ctx context.Context, token string) (struct{}, error) {
		return struct{}{}, c.backend.Delete(ctx, token, path)
	})
}

// Close destroys the sealed token. Later calls fail with ErrClosed.
func (c *Client) Close() {
	c.token.Destroy()
}

func operation[T any](c *Client, op, path, mode string, call func(ctx context.Context, token string) (T, error)) effect.Effect[T] {
	return func(ctx context.Context) (T, error) {
		var result T
		if err := ValidatePath(path); err != nil {
			c.metrics.VaultOperation(op, mode, Outcome(err), 0)
			return result, &OpError{Op: op, Path: path, Err: err}
		}

		start := time.Now()
		err := c.token.Use(func(token string) error {
			var callErr error
			result, callErr = call(ctx, token)
			return callErr
		})
		if errors.Is(err, secure.ErrDestroyed) {
			err = ErrClosed
		}
		err = classify(err)
		elapsed := time.Since(start)

		c.metrics.VaultOperation(op, mode, Outcome(err), elapsed.Seconds())
		if err != nil {
			c.logger.Debug("Vault %s %s for %s failed after %s: %v", op, path, c.owner, elapsed, err)
			var zero T
			return zero, &OpError{Op: op, Path: path, Err: err}
		}
		c.logger.Debug("Vault %s %s for %s took %s", op, path, c.owner, elapsed)
		return result, nil
	}
}
