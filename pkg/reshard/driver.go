package reshard

import (
	"context"
	"time"

	"github.com/shardwave/shardwave/pkg/log"
	"github.com/shardwave/shardwave/pkg/model"
)

// RetryDelay and MaxRetryCount match spec.md §4.6's retry policy exactly:
// linear backoff, RetryDelay * attempt, up to three attempts.
const (
	RetryDelay   = time.Second
	MaxRetryCount = 3
)

// TransferClient is the point-migration side a resharding driver uses to
// stream a shard's points to the peer receiving the new shard. fn is
// called once per point whose hashed key maps to the target shard; an
// error from fn aborts the stream.
type TransferClient interface {
	StreamPoints(ctx context.Context, filter func(externalKey string) bool, fn func(version uint64, p model.PointStruct) error) error
}

// TransferServer is the receiving side: it applies one streamed point to
// the local (new) shard.
type TransferServer interface {
	ReceivePoint(ctx context.Context, version uint64, p model.PointStruct) error
}

// Hooks are the stage actions a Driver delegates to its caller, since
// hash-ring mutation and point migration are owned by pkg/collection, not
// this package.
type Hooks struct {
	Migrate         func(ctx context.Context) error
	CommitReadRing  func(ctx context.Context) error
	CommitWriteRing func(ctx context.Context) error
	PruneOldPlacement func(ctx context.Context) error
	// OnRetry, if set, is called before each retry delay with the attempt
	// number that just failed (1-indexed). Callers use it to observe
	// retried outcomes without this package depending on a metrics label.
	OnRetry func(attempt int)
}

// Drive advances state through its remaining stages in a single attempt,
// returning true once WriteHashRingCommitted and the old placement's
// pruning both complete. A failing hook's error is returned with false; if
// ctx is cancelled before a stage starts, Drive returns false and ctx.Err().
func Drive(ctx context.Context, state *State, hooks Hooks) (bool, error) {
	for {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		switch state.Stage {
		case MigratingPoints:
			if err := hooks.Migrate(ctx); err != nil {
				return false, err
			}
			state.Stage = ReadHashRingCommitted
		case ReadHashRingCommitted:
			if err := hooks.CommitReadRing(ctx); err != nil {
				return false, err
			}
			state.Stage = WriteHashRingCommitted
		case WriteHashRingCommitted:
			if err := hooks.CommitWriteRing(ctx); err != nil {
				return false, err
			}
			if hooks.PruneOldPlacement != nil {
				if err := hooks.PruneOldPlacement(ctx); err != nil {
					return false, err
				}
			}
			return true, nil
		}
	}
}

// RunTask runs Drive as a cancellable, retrying task (spec.md §4.6):
// failures retry up to MaxRetryCount times with linear backoff;
// cancellation or a false result ends the task without calling onFinish.
// Returns whether the task finished successfully.
func RunTask(ctx context.Context, state *State, hooks Hooks, onFinish, onError func()) bool {
	var result bool
	var driveErr error

	for attempt := 0; attempt < MaxRetryCount; attempt++ {
		if attempt > 0 {
			if hooks.OnRetry != nil {
				hooks.OnRetry(attempt)
			}
			select {
			case <-ctx.Done():
				return false
			case <-time.After(RetryDelay * time.Duration(attempt)):
				log.Logger.Warn().Str("reshard_key", state.Key.String()).Int("attempt", attempt).Msg("retrying resharding")
			}
		}

		result, driveErr = Drive(ctx, state, hooks)

		if ctx.Err() != nil {
			// Task itself was cancelled: no onFinish, no onError, no retry.
			return false
		}
		if driveErr == nil {
			break
		}
		log.Logger.Error().Str("reshard_key", state.Key.String()).Err(driveErr).Msg("resharding attempt failed")
	}

	switch {
	case driveErr != nil:
		if onError != nil {
			onError()
		}
		return false
	case result:
		if onFinish != nil {
			onFinish()
		}
		return true
	default:
		// Explicit false with no error: stop without running onFinish.
		return false
	}
}
