package engine

import (
	"context"
	"time"

	"github.com/inferd-ai/inferd/internal/gateway/apierror"
)

// joinTimeout bounds how long a finished request waits for its generation
// goroutine to exit after cancellation.
const joinTimeout = 5 * time.Second

// deltaBuffer is the channel capacity between the generation goroutine and
// the consumer writing the response.
const deltaBuffer = 16

type genResult struct {
	finish string
	tokens int
	err    error
}

// generation is a running generation goroutine. Deltas arrive on deltas
// until it closes; the final outcome arrives on result.
type generation struct {
	deltas chan string
	result chan genResult
}

// runFunc produces text deltas through emit. emit returns false when the
// consumer is gone and the run should abandon its work.
type runFunc func(ctx context.Context, emit func(string) bool) (finish string, tokens int, err error)

// startGeneration runs fn in its own goroutine and wires its output.
func startGeneration(ctx context.Context, fn runFunc) *generation {
	g := &generation{
		deltas: make(chan string, deltaBuffer),
		result: make(chan genResult, 1),
	}

	emit := func(text string) bool {
		if text == "" {
			return true
		}
		select {
		case g.deltas <- text:
			return true
		case <-ctx.Done():
			return false
		}
	}

	go func() {
		finish, tokens, err := fn(ctx, emit)
		close(g.deltas)
		g.result <- genResult{finish: finish, tokens: tokens, err: err}
	}()

	return g
}

// join waits up to timeout for the generation goroutine to finish. A
// goroutine that outlives the deadline is abandoned and reported as a
// timeout; its emits select on the request context and its result channel
// is buffered, so a worker that eventually returns does not leak.
func (g *generation) join(timeout time.Duration) (genResult, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-g.result:
		return res, nil
	case <-timer.C:
		return genResult{}, apierror.ErrGenerationTimeout
	}
}
