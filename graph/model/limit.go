package model

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Limited bounds the number of in-flight calls to a shared ChatModel. A call
// checks out a slot before reaching the provider and returns it afterwards,
// including on error and cancellation.
type Limited struct {
	next ChatModel
	sem  *semaphore.Weighted
}

// Limit wraps m so that at most n calls run concurrently. n < 1 is treated
// as 1.
func Limit(m ChatModel, n int) *Limited {
	if n < 1 {
		n = 1
	}
	return &Limited{next: m, sem: semaphore.NewWeighted(int64(n))}
}

// Chat implements ChatModel.
func (l *Limited) Chat(ctx context.Context, messages []Message, opts CallOptions) (ChatOut, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return ChatOut{}, Classify("pool", 0, err)
	}
	defer l.sem.Release(1)

	return l.next.Chat(ctx, messages, opts)
}
