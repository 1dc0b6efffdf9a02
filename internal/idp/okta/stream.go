// internal/idp/okta/stream.go
package okta

import (
	"context"
	"encoding/json"
)

type pageFunc func(ctx context.Context, pageURL string) (body []byte, next string, err error)

// stream walks one paginated collection lazily: the next page is
// fetched only once the current one is drained. The first error is
// terminal; subsequent Next calls keep returning it rather than
// yielding a silently truncated sequence.
type stream[T any] struct {
	fetch pageFunc
	url   string
	buf   []T
	err   error
	done  bool
}

func newStream[T any](fetch pageFunc, firstURL string) *stream[T] {
	return &stream[T]{fetch: fetch, url: firstURL}
}

func (s *stream[T]) Next(ctx context.Context) (T, bool, error) {
	var zero T
	for {
		if s.err != nil {
			return zero, false, s.err
		}
		if len(s.buf) > 0 {
			v := s.buf[0]
			s.buf = s.buf[1:]
			return v, true, nil
		}
		if s.done {
			return zero, false, nil
		}
		body, next, err := s.fetch(ctx, s.url)
		if err != nil {
			s.err = err
			return zero, false, err
		}
		var page []T
		if err := json.Unmarshal(body, &page); err != nil {
			s.err = err
			return zero, false, err
		}
		s.buf = page
		s.url = next
		s.done = next == ""
	}
}

// mapped adapts a wire-typed stream to the provider-neutral record
// type.
type mapped[A, B any] struct {
	src *stream[A]
	fn  func(A) B
}

func (m mapped[A, B]) Next(ctx context.Context) (B, bool, error) {
	var zero B
	v, ok, err := m.src.Next(ctx)
	if !ok {
		return zero, false, err
	}
	return m.fn(v), true, nil
}
