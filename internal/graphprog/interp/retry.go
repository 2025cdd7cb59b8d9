package interp

import "context"

// Outcome is the result of a bounded attempt loop. OK is false when every
// attempt was rejected; Rejected then holds each rejected value.
type Outcome[T any] struct {
	Value    T
	Attempts int
	OK       bool
	Rejected []T
}

// Bounded calls attempt until it accepts a value or max attempts have been
// made. An error from attempt, or a cancelled ctx, stops the loop early.
func Bounded[T any](ctx context.Context, max int, attempt func(ctx context.Context, n int) (T, bool, error)) (Outcome[T], error) {
	var out Outcome[T]
	if max < 1 {
		max = 1
	}
	for n := 1; n <= max; n++ {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		v, ok, err := attempt(ctx, n)
		out.Attempts = n
		if err != nil {
			return out, err
		}
		if ok {
			out.Value = v
			out.OK = true
			return out, nil
		}
		out.Rejected = append(out.Rejected, v)
	}
	return out, nil
}
