package layershim

import "strings"

// FillArray implements the two-call enumeration idiom. With a nil out it
// stores the number of items in count. Otherwise it copies as many items as
// fit in min(*count, len(out)), stores the number copied, and returns
// Incomplete if that was fewer than len(items).
func FillArray[T any](items []T, count *uint32, out []T) Result {
	if out == nil {
		*count = uint32(len(items))
		return Success
	}
	n := min(int(*count), len(out), len(items))
	copy(out, items[:n])
	*count = uint32(n)
	if n < len(items) {
		return Incomplete
	}
	return Success
}

// EnumerateFunc is a two-call enumeration entry point.
type EnumerateFunc[T any] func(count *uint32, out []T) Result

// Enumerate calls fn until it has returned every item, retrying when the
// item count grows between the two calls.
func Enumerate[T any](fn EnumerateFunc[T]) ([]T, Result) {
	for {
		var count uint32
		if res := fn(&count, nil); res < 0 {
			return nil, res
		}
		if count == 0 {
			return nil, Success
		}
		out := make([]T, count)
		res := fn(&count, out)
		if res == Incomplete {
			continue
		}
		if res < 0 {
			return nil, res
		}
		return out[:count], res
	}
}

// AppendArray enumerates next and fills out with its items followed by the
// layer's own extra items.
func AppendArray[T any](next EnumerateFunc[T], extra []T, count *uint32, out []T) Result {
	items, res := Enumerate(next)
	if res < 0 {
		return res
	}
	all := make([]T, 0, len(items)+len(extra))
	all = append(all, items...)
	all = append(all, extra...)
	return FillArray(all, count, out)
}

// DelimitString splits s on sep, trims blanks around each part and drops
// empty parts.
func DelimitString(s string, sep rune) []string {
	var out []string
	for _, part := range strings.Split(s, string(sep)) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
