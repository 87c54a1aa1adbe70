package state

import "github.com/jxucoder/livecoder/model"

// AppendMessage appends msg to list, keeping at most limit entries. The first
// entry (the seed message) is never evicted; the oldest entries after it are
// dropped instead. With limit 1 the result is always just the seed.
//
// The input slice is never modified.
func AppendMessage(list []model.ChatMessage, msg model.ChatMessage, limit int) []model.ChatMessage {
	return appendSeeded(list, msg, limit)
}

// AppendExecution appends rec to list, keeping only the most recent limit
// entries. Unlike messages, no entry is protected from eviction.
func AppendExecution(list []model.ExecutionRecord, rec model.ExecutionRecord, limit int) []model.ExecutionRecord {
	return appendWindow(list, rec, limit)
}

func appendSeeded[T any](list []T, v T, limit int) []T {
	if limit < 1 {
		limit = 1
	}
	if len(list) == 0 {
		return []T{v}
	}
	if len(list)+1 <= limit {
		out := make([]T, 0, len(list)+1)
		out = append(out, list...)
		return append(out, v)
	}

	out := make([]T, 0, limit)
	out = append(out, list[0])
	if limit == 1 {
		return out
	}
	rest := append(append([]T(nil), list[1:]...), v)
	return append(out, rest[len(rest)-(limit-1):]...)
}

func appendWindow[T any](list []T, v T, limit int) []T {
	if limit < 1 {
		limit = 1
	}
	all := make([]T, 0, len(list)+1)
	all = append(all, list...)
	all = append(all, v)
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all
}
