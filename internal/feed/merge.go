package feed

// Merge returns the order-preserving union of existing and incoming keyed by Key.
// The first occurrence of a key wins; new keys are appended in arrival order.
// Neither input slice is modified.
func Merge[T Item](existing, incoming []T) []T {
	out := make([]T, 0, len(existing)+len(incoming))
	seen := make(map[string]struct{}, len(existing)+len(incoming))

	for _, list := range [][]T{existing, incoming} {
		for _, item := range list {
			key := item.Key()
			if key == "" {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, item)
		}
	}
	return out
}
