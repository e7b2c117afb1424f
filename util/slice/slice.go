package slice

// Filter returns the elements of s for which keep returns true
func Filter[T any](s []T, keep func(T) bool) []T {
	res := s[:0:0]
	for _, v := range s {
		if keep(v) {
			res = append(res, v)
		}
	}
	return res
}

// Unique removes repeated values keeping the first occurrence order
func Unique[T comparable](s []T) []T {
	seen := make(map[T]struct{}, len(s))
	res := make([]T, 0, len(s))
	for _, v := range s {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		res = append(res, v)
	}
	return res
}
