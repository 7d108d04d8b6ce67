package matching

// Group is a master item and the candidates judged similar to it.
type Group[T any] struct {
	Master     T
	Candidates []T
}

// Members returns the master followed by its candidates.
func (g Group[T]) Members() []T {
	return append([]T{g.Master}, g.Candidates...)
}

// GroupBySimilarity partitions items into merge groups. Items are visited in
// input order; an unprocessed item becomes a master when at least one later
// unprocessed item scores strictly above threshold against it, and all of them
// are then marked processed. No item appears in two groups and singletons are
// not returned.
func GroupBySimilarity[T any](items []T, nameOf func(T) string, threshold float64) []Group[T] {
	processed := make([]bool, len(items))
	var groups []Group[T]

	for i := range items {
		if processed[i] {
			continue
		}
		name := nameOf(items[i])

		var candidates []int
		for j := i + 1; j < len(items); j++ {
			if processed[j] {
				continue
			}
			if Similarity(name, nameOf(items[j])) > threshold {
				candidates = append(candidates, j)
			}
		}
		if len(candidates) == 0 {
			continue
		}

		processed[i] = true
		group := Group[T]{Master: items[i], Candidates: make([]T, 0, len(candidates))}
		for _, j := range candidates {
			processed[j] = true
			group.Candidates = append(group.Candidates, items[j])
		}
		groups = append(groups, group)
	}

	return groups
}

// GroupByKey partitions items by keyOf and groups each partition independently,
// so items with different keys are never grouped together. Partitions are
// visited in order of first appearance.
func GroupByKey[T any, K comparable](items []T, keyOf func(T) K, nameOf func(T) string, threshold float64) []Group[T] {
	var order []K
	partitions := map[K][]T{}
	for _, item := range items {
		k := keyOf(item)
		if _, ok := partitions[k]; !ok {
			order = append(order, k)
		}
		partitions[k] = append(partitions[k], item)
	}

	var groups []Group[T]
	for _, k := range order {
		groups = append(groups, GroupBySimilarity(partitions[k], nameOf, threshold)...)
	}
	return groups
}
