package cache

// evictionPlan lists the entries that must be removed before an object of
// size bytes can be stored under key.
type evictionPlan struct {
	victims []*Entry
	freed   int64
}

func (p *evictionPlan) contains(key string) bool {
	for _, v := range p.victims {
		if v.Key == key {
			return true
		}
	}
	return false
}

// take selects candidates in order until shortfall bytes have been freed.
func (p *evictionPlan) take(candidates []*Entry, shortfall int64) {
	var freed int64
	for _, e := range candidates {
		if freed >= shortfall {
			return
		}
		if p.contains(e.Key) {
			continue
		}
		p.victims = append(p.victims, e)
		p.freed += e.SizeBytes
		freed += e.SizeBytes
	}
}

// planEviction computes the least recently used entries to evict so that
// storing size bytes for repositoryID under key keeps both ceilings.
//
// An existing entry under key is replaced rather than added, so its size is
// released before the shortfall is computed and it is never a victim. The
// repository ceiling is satisfied first using only that repository's
// entries; the global ceiling is then satisfied from all repositories.
// The index is not modified.
func planEviction(idx *index, repositoryID, key string, size, maxRepo, maxTotal int64) *evictionPlan {
	plan := &evictionPlan{}

	// Keys embed the repository, so a replaced entry always belongs to it.
	var replaced int64
	if old, ok := idx.get(key); ok {
		replaced = old.SizeBytes
	}

	repoUsed := idx.repoSize(repositoryID) - replaced
	if shortfall := repoUsed + size - maxRepo; shortfall > 0 {
		plan.take(idx.sorted(func(e *Entry) bool {
			return e.RepositoryID == repositoryID && e.Key != key
		}), shortfall)
	}

	totalUsed := idx.totalSizeBytes - replaced - plan.freed
	if shortfall := totalUsed + size - maxTotal; shortfall > 0 {
		plan.take(idx.sorted(func(e *Entry) bool {
			return e.Key != key
		}), shortfall)
	}

	return plan
}
