package dedup

import "sync"

// Index maps content hash to canonical path. Workers read it and claim
// hashes concurrently; only the run aggregator adds committed entries.
type Index struct {
	mu      sync.RWMutex
	paths   map[string]string
	claimed map[string]string
}

// NewIndex returns an index seeded with existing hash -> path pairs
func NewIndex(seed map[string]string) *Index {
	idx := &Index{
		paths:   make(map[string]string, len(seed)),
		claimed: make(map[string]string),
	}
	for h, p := range seed {
		idx.paths[h] = p
	}
	return idx
}

// Lookup returns the canonical path recorded for hash
func (i *Index) Lookup(hash string) (string, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	p, ok := i.paths[hash]
	return p, ok
}

// Add records hash -> canonical path and drops any in-flight claim
func (i *Index) Add(hash, canonicalPath string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.paths[hash] = canonicalPath
	delete(i.claimed, hash)
}

// Claim reserves hash for the caller identified by source. It returns false
// when the hash is already indexed or claimed by another source; the loser
// treats its file as a duplicate of the existing path (empty while the
// winner is still placing).
func (i *Index) Claim(hash, source string) (existing string, ok bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if p, found := i.paths[hash]; found {
		return p, false
	}
	if owner, found := i.claimed[hash]; found && owner != source {
		return "", false
	}
	i.claimed[hash] = source
	return "", true
}

// Release drops a claim whose placement failed so a later file with the
// same content can still be placed
func (i *Index) Release(hash string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.claimed, hash)
}

// Len returns the number of indexed hashes
func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.paths)
}
