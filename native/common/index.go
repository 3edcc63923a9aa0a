package common

// IDList is the slice of the state manager used by append-only id indexes.
type IDList interface {
	ListLen(key []byte) (uint64, error)
	ListGet(key []byte, index uint64, out interface{}) (bool, error)
}

// PageIDs reads up to limit ids from the index rooted at key, starting at
// index start, and returns them with the index length. A zero limit reads to
// the end.
func PageIDs(store IDList, key []byte, start, limit uint64) ([]uint64, uint64, error) {
	n, err := store.ListLen(key)
	if err != nil {
		return nil, 0, err
	}
	if start >= n {
		return []uint64{}, n, nil
	}
	end := n
	if limit > 0 && limit < n-start {
		end = start + limit
	}
	out := make([]uint64, 0, end-start)
	for i := start; i < end; i++ {
		var id uint64
		ok, err := store.ListGet(key, i, &id)
		if err != nil {
			return nil, 0, err
		}
		if ok {
			out = append(out, id)
		}
	}
	return out, n, nil
}

// IDs reads a whole index.
func IDs(store IDList, key []byte) ([]uint64, error) {
	ids, _, err := PageIDs(store, key, 0, 0)
	return ids, err
}
