package service

import (
	"sort"
	"sync"
)

// boxLocker serialises position-affecting writes per box.
type boxLocker struct {
	mu    sync.Mutex
	boxes map[string]*boxLock
}

type boxLock struct {
	sync.Mutex
	refs int
}

func newBoxLocker() *boxLocker {
	return &boxLocker{boxes: make(map[string]*boxLock)}
}

// lock acquires the locks of all given boxes in id order and returns the
// release func.
func (l *boxLocker) lock(ids ...string) func() {
	ids = uniqueSorted(ids)

	held := make([]*boxLock, 0, len(ids))
	for _, id := range ids {
		l.mu.Lock()
		bl, ok := l.boxes[id]
		if !ok {
			bl = &boxLock{}
			l.boxes[id] = bl
		}
		bl.refs++
		l.mu.Unlock()

		bl.Lock()
		held = append(held, bl)
	}

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()

			l.mu.Lock()
			held[i].refs--
			if held[i].refs == 0 {
				delete(l.boxes, ids[i])
			}
			l.mu.Unlock()
		}
	}
}

func uniqueSorted(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
