package worker

import "sync"

// Managers caches one SheetManager per sync target for the life of the
// process.
type Managers struct {
	open func(target string) SheetManager

	mu       sync.Mutex
	byTarget map[string]SheetManager
}

func NewManagers(open func(target string) SheetManager) *Managers {
	return &Managers{
		open:     open,
		byTarget: make(map[string]SheetManager),
	}
}

func (m *Managers) Get(target string) SheetManager {
	m.mu.Lock()
	defer m.mu.Unlock()

	if manager, ok := m.byTarget[target]; ok {
		return manager
	}
	manager := m.open(target)
	m.byTarget[target] = manager
	return manager
}
