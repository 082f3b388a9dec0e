package hal

import "sync"

// SoftResetManager tracks reset lines in memory. Every peripheral not yet
// released is reported as held in reset, matching the state after a cold boot.
type SoftResetManager struct {
	mu       sync.Mutex
	released map[Peripheral]bool

	// QueryErr and ReleaseErr, when set, are returned by InReset and Release.
	QueryErr   error
	ReleaseErr error
}

func NewSoftResetManager() *SoftResetManager {
	return &SoftResetManager{released: make(map[Peripheral]bool)}
}

func (m *SoftResetManager) InReset(p Peripheral) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.QueryErr != nil {
		return false, m.QueryErr
	}
	return !m.released[p], nil
}

func (m *SoftResetManager) Release(p Peripheral) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ReleaseErr != nil {
		return m.ReleaseErr
	}
	m.released[p] = true
	return nil
}

// Assert puts p back into reset.
func (m *SoftResetManager) Assert(p Peripheral) {
	m.mu.Lock()
	delete(m.released, p)
	m.mu.Unlock()
}
