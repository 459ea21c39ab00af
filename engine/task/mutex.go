package task

import "github.com/compozy/tasktree/engine/core"

// Mutex is a cooperative named lock held by at most one task at a time.
type Mutex struct {
	name   string
	holder core.ID
}

func (m *Mutex) Name() string { return m.name }

func (m *Mutex) Locked() bool { return !m.holder.IsZero() }

func (m *Mutex) Holder() core.ID { return m.holder }

// TestAndSet takes the lock for holder. It returns false when another task holds
// it and true when holder owns it afterwards.
func (m *Mutex) TestAndSet(holder core.ID) bool {
	if m.holder.IsZero() || m.holder == holder {
		m.holder = holder
		return true
	}
	return false
}

// Release frees the lock whoever holds it.
func (m *Mutex) Release() {
	m.holder = ""
}
