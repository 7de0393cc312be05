package progress

import "sync"

// Coordinator tracks which tasks are live for progress delivery. It supports
// two usage modes: a single "current" task for serial flows, and an "active"
// set for concurrent flows. A handle present in neither is stale and its
// events are dropped by the filtering emitters.
//
// All state lives behind one mutex; operations never block on anything but
// that lock, so callers may use the Coordinator freely from fetch goroutines.
type Coordinator struct {
	mu      sync.Mutex
	current TaskID
	active  map[TaskID]struct{}
}

// NewCoordinator returns an empty Coordinator.
func NewCoordinator() *Coordinator {
	return &Coordinator{active: make(map[TaskID]struct{})}
}

// StartTask mints a new handle and makes it the current task. Any previous
// current task becomes stale immediately.
func (c *Coordinator) StartTask() TaskID {
	id := newTaskID()
	c.mu.Lock()
	c.current = id
	c.mu.Unlock()
	return id
}

// StartConcurrentTasks mints n handles, adds each to the active set, and
// returns them in minting order. The current task is untouched.
func (c *Coordinator) StartConcurrentTasks(n int) []TaskID {
	if n <= 0 {
		return nil
	}
	ids := make([]TaskID, n)
	for i := range ids {
		ids[i] = newTaskID()
	}
	c.mu.Lock()
	for _, id := range ids {
		c.active[id] = struct{}{}
	}
	c.mu.Unlock()
	return ids
}

// CompleteTask removes the handle from the active set. Completing an unknown
// or already-completed handle is a no-op; a handle never becomes live again.
func (c *Coordinator) CompleteTask(id TaskID) {
	c.mu.Lock()
	delete(c.active, id)
	c.mu.Unlock()
}

// IsCurrent reports whether the handle is the live current task at the
// moment of the check.
func (c *Coordinator) IsCurrent(id TaskID) bool {
	if id.IsZero() {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current == id
}

// IsActive reports whether the handle is a member of the active set at the
// moment of the check.
func (c *Coordinator) IsActive(id TaskID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.active[id]
	return ok
}

// Finish clears the current task and empties the active set. All previously
// minted handles are stale afterwards.
func (c *Coordinator) Finish() {
	c.mu.Lock()
	c.current = TaskID{}
	c.active = make(map[TaskID]struct{})
	c.mu.Unlock()
}
