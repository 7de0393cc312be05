package progress

// CurrentEmitter wraps next so that events tagged with id are forwarded only
// while id is still the current task. Membership is re-checked for every
// event at delivery time; a cached was-valid flag would defeat the point,
// since the caller may have moved to a new current task while the fetch is
// still emitting.
func (c *Coordinator) CurrentEmitter(id TaskID, next Emitter) Emitter {
	return &filteredEmitter{
		next:  next,
		allow: func() bool { return c.IsCurrent(id) },
	}
}

// ActiveEmitter wraps next so that events tagged with id are forwarded only
// while id remains in the active set. Events emitted after CompleteTask or
// Finish are dropped silently.
func (c *Coordinator) ActiveEmitter(id TaskID, next Emitter) Emitter {
	return &filteredEmitter{
		next:  next,
		allow: func() bool { return c.IsActive(id) },
	}
}

type filteredEmitter struct {
	next  Emitter
	allow func() bool
}

func (f *filteredEmitter) Emit(evt Event) {
	if f.next == nil || !f.allow() {
		return
	}
	f.next.Emit(evt)
}
