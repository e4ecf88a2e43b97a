package stampede

// Hooks are lightweight callbacks for high-signal cache events.
// Implementations MUST be cheap and non-blocking; the cache calls them on hot
// paths. Wrap with hooks/async if a sink may stall.
type Hooks interface {
	// A null marker was written after a loader reported "absent".
	NullStored(storageKey string)

	// A GetMutex caller found the rebuild lock taken and is waiting.
	LockContention(storageKey string)

	// A background refresh was handed to the worker pool.
	RefreshScheduled(storageKey string)

	// The refresh queue was full; the refresh was dropped and the rebuild
	// lock released. The entry stays stale until the next expired read.
	RefreshDropped(storageKey string)

	// A background refresh failed; the stale entry remains in place.
	RefreshError(storageKey string, err error)

	// A logical entry was deleted by the cache on read.
	// reason is "corrupt" or "value_decode".
	SelfHeal(storageKey, reason string)
}

// NopHooks is the default no-op.
type NopHooks struct{}

func (NopHooks) NullStored(string)          {}
func (NopHooks) LockContention(string)      {}
func (NopHooks) RefreshScheduled(string)    {}
func (NopHooks) RefreshDropped(string)      {}
func (NopHooks) RefreshError(string, error) {}
func (NopHooks) SelfHeal(string, string)    {}
