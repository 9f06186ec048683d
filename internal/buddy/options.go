package buddy

// Option is a configuration option for Allocator.
type Option func(*Allocator)

// WithRefillHook is called after every attempt to obtain a chunk.
func WithRefillHook(fn func(bytes uintptr, err error)) Option {
	return func(a *Allocator) {
		a.onRefill = fn
	}
}

// WithOversizeHook is called after every request delegated to the
// large-block allocator.
func WithOversizeHook(fn func(size uintptr, err error)) Option {
	return func(a *Allocator) {
		a.onOversize = fn
	}
}
