package caiman

import (
	"sync"

	"go.uber.org/zap"
)

// Option configures Load and OpenPlane
type Option func(*options)

type options struct {
	log *zap.Logger
}

func newOptions(opts []Option) *options {
	o := &options{log: zap.NewNop()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithLogger sets the logger used for discovery and extraction messages
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// lazy computes a value once and hands out the same value and error afterwards
type lazy[T any] struct {
	once sync.Once
	val  T
	err  error
}

func (l *lazy[T]) get(fn func() (T, error)) (T, error) {
	l.once.Do(func() {
		l.val, l.err = fn()
	})
	return l.val, l.err
}
