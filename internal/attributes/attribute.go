package attributes

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/KevinKickass/OdinBridge/internal/types"
)

var (
	ErrReadOnly     = errors.New("attribute is read-only")
	ErrInvalidValue = errors.New("invalid attribute value")
	ErrNoHandler    = errors.New("attribute has no handler")
)

// Listener is called after an attribute's cached value changed.
type Listener func(attr *Attribute, value any)

// Info is the description of an attribute handed to hosting surfaces.
type Info struct {
	Name          string              `json:"name" yaml:"name"`
	ValueType     types.ValueType     `json:"value_type" yaml:"value_type"`
	Access        types.AccessType    `json:"access" yaml:"access"`
	Group         string              `json:"group,omitempty" yaml:"group,omitempty"`
	RemotePath    string              `json:"remote_path" yaml:"remote_path"`
	AllowedValues types.AllowedValues `json:"allowed_values,omitempty" yaml:"allowed_values,omitempty"`
}

// Attribute is a typed local mirror of one remote parameter.
type Attribute struct {
	info    Info
	handler Handler

	mu        sync.RWMutex
	value     any
	updatedAt time.Time
	listeners []Listener
}

func New(info Info, handler Handler, initial any) *Attribute {
	a := &Attribute{
		info:    info,
		handler: handler,
		value:   info.ValueType.Zero(),
	}
	if v, err := info.ValueType.Coerce(initial); err == nil {
		a.value = v
	}
	return a
}

func (a *Attribute) Name() string {
	return a.info.Name
}

func (a *Attribute) Info() Info {
	return a.info
}

func (a *Attribute) Writable() bool {
	return a.info.Access == types.AccessTypeReadWrite
}

// Get returns the cached value and the time it was last set.
func (a *Attribute) Get() (any, time.Time) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.value, a.updatedAt
}

// Value returns the cached value.
func (a *Attribute) Value() any {
	v, _ := a.Get()
	return v
}

// Set stores a new cached value. Listeners only hear about changes.
func (a *Attribute) Set(value any) error {
	v, err := a.info.ValueType.Coerce(value)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidValue, a.info.Name, err)
	}

	a.mu.Lock()
	changed := a.value != v
	a.value = v
	a.updatedAt = time.Now()
	listeners := a.listeners
	a.mu.Unlock()

	if changed {
		for _, l := range listeners {
			l(a, v)
		}
	}
	return nil
}

// OnUpdate registers a listener for value changes.
func (a *Attribute) OnUpdate(l Listener) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listeners = append(a.listeners, l)
}

// Update refreshes the cached value from the remote side.
func (a *Attribute) Update(ctx context.Context) error {
	if a.handler == nil {
		return ErrNoHandler
	}
	return a.handler.Update(ctx, a)
}

// Put writes value through to the remote side.
func (a *Attribute) Put(ctx context.Context, value any) error {
	if !a.Writable() {
		return fmt.Errorf("%w: %s", ErrReadOnly, a.info.Name)
	}
	if a.handler == nil {
		return ErrNoHandler
	}
	v, err := a.info.ValueType.Coerce(value)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidValue, a.info.Name, err)
	}
	return a.handler.Put(ctx, a, v)
}

// TaskName implements Task.
func (a *Attribute) TaskName() string {
	return a.info.RemotePath
}

// Period implements Task.
func (a *Attribute) Period() time.Duration {
	if a.handler == nil {
		return 0
	}
	return a.handler.UpdatePeriod()
}

// Run implements Task.
func (a *Attribute) Run(ctx context.Context) error {
	return a.Update(ctx)
}
