package attributes

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/KevinKickass/OdinBridge/internal/odin"
	"go.uber.org/zap"
)

const DefaultUpdatePeriod = 200 * time.Millisecond

var ErrWriteRejected = errors.New("adapter rejected write")

// RejectedError reports a write that the adapter refused or that never
// reached it. It matches ErrWriteRejected with errors.Is.
type RejectedError struct {
	Path   string
	Reason string
	Err    error
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s: write to %s: %s", ErrWriteRejected, e.Path, e.Reason)
}

func (e *RejectedError) Is(target error) bool {
	return target == ErrWriteRejected
}

func (e *RejectedError) Unwrap() error {
	return e.Err
}

// Handler synchronises one attribute with its remote counterpart.
type Handler interface {
	UpdatePeriod() time.Duration
	Update(ctx context.Context, attr *Attribute) error
	Put(ctx context.Context, attr *Attribute, value any) error
}

// Client is the part of the odin connection handlers need.
type Client interface {
	Get(ctx context.Context, uri string) (map[string]any, error)
	Put(ctx context.Context, uri string, value any) (map[string]any, error)
}

// RemoteHandler polls a remote path and writes through to it.
type RemoteHandler struct {
	Client       Client
	Path         string
	Period       time.Duration
	VerifyWrites bool
	Observer     Observer
	Logger       *zap.Logger
}

func (h *RemoteHandler) UpdatePeriod() time.Duration {
	if h.Period <= 0 {
		return DefaultUpdatePeriod
	}
	return h.Period
}

func (h *RemoteHandler) Update(ctx context.Context, attr *Attribute) error {
	resp, err := h.Client.Get(ctx, h.Path)
	if err != nil {
		return fmt.Errorf("update %s: %w", h.Path, err)
	}

	value, err := odin.ValueOf(resp, path.Base(h.Path))
	if err != nil {
		return fmt.Errorf("update %s: %w", h.Path, err)
	}

	return attr.Set(value)
}

func (h *RemoteHandler) Put(ctx context.Context, attr *Attribute, value any) error {
	err := h.put(ctx, attr, value)
	if h.Observer != nil {
		h.Observer.ObservePut(attr.Name(), err)
	}
	return err
}

func (h *RemoteHandler) put(ctx context.Context, attr *Attribute, value any) error {
	resp, err := h.Client.Put(ctx, h.Path, value)

	if msg, ok := resp["error"]; ok {
		h.logger().Warn("Adapter rejected write",
			zap.String("path", h.Path),
			zap.Any("value", value),
			zap.Any("reason", msg))
		return &RejectedError{Path: h.Path, Reason: fmt.Sprint(msg), Err: err}
	}

	if err != nil {
		h.logger().Error("Write failed",
			zap.String("path", h.Path),
			zap.Any("value", value),
			zap.Error(err))
		return &RejectedError{Path: h.Path, Reason: err.Error(), Err: err}
	}

	if h.VerifyWrites {
		if err := h.Update(ctx, attr); err != nil {
			h.logger().Warn("Write accepted but read-back failed",
				zap.String("path", h.Path),
				zap.Error(err))
		}
		return nil
	}

	return attr.Set(value)
}

func (h *RemoteHandler) logger() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}

// CachedHandler serves a read-only attribute from a shared ParamCache.
type CachedHandler struct {
	Cache  *ParamCache
	Key    string
	Period time.Duration
}

func (h *CachedHandler) UpdatePeriod() time.Duration {
	if h.Period <= 0 {
		return DefaultUpdatePeriod
	}
	return h.Period
}

func (h *CachedHandler) Update(ctx context.Context, attr *Attribute) error {
	value, ok := h.Cache.Lookup(h.Key)
	if !ok {
		return fmt.Errorf("no cached value for %s", h.Key)
	}
	return attr.Set(value)
}

func (h *CachedHandler) Put(ctx context.Context, attr *Attribute, value any) error {
	return fmt.Errorf("%w: %s", ErrReadOnly, attr.Name())
}
