package attributes

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/KevinKickass/OdinBridge/internal/odin"
	"github.com/KevinKickass/OdinBridge/internal/types"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var ErrDuplicateAttribute = errors.New("duplicate attribute name")

// Registry maps unique names to attributes, keeping registration order.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]*Attribute
	order  []*Attribute
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Attribute)}
}

func (r *Registry) Register(attr *Attribute) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[attr.Name()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateAttribute, attr.Name())
	}
	r.byName[attr.Name()] = attr
	r.order = append(r.order, attr)
	return nil
}

func (r *Registry) Get(name string) (*Attribute, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	attr, ok := r.byName[name]
	return attr, ok
}

func (r *Registry) List() []*Attribute {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Attribute(nil), r.order...)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

type BindOptions struct {
	// APIPrefix is prepended to every parameter path, e.g. "api/0.1/fp/0".
	APIPrefix    string
	NamePrefix   string
	UpdatePeriod time.Duration
	VerifyWrites bool
	Observer     Observer
	Logger       *zap.Logger
}

// Bind builds one polled attribute per parameter. Parameters with an
// unsupported type are skipped with a warning.
func Bind(params []types.DisambiguatedParameter, client Client, opts BindOptions) []*Attribute {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	attrs := make([]*Attribute, 0, len(params))
	for _, p := range params {
		valueType, err := types.ParseValueType(p.Metadata.Type)
		if err != nil {
			logger.Warn("Skipping parameter",
				zap.String("path", p.Path()),
				zap.Error(err))
			continue
		}

		access := types.AccessTypeReadOnly
		if p.Metadata.Writeable {
			access = types.AccessTypeReadWrite
		}

		remotePath := odin.JoinPath(opts.APIPrefix, p.Path())
		info := Info{
			Name:          qualify(opts.NamePrefix, p.Name),
			ValueType:     valueType,
			Access:        access,
			Group:         GroupLabel(p.Subsystem, p.Subsubsystem),
			RemotePath:    remotePath,
			AllowedValues: p.Metadata.AllowedValues,
		}
		handler := &RemoteHandler{
			Client:       client,
			Path:         remotePath,
			Period:       opts.UpdatePeriod,
			VerifyWrites: opts.VerifyWrites,
			Observer:     opts.Observer,
			Logger:       logger,
		}
		attrs = append(attrs, New(info, handler, p.Metadata.Value))
	}

	return attrs
}

// BindCached builds read-only attributes served from cache. Cache keys
// are keyPrefix joined with the parameter path.
func BindCached(params []types.DisambiguatedParameter, cache *ParamCache, keyPrefix string, opts BindOptions) []*Attribute {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	attrs := make([]*Attribute, 0, len(params))
	for _, p := range params {
		valueType, err := types.ParseValueType(p.Metadata.Type)
		if err != nil {
			logger.Warn("Skipping parameter",
				zap.String("path", p.Path()),
				zap.Error(err))
			continue
		}

		key := odin.JoinPath(keyPrefix, p.Path())
		info := Info{
			Name:       qualify(opts.NamePrefix, p.Name),
			ValueType:  valueType,
			Access:     types.AccessTypeReadOnly,
			Group:      GroupLabel(p.Subsystem, p.Subsubsystem),
			RemotePath: odin.JoinPath(cache.path, key),
		}
		handler := &CachedHandler{Cache: cache, Key: key, Period: opts.UpdatePeriod}
		attrs = append(attrs, New(info, handler, p.Metadata.Value))
	}

	return attrs
}

// GroupLabel renders subsystem names as one PascalCase label, e.g.
// ("hdf", "file_writer") -> "HdfFileWriter". Empty when both are empty.
func GroupLabel(subsystem, subsubsystem string) string {
	caser := cases.Title(language.Und)
	var b strings.Builder
	for _, part := range []string{subsystem, subsubsystem} {
		for _, word := range strings.FieldsFunc(part, isSeparator) {
			b.WriteString(caser.String(word))
		}
	}
	return b.String()
}

func isSeparator(r rune) bool {
	return r == '_' || r == '-' || r == ' ' || r == '.'
}

func qualify(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "_" + name
}
