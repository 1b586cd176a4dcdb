package controller

import (
	"errors"
	"fmt"
	"time"

	"github.com/KevinKickass/OdinBridge/internal/attributes"
	"github.com/KevinKickass/OdinBridge/internal/paramtree"
	"github.com/google/uuid"
	"go.uber.org/multierr"
)

// AdapterResult is the outcome of composing one adapter.
type AdapterResult struct {
	Adapter    string `json:"adapter" yaml:"adapter"`
	Nodes      int    `json:"nodes" yaml:"nodes"`
	Attributes int    `json:"attributes" yaml:"attributes"`
	Error      string `json:"error,omitempty" yaml:"error,omitempty"`

	err error
}

// Err is the failure that kept the adapter out of the tree, if any.
func (r AdapterResult) Err() error {
	return r.err
}

// DiscoveryReport records what one discovery run found and which
// adapters failed to load.
type DiscoveryReport struct {
	ID         uuid.UUID       `json:"id" yaml:"id"`
	StartedAt  time.Time       `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time       `json:"finished_at" yaml:"finished_at"`
	Skipped    []string        `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	Adapters   []AdapterResult `json:"adapters" yaml:"adapters"`
}

func newReport() *DiscoveryReport {
	return &DiscoveryReport{
		ID:        uuid.New(),
		StartedAt: time.Now(),
	}
}

func (r *DiscoveryReport) record(adapter string, node *Controller, err error) {
	result := AdapterResult{Adapter: adapter, err: err}
	if err != nil {
		result.Error = err.Error()
	} else if node != nil {
		result.Nodes = len(node.Nodes())
		result.Attributes = node.AttributeCount()
	}
	r.Adapters = append(r.Adapters, result)
}

// Failed lists adapters whose attributes could not be built.
func (r *DiscoveryReport) Failed() []string {
	var failed []string
	for _, result := range r.Adapters {
		if result.Err() != nil {
			failed = append(failed, result.Adapter)
		}
	}
	return failed
}

// Err combines every adapter failure.
func (r *DiscoveryReport) Err() error {
	var err error
	for _, result := range r.Adapters {
		if e := result.Err(); e != nil {
			err = multierr.Append(err, fmt.Errorf("adapter %s: %w", result.Adapter, e))
		}
	}
	return err
}

// Fatal combines the failures that must stop startup: two parameters
// ending up with one name.
func (r *DiscoveryReport) Fatal() error {
	var err error
	for _, e := range multierr.Errors(r.Err()) {
		if IsNamingConflict(e) {
			err = multierr.Append(err, e)
		}
	}
	return err
}

func IsNamingConflict(err error) bool {
	var conflict *paramtree.NameConflictError
	return errors.As(err, &conflict) || errors.Is(err, attributes.ErrDuplicateAttribute)
}
