package paramtree

import (
	"strconv"

	"github.com/KevinKickass/OdinBridge/internal/types"
	"go.uber.org/zap"
)

// Describer turns walked leaves into parameter descriptors, dropping
// leaves whose metadata is unusable.
type Describer struct {
	validator *Validator
	logger    *zap.Logger
}

func NewDescriber(logger *zap.Logger) (*Describer, error) {
	validator, err := NewValidator()
	if err != nil {
		return nil, err
	}
	return &Describer{validator: validator, logger: logger}, nil
}

// Describe builds descriptors for leaves found under an adapter root. Leaf
// paths are taken relative to that root.
func (d *Describer) Describe(leaves []Leaf) []types.ParameterDescriptor {
	descriptors := make([]types.ParameterDescriptor, 0, len(leaves))

	for _, leaf := range leaves {
		if len(leaf.Path) == 0 {
			continue
		}

		if err := d.validator.ValidateMetadata(leaf.Metadata); err != nil {
			d.logger.Warn("Dropping parameter",
				zap.String("path", joinPath(leaf.Path)),
				zap.Any("type", leaf.Metadata["type"]),
				zap.Error(err))
			continue
		}

		allowed, err := types.ParseAllowedValues(leaf.Metadata["allowed_values"])
		if err != nil {
			d.logger.Warn("Ignoring allowed_values",
				zap.String("path", joinPath(leaf.Path)),
				zap.Error(err))
		}

		descriptor := types.ParameterDescriptor{
			URI: leaf.Path,
			Metadata: types.Metadata{
				Type:          leaf.Metadata["type"].(string),
				Writeable:     leaf.Metadata["writeable"].(bool),
				Value:         leaf.Metadata["value"],
				AllowedValues: allowed,
			},
		}
		descriptor.Mode, descriptor.Subsystem, descriptor.Subsubsystem = classify(leaf.Path)
		descriptors = append(descriptors, descriptor)
	}

	return descriptors
}

// classify derives mode and subsystem grouping from the non-leaf segments.
// Numeric process indices never count as a subsystem.
func classify(path []string) (types.Mode, string, string) {
	var mode types.Mode
	var groups []string

	for _, segment := range path[:len(path)-1] {
		if mode == types.ModeNone && (segment == string(types.ModeStatus) || segment == string(types.ModeConfig)) {
			mode = types.Mode(segment)
			continue
		}
		if IsIndex(segment) {
			continue
		}
		if len(groups) < 2 {
			groups = append(groups, segment)
		}
	}

	switch len(groups) {
	case 0:
		return mode, "", ""
	case 1:
		return mode, groups[0], ""
	default:
		return mode, groups[0], groups[1]
	}
}

// IsIndex reports whether a tree key is a process index such as "0" or "12".
func IsIndex(segment string) bool {
	if segment == "" {
		return false
	}
	_, err := strconv.ParseUint(segment, 10, 32)
	return err == nil
}
