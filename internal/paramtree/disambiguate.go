package paramtree

import (
	"fmt"

	"github.com/KevinKickass/OdinBridge/internal/types"
)

// NameConflictError is returned when two parameters still share a name
// after their names were widened by one qualifying segment.
type NameConflictError struct {
	Name   string
	First  string
	Second string
}

func (e *NameConflictError) Error() string {
	return fmt.Sprintf("parameters %s and %s both resolve to name %q", e.First, e.Second, e.Name)
}

// Disambiguate assigns every descriptor its short name. A key shared by
// two or more descriptors widens the name of all of them to
// "<qualifier>_<key>".
func Disambiguate(descriptors []types.ParameterDescriptor) ([]types.DisambiguatedParameter, error) {
	buckets := make(map[string]int, len(descriptors))
	for _, d := range descriptors {
		buckets[d.Key()]++
	}

	params := make([]types.DisambiguatedParameter, 0, len(descriptors))
	owners := make(map[string]string, len(descriptors))

	for _, d := range descriptors {
		param := types.DisambiguatedParameter{
			ParameterDescriptor: d,
			Name:                d.Key(),
			HasUniqueKey:        buckets[d.Key()] == 1,
		}
		if !param.HasUniqueKey && d.Qualifier() != "" {
			param.Name = d.Qualifier() + "_" + d.Key()
		}

		if owner, taken := owners[param.Name]; taken {
			return nil, &NameConflictError{Name: param.Name, First: owner, Second: d.Path()}
		}
		owners[param.Name] = d.Path()
		params = append(params, param)
	}

	return params, nil
}
