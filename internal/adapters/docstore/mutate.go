package docstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/sapling/core/internal/ports"
)

// normalize converts v into its canonical JSON value form so values written
// through different Go types compare equal.
func normalize(v interface{}) (interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func normalizeFields(fields map[string]interface{}) (map[string]interface{}, error) {
	if fields == nil {
		return map[string]interface{}{}, nil
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("marshal fields: %w", err)
	}
	out := make(map[string]interface{})
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("unmarshal fields: %w", err)
	}
	return out, nil
}

func cloneFields(fields map[string]interface{}) map[string]interface{} {
	out, err := normalizeFields(fields)
	if err != nil {
		// Fields are always stored in normalized form, so this cannot fail.
		panic(err)
	}
	return out
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case nil:
		return 0, true
	case float64:
		return int64(n), true
	case int:
		return int64(n), true
	case int64:
		return n, true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}

func toArray(v interface{}) ([]interface{}, bool) {
	switch a := v.(type) {
	case nil:
		return nil, true
	case []interface{}:
		return a, true
	default:
		return nil, false
	}
}

func indexOf(arr []interface{}, v interface{}) int {
	for i, e := range arr {
		if reflect.DeepEqual(e, v) {
			return i
		}
	}
	return -1
}

// checkConditions evaluates preconditions against the current fields.
func checkConditions(fields map[string]interface{}, conds []ports.Condition) error {
	for _, c := range conds {
		current := fields[c.Field]
		switch c.Kind {
		case ports.CondContains:
			arr, ok := toArray(current)
			if !ok {
				return fmt.Errorf("%w: %s is not an array", ports.ErrPreconditionFailed, c.Field)
			}
			want, err := normalize(c.Value)
			if err != nil {
				return err
			}
			if indexOf(arr, want) < 0 {
				return fmt.Errorf("%w: %s does not contain %v", ports.ErrPreconditionFailed, c.Field, c.Value)
			}
		case ports.CondAtLeast:
			n, ok := toInt64(current)
			if !ok {
				return fmt.Errorf("%w: %s is not a number", ports.ErrPreconditionFailed, c.Field)
			}
			if n < c.Min {
				return fmt.Errorf("%w: %s is %d, below %d", ports.ErrPreconditionFailed, c.Field, n, c.Min)
			}
		case ports.CondEmpty:
			arr, ok := toArray(current)
			if !ok || len(arr) > 0 {
				return fmt.Errorf("%w: %s is not empty", ports.ErrPreconditionFailed, c.Field)
			}
		case ports.CondEquals:
			want, err := normalize(c.Value)
			if err != nil {
				return err
			}
			if !reflect.DeepEqual(current, want) {
				return fmt.Errorf("%w: %s is %v", ports.ErrPreconditionFailed, c.Field, current)
			}
		default:
			return fmt.Errorf("unknown condition %q", c.Kind)
		}
	}
	return nil
}

// applyOps returns a new field set with the ops applied in order. The input
// is left untouched.
func applyOps(fields map[string]interface{}, ops []ports.FieldOp) (map[string]interface{}, error) {
	out := cloneFields(fields)
	for _, op := range ops {
		switch op.Kind {
		case ports.OpSet:
			v, err := normalize(op.Value)
			if err != nil {
				return nil, fmt.Errorf("set %s: %w", op.Field, err)
			}
			out[op.Field] = v
		case ports.OpIncrement:
			n, ok := toInt64(out[op.Field])
			if !ok {
				return nil, fmt.Errorf("increment %s: field is not a number", op.Field)
			}
			out[op.Field] = float64(n + op.Delta)
		case ports.OpArrayUnion:
			arr, ok := toArray(out[op.Field])
			if !ok {
				return nil, fmt.Errorf("array union %s: field is not an array", op.Field)
			}
			next := append([]interface{}{}, arr...)
			for _, raw := range op.Values {
				v, err := normalize(raw)
				if err != nil {
					return nil, fmt.Errorf("array union %s: %w", op.Field, err)
				}
				if indexOf(next, v) < 0 {
					next = append(next, v)
				}
			}
			out[op.Field] = next
		case ports.OpArrayRemove:
			arr, ok := toArray(out[op.Field])
			if !ok {
				return nil, fmt.Errorf("array remove %s: field is not an array", op.Field)
			}
			next := make([]interface{}, 0, len(arr))
			for _, e := range arr {
				keep := true
				for _, raw := range op.Values {
					v, err := normalize(raw)
					if err != nil {
						return nil, fmt.Errorf("array remove %s: %w", op.Field, err)
					}
					if reflect.DeepEqual(e, v) {
						keep = false
						break
					}
				}
				if keep {
					next = append(next, e)
				}
			}
			out[op.Field] = next
		default:
			return nil, fmt.Errorf("unknown field op %q", op.Kind)
		}
	}
	return out, nil
}

// matches reports whether fields satisfy every filter.
func matches(fields map[string]interface{}, filters []ports.Filter) bool {
	for _, f := range filters {
		want, err := normalize(f.Value)
		if err != nil {
			return false
		}
		switch f.Op {
		case ports.FilterEqual:
			if !reflect.DeepEqual(fields[f.Field], want) {
				return false
			}
		case ports.FilterArrayContains:
			arr, ok := toArray(fields[f.Field])
			if !ok || indexOf(arr, want) < 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func validateRef(ref ports.DocRef) error {
	if ref.Account == "" || ref.Collection == "" || ref.ID == "" {
		return fmt.Errorf("incomplete document reference %q", ref.String())
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, ports.ErrDocumentNotFound)
}
