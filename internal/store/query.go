package store

import (
	"context"
	"fmt"
	"strings"
)

// Predicate filters fault rows. Only types in this package implement it.
type Predicate interface {
	predicateNode()
}

// Equals matches rows whose column equals Value.
type Equals struct {
	Field string
	Value any
}

// Between matches rows whose integer column lies in [Min, Max]. A negative
// Max leaves the range open above.
type Between struct {
	Field string
	Min   int64
	Max   int64
}

// And matches rows satisfying every predicate. An empty And matches all.
type And struct {
	Predicates []Predicate
}

func (Equals) predicateNode()  {}
func (Between) predicateNode() {}
func (And) predicateNode()     {}

// faultColumns lists the fault columns a predicate may reference.
var faultColumns = map[string]bool{
	"handle":    true,
	"handle_id": true,
	"frame":     true,
	"synced":    true,
	"func":      true,
	"fatal":     true,
}

// FaultFilter builds the predicate used by callers that filter on handle,
// frame range and fatality. Empty handle and nil fatal match everything.
func FaultFilter(handle string, from, to int64, fatal *bool) Predicate {
	var preds []Predicate
	if handle != "" {
		preds = append(preds, Equals{Field: "handle", Value: handle})
	}
	if from > 0 || to >= 0 {
		preds = append(preds, Between{Field: "frame", Min: from, Max: to})
	}
	if fatal != nil {
		preds = append(preds, Equals{Field: "fatal", Value: *fatal})
	}
	return And{Predicates: preds}
}

// compileFaultQuery renders the SELECT for p. Values are always bound as
// parameters and rows are always ordered by seq.
func compileFaultQuery(p Predicate) (string, []any, error) {
	var b strings.Builder
	b.WriteString(`SELECT seq, handle_id, handle, frame, synced, func, message, trace, fatal, capability FROM faults`)

	var params []any
	if p != nil {
		where, args, err := compilePredicate(p)
		if err != nil {
			return "", nil, err
		}
		if where != "" {
			b.WriteString(" WHERE ")
			b.WriteString(where)
			params = args
		}
	}
	b.WriteString(" ORDER BY seq ASC")
	return b.String(), params, nil
}

func compilePredicate(p Predicate) (string, []any, error) {
	switch pred := p.(type) {
	case Equals:
		if !faultColumns[pred.Field] {
			return "", nil, fmt.Errorf("unknown fault column %q", pred.Field)
		}
		v, err := toParam(pred.Value)
		if err != nil {
			return "", nil, fmt.Errorf("%s: %w", pred.Field, err)
		}
		return pred.Field + " = ?", []any{v}, nil
	case Between:
		if !faultColumns[pred.Field] {
			return "", nil, fmt.Errorf("unknown fault column %q", pred.Field)
		}
		if pred.Max < 0 {
			return pred.Field + " >= ?", []any{pred.Min}, nil
		}
		return pred.Field + " BETWEEN ? AND ?", []any{pred.Min, pred.Max}, nil
	case And:
		var (
			parts  []string
			params []any
		)
		for _, sub := range pred.Predicates {
			sql, args, err := compilePredicate(sub)
			if err != nil {
				return "", nil, err
			}
			if sql == "" {
				continue
			}
			parts = append(parts, sql)
			params = append(params, args...)
		}
		return strings.Join(parts, " AND "), params, nil
	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

// toParam converts a predicate value to a driver parameter. Booleans map
// to the 0/1 integers the schema stores.
func toParam(v any) (any, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case int:
		return int64(val), nil
	case int64:
		return val, nil
	case bool:
		if val {
			return int64(1), nil
		}
		return int64(0), nil
	default:
		return nil, fmt.Errorf("unsupported parameter type %T", v)
	}
}

// FindFaults returns the faults matching p in seq order. A nil p returns
// every fault.
func (s *Store) FindFaults(ctx context.Context, p Predicate) ([]Fault, error) {
	query, args, err := compileFaultQuery(p)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query faults: %w", err)
	}
	defer rows.Close()

	faults := []Fault{}
	for rows.Next() {
		f, err := scanFault(rows)
		if err != nil {
			return nil, err
		}
		faults = append(faults, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate faults: %w", err)
	}
	return faults, nil
}
