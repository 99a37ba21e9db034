// Package combine merges per-chunk results of a logical call that was
// split into multiple physical requests.
package combine

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/mlfoundry/foundry-go/future"
)

// Rule selects how a field's per-chunk values reduce into one value.
type Rule string

const (
	Sum          Rule = "sum"
	Min          Rule = "min"
	Max          Rule = "max"
	WeightedMean Rule = "weighted_mean"
	First        Rule = "first"
	Identity     Rule = "identity"
)

// Rules maps output fields to reduction rules, either by exact name or
// by name suffix. Unmatched numeric fields reduce by weighted mean;
// unmatched non-numeric scalars take the first chunk's value; lists
// always concatenate in chunk order.
type Rules struct {
	Fields   map[string]Rule
	Suffixes map[string]Rule
}

// For resolves the rule for a field name, exact match first.
func (r Rules) For(field string) (Rule, bool) {
	if rule, ok := r.Fields[field]; ok {
		return rule, true
	}
	for suffix, rule := range r.Suffixes {
		if strings.HasSuffix(field, suffix) {
			return rule, true
		}
	}

	return "", false
}

// Combine returns a Future that resolves once all chunk futures have,
// carrying the merged result. Children are awaited concurrently; the
// first child failure fails the combined Future with that error while
// the remaining siblings poll on to completion.
func Combine(ctx context.Context, futures []*future.Future, weights []float64, rules Rules) *future.Future {
	out := future.New("combined:" + futures[0].RequestID())

	go func() {
		results := make([]map[string]any, len(futures))

		g, gctx := errgroup.WithContext(ctx)
		for i, f := range futures {
			g.Go(func() error {
				res, err := f.Wait(gctx)
				if err != nil {
					return err
				}
				results[i] = res

				return nil
			})
		}
		if err := g.Wait(); err != nil {
			out.Fail(err)

			return
		}

		out.Complete(Merge(results, weights, rules))
	}()

	return out
}

// Merge reduces chunk results field by field.
func Merge(results []map[string]any, weights []float64, rules Rules) map[string]any {
	merged := make(map[string]any)

	for _, field := range fieldOrder(results) {
		values, present := gather(results, field)
		if len(values) == 0 {
			continue
		}

		if _, ok := values[0].([]any); ok {
			merged[field] = concat(values)

			continue
		}

		rule, ok := rules.For(field)
		if !ok {
			if _, numeric := asFloat(values[0]); numeric {
				rule = WeightedMean
			} else {
				rule = First
			}
		}

		merged[field] = reduce(rule, values, present, weights)
	}

	return merged
}

func reduce(rule Rule, values []any, present []int, weights []float64) any {
	switch rule {
	case First, Identity:
		return values[0]
	case Sum:
		var total float64
		for _, v := range values {
			if f, ok := asFloat(v); ok {
				total += f
			}
		}

		return total
	case Min:
		return extremum(values, func(v, best float64) bool { return v < best })
	case Max:
		return extremum(values, func(v, best float64) bool { return v > best })
	default:
		return weightedMean(values, present, weights)
	}
}

// weightedMean computes Σ(value*weight)/Σ(weight) over the chunks the
// field appeared in. A zero total weight reduces to 0.0.
func weightedMean(values []any, present []int, weights []float64) float64 {
	var sum, totalWeight float64
	for i, v := range values {
		f, ok := asFloat(v)
		if !ok {
			continue
		}
		w := 1.0
		if present[i] < len(weights) {
			w = weights[present[i]]
		}
		sum += f * w
		totalWeight += w
	}
	if totalWeight == 0 {
		return 0.0
	}

	return sum / totalWeight
}

func extremum(values []any, better func(v, best float64) bool) any {
	var best float64
	found := false
	for _, v := range values {
		f, ok := asFloat(v)
		if !ok {
			continue
		}
		if !found || better(f, best) {
			best = f
			found = true
		}
	}
	if !found {
		return values[0]
	}

	return best
}

func concat(values []any) []any {
	var out []any
	for _, v := range values {
		if list, ok := v.([]any); ok {
			out = append(out, list...)
		}
	}

	return out
}

// gather collects the field's value from each chunk that has it,
// recording the chunk index so weights stay aligned.
func gather(results []map[string]any, field string) ([]any, []int) {
	values := make([]any, 0, len(results))
	present := make([]int, 0, len(results))
	for i, res := range results {
		if v, ok := res[field]; ok {
			values = append(values, v)
			present = append(present, i)
		}
	}

	return values, present
}

func fieldOrder(results []map[string]any) []string {
	seen := make(map[string]bool)
	var order []string
	for _, res := range results {
		for field := range res {
			if !seen[field] {
				seen[field] = true
				order = append(order, field)
			}
		}
	}

	return order
}

// asFloat widens the numeric types a decoded JSON result can carry.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
