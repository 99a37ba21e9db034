package combine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlfoundry/foundry-go/combine"
	"github.com/mlfoundry/foundry-go/future"
)

func resolved(id string, result map[string]any) *future.Future {
	f := future.New(id)
	f.Complete(result)

	return f
}

func TestMergeSum(t *testing.T) {
	t.Parallel()

	rules := combine.Rules{Suffixes: map[string]combine.Rule{":sum": combine.Sum}}
	merged := combine.Merge([]map[string]any{
		{"m:sum": 3.0},
		{"m:sum": 5.0},
	}, []float64{1, 1}, rules)

	assert.Equal(t, 8.0, merged["m:sum"])
}

func TestMergeWeightedMean(t *testing.T) {
	t.Parallel()

	merged := combine.Merge([]map[string]any{
		{"mean": 2.0},
		{"mean": 4.0},
	}, []float64{1, 3}, combine.Rules{})

	assert.Equal(t, 3.5, merged["mean"])
}

func TestMergeZeroWeightMean(t *testing.T) {
	t.Parallel()

	merged := combine.Merge([]map[string]any{
		{"mean": 2.0},
		{"mean": 4.0},
	}, []float64{0, 0}, combine.Rules{})

	assert.Equal(t, 0.0, merged["mean"])
}

func TestMergeMinMax(t *testing.T) {
	t.Parallel()

	rules := combine.Rules{
		Fields: map[string]combine.Rule{
			"lo": combine.Min,
			"hi": combine.Max,
		},
	}
	merged := combine.Merge([]map[string]any{
		{"lo": 3.0, "hi": 3.0},
		{"lo": 1.0, "hi": 7.0},
		{"lo": 2.0, "hi": 5.0},
	}, []float64{1, 1, 1}, rules)

	assert.Equal(t, 1.0, merged["lo"])
	assert.Equal(t, 7.0, merged["hi"])
}

func TestMergeFirstForNonNumeric(t *testing.T) {
	t.Parallel()

	merged := combine.Merge([]map[string]any{
		{"output_type": "logprobs"},
		{"output_type": "logprobs"},
	}, []float64{1, 1}, combine.Rules{})

	// Metadata comes from the first chunk.
	assert.Equal(t, "logprobs", merged["output_type"])
}

func TestMergeListsConcatenateInChunkOrder(t *testing.T) {
	t.Parallel()

	merged := combine.Merge([]map[string]any{
		{"outputs": []any{"a", "b"}},
		{"outputs": []any{"c"}},
		{"outputs": []any{"d", "e"}},
	}, []float64{2, 1, 2}, combine.Rules{})

	assert.Equal(t, []any{"a", "b", "c", "d", "e"}, merged["outputs"])
}

func TestMergeExplicitRuleBeatsSuffix(t *testing.T) {
	t.Parallel()

	rules := combine.Rules{
		Fields:   map[string]combine.Rule{"grad_norm:sum": combine.Max},
		Suffixes: map[string]combine.Rule{":sum": combine.Sum},
	}
	merged := combine.Merge([]map[string]any{
		{"grad_norm:sum": 2.0},
		{"grad_norm:sum": 5.0},
	}, []float64{1, 1}, rules)

	assert.Equal(t, 5.0, merged["grad_norm:sum"])
}

func TestCombineChunkedLoss(t *testing.T) {
	t.Parallel()

	// Three chunks of weights [2,2,1] with losses [1.0, 2.0, 4.0]
	// under a mean suffix rule combine to (1*2+2*2+4*1)/5 = 2.0.
	futures := []*future.Future{
		resolved("c0", map[string]any{"loss:mean": 1.0}),
		resolved("c1", map[string]any{"loss:mean": 2.0}),
		resolved("c2", map[string]any{"loss:mean": 4.0}),
	}
	rules := combine.Rules{Suffixes: map[string]combine.Rule{":mean": combine.WeightedMean}}

	f := combine.Combine(context.Background(), futures, []float64{2, 2, 1}, rules)
	res, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2.0, res["loss:mean"])
}

func TestCombineFirstFailureWins(t *testing.T) {
	t.Parallel()

	boom := errors.New("chunk exploded")

	ok := resolved("c0", map[string]any{"loss": 1.0})
	failed := future.New("c1")
	failed.Fail(boom)
	pending := future.New("c2")

	f := combine.Combine(context.Background(), []*future.Future{ok, failed, pending}, []float64{1, 1, 1}, combine.Rules{})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := f.Wait(ctx)
	require.ErrorIs(t, err, boom)
}

func TestCombineAwaitsAllChildren(t *testing.T) {
	t.Parallel()

	slow := future.New("c1")
	go func() {
		time.Sleep(50 * time.Millisecond)
		slow.Complete(map[string]any{"loss": 4.0})
	}()

	futures := []*future.Future{
		resolved("c0", map[string]any{"loss": 2.0}),
		slow,
	}

	f := combine.Combine(context.Background(), futures, []float64{1, 3}, combine.Rules{})
	res, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3.5, res["loss"])
}
