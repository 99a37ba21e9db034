package session

import (
	"github.com/mlfoundry/foundry-go/pkg/errors"
)

// chunk is one physical sub-request of a logical operation. weight is
// the item count, used for weighted reductions when results merge.
type chunk struct {
	payload map[string]any
	weight  int
}

// splitChunks cuts op.Items into chunks bounded by both session
// limits. Splitting is deterministic and order-preserving: chunk i
// holds items strictly before every item of chunk i+1, and chunks are
// transmitted in that order. An operation without items becomes a
// single chunk of weight one.
func splitChunks(op Operation, limits Limits) ([]chunk, error) {
	if len(op.Items) == 0 {
		if len(op.Payload) == 0 {
			return nil, errors.ErrEmptyOperation
		}

		return []chunk{{payload: op.Payload, weight: 1}}, nil
	}

	var chunks []chunk
	start := 0
	size := 0
	for i, item := range op.Items {
		itemSize := item.Size
		if itemSize < 0 {
			itemSize = 0
		}

		count := i - start
		overItems := limits.MaxItemsPerChunk > 0 && count >= limits.MaxItemsPerChunk
		overSize := limits.MaxChunkSize > 0 && count > 0 && size+itemSize > limits.MaxChunkSize
		if overItems || overSize {
			chunks = append(chunks, buildChunk(op, start, i))
			start = i
			size = 0
		}
		size += itemSize
	}
	chunks = append(chunks, buildChunk(op, start, len(op.Items)))

	return chunks, nil
}

func buildChunk(op Operation, start, end int) chunk {
	items := make([]map[string]any, 0, end-start)
	for _, item := range op.Items[start:end] {
		items = append(items, item.Payload)
	}

	payload := make(map[string]any, len(op.Payload)+2)
	for k, v := range op.Payload {
		payload[k] = v
	}
	payload["items"] = items
	payload["num_items"] = end - start

	return chunk{payload: payload, weight: end - start}
}
