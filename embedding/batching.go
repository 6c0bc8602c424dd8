package embedding

import "context"

// EmbedBatched splits texts into sub-batches no larger than
// maxBatchSize, calls embedBatch on each sub-batch, and reassembles
// the results preserving input order (spec.md §4.4's batching
// policy). A failure in any sub-batch aborts the whole call.
func EmbedBatched(ctx context.Context, texts []string, maxBatchSize int, embedBatch func(context.Context, []string) ([][]float32, error)) ([][]float32, error) {
	if maxBatchSize <= 0 || len(texts) <= maxBatchSize {
		return embedBatch(ctx, texts)
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		sub, err := embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, sub...)
	}
	return out, nil
}
