//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"fmt"
	"sync"

	"github.com/hyperjump/newsrag/pkg/utils"
	ort "github.com/yalue/onnxruntime_go"
)

// onnxMaxBatch bounds the rows sent through one inference call.
const onnxMaxBatch = 32

// ONNXEmbedder runs a BERT-style sentence model (bge-small, MiniLM) through ONNX Runtime.
// Token states from last_hidden_state are mean-pooled over the attention mask and L2 normalised.
// Requires CGO and the onnxruntime shared library.
type ONNXEmbedder struct {
	session    *ort.DynamicAdvancedSession
	dimensions int
	maxTokens  int
	cache      *EmbeddingCache
	tokenizer  Tokenizer
	mu         sync.Mutex
}

// NewONNXEmbedder loads the model at modelPath. The runtime environment is initialised on first use.
func NewONNXEmbedder(modelPath string, dimensions, maxTokens, cacheSize int) (*ONNXEmbedder, error) {
	if modelPath == "" {
		return nil, fmt.Errorf("onnx model path is empty")
	}
	if err := validateShape(dimensions, maxTokens); err != nil {
		return nil, err
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("initialize onnx runtime: %w", err)
		}
	}

	session, err := ort.NewDynamicAdvancedSession(
		modelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("open onnx model %s: %w", modelPath, err)
	}
	return &ONNXEmbedder{
		session:    session,
		dimensions: dimensions,
		maxTokens:  maxTokens,
		cache:      NewEmbeddingCache(cacheSize),
		tokenizer:  &SimpleTokenizer{},
	}, nil
}

// Embed returns the embedding for one article text.
func (e *ONNXEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch embeds texts in chunks of onnxMaxBatch rows, serving repeats from the cache.
func (e *ONNXEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var pending []int
	for i, text := range texts {
		if v, ok := e.cache.Get(text); ok {
			out[i] = v
			continue
		}
		pending = append(pending, i)
	}

	for start := 0; start < len(pending); start += onnxMaxBatch {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		idx := pending[start:min(start+onnxMaxBatch, len(pending))]
		batch := make([]string, len(idx))
		for j, i := range idx {
			batch[j] = texts[i]
		}
		vecs, err := e.infer(batch)
		if err != nil {
			return nil, fmt.Errorf("embed batch at %d: %w", idx[0], err)
		}
		for j, i := range idx {
			out[i] = vecs[j]
			e.cache.Set(texts[i], vecs[j])
		}
	}
	return out, nil
}

func (e *ONNXEmbedder) infer(texts []string) ([][]float32, error) {
	rows, seq := len(texts), e.maxTokens
	ids := make([]int64, 0, rows*seq)
	mask := make([]int64, 0, rows*seq)
	types := make([]int64, 0, rows*seq)
	for _, text := range texts {
		a, b, c := e.tokenizer.Tokenize(text, seq)
		ids = append(ids, a...)
		mask = append(mask, b...)
		types = append(types, c...)
	}

	shape := ort.NewShape(int64(rows), int64(seq))
	idsT, err := ort.NewTensor(shape, ids)
	if err != nil {
		return nil, fmt.Errorf("input_ids tensor: %w", err)
	}
	defer idsT.Destroy()
	maskT, err := ort.NewTensor(shape, mask)
	if err != nil {
		return nil, fmt.Errorf("attention_mask tensor: %w", err)
	}
	defer maskT.Destroy()
	typesT, err := ort.NewTensor(shape, types)
	if err != nil {
		return nil, fmt.Errorf("token_type_ids tensor: %w", err)
	}
	defer typesT.Destroy()
	hidden, err := ort.NewEmptyTensor[float32](ort.NewShape(int64(rows), int64(seq), int64(e.dimensions)))
	if err != nil {
		return nil, fmt.Errorf("output tensor: %w", err)
	}
	defer hidden.Destroy()

	e.mu.Lock()
	if e.session == nil {
		e.mu.Unlock()
		return nil, fmt.Errorf("onnx embedder is closed")
	}
	err = e.session.Run([]ort.ArbitraryTensor{idsT, maskT, typesT}, []ort.ArbitraryTensor{hidden})
	e.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	return meanPool(hidden.GetData(), mask, rows, seq, e.dimensions), nil
}

// meanPool averages token states whose mask is set, then normalises each row.
func meanPool(states []float32, mask []int64, rows, seq, dims int) [][]float32 {
	out := make([][]float32, rows)
	for r := 0; r < rows; r++ {
		vec := make([]float32, dims)
		n := 0
		for t := 0; t < seq; t++ {
			if mask[r*seq+t] == 0 {
				continue
			}
			n++
			tok := states[(r*seq+t)*dims : (r*seq+t+1)*dims]
			for d, v := range tok {
				vec[d] += v
			}
		}
		if n > 0 {
			for d := range vec {
				vec[d] /= float32(n)
			}
		}
		utils.NormalizeL2(vec)
		out[r] = vec
	}
	return out
}

// Accelerated reports true: one inference call handles a whole chunk.
func (e *ONNXEmbedder) Accelerated() bool { return true }

// Dimensions returns the embedding dimension.
func (e *ONNXEmbedder) Dimensions() int { return e.dimensions }

// Close releases the session. Later calls to Embed fail.
func (e *ONNXEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil
	}
	err := e.session.Destroy()
	e.session = nil
	return err
}
