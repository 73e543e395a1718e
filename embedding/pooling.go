package embedding

import (
	"fmt"
	"math"
	"strings"

	"github.com/gomithril/textembed"
)

// Pooling reduces per-token hidden states to one vector.
type Pooling string

const (
	// PoolingMean averages the hidden states of attended tokens.
	PoolingMean Pooling = "mean"
	// PoolingCLS takes the hidden state of the first token.
	PoolingCLS Pooling = "cls"
	// PoolingMax takes the component-wise maximum over attended tokens.
	PoolingMax Pooling = "max"
)

func ParsePooling(s string) (Pooling, error) {
	switch p := Pooling(strings.ToLower(strings.TrimSpace(s))); p {
	case PoolingMean, PoolingCLS, PoolingMax:
		return p, nil
	case "":
		return PoolingMean, nil
	default:
		return "", fmt.Errorf("unknown pooling %q (want mean, cls or max)", s)
	}
}

// Pool reduces hidden, laid out row-major as [seqLen, dim], using mask to
// skip padding. A sequence with no attended tokens pools to the zero vector.
func Pool(hidden []float32, mask []int64, seqLen, dim int, mode Pooling) textembed.Embedding {
	out := make(textembed.Embedding, dim)

	switch mode {
	case PoolingCLS:
		if seqLen > 0 {
			copy(out, hidden[:dim])
		}
		return out

	case PoolingMax:
		seen := false
		for t := 0; t < seqLen; t++ {
			if mask[t] == 0 {
				continue
			}
			row := hidden[t*dim : (t+1)*dim]
			if !seen {
				copy(out, row)
				seen = true
				continue
			}
			for h, v := range row {
				out[h] = float32(math.Max(float64(out[h]), float64(v)))
			}
		}
		return out

	default:
		var count int
		sums := make([]float64, dim)
		for t := 0; t < seqLen; t++ {
			if mask[t] == 0 {
				continue
			}
			count++
			row := hidden[t*dim : (t+1)*dim]
			for h, v := range row {
				sums[h] += float64(v)
			}
		}
		if count == 0 {
			return out
		}
		for h := range out {
			out[h] = float32(sums[h] / float64(count))
		}
		return out
	}
}
