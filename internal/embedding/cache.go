package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"golang.org/x/sync/singleflight"
)

// CachedEmbedder memoizes embeddings in Redis, keyed by namespace and text hash.
// Vectors are stored as little-endian float32 bytes.
type CachedEmbedder struct {
	inner     embeddings.Embedder
	client    *redis.Client
	namespace string
	ttl       time.Duration
	sf        singleflight.Group
}

func NewCachedEmbedder(inner embeddings.Embedder, client *redis.Client, namespace string, ttl time.Duration) *CachedEmbedder {
	return &CachedEmbedder{
		inner:     inner,
		client:    client,
		namespace: namespace,
		ttl:       ttl,
	}
}

func (c *CachedEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	key := c.key(text)
	if vec, ok := c.get(ctx, key); ok {
		return vec, nil
	}

	// the flight is shared by every waiter on key, so it must outlive any one caller
	ch := c.sf.DoChan(key, func() (interface{}, error) {
		flightCtx := context.WithoutCancel(ctx)
		vec, err := c.inner.EmbedQuery(flightCtx, text)
		if err != nil {
			return nil, err
		}
		c.set(flightCtx, map[string][]float32{key: vec})
		return vec, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]float32), nil
	}
}

func (c *CachedEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	keys := make([]string, len(texts))
	for i, t := range texts {
		keys[i] = c.key(t)
	}

	out := make([][]float32, len(texts))
	cached, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		log.Warn().Err(err).Msg("Embedding cache unavailable")
		cached = nil
	}

	var missIdx []int
	var missTexts []string
	for i := range texts {
		if i < len(cached) {
			if s, ok := cached[i].(string); ok {
				if vec, err := decodeVector([]byte(s)); err == nil {
					out[i] = vec
					continue
				}
			}
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, texts[i])
	}
	log.Debug().Int("hits", len(texts)-len(missIdx)).Int("misses", len(missIdx)).Msg("Embedding cache lookup")
	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := c.inner.EmbedDocuments(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(missTexts))
	}
	fresh := make(map[string][]float32, len(vecs))
	for j, i := range missIdx {
		out[i] = vecs[j]
		fresh[keys[i]] = vecs[j]
	}
	c.set(ctx, fresh)
	return out, nil
}

func (c *CachedEmbedder) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "quizzify:emb:" + c.namespace + ":" + hex.EncodeToString(sum[:])
}

func (c *CachedEmbedder) get(ctx context.Context, key string) ([]float32, bool) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn().Err(err).Msg("Embedding cache unavailable")
		}
		return nil, false
	}
	vec, err := decodeVector(data)
	if err != nil {
		return nil, false
	}
	return vec, true
}

// set is best effort, a failed write only costs a recomputation later
func (c *CachedEmbedder) set(ctx context.Context, vectors map[string][]float32) {
	pipe := c.client.Pipeline()
	for key, vec := range vectors {
		pipe.Set(ctx, key, encodeVector(vec), c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to write embedding cache")
	}
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(data []byte) ([]float32, error) {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil, fmt.Errorf("corrupt cached vector of %d bytes", len(data))
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
	}
	return vec, nil
}
