package speaker

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/echoscribe/echoscribe/cmd/server/internal/engine"
	"github.com/echoscribe/echoscribe/internal/domain"
	"github.com/echoscribe/echoscribe/pkg/similarity"
)

// DefaultThreshold is the minimum cosine similarity for two embeddings to
// count as the same speaker.
const DefaultThreshold = 0.75

// EmbeddingReconciler merges chunk-local speaker labels by voice
// embedding. Each chunk numbers its speakers independently, so "Speaker 1"
// in chunk 0 and "Speaker 1" in chunk 3 are usually different people; the
// embeddings are the only evidence linking identities across chunks.
type EmbeddingReconciler struct {
	eng       engine.Engine
	threshold float64
	logger    *slog.Logger

	// registry holds one representative vector per global identity, the
	// first embedding seen for it.
	registry map[string][]float64
	nextID   int
}

// NewEmbeddingReconciler creates an embedding reconciler. A non-positive
// threshold uses DefaultThreshold; a nil logger uses slog's default.
func NewEmbeddingReconciler(eng engine.Engine, threshold float64, logger *slog.Logger) *EmbeddingReconciler {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EmbeddingReconciler{
		eng:       eng,
		threshold: threshold,
		logger:    logger,
		registry:  make(map[string][]float64),
	}
}

// Reconcile processes chunks in index order, binding every chunk-local
// label to a global identity and rewriting the chunk's diarized segments
// with global labels. The returned map records every binding and never
// rebinds an existing key.
//
// Running it twice over the same chunks yields the same map: matching is
// greedy over candidate pairs sorted by similarity with a deterministic
// tie-break, and new identities are minted in a fixed order.
func (r *EmbeddingReconciler) Reconcile(ctx context.Context, chunks []domain.MediaChunk) (*domain.GlobalSpeakerMap, error) {
	gsm := domain.NewGlobalSpeakerMap()

	for i := range chunks {
		chunk := &chunks[i]
		if chunk.Transcript == nil || len(chunk.Transcript.DiarizedSegments) == 0 {
			continue
		}

		embeddings, err := r.eng.Embeddings(ctx, chunk.AudioRef, chunk.Transcript.DiarizedSegments)
		if err != nil {
			return nil, err
		}

		assigned := r.matchChunk(chunk.Index, embeddings)
		for label, globalID := range assigned {
			if err := gsm.Assign(chunk.Index, label, globalID); err != nil {
				return nil, err
			}
		}
		relabelSegments(chunk.Transcript.DiarizedSegments, assigned)

		r.logger.Info("chunk speakers reconciled",
			"chunk", chunk.Index,
			"local_speakers", len(embeddings),
			"global_speakers", len(r.registry),
		)
	}

	return gsm, nil
}

// candidate is one scored (local label, global identity) pairing.
type candidate struct {
	label    string
	globalID string
	sim      float64
}

// matchChunk greedily binds the chunk's labels to registry identities.
// Each global identity is used at most once per chunk; a real person
// cannot be two different local speakers in the same chunk.
func (r *EmbeddingReconciler) matchChunk(chunkIndex int, embeddings []domain.SpeakerEmbedding) map[string]string {
	assigned := make(map[string]string, len(embeddings))
	usedGlobal := make(map[string]bool)

	var candidates []candidate
	for _, emb := range embeddings {
		for _, m := range similarity.RankAgainst(emb.Vector, r.registry, r.threshold) {
			candidates = append(candidates, candidate{label: emb.Label, globalID: m.Key, sim: m.Similarity})
		}
	}

	// RankAgainst orders matches per label; the greedy pass needs one
	// global order across all labels.
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].sim != candidates[j].sim {
			return candidates[i].sim > candidates[j].sim
		}
		if candidates[i].label != candidates[j].label {
			return candidates[i].label < candidates[j].label
		}
		return candidates[i].globalID < candidates[j].globalID
	})

	for _, c := range candidates {
		if _, taken := assigned[c.label]; taken {
			continue
		}
		if usedGlobal[c.globalID] {
			continue
		}
		assigned[c.label] = c.globalID
		usedGlobal[c.globalID] = true
	}

	// Leftover labels are people the registry has not heard before.
	for _, emb := range embeddings {
		if _, ok := assigned[emb.Label]; ok {
			continue
		}
		globalID := r.mint(emb.Vector)
		assigned[emb.Label] = globalID
		r.logger.Debug("new global speaker",
			"chunk", chunkIndex, "label", emb.Label, "global_id", globalID)
	}

	return assigned
}

func (r *EmbeddingReconciler) mint(vector []float64) string {
	id := fmt.Sprintf("SPEAKER_%02d", r.nextID)
	r.nextID++
	r.registry[id] = vector
	return id
}

func relabelSegments(segments []domain.DiarizedSegment, assigned map[string]string) {
	for i := range segments {
		if globalID, ok := assigned[segments[i].Speaker]; ok {
			segments[i].Speaker = globalID
		}
	}
}
