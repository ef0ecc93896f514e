package notifier

import (
	"encoding/hex"
	"sort"

	"github.com/ion-ash/mcp-mux/internal/domain"
	"github.com/zeebo/blake3"
)

// contentHash digests a visible set of one kind. Qualified names are
// sorted first so the hash is order-independent, and the description and
// schema are included so a content-only edit still changes the digest.
func contentHash(features []domain.Feature) string {
	sorted := make([]domain.Feature, len(features))
	copy(sorted, features)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].QualifiedName() < sorted[j].QualifiedName()
	})

	h := blake3.New()
	for _, f := range sorted {
		h.Write([]byte(f.QualifiedName()))
		h.Write([]byte{0x00})
		h.Write([]byte(f.Description))
		h.Write([]byte{0x00})
		h.Write(f.Schema)
		h.Write([]byte{0x1e})
	}
	return hex.EncodeToString(h.Sum(nil))
}
