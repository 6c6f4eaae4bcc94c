package clip

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

// BlobPrefix starts every reference handed out by a BlobStore.
const BlobPrefix = "blob:"

// Blob is a fetched image held in memory until the clip is saved.
type Blob struct {
	Data      []byte
	MediaType string
}

// BlobStore keeps fetched images addressable by an opaque reference. Entries
// expire after the store's TTL.
type BlobStore struct {
	c *cache.Cache
}

// NewBlobStore returns a store whose entries live for ttl.
func NewBlobStore(ttl time.Duration) *BlobStore {
	return &BlobStore{c: cache.New(ttl, 2*ttl)}
}

// Put stores data and returns its reference.
func (s *BlobStore) Put(data []byte, mediaType string) string {
	ref := BlobPrefix + uuid.NewString()
	s.c.Set(ref, Blob{Data: data, MediaType: mediaType}, cache.DefaultExpiration)
	return ref
}

// Get returns the blob for ref.
func (s *BlobStore) Get(ref string) (Blob, bool) {
	v, ok := s.c.Get(ref)
	if !ok {
		return Blob{}, false
	}
	b, ok := v.(Blob)
	return b, ok
}

// Release drops ref from the store.
func (s *BlobStore) Release(ref string) {
	s.c.Delete(ref)
}

// Len returns the number of live blobs.
func (s *BlobStore) Len() int {
	return s.c.ItemCount()
}

// IsBlobRef reports whether src was issued by a BlobStore.
func IsBlobRef(src string) bool {
	return strings.HasPrefix(src, BlobPrefix)
}
