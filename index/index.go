package index

import (
	"fmt"
	"sort"
	"sync"

	roaring "github.com/RoaringBitmap/roaring"
	bloom "github.com/bits-and-blooms/bloom/v3"
	murmur3 "github.com/spaolacci/murmur3"
)

// ---------------------------------------------------------------------
// Strategy: Defines which indexing strategy to use
// ---------------------------------------------------------------------

type Strategy int

const (
	RoaringBitmap Strategy = iota
	HashIndex
	Bloom
)

func (s Strategy) String() string {
	switch s {
	case RoaringBitmap:
		return "roaring"
	case HashIndex:
		return "hash"
	case Bloom:
		return "bloom"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// ---------------------------------------------------------------------
// Index: The universal interface for all index implementations
// ---------------------------------------------------------------------

// Index maps string values of one column to the set of row positions holding them.
// Indexes are append-only; the tables they cover are never updated in place.
type Index interface {
	// Add records that rowID holds value
	Add(rowID uint32, value string) error
	// Search returns a copy of the rows holding value, or an empty bitmap
	Search(value string) (*roaring.Bitmap, error)
	// Values returns the distinct indexed values in ascending order
	Values() []string
	// Cardinality returns the number of distinct values
	Cardinality() int
	// Clear removes all entries
	Clear() error
}

// ---------------------------------------------------------------------
// IndexManager: Manages multiple indexes per column
// ---------------------------------------------------------------------

type IndexManager struct {
	mu       sync.RWMutex
	indexes  map[string]map[Strategy]Index
	settings IndexSettings
}

type IndexSettings struct {
	// BloomFilterFPRate is the desired false-positive rate for the Bloom filter
	BloomFilterFPRate float64
	// BloomCapacity is the expected number of distinct values fed to a Bloom filter
	BloomCapacity uint
	// HashIndexSize is an (optional) hint for sizing a HashIndex
	HashIndexSize int
}

// DefaultSettings are tuned for a few thousand distinct customer names.
func DefaultSettings() IndexSettings {
	return IndexSettings{
		BloomFilterFPRate: 0.01,
		BloomCapacity:     10000,
		HashIndexSize:     1024,
	}
}

// NewIndexManager creates a new index manager with the given settings
func NewIndexManager(settings IndexSettings) *IndexManager {
	if settings.BloomFilterFPRate <= 0 || settings.BloomFilterFPRate >= 1 {
		settings.BloomFilterFPRate = DefaultSettings().BloomFilterFPRate
	}
	if settings.BloomCapacity == 0 {
		settings.BloomCapacity = DefaultSettings().BloomCapacity
	}
	return &IndexManager{
		indexes:  make(map[string]map[Strategy]Index),
		settings: settings,
	}
}

// CreateIndex instantiates a new index of the specified strategy for a given column
func (im *IndexManager) CreateIndex(column string, strategy Strategy) (Index, error) {
	im.mu.Lock()
	defer im.mu.Unlock()

	if im.indexes[column] == nil {
		im.indexes[column] = make(map[Strategy]Index)
	}

	var idx Index
	switch strategy {
	case RoaringBitmap:
		idx = NewRoaringIndex()
	case HashIndex:
		idx = NewHashIndex(im.settings.HashIndexSize)
	case Bloom:
		idx = NewBloomIndex(im.settings.BloomCapacity, im.settings.BloomFilterFPRate)
	default:
		return nil, fmt.Errorf("unsupported index strategy: %v", strategy)
	}

	im.indexes[column][strategy] = idx
	return idx, nil
}

// GetIndex retrieves an existing index for a given column and strategy
func (im *IndexManager) GetIndex(column string, strategy Strategy) (Index, bool) {
	im.mu.RLock()
	defer im.mu.RUnlock()

	strats, ok := im.indexes[column]
	if !ok {
		return nil, false
	}
	idx, exists := strats[strategy]
	return idx, exists
}

// Lookup answers an equality probe on column using the best available index.
// A Bloom index, when present, short-circuits values that are definitely absent.
func (im *IndexManager) Lookup(column, value string) (*roaring.Bitmap, error) {
	if b, ok := im.GetIndex(column, Bloom); ok {
		if !b.(*bloomIndex).MightContain(value) {
			return roaring.New(), nil
		}
	}
	for _, s := range []Strategy{RoaringBitmap, HashIndex, Bloom} {
		if idx, ok := im.GetIndex(column, s); ok {
			return idx.Search(value)
		}
	}
	return nil, fmt.Errorf("no index on column %q", column)
}

// Values returns the distinct values of column from any of its indexes.
func (im *IndexManager) Values(column string) ([]string, error) {
	for _, s := range []Strategy{RoaringBitmap, HashIndex, Bloom} {
		if idx, ok := im.GetIndex(column, s); ok {
			return idx.Values(), nil
		}
	}
	return nil, fmt.Errorf("no index on column %q", column)
}

// Columns lists the indexed columns in ascending order.
func (im *IndexManager) Columns() []string {
	im.mu.RLock()
	defer im.mu.RUnlock()

	cols := make([]string, 0, len(im.indexes))
	for col := range im.indexes {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}

// Cardinalities returns the number of distinct values per indexed column.
func (im *IndexManager) Cardinalities() map[string]int {
	out := make(map[string]int)
	for _, col := range im.Columns() {
		for _, s := range []Strategy{RoaringBitmap, HashIndex, Bloom} {
			if idx, ok := im.GetIndex(col, s); ok {
				out[col] = idx.Cardinality()
				break
			}
		}
	}
	return out
}

// Clear empties every index. The indexes stay registered.
func (im *IndexManager) Clear() error {
	im.mu.RLock()
	defer im.mu.RUnlock()

	for col, strats := range im.indexes {
		for s, idx := range strats {
			if err := idx.Clear(); err != nil {
				return fmt.Errorf("failed to clear %s index on %s: %w", s, col, err)
			}
		}
	}
	return nil
}

// ---------------------------------------------------------------------
// 1) Roaring Bitmap Index
//
//    Maps each distinct value -> roaring.Bitmap of rowIDs.
// ---------------------------------------------------------------------

type roaringIndex struct {
	mu     sync.RWMutex
	values map[string]*roaring.Bitmap
}

// NewRoaringIndex constructs a new Index backed by multiple Roaring bitmaps
func NewRoaringIndex() Index {
	return &roaringIndex{
		values: make(map[string]*roaring.Bitmap),
	}
}

func (r *roaringIndex) Add(rowID uint32, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	bm, ok := r.values[value]
	if !ok {
		bm = roaring.New()
		r.values[value] = bm
	}
	bm.Add(rowID)
	return nil
}

func (r *roaringIndex) Search(value string) (*roaring.Bitmap, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bm, ok := r.values[value]
	if !ok || bm == nil {
		return roaring.New(), nil
	}
	return bm.Clone(), nil
}

func (r *roaringIndex) Values() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return sortedKeys(r.values)
}

func (r *roaringIndex) Cardinality() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.values)
}

func (r *roaringIndex) Clear() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.values = make(map[string]*roaring.Bitmap)
	return nil
}

// ---------------------------------------------------------------------
// 2) Hash Index
//
//    Uses Murmur3 to hash each value into a bucket, and within each bucket
//    stores value -> Roaring bitmap of rowIDs. Suited to high-cardinality
//    columns such as customer names.
// ---------------------------------------------------------------------

type hashIndex struct {
	mu      sync.RWMutex
	size    int
	buckets map[uint64]map[string]*roaring.Bitmap
	count   int
}

// NewHashIndex constructs a new HashIndex
func NewHashIndex(sizeHint int) Index {
	return &hashIndex{
		size:    sizeHint,
		buckets: make(map[uint64]map[string]*roaring.Bitmap, sizeHint),
	}
}

func (h *hashIndex) Add(rowID uint32, value string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	key := murmurKey(value)

	submap, ok := h.buckets[key]
	if !ok {
		submap = make(map[string]*roaring.Bitmap, 1)
		h.buckets[key] = submap
	}
	bm, ok := submap[value]
	if !ok {
		bm = roaring.New()
		submap[value] = bm
		h.count++
	}
	bm.Add(rowID)
	return nil
}

func (h *hashIndex) Search(value string) (*roaring.Bitmap, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	submap, ok := h.buckets[murmurKey(value)]
	if !ok {
		return roaring.New(), nil
	}
	bm, ok := submap[value]
	if !ok || bm == nil {
		return roaring.New(), nil
	}
	return bm.Clone(), nil
}

func (h *hashIndex) Values() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]string, 0, h.count)
	for _, submap := range h.buckets {
		for v := range submap {
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}

func (h *hashIndex) Cardinality() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.count
}

func (h *hashIndex) Clear() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.buckets = make(map[uint64]map[string]*roaring.Bitmap, h.size)
	h.count = 0
	return nil
}

func murmurKey(value string) uint64 {
	return murmur3.Sum64([]byte(value))
}

// ---------------------------------------------------------------------
// 3) Bloom Filter Index
//
//    A classic Bloom filter only tells us if an item is "possibly" in
//    the set or "definitely not." We keep a map[value]->bitmap for rowIDs
//    plus the filter for quick membership checks.
// ---------------------------------------------------------------------

type bloomIndex struct {
	mu         sync.RWMutex
	filter     *bloom.BloomFilter
	values     map[string]*roaring.Bitmap
	capacity   uint
	fpEstimate float64
}

// NewBloomIndex sizes the filter for capacity distinct values at fpRate.
func NewBloomIndex(capacity uint, fpRate float64) Index {
	return &bloomIndex{
		filter:     bloom.NewWithEstimates(capacity, fpRate),
		values:     make(map[string]*roaring.Bitmap),
		capacity:   capacity,
		fpEstimate: fpRate,
	}
}

func (b *bloomIndex) Add(rowID uint32, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	bm, ok := b.values[value]
	if !ok {
		b.filter.AddString(value)
		bm = roaring.New()
		b.values[value] = bm
	}
	bm.Add(rowID)
	return nil
}

// MightContain reports false only when value was never added.
func (b *bloomIndex) MightContain(value string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.filter.TestString(value)
}

func (b *bloomIndex) Search(value string) (*roaring.Bitmap, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.filter.TestString(value) {
		return roaring.New(), nil
	}
	bm, ok := b.values[value]
	if !ok || bm == nil {
		return roaring.New(), nil
	}
	return bm.Clone(), nil
}

func (b *bloomIndex) Values() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return sortedKeys(b.values)
}

func (b *bloomIndex) Cardinality() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.values)
}

func (b *bloomIndex) Clear() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.filter = bloom.NewWithEstimates(b.capacity, b.fpEstimate)
	b.values = make(map[string]*roaring.Bitmap)
	return nil
}

func sortedKeys(m map[string]*roaring.Bitmap) []string {
	out := make([]string, 0, len(m))
	for v := range m {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
