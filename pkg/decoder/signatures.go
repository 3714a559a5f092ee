package decoder

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// SignatureEntry maps a selector to a human readable signature
type SignatureEntry struct {
	Selector   string          `json:"selector"`
	Signature  string          `json:"signature"`
	Name       string          `json:"name"`
	Category   Category        `json:"category"`
	Source     SignatureSource `json:"source"`
	ParamNames []string        `json:"paramNames,omitempty"`
}

// SignatureCache persists entries learned at runtime
type SignatureCache interface {
	Load() ([]SignatureEntry, error)
	Store(entry SignatureEntry) error
}

// SignatureDB resolves selectors to signatures. Once a selector has an entry
// it never changes for the lifetime of the database.
type SignatureDB struct {
	mu      sync.RWMutex
	entries map[string]SignatureEntry
	cache   SignatureCache
	logger  *zap.Logger
}

// NewSignatureDB creates a database seeded with the builtin signatures and,
// when cache is not nil, everything the cache holds.
func NewSignatureDB(cache SignatureCache, logger *zap.Logger) (*SignatureDB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db := &SignatureDB{
		entries: make(map[string]SignatureEntry),
		cache:   cache,
		logger:  logger.With(zap.String("component", "signature-db")),
	}

	for _, entry := range builtinEntries() {
		db.entries[entry.Selector] = entry
	}

	if cache != nil {
		cached, err := cache.Load()
		if err != nil {
			return nil, fmt.Errorf("failed to load signature cache: %w", err)
		}
		loaded := 0
		for _, entry := range cached {
			sel, ok := NormalizeSelector(entry.Selector)
			if !ok {
				continue
			}
			if _, exists := db.entries[sel]; exists {
				continue
			}
			entry.Selector = sel
			db.entries[sel] = entry
			loaded++
		}
		db.logger.Info("loaded cached signatures", zap.Int("count", loaded))
	}

	return db, nil
}

// Lookup returns the entry for a selector given in any case
func (db *SignatureDB) Lookup(selector string) (SignatureEntry, bool) {
	sel, ok := NormalizeSelector(selector)
	if !ok {
		return SignatureEntry{}, false
	}

	db.mu.RLock()
	defer db.mu.RUnlock()

	entry, ok := db.entries[sel]
	return entry, ok
}

// LookupBatch resolves several selectors at once. The result is keyed by
// normalized selector and omits selectors without an entry.
func (db *SignatureDB) LookupBatch(selectors []string) map[string]SignatureEntry {
	out := make(map[string]SignatureEntry, len(selectors))

	db.mu.RLock()
	defer db.mu.RUnlock()

	for _, s := range selectors {
		sel, ok := NormalizeSelector(s)
		if !ok {
			continue
		}
		if entry, ok := db.entries[sel]; ok {
			out[sel] = entry
		}
	}
	return out
}

// Add stores an entry unless the selector is already known, in which case the
// existing entry is returned and added is false. The signature must hash to
// the selector.
func (db *SignatureDB) Add(entry SignatureEntry) (stored SignatureEntry, added bool, err error) {
	sel, ok := NormalizeSelector(entry.Selector)
	if !ok {
		return SignatureEntry{}, false, fmt.Errorf("%w: %q", ErrNoSelector, entry.Selector)
	}
	sig := strings.ReplaceAll(strings.TrimSpace(entry.Signature), " ", "")
	if SignatureName(sig) == "" || !strings.HasSuffix(sig, ")") {
		return SignatureEntry{}, false, fmt.Errorf("%w: %q", ErrInvalidSignature, entry.Signature)
	}
	if SelectorOf(sig) != sel {
		return SignatureEntry{}, false, fmt.Errorf("%w: %s is not %s", ErrSelectorMismatch, sig, sel)
	}

	entry.Selector = sel
	entry.Signature = sig
	entry.Name = SignatureName(sig)
	entry.Category = Categorize(entry.Name)
	if entry.Source == "" {
		entry.Source = SourceManual
	}

	db.mu.Lock()
	if existing, ok := db.entries[sel]; ok {
		db.mu.Unlock()
		return existing, false, nil
	}
	db.entries[sel] = entry
	db.mu.Unlock()

	if db.cache != nil {
		if err := db.cache.Store(entry); err != nil {
			db.logger.Warn("failed to persist signature",
				zap.String("selector", sel),
				zap.Error(err),
			)
		}
	}

	db.logger.Debug("signature added",
		zap.String("selector", sel),
		zap.String("signature", sig),
		zap.String("source", string(entry.Source)),
	)
	return entry, true, nil
}

// Categories lists the categories that have at least one entry
func (db *SignatureDB) Categories() []Category {
	db.mu.RLock()
	present := make(map[Category]bool)
	for _, entry := range db.entries {
		present[entry.Category] = true
	}
	db.mu.RUnlock()

	out := make([]Category, 0, len(present))
	for _, c := range AllCategories {
		if present[c] {
			out = append(out, c)
		}
	}
	return out
}

// ByCategory returns all entries of a category sorted by name
func (db *SignatureDB) ByCategory(category Category) []SignatureEntry {
	return db.filter(func(e SignatureEntry) bool { return e.Category == category })
}

// Search returns entries whose name contains substr, case-insensitively, sorted by name
func (db *SignatureDB) Search(substr string) []SignatureEntry {
	needle := strings.ToLower(substr)
	return db.filter(func(e SignatureEntry) bool {
		return strings.Contains(strings.ToLower(e.Name), needle)
	})
}

// Len returns the number of known selectors
func (db *SignatureDB) Len() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.entries)
}

func (db *SignatureDB) filter(keep func(SignatureEntry) bool) []SignatureEntry {
	db.mu.RLock()
	var out []SignatureEntry
	for _, entry := range db.entries {
		if keep(entry) {
			out = append(out, entry)
		}
	}
	db.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Selector < out[j].Selector
	})
	return out
}
