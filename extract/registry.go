package extract

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnknownLayout is returned when no extractor is registered for a
// supplier tag and revision.
var ErrUnknownLayout = errors.New("no extractor for supplier")

// DefaultRevision is used when a supplier is registered without one.
const DefaultRevision = "v1"

// Key addresses one registry entry.
type Key struct {
	Tag      Tag
	Revision string
}

func (k Key) String() string { return string(k.Tag) + "/" + k.Revision }

// ParseKey reads "tag" or "tag/revision".
func ParseKey(s string) (Key, error) {
	tag, rev, _ := strings.Cut(strings.TrimSpace(s), "/")
	if tag == "" {
		return Key{}, fmt.Errorf("%w: empty key %q", ErrInvalidLayout, s)
	}
	if rev == "" {
		rev = DefaultRevision
	}
	return Key{Tag: Tag(tag), Revision: rev}, nil
}

// Registry maps supplier tag and revision to a compiled Extractor.
// Lookups are plain map reads; nothing is resolved from content.
type Registry struct {
	extractors map[Key]*Extractor
	defaults   map[Tag]string
}

// NewRegistry returns a registry holding the built-in supplier layouts.
func NewRegistry() *Registry {
	r := &Registry{
		extractors: make(map[Key]*Extractor),
		defaults:   make(map[Tag]string),
	}
	for _, b := range builtinLayouts {
		if err := r.Register(b.key, b.layout); err != nil {
			panic(fmt.Sprintf("extract: built-in layout %s: %v", b.key, err))
		}
	}
	for tag, rev := range builtinDefaults {
		r.defaults[tag] = rev
	}
	return r
}

// Register compiles and stores a layout. Registering an existing key
// replaces it. The first revision registered for a tag becomes its default.
func (r *Registry) Register(key Key, layout Layout) error {
	if key.Revision == "" {
		key.Revision = DefaultRevision
	}
	ex, err := New(key.Tag, layout)
	if err != nil {
		return fmt.Errorf("registering %s: %w", key, err)
	}
	r.extractors[key] = ex
	if _, ok := r.defaults[key.Tag]; !ok {
		r.defaults[key.Tag] = key.Revision
	}
	return nil
}

// SetDefault chooses the revision used when a lookup names none.
func (r *Registry) SetDefault(tag Tag, revision string) error {
	if _, ok := r.extractors[Key{Tag: tag, Revision: revision}]; !ok {
		return fmt.Errorf("%w: %s/%s", ErrUnknownLayout, tag, revision)
	}
	r.defaults[tag] = revision
	return nil
}

// Get resolves a tag and revision; an empty revision selects the default.
func (r *Registry) Get(tag Tag, revision string) (*Extractor, error) {
	if revision == "" {
		revision = r.defaults[tag]
	}
	ex, ok := r.extractors[Key{Tag: tag, Revision: revision}]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownLayout, tag, revision)
	}
	return ex, nil
}

// Default returns the revision used for tag when none is named.
func (r *Registry) Default(tag Tag) string { return r.defaults[tag] }

// Known reports whether any revision is registered for tag.
func (r *Registry) Known(tag Tag) bool {
	_, ok := r.defaults[tag]
	return ok
}

// Keys lists every registered entry in a stable order.
func (r *Registry) Keys() []Key {
	keys := make([]Key, 0, len(r.extractors))
	for k := range r.extractors {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Tag != keys[j].Tag {
			return keys[i].Tag < keys[j].Tag
		}
		return keys[i].Revision < keys[j].Revision
	})
	return keys
}
