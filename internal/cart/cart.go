package cart

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/ARM-software/golang-utils/utils/commonerrors"
)

var (
	ErrInvalidArgument = fmt.Errorf("%w: line item name is required", commonerrors.ErrInvalid)
	ErrItemNotFound    = fmt.Errorf("%w: line item is not in the cart", commonerrors.ErrNotFound)
)

// LineItem is a single product entry. Items compare by name and the same name
// may appear more than once.
type LineItem struct {
	Name string `json:"name"`
}

// NewLineItem constructs a LineItem with validation on the name.
func NewLineItem(name string) (LineItem, error) {
	item := LineItem{Name: name}
	if err := item.Validate(); err != nil {
		return LineItem{}, err
	}
	return item, nil
}

func (i LineItem) Validate() error {
	if strings.TrimSpace(i.Name) == "" {
		return ErrInvalidArgument
	}
	return nil
}

// Store holds the append-ordered items of one cart. It performs no I/O and is
// not safe for concurrent use; the entity host serializes access per cart id.
type Store struct {
	id    int64
	items []LineItem
	dirty bool
}

func New(id int64) *Store {
	return &Store{id: id, items: []LineItem{}}
}

// Restore rebuilds a store from a persisted snapshot. The input is copied.
func Restore(id int64, items []LineItem) *Store {
	s := New(id)
	s.items = append(s.items, items...)
	return s
}

func (s *Store) ID() int64 {
	return s.id
}

func (s *Store) AddItem(item LineItem) error {
	if err := item.Validate(); err != nil {
		return err
	}
	s.items = append(s.items, item)
	s.dirty = true
	return nil
}

// RemoveItem drops the first item whose name matches.
func (s *Store) RemoveItem(item LineItem) error {
	if err := item.Validate(); err != nil {
		return err
	}
	for idx, existing := range s.items {
		if existing.Name != item.Name {
			continue
		}
		s.items = slices.Delete(s.items, idx, idx+1)
		s.dirty = true
		return nil
	}
	return fmt.Errorf("%w: %q", ErrItemNotFound, item.Name)
}

// Snapshot returns a copy that later mutations of the store do not affect.
func (s *Store) Snapshot() []LineItem {
	out := make([]LineItem, len(s.items))
	copy(out, s.items)
	return out
}

func (s *Store) Clear() {
	if len(s.items) == 0 {
		return
	}
	s.items = []LineItem{}
	s.dirty = true
}

func (s *Store) IsEmpty() bool {
	return len(s.items) == 0
}

func (s *Store) Len() int {
	return len(s.items)
}

// Dirty reports whether the store changed since it was loaded or last saved.
func (s *Store) Dirty() bool {
	return s.dirty
}

func (s *Store) MarkClean() {
	s.dirty = false
}

// MarkDirty forces the next save, e.g. after a failed write.
func (s *Store) MarkDirty() {
	s.dirty = true
}

// Digest identifies an ordered item list. Equal lists give equal digests.
func Digest(items []LineItem) string {
	h := sha256.New()
	for _, item := range items {
		h.Write([]byte(strconv.Itoa(len(item.Name))))
		h.Write([]byte{':'})
		h.Write([]byte(item.Name))
	}
	return hex.EncodeToString(h.Sum(nil))
}
