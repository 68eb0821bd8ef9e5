// Package diff computes and applies structural patches between JSON-like values.
//
// Objects are compared key by key. Arrays whose elements are all objects with a
// unique string "id" are compared by list identity, keyed by that id. Any other
// change of shape is expressed as a full replacement. Two values are equal when
// their serialized JSON forms are equal.
package diff

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"sort"
)

// ErrShapeMismatch is returned by Apply when the patch does not fit the value it is applied to.
var ErrShapeMismatch = errors.New("patch does not match value shape")

// IDField is the element field used for list identity.
const IDField = "id"

// Patch describes the difference between two values.
type Patch struct {
	Added    map[string]any    `json:"added,omitempty"`
	Modified map[string]any    `json:"modified,omitempty"`
	Nested   map[string]*Patch `json:"nested,omitempty"`
	Deleted  []string          `json:"deleted,omitempty"`
	Order    []string          `json:"order,omitempty"`
	Replace  json.RawMessage   `json:"replace,omitempty"`
	List     bool              `json:"list,omitempty"`
}

// IsEmpty reports whether the patch carries no changes.
func (p *Patch) IsEmpty() bool {
	if p == nil {
		return true
	}
	return len(p.Added) == 0 &&
		len(p.Modified) == 0 &&
		len(p.Nested) == 0 &&
		len(p.Deleted) == 0 &&
		len(p.Order) == 0 &&
		len(p.Replace) == 0
}

// Normalize converts v into its generic JSON form (map[string]any, []any,
// json.Number, string, bool or nil). Numbers keep their literal text, so
// integers beyond 2^53 survive. The result never shares memory with v, so it
// doubles as a deep copy.
func Normalize(v any) (any, error) {
	var raw []byte
	switch t := v.(type) {
	case json.RawMessage:
		raw = t
	case []byte:
		raw = t
	default:
		var err error
		raw, err = json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal value: %w", err)
		}
	}

	if len(raw) == 0 {
		return nil, nil
	}

	var out any
	if err := decodeNumbers(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal value: %w", err)
	}
	return out, nil
}

// UnmarshalJSON keeps numeric values of the patch as json.Number.
func (p *Patch) UnmarshalJSON(data []byte) error {
	type plain Patch
	var v plain
	if err := decodeNumbers(data, &v); err != nil {
		return err
	}
	*p = Patch(v)
	return nil
}

func decodeNumbers(data []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	// Хвост после значения - ошибка, как в json.Unmarshal
	if _, err := dec.Token(); err != io.EOF {
		return errors.New("invalid character after top-level value")
	}
	return nil
}

// Equal reports whether a and b serialize to the same JSON.
func Equal(a, b any) (bool, error) {
	na, err := Normalize(a)
	if err != nil {
		return false, err
	}
	nb, err := Normalize(b)
	if err != nil {
		return false, err
	}
	return equal(na, nb), nil
}

// Calculate returns the patch that turns a into b.
// An empty (non-nil) patch means the values are equal.
func Calculate(a, b any) (*Patch, error) {
	na, err := Normalize(a)
	if err != nil {
		return nil, err
	}
	nb, err := Normalize(b)
	if err != nil {
		return nil, err
	}
	return calc(na, nb)
}

// Apply returns a new value produced by applying p to current.
// current itself is never modified.
func Apply(current any, p *Patch) (any, error) {
	cur, err := Normalize(current)
	if err != nil {
		return nil, err
	}
	return apply(cur, p)
}

func calc(a, b any) (*Patch, error) {
	if equal(a, b) {
		return &Patch{}, nil
	}

	am, aIsMap := a.(map[string]any)
	bm, bIsMap := b.(map[string]any)
	if aIsMap && bIsMap {
		return diffObjects(am, bm)
	}

	aIDs, aByID, aIsList := listIndex(a)
	bIDs, bByID, bIsList := listIndex(b)
	if aIsList && bIsList {
		return diffLists(aIDs, aByID, bIDs, bByID)
	}

	return replaceWith(b)
}

func diffObjects(a, b map[string]any) (*Patch, error) {
	p := &Patch{}

	for key, bv := range b {
		av, exists := a[key]
		if !exists {
			setAdded(p, key, bv)
			continue
		}
		if equal(av, bv) {
			continue
		}
		if err := setChanged(p, key, av, bv); err != nil {
			return nil, err
		}
	}

	for key := range a {
		if _, exists := b[key]; !exists {
			p.Deleted = append(p.Deleted, key)
		}
	}
	sort.Strings(p.Deleted)

	return p, nil
}

func diffLists(aIDs []string, aByID map[string]any, bIDs []string, bByID map[string]any) (*Patch, error) {
	p := &Patch{List: true}

	for _, id := range bIDs {
		av, exists := aByID[id]
		if !exists {
			setAdded(p, id, bByID[id])
			continue
		}
		if equal(av, bByID[id]) {
			continue
		}
		if err := setChanged(p, id, av, bByID[id]); err != nil {
			return nil, err
		}
	}

	for _, id := range aIDs {
		if _, exists := bByID[id]; !exists {
			p.Deleted = append(p.Deleted, id)
		}
	}

	// Порядок передаем только если Apply не восстановит его сам
	if !slices.Equal(implicitOrder(aIDs, p), bIDs) {
		p.Order = slices.Clone(bIDs)
	}

	return p, nil
}

func setAdded(p *Patch, key string, v any) {
	if p.Added == nil {
		p.Added = make(map[string]any)
	}
	p.Added[key] = v
}

// setChanged записывает изменение поля: вложенный патч для объектов и списков,
// полную замену для остальных значений
func setChanged(p *Patch, key string, av, bv any) error {
	_, aIsMap := av.(map[string]any)
	_, bIsMap := bv.(map[string]any)
	_, _, aIsList := listIndex(av)
	_, _, bIsList := listIndex(bv)

	if (aIsMap && bIsMap) || (aIsList && bIsList) {
		nested, err := calc(av, bv)
		if err != nil {
			return err
		}
		if p.Nested == nil {
			p.Nested = make(map[string]*Patch)
		}
		p.Nested[key] = nested
		return nil
	}

	if p.Modified == nil {
		p.Modified = make(map[string]any)
	}
	p.Modified[key] = bv
	return nil
}

func replaceWith(v any) (*Patch, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal replacement: %w", err)
	}
	return &Patch{Replace: raw}, nil
}

func apply(cur any, p *Patch) (any, error) {
	if p.IsEmpty() {
		return cur, nil
	}

	if len(p.Replace) > 0 {
		var out any
		if err := decodeNumbers(p.Replace, &out); err != nil {
			return nil, fmt.Errorf("failed to decode replacement: %w", err)
		}
		return out, nil
	}

	if p.List {
		return applyList(cur, p)
	}
	return applyObject(cur, p)
}

func applyObject(cur any, p *Patch) (any, error) {
	m, ok := cur.(map[string]any)
	if !ok {
		if cur != nil {
			return nil, fmt.Errorf("%w: expected object, got %T", ErrShapeMismatch, cur)
		}
		m = make(map[string]any)
	}

	for _, key := range p.Deleted {
		delete(m, key)
	}
	for key, v := range p.Added {
		m[key] = v
	}
	for key, v := range p.Modified {
		m[key] = v
	}
	for key, nested := range p.Nested {
		updated, err := apply(m[key], nested)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", key, err)
		}
		m[key] = updated
	}

	return m, nil
}

func applyList(cur any, p *Patch) (any, error) {
	ids, byID, ok := listIndex(cur)
	if !ok {
		if cur != nil {
			return nil, fmt.Errorf("%w: expected list of identified objects, got %T", ErrShapeMismatch, cur)
		}
		byID = make(map[string]any)
	}

	for _, id := range p.Deleted {
		delete(byID, id)
	}
	for id, v := range p.Added {
		byID[id] = v
	}
	for id, v := range p.Modified {
		byID[id] = v
	}
	for id, nested := range p.Nested {
		item, exists := byID[id]
		if !exists {
			return nil, fmt.Errorf("%w: list item %q not found", ErrShapeMismatch, id)
		}
		updated, err := apply(item, nested)
		if err != nil {
			return nil, fmt.Errorf("list item %q: %w", id, err)
		}
		byID[id] = updated
	}

	order := p.Order
	if len(order) == 0 {
		order = implicitOrder(ids, p)
	}

	out := make([]any, 0, len(order))
	for _, id := range order {
		item, exists := byID[id]
		if !exists {
			return nil, fmt.Errorf("%w: ordered item %q not found", ErrShapeMismatch, id)
		}
		out = append(out, item)
	}
	if len(out) != len(byID) {
		return nil, fmt.Errorf("%w: order covers %d of %d items", ErrShapeMismatch, len(out), len(byID))
	}

	return out, nil
}

// implicitOrder: прежний порядок без удаленных элементов, затем добавленные по возрастанию id
func implicitOrder(before []string, p *Patch) []string {
	order := make([]string, 0, len(before)+len(p.Added))
	for _, id := range before {
		if !slices.Contains(p.Deleted, id) {
			order = append(order, id)
		}
	}

	added := make([]string, 0, len(p.Added))
	for id := range p.Added {
		added = append(added, id)
	}
	sort.Strings(added)

	return append(order, added...)
}

// listIndex returns element ids in order when v is a list of objects with unique string ids.
func listIndex(v any) ([]string, map[string]any, bool) {
	list, ok := v.([]any)
	if !ok {
		return nil, nil, false
	}

	ids := make([]string, 0, len(list))
	byID := make(map[string]any, len(list))
	for _, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, nil, false
		}
		id, ok := obj[IDField].(string)
		if !ok || id == "" {
			return nil, nil, false
		}
		if _, dup := byID[id]; dup {
			return nil, nil, false
		}
		ids = append(ids, id)
		byID[id] = obj
	}

	return ids, byID, true
}

func equal(a, b any) bool {
	ra, errA := json.Marshal(a)
	rb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ra, rb)
}
