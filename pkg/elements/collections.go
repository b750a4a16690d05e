package elements

import "strings"

// List is an ordered sequence of values indexed from 1.
type List struct {
	items []Value
}

// NewList creates a list holding the given items.
func NewList(items ...Value) *List {
	return &List{items: append([]Value{}, items...)}
}

// Size returns the number of items in the list.
func (l *List) Size() int { return len(l.items) }

// IsEmpty reports whether the list has no items.
func (l *List) IsEmpty() bool { return len(l.items) == 0 }

// Get returns the item at the 1-based index, or nil when the index is out
// of range.
func (l *List) Get(index int) Value {
	if index < 1 || index > len(l.items) {
		return nil
	}
	return l.items[index-1]
}

// Add appends an item to the end of the list.
func (l *List) Add(item Value) { l.items = append(l.items, item) }

// Items returns the underlying item sequence in order.
func (l *List) Items() []Value { return l.items }

// Format implements Value. An empty list renders as "[ ]".
func (l *List) Format() string {
	if len(l.items) == 0 {
		return "[ ]"
	}
	sources := make([]string, len(l.items))
	for i, item := range l.items {
		sources[i] = item.Format()
	}
	return "[" + strings.Join(sources, ", ") + "]"
}

// Association is a key-value pair inside a catalog.
type Association struct {
	Key   Value
	Value Value
}

// Catalog is an ordered mapping from keys to values. Associations keep their
// insertion order, and keys are unique under value equality.
type Catalog struct {
	associations []Association
	index        map[string]int
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{index: make(map[string]int)}
}

// Size returns the number of associations in the catalog.
func (c *Catalog) Size() int { return len(c.associations) }

// SetValue associates a value with a key, replacing any existing value for
// an equal key while keeping the original ordinal position.
func (c *Catalog) SetValue(key, value Value) {
	if i, ok := c.index[key.Format()]; ok {
		c.associations[i].Value = value
		return
	}
	c.index[key.Format()] = len(c.associations)
	c.associations = append(c.associations, Association{Key: key, Value: value})
}

// GetValue returns the value associated with the key, or nil when the key
// is absent.
func (c *Catalog) GetValue(key Value) Value {
	if i, ok := c.index[key.Format()]; ok {
		return c.associations[i].Value
	}
	return nil
}

// Association returns the association at the 1-based ordinal, or false when
// the ordinal is out of range.
func (c *Catalog) Association(ordinal int) (Association, bool) {
	if ordinal < 1 || ordinal > len(c.associations) {
		return Association{}, false
	}
	return c.associations[ordinal-1], true
}

// Associations returns the associations in insertion order.
func (c *Catalog) Associations() []Association { return c.associations }

// Format implements Value. An empty catalog renders as "[:]".
func (c *Catalog) Format() string {
	if len(c.associations) == 0 {
		return "[:]"
	}
	sources := make([]string, len(c.associations))
	for i, a := range c.associations {
		sources[i] = a.Key.Format() + ": " + a.Value.Format()
	}
	return "[" + strings.Join(sources, ", ") + "]"
}
