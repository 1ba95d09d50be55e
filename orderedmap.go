// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package fieldscope

// orderedUniqueMap is an insertion-ordered mapping from unique field names
// to Fields. Name lookup is O(1) via the index map; positional access is
// O(1) via the slice. A duplicate Append is rejected with ErrUniqueKey; the
// field-set driver is the only caller that retries after a rename.
type orderedUniqueMap struct {
	values  []Field
	indexOf map[string]int
}

func newOrderedUniqueMap() *orderedUniqueMap {
	return &orderedUniqueMap{indexOf: make(map[string]int)}
}

// Len returns the number of entries.
func (m *orderedUniqueMap) Len() int { return len(m.values) }

// Append adds name/value at the end. It fails if name is already present.
func (m *orderedUniqueMap) Append(name string, value Field) error {
	if _, ok := m.indexOf[name]; ok {
		return ErrUniqueKey
	}
	m.indexOf[name] = len(m.values)
	m.values = append(m.values, value)
	return nil
}

// InsertAt inserts name/value at position index, shifting later entries
// (and their cached indices) up by one.
func (m *orderedUniqueMap) InsertAt(index int, name string, value Field) error {
	if _, ok := m.indexOf[name]; ok {
		return ErrUniqueKey
	}
	m.values = append(m.values, nil)
	copy(m.values[index+1:], m.values[index:])
	m.values[index] = value
	for n, i := range m.indexOf {
		if i >= index {
			m.indexOf[n] = i + 1
		}
	}
	m.indexOf[name] = index
	return nil
}

// Replace swaps the field stored under oldName for value, which is now
// looked up under newName. The entry's position is preserved; if
// newName == oldName the map's ordering and keys are otherwise unchanged.
func (m *orderedUniqueMap) Replace(oldName, newName string, value Field) error {
	index, ok := m.indexOf[oldName]
	if !ok {
		return newMissingFieldError(oldName)
	}
	if newName != oldName {
		if _, taken := m.indexOf[newName]; taken {
			return ErrUniqueKey
		}
		delete(m.indexOf, oldName)
		m.indexOf[newName] = index
	}
	m.values[index] = value
	return nil
}

// ValueByIndex returns the field at position i.
func (m *orderedUniqueMap) ValueByIndex(i int) Field { return m.values[i] }

// IndexOf returns the position of name, or -1 if absent.
func (m *orderedUniqueMap) IndexOf(name string) int {
	if i, ok := m.indexOf[name]; ok {
		return i
	}
	return -1
}

// Get returns the field stored under name, or nil if absent.
func (m *orderedUniqueMap) Get(name string) Field {
	if i, ok := m.indexOf[name]; ok {
		return m.values[i]
	}
	return nil
}

// DeleteAt removes the entry at position index, shifting later entries
// (and their cached indices) down by one.
func (m *orderedUniqueMap) DeleteAt(index int) Field {
	removed := m.values[index]
	delete(m.indexOf, removed.Name())
	m.values = append(m.values[:index], m.values[index+1:]...)
	for n, i := range m.indexOf {
		if i > index {
			m.indexOf[n] = i - 1
		}
	}
	return removed
}

// Values returns the live backing slice in insertion order. Callers must
// not retain it across a mutation.
func (m *orderedUniqueMap) Values() []Field { return m.values }
