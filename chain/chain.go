// Package chain manipulates extension chains: singly linked lists of tagged
// records hanging off a create-info record, where each record's type tag
// says what its payload is.
package chain

// StructureType tags a record in a chain.
type StructureType int32

// Loader record types that a layer looks for while bootstrapping.
const (
	StructureTypeLoaderInstanceCreateInfo StructureType = 47
	StructureTypeLoaderDeviceCreateInfo   StructureType = 48
)

// Struct is one record in a chain.
type Struct struct {
	Type  StructureType
	Next  *Struct
	Value any
}

// Find returns the first record at or after head with the given type.
func Find(head *Struct, typ StructureType) *Struct {
	return FindFunc(head, func(s *Struct) bool { return s.Type == typ })
}

// FindFunc returns the first record at or after head for which match is true.
func FindFunc(head *Struct, match func(*Struct) bool) *Struct {
	for s := head; s != nil; s = s.Next {
		if match(s) {
			return s
		}
	}
	return nil
}

// FindAs returns the payload of the first record with the given type whose
// payload is a T.
func FindAs[T any](head *Struct, typ StructureType) (T, bool) {
	for s := head; s != nil; s = s.Next {
		if s.Type != typ {
			continue
		}
		if v, ok := s.Value.(T); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

// Remove unlinks the first record after parent with the given type. It
// returns the removed record and the record that preceded it, which is
// parent when the match was first in the chain. Both are nil when nothing
// matched.
func Remove(parent *Struct, typ StructureType) (removed, prev *Struct) {
	if parent == nil {
		return nil, nil
	}
	for prev = parent; prev.Next != nil; prev = prev.Next {
		if prev.Next.Type == typ {
			removed = prev.Next
			prev.Next = removed.Next
			removed.Next = nil
			return removed, prev
		}
	}
	return nil, nil
}

// Add links s directly after parent.
func Add(parent, s *Struct) {
	s.Next = parent.Next
	parent.Next = s
}

// Walk calls fn for each record from head on until fn returns false.
func Walk(head *Struct, fn func(*Struct) bool) {
	for s := head; s != nil; s = s.Next {
		if !fn(s) {
			return
		}
	}
}

// Len returns the number of records from head on.
func Len(head *Struct) int {
	n := 0
	for s := head; s != nil; s = s.Next {
		n++
	}
	return n
}
