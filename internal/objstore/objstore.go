// Package objstore implements an ID-indexed table of owned values.
// IDs are handed out in increasing order and are never reused, even
// after the value they referred to is deleted.
package objstore

import "slices"

type Store[T any] struct {
	objects map[uint32]T
	nextID  uint32
}

func New[T any](start uint32) *Store[T] {
	return &Store[T]{
		objects: make(map[uint32]T),
		nextID:  start,
	}
}

// Add stores obj under the next unused ID and returns that ID.
func (s *Store[T]) Add(obj T) uint32 {
	id := s.nextID
	s.nextID++

	s.objects[id] = obj
	return id
}

// Set stores obj under a specific ID, such as one allocated by the
// other end of a connection.
func (s *Store[T]) Set(id uint32, obj T) {
	s.objects[id] = obj
}

func (s *Store[T]) Get(id uint32) (obj T, ok bool) {
	obj, ok = s.objects[id]
	return obj, ok
}

// Delete removes and returns the object stored under id.
func (s *Store[T]) Delete(id uint32) (obj T, ok bool) {
	obj, ok = s.objects[id]
	delete(s.objects, id)
	return obj, ok
}

func (s *Store[T]) Len() int {
	return len(s.objects)
}

// NextID returns the ID that the next call to Add will use.
func (s *Store[T]) NextID() uint32 {
	return s.nextID
}

// IDs returns the IDs currently in use in ascending order.
func (s *Store[T]) IDs() []uint32 {
	ids := make([]uint32, 0, len(s.objects))
	for id := range s.objects {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
