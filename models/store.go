package models

import (
	"sync"

	"github.com/aukilabs/go-tooling/pkg/errors"
)

const (
	ErrTypeNotFound = "segmentation-not-found"

	// DefaultStoreCapacity is the number of segmentations kept when no
	// capacity is set.
	DefaultStoreCapacity = 128
)

// SegmentationStore keeps the most recent segmentations in memory. When full,
// the oldest segmentation is evicted.
type SegmentationStore struct {
	// The maximum number of stored segmentations.
	Capacity int

	initOnce sync.Once
	mutex    sync.RWMutex
	byID     map[string]*Segmentation
	byDigest map[string]*Segmentation
	order    []string
}

func (s *SegmentationStore) init() {
	s.byID = make(map[string]*Segmentation)
	s.byDigest = make(map[string]*Segmentation)

	if s.Capacity <= 0 {
		s.Capacity = DefaultStoreCapacity
	}
}

// Add stores a segmentation, replacing any segmentation with the same id.
func (s *SegmentationStore) Add(seg *Segmentation) {
	s.initOnce.Do(s.init)
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.byID[seg.ID]; ok {
		s.remove(seg.ID)
	}

	for len(s.order) >= s.Capacity {
		s.remove(s.order[0])
		instrumentEviction()
	}

	s.byID[seg.ID] = seg
	if seg.Digest != "" {
		s.byDigest[seg.Digest] = seg
	}
	s.order = append(s.order, seg.ID)

	instrumentIncreaseStoreGauge()
	instrumentCountSegmentation()
}

// Get returns the segmentation with the given id.
func (s *SegmentationStore) Get(id string) (*Segmentation, error) {
	s.initOnce.Do(s.init)
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	seg, ok := s.byID[id]
	if !ok {
		return nil, errors.New("segmentation not found").
			WithType(ErrTypeNotFound).
			WithTag("id", id)
	}
	return seg, nil
}

// GetByDigest returns the segmentation computed from the input with the given
// digest.
func (s *SegmentationStore) GetByDigest(digest string) (*Segmentation, bool) {
	s.initOnce.Do(s.init)
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	seg, ok := s.byDigest[digest]
	return seg, ok
}

// Remove deletes the segmentation with the given id.
func (s *SegmentationStore) Remove(id string) error {
	s.initOnce.Do(s.init)
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.byID[id]; !ok {
		return errors.New("segmentation not found").
			WithType(ErrTypeNotFound).
			WithTag("id", id)
	}
	s.remove(id)
	return nil
}

func (s *SegmentationStore) remove(id string) {
	seg := s.byID[id]
	delete(s.byID, id)
	if seg.Digest != "" && s.byDigest[seg.Digest] == seg {
		delete(s.byDigest, seg.Digest)
	}

	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}

	instrumentDecreaseStoreGauge()
}

// Len returns the number of stored segmentations.
func (s *SegmentationStore) Len() int {
	s.initOnce.Do(s.init)
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return len(s.byID)
}

// List returns the stored segmentations, oldest first.
func (s *SegmentationStore) List() []*Segmentation {
	s.initOnce.Do(s.init)
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	segs := make([]*Segmentation, 0, len(s.order))
	for _, id := range s.order {
		segs = append(segs, s.byID[id])
	}
	return segs
}
