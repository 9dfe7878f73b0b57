package render

import (
	"errors"
	"sync"
)

var errSinkRejected = errors.New("sink rejected patch")

// recordingSink captures every patch it receives, in order, and can
// mirror them into its own Tree to act as a stand-in display surface.
type recordingSink struct {
	mu      sync.Mutex
	patches []Patch
	view    *Tree
	failOn  PatchKind
	failSet bool
}

func newRecordingSink() *recordingSink {
	return &recordingSink{view: NewTree()}
}

func (s *recordingSink) ApplyPatch(patch Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSet && patch.Kind == s.failOn {
		return errSinkRejected
	}
	s.patches = append(s.patches, patch)
	return s.view.Apply(patch)
}

func (s *recordingSink) rejectKind(kind PatchKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failOn = kind
	s.failSet = true
}

func (s *recordingSink) recorded() []Patch {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Patch, len(s.patches))
	copy(out, s.patches)
	return out
}

// ofKind filters the recorded patches by kind.
func (s *recordingSink) ofKind(kind PatchKind) []Patch {
	var out []Patch
	for _, p := range s.recorded() {
		if p.Kind == kind {
			out = append(out, p)
		}
	}
	return out
}
