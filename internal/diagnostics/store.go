package diagnostics

import (
	"sort"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/assert-lsp/internal/core"
	"github.com/hugo-lorenzo-mato/assert-lsp/internal/logging"
)

// Entry is one adapter's diagnostics for one file.
type Entry struct {
	Generation  uint64            `json:"generation"`
	Diagnostics []core.Diagnostic `json:"diagnostics"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// FileSet maps adapter name to its entry for a file.
type FileSet map[string]Entry

// WorkspaceState maps file path to its FileSet.
type WorkspaceState map[string]FileSet

// Merged flattens the set with adapters in name order.
func (fs FileSet) Merged() []core.Diagnostic {
	adapters := make([]string, 0, len(fs))
	for name := range fs {
		adapters = append(adapters, name)
	}
	sort.Strings(adapters)

	out := []core.Diagnostic{}
	for _, name := range adapters {
		out = append(out, fs[name].Diagnostics...)
	}
	return out
}

type fileState struct {
	mu      sync.Mutex
	entries FileSet
	// removed is set once the state is dropped from the store; holders of a
	// stale pointer must look the file up again.
	removed bool
}

// Store is the in-memory diagnostics state of a workspace.
type Store struct {
	mu        sync.RWMutex
	files     map[string]*fileState
	publisher core.Publisher
	logger    *logging.Logger
	now       func() time.Time
}

// NewStore creates an empty store publishing to p. A nil publisher
// discards updates.
func NewStore(p core.Publisher, logger *logging.Logger) *Store {
	if p == nil {
		p = core.PublisherFunc(func(string, []core.Diagnostic) {})
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Store{
		files:     make(map[string]*fileState),
		publisher: p,
		logger:    logger,
		now:       time.Now,
	}
}

// Apply replaces adapter's entry for file when generation is not older than
// the stored one. It reports whether the entry was replaced.
func (s *Store) Apply(file, adapter string, generation uint64, diags []core.Diagnostic) bool {
	return s.ApplyIf(file, adapter, generation, diags, nil)
}

// ApplyIf is Apply guarded by current, which is evaluated while the file is
// locked. Invalidations of the file are ordered either before the check or
// after the write, never in between.
func (s *Store) ApplyIf(file, adapter string, generation uint64, diags []core.Diagnostic, current func() bool) bool {
	for {
		st := s.state(file, true)
		st.mu.Lock()
		if st.removed {
			st.mu.Unlock()
			continue
		}
		if current != nil && !current() {
			if len(st.entries) == 0 {
				s.drop(file, st)
			}
			st.mu.Unlock()
			return false
		}

		if prev, ok := st.entries[adapter]; ok && generation < prev.Generation {
			st.mu.Unlock()
			s.logger.Debug("diagnostics: dropping stale result",
				"file", file,
				"adapter", adapter,
				"generation", generation,
				"stored_generation", prev.Generation,
			)
			return false
		}

		st.entries[adapter] = Entry{
			Generation:  generation,
			Diagnostics: append([]core.Diagnostic{}, diags...),
			UpdatedAt:   s.now(),
		}
		s.publisher.PublishDiagnostics(file, st.entries.Merged())
		st.mu.Unlock()
		return true
	}
}

// Invalidate removes every entry of file and publishes an empty list.
func (s *Store) Invalidate(file string) {
	st := s.state(file, false)
	if st == nil {
		s.publisher.PublishDiagnostics(file, []core.Diagnostic{})
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.removed {
		return
	}
	s.drop(file, st)
	s.publisher.PublishDiagnostics(file, []core.Diagnostic{})
}

// InvalidateAdapter removes adapter's entries from every file and
// republishes the files that changed. It returns the affected files.
func (s *Store) InvalidateAdapter(adapter string) []string {
	var affected []string
	for _, file := range s.allFiles() {
		st := s.state(file, false)
		if st == nil {
			continue
		}
		st.mu.Lock()
		if _, ok := st.entries[adapter]; ok && !st.removed {
			delete(st.entries, adapter)
			if len(st.entries) == 0 {
				s.drop(file, st)
			}
			s.publisher.PublishDiagnostics(file, st.entries.Merged())
			affected = append(affected, file)
		}
		st.mu.Unlock()
	}
	sort.Strings(affected)
	return affected
}

// Remove drops adapter's entry for file and republishes the file. It
// reports whether an entry existed.
func (s *Store) Remove(file, adapter string) bool {
	st := s.state(file, false)
	if st == nil {
		return false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.entries[adapter]; !ok || st.removed {
		return false
	}
	delete(st.entries, adapter)
	if len(st.entries) == 0 {
		s.drop(file, st)
	}
	s.publisher.PublishDiagnostics(file, st.entries.Merged())
	return true
}

// Has reports whether file has any entry.
func (s *Store) Has(file string) bool {
	st := s.state(file, false)
	if st == nil {
		return false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return !st.removed && len(st.entries) > 0
}

// Snapshot returns a copy of the entries for file.
func (s *Store) Snapshot(file string) FileSet {
	st := s.state(file, false)
	if st == nil {
		return FileSet{}
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return copySet(st.entries)
}

// Merged returns the published diagnostics of file.
func (s *Store) Merged(file string) []core.Diagnostic {
	return s.Snapshot(file).Merged()
}

// SnapshotWorkspace returns a copy of the whole state.
func (s *Store) SnapshotWorkspace() WorkspaceState {
	out := make(WorkspaceState)
	for _, file := range s.allFiles() {
		set := s.Snapshot(file)
		if len(set) > 0 {
			out[file] = set
		}
	}
	return out
}

// Files returns the files holding entries, sorted.
func (s *Store) Files() []string {
	var out []string
	for _, file := range s.allFiles() {
		if s.Has(file) {
			out = append(out, file)
		}
	}
	return out
}

func (s *Store) state(file string, create bool) *fileState {
	s.mu.RLock()
	st := s.files[file]
	s.mu.RUnlock()
	if st != nil || !create {
		return st
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if st = s.files[file]; st == nil {
		st = &fileState{entries: make(FileSet)}
		s.files[file] = st
	}
	return st
}

// drop removes st from the index. The caller holds st.mu.
func (s *Store) drop(file string, st *fileState) {
	st.removed = true
	st.entries = FileSet{}
	s.mu.Lock()
	if s.files[file] == st {
		delete(s.files, file)
	}
	s.mu.Unlock()
}

func (s *Store) allFiles() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.files))
	for file := range s.files {
		out = append(out, file)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}

func copySet(in FileSet) FileSet {
	out := make(FileSet, len(in))
	for k, v := range in {
		v.Diagnostics = append([]core.Diagnostic{}, v.Diagnostics...)
		out[k] = v
	}
	return out
}
