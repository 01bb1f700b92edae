package results

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/jordanhubbard/ensemble/internal/files"
	"github.com/jordanhubbard/ensemble/pkg/models"
)

// FileStore keeps results as a JSON array rewritten wholesale on each append.
type FileStore struct {
	path string
	max  int
	mu   sync.Mutex
}

func NewFileStore(path string, max int) *FileStore {
	if max <= 0 {
		max = models.MaxResults
	}
	return &FileStore{path: path, max: max}
}

func (s *FileStore) Append(ctx context.Context, results []models.JobResult) error {
	if len(results) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	all := merge(results, s.read(), s.max)
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	if err := files.WriteAtomic(s.path, data); err != nil {
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	return nil
}

func (s *FileStore) ReadAll(ctx context.Context) []models.JobResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

func (s *FileStore) read() []models.JobResult {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("[Results] Warning: cannot read %s: %v", s.path, err)
		}
		return []models.JobResult{}
	}
	var out []models.JobResult
	if err := json.Unmarshal(data, &out); err != nil {
		log.Printf("[Results] Warning: %s is corrupt, treating as empty: %v", s.path, err)
		return []models.JobResult{}
	}
	if out == nil {
		out = []models.JobResult{}
	}
	return out
}
