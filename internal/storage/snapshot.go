package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"vidloop-live/internal/models"
)

// Snapshot captures a complete JSON-serialisable view of the in-memory
// datastore, grouping each model collection by its primary identifier so it
// can be persisted and later replayed into another backing store.
type Snapshot struct {
	Users         map[string]models.User           `json:"users"`
	Videos        map[string]models.Video          `json:"videos"`
	VideoComments map[string][]models.VideoComment `json:"videoComments"`
	Follows       map[string]map[string]time.Time  `json:"follows"`
	GiftRecords   map[string][]models.GiftRecord   `json:"giftRecords"`
}

// SnapshotCounts summarises the size of each collection stored in a Snapshot
// to help operators understand how much data will be serialised and imported.
type SnapshotCounts struct {
	Users         int
	Videos        int
	VideoComments int
	Follows       int
	GiftRecords   int
}

// LoadSnapshotFromJSON reads a previously exported Snapshot from disk.
func LoadSnapshotFromJSON(path string) (*Snapshot, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot %s: %w", path, err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	var snapshot Snapshot
	if err := decoder.Decode(&snapshot); err != nil {
		if err == io.EOF {
			snapshot.ensureInitialized()
			return &snapshot, nil
		}
		return nil, fmt.Errorf("decode snapshot %s: %w", path, err)
	}
	snapshot.ensureInitialized()
	return &snapshot, nil
}

func (s *Snapshot) ensureInitialized() {
	if s.Users == nil {
		s.Users = make(map[string]models.User)
	}
	if s.Videos == nil {
		s.Videos = make(map[string]models.Video)
	}
	if s.VideoComments == nil {
		s.VideoComments = make(map[string][]models.VideoComment)
	}
	if s.Follows == nil {
		s.Follows = make(map[string]map[string]time.Time)
	}
	if s.GiftRecords == nil {
		s.GiftRecords = make(map[string][]models.GiftRecord)
	}
}

// Counts walks a Snapshot and returns the SnapshotCounts summary.
func (s *Snapshot) Counts() SnapshotCounts {
	if s == nil {
		return SnapshotCounts{}
	}
	counts := SnapshotCounts{
		Users:  len(s.Users),
		Videos: len(s.Videos),
	}
	for _, comments := range s.VideoComments {
		counts.VideoComments += len(comments)
	}
	for _, edges := range s.Follows {
		counts.Follows += len(edges)
	}
	for _, records := range s.GiftRecords {
		counts.GiftRecords += len(records)
	}
	return counts
}

// ExportSnapshot returns a Snapshot of the JSON store's current contents.
func (s *Storage) ExportSnapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data := cloneDataset(s.data)
	snapshot := &Snapshot{
		Users:         data.Users,
		Videos:        data.Videos,
		VideoComments: data.VideoComments,
		Follows:       data.Follows,
		GiftRecords:   data.GiftRecords,
	}
	snapshot.ensureInitialized()
	return snapshot
}

// ImportSnapshotToPostgres hands a Snapshot to the Postgres repository so the
// serialised datastore state can be bulk-loaded.
func ImportSnapshotToPostgres(ctx context.Context, repo Repository, snapshot *Snapshot) error {
	if snapshot == nil {
		return fmt.Errorf("snapshot is required")
	}
	pgRepo, ok := repo.(*postgresRepository)
	if !ok {
		return fmt.Errorf("postgres repository required for snapshot import")
	}
	snapshot.ensureInitialized()
	return pgRepo.importSnapshot(ctx, snapshot)
}
