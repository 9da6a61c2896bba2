// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/shuxueshuxue/Codebox/services/codebox/model"
	cbbadger "github.com/shuxueshuxue/Codebox/services/codebox/storage/badger"
)

// Key layout:
//
//	f/<project>/d/<path>         directory record
//	f/<project>/f/<path>         file record
//	F/<project>/<id>             feature
//	e/<project>/<id>             feature edge
//	s/<project>/<pass>/d/<path>  staged directory record
//	s/<project>/<pass>/f/<path>  staged file record
//	c/<project>/<pass>           staged pass marker
//
// Project, pass and ids are zero-padded to 20 digits so lexical order is
// numeric.
//
// An upsert too large for one transaction is written under s/ in chunks.
// Its c/ marker is committed last in a transaction of its own; staged
// records of a marked pass overlay f/ on read until they are folded in.
// Unmarked staged records belong to an interrupted pass and are dropped.
const (
	filePrefix    = "f"
	featurePrefix = "F"
	edgePrefix    = "e"
	stagePrefix   = "s"
	markerPrefix  = "c"
)

var passSeqKey = []byte("meta/pass_seq")

func projectPrefix(kind string, projectID int64) []byte {
	return []byte(fmt.Sprintf("%s/%020d/", kind, projectID))
}

// fileSuffix is the part of a file key after its project or pass prefix.
func fileSuffix(path string, isDir bool) string {
	if isDir {
		return "d/" + path
	}
	return "f/" + path
}

func fileKey(projectID int64, path string, isDir bool) []byte {
	return []byte(fmt.Sprintf("%s/%020d/%s", filePrefix, projectID, fileSuffix(path, isDir)))
}

func idKey(kind string, projectID, id int64) []byte {
	return []byte(fmt.Sprintf("%s/%020d/%020d", kind, projectID, id))
}

func stagePassPrefix(projectID, pass int64) []byte {
	return []byte(fmt.Sprintf("%s/%020d/%020d/", stagePrefix, projectID, pass))
}

// joinKey returns a fresh slice; badger keeps key slices until commit.
func joinKey(prefix []byte, suffix string) []byte {
	key := make([]byte, 0, len(prefix)+len(suffix))
	key = append(key, prefix...)
	return append(key, suffix...)
}

// parsePass reads the 20-digit pass number at the start of rest.
func parsePass(rest []byte) (int64, error) {
	if len(rest) < 20 {
		return 0, fmt.Errorf("short pass key %q", rest)
	}
	return strconv.ParseInt(string(rest[:20]), 10, 64)
}

// BadgerStore implements Store on top of an opened index database.
//
// Thread Safety: Safe for concurrent use. File upserts are serialized.
type BadgerStore struct {
	db *cbbadger.DB
	mu sync.Mutex
}

// NewBadgerStore wraps db. The caller keeps ownership of db.
func NewBadgerStore(db *cbbadger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

// ListFiles implements FileStore.
func (s *BadgerStore) ListFiles(ctx context.Context, projectID int64, q FileQuery) ([]model.FileRecord, error) {
	var paths map[string]struct{}
	if len(q.Paths) > 0 {
		paths = make(map[string]struct{}, len(q.Paths))
		for _, p := range q.Paths {
			paths[p] = struct{}{}
		}
	}

	var kind string
	switch q.Kind {
	case KindDir:
		kind = "d/"
	case KindFile:
		kind = "f/"
	}

	var out []model.FileRecord
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		passes, err := markedPasses(txn, projectID)
		if err != nil {
			return err
		}
		if len(passes) == 0 {
			return cbbadger.ScanPrefix(txn, joinKey(projectPrefix(filePrefix, projectID), kind), func(_, value []byte) error {
				rec, err := decodeFile(value)
				if err != nil {
					return err
				}
				if matchFile(rec, q, paths) {
					out = append(out, rec)
				}
				return nil
			})
		}

		// Later passes win over earlier ones and over folded records.
		merged := make(map[string]model.FileRecord)
		layers := [][]byte{projectPrefix(filePrefix, projectID)}
		for _, pass := range passes {
			layers = append(layers, stagePassPrefix(projectID, pass))
		}
		for _, layer := range layers {
			err := cbbadger.ScanPrefix(txn, joinKey(layer, kind), func(key, value []byte) error {
				rec, err := decodeFile(value)
				if err != nil {
					return err
				}
				merged[string(key[len(layer):])] = rec
				return nil
			})
			if err != nil {
				return err
			}
		}
		for _, rec := range merged {
			if matchFile(rec, q, paths) {
				out = append(out, rec)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	SortFiles(out)
	return out, nil
}

func decodeFile(value []byte) (model.FileRecord, error) {
	var rec model.FileRecord
	if err := json.Unmarshal(value, &rec); err != nil {
		return rec, fmt.Errorf("decode file record: %w", err)
	}
	return rec, nil
}

// markedPasses returns the committed staged passes of a project in order.
func markedPasses(txn *badger.Txn, projectID int64) ([]int64, error) {
	prefix := projectPrefix(markerPrefix, projectID)
	var passes []int64
	err := cbbadger.ScanKeys(txn, prefix, func(key []byte) error {
		pass, err := parsePass(key[len(prefix):])
		if err != nil {
			return err
		}
		passes = append(passes, pass)
		return nil
	})
	return passes, err
}

func matchFile(rec model.FileRecord, q FileQuery, paths map[string]struct{}) bool {
	if rec.IsDeleted && !q.IncludeDeleted {
		return false
	}
	if q.ParentSet {
		if q.Parent == "" && rec.ParentPath != nil {
			return false
		}
		if q.Parent != "" && (rec.ParentPath == nil || *rec.ParentPath != q.Parent) {
			return false
		}
	}
	if q.Under != "" && rec.Path != q.Under && !strings.HasPrefix(rec.Path, q.Under+"/") {
		return false
	}
	if paths != nil {
		if _, ok := paths[rec.Path]; !ok {
			return false
		}
	}
	return true
}

// SortFiles orders records directories first, then by path.
func SortFiles(recs []model.FileRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].IsDir != recs[j].IsDir {
			return recs[i].IsDir
		}
		return recs[i].Path < recs[j].Path
	})
}

type encodedFile struct {
	suffix string
	value  []byte
}

// UpsertFiles implements FileStore.
//
// Description:
//
//	Writes records in one transaction when they fit. A larger set is
//	staged in chunks and published by a single marker commit, so a
//	failure before the marker leaves nothing visible. Staged passes left
//	by an earlier interrupted call are folded or dropped first.
func (s *BadgerStore) UpsertFiles(ctx context.Context, projectID int64, records []model.FileRecord) error {
	if len(records) == 0 {
		return nil
	}
	files := make([]encodedFile, len(records))
	for i := range records {
		rec := records[i]
		if rec.Path == "" {
			return fmt.Errorf("upsert %d files: %w: empty path", len(records), ErrInvalidRecord)
		}
		rec.ProjectID = projectID
		val, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("upsert %d files: encode %s: %w", len(records), rec.Path, err)
		}
		files[i] = encodedFile{suffix: fileSuffix(rec.Path, rec.IsDir), value: val}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.recoverPasses(ctx, projectID); err != nil {
		return fmt.Errorf("upsert %d files: %w", len(records), err)
	}

	folded := projectPrefix(filePrefix, projectID)
	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		for _, f := range files {
			if err := txn.Set(joinKey(folded, f.suffix), f.value); err != nil {
				return fmt.Errorf("set %s: %w", f.suffix, err)
			}
		}
		return nil
	})
	if errors.Is(err, badger.ErrTxnTooBig) {
		err = s.upsertStaged(ctx, projectID, files)
	}
	if err != nil {
		return fmt.Errorf("upsert %d files: %w", len(records), err)
	}
	return nil
}

// upsertStaged writes files under a new pass and publishes it. Once the
// marker commits the call has succeeded; folding is finished by the next
// upsert if it fails here.
func (s *BadgerStore) upsertStaged(ctx context.Context, projectID int64, files []encodedFile) error {
	pass, err := s.nextPass(ctx)
	if err != nil {
		return err
	}
	prefix := stagePassPrefix(projectID, pass)
	err = s.db.WriteChunked(ctx, len(files), func(txn *badger.Txn, i int) error {
		if err := txn.Set(joinKey(prefix, files[i].suffix), files[i].value); err != nil {
			return fmt.Errorf("stage %s: %w", files[i].suffix, err)
		}
		return nil
	})
	if err == nil {
		err = s.db.WithTxn(ctx, func(txn *badger.Txn) error {
			return txn.Set(idKey(markerPrefix, projectID, pass), nil)
		})
	}
	if err != nil {
		if dropErr := s.dropPass(context.WithoutCancel(ctx), projectID, pass); dropErr != nil {
			return errors.Join(fmt.Errorf("stage pass %d: %w", pass, err), dropErr)
		}
		return fmt.Errorf("stage pass %d: %w", pass, err)
	}

	_ = s.foldPass(context.WithoutCancel(ctx), projectID, pass)
	return nil
}

func (s *BadgerStore) nextPass(ctx context.Context) (int64, error) {
	var pass int64
	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(passSeqKey)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return fmt.Errorf("read pass sequence: %w", err)
		default:
			if err := item.Value(func(val []byte) error {
				pass, err = strconv.ParseInt(string(val), 10, 64)
				return err
			}); err != nil {
				return fmt.Errorf("decode pass sequence: %w", err)
			}
		}
		pass++
		return txn.Set(passSeqKey, []byte(strconv.FormatInt(pass, 10)))
	})
	return pass, err
}

// recoverPasses folds every marked pass of a project and drops staged
// records that never got a marker.
func (s *BadgerStore) recoverPasses(ctx context.Context, projectID int64) error {
	var marked []int64
	staged := make(map[int64]struct{})
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		var err error
		if marked, err = markedPasses(txn, projectID); err != nil {
			return err
		}
		prefix := projectPrefix(stagePrefix, projectID)
		var last int64 = -1
		return cbbadger.ScanKeys(txn, prefix, func(key []byte) error {
			pass, err := parsePass(key[len(prefix):])
			if err != nil {
				return err
			}
			if pass != last {
				staged[pass] = struct{}{}
				last = pass
			}
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("find staged passes: %w", err)
	}

	for _, pass := range marked {
		if err := s.foldPass(ctx, projectID, pass); err != nil {
			return err
		}
		delete(staged, pass)
	}
	for pass := range staged {
		if err := s.dropPass(ctx, projectID, pass); err != nil {
			return err
		}
	}
	return nil
}

// foldPass moves a marked pass into the main records chunk by chunk and
// removes its marker last. Each chunk is idempotent.
func (s *BadgerStore) foldPass(ctx context.Context, projectID int64, pass int64) error {
	prefix := stagePassPrefix(projectID, pass)
	var keys, values [][]byte
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return cbbadger.ScanPrefix(txn, prefix, func(key, value []byte) error {
			keys = append(keys, key)
			values = append(values, append([]byte(nil), value...))
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("read pass %d: %w", pass, err)
	}

	folded := projectPrefix(filePrefix, projectID)
	err = s.db.WriteChunked(ctx, len(keys), func(txn *badger.Txn, i int) error {
		if err := txn.Set(joinKey(folded, string(keys[i][len(prefix):])), values[i]); err != nil {
			return err
		}
		return txn.Delete(keys[i])
	})
	if err != nil {
		return fmt.Errorf("fold pass %d: %w", pass, err)
	}
	err = s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Delete(idKey(markerPrefix, projectID, pass))
	})
	if err != nil {
		return fmt.Errorf("unmark pass %d: %w", pass, err)
	}
	return nil
}

// dropPass deletes the staged records of an unmarked pass.
func (s *BadgerStore) dropPass(ctx context.Context, projectID int64, pass int64) error {
	prefix := stagePassPrefix(projectID, pass)
	var keys [][]byte
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return cbbadger.ScanKeys(txn, prefix, func(key []byte) error {
			keys = append(keys, key)
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("read pass %d: %w", pass, err)
	}
	err = s.db.WriteChunked(ctx, len(keys), func(txn *badger.Txn, i int) error {
		return txn.Delete(keys[i])
	})
	if err != nil {
		return fmt.Errorf("drop pass %d: %w", pass, err)
	}
	return nil
}

// ListFeatures implements FeatureStore.
func (s *BadgerStore) ListFeatures(ctx context.Context, projectID int64, includeDeleted bool) ([]model.Feature, error) {
	var out []model.Feature
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return cbbadger.ScanPrefix(txn, projectPrefix(featurePrefix, projectID), func(_, value []byte) error {
			var f model.Feature
			if err := json.Unmarshal(value, &f); err != nil {
				return fmt.Errorf("decode feature: %w", err)
			}
			if f.IsDeleted && !includeDeleted {
				return nil
			}
			out = append(out, f)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list features: %w", err)
	}
	return out, nil
}

// ListFeatureEdges implements FeatureStore.
func (s *BadgerStore) ListFeatureEdges(ctx context.Context, projectID int64, includeDeleted bool) ([]model.FeatureEdge, error) {
	var out []model.FeatureEdge
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return cbbadger.ScanPrefix(txn, projectPrefix(edgePrefix, projectID), func(_, value []byte) error {
			var e model.FeatureEdge
			if err := json.Unmarshal(value, &e); err != nil {
				return fmt.Errorf("decode feature edge: %w", err)
			}
			if e.IsDeleted && !includeDeleted {
				return nil
			}
			out = append(out, e)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list feature edges: %w", err)
	}
	return out, nil
}

// UpdateFeatureCoords implements FeatureStore.
func (s *BadgerStore) UpdateFeatureCoords(ctx context.Context, projectID int64, coords map[int64]model.Axial) (int, error) {
	ids := make([]int64, 0, len(coords))
	for id := range coords {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	updated := 0
	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		updated = 0
		for _, id := range ids {
			key := idKey(featurePrefix, projectID, id)
			item, err := txn.Get(key)
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return fmt.Errorf("get feature %d: %w", id, err)
			}
			var f model.Feature
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &f)
			}); err != nil {
				return fmt.Errorf("decode feature %d: %w", id, err)
			}
			if f.IsDeleted {
				continue
			}
			f.SetCoord(coords[id])
			val, err := json.Marshal(f)
			if err != nil {
				return fmt.Errorf("encode feature %d: %w", id, err)
			}
			if err := txn.Set(key, val); err != nil {
				return fmt.Errorf("set feature %d: %w", id, err)
			}
			updated++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("update feature coords: %w", err)
	}
	return updated, nil
}

// PutGraph implements FeatureStore.
func (s *BadgerStore) PutGraph(ctx context.Context, projectID int64, features []model.Feature, edges []model.FeatureEdge) error {
	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		for i := range features {
			f := features[i]
			f.ProjectID = projectID
			val, err := json.Marshal(f)
			if err != nil {
				return fmt.Errorf("encode feature %d: %w", f.ID, err)
			}
			if err := txn.Set(idKey(featurePrefix, projectID, f.ID), val); err != nil {
				return fmt.Errorf("set feature %d: %w", f.ID, err)
			}
		}
		for i := range edges {
			e := edges[i]
			e.ProjectID = projectID
			val, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("encode edge %d: %w", e.ID, err)
			}
			if err := txn.Set(idKey(edgePrefix, projectID, e.ID), val); err != nil {
				return fmt.Errorf("set edge %d: %w", e.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("put graph: %w", err)
	}
	return nil
}

var _ Store = (*BadgerStore)(nil)
