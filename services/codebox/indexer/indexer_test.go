// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package indexer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shuxueshuxue/Codebox/services/codebox/idgen"
	"github.com/shuxueshuxue/Codebox/services/codebox/model"
	cbbadger "github.com/shuxueshuxue/Codebox/services/codebox/storage/badger"
	"github.com/shuxueshuxue/Codebox/services/codebox/store"
)

const helloSHA256 = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"

func newTestStore(t *testing.T) *store.BadgerStore {
	t.Helper()
	db, err := cbbadger.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return store.NewBadgerStore(db)
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

// clock returns successive times one minute apart, starting one minute
// from now so freshly written files always predate the first scan.
func clock() func() time.Time {
	t := time.Now().Add(time.Minute)
	return func() time.Time {
		cur := t
		t = t.Add(time.Minute)
		return cur
	}
}

func newTestIndexer(t *testing.T, st store.FileStore, root string, mutate func(*Policy)) *Indexer {
	t.Helper()
	policy := DefaultPolicy()
	if mutate != nil {
		mutate(&policy)
	}
	ix := New(st, idgen.MustSnowflake(0, 1), policy, root, nil)
	ix.now = clock()
	return ix
}

func byKey(t *testing.T, st store.FileStore, projectID int64, q store.FileQuery) map[string]model.FileRecord {
	t.Helper()
	recs, err := st.ListFiles(context.Background(), projectID, q)
	require.NoError(t, err)
	out := make(map[string]model.FileRecord, len(recs))
	for _, r := range recs {
		out[r.Key().String()] = r
	}
	return out
}

func keys(m map[string]model.FileRecord) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestScanWorkspace_RecordsTreeWithIgnoreAndDepth(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "README.md", "# hi")
	writeFile(t, root, "a/b.py", "import os\n")
	writeFile(t, root, "a/c.py", "")
	writeFile(t, root, "node_modules/x/index.js", "")
	writeFile(t, root, ".git/config", "")
	writeFile(t, root, "d1/d2/f2.txt", "x")
	writeFile(t, root, "d1/d2/d3/deep.txt", "x")

	st := newTestStore(t)
	ix := newTestIndexer(t, st, root, func(p *Policy) { p.MaxDepth = 2 })

	res, err := ix.ScanWorkspace(context.Background(), 1, "")
	require.NoError(t, err)
	assert.Nil(t, res.Skipped)
	assert.Empty(t, res.Errors)
	assert.NotEmpty(t, res.ScanID)
	assert.Equal(t, 7, res.Touched)

	recs := byKey(t, st, 1, store.FileQuery{})
	assert.ElementsMatch(t, []string{
		"README.md", "a/", "a/b.py", "a/c.py", "d1/", "d1/d2/", "d1/d2/f2.txt",
	}, keys(recs))

	readme := recs["README.md"]
	assert.Nil(t, readme.ParentPath)
	assert.Equal(t, "md", model.Deref(readme.Lang))
	assert.Equal(t, int64(4), model.Deref(readme.SizeBytes))
	assert.Nil(t, readme.Hash)

	bpy := recs["a/b.py"]
	assert.Equal(t, "a", model.Deref(bpy.ParentPath))
	assert.Equal(t, "python", model.Deref(bpy.Lang))
	assert.NotZero(t, bpy.ID)
	require.NotNil(t, bpy.LastScannedTime)
	assert.True(t, bpy.LastScannedTime.Equal(res.StartedAt))

	dir := recs["d1/d2/"]
	assert.True(t, dir.IsDir)
	assert.Nil(t, dir.SizeBytes)
	assert.Nil(t, dir.Hash)
	assert.Nil(t, dir.Lang)
	assert.Equal(t, "d1", model.Deref(dir.ParentPath))

	assert.Nil(t, recs["d1/"].ParentPath)
}

func TestScanWorkspace_ZeroDepthRecordsOnlyRootFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "top.txt", "x")
	writeFile(t, root, "sub/inner.txt", "x")

	st := newTestStore(t)
	ix := newTestIndexer(t, st, root, func(p *Policy) { p.MaxDepth = 0 })
	res, err := ix.ScanWorkspace(context.Background(), 1, "")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Touched)
	assert.ElementsMatch(t, []string{"top.txt"}, keys(byKey(t, st, 1, store.FileQuery{})))
}

func TestScanWorkspace_Idempotent(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "hello.txt", "hello")
	writeFile(t, root, "pkg/mod.py", "x = 1\n")

	st := newTestStore(t)
	ix := newTestIndexer(t, st, root, func(p *Policy) { p.HashEnabled = true })
	ctx := context.Background()

	first, err := ix.ScanWorkspace(ctx, 1, "")
	require.NoError(t, err)
	assert.Equal(t, 2, first.Hashed)
	before := byKey(t, st, 1, store.FileQuery{})
	assert.Equal(t, helloSHA256, model.Deref(before["hello.txt"].Hash))

	second, err := ix.ScanWorkspace(ctx, 1, "")
	require.NoError(t, err)
	assert.Equal(t, first.Touched, second.Touched)
	assert.Equal(t, 0, second.Hashed)

	after := byKey(t, st, 1, store.FileQuery{})
	require.Equal(t, len(before), len(after))
	for k, b := range before {
		a := after[k]
		assert.Equal(t, b.ID, a.ID, k)
		assert.Equal(t, b.Hash, a.Hash, k)
		assert.Equal(t, b.SizeBytes, a.SizeBytes, k)
		assert.True(t, a.LastScannedTime.After(*b.LastScannedTime), k)
	}
}

func TestScanWorkspace_ChangeDetection(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "f.txt", "aaaa")

	st := newTestStore(t)
	ix := newTestIndexer(t, st, root, func(p *Policy) { p.HashEnabled = true })
	ctx := context.Background()

	_, err := ix.ScanWorkspace(ctx, 1, "")
	require.NoError(t, err)
	oldHash := model.Deref(byKey(t, st, 1, store.FileQuery{})["f.txt"].Hash)

	// Same size, mtime bumped past the previous scan time.
	writeFile(t, root, "f.txt", "bbbb")
	bumped := time.Now().Add(90 * time.Second)
	require.NoError(t, os.Chtimes(filepath.Join(root, "f.txt"), bumped, bumped))

	res, err := ix.ScanWorkspace(ctx, 1, "")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Hashed)
	newHash := model.Deref(byKey(t, st, 1, store.FileQuery{})["f.txt"].Hash)
	assert.NotEmpty(t, newHash)
	assert.NotEqual(t, oldHash, newHash)
}

func TestScanWorkspace_HashPolicy(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "small.txt", "hello")
	writeFile(t, root, "big.txt", "0123456789")
	ctx := context.Background()

	t.Run("disabled", func(t *testing.T) {
		st := newTestStore(t)
		ix := newTestIndexer(t, st, root, nil)
		res, err := ix.ScanWorkspace(ctx, 1, "")
		require.NoError(t, err)
		assert.Equal(t, 0, res.Hashed)
		for _, r := range byKey(t, st, 1, store.FileQuery{}) {
			assert.Nil(t, r.Hash)
		}
	})

	t.Run("threshold", func(t *testing.T) {
		st := newTestStore(t)
		ix := newTestIndexer(t, st, root, func(p *Policy) {
			p.HashEnabled = true
			p.HashMaxBytes = 5
		})
		_, err := ix.ScanWorkspace(ctx, 1, "")
		require.NoError(t, err)
		recs := byKey(t, st, 1, store.FileQuery{})
		assert.Equal(t, helloSHA256, model.Deref(recs["small.txt"].Hash))
		assert.Nil(t, recs["big.txt"].Hash)
	})

	t.Run("enabled later hashes unchanged files without digest", func(t *testing.T) {
		st := newTestStore(t)
		ix := newTestIndexer(t, st, root, nil)
		_, err := ix.ScanWorkspace(ctx, 1, "")
		require.NoError(t, err)

		hashing := newTestIndexer(t, st, root, func(p *Policy) { p.HashEnabled = true })
		hashing.now = func() time.Time { return time.Now().Add(time.Hour) }
		res, err := hashing.ScanWorkspace(ctx, 1, "")
		require.NoError(t, err)
		assert.Equal(t, 2, res.Hashed)
	})
}

func TestScanWorkspace_RootOverride(t *testing.T) {
	other := t.TempDir()
	writeFile(t, other, "x.js", "")

	st := newTestStore(t)
	ix := newTestIndexer(t, st, t.TempDir(), nil)
	res, err := ix.ScanWorkspace(context.Background(), 3, other)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Touched)
	rec := byKey(t, st, 3, store.FileQuery{})["x.js"]
	assert.Equal(t, "js", model.Deref(rec.Lang))
}

func TestScanWorkspace_MissingRoot(t *testing.T) {
	st := newTestStore(t)
	ix := newTestIndexer(t, st, filepath.Join(t.TempDir(), "missing"), nil)
	res, err := ix.ScanWorkspace(context.Background(), 1, "")
	require.NoError(t, err)
	assert.ErrorIs(t, res.Skipped, ErrNotDirectory)
	assert.Equal(t, 0, res.Touched)
}

func TestScanWorkspace_Symlinks(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	writeFile(t, root, "real/target.py", "")
	writeFile(t, outside, "secret.txt", "s")
	require.NoError(t, os.Symlink("nowhere.py", filepath.Join(root, "broken.py")))
	require.NoError(t, os.Symlink("real", filepath.Join(root, "linkdir")))
	require.NoError(t, os.Symlink("real/target.py", filepath.Join(root, "alias.py")))
	require.NoError(t, os.Symlink(filepath.Join(outside, "secret.txt"), filepath.Join(root, "escape.txt")))

	st := newTestStore(t)
	ix := newTestIndexer(t, st, root, nil)
	res, err := ix.ScanWorkspace(context.Background(), 1, "")
	require.NoError(t, err)

	recs := byKey(t, st, 1, store.FileQuery{})
	assert.ElementsMatch(t, []string{
		"alias.py", "broken.py", "escape.txt", "real/", "real/target.py",
	}, keys(recs))
	assert.Nil(t, recs["broken.py"].SizeBytes)
	assert.Nil(t, recs["escape.txt"].SizeBytes)
	assert.Equal(t, int64(0), model.Deref(recs["alias.py"].SizeBytes))
	assert.NotNil(t, recs["alias.py"].SizeBytes)

	require.Len(t, res.Errors, 2)
	failed := []string{res.Errors[0].Path, res.Errors[1].Path}
	assert.ElementsMatch(t, []string{"broken.py", "escape.txt"}, failed)
}

func TestScanWorkspace_ReportErrors(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Symlink("nowhere", filepath.Join(root, "broken")))

	st := newTestStore(t)
	ix := newTestIndexer(t, st, root, func(p *Policy) { p.ReportErrors = true })
	res, err := ix.ScanWorkspace(context.Background(), 1, "")

	var partial *PartialError
	require.ErrorAs(t, err, &partial)
	require.Len(t, partial.Errors, 1)
	assert.Equal(t, "broken", partial.Errors[0].Path)
	assert.ErrorIs(t, err, os.ErrNotExist)

	// Committed regardless.
	require.NotNil(t, res)
	assert.Equal(t, 1, res.Touched)
	assert.Len(t, byKey(t, st, 1, store.FileQuery{}), 1)
}

func TestScanWorkspace_PruneStale(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "keep.py", "")
	writeFile(t, root, "gone.py", "")
	writeFile(t, root, "dir/inner.py", "")

	st := newTestStore(t)
	ix := newTestIndexer(t, st, root, func(p *Policy) { p.PruneStale = true })
	ctx := context.Background()

	_, err := ix.ScanWorkspace(ctx, 1, "")
	require.NoError(t, err)
	goneID := byKey(t, st, 1, store.FileQuery{})["gone.py"].ID

	require.NoError(t, os.Remove(filepath.Join(root, "gone.py")))
	require.NoError(t, os.RemoveAll(filepath.Join(root, "dir")))

	res, err := ix.ScanWorkspace(ctx, 1, "")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Touched)
	assert.Equal(t, 3, res.Pruned)
	assert.ElementsMatch(t, []string{"keep.py"}, keys(byKey(t, st, 1, store.FileQuery{})))

	all := byKey(t, st, 1, store.FileQuery{IncludeDeleted: true})
	assert.True(t, all["gone.py"].IsDeleted)
	assert.True(t, all["dir/"].IsDeleted)

	// Re-observation revives the record under its old id.
	writeFile(t, root, "gone.py", "")
	res, err = ix.ScanWorkspace(ctx, 1, "")
	require.NoError(t, err)
	assert.Equal(t, 0, res.Pruned)
	revived := byKey(t, st, 1, store.FileQuery{})["gone.py"]
	assert.False(t, revived.IsDeleted)
	assert.Equal(t, goneID, revived.ID)
}

func TestScanWorkspace_NoPruneByDefault(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "gone.py", "")

	st := newTestStore(t)
	ix := newTestIndexer(t, st, root, nil)
	ctx := context.Background()
	_, err := ix.ScanWorkspace(ctx, 1, "")
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(root, "gone.py")))

	res, err := ix.ScanWorkspace(ctx, 1, "")
	require.NoError(t, err)
	assert.Equal(t, 0, res.Pruned)
	assert.Contains(t, keys(byKey(t, st, 1, store.FileQuery{})), "gone.py")
}

func TestScanOneLevel(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "top.md", "")
	writeFile(t, root, "a/b.py", "")
	writeFile(t, root, "a/sub/deep.py", "")
	writeFile(t, root, "a/.venv/lib.py", "")
	ctx := context.Background()

	t.Run("root", func(t *testing.T) {
		st := newTestStore(t)
		ix := newTestIndexer(t, st, root, nil)
		res, err := ix.ScanOneLevel(ctx, 1, "")
		require.NoError(t, err)
		assert.Equal(t, 2, res.Touched)
		assert.ElementsMatch(t, []string{"a/", "top.md"}, keys(byKey(t, st, 1, store.FileQuery{})))
	})

	t.Run("subdirectory", func(t *testing.T) {
		st := newTestStore(t)
		ix := newTestIndexer(t, st, root, nil)
		res, err := ix.ScanOneLevel(ctx, 1, "./a/")
		require.NoError(t, err)
		assert.Equal(t, 2, res.Touched)
		recs := byKey(t, st, 1, store.FileQuery{})
		assert.ElementsMatch(t, []string{"a/b.py", "a/sub/"}, keys(recs))
		assert.Equal(t, "a", model.Deref(recs["a/sub/"].ParentPath))
	})

	for _, parent := range []string{"../etc", "a/../../x", "..", "/etc", `..\x`} {
		t.Run("rejects "+parent, func(t *testing.T) {
			st := newTestStore(t)
			ix := newTestIndexer(t, st, root, nil)
			res, err := ix.ScanOneLevel(ctx, 1, parent)
			require.NoError(t, err)
			assert.ErrorIs(t, res.Skipped, ErrPathTraversal)
			assert.Equal(t, 0, res.Touched)
			assert.Empty(t, byKey(t, st, 1, store.FileQuery{}))
		})
	}

	for _, parent := range []string{"missing", "top.md"} {
		t.Run("not a directory "+parent, func(t *testing.T) {
			st := newTestStore(t)
			ix := newTestIndexer(t, st, root, nil)
			res, err := ix.ScanOneLevel(ctx, 1, parent)
			require.NoError(t, err)
			assert.ErrorIs(t, res.Skipped, ErrNotDirectory)
			assert.Equal(t, 0, res.Touched)
		})
	}
}

func TestScanOneLevel_PrunesOnlyDirectChildren(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a/one.py", "")
	writeFile(t, root, "a/two.py", "")
	writeFile(t, root, "b/other.py", "")

	st := newTestStore(t)
	ix := newTestIndexer(t, st, root, func(p *Policy) { p.PruneStale = true })
	ctx := context.Background()
	_, err := ix.ScanWorkspace(ctx, 1, "")
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(root, "a/two.py")))
	require.NoError(t, os.Remove(filepath.Join(root, "b/other.py")))

	res, err := ix.ScanOneLevel(ctx, 1, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Touched)
	assert.Equal(t, 1, res.Pruned)

	live := keys(byKey(t, st, 1, store.FileQuery{}))
	assert.ElementsMatch(t, []string{"a/", "a/one.py", "b/", "b/other.py"}, live)
}

// failListing makes ix fail to list the named directories.
func failListing(ix *Indexer, dirs ...string) error {
	denied := errors.New("permission denied")
	ix.readDir = func(root *os.Root, rel string) ([]fs.DirEntry, error) {
		for _, d := range dirs {
			if rel == d {
				return nil, denied
			}
		}
		return readRootDir(root, rel)
	}
	return denied
}

func TestScanWorkspace_PruneSkipsUnlistedDirs(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "gone.py", "")
	writeFile(t, root, "locked/inner.py", "")
	writeFile(t, root, "locked/deep/x.py", "")
	writeFile(t, root, "open/y.py", "")

	st := newTestStore(t)
	ix := newTestIndexer(t, st, root, func(p *Policy) { p.PruneStale = true })
	ctx := context.Background()
	_, err := ix.ScanWorkspace(ctx, 1, "")
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(root, "gone.py")))
	require.NoError(t, os.Remove(filepath.Join(root, "open/y.py")))
	denied := failListing(ix, "locked")

	res, err := ix.ScanWorkspace(ctx, 1, "")
	require.NoError(t, err)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "locked", res.Errors[0].Path)
	assert.ErrorIs(t, res.Errors[0], denied)
	assert.Equal(t, 2, res.Pruned)

	live := keys(byKey(t, st, 1, store.FileQuery{}))
	assert.ElementsMatch(t, []string{"locked/", "locked/inner.py", "locked/deep/", "locked/deep/x.py", "open/"}, live)
}

func TestScanWorkspace_PruneSkipsAllWhenRootUnlisted(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.py", "")
	writeFile(t, root, "d/b.py", "")

	st := newTestStore(t)
	ix := newTestIndexer(t, st, root, func(p *Policy) { p.PruneStale = true })
	ctx := context.Background()
	_, err := ix.ScanWorkspace(ctx, 1, "")
	require.NoError(t, err)

	failListing(ix, "")
	res, err := ix.ScanWorkspace(ctx, 1, "")
	require.NoError(t, err)
	assert.Equal(t, 0, res.Touched)
	assert.Equal(t, 0, res.Pruned)
	assert.Len(t, byKey(t, st, 1, store.FileQuery{}), 3)
}

func TestScanOneLevel_PruneSkippedWhenParentUnlisted(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a/one.py", "")
	writeFile(t, root, "a/two.py", "")

	st := newTestStore(t)
	ix := newTestIndexer(t, st, root, func(p *Policy) { p.PruneStale = true })
	ctx := context.Background()
	_, err := ix.ScanWorkspace(ctx, 1, "")
	require.NoError(t, err)

	failListing(ix, "a")
	res, err := ix.ScanOneLevel(ctx, 1, "a")
	require.NoError(t, err)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 0, res.Pruned)
	assert.ElementsMatch(t, []string{"a/", "a/one.py", "a/two.py"}, keys(byKey(t, st, 1, store.FileQuery{})))
}

func TestScanWorkspace_LargeTree(t *testing.T) {
	if testing.Short() {
		t.Skip("writes 50k files")
	}
	const dirs, perDir = 200, 251
	root := t.TempDir()
	for d := 0; d < dirs; d++ {
		dir := filepath.Join(root, fmt.Sprintf("pkg%03d", d))
		require.NoError(t, os.Mkdir(dir, 0o755))
		for f := 0; f < perDir; f++ {
			require.NoError(t, os.WriteFile(filepath.Join(dir, fmt.Sprintf("f%03d.go", f)), nil, 0o644))
		}
	}

	st := newTestStore(t)
	ix := newTestIndexer(t, st, root, func(p *Policy) { p.PruneStale = true })
	ctx := context.Background()

	res, err := ix.ScanWorkspace(ctx, 1, "")
	require.NoError(t, err)
	assert.Equal(t, dirs*(perDir+1), res.Touched)
	recs, err := st.ListFiles(ctx, 1, store.FileQuery{Kind: store.KindFile})
	require.NoError(t, err)
	assert.Len(t, recs, dirs*perDir)

	require.NoError(t, os.RemoveAll(filepath.Join(root, "pkg000")))
	res, err = ix.ScanWorkspace(ctx, 1, "")
	require.NoError(t, err)
	assert.Equal(t, perDir+1, res.Pruned)
	recs, err = st.ListFiles(ctx, 1, store.FileQuery{})
	require.NoError(t, err)
	assert.Len(t, recs, (dirs-1)*(perDir+1))
}

type failingStore struct {
	store.FileStore
	err error
}

func (f *failingStore) UpsertFiles(context.Context, int64, []model.FileRecord) error {
	return f.err
}

func TestScanWorkspace_CommitFailure(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "x.py", "")

	boom := errors.New("disk full")
	st := &failingStore{FileStore: newTestStore(t), err: boom}
	ix := newTestIndexer(t, st, root, nil)

	res, err := ix.ScanWorkspace(context.Background(), 1, "")
	require.ErrorIs(t, err, boom)
	assert.Nil(t, res)
}

func TestScanWorkspace_Cancelled(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "x.py", "")
	st := newTestStore(t)
	ix := newTestIndexer(t, st, root, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ix.ScanWorkspace(ctx, 1, "")
	require.ErrorIs(t, err, context.Canceled)
}

func TestScanWorkspace_Metrics(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "m.py", "")
	st := newTestStore(t)
	ix := newTestIndexer(t, st, root, nil)

	before := testutil.ToFloat64(scanRecordsTotal.WithLabelValues(modeFull))
	_, err := ix.ScanWorkspace(context.Background(), 1, "")
	require.NoError(t, err)
	assert.Equal(t, before+1, testutil.ToFloat64(scanRecordsTotal.WithLabelValues(modeFull)))
}

func TestNormalizeParent(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "", want: ""},
		{in: ".", want: ""},
		{in: "./", want: ""},
		{in: "a/b/", want: "a/b"},
		{in: `a\b`, want: "a/b"},
		{in: "a//./b", want: "a/b"},
		{in: "..", wantErr: true},
		{in: "a/../b", wantErr: true},
		{in: "/abs", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeParent(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrPathTraversal)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLangForPath(t *testing.T) {
	tests := map[string]string{
		"a.py":      "python",
		"A.PY":      "python",
		"x.tsx":     "ts",
		"x.ts":      "ts",
		"x.jsx":     "js",
		"x.js":      "js",
		"README.md": "md",
		"p.json":    "json",
		"Makefile":  "",
		"x.go":      "",
	}
	for in, want := range tests {
		assert.Equal(t, want, LangForPath(in), in)
	}
}
