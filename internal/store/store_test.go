package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shatgupt/getmycourses/internal/catalog"
	"github.com/shatgupt/getmycourses/internal/telemetry"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

var testKey = Key{Term: "2197", Department: "CSE"}

func record(id string, open int) catalog.ClassRecord {
	return catalog.ClassRecord{
		ClassID:    id,
		Course:     "CSE 110",
		Title:      "Principles of Programming",
		Instructor: "Staff",
		Dates:      "8/22 - 12/9",
		OpenSeats:  open,
		TotalSeats: 30,
	}
}

func openSqlite(t testing.TB) *sql.DB {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	// every connection to :memory: is a different database
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func newSQLBlobs(t testing.TB) SQLBlobs {
	blobs, err := NewSQLBlobs(context.Background(), openSqlite(t))
	if err != nil {
		t.Fatal(err)
	}
	return blobs
}

type failingBlobs struct {
	Blobs
	failGet bool
	failPut bool
}

var errInjected = errors.New("injected failure")

func (b failingBlobs) Get(ctx context.Context, path string) ([]byte, error) {
	if b.failGet {
		return nil, errInjected
	}
	return b.Blobs.Get(ctx, path)
}

func (b failingBlobs) Put(ctx context.Context, path string, contents []byte) error {
	if b.failPut {
		return errInjected
	}
	return b.Blobs.Put(ctx, path, contents)
}

func TestBlobs(t *testing.T) {
	implementations := map[string]Blobs{
		"filesystem": NewFilesystemBlobs(afero.NewMemMapFs(), "/cache"),
		"sql":        newSQLBlobs(t),
	}

	for name, blobs := range implementations {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
			defer cancel()

			_, err := blobs.Get(ctx, "2197/CSE/courses.json")
			require.ErrorIs(t, err, ErrNotFound)

			exists, err := blobs.Exists(ctx, "2197/CSE/courses.json")
			require.NoError(t, err)
			require.False(t, exists)

			require.NoError(t, blobs.Put(ctx, "2197/CSE/courses.json", []byte("first")))
			require.NoError(t, blobs.Put(ctx, "2197/CSE/courses.json", []byte("second")))

			contents, err := blobs.Get(ctx, "2197/CSE/courses.json")
			require.NoError(t, err)
			require.Equal(t, "second", string(contents))

			exists, err = blobs.Exists(ctx, "2197/CSE/courses.json")
			require.NoError(t, err)
			require.True(t, exists)

			require.NoError(t, blobs.Delete(ctx, "2197/CSE/courses.json"))
			require.NoError(t, blobs.Delete(ctx, "2197/CSE/courses.json"))
			_, err = blobs.Get(ctx, "2197/CSE/courses.json")
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestFilesystemBlobsStayUnderRoot(t *testing.T) {
	fs := afero.NewMemMapFs()
	blobs := NewFilesystemBlobs(fs, "/cache")

	require.NoError(t, blobs.Put(context.Background(), "../../escape.json", []byte("{}")))
	exists, err := afero.Exists(fs, "/cache/escape.json")
	require.NoError(t, err)
	require.True(t, exists)

	// no staging files are left behind
	entries, err := afero.ReadDir(fs, "/cache")
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestLoadAbsent(t *testing.T) {
	store := NewStore(NewFilesystemBlobs(afero.NewMemMapFs(), "/"), newSQLBlobs(t), telemetry.NewRecordingAPI())

	baseline, err := store.Load(context.Background(), testKey)
	require.NoError(t, err)
	require.Equal(t, Absent, baseline.Phase)
	require.Equal(t, 0, baseline.Snapshot.Len())
}

func TestCommitAndLoad(t *testing.T) {
	ctx := context.Background()
	store := NewStore(NewFilesystemBlobs(afero.NewMemMapFs(), "/"), newSQLBlobs(t), telemetry.NewRecordingAPI())

	snapshot := catalog.NewSnapshot(record("3", 1), record("1", 2), record("2", 0))
	committed, err := store.Commit(ctx, testKey, snapshot)
	require.NoError(t, err)
	require.Equal(t, Complete, committed.Phase)
	require.NotEmpty(t, committed.Revision)

	loaded, err := store.Load(ctx, testKey)
	require.NoError(t, err)
	require.Equal(t, Complete, loaded.Phase)
	require.Equal(t, committed.Revision, loaded.Revision)
	require.Equal(t, []string{"3", "1", "2"}, loaded.Snapshot.Keys())
	require.True(t, loaded.Snapshot.Equal(snapshot))

	again, err := store.Commit(ctx, testKey, snapshot)
	require.NoError(t, err)
	require.NotEqual(t, committed.Revision, again.Revision)
}

func TestKeyValidate(t *testing.T) {
	require.NoError(t, testKey.Validate())

	for _, key := range []Key{
		{Term: "2197", Department: ""},
		{Term: "", Department: "CSE"},
		{Term: "2197", Department: "."},
		{Term: "2197", Department: ".."},
		{Term: "2197", Department: "CSE/"},
		{Term: "2197", Department: "../2198/CSE"},
		{Term: "2197", Department: `..\2198`},
		{Term: "../2198", Department: "CSE"},
	} {
		require.ErrorIs(t, key.Validate(), ErrInvalidKey, "%#v", key)
	}
}

func TestInvalidKeyCannotReachOtherTerms(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	store := NewStore(NewFilesystemBlobs(fs, "/"), newSQLBlobs(t), telemetry.NewRecordingAPI())

	other := Key{Term: "2198", Department: "CSE"}
	_, err := store.Commit(ctx, other, catalog.NewSnapshot(record("1", 1)))
	require.NoError(t, err)

	escaping := Key{Term: "2197", Department: "../2198/CSE"}
	_, err = store.Commit(ctx, escaping, catalog.NewSnapshot(record("999", 1)))
	require.ErrorIs(t, err, ErrInvalidKey)
	err = store.SaveCheckpoint(ctx, escaping, "", catalog.NewSnapshot(record("999", 1)))
	require.ErrorIs(t, err, ErrInvalidKey)
	_, err = store.Load(ctx, escaping)
	require.ErrorIs(t, err, ErrInvalidKey)

	loaded, err := store.Load(ctx, other)
	require.NoError(t, err)
	require.Equal(t, []string{"1"}, loaded.Snapshot.Keys())
	exists, err := afero.Exists(fs, "/2198/CSE/courses.json.temp")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestCheckpointResolution(t *testing.T) {
	ctx := context.Background()

	t.Run("checkpoint of the current baseline is the resume point", func(t *testing.T) {
		store := NewStore(NewFilesystemBlobs(afero.NewMemMapFs(), "/"), nil, telemetry.NewRecordingAPI())
		committed, err := store.Commit(ctx, testKey, catalog.NewSnapshot(record("1", 0)))
		require.NoError(t, err)

		checkpoint := catalog.NewSnapshot(record("1", 0), record("2", 5))
		require.NoError(t, store.SaveCheckpoint(ctx, testKey, committed.Revision, checkpoint))

		loaded, err := store.Load(ctx, testKey)
		require.NoError(t, err)
		require.Equal(t, Incomplete, loaded.Phase)
		require.Equal(t, committed.Revision, loaded.Revision)
		require.True(t, loaded.Snapshot.Equal(checkpoint))
	})

	t.Run("checkpoint of an older baseline is ignored", func(t *testing.T) {
		store := NewStore(NewFilesystemBlobs(afero.NewMemMapFs(), "/"), nil, telemetry.NewRecordingAPI())
		older, err := store.Commit(ctx, testKey, catalog.NewSnapshot(record("1", 0)))
		require.NoError(t, err)
		require.NoError(t, store.SaveCheckpoint(ctx, testKey, older.Revision, catalog.NewSnapshot(record("1", 9))))

		// a commit whose checkpoint delete was lost
		local := store.tiers[0].blobs
		leftover, err := local.Get(ctx, testKey.IncompletePath())
		require.NoError(t, err)
		current, err := store.Commit(ctx, testKey, catalog.NewSnapshot(record("1", 3)))
		require.NoError(t, err)
		require.NoError(t, local.Put(ctx, testKey.IncompletePath(), leftover))

		loaded, err := store.Load(ctx, testKey)
		require.NoError(t, err)
		require.Equal(t, Complete, loaded.Phase)
		require.Equal(t, current.Revision, loaded.Revision)
		got, _ := loaded.Snapshot.Get("1")
		require.Equal(t, 3, got.OpenSeats)
	})

	t.Run("cold start checkpoint is used without a baseline", func(t *testing.T) {
		store := NewStore(NewFilesystemBlobs(afero.NewMemMapFs(), "/"), nil, telemetry.NewRecordingAPI())
		require.NoError(t, store.SaveCheckpoint(ctx, testKey, "", catalog.NewSnapshot(record("1", 1))))

		loaded, err := store.Load(ctx, testKey)
		require.NoError(t, err)
		require.Equal(t, Incomplete, loaded.Phase)
		require.Equal(t, "", loaded.Revision)
		require.Equal(t, 1, loaded.Snapshot.Len())
	})

	t.Run("commit discards the checkpoint", func(t *testing.T) {
		store := NewStore(NewFilesystemBlobs(afero.NewMemMapFs(), "/"), nil, telemetry.NewRecordingAPI())
		require.NoError(t, store.SaveCheckpoint(ctx, testKey, "", catalog.NewSnapshot(record("1", 1))))
		_, err := store.Commit(ctx, testKey, catalog.NewSnapshot(record("1", 1)))
		require.NoError(t, err)

		exists, err := store.tiers[0].blobs.Exists(ctx, testKey.IncompletePath())
		require.NoError(t, err)
		require.False(t, exists)
	})
}

func TestEnvelopeFormat(t *testing.T) {
	ctx := context.Background()
	local := NewFilesystemBlobs(afero.NewMemMapFs(), "/")
	store := NewStore(local, nil, telemetry.NewRecordingAPI())
	require.NoError(t, store.SaveCheckpoint(ctx, testKey, "abc", catalog.NewSnapshot(record("1", 1))))

	data, err := local.Get(ctx, "2197/CSE/courses.json.temp")
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	require.JSONEq(t, `"incomplete"`, string(raw["state"]))
	require.JSONEq(t, `"abc"`, string(raw["base_revision"]))
	require.JSONEq(t, `{"1": {
		"class_num": "1",
		"course": "CSE 110",
		"title": "Principles of Programming",
		"instructor": "Staff",
		"dates": "8/22 - 12/9",
		"open_seats": "1",
		"total_seats": "30"
	}}`, string(raw["classes"]))
}

func TestRemoteHydratesLocal(t *testing.T) {
	ctx := context.Background()
	remote := newSQLBlobs(t)

	writer := NewStore(NewFilesystemBlobs(afero.NewMemMapFs(), "/"), remote, telemetry.NewRecordingAPI())
	committed, err := writer.Commit(ctx, testKey, catalog.NewSnapshot(record("1", 4)))
	require.NoError(t, err)

	freshLocal := NewFilesystemBlobs(afero.NewMemMapFs(), "/")
	reader := NewStore(freshLocal, remote, telemetry.NewRecordingAPI())
	loaded, err := reader.Load(ctx, testKey)
	require.NoError(t, err)
	require.Equal(t, committed.Revision, loaded.Revision)

	exists, err := freshLocal.Exists(ctx, testKey.CompletePath())
	require.NoError(t, err)
	require.True(t, exists)
}

func TestArtifacts(t *testing.T) {
	ctx := context.Background()
	remote := newSQLBlobs(t)
	st := NewStore(NewFilesystemBlobs(afero.NewMemMapFs(), "/"), remote, telemetry.NewRecordingAPI())

	artifacts, err := st.Artifacts(ctx, testKey)
	require.NoError(t, err)
	require.Empty(t, artifacts)

	committed, err := st.Commit(ctx, testKey, catalog.NewSnapshot(record("1", 4)))
	require.NoError(t, err)
	require.NoError(t, st.SaveCheckpoint(ctx, testKey, committed.Revision, catalog.NewSnapshot(record("1", 5))))

	artifacts, err = st.Artifacts(ctx, testKey)
	require.NoError(t, err)
	require.Equal(t, []Artifact{
		{Tier: "local", Path: "2197/CSE/courses.json", Phase: Complete},
		{Tier: "local", Path: "2197/CSE/courses.json.temp", Phase: Incomplete},
		{Tier: "remote", Path: "2197/CSE/courses.json", Phase: Complete},
		{Tier: "remote", Path: "2197/CSE/courses.json.temp", Phase: Incomplete},
	}, artifacts)

	_, err = st.Artifacts(ctx, Key{Term: "2197", Department: "../2198/CSE"})
	require.ErrorIs(t, err, ErrInvalidKey)
}

func TestWriteFailures(t *testing.T) {
	ctx := context.Background()
	local := NewFilesystemBlobs(afero.NewMemMapFs(), "/")
	tel := telemetry.NewRecordingAPI()
	store := NewStore(local, failingBlobs{Blobs: newSQLBlobs(t), failPut: true}, tel)

	err := store.SaveCheckpoint(ctx, testKey, "", catalog.NewSnapshot(record("1", 1)))
	var persistErr *PersistenceError
	require.ErrorAs(t, err, &persistErr)
	require.ErrorIs(t, err, errInjected)
	require.Len(t, tel.Find(telemetry.LevelBroken, report_store_save_checkpoint), 1)

	// the local tier is still written
	exists, err := local.Exists(ctx, testKey.IncompletePath())
	require.NoError(t, err)
	require.True(t, exists)

	_, err = store.Commit(ctx, testKey, catalog.NewSnapshot(record("1", 1)))
	require.ErrorAs(t, err, &persistErr)

	// a failed commit keeps the checkpoint
	exists, err = local.Exists(ctx, testKey.IncompletePath())
	require.NoError(t, err)
	require.True(t, exists)
}

func TestReadFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("unreadable tiers", func(t *testing.T) {
		tel := telemetry.NewRecordingAPI()
		store := NewStore(
			failingBlobs{Blobs: NewFilesystemBlobs(afero.NewMemMapFs(), "/"), failGet: true},
			newSQLBlobs(t),
			tel,
		)
		baseline, err := store.Load(ctx, testKey)
		var persistErr *PersistenceError
		require.ErrorAs(t, err, &persistErr)
		require.Equal(t, Absent, baseline.Phase)
		require.NotEmpty(t, tel.Find(telemetry.LevelWarning, report_store_load))
	})

	t.Run("corrupt local tier falls through to remote", func(t *testing.T) {
		remote := newSQLBlobs(t)
		writer := NewStore(NewFilesystemBlobs(afero.NewMemMapFs(), "/"), remote, telemetry.NewRecordingAPI())
		committed, err := writer.Commit(ctx, testKey, catalog.NewSnapshot(record("1", 4)))
		require.NoError(t, err)

		local := NewFilesystemBlobs(afero.NewMemMapFs(), "/")
		require.NoError(t, local.Put(ctx, testKey.CompletePath(), []byte("{not json")))
		reader := NewStore(local, remote, telemetry.NewRecordingAPI())

		loaded, err := reader.Load(ctx, testKey)
		require.NoError(t, err)
		require.Equal(t, committed.Revision, loaded.Revision)
	})

	t.Run("corrupt checkpoint keeps the baseline", func(t *testing.T) {
		local := NewFilesystemBlobs(afero.NewMemMapFs(), "/")
		tel := telemetry.NewRecordingAPI()
		store := NewStore(local, nil, tel)
		committed, err := store.Commit(ctx, testKey, catalog.NewSnapshot(record("1", 4)))
		require.NoError(t, err)
		require.NoError(t, local.Put(ctx, testKey.IncompletePath(), []byte(`{"state": "pending"}`)))

		loaded, err := store.Load(ctx, testKey)
		require.NoError(t, err)
		require.Equal(t, Complete, loaded.Phase)
		require.Equal(t, committed.Revision, loaded.Revision)
		require.Len(t, tel.Find(telemetry.LevelWarning, report_store_load), 1)
	})
}

func TestCache(t *testing.T) {
	cache := NewCache()
	_, ok := cache.Get(testKey)
	require.False(t, ok)

	cache.Set(testKey, Baseline{Phase: Complete, Revision: "a"})
	cache.Set(Key{Term: "2197", Department: "MAT"}, Baseline{Phase: Complete, Revision: "b"})

	got, ok := cache.Get(testKey)
	require.True(t, ok)
	require.Equal(t, "a", got.Revision)

	cache.Evict(testKey)
	_, ok = cache.Get(testKey)
	require.False(t, ok)
	_, ok = cache.Get(Key{Term: "2197", Department: "MAT"})
	require.True(t, ok)
}
