package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/shatgupt/getmycourses/internal/assert"

	"github.com/mazen160/go-random"
	"github.com/spf13/afero"
)

var ErrNotFound = errors.New("blob not found")

// Blobs is a flat key/value store of byte blobs addressed by slash separated paths.
type Blobs interface {
	// Get returns ErrNotFound when nothing is stored under path.
	Get(ctx context.Context, path string) ([]byte, error)
	// Put overwrites whatever is stored under path.
	Put(ctx context.Context, path string, contents []byte) error
	Exists(ctx context.Context, path string) (bool, error)
	// Delete is a no-op when nothing is stored under path.
	Delete(ctx context.Context, path string) error
}

// FilesystemBlobs stores every blob as a file under root.
type FilesystemBlobs struct {
	fs   afero.Fs
	root string
}

func NewFilesystemBlobs(fs afero.Fs, root string) FilesystemBlobs {
	assert.NotNil(fs)
	return FilesystemBlobs{fs: fs, root: root}
}

func (b FilesystemBlobs) resolve(blobPath string) string {
	return filepath.Join(b.root, filepath.FromSlash(path.Clean("/"+blobPath)))
}

func (b FilesystemBlobs) Get(ctx context.Context, blobPath string) ([]byte, error) {
	contents, err := afero.ReadFile(b.fs, b.resolve(blobPath))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return contents, err
}

// Put writes to a sibling file first and renames it over the target, so a reader never sees
// a partially written blob.
func (b FilesystemBlobs) Put(ctx context.Context, blobPath string, contents []byte) error {
	target := b.resolve(blobPath)
	err := b.fs.MkdirAll(filepath.Dir(target), 0755)
	if err != nil {
		return err
	}
	suffix, err := random.String(8)
	if err != nil {
		return err
	}
	staging := fmt.Sprintf("%s.%s.partial", target, suffix)
	err = afero.WriteFile(b.fs, staging, contents, 0644)
	if err != nil {
		return err
	}
	err = b.fs.Rename(staging, target)
	if err != nil {
		b.fs.Remove(staging)
		return err
	}
	return nil
}

func (b FilesystemBlobs) Exists(ctx context.Context, blobPath string) (bool, error) {
	return afero.Exists(b.fs, b.resolve(blobPath))
}

func (b FilesystemBlobs) Delete(ctx context.Context, blobPath string) error {
	err := b.fs.Remove(b.resolve(blobPath))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

const Schema = `
create table if not exists blobs (
	path text not null primary key,
	contents blob not null,
	updated_at integer not null
);
`

// SQLBlobs stores blobs as rows of a single table, it works over any database/sql driver
// that speaks sqlite (modernc sqlite for files, libsql for remote databases).
type SQLBlobs struct {
	db *sql.DB
}

func NewSQLBlobs(ctx context.Context, db *sql.DB) (SQLBlobs, error) {
	assert.NotNil(db)
	_, err := db.ExecContext(ctx, Schema)
	if err != nil {
		return SQLBlobs{}, fmt.Errorf("create blobs table: %w", err)
	}
	return SQLBlobs{db: db}, nil
}

func (b SQLBlobs) Get(ctx context.Context, blobPath string) ([]byte, error) {
	var contents []byte
	err := b.db.QueryRowContext(
		ctx,
		"select contents from blobs where path = ?",
		blobPath,
	).Scan(&contents)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return contents, nil
}

func (b SQLBlobs) Put(ctx context.Context, blobPath string, contents []byte) error {
	_, err := b.db.ExecContext(
		ctx,
		`insert into blobs(path, contents, updated_at) values (?, ?, ?)
		on conflict(path) do update set
			contents = excluded.contents,
			updated_at = excluded.updated_at`,
		blobPath, contents, time.Now().Unix(),
	)
	return err
}

func (b SQLBlobs) Exists(ctx context.Context, blobPath string) (bool, error) {
	var count int
	err := b.db.QueryRowContext(
		ctx,
		"select count(*) from blobs where path = ?",
		blobPath,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (b SQLBlobs) Delete(ctx context.Context, blobPath string) error {
	_, err := b.db.ExecContext(ctx, "delete from blobs where path = ?", blobPath)
	return err
}
