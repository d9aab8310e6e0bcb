package restyutil

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
)

// FilesystemOutput writes each exchange into its own file under a directory.
type FilesystemOutput struct {
	fs        afero.Fs
	directory string
}

// NewFilesystemOutput clears out the directory so that it only holds the exchanges of the
// current process.
func NewFilesystemOutput(fs afero.Fs, dir string) (FilesystemOutput, error) {
	err := fs.RemoveAll(dir)
	if err != nil {
		return FilesystemOutput{}, err
	}
	err = fs.MkdirAll(dir, 0777)
	if err != nil {
		return FilesystemOutput{}, err
	}
	return FilesystemOutput{fs: fs, directory: dir}, nil
}

func (o FilesystemOutput) Write(id string, contents string) error {
	err := afero.WriteFile(o.fs, filepath.Join(o.directory, id), []byte(contents), 0600)
	if err != nil {
		return fmt.Errorf("write exchange %s: %w", id, err)
	}
	return nil
}
