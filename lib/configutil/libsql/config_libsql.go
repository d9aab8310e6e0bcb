package configlibsql

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

// Struct configures a database that is either a local sqlite file or a remote libsql server,
// the remote one wins when both are given.
type Struct struct {
	File      string `json:"file"`
	Url       string `json:"url"`
	AuthToken string `json:"auth_token"`
}

// Enabled reports whether anything was configured at all.
func (config Struct) Enabled() bool {
	return config.File != "" || config.Url != ""
}

func (config Struct) OpenDB() (*sql.DB, error) {
	if config.Url != "" {
		return config.openRemote()
	}
	if config.File == "" {
		return nil, fmt.Errorf("neither a file nor a url was specified")
	}
	return config.openFile()
}

func (config Struct) openRemote() (*sql.DB, error) {
	values := url.Values{}
	if config.AuthToken != "" {
		values.Add("authToken", config.AuthToken)
	}
	dsn := config.Url
	if len(values) > 0 {
		dsn += "?" + values.Encode()
	}
	return sql.Open("libsql", dsn)
}

func (config Struct) openFile() (*sql.DB, error) {
	err := os.MkdirAll(filepath.Dir(config.File), 0755)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", config.File)
	if err != nil {
		return nil, err
	}
	// see this stackoverflow post for information on why the following
	// lines exist: https://stackoverflow.com/questions/35804884/sqlite-concurrent-writing-performance
	db.SetMaxOpenConns(1)
	_, err = db.Exec("PRAGMA journal_mode=WAL")
	if err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
