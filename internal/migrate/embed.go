package migrate

import (
	"embed"
	"io/fs"

	"github.com/go-extras/go-kit/must"
)

//go:embed sql/*.sql
var sqlFiles embed.FS

//go:embed seeds/*.sql
var seedFiles embed.FS

// Migrations returns the embedded schema migrations.
func Migrations() fs.FS {
	return must.Must(fs.Sub(sqlFiles, "sql"))
}

// Seeds returns the embedded seed files.
func Seeds() fs.FS {
	return must.Must(fs.Sub(seedFiles, "seeds"))
}
