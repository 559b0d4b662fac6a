// Package db carries the SQL schema and seed catalog compiled into the
// binary, so the migrate command works without the source tree on disk.
package db

import "embed"

//go:embed migrations seeds
var FS embed.FS
