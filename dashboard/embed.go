// Package dashboard provides the embedded web UI assets for serialbridge.
//
// This package uses Go's embed directive to include the dashboard HTML and
// CSS at compile time. This enables single-binary deployment without
// external asset files; an on-disk directory can still replace them.
package dashboard

import (
	"embed"
	"io/fs"
)

// assets is the embedded filesystem containing the dashboard web UI.
//
// The filesystem structure is:
//
//	assets/
//	  index.html    - Main page, polls /data and /all_data
//	  style.css     - Stylesheet
//
//go:embed assets/*
var assets embed.FS

// Assets returns the dashboard files with index.html and style.css at the root.
func Assets() fs.FS {
	sub, err := fs.Sub(assets, "assets")
	if err != nil {
		// "assets" is a valid, embedded path
		panic(err)
	}
	return sub
}
