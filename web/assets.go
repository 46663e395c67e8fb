package webassets

import "embed"

// Files contains the embedded dashboard page assets.
//
//go:embed *.html
var Files embed.FS
