// Package templates holds the transactional email bodies.
package templates

import "embed"

//go:embed *.html
var FS embed.FS
