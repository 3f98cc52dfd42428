package web

import (
	"embed"
)

// staticFiles holds the status page and its stylesheet.
//
//go:embed static/*
var staticFiles embed.FS
