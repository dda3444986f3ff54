// Package web carries the embedded login page and its static assets.
package web

import (
	"embed"
	"io/fs"
	"net/http"
)

//go:embed static/*
var content embed.FS

// LoginPage returns the embedded login form HTML.
func LoginPage() []byte {
	data, err := content.ReadFile("static/login.html")
	if err != nil {
		// The file is compiled in; a miss is a build defect.
		panic("embedded login.html missing: " + err.Error())
	}
	return data
}

// Static returns a handler serving the embedded assets. Callers mount
// it behind their own prefix stripping.
func Static() http.Handler {
	fsys, err := fs.Sub(content, "static")
	if err != nil {
		panic("embedded static assets missing: " + err.Error())
	}
	return http.FileServer(http.FS(fsys))
}
