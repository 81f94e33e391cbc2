/*
Package api serves the flake read API over HTTP.

Routes:

	GET  /api/flake?q=<text>                               search, or recent releases without q
	GET  /api/flake/github/{owner}                         releases of an owner
	GET  /api/flake/github/{owner}/{repo}                  releases of a repository
	GET  /api/flake/github/{owner}/{repo}/{version}        one release in full
	POST /api/publish                                      acknowledge only
	GET  /api/badge/flake/github/{owner}/{repo}            SVG badge with the latest version

Missing releases map to 404 and every other failure to 500, both with a JSON
{"error": "..."} body. Empty listings are encoded as [].
*/
package api
