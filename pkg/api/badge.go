package api

import (
	"bytes"
	"fmt"
	"net/http"
	"text/template"
	"unicode/utf8"

	"github.com/flakestry/flakestry/pkg/flake"
	"github.com/flakestry/flakestry/pkg/httputil"
)

const (
	badgeLabel       = "flakestry.dev"
	badgeColor       = "#00008b"
	badgeContentType = "image/svg+xml"

	badgeCharWidth = 7
	badgePadding   = 10
)

var badgeTemplate = template.Must(template.New("badge").Parse(`<?xml version="1.0" encoding="UTF-8"?>
<svg xmlns="http://www.w3.org/2000/svg" width="{{.Width}}" height="20">
  <linearGradient id="b" x2="0" y2="100%">
    <stop offset="0" stop-color="#bbb" stop-opacity=".1"/>
    <stop offset="1" stop-opacity=".1"/>
  </linearGradient>
  <mask id="a">
    <rect width="{{.Width}}" height="20" rx="3" fill="#fff"/>
  </mask>
  <g mask="url(#a)">
    <path fill="#555" d="M0 0h{{.LabelWidth}}v20H0z"/>
    <path fill="{{.Color}}" d="M{{.LabelWidth}} 0h{{.ValueWidth}}v20H{{.LabelWidth}}z"/>
    <path fill="url(#b)" d="M0 0h{{.Width}}v20H0z"/>
  </g>
  <g fill="#fff" text-anchor="middle" font-family="DejaVu Sans,Verdana,Geneva,sans-serif" font-size="11">
    <text x="{{.LabelX}}" y="15" fill="#010101" fill-opacity=".3">{{html .Label}}</text>
    <text x="{{.LabelX}}" y="14">{{html .Label}}</text>
    <text x="{{.ValueX}}" y="15" fill="#010101" fill-opacity=".3">{{html .Value}}</text>
    <text x="{{.ValueX}}" y="14">{{html .Value}}</text>
  </g>
</svg>
`))

type badge struct {
	Label      string
	Value      string
	Color      string
	LabelWidth int
	ValueWidth int
}

func (b badge) Width() int  { return b.LabelWidth + b.ValueWidth }
func (b badge) LabelX() int { return b.LabelWidth / 2 }
func (b badge) ValueX() int { return b.LabelWidth + b.ValueWidth/2 }

func newBadge(label, value, color string) badge {
	return badge{
		Label:      label,
		Value:      value,
		Color:      color,
		LabelWidth: textWidth(label),
		ValueWidth: textWidth(value),
	}
}

// textWidth approximates the rendered width of s at font-size 11
func textWidth(s string) int {
	return utf8.RuneCountInString(s)*badgeCharWidth + badgePadding
}

// renderBadge renders a flat two-part SVG badge
func renderBadge(label, value, color string) ([]byte, error) {
	var buf bytes.Buffer
	if err := badgeTemplate.Execute(&buf, newBadge(label, value, color)); err != nil {
		return nil, fmt.Errorf("render badge: %w", err)
	}
	return buf.Bytes(), nil
}

// getBadge handles GET /api/badge/flake/github/{owner}/{repo} with the
// highest released version
func (s *Server) getBadge(w http.ResponseWriter, r *http.Request) {
	owner, ok := httputil.ParsePathStringOrError(w, r, "owner")
	if !ok {
		return
	}
	repo, ok := httputil.ParsePathStringOrError(w, r, "repo")
	if !ok {
		return
	}

	releases, err := s.releases.FetchByOwnerAndRepo(r.Context(), owner, repo)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	latest, ok := flake.HighestVersion(releases)
	if !ok {
		httputil.WriteNotFoundError(w, fmt.Sprintf("no releases for %s/%s", owner, repo))
		return
	}

	svg, err := renderBadge(badgeLabel, latest.Version, badgeColor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Cache-Control", "no-cache")
	httputil.WriteContent(w, http.StatusOK, badgeContentType, svg)
}
