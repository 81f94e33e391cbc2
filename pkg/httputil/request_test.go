package httputil

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
)

func TestParsePathString(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/flake/github/nixos", nil)
	req = mux.SetURLVars(req, map[string]string{"owner": "nixos"})

	owner, err := ParsePathString(req, "owner")
	assert.NoError(t, err)
	assert.Equal(t, "nixos", owner)

	_, err = ParsePathString(req, "repo")
	assert.Error(t, err)
}

func TestParsePathStringOrError(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	w := httptest.NewRecorder()

	_, ok := ParsePathStringOrError(w, req, "owner")

	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestParseQueryText(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		want    string
		present bool
	}{
		{name: "absent", url: "/api/flake", want: "", present: false},
		{name: "empty", url: "/api/flake?q=", want: "", present: false},
		{name: "blank", url: "/api/flake?q=%20%20", want: "  ", present: false},
		{name: "text", url: "/api/flake?q=home-manager", want: "home-manager", present: true},
		{name: "padded", url: "/api/flake?q=%20rust%20", want: " rust ", present: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.url, nil)
			got, present := ParseQueryText(req, "q")
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.present, present)
		})
	}
}
