package main

import (
	"testing"

	"github.com/flakestry/flakestry/pkg/storage/postgres"
	"github.com/stretchr/testify/assert"
)

func TestPurgePatterns(t *testing.T) {
	tests := []struct {
		name      string
		summaries bool
		details   bool
		want      []string
	}{
		{"no flags purges all", false, false, []string{postgres.SummaryKeyPattern, postgres.DetailKeyPattern}},
		{"both flags", true, true, []string{postgres.SummaryKeyPattern, postgres.DetailKeyPattern}},
		{"summaries only", true, false, []string{postgres.SummaryKeyPattern}},
		{"details only", false, true, []string{postgres.DetailKeyPattern}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, purgePatterns(tt.summaries, tt.details))
		})
	}
}
