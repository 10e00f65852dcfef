package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSource(t *testing.T) {
	tests := []struct {
		spec    string
		ref     string
		quota   int
		wantErr bool
	}{
		{spec: "Curated Weebletdays=160", ref: "Curated Weebletdays", quota: 160},
		{spec: "spotify:playlist:abc=20", ref: "spotify:playlist:abc", quota: 20},
		{spec: "a=b=5", ref: "a=b", quota: 5},
		{spec: "Jazz", wantErr: true},
		{spec: "=10", wantErr: true},
		{spec: "Jazz=", wantErr: true},
		{spec: "Jazz=0", wantErr: true},
		{spec: "Jazz=many", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			ref, quota, err := parseSource(tt.spec)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.ref, ref)
			assert.Equal(t, tt.quota, quota)
		})
	}
}
