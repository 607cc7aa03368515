package status

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestReporter_ServeHTTP(t *testing.T) {
	tests := []struct {
		name       string
		provider   func() []int
		wantStatus int
		wantBody   string
		wantJSONCT bool
	}{
		{
			name:       "no provider registered",
			provider:   nil,
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "distribution served as compact array",
			provider:   func() []int { return []int{5, 3, 9} },
			wantStatus: http.StatusOK,
			wantBody:   "[5,3,9]",
			wantJSONCT: true,
		},
		{
			name:       "empty distribution",
			provider:   func() []int { return nil },
			wantStatus: http.StatusOK,
			wantBody:   "[]",
			wantJSONCT: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReporter(zerolog.Nop())
			if tt.provider != nil {
				r.SetProvider(tt.provider)
			}

			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, rec.Body.String())
			}
			if tt.wantJSONCT {
				assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			}
		})
	}
}
