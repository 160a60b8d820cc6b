package httputil

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, http.StatusBadRequest, "bad input")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":"bad input"}`, rec.Body.String())
}

func TestAddServerTiming(t *testing.T) {
	rec := httptest.NewRecorder()
	AddServerTiming(rec, "db", 12300*time.Microsecond)
	AddServerTiming(rec, "render", time.Millisecond)

	assert.Equal(t, []string{"db;dur=12.3", "render;dur=1.0"}, rec.Header().Values("Server-Timing"))
}

func TestParseLimitOffset(t *testing.T) {
	tests := []struct {
		query         string
		limit, offset int
		wantErr       bool
	}{
		{"", 100, 0, false},
		{"limit=20&offset=40", 20, 40, false},
		{"limit=5000", 500, 0, false},
		{"limit=0", 0, 0, true},
		{"limit=abc", 0, 0, true},
		{"offset=-1", 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/x?"+tt.query, nil)
			limit, offset, err := ParseLimitOffset(req, 100, 500)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.limit, limit)
			assert.Equal(t, tt.offset, offset)
		})
	}
}

func TestListAndBoolParams(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x?county=Alameda,%20Contra%20Costa&county=Marin&hide=false&bad=maybe", nil)

	assert.Equal(t, []string{"Alameda", "Contra Costa", "Marin"}, ListParam(req, "county"))
	assert.Empty(t, ListParam(req, "missing"))
	assert.False(t, BoolParam(req, "hide", true))
	assert.True(t, BoolParam(req, "bad", true))
	assert.True(t, BoolParam(req, "absent", true))
}
