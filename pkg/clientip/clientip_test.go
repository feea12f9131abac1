package clientip_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bibliolivre/storefront/pkg/clientip"
)

func TestGetIP(t *testing.T) {
	t.Parallel()

	newRequest := func(headers map[string]string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = "192.0.2.10:4321"
		for k, v := range headers {
			r.Header.Set(k, v)
		}
		return r
	}

	t.Run("cloudflare header wins", func(t *testing.T) {
		t.Parallel()
		r := newRequest(map[string]string{
			"CF-Connecting-IP": "203.0.113.5",
			"X-Forwarded-For":  "198.51.100.1",
		})
		assert.Equal(t, "203.0.113.5", clientip.GetIP(r))
	})

	t.Run("first forwarded hop", func(t *testing.T) {
		t.Parallel()
		r := newRequest(map[string]string{
			"X-Forwarded-For": "198.51.100.1, 10.0.0.1, 10.0.0.2",
		})
		assert.Equal(t, "198.51.100.1", clientip.GetIP(r))
	})

	t.Run("x-real-ip fallback", func(t *testing.T) {
		t.Parallel()
		r := newRequest(map[string]string{"X-Real-IP": "198.51.100.7"})
		assert.Equal(t, "198.51.100.7", clientip.GetIP(r))
	})

	t.Run("remote addr as last resort", func(t *testing.T) {
		t.Parallel()
		r := newRequest(nil)
		assert.Equal(t, "192.0.2.10", clientip.GetIP(r))
	})

	t.Run("garbage headers are skipped", func(t *testing.T) {
		t.Parallel()
		r := newRequest(map[string]string{
			"CF-Connecting-IP": "not-an-ip",
			"X-Forwarded-For":  "also-bad",
		})
		assert.Equal(t, "192.0.2.10", clientip.GetIP(r))
	})
}
