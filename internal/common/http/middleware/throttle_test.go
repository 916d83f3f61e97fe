package middleware_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	commonmw "jobe/internal/common/http/middleware"
	pkgerrors "jobe/pkg/errors"
	"jobe/pkg/utils/contextkey"

	"github.com/gin-gonic/gin"
)

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func newThrottledRouter(cfg commonmw.ThrottleConfig) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/runs", commonmw.NewThrottle(cfg).Middleware(), func(c *gin.Context) {
		key, _ := c.Request.Context().Value(contextkey.APIKey).(string)
		c.String(http.StatusOK, key)
	})
	return router
}

func post(router *gin.Engine, key, ip string) (*httptest.ResponseRecorder, errorResponse) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/runs", nil)
	if key != "" {
		req.Header.Set(commonmw.APIKeyHeader, key)
	}
	req.RemoteAddr = ip + ":1234"
	router.ServeHTTP(rec, req)
	var resp errorResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	return rec, resp
}

func TestThrottleDisabled(t *testing.T) {
	router := newThrottledRouter(commonmw.ThrottleConfig{})
	for i := 0; i < 5; i++ {
		if rec, _ := post(router, "", "192.0.2.1"); rec.Code != http.StatusOK {
			t.Fatalf("unexpected status %d", rec.Code)
		}
	}
}

func TestThrottleKeys(t *testing.T) {
	router := newThrottledRouter(commonmw.ThrottleConfig{
		RequireAPIKeys: true,
		APIKeys:        map[string]int{"limited": 2, "unlimited": 0},
	})

	cases := []struct {
		name   string
		key    string
		status int
		code   pkgerrors.ErrorCode
	}{
		{"missing key", "", http.StatusForbidden, pkgerrors.APIKeyMissing},
		{"unknown key", "stranger", http.StatusForbidden, pkgerrors.APIKeyUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, resp := post(router, tc.key, "192.0.2.1")
			if rec.Code != tc.status || resp.Code != int(tc.code) {
				t.Fatalf("got %d/%d, want %d/%d", rec.Code, resp.Code, tc.status, tc.code)
			}
		})
	}

	t.Run("unlimited key", func(t *testing.T) {
		for i := 0; i < 20; i++ {
			rec, _ := post(router, "unlimited", "192.0.2.1")
			if rec.Code != http.StatusOK || rec.Body.String() != "unlimited" {
				t.Fatalf("attempt %d: status %d body %q", i+1, rec.Code, rec.Body.String())
			}
		}
	})

	t.Run("hourly rate per client", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			if rec, _ := post(router, "limited", "192.0.2.1"); rec.Code != http.StatusOK {
				t.Fatalf("attempt %d: status %d", i+1, rec.Code)
			}
		}
		rec, resp := post(router, "limited", "192.0.2.1")
		if rec.Code != http.StatusTooManyRequests || resp.Code != int(pkgerrors.RunRateExceeded) {
			t.Fatalf("got %d/%d, want 429", rec.Code, resp.Code)
		}
		if resp.Message != "Max RUN rate for this server exceeded" {
			t.Fatalf("unexpected message %q", resp.Message)
		}
		if rec, _ := post(router, "limited", "198.51.100.7"); rec.Code != http.StatusOK {
			t.Fatalf("another client should have its own budget, got %d", rec.Code)
		}
	})
}
