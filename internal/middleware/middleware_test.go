package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/stwalsh4118/peritaje/internal/logger"
	"github.com/stwalsh4118/peritaje/internal/models"
	"github.com/stwalsh4118/peritaje/internal/session"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRequestID(t *testing.T) {
	t.Run("generates new request ID", func(t *testing.T) {
		router := gin.New()
		router.Use(RequestID())
		router.GET("/test", func(c *gin.Context) {
			c.String(200, GetRequestID(c))
		})

		req := httptest.NewRequest("GET", "/test", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		headerID := w.Header().Get(RequestIDHeader)
		if headerID == "" {
			t.Error("Expected X-Request-ID header to be set")
		}
		if w.Body.String() != headerID {
			t.Errorf("Expected body to contain request ID %s, got %s", headerID, w.Body.String())
		}
	})

	t.Run("uses existing request ID from header", func(t *testing.T) {
		router := gin.New()
		router.Use(RequestID())
		router.GET("/test", func(c *gin.Context) {
			c.String(200, GetRequestID(c))
		})

		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set(RequestIDHeader, "existing-request-id-123")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Body.String() != "existing-request-id-123" {
			t.Errorf("Expected upstream request ID, got %s", w.Body.String())
		}
	})

	t.Run("replaces malformed upstream request ID", func(t *testing.T) {
		router := gin.New()
		router.Use(RequestID())
		router.GET("/test", func(c *gin.Context) {
			c.String(200, GetRequestID(c))
		})

		for _, bad := range []string{"has space", strings.Repeat("x", 200)} {
			req := httptest.NewRequest("GET", "/test", nil)
			req.Header.Set(RequestIDHeader, bad)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Body.String() == bad || w.Body.String() == "" {
				t.Errorf("Expected a generated request ID for %q, got %q", bad, w.Body.String())
			}
		}
	})

	t.Run("GetRequestID returns empty string if not set", func(t *testing.T) {
		c := &gin.Context{}
		if requestID := GetRequestID(c); requestID != "" {
			t.Errorf("Expected empty string, got %s", requestID)
		}
	})
}

func TestCORS(t *testing.T) {
	allowedOrigins := []string{"http://localhost:3000"}

	t.Run("allows request from allowed origin", func(t *testing.T) {
		router := gin.New()
		router.Use(CORS(allowedOrigins))
		router.GET("/test", func(c *gin.Context) {
			c.String(200, "OK")
		})

		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Header().Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
			t.Error("Expected Access-Control-Allow-Origin header to be set")
		}
		if w.Header().Get("Access-Control-Allow-Credentials") != "true" {
			t.Error("Expected Access-Control-Allow-Credentials header to be set")
		}
	})

	t.Run("rejects OPTIONS preflight for disallowed origin", func(t *testing.T) {
		router := gin.New()
		router.Use(CORS(allowedOrigins))
		router.OPTIONS("/test", func(c *gin.Context) {
			c.String(200, "OK")
		})

		req := httptest.NewRequest("OPTIONS", "/test", nil)
		req.Header.Set("Origin", "http://evil.com")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != 403 {
			t.Errorf("Expected status 403 for disallowed OPTIONS, got %d", w.Code)
		}
	})
}

func TestLogger(t *testing.T) {
	t.Run("stores request logger in context", func(t *testing.T) {
		router := gin.New()
		router.Use(RequestID())
		router.Use(Logger(logger.Nop()))
		router.GET("/test", func(c *gin.Context) {
			if GetLogger(c) == nil {
				t.Error("Expected logger to be in context")
			}
			c.String(200, "OK")
		})

		req := httptest.NewRequest("GET", "/test?foo=bar", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != 200 {
			t.Errorf("Expected status 200, got %d", w.Code)
		}
	})

	t.Run("GetLogger returns nil if not set", func(t *testing.T) {
		if log := GetLogger(&gin.Context{}); log != nil {
			t.Error("Expected nil logger")
		}
	})
}

func TestRecovery(t *testing.T) {
	t.Run("recovers from panic and returns 500", func(t *testing.T) {
		router := gin.New()
		router.Use(RequestID())
		router.Use(Recovery(logger.Nop()))
		router.GET("/panic", func(c *gin.Context) {
			panic("test panic")
		})

		req := httptest.NewRequest("GET", "/panic", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != 500 {
			t.Errorf("Expected status 500 after panic, got %d", w.Code)
		}
		body := w.Body.String()
		if !strings.Contains(body, "INTERNAL_SERVER_ERROR") || !strings.Contains(body, "request_id") {
			t.Errorf("Unexpected error body: %s", body)
		}
	})

	t.Run("does not interfere with normal requests", func(t *testing.T) {
		router := gin.New()
		router.Use(Recovery(logger.Nop()))
		router.GET("/normal", func(c *gin.Context) {
			c.String(200, "OK")
		})

		req := httptest.NewRequest("GET", "/normal", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != 200 || w.Body.String() != "OK" {
			t.Errorf("Expected 200 OK, got %d %s", w.Code, w.Body.String())
		}
	})
}

func newSessionRouter(t *testing.T) (*gin.Engine, *session.Manager) {
	t.Helper()
	mgr, err := session.NewManager("middleware-secret", time.Hour)
	if err != nil {
		t.Fatalf("Failed to create session manager: %v", err)
	}

	router := gin.New()
	router.Use(RequestID())
	router.Use(Session(mgr, SessionOptions{}))
	router.GET("/whoami", func(c *gin.Context) {
		id, ok := GetIdentity(c)
		if !ok {
			c.String(http.StatusOK, "none")
			return
		}
		c.String(http.StatusOK, id.UserID+"|"+id.AnonymousSessionID)
	})
	return router, mgr
}

func TestSession(t *testing.T) {
	t.Run("provisions anonymous session without credentials", func(t *testing.T) {
		router, mgr := newSessionRouter(t)

		req := httptest.NewRequest("GET", "/whoami", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if !strings.HasPrefix(w.Body.String(), "|") || len(w.Body.String()) < 2 {
			t.Fatalf("Expected anonymous identity, got %q", w.Body.String())
		}

		var cookie *http.Cookie
		for _, ck := range w.Result().Cookies() {
			if ck.Name == session.CookieName {
				cookie = ck
			}
		}
		if cookie == nil {
			t.Fatal("Expected session cookie to be set")
		}
		if !cookie.HttpOnly {
			t.Error("Expected session cookie to be HttpOnly")
		}

		id, err := mgr.Parse(cookie.Value)
		if err != nil {
			t.Fatalf("Expected cookie to carry a valid token: %v", err)
		}
		if "|"+id.AnonymousSessionID != w.Body.String() {
			t.Errorf("Cookie identity %s does not match request identity %s", id.AnonymousSessionID, w.Body.String())
		}
	})

	t.Run("reuses identity from cookie", func(t *testing.T) {
		router, mgr := newSessionRouter(t)
		token, _, err := mgr.Issue(models.Identity{AnonymousSessionID: "anon-42"})
		if err != nil {
			t.Fatal(err)
		}

		req := httptest.NewRequest("GET", "/whoami", nil)
		req.AddCookie(&http.Cookie{Name: session.CookieName, Value: token})
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Body.String() != "|anon-42" {
			t.Errorf("Expected cookie identity, got %q", w.Body.String())
		}
		if len(w.Result().Cookies()) != 0 {
			t.Error("Expected no new cookie for a valid session")
		}
	})

	t.Run("accepts bearer token", func(t *testing.T) {
		router, mgr := newSessionRouter(t)
		token, _, err := mgr.Issue(models.Identity{UserID: "user-7", Email: "u@example.com"})
		if err != nil {
			t.Fatal(err)
		}

		req := httptest.NewRequest("GET", "/whoami", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Body.String() != "user-7|" {
			t.Errorf("Expected bearer identity, got %q", w.Body.String())
		}
	})

	t.Run("rejects invalid bearer token", func(t *testing.T) {
		router, _ := newSessionRouter(t)

		req := httptest.NewRequest("GET", "/whoami", nil)
		req.Header.Set("Authorization", "Bearer nope")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("Expected 401, got %d", w.Code)
		}
		if !strings.Contains(w.Body.String(), "UNAUTHORIZED") {
			t.Errorf("Expected UNAUTHORIZED envelope, got %s", w.Body.String())
		}
	})
}

func TestMiddlewareStack(t *testing.T) {
	log := logger.Nop()
	mgr, err := session.NewManager("stack-secret", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	router := gin.New()
	router.Use(RequestID())
	router.Use(Logger(log))
	router.Use(Recovery(log))
	router.Use(CORS([]string{"http://localhost:3000"}))
	router.Use(Session(mgr, SessionOptions{}))
	router.GET("/test", func(c *gin.Context) {
		if GetRequestID(c) == "" {
			t.Error("Expected request ID from RequestID middleware")
		}
		if GetLogger(c) == nil {
			t.Error("Expected logger from Logger middleware")
		}
		if _, ok := GetIdentity(c); !ok {
			t.Error("Expected identity from Session middleware")
		}
		c.String(200, "OK")
	})

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != 200 {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
		t.Error("Expected CORS headers")
	}
}
