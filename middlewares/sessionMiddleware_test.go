package middlewares

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/purchase_backend/utils"
	"github.com/stretchr/testify/assert"
)

type seen struct {
	correlationId, user, key string
	hasUser, hasKey          bool
}

func newTestRouter(s *seen) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestContext(), SessionMiddleware())
	r.GET("/", func(c *gin.Context) {
		ctx := c.Request.Context()
		s.correlationId, _ = utils.GetCorrelationIdFromContext(ctx)
		s.user, s.hasUser = utils.GetUserNameFromContext(ctx)
		s.key, s.hasKey = utils.GetIdempotencyKeyFromContext(ctx)
		c.Status(http.StatusOK)
	})
	return r
}

func TestRequestContextCopiesHeaders(t *testing.T) {
	var s seen
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderCorrelationId, "trace-1")
	req.Header.Set(HeaderUser, " clerk ")
	req.Header.Set(HeaderIdempotencyKey, "confirm-1")
	rec := httptest.NewRecorder()
	newTestRouter(&s).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "trace-1", s.correlationId)
	assert.Equal(t, "trace-1", rec.Header().Get(HeaderCorrelationId))
	assert.True(t, s.hasUser)
	assert.Equal(t, "clerk", s.user)
	assert.True(t, s.hasKey)
	assert.Equal(t, "confirm-1", s.key)
}

func TestRequestContextMintsCorrelationId(t *testing.T) {
	for name, header := range map[string]string{
		"missing":  "",
		"too long": strings.Repeat("x", 65),
	} {
		t.Run(name, func(t *testing.T) {
			var s seen
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if header != "" {
				req.Header.Set(HeaderCorrelationId, header)
			}
			rec := httptest.NewRecorder()
			newTestRouter(&s).ServeHTTP(rec, req)

			assert.Len(t, s.correlationId, 36)
			assert.Equal(t, s.correlationId, rec.Header().Get(HeaderCorrelationId))
			assert.False(t, s.hasUser)
			assert.False(t, s.hasKey)
		})
	}
}

func TestRequestContextFallsBackToRequestId(t *testing.T) {
	var s seen
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestId, "req-9")
	newTestRouter(&s).ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "req-9", s.correlationId)
}

func TestSessionMiddlewareRejectsUnknownToken(t *testing.T) {
	var s seen
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("token", "nope")
	rec := httptest.NewRecorder()
	newTestRouter(&s).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
