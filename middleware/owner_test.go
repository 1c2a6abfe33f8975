package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func ownerRouter() *gin.Engine {
	r := gin.New()
	r.GET("/probe", RequireOwner(), func(c *gin.Context) {
		c.String(http.StatusOK, GetOwnerID(c))
	})
	return r
}

func TestRequireOwnerAcceptsValidIdentifiers(t *testing.T) {
	router := ownerRouter()

	for _, id := range []string{"owner-1", "a", "User.42", "team_alpha", "0abc"} {
		req := httptest.NewRequest(http.MethodGet, "/probe", nil)
		req.Header.Set(OwnerIDHeader, id)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code, "id=%s", id)
		assert.Equal(t, id, w.Body.String())
	}
}

func TestRequireOwnerRejectsMalformedIdentifiers(t *testing.T) {
	router := ownerRouter()

	bad := []string{
		"",
		"-leading-dash",
		".leading-dot",
		"has space",
		"slash/path",
		"../traversal",
		strings.Repeat("a", 70),
	}
	for _, id := range bad {
		req := httptest.NewRequest(http.MethodGet, "/probe", nil)
		if id != "" {
			req.Header.Set(OwnerIDHeader, id)
		}

		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusForbidden, w.Code, "id=%q", id)
	}
}

func TestGetOwnerIDWithoutMiddleware(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Empty(t, GetOwnerID(c))
}
