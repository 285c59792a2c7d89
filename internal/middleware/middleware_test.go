package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/credential-eval-api/internal/models"
	appErrors "github.com/noah-isme/credential-eval-api/pkg/errors"
)

type stubValidator struct {
	claims *models.JWTClaims
	err    error
}

func (s stubValidator) ValidateToken(string) (*models.JWTClaims, error) {
	return s.claims, s.err
}

type recordingObserver struct {
	path   string
	status int
}

func (r *recordingObserver) ObserveHTTPRequest(_ string, path string, status int, _ time.Duration) {
	r.path, r.status = path, status
}

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(mw ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	handlers := append(mw, func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/evaluations/:id", handlers...)
	return r
}

func serve(r *gin.Engine, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/evaluations/abc", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestJWTMiddleware(t *testing.T) {
	reviewer := &models.JWTClaims{UserID: "u-1", Role: models.RoleReviewer}

	r := newRouter(JWT(stubValidator{claims: reviewer}))
	assert.Equal(t, http.StatusUnauthorized, serve(r, "").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, "Basic abc").Code)
	assert.Equal(t, http.StatusNoContent, serve(r, "Bearer token").Code)

	denied := newRouter(JWT(stubValidator{err: appErrors.Wrap(errors.New("expired"), appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid token")}))
	assert.Equal(t, http.StatusUnauthorized, serve(denied, "Bearer token").Code)
}

func TestOptionalJWTNeverBlocks(t *testing.T) {
	r := newRouter(OptionalJWT(stubValidator{err: errors.New("bad")}))
	assert.Equal(t, http.StatusNoContent, serve(r, "Bearer broken").Code)
	assert.Equal(t, http.StatusNoContent, serve(r, "").Code)
}

func TestRequireRoles(t *testing.T) {
	reviewer := &models.JWTClaims{UserID: "u-1", Role: models.RoleReviewer}
	submitter := &models.JWTClaims{UserID: "u-2", Role: models.RoleSubmitter}

	allowed := newRouter(JWT(stubValidator{claims: reviewer}), RequireRoles(models.RoleReviewer, models.RoleAdmin))
	assert.Equal(t, http.StatusNoContent, serve(allowed, "Bearer t").Code)

	forbidden := newRouter(JWT(stubValidator{claims: submitter}), RequireRoles(models.RoleReviewer, models.RoleAdmin))
	assert.Equal(t, http.StatusForbidden, serve(forbidden, "Bearer t").Code)

	anonymous := newRouter(RequireRoles(models.RoleAdmin))
	assert.Equal(t, http.StatusUnauthorized, serve(anonymous, "").Code)
}

func TestMetricsMiddlewareUsesRoutePattern(t *testing.T) {
	obs := &recordingObserver{}
	r := newRouter(Metrics(obs))
	serve(r, "")
	assert.Equal(t, "/evaluations/:id", obs.path)
	assert.Equal(t, http.StatusNoContent, obs.status)
}

func TestResponseMeta(t *testing.T) {
	r := gin.New()
	r.Use(WithResponseMeta())
	var meta map[string]interface{}
	r.GET("/rules/:country", func(c *gin.Context) {
		SetCacheHit(c, true)
		meta = ExtractMeta(c)
		c.Status(http.StatusOK)
	})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rules/CL", nil))
	assert.Equal(t, true, meta["cache_hit"])
	assert.Contains(t, meta, "processing_time_ms")
}

func TestRuleOriginMeta(t *testing.T) {
	cases := []struct {
		origin models.RuleSetOrigin
		hit    interface{}
	}{
		{origin: models.RuleSetOriginCache, hit: true},
		{origin: models.RuleSetOriginStore, hit: false},
		{origin: models.RuleSetOriginGenerated, hit: false},
		{origin: "", hit: nil},
	}
	for _, tc := range cases {
		r := gin.New()
		r.Use(WithResponseMeta())
		var meta map[string]interface{}
		r.GET("/rules/:country", func(c *gin.Context) {
			SetRuleOrigin(c, tc.origin)
			meta = ExtractMeta(c)
			c.Status(http.StatusOK)
		})
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/rules/CL", nil))
		assert.Equal(t, tc.hit, meta["cache_hit"], string(tc.origin))
		if tc.origin != "" {
			assert.Equal(t, string(tc.origin), meta["rule_origin"])
		}
	}

	bare := gin.New()
	var meta map[string]interface{}
	bare.GET("/", func(c *gin.Context) {
		meta = ExtractMeta(c)
		c.Status(http.StatusOK)
	})
	bare.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Nil(t, meta)
}
