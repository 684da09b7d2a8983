package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "s3cret"

func sign(t *testing.T, method jwt.SigningMethod, key any, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(method, jwt.RegisteredClaims{
		Subject:   "user-1",
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	s, err := tok.SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func authRouter(secret string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(NewAuthMiddleware(nil, secret).RequireAuth())
	r.GET("/v1/explainers", func(c *gin.Context) {
		c.String(http.StatusOK, Subject(c))
	})
	return r
}

func TestRequireAuth(t *testing.T) {
	t.Parallel()
	future := time.Now().Add(time.Hour)

	cases := []struct {
		name   string
		secret string
		header string
		query  string
		want   int
		body   string
	}{
		{name: "disabled", secret: "", want: http.StatusOK},
		{name: "missing", secret: testSecret, want: http.StatusUnauthorized},
		{name: "valid header", secret: testSecret, header: "Bearer " + sign(t, jwt.SigningMethodHS256, []byte(testSecret), future), want: http.StatusOK, body: "user-1"},
		{name: "valid query", secret: testSecret, query: sign(t, jwt.SigningMethodHS256, []byte(testSecret), future), want: http.StatusOK, body: "user-1"},
		{name: "wrong key", secret: testSecret, header: "Bearer " + sign(t, jwt.SigningMethodHS256, []byte("other"), future), want: http.StatusUnauthorized},
		{name: "expired", secret: testSecret, header: "Bearer " + sign(t, jwt.SigningMethodHS256, []byte(testSecret), time.Now().Add(-time.Minute)), want: http.StatusUnauthorized},
		{name: "wrong alg", secret: testSecret, header: "Bearer " + sign(t, jwt.SigningMethodHS512, []byte(testSecret), future), want: http.StatusUnauthorized},
		{name: "not bearer", secret: testSecret, header: "Basic abc", want: http.StatusUnauthorized},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			target := "/v1/explainers"
			if tc.query != "" {
				target += "?token=" + tc.query
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			authRouter(tc.secret).ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("status: got=%d want=%d body=%s", rec.Code, tc.want, rec.Body.String())
			}
			if tc.body != "" && rec.Body.String() != tc.body {
				t.Fatalf("subject: got=%q want=%q", rec.Body.String(), tc.body)
			}
		})
	}
}
