package handler_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func doForm(r *gin.Engine, path string, form url.Values, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for _, m := range mutate {
		m(req)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func doGet(r *gin.Engine, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

func doJSON(r *gin.Engine, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body
}

func authorize(t *testing.T, r *gin.Engine) string {
	t.Helper()
	q := url.Values{
		"response_type": {"code"},
		"client_id":     {"acme"},
		"redirect_uri":  {acmeRedirect + "?tenant=1"},
		"state":         {"xyz"},
		"scope":         {"openid"},
	}
	w := doGet(r, "/authorize?"+q.Encode())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	require.Equal(t, "acme", body["client_id"])
	request, _ := body["request"].(string)
	require.NotEmpty(t, request)
	return request
}

func login(t *testing.T, r *gin.Engine, request string) (code string) {
	t.Helper()
	w := doForm(r, "/login", url.Values{"request": {request}, "username": {"alice"}, "password": {"wonderland"}})
	require.Equal(t, http.StatusFound, w.Code, w.Body.String())

	loc, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "acme.example", loc.Host)
	require.Equal(t, "xyz", loc.Query().Get("state"))
	require.Equal(t, "1", loc.Query().Get("tenant"))
	code = loc.Query().Get("code")
	require.NotEmpty(t, code)
	return code
}

func TestAuthorizationCodeFlowOverHTTP(t *testing.T) {
	r := newTestEngine(t)
	code := login(t, r, authorize(t, r))

	exchange := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"client_id":     {"acme"},
		"client_secret": {"s1"},
		"redirect_uri":  {acmeRedirect},
	}
	w := doForm(r, "/token", exchange)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	body := decode(t, w)
	require.Equal(t, "Bearer", body["token_type"])
	require.EqualValues(t, 900, body["expires_in"])
	token, _ := body["access_token"].(string)
	require.NotEmpty(t, token)
	require.Equal(t, token, body["id_token"])

	w = doJSON(r, "/verify", `{"token":"`+token+`","aud":"acme"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body = decode(t, w)
	require.Equal(t, true, body["valid"])
	claims := body["claims"].(map[string]any)
	require.Equal(t, "alice", claims["sub"])
	require.Equal(t, "acme", claims["aud"])
	require.Equal(t, "openid", claims["scope"])
	require.Equal(t, testIssuer, claims["iss"])

	w = doForm(r, "/token", exchange)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "invalid_or_expired_code", decode(t, w)["error"])
}

func TestAuthorizeRejections(t *testing.T) {
	r := newTestEngine(t)

	cases := []struct {
		name  string
		query url.Values
		want  string
	}{
		{"unknown client", url.Values{"client_id": {"nobody"}, "redirect_uri": {acmeRedirect}}, "invalid_client"},
		{"missing client", url.Values{"redirect_uri": {acmeRedirect}}, "invalid_client"},
		{"unregistered redirect", url.Values{"client_id": {"acme"}, "redirect_uri": {"https://evil.example/cb"}}, "invalid_redirect_uri"},
		{"missing redirect", url.Values{"client_id": {"acme"}}, "invalid_redirect_uri"},
		{"implicit flow", url.Values{"response_type": {"token"}, "client_id": {"acme"}, "redirect_uri": {acmeRedirect}}, "unsupported_response_type"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := doGet(r, "/authorize?"+tc.query.Encode())
			require.Equal(t, http.StatusBadRequest, w.Code)
			require.Equal(t, tc.want, decode(t, w)["error"])
		})
	}
}

func TestLoginInvalidCredentialsEchoesRequest(t *testing.T) {
	r := newTestEngine(t)
	request := authorize(t, r)

	w := doForm(r, "/login", url.Values{"request": {request}, "username": {"alice"}, "password": {"nope"}})
	require.Equal(t, http.StatusUnauthorized, w.Code)
	body := decode(t, w)
	require.Equal(t, "invalid_credentials", body["error"])
	require.Equal(t, request, body["request"])

	login(t, r, request)
}

func TestLoginRequestCannotBeReplayed(t *testing.T) {
	r := newTestEngine(t)
	request := authorize(t, r)
	login(t, r, request)

	w := doForm(r, "/login", url.Values{"request": {request}, "username": {"alice"}, "password": {"wonderland"}})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "invalid_authorization_request", decode(t, w)["error"])
}

func TestLoginRejectsMissingOrForgedRequest(t *testing.T) {
	r := newTestEngine(t)

	w := doForm(r, "/login", url.Values{"username": {"alice"}, "password": {"wonderland"}})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "invalid_request", decode(t, w)["error"])

	w = doForm(r, "/login", url.Values{"request": {"forged"}, "username": {"alice"}, "password": {"wonderland"}})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "invalid_authorization_request", decode(t, w)["error"])
}

func TestTokenWrongSecretKeepsCode(t *testing.T) {
	r := newTestEngine(t)
	code := login(t, r, authorize(t, r))

	form := url.Values{"code": {code}, "client_id": {"acme"}, "client_secret": {"bad"}, "redirect_uri": {acmeRedirect}}
	w := doForm(r, "/token", form)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "invalid_client_secret", decode(t, w)["error"])

	form.Set("client_secret", "s1")
	w = doForm(r, "/token", form)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestTokenBasicAuth(t *testing.T) {
	r := newTestEngine(t)
	code := login(t, r, authorize(t, r))

	w := doForm(r, "/token", url.Values{"grant_type": {"authorization_code"}, "code": {code}, "redirect_uri": {acmeRedirect}},
		func(req *http.Request) { req.SetBasicAuth("acme", "s1") })
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestTokenClientMismatch(t *testing.T) {
	r := newTestEngine(t)
	code := login(t, r, authorize(t, r))

	w := doForm(r, "/token", url.Values{"code": {code}, "client_id": {"globex"}, "client_secret": {"s2"}, "redirect_uri": {"https://globex.example/cb"}})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "client_mismatch", decode(t, w)["error"])
}

func TestTokenRequestValidation(t *testing.T) {
	r := newTestEngine(t)

	w := doForm(r, "/token", url.Values{"grant_type": {"password"}, "code": {"x"}})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "unsupported_grant_type", decode(t, w)["error"])

	w = doForm(r, "/token", url.Values{"client_id": {"acme"}, "client_secret": {"s1"}, "redirect_uri": {acmeRedirect}})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "invalid_request", decode(t, w)["error"])

	w = doForm(r, "/token", url.Values{"code": {"x"}, "client_id": {"nobody"}, "client_secret": {"s1"}, "redirect_uri": {acmeRedirect}})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "invalid_client", decode(t, w)["error"])
}

func TestVerifyFailures(t *testing.T) {
	r := newTestEngine(t)

	w := doJSON(r, "/verify", `{}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, false, decode(t, w)["valid"])

	w = doJSON(r, "/verify", `{"token":"a.b.c"}`)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	body := decode(t, w)
	require.Equal(t, false, body["valid"])
	require.Equal(t, "Invalid token", body["error"])
	require.Equal(t, "invalid_token", body["error_code"])
}

func TestVerifyWrongAudience(t *testing.T) {
	r := newTestEngine(t)
	w := doGet(r, "/test-token")
	require.Equal(t, http.StatusOK, w.Code)
	token := decode(t, w)["id_token"].(string)

	w = doJSON(r, "/verify", `{"token":"`+token+`","aud":"acme"}`)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	body := decode(t, w)
	require.Equal(t, "Invalid audience", body["error"])
	require.Equal(t, "invalid_audience", body["error_code"])

	w = doJSON(r, "/verify", `{"token":"`+token+`","aud":"logging-service"}`)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestPing(t *testing.T) {
	w := doGet(newTestEngine(t), "/ping")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "OK", w.Body.String())
}

func TestUserInfoRequiresBearer(t *testing.T) {
	r := newTestEngine(t)

	w := doGet(r, "/userinfo")
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "Bearer", w.Header().Get("WWW-Authenticate"))

	req := httptest.NewRequest(http.MethodGet, "/userinfo", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "invalid_token", decode(t, w)["error"])
}

func TestUserInfoReturnsClaims(t *testing.T) {
	r := newTestEngine(t)

	w := doGet(r, "/test-token")
	require.Equal(t, http.StatusOK, w.Code)
	token, _ := decode(t, w)["id_token"].(string)
	require.NotEmpty(t, token)

	req := httptest.NewRequest(http.MethodGet, "/userinfo", nil)
	req.Header.Set("Authorization", "bearer "+token)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	require.Equal(t, "testuser", body["sub"])
	require.Equal(t, "logging-service", body["aud"])
}
