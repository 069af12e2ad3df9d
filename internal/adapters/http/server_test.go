package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imagewatch/internal/adapters/memory"
	"imagewatch/internal/domain"
	"imagewatch/internal/metrics"
	"imagewatch/internal/notify"
	"imagewatch/internal/ports"
	"imagewatch/internal/session"
)

type fakeRunner struct {
	invoked   []string
	processed int
	err       error
}

func (r *fakeRunner) Invoke(_ context.Context, name string) error {
	r.invoked = append(r.invoked, name)
	return r.err
}

func (r *fakeRunner) RunOnce(context.Context) (int, error) { return r.processed, r.err }

const functionsToken = "fn-secret"

type apiFixture struct {
	store    *memory.Store
	sessions *session.Manager
	runner   *fakeRunner
	handler  http.Handler
}

func newAPI(t *testing.T, trigger ports.Trigger) *apiFixture {
	t.Helper()
	if trigger == nil {
		trigger = ports.TriggerFunc(func(context.Context, string) error { return nil })
	}
	reg := prometheus.NewRegistry()
	store := memory.New()
	sessions := session.NewManager(session.Deps{Store: store, Trigger: trigger, Metrics: metrics.New(reg)})
	t.Cleanup(sessions.Close)
	runner := &fakeRunner{processed: 3}
	return &apiFixture{
		store:    store,
		sessions: sessions,
		runner:   runner,
		handler:  New(sessions, runner, reg, functionsToken).Routes(),
	}
}

func (f *apiFixture) do(t *testing.T, method, path, account, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	if account != "" {
		req.Header.Set(AccountHeader, account)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) callFunction(t *testing.T, path, auth string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func (f *apiFixture) create(t *testing.T, account, name string) domain.Image {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/images", account, `{"name":"`+name+`"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[domain.Image](t, rec)
}

func TestHealthzAndMetrics(t *testing.T) {
	f := newAPI(t, nil)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/healthz", "", "").Code)

	f.create(t, "acct", "nginx")
	rec := f.do(t, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "imagewatch_active_sessions 1")
}

func TestRequiresAccount(t *testing.T) {
	f := newAPI(t, nil)
	rec := f.do(t, http.MethodGet, "/images", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, f.sessions.Len())
}

func TestCreateAndListImages(t *testing.T) {
	f := newAPI(t, nil)
	rec := f.do(t, http.MethodPost, "/images", "acct", `{"name":"nginx","registry_url":"ghcr.io/acme/nginx"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	img := decode[domain.Image](t, rec)
	assert.Equal(t, domain.StatusPending, img.Status)
	require.NotNil(t, img.RegistryDomain)
	assert.Equal(t, "ghcr.io", *img.RegistryDomain)

	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, "/images", "acct", `{"name":"nginx"}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/images", "acct", `{"name":"  "}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/images", "acct", `{`).Code)

	f.create(t, "other", "redis")
	rec = f.do(t, http.MethodGet, "/images?search=ngi", "acct", "")
	require.Equal(t, http.StatusOK, rec.Code)
	images := decode[[]domain.Image](t, rec)
	require.Len(t, images, 1)
	assert.Equal(t, "nginx", images[0].Name)
	assert.Len(t, images[0].History, 1)

	rec = f.do(t, http.MethodGet, "/images?search=redis", "acct", "")
	assert.Empty(t, decode[[]domain.Image](t, rec))
}

func TestScanAndDelete(t *testing.T) {
	f := newAPI(t, nil)
	img := f.create(t, "acct", "nginx")

	rec := f.do(t, http.MethodPost, "/images/"+img.ID+"/scan", "acct", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, domain.StatusScanning, decode[domain.Image](t, rec).Status)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/images/missing/scan", "acct", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/images/"+img.ID+"/scan", "other", "").Code)

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/images/"+img.ID, "acct", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodDelete, "/images/"+img.ID, "acct", "").Code)
}

func TestBatchOperations(t *testing.T) {
	f := newAPI(t, nil)
	a := f.create(t, "acct", "a")
	b := f.create(t, "acct", "b")

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/images/batch/scan", "acct", `{"ids":[]}`).Code)

	rec := f.do(t, http.MethodPost, "/images/batch/scan", "acct", `{"ids":["`+a.ID+`","`+b.ID+`"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/images/batch/delete", "acct", `{"ids":["`+a.ID+`","missing"]}`)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Contains(t, body, "error")
	assert.Contains(t, body, "result")
}

func TestStatsAndCompliance(t *testing.T) {
	f := newAPI(t, nil)
	f.create(t, "acct", "nginx")

	rec := f.do(t, http.MethodGet, "/stats", "acct", "")
	require.Equal(t, http.StatusOK, rec.Code)
	st := decode[domain.Stats](t, rec)
	assert.Equal(t, 1, st.TotalImages.Value)

	rec = f.do(t, http.MethodGet, "/compliance", "acct", "")
	require.Equal(t, http.StatusOK, rec.Code)
	c := decode[domain.Compliance](t, rec)
	assert.Equal(t, 100, c.Score)
	assert.Equal(t, domain.Compliant, c.Level)
}

func TestNotificationsAndSignOut(t *testing.T) {
	f := newAPI(t, nil)
	f.create(t, "acct", "nginx")

	rec := f.do(t, http.MethodGet, "/notifications", "acct", "")
	require.Equal(t, http.StatusOK, rec.Code)
	notes := decode[[]notify.Notification](t, rec)
	require.NotEmpty(t, notes)

	rec = f.do(t, http.MethodGet, "/notifications?drain=true", "acct", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decode[[]notify.Notification](t, rec))

	rec = f.do(t, http.MethodPost, "/images/refresh", "acct", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	assert.Equal(t, 1, f.sessions.Len())
	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/session", "acct", "").Code)
	assert.Zero(t, f.sessions.Len())
}

func TestFunctions(t *testing.T) {
	f := newAPI(t, nil)

	bearer := "Bearer " + functionsToken

	rec := f.callFunction(t, "/functions/scan-simulator", bearer)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"scan-simulator"}, f.runner.invoked)

	rec = f.callFunction(t, "/functions/scan-simulator?wait=true", bearer)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]int{"processed": 3}, decode[map[string]int](t, rec))

	assert.Equal(t, http.StatusNotFound, f.callFunction(t, "/functions/other", bearer).Code)
}

func TestFunctionsRequireBearerToken(t *testing.T) {
	f := newAPI(t, nil)
	for _, auth := range []string{"", "Bearer wrong", functionsToken} {
		rec := f.callFunction(t, "/functions/scan-simulator?wait=true", auth)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "auth %q", auth)
	}
	assert.Empty(t, f.runner.invoked)
}

func TestFunctionsOpenWithoutToken(t *testing.T) {
	runner := &fakeRunner{}
	sessions := session.NewManager(session.Deps{Store: memory.New()})
	t.Cleanup(sessions.Close)
	handler := New(sessions, runner, nil, "").Routes()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/functions/scan-simulator", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestListImagesByIDs(t *testing.T) {
	f := newAPI(t, nil)
	a := f.create(t, "acct", "a")
	f.create(t, "acct", "b")
	c := f.create(t, "acct", "c")

	rec := f.do(t, http.MethodGet, "/images?ids="+a.ID+","+c.ID, "acct", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	images := decode[[]domain.Image](t, rec)
	ids := []string{}
	for _, img := range images {
		ids = append(ids, img.ID)
	}
	assert.ElementsMatch(t, []string{a.ID, c.ID}, ids)

	rec = f.do(t, http.MethodGet, "/images?search=a&search=b", "acct", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrAuthRequired, http.StatusUnauthorized},
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrDuplicateName, http.StatusConflict},
		{domain.ErrInvalidName, http.StatusBadRequest},
		{domain.ErrInvalidURL, http.StatusBadRequest},
		{domain.ErrNegativeCount, http.StatusBadRequest},
		{domain.ErrBatchFailed, http.StatusBadGateway},
		{&domain.TransportError{Op: "list", Err: errors.New("down")}, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
