package authz

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sentra-iam/sentra/internal/resolver"
)

func okHandler(hits *int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*hits++
		w.WriteHeader(http.StatusNoContent)
	})
}

func doRequest(t *testing.T, handler http.Handler, actor *Actor) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if actor != nil {
		req = req.WithContext(ContextWithActor(req.Context(), *actor))
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestRequireAnyMissingActor(t *testing.T) {
	fx := newEngine(t)
	mw := Middleware{Service: fx.svc}

	hits := 0
	handler := mw.RequireAny("Identity.Users.Read")(okHandler(&hits))

	rec := doRequest(t, handler, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Zero(t, hits)
}

func TestRequireAnyPassesOnOneMatch(t *testing.T) {
	fx := newEngine(t)
	fx.resolver.sets[7] = resolver.NewSet("identity.users.read")
	mw := Middleware{Service: fx.svc}

	hits := 0
	handler := mw.RequireAny("Billing.Invoices.Read", "Identity.Users.Read")(okHandler(&hits))

	rec := doRequest(t, handler, &Actor{UserID: 7})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1, hits)
}

func TestRequireAnyDeniesWithoutAnyMatch(t *testing.T) {
	fx := newEngine(t)
	fx.resolver.sets[7] = resolver.NewSet("identity.users.read")
	mw := Middleware{Service: fx.svc}

	hits := 0
	handler := mw.RequireAny("Billing.Invoices.Read", "Billing.Invoices.Approve")(okHandler(&hits))

	rec := doRequest(t, handler, &Actor{UserID: 7})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Zero(t, hits)
}

func TestRequireAllNeedsEveryPermission(t *testing.T) {
	fx := newEngine(t)
	fx.resolver.sets[7] = resolver.NewSet("identity.users.read")
	mw := Middleware{Service: fx.svc}

	hits := 0
	handler := mw.RequireAll("Identity.Users.Read", "Billing.Invoices.Read")(okHandler(&hits))

	rec := doRequest(t, handler, &Actor{UserID: 7})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Zero(t, hits)
}

func TestRequireAllPassesWhenAllHeld(t *testing.T) {
	fx := newEngine(t)
	fx.resolver.sets[7] = resolver.NewSet("identity.users.read", "billing.invoices.read")
	mw := Middleware{Service: fx.svc}

	hits := 0
	handler := mw.RequireAll("Identity.Users.Read", "Billing.Invoices.Read")(okHandler(&hits))

	rec := doRequest(t, handler, &Actor{UserID: 7})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1, hits)
}

func TestRequireAllMissingActor(t *testing.T) {
	fx := newEngine(t)
	mw := Middleware{Service: fx.svc}

	hits := 0
	handler := mw.RequireAll("Identity.Users.Read")(okHandler(&hits))

	rec := doRequest(t, handler, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Zero(t, hits)
}

func TestRequireAnyEmptyListPassesThrough(t *testing.T) {
	fx := newEngine(t)
	mw := Middleware{Service: fx.svc}

	hits := 0
	handler := mw.RequireAny()(okHandler(&hits))

	rec := doRequest(t, handler, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1, hits)
}
