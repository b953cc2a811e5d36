package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	auth "github.com/goliatone/go-project-auth"
)

func TestRecorder_Record(t *testing.T) {
	r := New(prometheus.NewRegistry())

	require.NoError(t, r.Record(context.Background(), auth.ActivityEvent{EventType: auth.ActivityEventLoginSuccess}))
	require.NoError(t, r.Record(context.Background(), auth.ActivityEvent{EventType: auth.ActivityEventLoginSuccess}))
	require.NoError(t, r.Record(context.Background(), auth.ActivityEvent{EventType: auth.ActivityEventLogout}))

	assert.Equal(t, 2.0, testutil.ToFloat64(r.events.WithLabelValues(string(auth.ActivityEventLoginSuccess))))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.events.WithLabelValues(string(auth.ActivityEventLogout))))
}

func TestRecorder_ObserveDecision(t *testing.T) {
	r := New(nil)

	r.ObserveDecision(auth.ActionDelete, auth.RoleMember, false)
	r.ObserveDecision(auth.ActionRead, auth.RoleMember, true)
	r.ObserveDecision(auth.ActionRead, auth.RoleNone, false)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.decisions.WithLabelValues("delete", "member", "deny")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.decisions.WithLabelValues("read", "member", "allow")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.decisions.WithLabelValues("read", "none", "deny")))
}

func TestRecorder_ObservePurge(t *testing.T) {
	r := New(nil)

	r.ObservePurge(3)
	r.ObservePurge(0)
	r.ObservePurge(-1)

	assert.Equal(t, 3.0, testutil.ToFloat64(r.purged))
}

func TestRecorder_Handler(t *testing.T) {
	r := New(nil)
	r.SetBuildInfo("v1.2.3", "abc123")
	r.ObserveDecision(auth.ActionRead, auth.RoleAdmin, true)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `auth_build_info{commit="abc123",version="v1.2.3"} 1`))
	assert.True(t, strings.Contains(body, "authz_decisions_total"))
}

func TestRecorder_FeedsResolver(t *testing.T) {
	r := New(nil)
	resolver := auth.NewResolver(nil).WithDecisionObserver(r)

	err := resolver.CanCreateResource(auth.Caller{UserID: "u1", GlobalRole: auth.RoleMember})
	assert.ErrorIs(t, err, auth.ErrForbidden)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.decisions.WithLabelValues(string(auth.ActionCreateResource), "member", "deny")))
}
