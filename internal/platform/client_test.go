package platform_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canonica-labs/rlsdemo/internal/errors"
	"github.com/canonica-labs/rlsdemo/internal/platform"
	"github.com/canonica-labs/rlsdemo/internal/platform/platformtest"
)

func newClient(srv *platformtest.Server) *platform.Client {
	return platform.NewClient(platform.Options{
		URL:        srv.URL,
		AnonKey:    platformtest.AnonKey,
		ClientInfo: "rlsdemo/test",
	})
}

func TestSignInWithPassword_ReturnsSession(t *testing.T) {
	srv := platformtest.NewServer(t)
	client := newClient(srv)

	session, err := client.SignInWithPassword(context.Background(), "alice@companya.com", "testtest")
	require.NoError(t, err)

	assert.Equal(t, "00000000-0000-4000-8000-00000000000a", session.UserID)
	assert.NotEmpty(t, session.AccessToken)
	assert.Equal(t, "authenticated", session.Role)
	assert.Equal(t, "alice@companya.com", session.Email)
	assert.False(t, session.ExpiresAt.IsZero())
	assert.NotEmpty(t, session.SessionID, "filled from token claims")
	assert.NoError(t, session.Valid())

	reqs := srv.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, http.MethodPost, reqs[0].Method)
	assert.Equal(t, "/auth/v1/token", reqs[0].Path)
	assert.Equal(t, platformtest.AnonKey, reqs[0].APIKey)
	assert.Equal(t, "Bearer "+platformtest.AnonKey, reqs[0].Authorization)
}

func TestSignInWithPassword_InvalidCredentials(t *testing.T) {
	srv := platformtest.NewServer(t)
	client := newClient(srv)

	session, err := client.SignInWithPassword(context.Background(), "alice@companya.com", "wrong")
	require.Error(t, err)
	assert.Nil(t, session)

	var authErr *errors.ErrAuthFailed
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "alice@companya.com", authErr.Email)
	assert.Equal(t, http.StatusBadRequest, authErr.Status)
	assert.Equal(t, "Invalid login credentials", errors.Brief(err))
	assert.Equal(t, errors.KindAuth, errors.KindOf(err))
}

func TestSignInWithPassword_NoSession(t *testing.T) {
	srv := platformtest.NewServer(t)
	srv.NoSession["bob@companya.com"] = true
	client := newClient(srv)

	_, err := client.SignInWithPassword(context.Background(), "bob@companya.com", "testtest")
	require.Error(t, err)
	assert.Equal(t, errors.KindNoSession, errors.KindOf(err))
	assert.Equal(t, "No session returned.", errors.Brief(err))
}

func TestSignInWithPassword_LegacyErrorShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Email not confirmed"}`))
	}))
	defer srv.Close()

	client := platform.NewClient(platform.Options{URL: srv.URL, AnonKey: "k"})
	_, err := client.SignInWithPassword(context.Background(), "new@companya.com", "pw")
	require.Error(t, err)
	assert.Equal(t, "Email not confirmed", errors.Brief(err))
}

func TestSignInWithPassword_ServerErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer srv.Close()

	client := platform.NewClient(platform.Options{URL: srv.URL, AnonKey: "k"})
	_, err := client.SignInWithPassword(context.Background(), "alice@companya.com", "pw")
	require.Error(t, err)
	assert.Equal(t, errors.KindUnavailable, errors.KindOf(err))
	assert.Contains(t, errors.Brief(err), "upstream down")
}

func TestSignInWithPassword_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := platform.NewClient(platform.Options{URL: url, AnonKey: "k"})
	_, err := client.SignInWithPassword(context.Background(), "alice@companya.com", "pw")
	require.Error(t, err)
	assert.Equal(t, errors.KindUnavailable, errors.KindOf(err))
	assert.Equal(t, errors.CodeService, errors.CodeOf(err))
}

func TestSignOut_InvalidatesToken(t *testing.T) {
	srv := platformtest.NewServer(t)
	client := newClient(srv)
	ctx := context.Background()

	session, err := client.SignInWithPassword(ctx, "charlie@companyb.com", "testtest")
	require.NoError(t, err)
	require.Equal(t, 1, srv.ActiveSessions())

	require.NoError(t, client.SignOut(ctx, session))
	assert.Equal(t, 1, srv.SignOuts("charlie@companyb.com"))
	assert.Equal(t, 0, srv.ActiveSessions())

	last := srv.Requests()[len(srv.Requests())-1]
	assert.Equal(t, "/auth/v1/logout", last.Path)
	assert.Equal(t, "Bearer "+session.AccessToken, last.Authorization)

	// A second sign-out finds the session gone and still succeeds.
	assert.NoError(t, client.SignOut(ctx, session))
	assert.Equal(t, 1, srv.SignOuts("charlie@companyb.com"))
}

func TestSignOut_ServerFailure(t *testing.T) {
	srv := platformtest.NewServer(t)
	srv.FailSignOut = true
	client := newClient(srv)
	ctx := context.Background()

	session, err := client.SignInWithPassword(ctx, "david@companyb.com", "testtest")
	require.NoError(t, err)

	err = client.SignOut(ctx, session)
	require.Error(t, err)
	assert.Equal(t, "logout unavailable", errors.Brief(err))
}

func TestSelect_AppliesRowLevelSecurity(t *testing.T) {
	srv := platformtest.NewServer(t)
	client := newClient(srv)
	ctx := context.Background()

	alice, err := client.SignInWithPassword(ctx, "alice@companya.com", "testtest")
	require.NoError(t, err)
	charlie, err := client.SignInWithPassword(ctx, "charlie@companyb.com", "testtest")
	require.NoError(t, err)

	aliceRows, err := client.Select(ctx, platform.BindSession(alice), "documents")
	require.NoError(t, err)
	aliceDocs, err := platform.DecodeDocuments(aliceRows)
	require.NoError(t, err)
	require.Len(t, aliceDocs, 2)
	for _, d := range aliceDocs {
		assert.Equal(t, "1", d.CompanyID)
	}

	charlieRows, err := client.Select(ctx, platform.BindSession(charlie), "documents")
	require.NoError(t, err)
	charlieDocs, err := platform.DecodeDocuments(charlieRows)
	require.NoError(t, err)
	require.Len(t, charlieDocs, 1)
	assert.Equal(t, "Company B Handbook", charlieDocs[0].Name)
	assert.Equal(t, "2", charlieDocs[0].CompanyID)

	reqs := srv.Requests()
	last := reqs[len(reqs)-1]
	assert.Equal(t, "/rest/v1/documents", last.Path)
	assert.Equal(t, "Bearer "+charlie.AccessToken, last.Authorization)
	assert.Equal(t, "charlie@companyb.com", srv.TokenOwner(last.Authorization))
}

func TestSelect_AnonymousScopeSeesNothing(t *testing.T) {
	srv := platformtest.NewServer(t)
	client := newClient(srv)

	rows, err := client.Select(context.Background(), platform.AnonymousScope(), "documents")
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.NotNil(t, rows)

	last := srv.Requests()[0]
	assert.Equal(t, "Bearer "+platformtest.AnonKey, last.Authorization)
}

func TestSelect_ServiceErrorBecomesQueryError(t *testing.T) {
	srv := platformtest.NewServer(t)
	srv.FailTables["document_sections"] = http.StatusForbidden
	client := newClient(srv)

	_, err := client.Select(context.Background(), platform.AnonymousScope(), "document_sections")
	require.Error(t, err)

	var qe *errors.ErrQueryFailed
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, "document_sections", qe.Table)
	assert.Equal(t, http.StatusForbidden, qe.Status)
	assert.Equal(t, "42501", qe.PGCode)
	assert.Equal(t, "permission denied for table document_sections", errors.Brief(err))
	assert.Equal(t, errors.KindQuery, errors.KindOf(err))
}

func TestSelect_UnknownTable(t *testing.T) {
	srv := platformtest.NewServer(t)
	client := newClient(srv)

	_, err := client.Select(context.Background(), platform.AnonymousScope(), "secrets")
	require.Error(t, err)
	assert.Contains(t, errors.Brief(err), "does not exist")
}

func TestSelect_SendsProfileForCustomSchema(t *testing.T) {
	srv := platformtest.NewServer(t)
	client := platform.NewClient(platform.Options{URL: srv.URL, AnonKey: platformtest.AnonKey, Schema: "tenant"})

	_, err := client.Select(context.Background(), platform.AnonymousScope(), "documents")
	require.NoError(t, err)
	assert.Equal(t, "tenant", srv.Requests()[0].Profile)

	defaultClient := newClient(srv)
	_, err = defaultClient.Select(context.Background(), platform.AnonymousScope(), "documents")
	require.NoError(t, err)
	assert.Empty(t, srv.Requests()[1].Profile)
}

func TestSelect_UnreachableIsQueryError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := platform.NewClient(platform.Options{URL: url, AnonKey: "k"})
	_, err := client.Select(context.Background(), platform.AnonymousScope(), "documents")
	require.Error(t, err)
	assert.Equal(t, errors.KindQuery, errors.KindOf(err))

	var unavailable *errors.ErrServiceUnavailable
	assert.ErrorAs(t, err, &unavailable, "transport failure is kept as the cause")
}

func TestHealthAndPing(t *testing.T) {
	srv := platformtest.NewServer(t)
	client := newClient(srv)
	ctx := context.Background()

	info, err := client.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "GoTrue", info.Name)
	assert.Equal(t, "v2.170.0", info.Version)

	assert.NoError(t, client.Ping(ctx, platform.AnonymousScope()))

	badKey := platform.NewClient(platform.Options{URL: srv.URL, AnonKey: "wrong"})
	err = badKey.Ping(ctx, platform.AnonymousScope())
	require.Error(t, err)
	assert.Equal(t, errors.KindAuth, errors.KindOf(err))
}

func TestEmptyEndpoint(t *testing.T) {
	client := platform.NewClient(platform.Options{})
	ctx := context.Background()

	_, err := client.SignInWithPassword(ctx, "a@b.c", "pw")
	assert.Equal(t, errors.KindUnavailable, errors.KindOf(err))

	_, err = client.Select(ctx, platform.AnonymousScope(), "documents")
	assert.Equal(t, errors.KindQuery, errors.KindOf(err))

	_, err = client.Health(ctx)
	assert.Error(t, err)
}
