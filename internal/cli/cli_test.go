package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gopkg.in/yaml.v3"

	"github.com/canonica-labs/rlsdemo/internal/config"
	"github.com/canonica-labs/rlsdemo/internal/demo"
	"github.com/canonica-labs/rlsdemo/internal/errors"
	"github.com/canonica-labs/rlsdemo/internal/observability"
	"github.com/canonica-labs/rlsdemo/internal/platform/platformtest"
)

// isolateEnv keeps the developer's environment and config files out of the
// test.
func isolateEnv(t *testing.T) {
	t.Helper()
	for _, env := range os.Environ() {
		key, _, _ := strings.Cut(env, "=")
		if strings.HasPrefix(key, "RLSDEMO_") || strings.HasPrefix(key, "OTEL_") {
			t.Setenv(key, "")
		}
	}
	t.Setenv(config.EnvServiceURL, "")
	t.Setenv(config.EnvAnonKey, "")
	t.Setenv(config.EnvDemoPassword, "")
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())
}

// execute runs the CLI with args and returns its exit code and output.
func execute(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	c := New()
	c.SetOutput(&stdout, &stderr)
	c.SetArgs(args)
	code := c.Execute()
	return code, stdout.String(), stderr.String()
}

func serverArgs(srv *platformtest.Server, args ...string) []string {
	return append([]string{"--url", srv.URL, "--anon-key", platformtest.AnonKey}, args...)
}

func TestRun_DefaultCommandPrintsTranscript(t *testing.T) {
	isolateEnv(t)
	srv := platformtest.NewServer(t)

	code, stdout, stderr := execute(t, serverArgs(srv)...)
	require.Equal(t, ExitSuccess, code, stderr)

	assert.True(t, strings.HasPrefix(stdout, "\nLogging in as alice@companya.com...\n"))
	for _, email := range []string{"alice@companya.com", "bob@companya.com", "charlie@companyb.com", "david@companyb.com"} {
		assert.Contains(t, stdout, "Signed out "+email+".")
	}
	assert.Contains(t, stdout, "- Company B Handbook (Company ID: 2)")
	assert.Zero(t, srv.ActiveSessions())
}

func TestRun_UserFilterAndIsolation(t *testing.T) {
	isolateEnv(t)
	srv := platformtest.NewServer(t)

	code, stdout, stderr := execute(t, serverArgs(srv, "run",
		"--user", "charlie@companyb.com", "--user", "alice@companya.com", "--isolation")...)
	require.Equal(t, ExitSuccess, code, stderr)

	alice := strings.Index(stdout, "Logging in as alice@companya.com")
	charlie := strings.Index(stdout, "Logging in as charlie@companyb.com")
	require.True(t, alice >= 0 && charlie >= 0)
	assert.Less(t, alice, charlie, "configured order is kept")
	assert.NotContains(t, stdout, "bob@companya.com")
	assert.Contains(t, stdout, "PASS: no company visible across groups (2 users evaluated)")
}

func TestRun_IsolationViolationExitsFive(t *testing.T) {
	isolateEnv(t)
	srv := platformtest.NewServer(t)

	// charlie is misconfigured into alice's group, so company 2 is seen from
	// companya.com (charlie) and companyb.com (david).
	cfgPath := filepath.Join(t.TempDir(), "rlsdemo.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
users:
  - email: alice@companya.com
  - email: charlie@companyb.com
    group: companya.com
  - email: david@companyb.com
`), 0o600))

	code, stdout, stderr := execute(t, serverArgs(srv, "--config", cfgPath, "run", "--isolation")...)
	assert.Equal(t, ExitIsolation, code)
	assert.Contains(t, stdout, "FAIL: company 2 visible to groups [companya.com companyb.com]")
	assert.Contains(t, stderr, "tenant isolation violated")
}

func TestRun_JSONReport(t *testing.T) {
	isolateEnv(t)
	srv := platformtest.NewServer(t)
	srv.FailTables["document_sections"] = http.StatusForbidden

	code, stdout, stderr := execute(t, serverArgs(srv, "--json", "run", "--user", "bob@companya.com")...)
	require.Equal(t, ExitSuccess, code, stderr)
	assert.NotContains(t, stdout, "Logging in as")

	var report demo.Report
	require.NoError(t, json.Unmarshal([]byte(stdout), &report))
	require.Len(t, report.Users, 1)
	u := report.Users[0]
	assert.Equal(t, "bob@companya.com", u.Email)
	assert.True(t, u.Documents.Succeeded())
	assert.Len(t, u.Documents.Rows, 2)
	assert.Equal(t, errors.KindQuery, u.Sections.ErrorKind)
	assert.Equal(t, "permission denied for table document_sections", u.Sections.Error)
	assert.True(t, u.SignedOut)
	assert.NotEmpty(t, report.RunID)
}

func TestRun_YAMLReport(t *testing.T) {
	isolateEnv(t)
	srv := platformtest.NewServer(t)

	code, stdout, stderr := execute(t, serverArgs(srv, "--yaml", "run", "--user", "david@companyb.com")...)
	require.Equal(t, ExitSuccess, code, stderr)

	var report map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(stdout), &report))
	users, ok := report["users"].([]any)
	require.True(t, ok)
	require.Len(t, users, 1)
	assert.Equal(t, "david@companyb.com", users[0].(map[string]any)["email"])
}

func TestRun_AuditDatabase(t *testing.T) {
	isolateEnv(t)
	srv := platformtest.NewServer(t)
	dsn := filepath.Join(t.TempDir(), "audit.db")
	t.Setenv("RLSDEMO_AUDIT_DRIVER", "sqlite")
	t.Setenv("RLSDEMO_AUDIT_DSN", dsn)

	code, _, stderr := execute(t, serverArgs(srv, "run", "--user", "alice@companya.com")...)
	require.Equal(t, ExitSuccess, code, stderr)

	code, stdout, stderr := execute(t, serverArgs(srv, "audit", "summary")...)
	require.Equal(t, ExitSuccess, code, stderr)
	assert.Contains(t, stdout, "Succeeded: 4")
	assert.Contains(t, stdout, "Failed:    0")
	assert.Contains(t, stdout, "- alice@companya.com on documents: 2")
}

func TestRun_MissingServiceURL(t *testing.T) {
	isolateEnv(t)

	code, _, stderr := execute(t, "run")
	assert.Equal(t, ExitValidation, code)
	assert.Contains(t, stderr, "service.url")
}

func TestRun_UnknownUser(t *testing.T) {
	isolateEnv(t)
	srv := platformtest.NewServer(t)

	code, _, stderr := execute(t, serverArgs(srv, "run", "--user", "eve@companyc.com")...)
	assert.Equal(t, ExitValidation, code)
	assert.Contains(t, stderr, "eve@companyc.com")
}

func TestJSONAndYAMLAreExclusive(t *testing.T) {
	isolateEnv(t)

	code, _, stderr := execute(t, "--json", "--yaml", "version")
	assert.Equal(t, ExitValidation, code)
	assert.Contains(t, stderr, "mutually exclusive")
}

func TestUnknownFlagIsValidationError(t *testing.T) {
	isolateEnv(t)

	code, _, _ := execute(t, "run", "--no-such-flag")
	assert.Equal(t, ExitValidation, code)
}

func TestLogin(t *testing.T) {
	isolateEnv(t)
	srv := platformtest.NewServer(t)

	code, stdout, stderr := execute(t, serverArgs(srv, "login", "--email", "alice@companya.com")...)
	require.Equal(t, ExitSuccess, code, stderr)
	assert.Contains(t, stdout, "✓ Signed in as alice@companya.com")
	assert.Contains(t, stdout, "User ID:    00000000-0000-4000-8000-00000000000a")
	assert.Contains(t, stdout, "Role:       authenticated")
	assert.Contains(t, stdout, "✓ Signed out")
	assert.Contains(t, stdout, "…", "only a token preview is printed")
	assert.Equal(t, 1, srv.SignOuts("alice@companya.com"))
}

func TestLogin_JSONNeverIncludesToken(t *testing.T) {
	isolateEnv(t)
	srv := platformtest.NewServer(t)

	code, stdout, stderr := execute(t, serverArgs(srv, "--json", "login", "--email", "bob@companya.com")...)
	require.Equal(t, ExitSuccess, code, stderr)

	var res struct {
		Session   map[string]any `json:"session"`
		SignedOut bool           `json:"signed_out"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &res))
	assert.Equal(t, "00000000-0000-4000-8000-00000000000b", res.Session["user_id"])
	assert.True(t, res.SignedOut)
	assert.NotContains(t, stdout, "access_token")
	assert.NotContains(t, stdout, "refresh-")
}

func TestLogin_WrongPasswordExitsTwo(t *testing.T) {
	isolateEnv(t)
	srv := platformtest.NewServer(t)

	code, _, stderr := execute(t, serverArgs(srv, "login", "--email", "alice@companya.com", "--password", "nope")...)
	assert.Equal(t, ExitAuth, code)
	assert.Contains(t, stderr, "Invalid login credentials")
}

func TestQuery(t *testing.T) {
	isolateEnv(t)
	srv := platformtest.NewServer(t)

	code, stdout, stderr := execute(t, serverArgs(srv, "query", "documents", "--email", "charlie@companyb.com")...)
	require.Equal(t, ExitSuccess, code, stderr)

	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, []string{"ID", "COMPANY_ID", "NAME"}, strings.Fields(lines[0]))
	assert.Equal(t, []string{"3", "2", "Company", "B", "Handbook"}, strings.Fields(lines[1]))
	assert.Equal(t, "(1 rows)", lines[2])
	assert.Equal(t, 1, srv.SignOuts("charlie@companyb.com"))
}

func TestQuery_AnonymousJSON(t *testing.T) {
	isolateEnv(t)
	srv := platformtest.NewServer(t)

	code, stdout, stderr := execute(t, serverArgs(srv, "--json", "query", "documents", "--anon")...)
	require.Equal(t, ExitSuccess, code, stderr)
	assert.JSONEq(t, "[]", stdout)
}

func TestQuery_RequiresEmailOrAnon(t *testing.T) {
	isolateEnv(t)
	srv := platformtest.NewServer(t)

	code, _, _ := execute(t, serverArgs(srv, "query", "documents")...)
	assert.Equal(t, ExitValidation, code)
}

func TestQuery_FailureStillSignsOut(t *testing.T) {
	isolateEnv(t)
	srv := platformtest.NewServer(t)
	srv.FailTables["documents"] = http.StatusForbidden

	code, _, stderr := execute(t, serverArgs(srv, "query", "documents", "--email", "david@companyb.com")...)
	assert.Equal(t, ExitService, code)
	assert.Contains(t, stderr, "permission denied for table documents")
	assert.Equal(t, 1, srv.SignOuts("david@companyb.com"))
}

func TestDoctor(t *testing.T) {
	isolateEnv(t)
	srv := platformtest.NewServer(t)

	code, stdout, stderr := execute(t, serverArgs(srv, "doctor")...)
	require.Equal(t, ExitSuccess, code, stderr)
	assert.Contains(t, stdout, "✓ Configuration")
	assert.Contains(t, stdout, "✓ Auth API: GoTrue v2.170.0")
	assert.Contains(t, stdout, "✓ Data API: "+srv.URL+"/rest/v1/ reachable with the anon key")
	assert.Contains(t, stdout, "✓ All checks passed")
}

func TestDoctor_BadAnonKey(t *testing.T) {
	isolateEnv(t)
	srv := platformtest.NewServer(t)

	code, stdout, _ := execute(t, "--url", srv.URL, "--anon-key", "wrong", "--json", "doctor")
	assert.NotEqual(t, ExitSuccess, code)

	var res struct {
		Checks    []DiagnosticCheck `json:"checks"`
		AllPassed bool              `json:"all_passed"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &res))
	assert.False(t, res.AllPassed)
	require.Len(t, res.Checks, 3)
	assert.True(t, res.Checks[0].Passed)
	assert.False(t, res.Checks[2].Passed)
}

func TestAuditSummary_RequiresDriver(t *testing.T) {
	isolateEnv(t)

	code, _, stderr := execute(t, "audit", "summary")
	assert.Equal(t, ExitValidation, code)
	assert.Contains(t, stderr, "audit.driver")
}

func TestVersion(t *testing.T) {
	isolateEnv(t)
	srv := platformtest.NewServer(t)

	code, stdout, stderr := execute(t, serverArgs(srv, "version")...)
	require.Equal(t, ExitSuccess, code, stderr)
	assert.Contains(t, stdout, "Version:    "+Version)
	assert.Contains(t, stdout, "Version: v2.170.0")

	code, stdout, _ = execute(t, "--yaml", "version")
	require.Equal(t, ExitSuccess, code)
	var info map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(stdout), &info))
	assert.Equal(t, Version, info["version"])
	assert.Equal(t, "not configured", info["server"].(map[string]any)["status"])
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, ExitCode(nil))
	assert.Equal(t, ExitValidation, ExitCode(errors.NewInvalidConfig("x", "y")))
	assert.Equal(t, ExitAuth, ExitCode(errors.NewAuthFailed("a@b.c", 400, "bad")))
	assert.Equal(t, ExitService, ExitCode(errors.NewServiceUnavailable("http://x", "down")))
	assert.Equal(t, ExitIsolation, ExitCode(errors.NewIsolationViolated([]string{"1"})))
	assert.Equal(t, ExitInternal, ExitCode(assert.AnError))
}

func TestOpenAudit_DatabaseFailureWarns(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	cfg := config.DefaultConfig()
	cfg.Audit.Driver = "sqlite"
	cfg.Audit.DSN = filepath.Join(t.TempDir(), "missing", "audit.db")

	c := New()
	c.cfg = cfg
	c.logger = zap.New(core)

	audit, closeAudit := c.openAudit(context.Background())
	defer closeAudit()

	assert.IsType(t, &observability.NoopLogger{}, audit)
	entries := logs.FilterMessage("audit database sink disabled").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "sqlite", entries[0].ContextMap()["driver"])
	assert.Contains(t, entries[0].ContextMap(), "error")
}

func TestOpenAudit_DatabaseSink(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Audit.Driver = "sqlite"
	cfg.Audit.DSN = filepath.Join(t.TempDir(), "audit.db")

	c := New()
	c.cfg = cfg

	audit, closeAudit := c.openAudit(context.Background())
	defer closeAudit()

	sinks, ok := audit.(observability.Tee)
	require.True(t, ok)
	require.Len(t, sinks, 1)
	assert.IsType(t, &observability.PersistentLogger{}, sinks[0])
}
