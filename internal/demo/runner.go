// Package demo runs the row-level security demonstration: each configured user
// signs in, reads the documents and document sections tables with their own
// access token, and signs out. The transcript shows which rows the service let
// each user see.
//
// Users are processed strictly one after another. A failure only ever ends the
// current step or the current user's turn; the run always moves on.
package demo

import (
	"context"
	"io"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/canonica-labs/rlsdemo/internal/auth"
	"github.com/canonica-labs/rlsdemo/internal/config"
	"github.com/canonica-labs/rlsdemo/internal/errors"
	"github.com/canonica-labs/rlsdemo/internal/observability"
	"github.com/canonica-labs/rlsdemo/internal/platform"
	"github.com/canonica-labs/rlsdemo/pkg/models"
)

const tracerName = "github.com/canonica-labs/rlsdemo/internal/demo"

// Authenticator signs users in and out.
type Authenticator interface {
	SignInWithPassword(ctx context.Context, email, password string) (*auth.Session, error)
	SignOut(ctx context.Context, session *auth.Session) error
}

// Querier reads whole tables under a scope.
type Querier interface {
	Select(ctx context.Context, scope platform.Scope, table string) ([]platform.Row, error)
}

// Options configures a Runner.
type Options struct {
	Auth Authenticator
	Data Querier

	// Out receives the transcript. Nil discards it.
	Out io.Writer

	// Audit receives one entry per step. Nil disables auditing.
	Audit observability.AuditLogger

	Logger *zap.Logger

	// Tables names the two tables to read. Empty fields use the defaults.
	Tables config.TablesConfig

	// Isolation runs CheckIsolation after the loop and prints its verdict.
	Isolation bool

	// RunID overrides the generated run id.
	RunID string

	// Now overrides the clock.
	Now func() time.Time
}

// Runner executes the demo.
type Runner struct {
	auth      Authenticator
	data      Querier
	out       printer
	audit     observability.AuditLogger
	logger    *zap.Logger
	tables    config.TablesConfig
	isolation bool
	runID     string
	now       func() time.Time
	tracer    trace.Tracer
}

// NewRunner creates a runner.
func NewRunner(opts Options) *Runner {
	out := opts.Out
	if out == nil {
		out = io.Discard
	}
	audit := opts.Audit
	if audit == nil {
		audit = observability.NewNoopLogger()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tables := opts.Tables
	if tables.Documents == "" {
		tables.Documents = config.DefaultConfig().Tables.Documents
	}
	if tables.Sections == "" {
		tables.Sections = config.DefaultConfig().Tables.Sections
	}
	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Runner{
		auth:      opts.Auth,
		data:      opts.Data,
		out:       printer{w: out},
		audit:     audit,
		logger:    logger.With(zap.String("run_id", runID)),
		tables:    tables,
		isolation: opts.Isolation,
		runID:     runID,
		now:       now,
		tracer:    otel.Tracer(tracerName),
	}
}

// RunID returns the id stamped on the report and every audit entry.
func (r *Runner) RunID() string {
	return r.runID
}

// Run gives every credential one turn, in order, and returns what happened.
// It stops early only when ctx is cancelled between turns.
func (r *Runner) Run(ctx context.Context, creds []models.Credential) *Report {
	report := &Report{
		RunID:     r.runID,
		StartedAt: r.now(),
		Users:     make([]UserResult, 0, len(creds)),
	}

	for _, cred := range creds {
		if ctx.Err() != nil {
			r.logger.Warn("run interrupted", zap.Error(ctx.Err()))
			report.Interrupted = true
			break
		}
		report.Users = append(report.Users, r.turn(ctx, cred))
	}

	if r.isolation {
		report.Isolation = CheckIsolation(report)
		r.out.isolation(report.Isolation)
	}
	report.FinishedAt = r.now()
	return report
}

// turn runs one user through sign-in, both selects and sign-out.
func (r *Runner) turn(ctx context.Context, cred models.Credential) UserResult {
	group := cred.Group
	if group == "" {
		group = config.GroupOf(cred.Email)
	}
	res := UserResult{Email: cred.Email, Group: group}

	ctx, span := r.tracer.Start(ctx, "demo.user", trace.WithAttributes(
		attribute.String("demo.run_id", r.runID),
		attribute.String("demo.user", cred.Email),
		attribute.String("demo.group", group),
	))
	defer span.End()

	r.out.loggingIn(cred.Email)

	session, err := r.signIn(ctx, cred, group)
	if err != nil {
		res.ErrorKind = errors.KindOf(err)
		res.Error = errors.Brief(err)
		if res.ErrorKind == errors.KindNoSession {
			r.out.noSession(cred.Email)
		} else {
			r.out.authFailed(cred.Email, res.Error)
		}
		span.SetStatus(codes.Error, res.ErrorKind)
		return res
	}

	res.Authenticated = true
	res.UserID = session.UserID
	span.SetAttributes(attribute.String("demo.user_id", session.UserID))
	r.out.authenticated(session.UserID)

	// The scope is built from this turn's session and dies with it.
	scope := platform.BindSession(session)

	r.out.attemptingDocuments(cred.Email)
	res.Documents = queryTable(ctx, r, scope, cred, group, r.tables.Documents, platform.DecodeDocuments,
		func(d models.Document) string { return d.CompanyID })
	if res.Documents.Succeeded() {
		r.out.documents(cred.Email, res.Documents.Rows)
	} else {
		r.out.documentsFailed(cred.Email, res.Documents.Error)
	}

	r.out.attemptingSections(cred.Email)
	res.Sections = queryTable(ctx, r, scope, cred, group, r.tables.Sections, platform.DecodeSections, nil)
	if res.Sections.Succeeded() {
		r.out.sections(cred.Email, res.Sections.Rows)
	} else {
		r.out.sectionsFailed(cred.Email, res.Sections.Error)
	}

	if err := r.signOut(ctx, session, cred.Email, group); err != nil {
		res.SignOutError = errors.Brief(err)
		r.out.signOutFailed(cred.Email, res.SignOutError)
	} else {
		res.SignedOut = true
		r.out.signedOut(cred.Email)
	}
	return res
}

// signIn authenticates cred and checks that a usable session came back.
func (r *Runner) signIn(ctx context.Context, cred models.Credential, group string) (*auth.Session, error) {
	ctx, span := r.tracer.Start(ctx, "demo.sign_in")
	defer span.End()
	start := time.Now()

	session, err := r.auth.SignInWithPassword(ctx, cred.Email, cred.Password)
	if err == nil && (session == nil || session.Valid() != nil) {
		err = errors.NewNoSession(cred.Email)
	}

	entry := r.entry(observability.OpSignIn, cred.Email, group)
	if err != nil {
		entry.Outcome = outcomeOf(err)
		entry.Error = errors.Brief(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, entry.Error)
		r.logger.Debug("sign-in failed",
			zap.String("email", cred.Email),
			zap.String("kind", errors.KindOf(err)),
			zap.Error(err))
		r.record(ctx, entry, start)
		return nil, err
	}

	entry.UserID = session.UserID
	r.record(ctx, entry, start)
	r.logger.Debug("signed in",
		zap.String("email", cred.Email),
		zap.String("user_id", session.UserID),
		zap.String("token", session.Redacted()))
	return session, nil
}

// queryTable selects every row of table under scope and decodes it. companyOf,
// when set, extracts the company id recorded in the audit entry.
func queryTable[T any](
	ctx context.Context,
	r *Runner,
	scope platform.Scope,
	cred models.Credential,
	group, table string,
	decode func([]platform.Row) ([]T, error),
	companyOf func(T) string,
) QueryOutcome[T] {
	ctx, span := r.tracer.Start(ctx, "demo.select", trace.WithAttributes(
		attribute.String("db.sql.table", table),
	))
	defer span.End()
	start := time.Now()

	out := QueryOutcome[T]{Attempted: true}
	entry := r.entry(observability.OpSelect, cred.Email, group)
	entry.UserID = scope.UserID()
	entry.Table = table

	rows, err := r.data.Select(ctx, scope, table)
	var decoded []T
	if err == nil {
		decoded, err = decode(rows)
		if err != nil {
			err = errors.NewQueryFailed(table, 0, err.Error(), err)
		}
	}
	if err != nil {
		out.ErrorKind = errors.KindOf(err)
		out.Error = errors.Brief(err)
		entry.Outcome = observability.OutcomeError
		entry.Error = out.Error
		span.RecordError(err)
		span.SetStatus(codes.Error, out.Error)
		r.logger.Debug("select failed",
			zap.String("email", cred.Email),
			zap.String("table", table),
			zap.Error(err))
		r.record(ctx, entry, start)
		return out
	}

	out.Rows = decoded
	entry.RowCount = len(decoded)
	if companyOf != nil {
		entry.CompanyIDs = distinct(decoded, companyOf)
	}
	span.SetAttributes(attribute.Int("demo.row_count", len(decoded)))
	r.record(ctx, entry, start)
	return out
}

// signOut ends session. It runs even when ctx has been cancelled so the
// session is not left open on the service.
func (r *Runner) signOut(ctx context.Context, session *auth.Session, email, group string) error {
	ctx, span := r.tracer.Start(context.WithoutCancel(ctx), "demo.sign_out")
	defer span.End()
	start := time.Now()

	entry := r.entry(observability.OpSignOut, email, group)
	entry.UserID = session.UserID

	err := r.auth.SignOut(ctx, session)
	if err != nil {
		entry.Outcome = observability.OutcomeError
		entry.Error = errors.Brief(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, entry.Error)
		r.logger.Warn("sign-out failed", zap.String("email", email), zap.Error(err))
	}
	r.record(ctx, entry, start)
	return err
}

func (r *Runner) entry(op, email, group string) observability.VisibilityEntry {
	return observability.VisibilityEntry{
		RunID:     r.runID,
		EntryID:   uuid.NewString(),
		Operation: op,
		User:      email,
		Group:     group,
		Outcome:   observability.OutcomeSuccess,
	}
}

// record stamps the step duration and writes entry to the audit sink. Audit
// failures never affect the run.
func (r *Runner) record(ctx context.Context, entry observability.VisibilityEntry, start time.Time) {
	entry.Duration = time.Since(start)
	if err := r.audit.Record(context.WithoutCancel(ctx), entry); err != nil {
		r.logger.Warn("audit record failed",
			zap.String("operation", entry.Operation),
			zap.String("email", entry.User),
			zap.Error(err))
	}
}

func outcomeOf(err error) string {
	if errors.KindOf(err) == errors.KindNoSession {
		return observability.OutcomeNoSession
	}
	return observability.OutcomeError
}

func distinct[T any](items []T, key func(T) string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, it := range items {
		k := key(it)
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
