// Package webhook is the single entry point for analysis. External
// requests and scheduler ticks flow through the same handler, so tier
// selection, repository observation, and cadence adjustment happen in
// exactly one place.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/reviewd/internal/analyzer"
	"github.com/haasonsaas/reviewd/internal/cache"
	"github.com/haasonsaas/reviewd/internal/executor"
	"github.com/haasonsaas/reviewd/internal/language"
	"github.com/haasonsaas/reviewd/internal/observability"
	"github.com/haasonsaas/reviewd/internal/schedule"
	"github.com/haasonsaas/reviewd/internal/storage"
	"github.com/haasonsaas/reviewd/internal/tools"
	"github.com/haasonsaas/reviewd/pkg/models"
)

// maxBodyBytes caps inbound payload size.
const maxBodyBytes = 16 << 20

// signatureHeader carries the hex HMAC-SHA256 of the request body.
const signatureHeader = "X-Reviewd-Signature"

// deliveryHeader carries the sender's delivery id; redeliveries reuse it.
const deliveryHeader = "X-Reviewd-Delivery"

// errNeverFires rejects ticks against on-demand schedules.
var errNeverFires = errors.New("on-demand schedule never fires")

// Tiers is the analysis surface the handler dispatches to.
type Tiers interface {
	Quick(ctx context.Context, ac *models.AnalysisContext, progress executor.ProgressFunc) (*analyzer.Report, error)
	Comprehensive(ctx context.Context, ac *models.AnalysisContext, progress executor.ProgressFunc) (*analyzer.Report, error)
	Targeted(ctx context.Context, ac *models.AnalysisContext, perspectives []models.AgentRole, progress executor.ProgressFunc) (*analyzer.Report, error)
}

// Envelope is the inbound request shape: an event name plus its payload.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Response is the outbound shape for every event.
type Response struct {
	RequestID string           `json:"request_id"`
	Event     string           `json:"event"`
	Report    *analyzer.Report `json:"report,omitempty"`
	Duplicate bool             `json:"duplicate,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// Handler serves inbound analysis triggers.
type Handler struct {
	tiers      Tiers
	repos      storage.RepositoryStore
	schedules  schedule.Store
	scheduler  *schedule.Scheduler
	tracer     *observability.Tracer
	logger     *observability.Logger
	metrics    *observability.Metrics
	deliveries *cache.Dedupe
	secret     string
}

// NewHandler creates the webhook handler. The scheduler is attached
// separately because it fires back through this handler.
func NewHandler(tiers Tiers, repos storage.RepositoryStore, schedules schedule.Store, logger *observability.Logger, metrics *observability.Metrics, secret string) *Handler {
	return &Handler{
		tiers:      tiers,
		repos:      repos,
		schedules:  schedules,
		logger:     logger,
		metrics:    metrics,
		deliveries: cache.NewDedupe(0, 0),
		secret:     secret,
	}
}

// AttachScheduler wires the scheduler for cadence bookkeeping after
// analyses complete.
func (h *Handler) AttachScheduler(s *schedule.Scheduler) {
	h.scheduler = s
}

// AttachTracer enables per-event spans.
func (h *Handler) AttachTracer(t *observability.Tracer) {
	h.tracer = t
}

// ServeHTTP handles POST /webhook.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.respondError(w, r.Context(), "", "", http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.respondError(w, r.Context(), "", "", http.StatusBadRequest, fmt.Errorf("read body: %w", err))
		return
	}
	if h.secret != "" && !h.verifySignature(body, r.Header.Get(signatureHeader)) {
		h.respondError(w, r.Context(), "", "", http.StatusUnauthorized, errors.New("invalid webhook signature"))
		return
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		h.respondError(w, r.Context(), "", "", http.StatusBadRequest, fmt.Errorf("decode envelope: %w", err))
		return
	}
	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	ctx := observability.AddRequestID(r.Context(), requestID)

	if err := validatePayload(env.Event, env.Payload); err != nil {
		h.respondError(w, ctx, requestID, env.Event, http.StatusBadRequest, err)
		return
	}

	if delivery := r.Header.Get(deliveryHeader); h.deliveries.Seen(cache.DeliveryKey(env.Event, delivery)) {
		h.logger.Info(ctx, "duplicate delivery ignored", "event", env.Event, "delivery_id", delivery)
		h.respond(w, ctx, env.Event, http.StatusOK, &Response{RequestID: requestID, Event: env.Event, Duplicate: true})
		return
	}

	if h.tracer != nil {
		var span trace.Span
		ctx, span = h.tracer.Start(ctx, "webhook."+env.Event)
		defer span.End()
	}

	var report *analyzer.Report
	var runErr error
	switch env.Event {
	case EventPROpened, EventPRUpdated:
		report, runErr = h.handlePRReview(ctx, env.Payload)
	case EventRepoScan:
		report, runErr = h.handleRepoScan(ctx, env.Payload)
	case EventScheduleTick:
		report, runErr = h.handleScheduleTick(ctx, env.Payload)
	}

	if report == nil && runErr != nil {
		h.respondError(w, ctx, requestID, env.Event, statusFor(runErr), runErr)
		return
	}

	resp := &Response{RequestID: requestID, Event: env.Event, Report: report}
	if runErr != nil {
		// Partial completion: the report carries every attempt that ran.
		resp.Error = runErr.Error()
	}
	h.respond(w, ctx, env.Event, http.StatusOK, resp)
}

// handlePRReview runs the quick tier over the PR diff.
func (h *Handler) handlePRReview(ctx context.Context, payload json.RawMessage) (*analyzer.Report, error) {
	var req struct {
		Repository *models.Repository  `json:"repository"`
		PR         *models.PullRequest `json:"pr"`
		User       models.UserContext  `json:"user"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("decode pr review: %w", err)
	}

	language.AnnotateFiles(req.PR.Files)
	repo, err := h.observe(ctx, req.Repository, req.PR.Files)
	if err != nil {
		return nil, err
	}
	ctx = observability.AddRepository(ctx, repo.FullName())

	ac := &models.AnalysisContext{
		Role:       models.RoleCodeQuality,
		PR:         req.PR,
		Repository: repo,
		User:       req.User,
	}
	report, runErr := h.tiers.Quick(ctx, ac, nil)
	if report != nil && runErr == nil {
		h.afterAnalysis(ctx, repo, report.Result, false)
	}
	return report, runErr
}

// handleRepoScan runs the comprehensive tier, or targeted when the
// request names perspectives.
func (h *Handler) handleRepoScan(ctx context.Context, payload json.RawMessage) (*analyzer.Report, error) {
	var req struct {
		Repository   *models.Repository `json:"repository"`
		Branch       string             `json:"branch"`
		Perspectives []models.AgentRole `json:"perspectives"`
		User         models.UserContext `json:"user"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("decode repo scan: %w", err)
	}

	tier := analyzer.TierComprehensive
	if len(req.Perspectives) > 0 {
		tier = analyzer.TierTargeted
	}
	return h.Scan(ctx, req.Repository, tier, req.Perspectives, req.User)
}

// Scan observes a repository and runs one tier against it. The CLI calls
// it directly; repo.scan requests route through it.
func (h *Handler) Scan(ctx context.Context, repoIn *models.Repository, tier analyzer.Tier, perspectives []models.AgentRole, user models.UserContext) (*analyzer.Report, error) {
	repo, err := h.observe(ctx, repoIn, nil)
	if err != nil {
		return nil, err
	}
	ctx = observability.AddRepository(ctx, repo.FullName())

	ac := &models.AnalysisContext{
		Role:       models.RoleCodeQuality,
		Repository: repo,
		User:       user,
	}
	var report *analyzer.Report
	var runErr error
	switch tier {
	case analyzer.TierQuick:
		report, runErr = h.tiers.Quick(ctx, ac, nil)
	case analyzer.TierTargeted:
		report, runErr = h.tiers.Targeted(ctx, ac, perspectives, nil)
	case analyzer.TierComprehensive:
		report, runErr = h.tiers.Comprehensive(ctx, ac, nil)
	default:
		return nil, fmt.Errorf("unknown tier %q", tier)
	}
	if report != nil && runErr == nil {
		h.afterAnalysis(ctx, repo, report.Result, tier != analyzer.TierQuick)
	}
	return report, runErr
}

// handleScheduleTick runs the tier a schedule's cadence maps to. The
// scheduler's own firings arrive here too, via Trigger.
func (h *Handler) handleScheduleTick(ctx context.Context, payload json.RawMessage) (*analyzer.Report, error) {
	var req struct {
		ScheduleID string `json:"schedule_id"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("decode schedule tick: %w", err)
	}

	sched, err := h.schedules.Get(ctx, req.ScheduleID)
	if err != nil {
		return nil, fmt.Errorf("schedule %s: %w", req.ScheduleID, err)
	}
	tier := schedule.TierFor(sched.Cadence)
	if tier == "" {
		return nil, fmt.Errorf("schedule %s: %w", req.ScheduleID, errNeverFires)
	}
	return h.runTier(ctx, sched, tier)
}

// Trigger adapts the handler to the scheduler's firing interface, so
// scheduled runs use the same path as external requests.
func (h *Handler) Trigger(ctx context.Context, sched *models.Schedule, tier string) (*models.ConsolidatedResult, error) {
	report, err := h.runTier(ctx, sched, tier)
	if report == nil {
		return nil, err
	}
	return report.Result, err
}

// runTier resolves the schedule's repository and dispatches one tier.
func (h *Handler) runTier(ctx context.Context, sched *models.Schedule, tier string) (*analyzer.Report, error) {
	repo, err := h.repos.GetByURL(ctx, sched.RepositoryURL)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		// Schedule predates the repository row; reconstruct identity.
		repo = &models.Repository{URL: sched.RepositoryURL}
	}
	return h.Scan(ctx, repo, analyzer.Tier(tier), nil, models.UserContext{})
}

// observe fills in repository identity from its URL, refreshes language
// metadata from the file set, and upserts the repository row.
func (h *Handler) observe(ctx context.Context, repo *models.Repository, files []models.File) (*models.Repository, error) {
	if repo == nil {
		return nil, errors.New("request missing repository")
	}
	if err := inferIdentity(repo); err != nil {
		return nil, err
	}
	if len(files) > 0 {
		language.RefreshRepository(repo, files)
	}
	// A bare resolve carries no metadata; it must not clobber stored
	// flags like is_production.
	if identityOnly(repo) {
		existing, err := h.repos.GetByURL(ctx, repo.URL)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
	}
	observed, err := storage.Observe(ctx, h.repos, repo)
	if err != nil {
		return nil, fmt.Errorf("observe repository: %w", err)
	}
	return observed, nil
}

// identityOnly reports whether a request repository carries identity
// fields but nothing worth refreshing.
func identityOnly(r *models.Repository) bool {
	return !r.Private && !r.IsProduction && r.PrimaryLanguage == "" &&
		r.Languages == nil && r.SizeBytes == 0
}

// afterAnalysis keeps the schedule in step with analysis outcomes. The
// first full analysis establishes the schedule; later full-repository
// runs re-evaluate cadence. Failures here never fail the request.
func (h *Handler) afterAnalysis(ctx context.Context, repo *models.Repository, result *models.ConsolidatedResult, recadence bool) {
	if h.scheduler == nil || result == nil {
		return
	}
	activity := h.scheduler.Activity(ctx, &models.Schedule{RepositoryURL: repo.URL})

	if _, err := h.schedules.GetByRepositoryURL(ctx, repo.URL); errors.Is(err, schedule.ErrNotFound) {
		if _, err := h.scheduler.InitializeAutomaticSchedule(ctx, repo, result, activity); err != nil {
			h.logger.Warn(ctx, "schedule initialization failed", "repository", repo.URL, "error", err)
		}
		return
	} else if err != nil {
		h.logger.Warn(ctx, "schedule lookup failed", "repository", repo.URL, "error", err)
		return
	}

	if !recadence {
		return
	}
	if _, err := h.scheduler.UpdateAfterAnalysis(ctx, repo, result, activity); err != nil {
		h.logger.Warn(ctx, "cadence update failed", "repository", repo.URL, "error", err)
	}
}

func (h *Handler) verifySignature(body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(h.secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.TrimPrefix(signature, "sha256=")))
}

func (h *Handler) respond(w http.ResponseWriter, ctx context.Context, event string, status int, resp *Response) {
	if h.metrics != nil {
		h.metrics.HTTPRequests.WithLabelValues(eventLabel(event), strconv.Itoa(status)).Inc()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error(ctx, "encode response", "error", err)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, ctx context.Context, requestID, event string, status int, err error) {
	if status >= 500 {
		h.logger.Error(ctx, "webhook request failed", "event", event, "status", status, "error", err)
	} else {
		h.logger.Warn(ctx, "webhook request rejected", "event", event, "status", status, "error", err)
	}
	h.respond(w, ctx, event, status, &Response{RequestID: requestID, Event: event, Error: err.Error()})
}

// statusFor maps run errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, executor.ErrNoTools), errors.Is(err, tools.ErrNoConfiguration):
		return http.StatusUnprocessableEntity
	case errors.Is(err, schedule.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errNeverFires):
		return http.StatusConflict
	case errors.Is(err, executor.ErrRunCancelled):
		return http.StatusGatewayTimeout
	case errors.Is(err, schedule.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func eventLabel(event string) string {
	if event == "" {
		return "unknown"
	}
	return event
}

// inferIdentity derives provider, owner, and name from the repository
// URL when the request omits them.
func inferIdentity(repo *models.Repository) error {
	if repo.URL == "" {
		return errors.New("repository url is required")
	}
	if repo.Provider != "" && repo.Owner != "" && repo.Name != "" {
		return nil
	}
	u, err := url.Parse(repo.URL)
	if err != nil {
		return fmt.Errorf("parse repository url: %w", err)
	}
	if repo.Provider == "" {
		switch {
		case strings.Contains(u.Host, "gitlab"):
			repo.Provider = models.ProviderGitLab
		case strings.Contains(u.Host, "bitbucket"):
			repo.Provider = models.ProviderBitbucket
		default:
			repo.Provider = models.ProviderGitHub
		}
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return fmt.Errorf("repository url %q has no owner/name path", repo.URL)
	}
	if repo.Owner == "" {
		repo.Owner = parts[0]
	}
	if repo.Name == "" {
		repo.Name = strings.TrimSuffix(parts[1], ".git")
	}
	return nil
}
