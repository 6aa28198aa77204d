package trial

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/restoreassist/trial-engine/internal/devices"
	"github.com/restoreassist/trial-engine/internal/fraud"
	"github.com/restoreassist/trial-engine/pkg/common"
	"github.com/restoreassist/trial-engine/pkg/eventbus"
	"github.com/restoreassist/trial-engine/pkg/logger"
	"github.com/restoreassist/trial-engine/pkg/security"
)

var tracer = otel.Tracer("github.com/restoreassist/trial-engine/internal/trial")

// Service is the trial activation orchestrator. One call sequences the
// gating lookups, the signal evaluators, the scorer, and the grant, and
// returns a single decision object. It also fronts the token lifecycle
// operations for the HTTP layer.
type Service struct {
	mode      StoreMode
	policy    fraud.Policy
	store     TokenStore
	tokens    *TokenManager
	registry  DeviceRegistry
	users     UserDirectory
	evaluator FlagEvaluator
	scorer    DecisionScorer
	bus       eventbus.Publisher
}

// NewService creates the orchestrator.
func NewService(
	mode StoreMode,
	policy fraud.Policy,
	store TokenStore,
	tokens *TokenManager,
	registry DeviceRegistry,
	users UserDirectory,
	evaluator FlagEvaluator,
	scorer DecisionScorer,
	bus eventbus.Publisher,
) *Service {
	return &Service{
		mode:      mode,
		policy:    policy,
		store:     store,
		tokens:    tokens,
		registry:  registry,
		users:     users,
		evaluator: evaluator,
		scorer:    scorer,
		bus:       bus,
	}
}

// ========================================
// ACTIVATION PIPELINE
// ========================================

// ActivateTrial runs the full activation pipeline. Policy denials come
// back as a successful result with Success=false; only input errors and
// gating-collaborator failures surface as errors.
func (s *Service) ActivateTrial(ctx context.Context, req *ActivateTrialRequest) (*ActivationResult, error) {
	if s.mode == StoreModeMemory {
		return s.activateUnchecked(ctx, req)
	}

	ctx, span := tracer.Start(ctx, "activation.pipeline")
	defer span.End()
	span.SetAttributes(
		attribute.String("user_id", req.UserID.String()),
		attribute.String("store_mode", string(s.mode)),
	)

	now := time.Now().UTC()
	log := logger.WithContext(ctx)

	// A grant is only meaningful for a real account; this lookup gates
	// everything and fails closed.
	user, err := s.users.FindByID(ctx, req.UserID)
	if err != nil {
		span.RecordError(err)
		log.Error("user lookup failed during activation",
			zap.String("user_id", req.UserID.String()),
			zap.Error(err))
		return nil, common.NewServiceUnavailableError("unable to verify user")
	}
	if user == nil {
		return nil, common.NewNotFoundError("User not found", nil)
	}

	// Evidence is the registry state before this attempt; the sighting is
	// recorded afterwards so an attempt does not trip its own
	// re-registration signal.
	device, err := s.registry.Lookup(ctx, req.FingerprintHash)
	if err != nil {
		span.RecordError(err)
		log.Error("device lookup failed during activation",
			zap.String("fingerprint_hash", req.FingerprintHash),
			zap.Error(err))
		return nil, common.NewServiceUnavailableError("unable to verify device")
	}
	if err := s.registry.RecordSighting(ctx, req.FingerprintHash, req.DeviceData, now); err != nil {
		span.RecordError(err)
		log.Error("failed to record device sighting",
			zap.String("fingerprint_hash", req.FingerprintHash),
			zap.Error(err))
		return nil, common.NewServiceUnavailableError("unable to record device sighting")
	}

	evidence := &fraud.Evidence{
		UserID:    req.UserID,
		Email:     user.Email,
		IPAddress: req.IPAddress,
		Device:    deviceEvidence(device),
		Now:       now,
	}

	evalCtx, evalSpan := tracer.Start(ctx, "activation.evaluate")
	flags := s.evaluator.Evaluate(evalCtx, evidence)
	outcome := s.scorer.Score(flags)
	evalSpan.SetAttributes(
		attribute.Int("fraud_score", outcome.TotalScore),
		attribute.Int("flag_count", len(flags)),
	)
	evalSpan.End()

	if outcome.Denied() {
		span.SetAttributes(attribute.String("decision", "deny"))
		return s.deny(ctx, req, flags, outcome, now), nil
	}

	grantCtx, grantSpan := tracer.Start(ctx, "activation.grant")
	token, err := s.tokens.Create(grantCtx, req.UserID, req.FingerprintHash)
	grantSpan.End()
	if errors.Is(err, errDeviceLimitReached) {
		// A concurrent activation for this fingerprint won the grant race
		// between evaluation and increment. Deny exactly as if the limit
		// had been visible at evaluation time.
		flags = append(flags, fraud.FraudFlag{
			FlagType: fraud.FlagDeviceTrialLimit,
			Severity: fraud.SeverityCritical,
			Weight:   s.policy.WeightFor(fraud.SeverityCritical),
			Detail:   "device reached its trial limit during activation",
		})
		span.SetAttributes(attribute.String("decision", "deny"))
		return s.deny(ctx, req, flags, s.scorer.Score(flags), now), nil
	}
	if err != nil {
		span.RecordError(err)
		log.Error("failed to issue trial token",
			zap.String("user_id", req.UserID.String()),
			zap.Error(err))
		return nil, common.NewInternalError("failed to issue trial token", err)
	}

	span.SetAttributes(attribute.String("decision", "allow"))
	return s.grant(ctx, req, token, flags, outcome, now), nil
}

// activateUnchecked is the reduced pipeline for deployments without a
// persistent store: no fraud data exists, so every request is granted.
// The mode is stamped on every log line, metric and audit record so this
// can never masquerade as a scored decision.
func (s *Service) activateUnchecked(ctx context.Context, req *ActivateTrialRequest) (*ActivationResult, error) {
	logger.WithContext(ctx).Warn("activation running without a persistent store, granting unconditionally",
		zap.String("store_mode", string(s.mode)),
		zap.String("user_id", req.UserID.String()),
		zap.String("fingerprint_hash", req.FingerprintHash))

	token, err := s.tokens.CreateUnchecked(ctx, req.UserID)
	if err != nil {
		return nil, common.NewInternalError("failed to issue trial token", err)
	}

	return s.grant(ctx, req, token, nil, fraud.Outcome{Decision: fraud.DecisionAllow}, time.Now().UTC()), nil
}

func (s *Service) grant(ctx context.Context, req *ActivateTrialRequest, token *FreeTrialToken, flags []fraud.FraudFlag, outcome fraud.Outcome, now time.Time) *ActivationResult {
	s.audit(ctx, req, true, "", outcome.TotalScore, flags, now)

	activationDecisions.WithLabelValues("allow", string(s.mode)).Inc()
	s.countFlags(flags)

	logger.WithContext(ctx).Info("trial activated",
		zap.String("user_id", req.UserID.String()),
		zap.String("token_id", token.ID.String()),
		zap.String("fingerprint_hash", req.FingerprintHash),
		zap.Int("fraud_score", outcome.TotalScore),
		zap.Int("flags", len(flags)),
		zap.String("store_mode", string(s.mode)))

	if err := s.bus.Publish(ctx, eventbus.SubjectTrialActivated, eventbus.TrialActivatedData{
		UserID:           req.UserID,
		TokenID:          token.ID,
		FingerprintHash:  req.FingerprintHash,
		ReportsRemaining: token.ReportsRemaining,
		ExpiresAt:        token.ExpiresAt,
		FraudScore:       outcome.TotalScore,
		FlagTypes:        flagTypes(flags),
		StoreMode:        string(s.mode),
	}); err != nil {
		logger.WithContext(ctx).Warn("failed to publish trial activated event", zap.Error(err))
	}

	return &ActivationResult{
		Success:          true,
		TokenID:          &token.ID,
		ReportsRemaining: token.ReportsRemaining,
		ExpiresAt:        &token.ExpiresAt,
		FraudFlags:       flags,
		FraudScore:       outcome.TotalScore,
	}
}

func (s *Service) deny(ctx context.Context, req *ActivateTrialRequest, flags []fraud.FraudFlag, outcome fraud.Outcome, now time.Time) *ActivationResult {
	s.audit(ctx, req, false, outcome.Reason, outcome.TotalScore, flags, now)

	activationDecisions.WithLabelValues("deny", string(s.mode)).Inc()
	s.countFlags(flags)

	logger.WithContext(ctx).Info("trial activation denied",
		zap.String("user_id", req.UserID.String()),
		zap.String("fingerprint_hash", req.FingerprintHash),
		zap.Int("fraud_score", outcome.TotalScore),
		zap.String("reason", outcome.Reason),
		zap.Int("flags", len(flags)),
		zap.String("store_mode", string(s.mode)))

	if err := s.bus.Publish(ctx, eventbus.SubjectTrialDenied, eventbus.TrialDeniedData{
		UserID:          req.UserID,
		FingerprintHash: req.FingerprintHash,
		DenialReason:    outcome.Reason,
		FraudScore:      outcome.TotalScore,
		FlagTypes:       flagTypes(flags),
		StoreMode:       string(s.mode),
	}); err != nil {
		logger.WithContext(ctx).Warn("failed to publish trial denied event", zap.Error(err))
	}

	return &ActivationResult{
		Success:      false,
		DenialReason: outcome.Reason,
		FraudFlags:   flags,
		FraudScore:   outcome.TotalScore,
	}
}

// audit appends the decision to the activation log. The log is an audit
// trail and a side-signal source, not a gate: a write failure is logged
// and the decision stands.
func (s *Service) audit(ctx context.Context, req *ActivateTrialRequest, granted bool, denialReason string, score int, flags []fraud.FraudFlag, now time.Time) {
	activation := &TrialActivation{
		ID:              uuid.New(),
		UserID:          req.UserID,
		FingerprintHash: req.FingerprintHash,
		IPAddress:       req.IPAddress,
		UserAgent:       req.UserAgent,
		Granted:         granted,
		DenialReason:    denialReason,
		FraudScore:      score,
		FraudFlags:      flags,
		StoreMode:       s.mode,
		CreatedAt:       now,
	}
	if err := s.store.InsertActivation(ctx, activation); err != nil {
		logger.WithContext(ctx).Warn("failed to record activation audit entry",
			zap.String("user_id", req.UserID.String()),
			zap.Bool("granted", granted),
			zap.Error(err))
	}
}

func (s *Service) countFlags(flags []fraud.FraudFlag) {
	for _, flag := range flags {
		fraudFlagsRaised.WithLabelValues(string(flag.FlagType)).Inc()
	}
}

// ========================================
// TOKEN OPERATIONS
// ========================================

// TrialStatus returns the user's active token view.
func (s *Service) TrialStatus(ctx context.Context, userID uuid.UUID) (*TrialStatusResponse, error) {
	token, err := s.tokens.ActiveForUser(ctx, userID)
	if err != nil {
		logger.WithContext(ctx).Error("failed to load trial status",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return nil, common.NewInternalError("failed to load trial status", err)
	}
	if token == nil {
		return nil, common.NewNotFoundError("no active trial found", nil)
	}

	return &TrialStatusResponse{
		TokenID:          token.ID,
		Status:           token.Status,
		ReportsRemaining: token.ReportsRemaining,
		ExpiresAt:        token.ExpiresAt,
		CreatedAt:        token.CreatedAt,
	}, nil
}

// ConsumeReport burns one report generation against a token. False is a
// settled no-op: missing, terminal, exhausted or out-of-window token.
func (s *Service) ConsumeReport(ctx context.Context, tokenID uuid.UUID, reportID string) (bool, error) {
	consumed, err := s.tokens.Consume(ctx, tokenID, reportID)
	if err != nil {
		logger.WithContext(ctx).Error("failed to consume trial report",
			zap.String("token_id", tokenID.String()),
			zap.Error(err))
		return false, common.NewInternalError("failed to consume trial report", err)
	}

	result := "noop"
	if consumed {
		result = "consumed"
	}
	tokenOperations.WithLabelValues("consume", result).Inc()

	logger.WithContext(ctx).Info("trial report consumption",
		zap.String("token_id", tokenID.String()),
		zap.String("report_id", reportID),
		zap.Bool("consumed", consumed))
	return consumed, nil
}

// RevokeTrial kills a token after a post-hoc fraud finding. False means
// the token does not exist.
func (s *Service) RevokeTrial(ctx context.Context, tokenID uuid.UUID, reason string) (bool, error) {
	reason = security.SanitizeInput(reason, 500)
	if reason == "" {
		return false, common.NewBadRequestError("revocation reason is required", nil)
	}

	revoked, err := s.tokens.Revoke(ctx, tokenID, reason)
	if err != nil {
		logger.WithContext(ctx).Error("failed to revoke trial token",
			zap.String("token_id", tokenID.String()),
			zap.Error(err))
		return false, common.NewInternalError("failed to revoke trial token", err)
	}

	result := "noop"
	if revoked {
		result = "revoked"
	}
	tokenOperations.WithLabelValues("revoke", result).Inc()

	if revoked {
		logger.WithContext(ctx).Info("trial token revoked",
			zap.String("token_id", tokenID.String()),
			zap.String("reason", reason))
		if err := s.bus.Publish(ctx, eventbus.SubjectTrialRevoked, eventbus.TrialRevokedData{
			TokenID: tokenID,
			Reason:  reason,
		}); err != nil {
			logger.WithContext(ctx).Warn("failed to publish trial revoked event", zap.Error(err))
		}
	}
	return revoked, nil
}

// ListUsage returns a page of the usage log for a token.
func (s *Service) ListUsage(ctx context.Context, tokenID uuid.UUID, limit, offset int) ([]*TrialUsageRecord, int64, error) {
	token, err := s.tokens.Get(ctx, tokenID)
	if err != nil {
		return nil, 0, common.NewInternalError("failed to load token", err)
	}
	if token == nil {
		return nil, 0, common.NewNotFoundError("token not found", nil)
	}

	records, total, err := s.store.ListUsage(ctx, tokenID, limit, offset)
	if err != nil {
		logger.WithContext(ctx).Error("failed to list trial usage",
			zap.String("token_id", tokenID.String()),
			zap.Error(err))
		return nil, 0, common.NewInternalError("failed to list trial usage", err)
	}
	return records, total, nil
}

// ========================================
// HELPERS
// ========================================

func deviceEvidence(device *devices.DeviceFingerprint) *fraud.DeviceEvidence {
	if device == nil {
		return nil
	}
	ev := &fraud.DeviceEvidence{
		FingerprintHash: device.FingerprintHash,
		TrialCount:      device.TrialCount,
		IsBlocked:       device.IsBlocked,
		LastSeenAt:      device.LastSeenAt,
	}
	if device.BlockedReason != nil {
		ev.BlockedReason = *device.BlockedReason
	}
	return ev
}

func flagTypes(flags []fraud.FraudFlag) []string {
	if len(flags) == 0 {
		return nil
	}
	types := make([]string, 0, len(flags))
	for _, flag := range flags {
		types = append(types, string(flag.FlagType))
	}
	return types
}
