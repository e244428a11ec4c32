package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/sealrelay/event"
	"github.com/opd-ai/sealrelay/interfaces"
	"github.com/opd-ai/sealrelay/policy"
)

// Stage is a step of the admission state machine.
type Stage int

const (
	StageReceived Stage = iota
	StageStructurallyValid
	StageAuthorized
	StageIDVerified
	StageSigVerified
	StagePersisted
	StageBroadcast
)

var stageNames = [...]string{
	"RECEIVED",
	"STRUCTURALLY_VALID",
	"AUTHORIZED",
	"ID_VERIFIED",
	"SIG_VERIFIED",
	"PERSISTED",
	"BROADCAST",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return fmt.Sprintf("Stage(%d)", int(s))
	}
	return stageNames[s]
}

// RejectReason is a machine-readable rejection with its OK message parts.
type RejectReason struct {
	// Code is a stable identifier for metrics and logs.
	Code   string
	Prefix string
	Text   string
}

// Message returns the OK message, "<prefix>: <text>".
func (r RejectReason) Message() string {
	return r.Prefix + ": " + r.Text
}

// Rejection reasons, in pipeline order.
var (
	ReasonInvalidStructure = RejectReason{"structure", "invalid", "event validation failed"}
	ReasonPolicy           = RejectReason{"policy", "invalid", "event rejected by policy"}
	ReasonBlocked          = RejectReason{"blocked", "blocked", "pubkey not whitelisted"}
	ReasonAuthUnavailable  = RejectReason{"auth_error", "error", "authorization check failed"}
	ReasonRateLimited      = RejectReason{"rate_limited", "rate-limited", "slow down"}
	ReasonIDMismatch       = RejectReason{"id_mismatch", "invalid", "event id verification failed"}
	ReasonBadSignature     = RejectReason{"bad_signature", "invalid", "signature verification failed"}
	ReasonStoreFailure     = RejectReason{"store_error", "error", "failed to save event"}
)

// DuplicateMessage is the OK message for an event already stored.
const DuplicateMessage = "duplicate: already have this event"

// Result is the outcome of one admission.
type Result struct {
	EventID  string
	Kind     int
	Accepted bool
	// Stage is the last stage reached.
	Stage     Stage
	Reason    *RejectReason
	Message   string
	Duplicate bool
	Delivered int
}

// EventValidator is an optional content policy applied after the structural
// check.
type EventValidator interface {
	ValidateEvent(ev *event.Event) interfaces.ValidationResult
}

// Pipeline admits inbound events.
type Pipeline struct {
	store        interfaces.Store
	auth         interfaces.Authorizer
	registry     *Registry
	validator    EventValidator
	limiter      interfaces.RateLimiter
	observer     Observer
	storeTimeout time.Duration
	authTimeout  time.Duration
	seen         *lru.Cache
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithEventValidator adds a content policy check.
func WithEventValidator(v EventValidator) PipelineOption {
	return func(p *Pipeline) { p.validator = v }
}

// WithAdmissionLimiter rate limits the message action per pubkey.
func WithAdmissionLimiter(l interfaces.RateLimiter) PipelineOption {
	return func(p *Pipeline) { p.limiter = l }
}

// WithObserver reports admissions to o.
func WithObserver(o Observer) PipelineOption {
	return func(p *Pipeline) { p.observer = o }
}

// WithTimeouts bounds store and authorization calls.
func WithTimeouts(store, auth time.Duration) PipelineOption {
	return func(p *Pipeline) {
		p.storeTimeout = store
		p.authTimeout = auth
	}
}

// Default timeouts and duplicate guard size.
const (
	DefaultStoreTimeout = 5 * time.Second
	DefaultAuthTimeout  = 2 * time.Second
	DefaultSeenSize     = 8192
)

// NewPipeline returns a pipeline that persists to store, asks auth, and
// fans out through registry.
func NewPipeline(store interfaces.Store, auth interfaces.Authorizer, registry *Registry, opts ...PipelineOption) (*Pipeline, error) {
	if store == nil || auth == nil || registry == nil {
		return nil, errors.New("new pipeline: store, authorizer and registry are required")
	}
	seen, err := lru.New(DefaultSeenSize)
	if err != nil {
		return nil, fmt.Errorf("create duplicate guard: %w", err)
	}
	p := &Pipeline{
		store:        store,
		auth:         auth,
		registry:     registry,
		observer:     NopObserver{},
		storeTimeout: DefaultStoreTimeout,
		authTimeout:  DefaultAuthTimeout,
		seen:         seen,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Admit decodes raw and admits it. A raw event that does not decode is
// acknowledged with whatever id it claims.
func (p *Pipeline) Admit(ctx context.Context, raw json.RawMessage) Result {
	start := time.Now()
	ev, err := event.Parse(raw)
	if err != nil {
		res := p.reject(Result{EventID: claimedID(raw), Stage: StageReceived}, ReasonInvalidStructure, err)
		p.observer.Admission(res, time.Since(start))
		return res
	}
	res := p.admit(ctx, ev)
	p.observer.Admission(res, time.Since(start))
	return res
}

// AdmitEvent admits an already decoded event.
func (p *Pipeline) AdmitEvent(ctx context.Context, ev *event.Event) Result {
	start := time.Now()
	var res Result
	if err := event.Check(ev); err != nil {
		id := ""
		if ev != nil {
			id = ev.ID
		}
		res = p.reject(Result{EventID: id, Stage: StageReceived}, ReasonInvalidStructure, err)
	} else {
		res = p.admit(ctx, ev)
	}
	p.observer.Admission(res, time.Since(start))
	return res
}

func (p *Pipeline) admit(ctx context.Context, ev *event.Event) Result {
	res := Result{EventID: ev.ID, Kind: ev.Kind, Stage: StageStructurallyValid}

	if p.validator != nil {
		if v := p.validator.ValidateEvent(ev); !v.Valid {
			reason := ReasonPolicy
			if len(v.Errors) > 0 {
				reason.Text = v.Errors[0]
			}
			return p.reject(res, reason, nil)
		}
	}

	authCtx, cancel := context.WithTimeout(ctx, p.authTimeout)
	allowed, err := p.auth.IsAllowed(authCtx, ev.PubKey)
	cancel()
	if err != nil {
		return p.reject(res, ReasonAuthUnavailable, err)
	}
	if !allowed {
		return p.reject(res, ReasonBlocked, nil)
	}
	if p.limiter != nil && !p.limiter.Check(policy.ActionMessage, ev.PubKey).Allowed {
		return p.reject(res, ReasonRateLimited, nil)
	}
	res.Stage = StageAuthorized

	if !ev.VerifyID() {
		return p.reject(res, ReasonIDMismatch, nil)
	}
	res.Stage = StageIDVerified

	if !ev.VerifySignature() {
		return p.reject(res, ReasonBadSignature, nil)
	}
	res.Stage = StageSigVerified

	if p.seen.Contains(ev.ID) {
		return duplicate(res)
	}

	storeCtx, cancel := context.WithTimeout(ctx, p.storeTimeout)
	stored, err := p.store.Save(storeCtx, ev)
	cancel()
	if err != nil {
		return p.reject(res, ReasonStoreFailure, err)
	}
	p.seen.Add(ev.ID, struct{}{})
	if !stored {
		return duplicate(res)
	}
	res.Stage = StagePersisted

	b := p.registry.Broadcast(ev)
	res.Stage = StageBroadcast
	res.Accepted = true
	res.Delivered = b.Delivered

	logrus.WithFields(logrus.Fields{
		"function":        "Pipeline.Admit",
		"event_id_prefix": idPrefix(ev.ID),
		"kind":            ev.Kind,
		"delivered":       b.Delivered,
		"dropped":         len(b.Dropped),
	}).Debug("Event admitted")
	return res
}

func duplicate(res Result) Result {
	res.Accepted = true
	res.Duplicate = true
	res.Message = DuplicateMessage
	return res
}

func (p *Pipeline) reject(res Result, reason RejectReason, cause error) Result {
	res.Accepted = false
	res.Reason = &reason
	res.Message = reason.Message()

	fields := logrus.Fields{
		"function":        "Pipeline.Admit",
		"event_id_prefix": idPrefix(res.EventID),
		"stage":           res.Stage.String(),
		"reason":          reason.Code,
	}
	if cause != nil {
		fields["error"] = cause.Error()
	}
	entry := logrus.WithFields(fields)
	if reason == ReasonStoreFailure || reason == ReasonAuthUnavailable {
		entry.Error("Event admission failed")
	} else {
		entry.Warn("Event rejected")
	}
	return res
}

// claimedID extracts an "id" string from a raw object that failed to decode.
func claimedID(raw json.RawMessage) string {
	var partial struct {
		ID any `json:"id"`
	}
	if json.Unmarshal(raw, &partial) != nil {
		return ""
	}
	if s, ok := partial.ID.(string); ok {
		return s
	}
	return ""
}
