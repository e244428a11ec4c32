package relay

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/sealrelay/event"
	"github.com/opd-ai/sealrelay/interfaces"
	"github.com/opd-ai/sealrelay/policy"
)

type pipelineFixture struct {
	store    *fakeStore
	registry *Registry
	pipeline *Pipeline
	out      *ChanOutbox
	conn     ConnID
}

func newPipelineFixture(t *testing.T, auth interfaces.Authorizer, opts ...PipelineOption) *pipelineFixture {
	t.Helper()
	f := &pipelineFixture{store: &fakeStore{}, registry: NewRegistry(), out: NewChanOutbox(64), conn: NewConnID()}
	p, err := NewPipeline(f.store, auth, f.registry, opts...)
	require.NoError(t, err)
	f.pipeline = p
	require.NoError(t, f.registry.Register(f.conn, f.out))
	require.NoError(t, f.registry.Subscribe(f.conn, "all", kinds(0, 1, 9, 1059), 0))
	return f
}

func TestNewPipelineRequiresCollaborators(t *testing.T) {
	_, err := NewPipeline(nil, allowAll(), NewRegistry())
	assert.Error(t, err)
	_, err = NewPipeline(&fakeStore{}, nil, NewRegistry())
	assert.Error(t, err)
	_, err = NewPipeline(&fakeStore{}, allowAll(), nil)
	assert.Error(t, err)
}

func TestAdmitAcceptsAndBroadcasts(t *testing.T) {
	f := newPipelineFixture(t, allowAll())
	ev := newEvent(t, newKeys(t), event.KindTextNote, "hello")

	res := f.pipeline.Admit(context.Background(), rawEvent(t, ev))
	assert.True(t, res.Accepted)
	assert.Equal(t, ev.ID, res.EventID)
	assert.Equal(t, StageBroadcast, res.Stage)
	assert.Empty(t, res.Message)
	assert.Nil(t, res.Reason)
	assert.Equal(t, 1, res.Delivered)
	assert.Equal(t, 1, f.store.count())

	msgs := parseAll(t, drain(f.out))
	require.Len(t, msgs, 1)
	assert.Equal(t, "all", msgs[0].SubID)
	assert.Equal(t, ev, msgs[0].Event)
}

func TestAdmitDuplicate(t *testing.T) {
	f := newPipelineFixture(t, allowAll())
	ev := newEvent(t, newKeys(t), event.KindTextNote, "once")

	require.True(t, f.pipeline.AdmitEvent(context.Background(), ev).Accepted)
	drain(f.out)

	res := f.pipeline.AdmitEvent(context.Background(), ev)
	assert.True(t, res.Accepted)
	assert.True(t, res.Duplicate)
	assert.Equal(t, DuplicateMessage, res.Message)
	assert.Empty(t, drain(f.out), "duplicates are not re-broadcast")
	assert.Equal(t, 1, f.store.saves, "seen guard answers before the store")

	// a fresh pipeline over the same store relies on the store answer
	p2, err := NewPipeline(f.store, allowAll(), f.registry)
	require.NoError(t, err)
	res = p2.AdmitEvent(context.Background(), ev)
	assert.True(t, res.Duplicate)
	assert.Equal(t, 2, f.store.saves)
	assert.Empty(t, drain(f.out))
}

func TestAdmitRejections(t *testing.T) {
	kp := newKeys(t)
	good := newEvent(t, kp, event.KindTextNote, "original")

	tampered := *good
	tampered.Content = "changed"

	badSig := *good
	badSig.Sig = strings.Repeat("0", event.SigHexLen)

	// recomputed id over changed content, signature still over the old id
	resigned := tampered
	resigned.ID = event.ComputeIDHex(resigned.Fields())

	denied := interfaces.AuthorizerFunc(func(context.Context, string) (bool, error) { return false, nil })
	failing := interfaces.AuthorizerFunc(func(context.Context, string) (bool, error) {
		return false, errors.New("whitelist down")
	})

	tests := []struct {
		name    string
		auth    interfaces.Authorizer
		raw     json.RawMessage
		reason  RejectReason
		stage   Stage
		message string
	}{
		{"not an object", allowAll(), json.RawMessage(`"nope"`), ReasonInvalidStructure, StageReceived,
			"invalid: event validation failed"},
		{"missing sig", allowAll(), json.RawMessage(`{"id":"` + good.ID + `","pubkey":"` + good.PubKey + `","created_at":1,"kind":1,"tags":[],"content":""}`),
			ReasonInvalidStructure, StageReceived, "invalid: event validation failed"},
		{"blocked", denied, rawEvent(t, good), ReasonBlocked, StageStructurallyValid,
			"blocked: pubkey not whitelisted"},
		{"auth failure", failing, rawEvent(t, good), ReasonAuthUnavailable, StageStructurallyValid,
			"error: authorization check failed"},
		{"id mismatch", allowAll(), rawEvent(t, &tampered), ReasonIDMismatch, StageAuthorized,
			"invalid: event id verification failed"},
		{"zero signature", allowAll(), rawEvent(t, &badSig), ReasonBadSignature, StageIDVerified,
			"invalid: signature verification failed"},
		{"stale signature", allowAll(), rawEvent(t, &resigned), ReasonBadSignature, StageIDVerified,
			"invalid: signature verification failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPipelineFixture(t, tt.auth)
			res := f.pipeline.Admit(context.Background(), tt.raw)
			assert.False(t, res.Accepted)
			require.NotNil(t, res.Reason)
			assert.Equal(t, tt.reason.Code, res.Reason.Code)
			assert.Equal(t, tt.stage, res.Stage)
			assert.Equal(t, tt.message, res.Message)
			assert.Zero(t, f.store.count(), "rejected events are never persisted")
			assert.Empty(t, drain(f.out), "rejected events are never delivered")
		})
	}
}

func TestAdmitClaimedID(t *testing.T) {
	f := newPipelineFixture(t, allowAll())
	res := f.pipeline.Admit(context.Background(), json.RawMessage(`{"id":"abc","kind":"x"}`))
	assert.False(t, res.Accepted)
	assert.Equal(t, "abc", res.EventID)

	res = f.pipeline.AdmitEvent(context.Background(), nil)
	assert.False(t, res.Accepted)
	assert.Empty(t, res.EventID)
}

func TestAdmitStoreFailure(t *testing.T) {
	f := newPipelineFixture(t, allowAll())
	f.store.saveErr = errors.New("disk full")
	ev := newEvent(t, newKeys(t), event.KindTextNote, "lost")

	res := f.pipeline.AdmitEvent(context.Background(), ev)
	assert.False(t, res.Accepted)
	assert.Equal(t, "error: failed to save event", res.Message)
	assert.Equal(t, StageSigVerified, res.Stage)
	assert.Empty(t, drain(f.out))

	// the failure is not remembered as seen
	f.store.saveErr = nil
	assert.True(t, f.pipeline.AdmitEvent(context.Background(), ev).Accepted)
}

func TestAdmitTimeoutsReachCollaborators(t *testing.T) {
	var deadline time.Time
	auth := interfaces.AuthorizerFunc(func(ctx context.Context, _ string) (bool, error) {
		deadline, _ = ctx.Deadline()
		return true, nil
	})
	f := newPipelineFixture(t, auth, WithTimeouts(time.Second, 50*time.Millisecond))
	start := time.Now()
	require.True(t, f.pipeline.AdmitEvent(context.Background(), newEvent(t, newKeys(t), 1, "x")).Accepted)
	assert.WithinDuration(t, start.Add(50*time.Millisecond), deadline, 40*time.Millisecond)
}

type stubValidator struct{ result interfaces.ValidationResult }

func (s stubValidator) ValidateEvent(*event.Event) interfaces.ValidationResult { return s.result }

func TestAdmitEventValidator(t *testing.T) {
	ev := newEvent(t, newKeys(t), event.KindTextNote, "hello")

	f := newPipelineFixture(t, allowAll(), WithEventValidator(stubValidator{interfaces.ValidationResult{
		Valid:  false,
		Errors: []string{"Tag 0 is empty", "other"},
	}}))
	res := f.pipeline.AdmitEvent(context.Background(), ev)
	assert.False(t, res.Accepted)
	assert.Equal(t, "policy", res.Reason.Code)
	assert.Equal(t, "invalid: Tag 0 is empty", res.Message)

	f = newPipelineFixture(t, allowAll(), WithEventValidator(policy.NewContentValidator()))
	assert.True(t, f.pipeline.AdmitEvent(context.Background(), ev).Accepted)
}

func TestAdmitRateLimited(t *testing.T) {
	limiter, err := policy.NewRateLimiter(map[string]policy.Limit{
		policy.ActionMessage: {Capacity: 1, Window: time.Minute},
	}, 16, testClock)
	require.NoError(t, err)

	f := newPipelineFixture(t, allowAll(), WithAdmissionLimiter(limiter))
	kp := newKeys(t)
	require.True(t, f.pipeline.AdmitEvent(context.Background(), newEvent(t, kp, 1, "one")).Accepted)

	res := f.pipeline.AdmitEvent(context.Background(), newEvent(t, kp, 1, "two"))
	assert.False(t, res.Accepted)
	assert.Equal(t, "rate-limited: slow down", res.Message)

	assert.True(t, f.pipeline.AdmitEvent(context.Background(), newEvent(t, newKeys(t), 1, "other author")).Accepted)
}

type recordingObserver struct {
	NopObserver
	results []Result
}

func (r *recordingObserver) Admission(res Result, _ time.Duration) {
	r.results = append(r.results, res)
}

func TestAdmitReportsToObserver(t *testing.T) {
	obs := &recordingObserver{}
	f := newPipelineFixture(t, allowAll(), WithObserver(obs))
	f.pipeline.Admit(context.Background(), rawEvent(t, newEvent(t, newKeys(t), 1, "x")))
	f.pipeline.Admit(context.Background(), json.RawMessage(`[]`))
	require.Len(t, obs.results, 2)
	assert.True(t, obs.results[0].Accepted)
	assert.False(t, obs.results[1].Accepted)
}

func TestStageString(t *testing.T) {
	assert.Equal(t, "RECEIVED", StageReceived.String())
	assert.Equal(t, "SIG_VERIFIED", StageSigVerified.String())
	assert.Equal(t, "BROADCAST", StageBroadcast.String())
	assert.Equal(t, "Stage(42)", Stage(42).String())
}
