package market_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/predico/market-service/internal/apperr"
	"github.com/predico/market-service/internal/market"
	"github.com/predico/market-service/internal/model"
)

func TestCreateBid_Rejections(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	sess := env.openSession(t)
	agent, resource := env.agent(t)

	feature := model.Resource{ID: uuid.New(), UserID: agent.UserID, Type: model.ResourceFeature, ToForecast: true}
	env.reg.AddResource(feature)
	silent := model.Resource{ID: uuid.New(), UserID: agent.UserID, Type: model.ResourceMeasurement}
	env.reg.AddResource(silent)
	_, foreign := env.agent(t)

	_, err := env.svc.CreateSession(ctx, market.CreateSessionInput{})
	assertCode(t, err, apperr.CodeUnfinishedSessions)

	tests := []struct {
		name   string
		caller market.Caller
		in     market.CreateBidInput
		code   string
	}{
		{
			name:   "below minimum payment",
			caller: agent,
			in:     market.CreateBidInput{SessionID: sess.ID, ResourceID: resource, MaxPayment: d("9.99"), GainFunc: model.GainMSE},
			code:   apperr.CodeValidation,
		},
		{
			name:   "no user wallet",
			caller: market.Caller{UserID: uuid.New()},
			in:     market.CreateBidInput{SessionID: sess.ID, ResourceID: resource, MaxPayment: d("10"), GainFunc: model.GainMSE},
			code:   apperr.CodeUserWalletAddressNotFound,
		},
		{
			name:   "resource of another user",
			caller: agent,
			in:     market.CreateBidInput{SessionID: sess.ID, ResourceID: foreign, MaxPayment: d("10"), GainFunc: model.GainMSE},
			code:   apperr.CodeUserResourceNotRegistered,
		},
		{
			name:   "unknown resource",
			caller: agent,
			in:     market.CreateBidInput{SessionID: sess.ID, ResourceID: uuid.New(), MaxPayment: d("10"), GainFunc: model.GainMSE},
			code:   apperr.CodeUserResourceNotRegistered,
		},
		{
			name:   "feature resource",
			caller: agent,
			in:     market.CreateBidInput{SessionID: sess.ID, ResourceID: feature.ID, MaxPayment: d("10"), GainFunc: model.GainMSE},
			code:   apperr.CodeInvalidResourceBid,
		},
		{
			name:   "resource not to forecast",
			caller: agent,
			in:     market.CreateBidInput{SessionID: sess.ID, ResourceID: silent.ID, MaxPayment: d("10"), GainFunc: model.GainMSE},
			code:   apperr.CodeNoForecastResourceBid,
		},
		{
			name:   "unknown session",
			caller: agent,
			in:     market.CreateBidInput{SessionID: sess.ID + 100, ResourceID: resource, MaxPayment: d("10"), GainFunc: model.GainMSE},
			code:   apperr.CodeNoMarketSession,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.CreateBid(ctx, tt.caller, tt.in)
			assertCode(t, err, tt.code)
		})
	}
}

func TestCreateBid_SessionNotOpen(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	sess := env.openSession(t)
	agent, resource := env.agent(t)

	closed := model.SessionClosed
	_, err := env.svc.UpdateSession(ctx, sess.ID, market.UpdateSessionInput{Status: &closed})
	require.NoError(t, err)

	_, err = env.svc.CreateBid(ctx, agent, market.CreateBidInput{
		SessionID: sess.ID, ResourceID: resource, MaxPayment: d("10"), GainFunc: model.GainMAE,
	})
	assertCode(t, err, apperr.CodeSessionNotOpenForBids)
}

func TestCreateBid_Duplicate(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	sess := env.openSession(t)
	agent, resource := env.agent(t)

	env.placeBid(t, agent, sess.ID, resource, "10")
	_, err := env.svc.CreateBid(ctx, agent, market.CreateBidInput{
		SessionID: sess.ID, ResourceID: resource, MaxPayment: d("20"), GainFunc: model.GainRMSE,
	})
	assertCode(t, err, apperr.CodeBidAlreadyExists)

	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, sess.ID, e.Details["market_session"])
	assert.Equal(t, resource.String(), e.Details["resource"])

	bids, err := env.svc.ListBids(ctx, env.admin, model.BidFilter{SessionID: &sess.ID})
	require.NoError(t, err)
	assert.Len(t, bids, 1)
}

func TestAttachPayment_Rules(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	sess := env.openSession(t)
	alice, aliceRes := env.agent(t)
	bob, bobRes := env.agent(t)

	aliceBid := env.placeBid(t, alice, sess.ID, aliceRes, "10")
	bobBid := env.placeBid(t, bob, sess.ID, bobRes, "10")

	_, err := env.svc.AttachPayment(ctx, bob, aliceBid.ID, "abc123")
	assertCode(t, err, apperr.CodeUserBidNotRegistered)

	_, err = env.svc.AttachPayment(ctx, alice, aliceBid.ID, "has space")
	assertCode(t, err, apperr.CodeInvalidTangleMessageID)

	_, err = env.svc.AttachPayment(ctx, alice, aliceBid.ID, "abc123")
	require.NoError(t, err)

	_, err = env.svc.AttachPayment(ctx, alice, aliceBid.ID, "def456")
	assertCode(t, err, apperr.CodeBidAlreadyWithTangleID)

	_, err = env.svc.AttachPayment(ctx, bob, bobBid.ID, "abc123")
	assertCode(t, err, apperr.CodeDuplicatedTangleMessageID)

	closed := model.SessionClosed
	_, err = env.svc.UpdateSession(ctx, sess.ID, market.UpdateSessionInput{Status: &closed})
	require.NoError(t, err)
	_, err = env.svc.AttachPayment(ctx, bob, bobBid.ID, "def456")
	assertCode(t, err, apperr.CodeSessionNotOpenForBids)
}

func TestListBids_ScopedToCaller(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	sess := env.openSession(t)
	alice, aliceRes := env.agent(t)
	bob, bobRes := env.agent(t)

	env.placeBid(t, alice, sess.ID, aliceRes, "10")
	env.placeBid(t, bob, sess.ID, bobRes, "10")

	// A non-admin filter on another user is ignored.
	bids, err := env.svc.ListBids(ctx, alice, model.BidFilter{UserID: &bob.UserID})
	require.NoError(t, err)
	require.Len(t, bids, 1)
	assert.Equal(t, alice.UserID, bids[0].UserID)

	bids, err = env.svc.ListBids(ctx, env.admin, model.BidFilter{})
	require.NoError(t, err)
	assert.Len(t, bids, 2)

	confirmed := true
	bids, err = env.svc.ListBids(ctx, env.admin, model.BidFilter{Confirmed: &confirmed})
	require.NoError(t, err)
	assert.Empty(t, bids)
}
