package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eidos-exchange/eidos-ubi/internal/kafka"
	"github.com/eidos-exchange/eidos-ubi/internal/model"
)

type sentMessage struct {
	topic string
	key   string
	value []byte
}

type fakeProducer struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (f *fakeProducer) SendWithContext(_ context.Context, topic string, key, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMessage{topic: topic, key: string(key), value: value})
	return nil
}

func TestPublishClaim(t *testing.T) {
	fp := &fakeProducer{}
	p := NewSettlementPublisher(fp)

	ts := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	claim := &model.Claim{
		ID:          "clm_1",
		UserID:      "u1",
		CommunityID: "c1",
		Amount:      decimal.RequireFromString("25.2"),
		Timestamp:   ts,
		Multiplier:  2.52,
		Reason:      model.ClaimReasonStreak,
	}
	require.NoError(t, p.PublishClaim(context.Background(), claim, "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"))

	require.Len(t, fp.sent, 1)
	assert.Equal(t, kafka.TopicClaims, fp.sent[0].topic)
	assert.Equal(t, "u1", fp.sent[0].key)

	var msg ClaimMessage
	require.NoError(t, json.Unmarshal(fp.sent[0].value, &msg))
	assert.Equal(t, "25.2", msg.Amount)
	assert.Equal(t, "streak", msg.Reason)
	assert.Equal(t, "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", msg.Address)
	assert.Equal(t, ts.UnixMilli(), msg.ClaimedAt)
}

func TestPublishDistribution(t *testing.T) {
	fp := &fakeProducer{}
	p := NewSettlementPublisher(fp)

	payouts := map[string]decimal.Decimal{"a": decimal.NewFromInt(136), "b": decimal.NewFromInt(100)}
	err := p.PublishDistribution(context.Background(), "dist_1", "c1", decimal.NewFromInt(236), decimal.NewFromInt(236), payouts, time.Unix(100, 0))
	require.NoError(t, err)

	require.Len(t, fp.sent, 1)
	assert.Equal(t, kafka.TopicDistributions, fp.sent[0].topic)
	assert.Equal(t, "c1", fp.sent[0].key)

	var msg DistributionMessage
	require.NoError(t, json.Unmarshal(fp.sent[0].value, &msg))
	assert.Equal(t, map[string]string{"a": "136", "b": "100"}, msg.Payouts)
}

func TestPublisher_Disabled(t *testing.T) {
	p := NewSettlementPublisher(nil)
	assert.NoError(t, p.PublishClaim(context.Background(), &model.Claim{}, ""))
}

func TestPublisher_SendError(t *testing.T) {
	p := NewSettlementPublisher(&fakeProducer{err: errors.New("broker down")})
	err := p.PublishClaim(context.Background(), &model.Claim{ID: "c", UserID: "u"}, "")
	assert.ErrorContains(t, err, "broker down")
}

func TestPublishClaim_InvalidAddressOmitted(t *testing.T) {
	fp := &fakeProducer{}
	p := NewSettlementPublisher(fp)
	claim := &model.Claim{ID: "clm_2", UserID: "u2", Amount: decimal.NewFromInt(10), Timestamp: time.Now()}

	for _, addr := range []string{"0xabc", "not-an-address", ""} {
		require.NoError(t, p.PublishClaim(context.Background(), claim, addr))
	}
	require.Len(t, fp.sent, 3)
	for _, sent := range fp.sent {
		var msg ClaimMessage
		require.NoError(t, json.Unmarshal(sent.value, &msg))
		assert.Empty(t, msg.Address)
		assert.Equal(t, "clm_2", msg.ClaimID)
	}
}
