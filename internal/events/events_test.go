package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alfredjeanlab/flowcanvas/internal/model"
)

var (
	_ Publisher  = NoopPublisher{}
	_ Publisher  = (*NATSPublisher)(nil)
	_ Subscriber = (*NATSSubscriber)(nil)
)

func TestNoopPublisher(t *testing.T) {
	var pub Publisher = &NoopPublisher{}
	require.NoError(t, pub.Publish(context.Background(), TopicFlowCreated, FlowCreated{}))
	require.NoError(t, pub.Close())
}

func TestMessageDecode(t *testing.T) {
	msg := Message{Topic: TopicNodeStatus, Data: []byte(`{"flow_id":"cf-1","node_id":"llm_0","status":"ERROR","error":"timeout"}`)}
	var got NodeStatus
	require.NoError(t, msg.Decode(&got))
	assert.Equal(t, "llm_0", got.NodeID)
	assert.Equal(t, model.NodeStatusError, got.Status)
	assert.Equal(t, "timeout", got.Error)

	bad := Message{Topic: TopicFlowDeleted, Data: []byte(`{`)}
	err := bad.Decode(&FlowDeleted{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), TopicFlowDeleted)
}

// receive waits for one message on sub.
func receive(t *testing.T, sub *Subscription) Message {
	t.Helper()
	select {
	case msg, ok := <-sub.C():
		require.True(t, ok, "subscription closed")
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
	return Message{}
}

func TestNATSPublisher_RoundTrip(t *testing.T) {
	url := startTestNATS(t)
	pub, err := NewNATSPublisher(url)
	require.NoError(t, err)
	defer pub.Close()
	sub, err := NewNATSSubscriber(url)
	require.NoError(t, err)
	defer sub.Close()

	flowEvents, err := sub.Subscribe(TopicAll)
	require.NoError(t, err)
	defer flowEvents.Close()

	sent := []struct {
		topic string
		event any
	}{
		{TopicFlowCreated, FlowCreated{Flow: &model.Flow{ID: "cf-pub1", Name: "Support bot"}}},
		{TopicCanvasSaved, CanvasSaved{FlowID: "cf-pub1", SessionID: "cs-1", Nodes: 3, Edges: 2}},
		{TopicBackupWarning, BackupWarning{FlowID: "cf-pub1", Expected: 6, Live: 2}},
	}
	for _, s := range sent {
		require.NoError(t, pub.Publish(context.Background(), s.topic, s.event))
	}
	require.NoError(t, pub.conn.Flush())

	created := receive(t, flowEvents)
	assert.Equal(t, TopicFlowCreated, created.Topic)
	var fc FlowCreated
	require.NoError(t, created.Decode(&fc))
	assert.Equal(t, "cf-pub1", fc.Flow.ID)

	saved := receive(t, flowEvents)
	assert.Equal(t, TopicCanvasSaved, saved.Topic)
	var cs CanvasSaved
	require.NoError(t, saved.Decode(&cs))
	assert.Equal(t, 3, cs.Nodes)

	assert.Equal(t, TopicBackupWarning, receive(t, flowEvents).Topic)
}

func TestNATSPublisher_CanceledContext(t *testing.T) {
	pub, err := NewNATSPublisher(startTestNATS(t))
	require.NoError(t, err)
	defer pub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, pub.Publish(ctx, TopicFlowDeleted, FlowDeleted{FlowID: "cf-1"}), context.Canceled)
}

func TestNATSPublisher_Close(t *testing.T) {
	pub, err := NewNATSPublisher(startTestNATS(t))
	require.NoError(t, err)

	require.NoError(t, pub.Close())
	assert.Error(t, pub.Publish(context.Background(), TopicFlowCreated, FlowCreated{}),
		"publish after close")
}
