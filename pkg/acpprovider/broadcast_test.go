package acpprovider

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestModelListBroadcasterPublishesToAllSubscribers(t *testing.T) {
	b := newModelListBroadcaster()
	var first, second []ModelInfo
	b.Subscribe(func(m []ModelInfo) { first = m })
	b.Subscribe(func(m []ModelInfo) { second = m })

	models := []ModelInfo{{ID: "agent-a", Name: "Agent A"}}
	b.Publish(models)

	require.Equal(t, models, first)
	require.Equal(t, models, second)
}

func TestModelListBroadcasterNoSubscribersIsNoop(t *testing.T) {
	b := newModelListBroadcaster()
	require.NotPanics(t, func() { b.Publish([]ModelInfo{{ID: "agent-a"}}) })
}

func TestModelListBroadcasterSubscribeAfterPublishMissesPriorPublish(t *testing.T) {
	b := newModelListBroadcaster()
	b.Publish([]ModelInfo{{ID: "agent-a"}})

	var got []ModelInfo
	b.Subscribe(func(m []ModelInfo) { got = m })
	require.Nil(t, got)
}
