package client

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	subjects []string
	payloads [][]byte
	err      error
}

func (r *recordingPublisher) Publish(_ context.Context, subject string, data []byte) error {
	r.subjects = append(r.subjects, subject)
	r.payloads = append(r.payloads, data)
	return r.err
}

func TestNotificationPublisher_Send(t *testing.T) {
	pub := &recordingPublisher{}
	p := NewNotificationPublisher(pub, "notifications.documents", zerolog.Nop())

	err := p.Send(context.Background(), []string{"u1", "u2"}, "Review pending", "Please review 1.0.1")
	require.NoError(t, err)

	require.Len(t, pub.subjects, 1)
	assert.Equal(t, "notifications.documents.document_approval", pub.subjects[0])

	var event NotificationEvent
	require.NoError(t, json.Unmarshal(pub.payloads[0], &event))
	assert.Equal(t, []string{"u1", "u2"}, event.Recipients)
	assert.Equal(t, "Review pending", event.Title)
	assert.Equal(t, "Please review 1.0.1", event.Body)
}

func TestNotificationPublisher_NoRecipientsIsNoop(t *testing.T) {
	pub := &recordingPublisher{}
	p := NewNotificationPublisher(pub, "n", zerolog.Nop())

	require.NoError(t, p.Send(context.Background(), nil, "s", "b"))
	assert.Empty(t, pub.subjects)
}

func TestNotificationPublisher_NilTransport(t *testing.T) {
	p := NewNotificationPublisher(nil, "n", zerolog.Nop())
	require.NoError(t, p.Send(context.Background(), []string{"u1"}, "s", "b"))
}

func TestNotificationPublisher_PublishError(t *testing.T) {
	pub := &recordingPublisher{err: stderrors.New("no responders")}
	p := NewNotificationPublisher(pub, "n", zerolog.Nop())

	err := p.Send(context.Background(), []string{"u1"}, "s", "b")
	require.Error(t, err)
}
