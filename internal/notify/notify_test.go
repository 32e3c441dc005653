package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rustler/internal/models"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestNewEvent(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sum := "abc"
	done := &models.FileRecord{ID: "f1", Status: models.StatusCompleted, AttemptCount: 1, Checksum: &sum}

	ev := NewEvent(done, at)
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, models.EventFileCompleted, ev.Type)
	assert.Equal(t, "f1", ev.FileID)
	assert.Equal(t, "abc", ev.Checksum)
	assert.Empty(t, ev.ErrorDetail)
	assert.Equal(t, at, ev.Timestamp)

	detail := "corrupt"
	failed := &models.FileRecord{ID: "f2", Status: models.StatusFailed, AttemptCount: 3, ErrorDetail: &detail}
	ev = NewEvent(failed, at)
	assert.Equal(t, models.EventFileFailed, ev.Type)
	assert.Equal(t, "corrupt", ev.ErrorDetail)
	assert.Equal(t, 3, ev.AttemptCount)
}

func TestKafkaNotifierPublishesJSON(t *testing.T) {
	w := &fakeWriter{}
	n := &KafkaNotifier{writer: w, topic: "events"}

	ev := NewEvent(&models.FileRecord{ID: "f1", Status: models.StatusCompleted, AttemptCount: 1}, time.Now())
	require.NoError(t, n.Notify(context.Background(), ev))

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "f1", string(msg.Key))
	assert.Contains(t, msg.Headers, kafka.Header{Key: "event-type", Value: []byte(models.EventFileCompleted)})

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "file.completed", decoded["type"])
	assert.Equal(t, "f1", decoded["file_id"])
	assert.Equal(t, "completed", decoded["status"])
	assert.EqualValues(t, 1, decoded["attempt_count"])

	require.NoError(t, n.Close())
	assert.True(t, w.closed)
}

func TestKafkaNotifierWrapsWriteError(t *testing.T) {
	boom := errors.New("broker down")
	n := &KafkaNotifier{writer: &fakeWriter{err: boom}, topic: "events"}

	err := n.Notify(context.Background(), models.Event{Type: models.EventFileFailed, FileID: "f1"})
	assert.ErrorIs(t, err, boom)
}

func TestNoopNotifier(t *testing.T) {
	var n Notifier = NoopNotifier{}
	assert.NoError(t, n.Notify(context.Background(), models.Event{}))
	assert.NoError(t, n.Close())
}
