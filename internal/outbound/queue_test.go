package outbound

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gotrs-io/tg-helpdesk/internal/models"
	"github.com/gotrs-io/tg-helpdesk/internal/transport"
)

type idRecorder struct {
	mu  sync.Mutex
	ids map[int64]int64
}

func (r *idRecorder) SetExternalMessageID(_ context.Context, id, externalID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ids == nil {
		r.ids = make(map[int64]int64)
	}
	r.ids[id] = externalID
	return nil
}

func (r *idRecorder) get(id int64) (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.ids[id]
	return v, ok
}

func ptr[T any](v T) *T { return &v }

func startQueue(t *testing.T, tr transport.Transport, rec ExternalIDRecorder, opts ...Option) *Queue {
	t.Helper()
	opts = append([]Option{WithLogger(log.New(io.Discard, "", 0))}, opts...)
	q := NewQueue(tr, rec, opts...)
	ctx, cancel := context.WithCancel(context.Background())
	go q.Run(ctx)
	t.Cleanup(cancel)
	return q
}

func TestJobKind(t *testing.T) {
	tests := []struct {
		name string
		job  Job
		want string
	}{
		{"plain text", Job{Text: "hi"}, "text"},
		{"rating prompt", Job{Text: RatingPrompt, TicketID: ptr(int64(42))}, "rating_prompt"},
		{"prompt text without ticket", Job{Text: RatingPrompt}, "text"},
		{"photo", Job{Attachment: &AttachmentRef{Path: "a.jpg", Type: models.FileImage}}, "photo"},
		{"document", Job{Attachment: &AttachmentRef{Path: "a.pdf", Type: models.FileDocument}}, "document"},
		{"edit text", Job{ExternalMessageID: ptr(int64(5))}, "edit_text"},
		{"edit caption", Job{ExternalMessageID: ptr(int64(5)), HasAttachment: true}, "edit_caption"},
		{"edit wins over attachment", Job{ExternalMessageID: ptr(int64(5)), Attachment: &AttachmentRef{Path: "x"}}, "edit_text"},
		{"delete", Job{ExternalMessageID: ptr(int64(5)), Delete: true}, "delete"},
		{"keyboard", Job{Text: "hi", Buttons: TicketButtons(42, "")}, "buttons"},
		{"topic", Job{Text: "hi", ThreadID: 7, Buttons: TicketButtons(42, "")}, "topic"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.job.Kind())
		})
	}
}

func TestQueue_DeliversInOrderAndRecordsIDs(t *testing.T) {
	fake := transport.NewFake()
	rec := &idRecorder{}
	q := startQueue(t, fake, rec)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, Job{AccountID: 1, Text: "first", MessageID: ptr(int64(10))}))
	require.NoError(t, q.Enqueue(ctx, Job{AccountID: 1, Text: RatingPrompt, TicketID: ptr(int64(42))}))
	require.NoError(t, q.Enqueue(ctx, Job{AccountID: 1, Text: "fixed", ExternalMessageID: ptr(int64(1001))}))

	require.Eventually(t, func() bool { return len(fake.Sent()) == 3 }, 2*time.Second, 5*time.Millisecond)
	sent := fake.Sent()
	assert.Equal(t, "text", sent[0].Op)
	assert.Equal(t, "buttons", sent[1].Op)
	assert.Equal(t, RatingButtons(42), sent[1].Buttons)
	assert.Equal(t, "edit_text", sent[2].Op)
	assert.Equal(t, int64(1001), sent[2].MessageID)

	ext, ok := rec.get(10)
	require.True(t, ok)
	assert.Equal(t, sent[0].MessageID, ext)
}

func TestQueue_SendsKeyboardsAndTopics(t *testing.T) {
	fake := transport.NewFake()
	q := startQueue(t, fake, nil)
	ctx := context.Background()

	buttons := TicketButtons(42, "https://desk.example.com/")
	require.NoError(t, q.Enqueue(ctx, Job{AccountID: 5, Text: "assigned", Buttons: buttons}))
	require.NoError(t, q.Enqueue(ctx, Job{AccountID: -1001, ThreadID: 7, Text: "reassigned"}))

	require.Eventually(t, func() bool { return len(fake.Sent()) == 2 }, 2*time.Second, 5*time.Millisecond)
	sent := fake.Sent()
	assert.Equal(t, "buttons", sent[0].Op)
	assert.Equal(t, buttons, sent[0].Buttons)
	assert.Equal(t, "topic", sent[1].Op)
	assert.Equal(t, int64(-1001), sent[1].ChatID)
	assert.Equal(t, int64(7), sent[1].ThreadID)
}

func TestTicketButtons(t *testing.T) {
	rows := TicketButtons(42, "https://desk.example.com/")
	require.Len(t, rows, 2)
	assert.Equal(t, "https://desk.example.com/tickets/42", rows[0][0].URL)
	assert.Equal(t, "history_42", rows[1][0].Data)

	rows = TicketButtons(42, "")
	require.Len(t, rows, 1)
	assert.Equal(t, models.HistoryCallbackData(42), rows[0][0].Data)
}

func TestQueue_FailureDoesNotBlockNextJob(t *testing.T) {
	fake := transport.NewFake()
	fake.FailOn("photo", errors.New("file too big"))
	q := startQueue(t, fake, nil)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, Job{AccountID: 2, Text: "cap", Attachment: &AttachmentRef{Path: "a.jpg", Type: models.FileImage}}))
	require.NoError(t, q.Enqueue(ctx, Job{AccountID: 2, Text: "after"}))

	require.Eventually(t, func() bool { return len(fake.Sent()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "after", fake.Sent()[0].Text)

	dead := q.DeadLetters()
	require.Len(t, dead, 1)
	assert.Equal(t, "file too big", dead[0].Err)
	assert.Equal(t, "cap", dead[0].Job.Text)
}

func TestQueue_SendTimeout(t *testing.T) {
	fake := transport.NewFake()
	fake.Delay = time.Second
	q := startQueue(t, fake, nil, WithSendTimeout(20*time.Millisecond))

	require.NoError(t, q.Enqueue(context.Background(), Job{AccountID: 3, Text: "slow"}))
	require.Eventually(t, func() bool { return len(q.DeadLetters()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Contains(t, q.DeadLetters()[0].Err, "deadline exceeded")
}

func TestQueue_DeadLetterRingIsBounded(t *testing.T) {
	q := NewQueue(transport.NewFake(), nil, WithDeadLetterSize(2), WithLogger(log.New(io.Discard, "", 0)))
	for i := 1; i <= 3; i++ {
		q.fail(Job{AccountID: int64(i)}, "text", errors.New("boom"))
	}
	dead := q.DeadLetters()
	require.Len(t, dead, 2)
	assert.Equal(t, int64(2), dead[0].Job.AccountID)
	assert.Equal(t, int64(3), dead[1].Job.AccountID)
}

func TestQueue_EnqueueAfterStop(t *testing.T) {
	q := NewQueue(transport.NewFake(), nil, WithLogger(log.New(io.Discard, "", 0)))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		q.Run(ctx)
		close(done)
	}()
	cancel()
	<-done
	assert.ErrorIs(t, q.Enqueue(context.Background(), Job{Text: "late"}), ErrQueueClosed)
}

func TestCollector(t *testing.T) {
	var c Collector
	require.NoError(t, c.Enqueue(context.Background(), Job{AccountID: 1, Text: "a"}))
	require.NoError(t, c.Enqueue(context.Background(), Job{AccountID: 2, Text: "b"}))
	assert.Len(t, c.Jobs(), 2)
	assert.Equal(t, "b", c.For(2)[0].Text)
	c.Reset()
	assert.Empty(t, c.Jobs())
}
