// Package outbound delivers bot messages to end users from a single FIFO
// consumer, so that request handlers never wait on the chat network.
package outbound

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/gotrs-io/tg-helpdesk/internal/models"
	"github.com/gotrs-io/tg-helpdesk/internal/transport"
)

// RatingPrompt is the canonical close notice. A job carrying this text and
// a ticket id is sent with rating buttons.
const RatingPrompt = "Your request has been closed. You can rate the support team below."

const (
	DefaultBufferSize     = 1024
	DefaultSendTimeout    = 30 * time.Second
	DefaultDeadLetterSize = 100
)

// ErrQueueClosed is returned by Enqueue once the consumer has stopped.
var ErrQueueClosed = errors.New("outbound queue closed")

var (
	jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "helpdesk_outbound_jobs_total",
		Help: "Outbound delivery jobs by kind and outcome",
	}, []string{"kind", "outcome"})
	sendDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "helpdesk_outbound_send_duration_seconds",
		Help:    "Transport call latency for outbound jobs",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})
	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "helpdesk_outbound_queue_depth",
		Help: "Jobs waiting for the outbound consumer",
	})
)

// AttachmentRef points at a stored file to send.
type AttachmentRef struct {
	Path string
	Type models.FileType
}

// Job is one unit of outbound work.
type Job struct {
	// AccountID is the destination chat. For topic notices it is the
	// group chat id.
	AccountID  int64
	Text       string
	Attachment *AttachmentRef
	// Buttons is an inline keyboard for a new text message.
	Buttons [][]transport.Button
	// ThreadID sends the text into a forum topic of AccountID.
	ThreadID int64
	// MessageID is the local message row that receives the transport id
	// after a successful new send.
	MessageID *int64
	// ExternalMessageID turns the job into an edit (or a delete) of an
	// already delivered message.
	ExternalMessageID *int64
	TicketID          *int64
	// HasAttachment tells an edit whether the original was a caption.
	HasAttachment bool
	Delete        bool
}

// Kind names the transport operation the job maps to.
func (j Job) Kind() string {
	switch {
	case j.ExternalMessageID != nil && j.Delete:
		return "delete"
	case j.ExternalMessageID != nil && j.HasAttachment:
		return "edit_caption"
	case j.ExternalMessageID != nil:
		return "edit_text"
	case j.Attachment != nil && j.Attachment.Type == models.FileImage:
		return "photo"
	case j.Attachment != nil:
		return "document"
	case j.Text == RatingPrompt && j.TicketID != nil:
		return "rating_prompt"
	case j.ThreadID != 0:
		return "topic"
	case len(j.Buttons) > 0:
		return "buttons"
	default:
		return "text"
	}
}

// DeadLetter is a job whose delivery failed.
type DeadLetter struct {
	Job      Job
	Err      string
	FailedAt time.Time
}

// ExternalIDRecorder persists the transport id of a delivered message.
type ExternalIDRecorder interface {
	SetExternalMessageID(ctx context.Context, id int64, externalID int64) error
}

// Enqueuer is what producers depend on.
type Enqueuer interface {
	Enqueue(ctx context.Context, job Job) error
}

// Queue is the FIFO outbound queue and its single consumer.
type Queue struct {
	jobs     chan Job
	tr       transport.Transport
	recorder ExternalIDRecorder
	timeout  time.Duration
	logger   *log.Logger

	mu       sync.Mutex
	dead     []DeadLetter
	deadCap  int
	stopped  chan struct{}
	stopOnce sync.Once
	bufSize  int
}

var _ Enqueuer = (*Queue)(nil)

// Option configures a Queue.
type Option func(*Queue)

func WithLogger(l *log.Logger) Option {
	return func(q *Queue) {
		if l != nil {
			q.logger = l
		}
	}
}

// WithSendTimeout bounds every transport call.
func WithSendTimeout(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

func WithBufferSize(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.bufSize = n
		}
	}
}

func WithDeadLetterSize(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.deadCap = n
		}
	}
}

// NewQueue creates a queue. recorder may be nil when ids need not be kept.
func NewQueue(tr transport.Transport, recorder ExternalIDRecorder, opts ...Option) *Queue {
	q := &Queue{
		tr:       tr,
		recorder: recorder,
		timeout:  DefaultSendTimeout,
		logger:   log.New(os.Stdout, "[OUTBOUND] ", log.LstdFlags),
		deadCap:  DefaultDeadLetterSize,
		bufSize:  DefaultBufferSize,
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.jobs = make(chan Job, q.bufSize)
	return q
}

// Enqueue appends a job, waiting for room when the buffer is full.
func (q *Queue) Enqueue(ctx context.Context, job Job) error {
	select {
	case <-q.stopped:
		return ErrQueueClosed
	default:
	}
	select {
	case q.jobs <- job:
		queueDepth.Inc()
		return nil
	case <-q.stopped:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending returns the number of queued jobs.
func (q *Queue) Pending() int { return len(q.jobs) }

// Run consumes jobs until ctx is done. Jobs still buffered at shutdown
// are abandoned.
func (q *Queue) Run(ctx context.Context) {
	defer q.stopOnce.Do(func() { close(q.stopped) })
	q.logger.Println("outbound consumer started")
	for {
		select {
		case <-ctx.Done():
			q.logger.Printf("outbound consumer stopped, %d jobs abandoned", len(q.jobs))
			return
		case job := <-q.jobs:
			queueDepth.Dec()
			q.process(ctx, job)
		}
	}
}

func (q *Queue) process(ctx context.Context, job Job) {
	kind := job.Kind()
	defer func() {
		if r := recover(); r != nil {
			q.fail(job, kind, fmt.Errorf("panic: %v", r))
		}
	}()

	sendCtx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()

	start := time.Now()
	externalID, err := q.dispatch(sendCtx, job, kind)
	sendDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	if err != nil {
		q.fail(job, kind, err)
		return
	}
	jobsTotal.WithLabelValues(kind, "sent").Inc()

	if externalID != 0 && job.MessageID != nil && q.recorder != nil {
		if err := q.recorder.SetExternalMessageID(ctx, *job.MessageID, externalID); err != nil {
			q.logger.Printf("message %d: store transport id %d: %v", *job.MessageID, externalID, err)
		}
	}
}

// dispatch returns the transport id for new sends and 0 for edits.
func (q *Queue) dispatch(ctx context.Context, job Job, kind string) (int64, error) {
	switch kind {
	case "delete":
		return 0, q.tr.DeleteMessage(ctx, job.AccountID, *job.ExternalMessageID)
	case "edit_caption":
		return 0, q.tr.EditCaption(ctx, job.AccountID, *job.ExternalMessageID, job.Text)
	case "edit_text":
		return 0, q.tr.EditText(ctx, job.AccountID, *job.ExternalMessageID, job.Text)
	case "photo":
		return q.tr.SendPhoto(ctx, job.AccountID, job.Attachment.Path, job.Text)
	case "document":
		return q.tr.SendDocument(ctx, job.AccountID, job.Attachment.Path, job.Text)
	case "rating_prompt":
		return q.tr.SendTextWithButtons(ctx, job.AccountID, job.Text, RatingButtons(*job.TicketID))
	case "topic":
		return q.tr.SendTopicText(ctx, job.AccountID, job.ThreadID, job.Text, job.Buttons)
	case "buttons":
		return q.tr.SendTextWithButtons(ctx, job.AccountID, job.Text, job.Buttons)
	default:
		return q.tr.SendText(ctx, job.AccountID, job.Text)
	}
}

func (q *Queue) fail(job Job, kind string, err error) {
	jobsTotal.WithLabelValues(kind, "failed").Inc()
	q.logger.Printf("%s to %d failed: %v", kind, job.AccountID, err)

	q.mu.Lock()
	defer q.mu.Unlock()
	q.dead = append(q.dead, DeadLetter{Job: job, Err: err.Error(), FailedAt: time.Now()})
	if over := len(q.dead) - q.deadCap; over > 0 {
		q.dead = append(q.dead[:0:0], q.dead[over:]...)
	}
}

// DeadLetters returns the most recent failed jobs, oldest first.
func (q *Queue) DeadLetters() []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]DeadLetter, len(q.dead))
	copy(out, q.dead)
	return out
}

// TicketButtons is the keyboard on staff notifications about a ticket: a
// link to the console page when consoleURL is set, and a button that
// sends the transcript into the chat.
func TicketButtons(ticketID int64, consoleURL string) [][]transport.Button {
	var rows [][]transport.Button
	if consoleURL != "" {
		rows = append(rows, []transport.Button{{Text: "Open ticket", URL: TicketURL(consoleURL, ticketID)}})
	}
	return append(rows, []transport.Button{{Text: "Send history here", Data: models.HistoryCallbackData(ticketID)}})
}

// TicketURL is the console page of a ticket.
func TicketURL(consoleURL string, ticketID int64) string {
	return strings.TrimRight(consoleURL, "/") + "/tickets/" + strconv.FormatInt(ticketID, 10)
}

// RatingButtons is the inline keyboard attached to RatingPrompt.
func RatingButtons(ticketID int64) [][]transport.Button {
	return [][]transport.Button{{
		{Text: "👍", Data: models.RatingCallbackData(ticketID, models.RatingUp)},
		{Text: "👎", Data: models.RatingCallbackData(ticketID, models.RatingDown)},
	}}
}
