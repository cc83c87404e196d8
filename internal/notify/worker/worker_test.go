package worker_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/Stiven-son/calniq-sub001/internal/notify/mailer"
	"github.com/Stiven-son/calniq-sub001/internal/notify/outbox"
	"github.com/Stiven-son/calniq-sub001/internal/notify/worker"
	"github.com/Stiven-son/calniq-sub001/internal/tenant/models"
	id "github.com/Stiven-son/calniq-sub001/pkg/domain"
)

// captureMailer records sent messages and can be told to fail for a recipient.
type captureMailer struct {
	mu     sync.Mutex
	sent   []*mailer.Message
	failTo string
}

func (m *captureMailer) Send(_ context.Context, msg *mailer.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failTo != "" && msg.To == m.failTo {
		return fmt.Errorf("provider rejected recipient")
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *captureMailer) sentTo() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sent))
	for _, msg := range m.sent {
		out = append(out, msg.To)
	}
	return out
}

type WorkerSuite struct {
	suite.Suite
	ctx    context.Context
	store  *outbox.InMemoryStore
	mailer *captureMailer
	now    time.Time
}

func TestWorkerSuite(t *testing.T) {
	suite.Run(t, new(WorkerSuite))
}

func (s *WorkerSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = outbox.NewMemory()
	s.mailer = &captureMailer{}
	s.now = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
}

func (s *WorkerSuite) newWorker(opts ...worker.Option) *worker.Worker {
	opts = append(opts, worker.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	return worker.New(s.store, s.mailer, opts...)
}

func (s *WorkerSuite) appendNotification(email string, createdAt time.Time) *outbox.Notification {
	tenant := &models.Tenant{
		ID:    id.TenantID(uuid.New()),
		Name:  "Acme Salon",
		Email: email,
	}
	n := outbox.NewEndingSoon(tenant, 2, createdAt)
	s.Require().NoError(s.store.Append(s.ctx, n))
	return n
}

func (s *WorkerSuite) waitForPending(want int64) {
	s.Require().Eventually(func() bool {
		count, err := s.store.CountPending(s.ctx)
		return err == nil && count == want
	}, 2*time.Second, 10*time.Millisecond)
}

func (s *WorkerSuite) TestDeliversPendingNotifications() {
	s.appendNotification("a@acme.test", s.now.Add(-2*time.Minute))
	s.appendNotification("b@acme.test", s.now.Add(-time.Minute))

	w := s.newWorker(worker.WithPollInterval(10 * time.Millisecond))
	w.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.NoError(w.Stop(stopCtx))
	}()

	s.waitForPending(0)
	s.ElementsMatch([]string{"a@acme.test", "b@acme.test"}, s.mailer.sentTo())
}

func (s *WorkerSuite) TestFailedDeliveryStaysPending() {
	s.appendNotification("ok@acme.test", s.now.Add(-2*time.Minute))
	s.appendNotification("bad@acme.test", s.now.Add(-time.Minute))
	s.mailer.failTo = "bad@acme.test"

	w := s.newWorker(worker.WithPollInterval(10 * time.Millisecond))
	w.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.NoError(w.Stop(stopCtx))
	}()

	// The good entry is delivered; the rejected one stays queued for retry.
	s.waitForPending(1)
	s.Equal([]string{"ok@acme.test"}, s.mailer.sentTo())

	pending, err := s.store.Pending(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(pending, 1)
	s.Equal("bad@acme.test", pending[0].Recipient)
}

func (s *WorkerSuite) TestTwoWorkersDeliverEachNotificationOnce() {
	recipients := []string{"a@acme.test", "b@acme.test", "c@acme.test", "d@acme.test", "e@acme.test"}
	for i, email := range recipients {
		s.appendNotification(email, s.now.Add(time.Duration(i)*time.Second))
	}

	// Two senders polling the same store, as when the API server and a cron
	// lifecycle invocation run side by side. Claiming gives each entry one
	// owner, so nobody is emailed twice.
	first := s.newWorker(worker.WithPollInterval(10 * time.Millisecond))
	second := s.newWorker(worker.WithPollInterval(10 * time.Millisecond))
	first.Start()
	second.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.NoError(first.Stop(stopCtx))
		s.NoError(second.Stop(stopCtx))
	}()

	s.waitForPending(0)
	s.ElementsMatch(recipients, s.mailer.sentTo())
}

func (s *WorkerSuite) TestDrainOnStop() {
	w := s.newWorker(worker.WithPollInterval(time.Hour))
	w.Start()

	// Appended after start: the hour-long interval never fires, so the only
	// delivery path is the shutdown drain.
	s.appendNotification("late@acme.test", s.now)

	stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Require().NoError(w.Stop(stopCtx))

	count, err := s.store.CountPending(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(0), count)
	s.Equal([]string{"late@acme.test"}, s.mailer.sentTo())
}

func (s *WorkerSuite) TestCleanup() {
	old := s.appendNotification("old@acme.test", s.now.Add(-96*time.Hour))
	s.Require().NoError(s.store.MarkSent(s.ctx, old.ID, s.now.Add(-95*time.Hour)))
	s.appendNotification("new@acme.test", s.now)

	w := s.newWorker()
	deleted, err := w.Cleanup(s.ctx, 72*time.Hour)
	s.Require().NoError(err)
	s.Equal(int64(1), deleted)

	count, err := s.store.CountPending(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(1), count)
}
