package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"gorm.io/gorm"

	"github.com/yungbote/sitegen-backend/internal/data/repos"
	"github.com/yungbote/sitegen-backend/internal/data/repos/testutil"
	"github.com/yungbote/sitegen-backend/internal/platform/sendgrid"
	"github.com/yungbote/sitegen-backend/internal/queue"
)

type fakeMailer struct {
	mu   sync.Mutex
	sent []sendgrid.Message
	err  error
}

func (m *fakeMailer) Send(ctx context.Context, msg sendgrid.Message) (*sendgrid.SendResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.sent = append(m.sent, msg)
	return &sendgrid.SendResult{StatusCode: 202}, nil
}

type fakeProducer struct {
	mu       sync.Mutex
	messages []queue.Message
	err      error
}

func (p *fakeProducer) Enqueue(ctx context.Context, m queue.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.messages = append(p.messages, m)
	return nil
}

var errBoom = errors.New("boom")

type fixture struct {
	db       *gorm.DB
	repos    repos.Repos
	ops      OperationService
	producer *fakeProducer
	mailer   *fakeMailer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gdb := testutil.DB(t)
	log := testutil.Logger(t)
	r := repos.New(gdb, log)
	producer := &fakeProducer{}
	return &fixture{
		db:       gdb,
		repos:    r,
		ops:      NewOperationService(gdb, log, r, producer, 0, 0),
		producer: producer,
		mailer:   &fakeMailer{},
	}
}
