package notification

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	notificationdomain "github.com/LoohanZinho/enemaccess/internal/notification/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type emailStub struct {
	mu       sync.Mutex
	sent     []sentEmail
	failFor  string
	failWith error
}

type sentEmail struct {
	to      string
	subject string
	body    string
}

func (e *emailStub) Send(ctx context.Context, to []string, subject, body string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failFor != "" && len(to) > 0 && to[0] == e.failFor {
		return e.failWith
	}
	e.sent = append(e.sent, sentEmail{to: to[0], subject: subject, body: body})
	return nil
}

func (e *emailStub) Sent() []sentEmail {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]sentEmail(nil), e.sent...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestDispatcherDeliversIssuedKey(t *testing.T) {
	stub := &emailStub{}
	d := NewDispatcher(Params{Log: zap.NewNop(), Email: stub})
	d.Start()
	defer d.Stop()

	d.Enqueue(notificationdomain.Intent{
		Kind:       notificationdomain.IntentKindKeyIssued,
		OwnerEmail: "aluno@example.com",
		OwnerName:  "Aluno Teste",
		Token:      "01ARZ3NDEKTSV4RRFFQ69G5FAV",
		ExpiresAt:  time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC),
	})

	waitFor(t, func() bool { return len(stub.Sent()) == 1 })

	msg := stub.Sent()[0]
	assert.Equal(t, "aluno@example.com", msg.to)
	assert.Equal(t, "Sua chave de acesso chegou", msg.subject)
	assert.Contains(t, msg.body, "01ARZ3NDEKTSV4RRFFQ69G5FAV")
	assert.Contains(t, msg.body, "31/03/2026")
}

func TestDispatcherDeliversRenewal(t *testing.T) {
	stub := &emailStub{}
	d := NewDispatcher(Params{Log: zap.NewNop(), Email: stub})
	d.Start()
	defer d.Stop()

	d.Enqueue(notificationdomain.Intent{
		Kind:       notificationdomain.IntentKindKeyRenewed,
		OwnerEmail: "aluno@example.com",
		OwnerName:  "Aluno Teste",
		Token:      "01ARZ3NDEKTSV4RRFFQ69G5FAV",
		ExpiresAt:  time.Date(2026, 4, 30, 12, 0, 0, 0, time.UTC),
	})

	waitFor(t, func() bool { return len(stub.Sent()) == 1 })
	assert.Equal(t, "Sua assinatura foi renovada", stub.Sent()[0].subject)
}

func TestDispatcherIsolatesFailures(t *testing.T) {
	stub := &emailStub{failFor: "broken@example.com", failWith: errors.New("smtp refused")}
	d := NewDispatcher(Params{Log: zap.NewNop(), Email: stub})
	d.Start()
	defer d.Stop()

	d.Enqueue(notificationdomain.Intent{
		Kind:       notificationdomain.IntentKindKeyIssued,
		OwnerEmail: "broken@example.com",
		OwnerName:  "A",
		Token:      "T1",
	})
	d.Enqueue(notificationdomain.Intent{
		Kind:       notificationdomain.IntentKindKeyIssued,
		OwnerEmail: "fine@example.com",
		OwnerName:  "B",
		Token:      "T2",
	})

	// The failed delivery must not wedge the worker.
	waitFor(t, func() bool { return len(stub.Sent()) == 1 })
	require.Equal(t, "fine@example.com", stub.Sent()[0].to)
}

func TestEnqueueNeverBlocks(t *testing.T) {
	stub := &emailStub{}
	// Worker not started; the queue fills and overflow is dropped.
	d := NewDispatcher(Params{Log: zap.NewNop(), Email: stub})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < defaultQueueSize*2; i++ {
			d.Enqueue(notificationdomain.Intent{
				Kind:       notificationdomain.IntentKindKeyIssued,
				OwnerEmail: "aluno@example.com",
				Token:      strings.Repeat("A", 26),
			})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("enqueue blocked on a full queue")
	}
}
