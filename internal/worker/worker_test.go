package worker

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/relops-hardware-controller/internal/domain"
	"github.com/cuongbtq/relops-hardware-controller/internal/inventory"
	"github.com/cuongbtq/relops-hardware-controller/internal/reboot"
	"github.com/cuongbtq/relops-hardware-controller/shared/logger"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	testJobID  = "6f1c2a52-3b7e-4f7e-9d0a-2f5b8c1e4a10"
	testTaskID = "0c4d3f1e-9a8b-4c7d-8e6f-5a4b3c2d1e0f"
	testHost   = "t-linux64-ms-042.test.releng.mdc1.mozilla.com"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Claim(ctx context.Context, jobID string) (*domain.Job, error) {
	args := m.Called(ctx, jobID)
	job, _ := args.Get(0).(*domain.Job)
	return job, args.Error(1)
}

func (m *mockStore) Complete(ctx context.Context, jobID string, status domain.JobStatus, detail domain.ResultDetail) error {
	return m.Called(ctx, jobID, status, detail).Error(0)
}

func (m *mockStore) Touch(ctx context.Context, jobID string) error {
	return m.Called(ctx, jobID).Error(0)
}

type runnerFunc func(ctx context.Context, job domain.Job, m domain.Machine) (reboot.Outcome, error)

func (f runnerFunc) Run(ctx context.Context, job domain.Job, m domain.Machine) (reboot.Outcome, error) {
	return f(ctx, job, m)
}

// acker records how each delivery was settled
type acker struct {
	mu    sync.Mutex
	acked []uint64
	nacks map[uint64]bool
}

func newAcker() *acker {
	return &acker{nacks: make(map[uint64]bool)}
}

func (a *acker) Ack(tag uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acked = append(a.acked, tag)
	return nil
}

func (a *acker) Nack(tag uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacks[tag] = requeue
	return nil
}

func (a *acker) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func (a *acker) settled() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.acked) + len(a.nacks)
}

type chanConsumer struct {
	deliveries chan amqp.Delivery
	tag        string
	prefetch   int
}

func (c *chanConsumer) Consume(consumerTag string, prefetchCount int) (<-chan amqp.Delivery, error) {
	c.tag = consumerTag
	c.prefetch = prefetchCount
	return c.deliveries, nil
}

func runningJob() *domain.Job {
	return &domain.Job{
		ID:        testJobID,
		TaskName:  reboot.TaskReboot,
		MachineID: 22,
		TaskID:    testTaskID,
		Status:    domain.JobStatusRunning,
	}
}

func taskBody(t *testing.T) []byte {
	t.Helper()
	body, err := json.Marshal(domain.TaskMessage{
		JobID:    testJobID,
		TaskID:   testTaskID,
		TaskName: reboot.TaskReboot,
		Worker:   domain.Worker{ID: 11, TCWorkerID: "ms-042"},
		Machine:  domain.Machine{ID: 22, Host: testHost},
	})
	require.NoError(t, err)
	return body
}

func testInventory() *inventory.Inventory {
	return inventory.New(map[string]domain.Addressing{
		testHost: {IPMI: &domain.IPMIRecord{User: "admin", Password: "secret"}},
	})
}

func newTestWorker(store JobStore, engine Runner, hard time.Duration) *Worker {
	return NewWorker(&Config{
		Logger:            logger.NewDiscard(),
		Store:             store,
		Engine:            engine,
		Inventory:         testInventory(),
		WorkerID:          "worker-test",
		Concurrency:       1,
		HardTimeLimit:     hard,
		HeartbeatInterval: time.Hour,
	})
}

func TestDecodeTaskMessage(t *testing.T) {
	valid, err := json.Marshal(domain.TaskMessage{JobID: testJobID, Machine: domain.Machine{Host: testHost}})
	require.NoError(t, err)

	tests := []struct {
		name    string
		body    []byte
		wantErr bool
	}{
		{name: "valid", body: valid},
		{name: "not json", body: []byte("{"), wantErr: true},
		{name: "job id not a uuid", body: []byte(`{"job_id":"42","machine":{"host":"h"}}`), wantErr: true},
		{name: "missing machine host", body: []byte(`{"job_id":"` + testJobID + `"}`), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := decodeTaskMessage(tt.body)
			if tt.wantErr {
				require.ErrorIs(t, err, domain.ErrInvalidMessage)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, testJobID, msg.JobID)
			assert.Equal(t, testHost, msg.Machine.Host)
		})
	}
}

func TestProcessJob_Succeeded(t *testing.T) {
	store := new(mockStore)
	store.On("Claim", mock.Anything, testJobID).Return(runningJob(), nil)
	store.On("Complete", mock.Anything, testJobID, domain.JobStatusSucceeded, mock.MatchedBy(func(d domain.ResultDetail) bool {
		return d.Driver == "ipmi"
	})).Return(nil)

	var got domain.Machine
	engine := runnerFunc(func(ctx context.Context, job domain.Job, m domain.Machine) (reboot.Outcome, error) {
		got = m
		return reboot.Outcome{
			Status: domain.JobStatusSucceeded,
			Detail: domain.ResultDetail{Summary: "rebooted using ipmi", Driver: "ipmi"},
		}, nil
	})

	w := newTestWorker(store, engine, time.Minute)
	msg, err := decodeTaskMessage(taskBody(t))
	require.NoError(t, err)

	err = w.processJob(context.Background(), &task{msg: msg})

	require.NoError(t, err)
	require.NotNil(t, got.Addressing.IPMI)
	assert.Equal(t, "admin", got.Addressing.IPMI.User)
	assert.Nil(t, got.Addressing.SSH)
	store.AssertExpectations(t)
}

func TestProcessJob_ClaimFailures(t *testing.T) {
	tests := []struct {
		name        string
		claimErr    error
		redelivered bool
		wantRequeue bool
	}{
		{name: "job removed after failed submit", claimErr: domain.ErrJobNotFound, wantRequeue: false},
		{name: "job removed, redelivered", claimErr: domain.ErrJobNotFound, redelivered: true, wantRequeue: false},
		{name: "already claimed, redelivered", claimErr: domain.ErrJobAlreadyClaimed, redelivered: true, wantRequeue: false},
		{name: "already claimed", claimErr: domain.ErrJobAlreadyClaimed, wantRequeue: false},
		{name: "database unavailable", claimErr: errors.New("connection refused"), wantRequeue: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := new(mockStore)
			store.On("Claim", mock.Anything, testJobID).Return(nil, tt.claimErr)

			engine := runnerFunc(func(context.Context, domain.Job, domain.Machine) (reboot.Outcome, error) {
				t.Fatal("engine must not run without a claim")
				return reboot.Outcome{}, nil
			})

			w := newTestWorker(store, engine, time.Minute)
			msg, err := decodeTaskMessage(taskBody(t))
			require.NoError(t, err)

			err = w.processJob(context.Background(), &task{
				msg:      msg,
				delivery: amqp.Delivery{Redelivered: tt.redelivered},
			})

			require.Error(t, err)
			assert.Equal(t, tt.wantRequeue, shouldRequeueJob(err))
			store.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestProcessJob_HardTimeLimit(t *testing.T) {
	attempts := []domain.Attempt{{Driver: "ssh", Outcome: domain.OutcomeTimedOut}}

	store := new(mockStore)
	store.On("Claim", mock.Anything, testJobID).Return(runningJob(), nil)
	store.On("Complete", mock.Anything, testJobID, domain.JobStatusFailed, mock.MatchedBy(func(d domain.ResultDetail) bool {
		return assert.ObjectsAreEqual(attempts, d.Attempts) &&
			d.Driver == "" &&
			strings.Contains(d.Summary, "hard time limit")
	})).Return(nil)

	engine := runnerFunc(func(ctx context.Context, _ domain.Job, _ domain.Machine) (reboot.Outcome, error) {
		<-ctx.Done()
		return reboot.Outcome{
			Status: domain.JobStatusRunning,
			Detail: domain.ResultDetail{Attempts: attempts},
		}, context.Cause(ctx)
	})

	w := newTestWorker(store, engine, 20*time.Millisecond)
	msg, err := decodeTaskMessage(taskBody(t))
	require.NoError(t, err)

	err = w.processJob(context.Background(), &task{msg: msg})

	require.NoError(t, err)
	store.AssertExpectations(t)
}

func TestProcessJob_ShutdownLeavesJobRunning(t *testing.T) {
	store := new(mockStore)
	store.On("Claim", mock.Anything, testJobID).Return(runningJob(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	engine := runnerFunc(func(ctx context.Context, _ domain.Job, _ domain.Machine) (reboot.Outcome, error) {
		cancel()
		<-ctx.Done()
		return reboot.Outcome{Status: domain.JobStatusRunning}, context.Cause(ctx)
	})

	w := newTestWorker(store, engine, time.Minute)
	msg, err := decodeTaskMessage(taskBody(t))
	require.NoError(t, err)

	err = w.processJob(ctx, &task{msg: msg})

	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, shouldRequeueJob(err))
	store.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessJob_CompleteFails(t *testing.T) {
	store := new(mockStore)
	store.On("Claim", mock.Anything, testJobID).Return(runningJob(), nil)
	store.On("Complete", mock.Anything, testJobID, domain.JobStatusFailed, mock.Anything).
		Return(domain.ErrInvalidTransition)

	engine := runnerFunc(func(context.Context, domain.Job, domain.Machine) (reboot.Outcome, error) {
		return reboot.Outcome{Status: domain.JobStatusFailed}, nil
	})

	w := newTestWorker(store, engine, time.Minute)
	msg, err := decodeTaskMessage(taskBody(t))
	require.NoError(t, err)

	err = w.processJob(context.Background(), &task{msg: msg})

	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.False(t, shouldRequeueJob(err))
}

func TestSendJobHeartbeat(t *testing.T) {
	store := new(mockStore)
	touched := make(chan struct{}, 1)
	store.On("Touch", mock.Anything, testJobID).Return(nil).Run(func(mock.Arguments) {
		select {
		case touched <- struct{}{}:
		default:
		}
	})

	w := newTestWorker(store, nil, time.Minute)
	w.heartbeatInterval = 5 * time.Millisecond

	done := make(chan struct{})
	go w.sendJobHeartbeat(context.Background(), testJobID, done)

	select {
	case <-touched:
	case <-time.After(time.Second):
		t.Fatal("heartbeat never touched the job")
	}
	close(done)
}

func TestWorker_Start(t *testing.T) {
	store := new(mockStore)
	store.On("Claim", mock.Anything, testJobID).Return(runningJob(), nil)
	store.On("Complete", mock.Anything, testJobID, domain.JobStatusSucceeded, mock.Anything).Return(nil)

	engine := runnerFunc(func(context.Context, domain.Job, domain.Machine) (reboot.Outcome, error) {
		return reboot.Outcome{Status: domain.JobStatusSucceeded}, nil
	})

	consumer := &chanConsumer{deliveries: make(chan amqp.Delivery, 2)}
	ack := newAcker()

	w := NewWorker(&Config{
		Logger:            logger.NewDiscard(),
		Store:             store,
		Consumer:          consumer,
		Engine:            engine,
		Inventory:         testInventory(),
		WorkerID:          "worker-test",
		Concurrency:       2,
		HeartbeatInterval: time.Hour,
	})

	consumer.deliveries <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: []byte("not json")}
	consumer.deliveries <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 2, Body: taskBody(t)}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- w.Start(ctx) }()

	require.Eventually(t, func() bool { return ack.settled() == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-errCh)

	assert.Equal(t, "worker-test", consumer.tag)
	assert.Equal(t, 2, consumer.prefetch)

	ack.mu.Lock()
	defer ack.mu.Unlock()
	assert.Equal(t, []uint64{2}, ack.acked)
	requeue, nacked := ack.nacks[1]
	assert.True(t, nacked)
	assert.False(t, requeue)
	store.AssertExpectations(t)
}

func TestWorker_StartDeliveriesClosed(t *testing.T) {
	consumer := &chanConsumer{deliveries: make(chan amqp.Delivery)}
	close(consumer.deliveries)

	w := newTestWorker(new(mockStore), nil, time.Minute)
	w.consumer = consumer

	err := w.Start(context.Background())

	require.ErrorIs(t, err, ErrDeliveriesClosed)
}
