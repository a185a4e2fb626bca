package worker_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketops/repricer/internal/clock"
	"github.com/marketops/repricer/internal/domain"
	"github.com/marketops/repricer/internal/logger"
	"github.com/marketops/repricer/internal/reducer"
	"github.com/marketops/repricer/internal/syncer"
	"github.com/marketops/repricer/internal/worker"
)

type fakeCycle struct{}

func (fakeCycle) Run(_ context.Context, _ reducer.Options) (*reducer.Summary, error) {
	return &reducer.Summary{}, nil
}

type fakeSyncer struct{}

func (fakeSyncer) Sync(_ context.Context, _ *domain.Credential) (syncer.Result, error) {
	return syncer.Result{}, nil
}

type fakeCredentials struct{}

func (fakeCredentials) ListConnected(_ context.Context) ([]domain.Credential, error) {
	return []domain.Credential{{TenantID: uuid.New()}}, nil
}

type fakePurger struct{}

func (fakePurger) PurgeOlderThan(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

func newTestWorker(cfg worker.Config) *worker.Worker {
	return worker.New(fakeCycle{}, fakeSyncer{}, fakeCredentials{}, fakePurger{},
		nil, cfg, clock.NewSystem(), logger.NewNopLogger())
}

func TestWorker_StartStop(t *testing.T) {
	w := newTestWorker(worker.Config{
		ReductionCron: "0 3 * * *",
		SyncCron:      "30 */6 * * *",
		PurgeCron:     "15 4 * * *",
		RetentionDays: 180,
	})

	require.NoError(t, w.Start(context.Background()))
	// Idempotent second start
	require.NoError(t, w.Start(context.Background()))

	w.Stop()
	// Idempotent second stop
	w.Stop()
}

func TestWorker_StartRejectsBadCron(t *testing.T) {
	w := newTestWorker(worker.Config{
		ReductionCron: "not a cron expression",
		SyncCron:      "30 */6 * * *",
		PurgeCron:     "15 4 * * *",
	})

	assert.Error(t, w.Start(context.Background()))
}

func TestWorker_StartRejectsSixFieldCron(t *testing.T) {
	// Seconds-granularity expressions are not accepted; schedules are
	// standard five-field
	w := newTestWorker(worker.Config{
		ReductionCron: "0 0 3 * * *",
		SyncCron:      "30 */6 * * *",
		PurgeCron:     "15 4 * * *",
	})

	assert.Error(t, w.Start(context.Background()))
}
