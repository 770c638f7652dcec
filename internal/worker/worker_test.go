package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/apkfetch/internal/downloader"
	"github.com/JakeFAU/apkfetch/internal/jobs"
)

func TestWorker_ProcessJob_SuccessFlow(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue := &fakeQueue{items: []jobs.QueueItem{{JobID: "job-success", Package: "com.example.app"}}}
	jobStore := newFakeJobStore()
	dl := &fakeDownloader{results: map[string]downloader.Result{
		"com.example.app": {Success: true, Filename: "com.example.app.apk", Size: 10},
	}}

	w := New(queue, jobStore, dl, nil, zap.NewNop())
	go w.Run(ctx)

	require.Eventually(t, func() bool {
		return jobStore.lastStatus() == jobs.StatusSucceeded
	}, time.Second, 10*time.Millisecond)

	require.Equal(t, []string{"job-success"}, jobStore.startedIDs())
	result := jobStore.lastResult()
	require.NotNil(t, result)
	require.Equal(t, "com.example.app.apk", result.Filename)
	cancel()
}

func TestWorker_ProcessJob_FailureResultMarksJobFailed(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue := &fakeQueue{items: []jobs.QueueItem{{JobID: "job-missing", Package: "com.example.missing"}}}
	jobStore := newFakeJobStore()
	dl := &fakeDownloader{results: map[string]downloader.Result{
		"com.example.missing": {Error: downloader.ReasonAppNotFound, Kind: downloader.KindNotFound},
	}}

	w := New(queue, jobStore, dl, nil, zap.NewNop())
	go w.Run(ctx)

	require.Eventually(t, func() bool {
		return jobStore.lastStatus() == jobs.StatusFailed
	}, time.Second, 10*time.Millisecond)

	require.Equal(t, downloader.KindNotFound, jobStore.lastResult().Kind)
	cancel()
}

func TestWorker_StartFailureSkipsDownload(t *testing.T) {
	t.Parallel()

	jobStore := newFakeJobStore()
	jobStore.startErr = fmt.Errorf("start: %w", jobs.ErrJobNotFound)
	dl := &fakeDownloader{}

	w := New(nil, jobStore, dl, nil, zap.NewNop())
	w.processJob(context.Background(), jobs.QueueItem{JobID: "ghost", Package: "com.x"})

	require.Zero(t, dl.calls.Load())
	require.Empty(t, jobStore.lastStatus())
}

func TestWorker_SharedFlightCollapsesDuplicatePackages(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	dl := &fakeDownloader{
		block: release,
		results: map[string]downloader.Result{
			"com.example.app": {Success: true, Filename: "com.example.app.apk"},
		},
	}
	jobStore := newFakeJobStore()
	flight := &singleflight.Group{}
	w1 := New(nil, jobStore, dl, flight, nil)
	w2 := New(nil, jobStore, dl, flight, nil)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		w1.processJob(context.Background(), jobs.QueueItem{JobID: "a", Package: "com.example.app"})
	}()
	require.Eventually(t, func() bool { return dl.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	go func() {
		defer wg.Done()
		w2.processJob(context.Background(), jobs.QueueItem{JobID: "b", Package: "com.example.app"})
	}()
	require.Eventually(t, func() bool { return len(jobStore.startedIDs()) == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond) // let the second worker join the flight
	close(release)
	wg.Wait()

	require.Equal(t, int32(1), dl.calls.Load())
	require.Equal(t, 2, jobStore.finishedCount())
}

type closedQueue struct {
	mu    sync.Mutex
	calls int
}

func (q *closedQueue) Enqueue(context.Context, jobs.QueueItem) error {
	return jobs.ErrQueueClosed
}

func (q *closedQueue) Dequeue(context.Context) (jobs.QueueItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls++
	return jobs.QueueItem{}, fmt.Errorf("dequeue: %w", jobs.ErrQueueClosed)
}

func TestWorker_RunReturnsWhenQueueClosed(t *testing.T) {
	t.Parallel()

	queue := &closedQueue{}
	w := New(queue, newFakeJobStore(), &fakeDownloader{}, nil, zap.NewNop())

	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker kept polling a closed queue")
	}
	queue.mu.Lock()
	defer queue.mu.Unlock()
	require.Equal(t, 1, queue.calls)
}

func TestDeriveFinalStatus(t *testing.T) {
	t.Parallel()

	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	require.Equal(t, jobs.StatusSucceeded, deriveFinalStatus(context.Background(), downloader.Result{Success: true}))
	require.Equal(t, jobs.StatusFailed, deriveFinalStatus(context.Background(), downloader.Result{Error: "x"}))
	require.Equal(t, jobs.StatusCanceled, deriveFinalStatus(canceled, downloader.Result{Error: "x"}))
}

// --- fakes ---

type fakeQueue struct {
	mu    sync.Mutex
	items []jobs.QueueItem
}

func (q *fakeQueue) Enqueue(_ context.Context, item jobs.QueueItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
	return nil
}

func (q *fakeQueue) Dequeue(ctx context.Context) (jobs.QueueItem, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return item, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return jobs.QueueItem{}, fmt.Errorf("queue dequeue context done: %w", ctx.Err())
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}

type finishRecord struct {
	jobID  string
	status jobs.Status
	result *downloader.Result
}

type fakeJobStore struct {
	mu       sync.Mutex
	started  []string
	finished []finishRecord
	startErr error
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{}
}

func (f *fakeJobStore) CreateJob(context.Context, jobs.Job) error {
	return nil
}

func (f *fakeJobStore) StartJob(_ context.Context, jobID string) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, jobID)
	return nil
}

func (f *fakeJobStore) FinishJob(_ context.Context, jobID string, status jobs.Status, result *downloader.Result) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished = append(f.finished, finishRecord{jobID: jobID, status: status, result: result})
	return nil
}

func (f *fakeJobStore) GetJob(context.Context, string) (jobs.Job, error) {
	return jobs.Job{}, nil
}

func (f *fakeJobStore) startedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.started...)
}

func (f *fakeJobStore) finishedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.finished)
}

func (f *fakeJobStore) lastStatus() jobs.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.finished) == 0 {
		return ""
	}
	return f.finished[len(f.finished)-1].status
}

func (f *fakeJobStore) lastResult() *downloader.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.finished) == 0 {
		return nil
	}
	return f.finished[len(f.finished)-1].result
}

type fakeDownloader struct {
	results map[string]downloader.Result
	block   chan struct{}
	calls   atomic.Int32
}

func (d *fakeDownloader) Download(_ context.Context, pkg string) downloader.Result {
	d.calls.Add(1)
	if d.block != nil {
		<-d.block
	}
	if res, ok := d.results[pkg]; ok {
		return res
	}
	return downloader.Result{Error: downloader.ReasonAppNotFound, Kind: downloader.KindNotFound}
}
