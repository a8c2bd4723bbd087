package enrichment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	v1 "github.com/crimelens-lab/crimelens/internal/api/v1"
	"github.com/crimelens-lab/crimelens/internal/core/catalog"
	"github.com/crimelens-lab/crimelens/internal/provider"

	"github.com/stretchr/testify/require"
)

// stubFetcher scripts per-offense responses and records call order.
type stubFetcher struct {
	mu      sync.Mutex
	calls   []string
	respond func(offense string, callNo int) (*provider.FetchResponse, error)
}

func (f *stubFetcher) FetchCrimes(ctx context.Context, scopeKey string, req provider.FetchRequest) (*provider.FetchResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req.Offenses[0])
	n := len(f.calls)
	f.mu.Unlock()
	return f.respond(req.Offenses[0], n)
}

func (f *stubFetcher) callOrder() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func countResponse(count int) *provider.FetchResponse {
	data := make([]provider.CrimeRecord, count)
	for i := range data {
		data[i] = provider.CrimeRecord{Year: 2020 + i%5, Count: 1}
	}
	return &provider.FetchResponse{RecordCount: count, Data: data}
}

// eventRecorder captures lifecycle events for assertions.
type eventRecorder struct {
	mu     sync.Mutex
	events []StatusEvent
}

func (r *eventRecorder) Broadcast(e StatusEvent) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *eventRecorder) phases() []Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Phase, len(r.events))
	for i, e := range r.events {
		out[i] = e.Phase
	}
	return out
}

func newTestSequencer(f *stubFetcher, opts SequencerOptions) *Sequencer {
	if opts.Delay == 0 {
		opts.Delay = time.Millisecond
	}
	return NewSequencer(f, catalog.Default(), opts)
}

func newTestJob(scopeKey string) *Job {
	reg := NewRegistry()
	job, _, err := reg.Start(context.Background(), scopeKey)
	if err != nil {
		panic(err)
	}
	return job
}

func TestSequencer_FullCatalogInOrder(t *testing.T) {
	fetcher := &stubFetcher{
		respond: func(offense string, _ int) (*provider.FetchResponse, error) {
			return countResponse(2), nil
		},
	}
	seq := newTestSequencer(fetcher, SequencerOptions{})
	job := newTestJob("CA0194200")

	var progress []v1.ProgressEvent
	result, err := seq.Run(context.Background(), job, v1.EnrichmentRequest{ScopeKey: "CA0194200"}, func(e v1.ProgressEvent) {
		progress = append(progress, e)
	})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, 32, result.TotalRecords)
	require.Equal(t, "acquired 32 records", result.Message)
	require.Equal(t, StateCompleted, job.State())

	// Every offense fetched exactly once, in catalog order.
	require.Equal(t, catalog.Default().Codes(), fetcher.callOrder())

	// Running totals accumulate across progress events.
	require.Len(t, progress, 16)
	require.Equal(t, "Homicide", progress[0].Label)
	require.Equal(t, 2, progress[0].Count)
	require.Equal(t, 2, progress[0].Cumulative)
	require.Equal(t, 32, progress[len(progress)-1].Cumulative)
}

func TestSequencer_SubsetKeepsCatalogOrder(t *testing.T) {
	fetcher := &stubFetcher{
		respond: func(offense string, _ int) (*provider.FetchResponse, error) {
			if offense == "HOM" {
				return countResponse(10), nil
			}
			return countResponse(5), nil
		},
	}
	seq := newTestSequencer(fetcher, SequencerOptions{})
	job := newTestJob("CA0194200")

	var progress []v1.ProgressEvent
	req := v1.EnrichmentRequest{
		ScopeKey: "CA0194200",
		// Requested out of order; acquisition still follows the catalog.
		Offenses: []string{"ROB", "HOM"},
	}
	result, err := seq.Run(context.Background(), job, req, func(e v1.ProgressEvent) {
		progress = append(progress, e)
	})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, 15, result.TotalRecords)

	require.Equal(t, []string{"HOM", "ROB"}, fetcher.callOrder())
	require.Len(t, progress, 2)
	require.Equal(t, v1.ProgressEvent{Label: "Homicide", Count: 10, Cumulative: 10}, progress[0])
	require.Equal(t, v1.ProgressEvent{Label: "Robbery", Count: 5, Cumulative: 15}, progress[1])
}

func TestSequencer_ErrorBudgetExhausted(t *testing.T) {
	fetcher := &stubFetcher{
		respond: func(string, int) (*provider.FetchResponse, error) {
			return nil, fmt.Errorf("upstream 500")
		},
	}
	rec := &eventRecorder{}
	seq := newTestSequencer(fetcher, SequencerOptions{Broadcaster: rec})
	job := newTestJob("CA0194200")

	result, err := seq.Run(context.Background(), job, v1.EnrichmentRequest{ScopeKey: "CA0194200"}, nil)
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Zero(t, result.TotalRecords)
	require.Equal(t, "error budget exhausted before any data was acquired", result.Message)

	// The third failure spends the budget; no further categories are tried.
	require.Len(t, fetcher.callOrder(), 3)
	require.Equal(t, 3, job.Errors())
	require.Equal(t, []Phase{PhaseWarning, PhaseWarning, PhaseWarning, PhaseError}, rec.phases())
}

func TestSequencer_PartialBeforeBudgetExhausted(t *testing.T) {
	fetcher := &stubFetcher{
		respond: func(offense string, _ int) (*provider.FetchResponse, error) {
			switch offense {
			case "HOM", "RPE":
				return countResponse(4), nil
			default:
				return nil, fmt.Errorf("upstream 500")
			}
		},
	}
	seq := newTestSequencer(fetcher, SequencerOptions{})
	job := newTestJob("CA0194200")

	result, err := seq.Run(context.Background(), job, v1.EnrichmentRequest{ScopeKey: "CA0194200"}, nil)
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, 8, result.TotalRecords)
	require.Equal(t, "partial: 8 records before error budget exhausted", result.Message)

	// HOM, RPE succeed; ROB, ASS, 100 spend the budget.
	require.Equal(t, []string{"HOM", "RPE", "ROB", "ASS", "100"}, fetcher.callOrder())
}

func TestSequencer_CancellationReturnsPartialResult(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fetcher := &stubFetcher{
		respond: func(_ string, callNo int) (*provider.FetchResponse, error) {
			if callNo == 2 {
				cancel()
			}
			return countResponse(3), nil
		},
	}
	seq := newTestSequencer(fetcher, SequencerOptions{})
	job := newTestJob("CA0194200")

	result, err := seq.Run(ctx, job, v1.EnrichmentRequest{ScopeKey: "CA0194200"}, nil)
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, result)
	require.False(t, result.Success)
	require.Equal(t, 6, result.TotalRecords)
	require.Equal(t, "cancelled with 6 records acquired", result.Message)
	require.Equal(t, StateCancelled, job.State())

	// Cancellation lands at the next iteration boundary.
	require.Len(t, fetcher.callOrder(), 2)
}

func TestSequencer_CancellationDuringDelayStopsNextRequest(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	firstDone := make(chan struct{})
	fetcher := &stubFetcher{
		respond: func(_ string, callNo int) (*provider.FetchResponse, error) {
			if callNo == 1 {
				close(firstDone)
			}
			return countResponse(4), nil
		},
	}
	// Delay long enough that the cancel below lands inside it.
	seq := newTestSequencer(fetcher, SequencerOptions{Delay: 200 * time.Millisecond})
	job := newTestJob("CA0194200")

	go func() {
		<-firstDone
		cancel()
	}()

	result, err := seq.Run(ctx, job, v1.EnrichmentRequest{ScopeKey: "CA0194200"}, nil)
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, result)
	require.False(t, result.Success)
	require.Equal(t, 4, result.TotalRecords)
	require.Equal(t, "cancelled with 4 records acquired", result.Message)
	require.Equal(t, StateCancelled, job.State())

	// The delay before the second request aborts; no further request goes out.
	require.Equal(t, []string{"HOM"}, fetcher.callOrder())
}

func TestSequencer_NoDataIsSuccess(t *testing.T) {
	fetcher := &stubFetcher{
		respond: func(string, int) (*provider.FetchResponse, error) {
			return &provider.FetchResponse{}, nil
		},
	}
	rec := &eventRecorder{}
	seq := newTestSequencer(fetcher, SequencerOptions{Broadcaster: rec})
	job := newTestJob("CA0194200")

	var progress []v1.ProgressEvent
	result, err := seq.Run(context.Background(), job, v1.EnrichmentRequest{ScopeKey: "CA0194200"}, func(e v1.ProgressEvent) {
		progress = append(progress, e)
	})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Zero(t, result.TotalRecords)
	require.Equal(t, "no data found", result.Message)

	// Zero-count categories emit neither progress nor lifecycle noise,
	// and nothing reaches the saving phase.
	require.Empty(t, progress)
	require.Empty(t, rec.phases())
}

func TestSequencer_InvalidRequestBeforeNetwork(t *testing.T) {
	fetcher := &stubFetcher{
		respond: func(string, int) (*provider.FetchResponse, error) {
			t.Fatal("no fetch expected for an invalid request")
			return nil, nil
		},
	}
	seq := newTestSequencer(fetcher, SequencerOptions{})
	job := newTestJob("CA0194200")

	cases := []v1.EnrichmentRequest{
		{ScopeKey: ""},
		{ScopeKey: "CA0194200", Offenses: []string{"NOPE"}},
		{ScopeKey: "CA0194200", Years: []int{-1}},
	}
	for _, req := range cases {
		_, err := seq.Run(context.Background(), job, req, nil)
		require.ErrorIs(t, err, ErrInvalidRequest)
	}
	require.Empty(t, fetcher.callOrder())
}

type recordingSink struct {
	mu    sync.Mutex
	saved []v1.Record
	err   error
}

func (s *recordingSink) SaveRecords(ctx context.Context, records []v1.Record) error {
	s.mu.Lock()
	s.saved = append(s.saved, records...)
	s.mu.Unlock()
	return s.err
}

func (s *recordingSink) SeriesFor(ctx context.Context, scopeKey, offense string) (map[int]int, error) {
	return nil, errors.New("not implemented")
}

func TestSequencer_SavesThroughSink(t *testing.T) {
	fetcher := &stubFetcher{
		respond: func(string, int) (*provider.FetchResponse, error) {
			return countResponse(1), nil
		},
	}
	sink := &recordingSink{}
	rec := &eventRecorder{}
	seq := newTestSequencer(fetcher, SequencerOptions{Sink: sink, Broadcaster: rec})
	job := newTestJob("CA0194200")

	req := v1.EnrichmentRequest{ScopeKey: "CA0194200", Offenses: []string{"HOM"}}
	result, err := seq.Run(context.Background(), job, req, nil)
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Len(t, sink.saved, 1)
	require.Equal(t, "CA0194200", sink.saved[0].ScopeKey)
	require.Equal(t, "HOM", sink.saved[0].Offense)
	require.Contains(t, rec.phases(), PhaseSaving)
}

func TestSequencer_SinkFailureDegradesToWarning(t *testing.T) {
	fetcher := &stubFetcher{
		respond: func(string, int) (*provider.FetchResponse, error) {
			return countResponse(1), nil
		},
	}
	sink := &recordingSink{err: errors.New("db down")}
	rec := &eventRecorder{}
	seq := newTestSequencer(fetcher, SequencerOptions{Sink: sink, Broadcaster: rec})
	job := newTestJob("CA0194200")

	req := v1.EnrichmentRequest{ScopeKey: "CA0194200", Offenses: []string{"HOM"}}
	result, err := seq.Run(context.Background(), job, req, nil)
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, "acquired 1 records", result.Message)
	require.Contains(t, rec.phases(), PhaseWarning)
}
