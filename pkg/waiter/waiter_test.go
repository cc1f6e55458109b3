package waiter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/fareloom/fareloom/pkg/intercept"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeResponses struct {
	mu   sync.Mutex
	subs []chan *intercept.Response
}

func (f *fakeResponses) Subscribe() (<-chan *intercept.Response, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan *intercept.Response, 16)
	f.subs = append(f.subs, ch)
	return ch, func() {}
}

func (f *fakeResponses) emit(r *intercept.Response) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		select {
		case ch <- r:
		default:
		}
	}
}

type fakeHTML struct {
	mu   sync.Mutex
	body string
}

func (f *fakeHTML) set(s string) {
	f.mu.Lock()
	f.body = s
	f.mu.Unlock()
}

func (f *fakeHTML) HTML(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.body, nil
}

func TestWaitURLConditionFires(t *testing.T) {
	resps := &fakeResponses{}
	w := New(resps, nil, nil)

	go func() {
		time.Sleep(50 * time.Millisecond)
		resps.emit(&intercept.Response{URL: "https://x.test/api/search?q=1", Status: 200})
	}()

	m, err := w.Wait(context.Background(), 2*time.Second, []Condition{{
		Name: "results", Kind: KindURL, Pattern: "*/api/search*", RequiredStatus: 200,
	}})
	require.NoError(t, err)
	require.NotNil(t, m.Response)
	assert.Equal(t, "results", m.Condition.Name)
	assert.Equal(t, 200, m.Response.Status)
}

func TestWaitStatusMismatchFailsFast(t *testing.T) {
	resps := &fakeResponses{}
	w := New(resps, nil, nil)

	go func() {
		time.Sleep(50 * time.Millisecond)
		resps.emit(&intercept.Response{
			URL: "https://x.test/api/search?q=1", Status: 500, Body: []byte("boom"),
		})
	}()

	start := time.Now()
	_, err := w.Wait(context.Background(), 10*time.Second, []Condition{{
		Name: "results", Kind: KindURL, Pattern: "*/api/search*",
		RequiredStatus: 200, FailOnStatusMismatch: true,
	}})
	elapsed := time.Since(start)

	var mismatch *StatusMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, 500, mismatch.Response.Status)
	assert.Equal(t, []byte("boom"), mismatch.Response.Body)
	assert.Less(t, elapsed, 2*time.Second, "mismatch must abort well before the timeout")
}

func TestWaitStatusMismatchIgnoredWithoutFlag(t *testing.T) {
	resps := &fakeResponses{}
	w := New(resps, nil, nil)

	go func() {
		time.Sleep(30 * time.Millisecond)
		resps.emit(&intercept.Response{URL: "https://x.test/api/search", Status: 500})
		time.Sleep(30 * time.Millisecond)
		resps.emit(&intercept.Response{URL: "https://x.test/api/search", Status: 200})
	}()

	m, err := w.Wait(context.Background(), 2*time.Second, []Condition{{
		Name: "results", Kind: KindURL, Pattern: "*/api/search*", RequiredStatus: 200,
	}})
	require.NoError(t, err)
	assert.Equal(t, 200, m.Response.Status)
}

func TestWaitHTMLConditionFires(t *testing.T) {
	html := &fakeHTML{}
	w := New(nil, html, nil)
	w.pollInterval = 10 * time.Millisecond

	go func() {
		time.Sleep(30 * time.Millisecond)
		html.set(`<div class="fare-row">SFO-NRT</div>`)
	}()

	m, err := w.Wait(context.Background(), 2*time.Second, []Condition{{
		Name: "rows", Kind: KindHTML, Contains: "fare-row",
	}})
	require.NoError(t, err)
	assert.Equal(t, "rows", m.Condition.Name)
	assert.Contains(t, m.HTML, "fare-row")
}

func TestWaitRaceFirstWins(t *testing.T) {
	resps := &fakeResponses{}
	html := &fakeHTML{}
	html.set("<div>no results yet</div>")
	w := New(resps, html, nil)
	w.pollInterval = 10 * time.Millisecond

	go func() {
		time.Sleep(30 * time.Millisecond)
		resps.emit(&intercept.Response{URL: "https://x.test/api/search", Status: 200})
	}()

	m, err := w.Wait(context.Background(), 2*time.Second, []Condition{
		{Name: "api", Kind: KindURL, Pattern: "*/api/search*", RequiredStatus: 200},
		{Name: "empty", Kind: KindHTML, Contains: "never-present"},
	})
	require.NoError(t, err)
	assert.Equal(t, "api", m.Condition.Name)
}

func TestWaitTimeout(t *testing.T) {
	resps := &fakeResponses{}
	w := New(resps, nil, nil)

	_, err := w.Wait(context.Background(), 60*time.Millisecond, []Condition{{
		Name: "never", Kind: KindURL, Pattern: "*/nope*",
	}})

	var timeout *TimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Contains(t, timeout.Error(), "never")
}

func TestWaitCallerCancel(t *testing.T) {
	resps := &fakeResponses{}
	w := New(resps, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	_, err := w.Wait(ctx, 10*time.Second, []Condition{{
		Name: "never", Kind: KindURL, Pattern: "*/nope*",
	}})
	require.True(t, errors.Is(err, context.Canceled))
}

func TestWaitValidation(t *testing.T) {
	w := New(&fakeResponses{}, &fakeHTML{}, nil)

	_, err := w.Wait(context.Background(), time.Second, nil)
	assert.Error(t, err)

	_, err = w.Wait(context.Background(), time.Second, []Condition{{Name: "bad", Kind: KindURL}})
	assert.Error(t, err)

	_, err = w.Wait(context.Background(), time.Second, []Condition{{Name: "bad", Kind: KindHTML}})
	assert.Error(t, err)
}
