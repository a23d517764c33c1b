package verifier

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Agent-Arena/internal/tools"
)

func TestFollowerScenarioAchievesAtThirdPoll(t *testing.T) {
	readings := []int{10, 55, 130}
	var call int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/twitter/user/arena_bot", r.URL.Path)
		assert.Equal(t, "Bearer sk", r.Header.Get("Authorization"))
		n := readings[atomic.AddInt32(&call, 1)-1]
		fmt.Fprintf(w, `{"followers_count":%d}`, n)
	}))
	defer srv.Close()

	v, err := New(Config{GoalType: GoalFollowerCount, Target: 100, Handle: "@arena_bot", SocialAPIURL: srv.URL, SocialAPIKey: "sk"},
		WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	for i, want := range []bool{false, false, true} {
		v.Poll(context.Background())
		assert.Equal(t, want, v.GoalAchieved(), "poll %d", i+1)
	}
	assert.Equal(t, 130.0, v.Progress())
}

func TestFollowerFallsBackToScrapeAndRetainsOnFailure(t *testing.T) {
	var scrapeUp atomic.Bool
	scrapeUp.Store(true)
	mux := http.NewServeMux()
	mux.HandleFunc("/api/twitter/user/arena_bot", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	})
	mux.HandleFunc("/profile/arena_bot", func(w http.ResponseWriter, r *http.Request) {
		if !scrapeUp.Load() {
			http.Error(w, "down", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`<span>Followers</span><b>1,204</b>`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	v, err := New(Config{GoalType: GoalFollowerCount, Target: 5000, Handle: "arena_bot",
		SocialAPIURL: srv.URL + "/api", ScrapeBaseURL: srv.URL + "/profile"}, WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	assert.Equal(t, 1204.0, v.Poll(context.Background()))
	scrapeUp.Store(false)
	assert.Equal(t, 1204.0, v.Poll(context.Background()), "total failure keeps the previous value")
}

func TestAchievementLatchesWhenReadingRegresses(t *testing.T) {
	reader := &stubReader{values: []float64{120, 90}}
	v, err := New(Config{RunID: "r1", Target: 100}, WithProgressReader(reader))
	require.NoError(t, err)

	v.Poll(context.Background())
	require.True(t, v.GoalAchieved())
	v.Poll(context.Background())
	assert.Equal(t, 90.0, v.Progress())
	assert.True(t, v.GoalAchieved())
}

func TestGeneralWithoutReaderKeepsValue(t *testing.T) {
	v, err := New(Config{Target: 1})
	require.NoError(t, err)
	assert.Equal(t, 0.0, v.Poll(context.Background()))
	assert.Equal(t, GoalGeneral, v.Snapshot().GoalType)
}

func TestRevenueSumsSuccessfulTransactions(t *testing.T) {
	payments := &stubPayments{txs: []tools.Transaction{
		{Amount: decimal.RequireFromString("10.50"), Status: "SUCCESS"},
		{Amount: decimal.RequireFromString("4"), Status: "success"},
		{Amount: decimal.RequireFromString("99"), Status: "FAILED"},
	}}
	v, err := New(Config{GoalType: GoalRevenue, Target: 10}, WithPayments(payments))
	require.NoError(t, err)
	assert.Equal(t, 14.5, v.Poll(context.Background()))
	assert.True(t, v.GoalAchieved())

	payments.err = errors.New("api down")
	assert.Equal(t, 14.5, v.Poll(context.Background()))
}

func TestRevenueSumsCentsExactly(t *testing.T) {
	txs := make([]tools.Transaction, 10)
	for i := range txs {
		txs[i] = tools.Transaction{Amount: decimal.RequireFromString("0.1"), Status: "SUCCESS"}
	}
	v, err := New(Config{GoalType: GoalRevenue, Target: 1}, WithPayments(&stubPayments{txs: txs}))
	require.NoError(t, err)
	assert.Equal(t, 1.0, v.Poll(context.Background()), "ten dimes make exactly one dollar")
	assert.True(t, v.GoalAchieved())
}

func TestViewsAndEmails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<div class="meta">12,345 views · 3 days ago</div>`))
	}))
	defer srv.Close()
	v, err := New(Config{GoalType: GoalViews, Target: 10000, ContentURL: srv.URL + "/watch"}, WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	assert.Equal(t, 12345.0, v.Poll(context.Background()))

	m, err := New(Config{GoalType: GoalEmailsBooked, Target: 3}, WithMailer(stubMailer(2)))
	require.NoError(t, err)
	assert.Equal(t, 2.0, m.Poll(context.Background()))
	assert.False(t, m.GoalAchieved())
}

func TestTimeAccounting(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start
	v, err := New(Config{TimeLimit: time.Hour, StartTime: start}, WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	now = start.Add(45 * time.Minute)
	assert.False(t, v.TimeExpired())
	assert.Equal(t, 900.0, v.RemainingSeconds())

	now = start.Add(61 * time.Minute)
	assert.True(t, v.TimeExpired())
	assert.Equal(t, 0.0, v.RemainingSeconds())
}

func TestNewRejectsUnknownGoalType(t *testing.T) {
	_, err := New(Config{GoalType: "likes"})
	require.Error(t, err)
}

type stubReader struct {
	values []float64
	i      int
}

func (s *stubReader) Progress(context.Context, string) (float64, error) {
	v := s.values[s.i]
	if s.i < len(s.values)-1 {
		s.i++
	}
	return v, nil
}

type stubPayments struct {
	txs []tools.Transaction
	err error
}

func (s *stubPayments) Balance(context.Context) (decimal.Decimal, error) { return decimal.Zero, nil }

func (s *stubPayments) SendToAddress(context.Context, tools.AddressPayment) (tools.Result, error) {
	return nil, nil
}

func (s *stubPayments) SendToEmail(context.Context, tools.EmailPayment) (tools.Result, error) {
	return nil, nil
}

func (s *stubPayments) History(context.Context, int) ([]tools.Transaction, error) {
	return s.txs, s.err
}

type stubMailer int

func (s stubMailer) CheckInbox(context.Context) ([]tools.Message, error) { return nil, nil }

func (s stubMailer) Send(context.Context, tools.Email) (tools.Result, error) { return nil, nil }

func (s stubMailer) CountPositiveReplies(context.Context) (int, error) { return int(s), nil }
