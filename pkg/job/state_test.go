package job

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveAuthPrecedence(t *testing.T) {
	h, err := ResolveAuth(Credentials{ServiceAccount: "acct", ServicePass: "pass", Secret: "s", Token: "t", Bearer: "b"})
	require.NoError(t, err)
	assert.Contains(t, h.Value, "Basic")

	h2, err := ResolveAuth(Credentials{Secret: "s", Token: "t", Bearer: "b"})
	require.NoError(t, err)
	assert.Contains(t, h2.Value, "Basic")

	h3, err := ResolveAuth(Credentials{Bearer: "b"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer b", h3.Value)
}

func TestResolveAuthFailsWithoutProfileOnly(t *testing.T) {
	_, err := ResolveAuth(Credentials{})
	assert.Error(t, err)
}

func TestResolveAuthProfileOnlyAllowsEmpty(t *testing.T) {
	h, err := ResolveAuth(Credentials{ProfileOnly: true})
	require.NoError(t, err)
	assert.Equal(t, "", h.Value)
}

func TestResolveEndpointTable(t *testing.T) {
	info, err := ResolveEndpoint(RegionEU, RecordTypeUser, "")
	require.NoError(t, err)
	assert.Equal(t, "https://api-eu.mixpanel.com/engage", info.URL)
	assert.Equal(t, MethodPOST, info.Method)

	info2, err := ResolveEndpoint(RegionUS, RecordTypeTable, "tbl1")
	require.NoError(t, err)
	assert.Equal(t, "https://api.mixpanel.com/lookup-tables/tbl1", info2.URL)
	assert.Equal(t, MethodPUT, info2.Method)
	assert.Equal(t, ContentTypeCSV, info2.ContentType)

	_, err = ResolveEndpoint(RegionUS, RecordTypeTable, "")
	assert.Error(t, err)
}

func TestStateProcessedEqualsSumOfCounters(t *testing.T) {
	s := New("event", false)
	s.IncUnparsable()
	s.IncDuplicates()
	s.IncOutOfBounds()
	s.IncWhitelistSkipped()
	s.IncBlacklistSkipped()
	s.IncEmpty()
	s.RecordBatchOutcome(3, Response{Success: true})
	s.RecordBatchOutcome(2, Response{Success: false})

	snap := s.Snapshot()
	sum := snap.Success + snap.Failed + snap.Empty + snap.Duplicates +
		snap.OutOfBounds + snap.WhiteListSkip + snap.BlackListSkip + snap.Unparsable
	assert.Equal(t, snap.Processed, sum)
}

func TestProgressCallbackDropsWhenBusy(t *testing.T) {
	s := New("event", false)
	var calls int
	var mu sync.Mutex
	block := make(chan struct{})

	s.OnProgress(func(Snapshot) {
		mu.Lock()
		calls++
		mu.Unlock()
		<-block
	})

	s.Emit()
	s.Emit()
	close(block)
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestFinishComputesRates(t *testing.T) {
	s := New("event", true)
	s.RecordBatchOutcome(10, Response{Success: true})
	s.AddBytes(1024 * 1024)
	time.Sleep(5 * time.Millisecond)

	sum := s.Finish()
	assert.Greater(t, sum.DurationSeconds, 0.0)
	assert.Greater(t, sum.EventsPerSecond, 0.0)
	assert.NotNil(t, sum.AbridgedResponses)
}
