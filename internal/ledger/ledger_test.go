package ledger

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/danmuck/groupwire/internal/protocol"
	"github.com/danmuck/groupwire/internal/testutil/testlog"
)

func TestLedgerLifecycle(t *testing.T) {
	testlog.Start(t)
	l := New()
	req := NewRequest(1, "login")
	if err := l.Add(req); err != nil {
		t.Fatalf("add: %v", err)
	}
	req.Release()
	if req.Refs() != 1 {
		t.Fatalf("ledger should hold the only reference, refs=%d", req.Refs())
	}
	if got := l.Find(1); got != req {
		t.Fatalf("find returned %v", got)
	}
	if !l.Remove(req) {
		t.Fatalf("expected remove to succeed")
	}
	if l.Find(1) != nil || l.Len() != 0 {
		t.Fatalf("expected empty ledger")
	}
	if req.Refs() != 0 {
		t.Fatalf("unexpected refs=%d", req.Refs())
	}
	if l.Remove(req) {
		t.Fatalf("second remove should report false")
	}
}

func TestLedgerRejectsDuplicateID(t *testing.T) {
	testlog.Start(t)
	l := New()
	require.NoError(t, l.Add(NewRequest(4, "getdetails")))
	err := l.Add(NewRequest(4, "getdetails"))
	require.ErrorIs(t, err, ErrDuplicateID)
	require.ErrorIs(t, err, protocol.ErrBadParameter)
	require.False(t, protocol.IsDisconnect(err))
	require.Equal(t, 1, l.Len())
}

func TestLedgerDrainSkipsCallbacks(t *testing.T) {
	testlog.Start(t)
	l := New()
	fired := 0
	for i := 1; i <= 3; i++ {
		req := NewRequest(i, "setstatus")
		req.Callback = func(protocol.Code, any, any) { fired++ }
		require.NoError(t, l.Add(req))
		req.Release()
	}
	drained := l.Drain()
	require.Len(t, drained, 3)
	require.Zero(t, fired)
	require.Zero(t, l.Len())
	for _, req := range drained {
		require.Zero(t, req.Refs())
	}
}

// Models the session's use: ids come from a monotonic counter, responses
// arrive in any order, and a request is findable exactly while pending.
func TestLedgerFindMatchesPendingSet(t *testing.T) {
	testlog.Start(t)
	l := New()
	rng := rand.New(rand.NewSource(7))
	pending := map[int]*Request{}
	next := 0
	for step := 0; step < 500; step++ {
		if len(pending) == 0 || rng.Intn(3) > 0 {
			next++
			req := NewRequest(next, "getstatus")
			require.NoError(t, l.Add(req))
			req.Release()
			pending[next] = req
		} else {
			for id, req := range pending {
				require.True(t, l.Remove(req))
				delete(pending, id)
				break
			}
		}
		for id := 0; id <= next+1; id++ {
			_, want := pending[id]
			got := l.Find(id) != nil
			if got != want {
				t.Fatalf("step=%d id=%d: find=%v pending=%v", step, id, got, want)
			}
		}
	}
	require.Equal(t, len(pending), len(l.Snapshot()))
}

func TestCompleteInvokesCallback(t *testing.T) {
	testlog.Start(t)
	req := NewRequest(9, "getdetails")
	req.Data = "record"
	req.UserData = "ctx"
	var got []any
	req.Callback = func(code protocol.Code, data, userData any) {
		got = append(got, code, data, userData)
	}
	req.Complete(protocol.ErrUserNotFound)
	require.Equal(t, []any{protocol.ErrUserNotFound, "record", "ctx"}, got)
	require.Equal(t, protocol.ErrUserNotFound, req.Code)
}
