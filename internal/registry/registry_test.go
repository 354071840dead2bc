package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Prescott-Data/nexus-framework/nexus-realtime/protocol"
)

func names(reqs []Request) []string {
	var out []string
	for _, r := range reqs {
		out = append(out, r.Name)
	}
	return out
}

func TestRegistry_ChangesBeforeConnect(t *testing.T) {
	r := New()

	assert.False(t, r.Subscribe("sport-session.1", nil))
	assert.False(t, r.Subscribe("sport-session.2", nil))
	assert.False(t, r.Subscribe("sport-session.1", nil))
	assert.False(t, r.Unsubscribe("sport-session.2"))
	assert.False(t, r.Subscribe("sport-session.3", nil))
	assert.False(t, r.Unsubscribe("sport-session.3"))
	assert.False(t, r.Subscribe("sport-session.3", nil))

	reqs := r.Connected()
	assert.Equal(t, []string{"sport-session.1", "sport-session.3"}, names(reqs))
}

func TestRegistry_SubscribeWhileConnected(t *testing.T) {
	r := New()
	r.Connected()

	require.True(t, r.Subscribe("a", nil))
	r.MarkPending("a")
	assert.False(t, r.Subscribe("a", nil), "subscribe must be idempotent while pending")

	known, unsub := r.Succeeded("a", nil)
	assert.True(t, known)
	assert.False(t, unsub)
	assert.True(t, r.IsActive("a"))
	assert.False(t, r.Subscribe("a", nil), "subscribe must be idempotent while active")
}

func TestRegistry_ActiveOnlyWhileConnected(t *testing.T) {
	r := New()
	r.Subscribe("a", nil)
	r.Connected()
	r.MarkPending("a")
	r.Succeeded("a", nil)
	require.True(t, r.IsActive("a"))

	r.Disconnected()
	assert.False(t, r.IsActive("a"))

	known, _ := r.Succeeded("a", nil)
	assert.False(t, known, "confirmations while disconnected are ignored")

	reqs := r.Connected()
	assert.Equal(t, []string{"a"}, names(reqs))
	assert.False(t, r.IsActive("a"), "active resets until the relay confirms again")
}

func TestRegistry_UnsubscribeActive(t *testing.T) {
	r := New()
	r.Connected()
	r.Subscribe("a", nil)
	r.MarkPending("a")
	r.Succeeded("a", nil)

	assert.True(t, r.Unsubscribe("a"))
	assert.False(t, r.IsActive("a"))
	_, ok := r.Get("a")
	assert.False(t, ok)
	assert.Empty(t, r.Channels())
}

func TestRegistry_UnsubscribeWhilePendingIsReplayed(t *testing.T) {
	r := New()
	r.Connected()
	r.Subscribe("a", nil)
	r.MarkPending("a")

	assert.False(t, r.Unsubscribe("a"), "no frame while the subscribe is in flight")

	known, unsub := r.Succeeded("a", nil)
	assert.True(t, known)
	assert.True(t, unsub, "buffered unsubscribe is replayed on confirmation")
	assert.False(t, r.IsActive("a"))
	_, ok := r.Get("a")
	assert.False(t, ok)
}

func TestRegistry_ResubscribeWhilePendingUnsubscribe(t *testing.T) {
	r := New()
	r.Connected()
	r.Subscribe("a", nil)
	r.MarkPending("a")
	r.Unsubscribe("a")

	assert.False(t, r.Subscribe("a", nil))
	known, unsub := r.Succeeded("a", nil)
	assert.True(t, known)
	assert.False(t, unsub)
	assert.True(t, r.IsActive("a"))
}

func TestRegistry_FailedIsNotRetried(t *testing.T) {
	r := New()
	r.Connected()
	r.Subscribe("sport-session.X", nil)
	r.MarkPending("sport-session.X")

	assert.True(t, r.Failed("sport-session.X"))
	s, ok := r.Get("sport-session.X")
	require.True(t, ok)
	assert.Equal(t, PhaseFailed, s.Phase)
	assert.True(t, s.Desired)
	assert.False(t, r.IsActive("sport-session.X"))

	// Only an explicit subscribe starts it again.
	assert.True(t, r.Subscribe("sport-session.X", nil))
}

func TestRegistry_FailedAfterUnsubscribeIsSilent(t *testing.T) {
	r := New()
	r.Connected()
	r.Subscribe("a", nil)
	r.MarkPending("a")
	r.Unsubscribe("a")

	assert.False(t, r.Failed("a"))
	assert.False(t, r.Failed("unknown"))
}

func TestRegistry_AuthorizeAttempts(t *testing.T) {
	auth := protocol.AuthorizerFunc(func(context.Context, string, string) (protocol.ChannelAuth, error) {
		return protocol.ChannelAuth{}, nil
	})
	r := New()
	r.Connected()
	require.True(t, r.Subscribe("private-a", auth))

	first := r.BeginAuthorize("private-a")
	assert.True(t, r.Authorized("private-a", first))

	// Unsubscribe and subscribe again: the first result is stale.
	r.Unsubscribe("private-a")
	assert.False(t, r.Authorized("private-a", first))
	require.True(t, r.Subscribe("private-a", auth))
	second := r.BeginAuthorize("private-a")
	assert.NotEqual(t, first, second)
	assert.False(t, r.Authorized("private-a", first))
	assert.False(t, r.AuthorizeFailed("private-a", first))

	assert.True(t, r.AuthorizeFailed("private-a", second))
	s, _ := r.Get("private-a")
	assert.Equal(t, PhaseFailed, s.Phase)
	assert.NotNil(t, s.Authorizer)
}

func TestRegistry_AuthorizeStaleAfterDisconnect(t *testing.T) {
	r := New()
	r.Connected()
	r.Subscribe("private-a", nil)
	attempt := r.BeginAuthorize("private-a")

	r.Disconnected()
	assert.False(t, r.Authorized("private-a", attempt))
}

func TestRegistry_Members(t *testing.T) {
	r := New()
	r.Connected()
	r.Subscribe("presence-a", nil)
	r.MarkPending("presence-a")

	assert.False(t, r.AddMember("presence-a", protocol.Member{ID: "u0"}), "inactive channel ignores members")

	r.Succeeded("presence-a", []protocol.Member{{ID: "u1"}, {ID: "u2"}})
	assert.True(t, r.AddMember("presence-a", protocol.Member{ID: "u3"}))
	assert.True(t, r.AddMember("presence-a", protocol.Member{ID: "u1"}))
	assert.True(t, r.RemoveMember("presence-a", "u2"))
	assert.False(t, r.RemoveMember("presence-a", "u9"))

	var ids []string
	for _, m := range r.Members("presence-a") {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"u1", "u3"}, ids)

	r.Disconnected()
	assert.Nil(t, r.Members("presence-a"))
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "pending", PhasePending.String())
	assert.Equal(t, "unknown", Phase(42).String())
}
