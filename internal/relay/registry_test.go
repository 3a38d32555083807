package relay_test

import (
	"fmt"
	"maps"
	"math/rand"
	"slices"
	"testing"

	"github.com/Tyrowin/chatrelay/internal/relay"
	"github.com/stretchr/testify/require"
)

func Test_Register_First_Connection_Brings_User_Online(t *testing.T) {
	req := require.New(t)
	registry := relay.NewRegistry()

	res := registry.Register("alice", "c1")

	req.True(res.CameOnline)
	req.True(res.PresenceChanged())
	req.True(registry.IsOnline("alice"))
	req.Equal([]relay.ConnID{"c1"}, registry.ConnectionsFor("alice"))
	req.Equal([]relay.UserID{"alice"}, slices.Collect(registry.OnlineUsers()))
}

func Test_Register_Is_Idempotent(t *testing.T) {
	req := require.New(t)
	registry := relay.NewRegistry()

	registry.Register("alice", "c1")
	res := registry.Register("alice", "c1")

	req.False(res.PresenceChanged())
	req.Equal([]relay.ConnID{"c1"}, registry.ConnectionsFor("alice"))
	req.Equal(1, registry.Len())
}

func Test_Register_Second_Connection_Keeps_Presence(t *testing.T) {
	req := require.New(t)
	registry := relay.NewRegistry()

	registry.Register("alice", "c1")
	res := registry.Register("alice", "c2")

	req.False(res.PresenceChanged())
	req.Equal([]relay.ConnID{"c1", "c2"}, registry.ConnectionsFor("alice"))
}

func Test_Register_Rebind_Last_Wins(t *testing.T) {
	req := require.New(t)
	registry := relay.NewRegistry()
	registry.Register("alice", "c1")

	res := registry.Register("bob", "c1")

	req.True(res.CameOnline)
	req.Equal(relay.UserID("alice"), res.Displaced)
	req.True(res.DisplacedOffline)
	req.False(registry.IsOnline("alice"))
	owner, ok := registry.UserOf("c1")
	req.True(ok)
	req.Equal(relay.UserID("bob"), owner)
}

func Test_Register_Rebind_Keeps_Displaced_User_With_Other_Connections(t *testing.T) {
	req := require.New(t)
	registry := relay.NewRegistry()
	registry.Register("alice", "c1")
	registry.Register("alice", "c2")
	registry.Register("bob", "c3")

	res := registry.Register("bob", "c1")

	req.False(res.CameOnline)
	req.False(res.DisplacedOffline)
	req.False(res.PresenceChanged())
	req.Equal([]relay.ConnID{"c2"}, registry.ConnectionsFor("alice"))
	req.Equal([]relay.ConnID{"c1", "c3"}, registry.ConnectionsFor("bob"))
}

func Test_Remove(t *testing.T) {
	req := require.New(t)
	registry := relay.NewRegistry()
	registry.Register("alice", "c1")
	registry.Register("alice", "c2")

	user, res := registry.Remove("unknown")
	req.Equal(relay.NotFound, res)
	req.Empty(user)

	user, res = registry.Remove("c1")
	req.Equal(relay.StillOnline, res)
	req.Equal(relay.UserID("alice"), user)
	req.True(registry.IsOnline("alice"))

	user, res = registry.Remove("c2")
	req.Equal(relay.WentOffline, res)
	req.Equal(relay.UserID("alice"), user)
	req.False(registry.IsOnline("alice"))
	req.Empty(registry.ConnectionsFor("alice"))
	req.Empty(slices.Collect(registry.OnlineUsers()))

	_, res = registry.Remove("c2")
	req.Equal(relay.NotFound, res)
}

func Test_OnlineUsers_Is_A_Snapshot(t *testing.T) {
	req := require.New(t)
	registry := relay.NewRegistry()
	registry.Register("bob", "c1")
	registry.Register("alice", "c2")

	users := registry.OnlineUsers()
	registry.Register("carol", "c3")
	registry.Remove("c1")

	req.Equal([]relay.UserID{"alice", "bob"}, slices.Collect(users))
}

func Test_Registry_Reset(t *testing.T) {
	req := require.New(t)
	registry := relay.NewRegistry()
	registry.Register("alice", "c1")

	registry.Reset()

	req.Zero(registry.Len())
	req.Empty(registry.Connections())
}

// The online set must equal the users owning at least one open connection
// after every join and disconnect, whatever the order of events.
func Test_OnlineUsers_Matches_Open_Connections(t *testing.T) {
	req := require.New(t)
	rnd := rand.New(rand.NewSource(42))
	registry := relay.NewRegistry()
	open := make(map[relay.ConnID]relay.UserID)
	users := []relay.UserID{"alice", "bob", "carol", "dave"}

	for step := 0; step < 2000; step++ {
		conn := relay.ConnID(fmt.Sprintf("c%d", rnd.Intn(12)))
		if rnd.Intn(2) == 0 {
			if _, joined := open[conn]; !joined {
				user := users[rnd.Intn(len(users))]
				registry.Register(user, conn)
				open[conn] = user
			}
		} else {
			registry.Remove(conn)
			delete(open, conn)
		}

		expected := make(map[relay.UserID]struct{})
		for _, user := range open {
			expected[user] = struct{}{}
		}
		req.ElementsMatch(slices.Collect(maps.Keys(expected)), slices.Collect(registry.OnlineUsers()), "step %d", step)
	}
}
