package relay_test

import (
	"testing"

	"github.com/Tyrowin/chatrelay/internal/relay"
	"github.com/stretchr/testify/require"
)

var trickyUsers = []relay.UserID{
	"", "a", "b", "ab", "ba", "abc", "a:b", "1:a", "2:ab", "dm:", "dm:1:ab",
	"alice", "alice:", ":alice", "bob", "élodie", "用户", "a\x00b",
}

func Test_Key_Is_Symmetric(t *testing.T) {
	req := require.New(t)
	for _, a := range trickyUsers {
		for _, b := range trickyUsers {
			req.Equal(relay.Key(a, b), relay.Key(b, a), "a=%q b=%q", a, b)
		}
	}
}

func Test_Key_Distinguishes_Every_Pair(t *testing.T) {
	req := require.New(t)
	seen := make(map[relay.RoomKey][2]relay.UserID)

	for i, a := range trickyUsers {
		for _, b := range trickyUsers[i:] {
			key := relay.Key(a, b)
			if other, ok := seen[key]; ok {
				req.Failf("collision", "%q/%q and %q/%q share %q", a, b, other[0], other[1], key)
			}
			seen[key] = [2]relay.UserID{a, b}
		}
	}
}

func Test_Key_Concatenation_Boundary(t *testing.T) {
	req := require.New(t)
	req.NotEqual(relay.Key("a", "bc"), relay.Key("ab", "c"))
	req.NotEqual(relay.Key("alice", "bob"), relay.Key("alice", "bobby"))
}

func Test_Router_Join_And_Members(t *testing.T) {
	req := require.New(t)
	router := relay.NewRouter()
	key := relay.Key("alice", "bob")

	req.True(router.Join("c1", key))
	req.True(router.Join("c3", key))
	req.False(router.Join("c1", key))

	req.Equal([]relay.ConnID{"c1", "c3"}, router.MembersOf(key))
	req.Empty(router.MembersOf(relay.Key("alice", "carol")))
	req.Equal(1, router.Len())
}

func Test_Router_Connection_In_Several_Rooms(t *testing.T) {
	req := require.New(t)
	router := relay.NewRouter()
	withBob := relay.Key("alice", "bob")
	withCarol := relay.Key("alice", "carol")

	router.Join("c1", withBob)
	router.Join("c1", withCarol)
	router.Join("c2", withCarol)

	req.ElementsMatch([]relay.RoomKey{withBob, withCarol}, router.RoomsOf("c1"))

	left := router.RemoveConn("c1")

	req.ElementsMatch([]relay.RoomKey{withBob, withCarol}, left)
	req.Empty(router.MembersOf(withBob))
	req.Equal([]relay.ConnID{"c2"}, router.MembersOf(withCarol))
	req.Empty(router.RoomsOf("c1"))
	req.Equal(1, router.Len(), "empty rooms are dropped")
}

func Test_Router_Remove_Unknown_Connection(t *testing.T) {
	req := require.New(t)
	router := relay.NewRouter()

	req.Nil(router.RemoveConn("ghost"))
	req.Zero(router.Len())
}
