package relay_test

import (
	"strings"
	"testing"

	"github.com/Tyrowin/chatrelay/internal/relay"
	"github.com/stretchr/testify/require"
)

func Test_UserID_Validate(t *testing.T) {
	req := require.New(t)

	req.NoError(relay.UserID("alice").Validate())
	req.NoError(relay.UserID("用户").Validate())
	req.NoError(relay.UserID(strings.Repeat("a", relay.MaxUserIDLength)).Validate())

	for _, bad := range []relay.UserID{"", relay.UserID(strings.Repeat("a", relay.MaxUserIDLength+1)), "\xff\xfe"} {
		req.ErrorIs(bad.Validate(), relay.ErrInvalidUserID, "user %q", bad)
	}
}
