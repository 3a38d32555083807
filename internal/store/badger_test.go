package store

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_Badger_Concurrent_Registration_Of_Same_Email(t *testing.T) {
	req := require.New(t)
	s, err := OpenBadger(t.TempDir(), 0, nil)
	req.NoError(err)
	t.Cleanup(func() { _ = s.Close() })

	const attempts = 16
	errs := make(chan error, attempts)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := s.CreateUser(context.Background(), Account{Name: "Ada", Email: "ada@example.com"})
			errs <- err
		}()
	}
	close(start)
	wg.Wait()
	close(errs)

	created := 0
	for err := range errs {
		if err == nil {
			created++
			continue
		}
		req.ErrorIs(err, ErrUserExists)
	}
	req.Equal(1, created)

	users, err := s.ListUsers(context.Background())
	req.NoError(err)
	req.Len(users, 1)
}
