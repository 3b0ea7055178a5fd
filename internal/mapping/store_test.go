package mapping

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStore_ResolveUser_FallsBackToDefault(t *testing.T) {
	s := New()
	s.DefaultUser = 1
	s.Users[5] = 42

	require.Equal(t, 42, s.ResolveUser(5))
	require.Equal(t, 1, s.ResolveUser(999))
}

func TestStore_AttachmentsMap_ConcurrentWrites(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.SetAttachment(string(rune('a'+i%26)), Attachment{Hash: "h"})
		}(i)
	}
	wg.Wait()
	require.Greater(t, s.AttachmentCount(), 0)
}

func TestStore_SuitesFor_LazyInit(t *testing.T) {
	s := New()
	m := s.SuitesFor("DEMO")
	m[1] = 100
	require.Equal(t, 100, s.SuitesFor("DEMO")[1])
}
