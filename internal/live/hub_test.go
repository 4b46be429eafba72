package live

import (
	"strconv"
	"sync"
	"testing"

	"github.com/ashureev/sagent/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubPublishToThreadSubscribers(t *testing.T) {
	hub := NewHub(4)
	a, unsubA := hub.Subscribe("t1")
	defer unsubA()
	b, unsubB := hub.Subscribe("t2")
	defer unsubB()

	hub.Publish(&domain.Message{ID: "m1", ThreadID: "t1", Content: "hi"})

	require.Len(t, a, 1)
	u := <-a
	assert.Equal(t, UpdateMessage, u.Type)
	assert.Equal(t, "m1", u.Message.ID)
	assert.Empty(t, b, "other threads see nothing")
}

func TestHubUnsubscribe(t *testing.T) {
	hub := NewHub(1)
	ch, unsub := hub.Subscribe("t1")
	assert.Equal(t, 1, hub.Subscribers("t1"))

	unsub()
	unsub()
	assert.Equal(t, 0, hub.Subscribers("t1"))

	_, open := <-ch
	assert.False(t, open)

	hub.Publish(&domain.Message{ID: "m1", ThreadID: "t1"})
	hub.Publish(nil)
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	hub := NewHub(1)
	ch, unsub := hub.Subscribe("t1")
	defer unsub()

	hub.Publish(&domain.Message{ID: "m1", ThreadID: "t1"})
	hub.Publish(&domain.Message{ID: "m2", ThreadID: "t1"})

	require.Len(t, ch, 1)
	assert.Equal(t, "m1", (<-ch).Message.ID)
}

func TestHubConcurrentAccess(t *testing.T) {
	hub := NewHub(8)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, unsub := hub.Subscribe("t1")
			unsub()
		}()
		go func() {
			defer wg.Done()
			hub.Publish(&domain.Message{ID: "m" + strconv.Itoa(i), ThreadID: "t1"})
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, hub.Subscribers("t1"))
}
