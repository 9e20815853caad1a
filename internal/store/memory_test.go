package store

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(name, status string, value float64) SourceRecord {
	return SourceRecord{
		Name:      name,
		Endpoint:  "http://gw.local/api/rates",
		Path:      "total_mqtt_communication.rate",
		Status:    status,
		Value:     value,
		Connected: true,
		UpdatedAt: time.Now(),
	}
}

func TestMemoryStore_UpdateAndGetAll(t *testing.T) {
	st := NewMemoryStore()
	st.Update(record("mqtt", "ok", 10))

	all := st.GetAll()
	require.Len(t, all, 1)
	assert.Equal(t, "mqtt", all[0].Name)
	assert.Equal(t, 10.0, all[0].Value)
}

func TestMemoryStore_GetAllOrderedByName(t *testing.T) {
	st := NewMemoryStore()
	st.Update(record("c", "ok", 1))
	st.Update(record("a", "degraded", 2))
	st.Update(record("b", "disconnected", 3))

	all := st.GetAll()
	require.Len(t, all, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{all[0].Name, all[1].Name, all[2].Name})
}

func TestMemoryStore_UpdateReplacesPrevious(t *testing.T) {
	st := NewMemoryStore()
	st.Update(record("mqtt", "ok", 1))
	st.Update(record("mqtt", "degraded", 2))
	st.Update(record("mqtt", "disconnected", 0))

	all := st.GetAll()
	require.Len(t, all, 1)
	assert.Equal(t, "disconnected", all[0].Status)
	assert.Equal(t, 0.0, all[0].Value)
}

func TestMemoryStore_Get(t *testing.T) {
	st := NewMemoryStore()
	st.Update(record("mqtt", "ok", 4))

	got, ok := st.Get("mqtt")
	require.True(t, ok)
	assert.Equal(t, 4.0, got.Value)

	_, ok = st.Get("missing")
	assert.False(t, ok)
}

// Records handed out must not alias the store's copy.
func TestMemoryStore_ReturnsCopies(t *testing.T) {
	st := NewMemoryStore()
	msg := "boom"
	r := record("mqtt", "degraded", 1)
	r.Labels = map[string]string{"host": "gw-1"}
	r.History = []Point{{Value: 1}, {Value: 2}}
	r.Error = &msg
	st.Update(r)

	r.Labels["host"] = "mutated"
	r.History[0].Value = 99
	msg = "changed"

	got, _ := st.Get("mqtt")
	assert.Equal(t, "gw-1", got.Labels["host"])
	assert.Equal(t, 1.0, got.History[0].Value)
	require.NotNil(t, got.Error)
	assert.Equal(t, "boom", *got.Error)

	got.History[1].Value = 42
	again, _ := st.Get("mqtt")
	assert.Equal(t, 2.0, again.History[1].Value)
}

func TestMemoryStore_Subscribe(t *testing.T) {
	st := NewMemoryStore()
	ch := st.Subscribe()
	require.NotNil(t, ch)

	go st.Update(record("mqtt", "ok", 1))

	select {
	case got := <-ch:
		assert.Equal(t, "mqtt", got.Name)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive update")
	}
}

func TestMemoryStore_MultipleSubscribers(t *testing.T) {
	st := NewMemoryStore()
	chans := []<-chan SourceRecord{st.Subscribe(), st.Subscribe(), st.Subscribe()}

	go st.Update(record("mqtt", "ok", 1))

	for i, ch := range chans {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d missed update", i)
		}
	}
}

func TestMemoryStore_Unsubscribe(t *testing.T) {
	st := NewMemoryStore()
	ch := st.Subscribe()
	st.Unsubscribe(ch)

	_, ok := <-ch
	assert.False(t, ok, "channel should be closed")
	assert.Equal(t, 0, st.SubscriberCount())

	// second call is a no-op
	st.Unsubscribe(ch)
}

func TestMemoryStore_UnsubscribeStopsDelivery(t *testing.T) {
	st := NewMemoryStore()
	ch1 := st.Subscribe()
	ch2 := st.Subscribe()
	st.Unsubscribe(ch1)

	st.Update(record("mqtt", "ok", 1))

	select {
	case <-ch2:
	case <-time.After(time.Second):
		t.Fatal("ch2 should still receive updates")
	}
}

func TestMemoryStore_SlowSubscriberDoesNotBlock(t *testing.T) {
	st := NewMemoryStore()
	_ = st.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 2*subscriberBuffer; i++ {
			st.Update(record("mqtt", "ok", float64(i)))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Update blocked on slow subscriber")
	}
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	st := NewMemoryStore()
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				st.Update(record("mqtt", "ok", float64(j)))
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = st.GetAll()
			}
		}()
		go func() {
			defer wg.Done()
			ch := st.Subscribe()
			time.Sleep(10 * time.Millisecond)
			st.Unsubscribe(ch)
		}()
	}

	wg.Wait()
}
