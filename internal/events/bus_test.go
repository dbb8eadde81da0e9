package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishToAllSubscribers(t *testing.T) {
	b := NewBus(nil)
	a, unsubA := b.Subscribe(4)
	c, unsubC := b.Subscribe(4)
	defer unsubA()
	defer unsubC()

	b.Publish(Event{Type: DocumentArchived, Path: "2024/X/a.pdf"})

	for _, ch := range []<-chan Event{a, c} {
		e := <-ch
		assert.Equal(t, DocumentArchived, e.Type)
		assert.Equal(t, "2024/X/a.pdf", e.Path)
		assert.False(t, e.Time.IsZero())
	}
}

func TestBus_SlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewBus(nil)
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: DocumentArchived, Path: "1"})
	b.Publish(Event{Type: DocumentArchived, Path: "2"})

	e := <-ch
	assert.Equal(t, "1", e.Path)
	select {
	case e := <-ch:
		t.Fatalf("unexpected event %v", e)
	default:
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	b := NewBus(nil)
	ch, unsub := b.Subscribe(1)
	require.Equal(t, 1, b.Subscribers())

	unsub()
	unsub()
	assert.Equal(t, 0, b.Subscribers())

	_, ok := <-ch
	assert.False(t, ok)
	b.Publish(Event{Type: FileDeleted})
}

func TestBus_Close(t *testing.T) {
	b := NewBus(nil)
	ch, unsub := b.Subscribe(1)
	b.Close()

	_, ok := <-ch
	assert.False(t, ok)
	unsub()

	late, _ := b.Subscribe(1)
	_, ok = <-late
	assert.False(t, ok)
}

func TestBus_NilPublish(t *testing.T) {
	var b *Bus
	assert.NotPanics(t, func() { b.Publish(Event{Type: DocumentFailed}) })
}
