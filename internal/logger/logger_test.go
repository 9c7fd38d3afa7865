package logger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelFiltering(t *testing.T) {
	l := Discard()
	l.SetLevel("warn")

	l.Debugf("dropped")
	l.Infof("dropped")
	l.Warnf("kept")
	l.Errorf("kept too")

	recent := l.Recent()
	require.Len(t, recent, 2)
	assert.Equal(t, Warn, recent[0].Level)
	assert.Equal(t, Error, recent[1].Level)
}

func TestRingBufferDropsOldestFirst(t *testing.T) {
	l := Discard()
	l.ring = make([]Entry, 3)

	for _, msg := range []string{"a", "b", "c", "d", "e"} {
		l.Infof("%s", msg)
	}

	recent := l.Recent()
	require.Len(t, recent, 3)
	assert.Equal(t, "c", recent[0].Message)
	assert.Equal(t, "d", recent[1].Message)
	assert.Equal(t, "e", recent[2].Message)
}

func TestRecentBeforeWrap(t *testing.T) {
	l := Discard()
	l.ring = make([]Entry, 10)

	l.Infof("first")
	l.Infof("second")

	recent := l.Recent()
	require.Len(t, recent, 2)
	assert.Equal(t, "first", recent[0].Message)
	assert.Equal(t, "second", recent[1].Message)
}

func TestSubscribeReceivesEntries(t *testing.T) {
	l := Discard()
	ch := l.Subscribe()
	defer l.Unsubscribe(ch)

	l.Infof("hello %s", "world")

	select {
	case entry := <-ch:
		assert.Equal(t, Info, entry.Level)
		assert.Equal(t, "hello world", entry.Message)
		assert.NotEmpty(t, entry.Timestamp)
	case <-time.After(time.Second):
		t.Fatal("no entry received")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	l := Discard()
	ch := l.Subscribe()
	l.Unsubscribe(ch)

	_, open := <-ch
	assert.False(t, open)
}

func TestInvalidLevelDefaultsToInfo(t *testing.T) {
	l := Discard()
	l.SetLevel("nonsense")

	l.Debugf("dropped")
	l.Infof("kept")

	require.Len(t, l.Recent(), 1)
}
