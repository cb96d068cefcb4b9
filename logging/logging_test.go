package logging

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/bartossh/Ticketeer/logger"
)

type chanWriter struct {
	c chan []byte
}

func (w chanWriter) Write(p []byte) (int, error) {
	w.c <- append([]byte(nil), p...)
	return len(p), nil
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) {
	return 0, errors.New("writer closed")
}

func readLog(t *testing.T, c <-chan []byte) logger.Log {
	select {
	case raw := <-c:
		var l logger.Log
		assert.Nil(t, json.Unmarshal(raw, &l))
		return l
	case <-time.After(time.Second):
		t.Fatal("log not written")
	}
	return logger.Log{}
}

func TestHelperLevels(t *testing.T) {
	w := chanWriter{c: make(chan []byte, 1)}
	h := New(nil, nil, w)

	cases := []struct {
		level string
		call  func(string)
	}{
		{levelDebug, h.Debug},
		{levelInfo, h.Info},
		{levelWarn, h.Warn},
		{levelError, h.Error},
	}
	for _, c := range cases {
		c.call("message " + c.level)
		l := readLog(t, w.c)
		assert.Equal(t, c.level, l.Level)
		assert.Equal(t, "message "+c.level, l.Msg)
		assert.NotNil(t, l.ID)
	}
}

func TestHelperCallsOnError(t *testing.T) {
	errs := make(chan error, 1)
	h := New(func(err error) { errs <- err }, nil, failingWriter{})
	h.Info("lost")

	select {
	case err := <-errs:
		assert.ErrorContains(t, err, "writer closed")
	case <-time.After(time.Second):
		t.Fatal("error callback not called")
	}
}

func TestHelperFatalWritesBeforeCallback(t *testing.T) {
	w := chanWriter{c: make(chan []byte, 1)}
	var fatal error
	h := New(nil, func(err error) { fatal = err }, w)
	h.Fatal("boom")

	assert.EqualError(t, fatal, "boom")
	l := readLog(t, w.c)
	assert.Equal(t, levelFatal, l.Level)
}
