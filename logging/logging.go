package logging

import (
	"encoding/json"
	"io"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/bartossh/Ticketeer/logger"
)

const (
	levelDebug = "debug"
	levelInfo  = "info"
	levelWarn  = "warn"
	levelError = "error"
	levelFatal = "fatal"
)

// Helper helps with writing logs to io.Writers.
// Helper implements logger.Logger interface.
// Writing is done concurrently with out blocking the current thread.
type Helper struct {
	callOnErr   func(error)
	callOnFatal func(error)
	writers     []io.Writer
}

// New creates new Helper.
// callOnErr is called on every failed write, callOnFatal is called after the fatal log is written.
func New(callOnErr, callOnFatal func(error), writers ...io.Writer) Helper {
	if callOnErr == nil {
		callOnErr = func(error) {}
	}
	if callOnFatal == nil {
		callOnFatal = func(error) {}
	}
	return Helper{callOnErr: callOnErr, callOnFatal: callOnFatal, writers: writers}
}

// Debug writes debug log.
func (h Helper) Debug(msg string) {
	h.write(newLog(levelDebug, msg), nil)
}

// Info writes info log.
func (h Helper) Info(msg string) {
	h.write(newLog(levelInfo, msg), nil)
}

// Warn writes warning log.
func (h Helper) Warn(msg string) {
	h.write(newLog(levelWarn, msg), nil)
}

// Error writes error log.
func (h Helper) Error(msg string) {
	h.write(newLog(levelError, msg), nil)
}

// Fatal writes fatal log.
func (h Helper) Fatal(msg string) {
	done := make(chan struct{})
	h.write(newLog(levelFatal, msg), done)
	<-done
	h.callOnFatal(&fatalError{msg: msg})
}

func newLog(level, msg string) *logger.Log {
	return &logger.Log{
		ID:        primitive.NewObjectID(),
		Level:     level,
		Msg:       msg,
		CreatedAt: time.Now(),
	}
}

func (h Helper) write(l *logger.Log, done chan<- struct{}) {
	go func() {
		if done != nil {
			defer close(done)
		}
		raw, err := json.Marshal(l)
		if err != nil {
			h.callOnErr(err)
			return
		}
		for _, w := range h.writers {
			if _, err := w.Write(raw); err != nil {
				h.callOnErr(err)
			}
		}
	}()
}

type fatalError struct {
	msg string
}

func (e *fatalError) Error() string {
	return e.msg
}
