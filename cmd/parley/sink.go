package main

import (
	"sync/atomic"

	"github.com/teslashibe/go-parley/pkg/dialogue"
)

// forwardSink hands events to a sink installed after the loop was built.
// Events before set are dropped.
type forwardSink struct {
	target atomic.Pointer[dialogue.Sink]
}

func (f *forwardSink) set(s dialogue.Sink) {
	f.target.Store(&s)
}

func (f *forwardSink) OnSentence(e dialogue.SentenceEvent) {
	if s := f.target.Load(); s != nil {
		(*s).OnSentence(e)
	}
}

func (f *forwardSink) OnTurn(e dialogue.TurnEvent) {
	if s := f.target.Load(); s != nil {
		(*s).OnTurn(e)
	}
}

var _ dialogue.Sink = (*forwardSink)(nil)
