// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package fieldscope

import "sync"

// Yield is passed to a CreateFieldsFunc so it can hand a child field to the
// driver and suspend until the driver asks for the next one. It returns
// false when the driver has stopped pulling (e.g. the FieldSet was reset
// or truncated); a well-behaved producer should return promptly when that
// happens instead of trying to yield further fields.
type Yield func(Field) bool

// CreateFieldsFunc is the producer contract format authors implement (spec
// §6 "Producer contract"): given the FieldSet it is filling and a Yield
// callback, it hands off children in address order and returns nil when
// done, or a ParserError/MatchError to signal a structural failure.
type CreateFieldsFunc func(fs *FieldSet, yield Yield) error

// produced is one message on a producer's output channel.
type produced struct {
	field Field
	err   error
}

// producer runs a CreateFieldsFunc as a goroutine that blocks after each
// yielded field until the driver explicitly asks for the next one: a
// push-style function emitting into a bounded mailbox, for a language
// without native generators.
type producer struct {
	out    chan produced
	resume chan struct{}
	cancel chan struct{}

	started  bool
	finished bool
	once     sync.Once
}

func startProducer(fs *FieldSet, fn CreateFieldsFunc) *producer {
	p := &producer{
		out:    make(chan produced),
		resume: make(chan struct{}),
		cancel: make(chan struct{}),
	}
	go func() {
		defer close(p.out)
		yield := func(f Field) bool {
			select {
			case p.out <- produced{field: f}:
			case <-p.cancel:
				return false
			}
			select {
			case _, ok := <-p.resume:
				return ok
			case <-p.cancel:
				return false
			}
		}
		if err := fn(fs, yield); err != nil {
			select {
			case p.out <- produced{err: err}:
			case <-p.cancel:
			}
		}
	}()
	return p
}

// Next pulls the next field from the producer. ok is false once the
// producer is exhausted (whether by returning nil or by being cancelled);
// err is non-nil if the producer ended with a ParserError/MatchError.
func (p *producer) Next() (field Field, err error, ok bool) {
	if p.finished {
		return nil, nil, false
	}
	if p.started {
		p.resume <- struct{}{}
	} else {
		p.started = true
	}
	v, open := <-p.out
	if !open {
		p.finished = true
		return nil, nil, false
	}
	if v.err != nil {
		p.finished = true
		return nil, v.err, false
	}
	return v.field, nil, true
}

// Stop cancels a live producer's goroutine so it does not leak when the
// driver abandons it mid-sequence (reset, truncate, or simply never
// pulling the rest of a lazily-materialised tree).
func (p *producer) Stop() {
	p.once.Do(func() { close(p.cancel) })
	p.finished = true
}
