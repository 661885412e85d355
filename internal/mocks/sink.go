// Package mocks provides in-memory test doubles for the session core's two
// external collaborators (the 1.0 frame sink and the 0-9-1 backing
// channel), in the spirit of the teacher's net.Conn-level connection mock:
// no goroutines, no network, just recorded calls and scripted responses.
package mocks

import "github.com/rabbitmq/amqp10-bridge/internal/frames"

// Sink records every performative the session core emits. Tests assert
// against the recorded slices rather than a live wire decode, since framing
// is out of scope for this package.
type Sink struct {
	Begins        []*frames.Begin
	Attaches      []*frames.Attach
	Flows         []*frames.Flow
	Transfers     []*frames.Transfer
	Dispositions  []*frames.Disposition
	Detaches      []*frames.Detach
	Ends          []*frames.End

	// Err, if set, is returned by every Send* call instead of recording.
	Err error
}

func (s *Sink) SendBegin(b *frames.Begin) error {
	if s.Err != nil {
		return s.Err
	}
	s.Begins = append(s.Begins, b)
	return nil
}

func (s *Sink) SendAttach(a *frames.Attach) error {
	if s.Err != nil {
		return s.Err
	}
	s.Attaches = append(s.Attaches, a)
	return nil
}

func (s *Sink) SendFlow(f *frames.Flow) error {
	if s.Err != nil {
		return s.Err
	}
	s.Flows = append(s.Flows, f)
	return nil
}

func (s *Sink) SendTransfer(t *frames.Transfer) error {
	if s.Err != nil {
		return s.Err
	}
	s.Transfers = append(s.Transfers, t)
	return nil
}

func (s *Sink) SendDisposition(d *frames.Disposition) error {
	if s.Err != nil {
		return s.Err
	}
	s.Dispositions = append(s.Dispositions, d)
	return nil
}

func (s *Sink) SendDetach(d *frames.Detach) error {
	if s.Err != nil {
		return s.Err
	}
	s.Detaches = append(s.Detaches, d)
	return nil
}

func (s *Sink) SendEnd(e *frames.End) error {
	if s.Err != nil {
		return s.Err
	}
	s.Ends = append(s.Ends, e)
	return nil
}

// LastFlow returns the most recently sent flow, or nil if none.
func (s *Sink) LastFlow() *frames.Flow {
	if len(s.Flows) == 0 {
		return nil
	}
	return s.Flows[len(s.Flows)-1]
}
