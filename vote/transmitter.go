// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package vote

import (
	"fmt"
	"net"
	"sync"

	"github.com/luxfi/log"
)

// Packet is an outgoing vote, already serialized and addressed.
type Packet struct {
	Bytes []byte
	To    net.Addr
}

// Transmitter drains a channel of vote packets and sends them over a
// packet connection on its own goroutine. It stops when the channel is
// closed; send failures are logged and do not stop it.
type Transmitter struct {
	log  log.Logger
	conn net.PacketConn

	wg  sync.WaitGroup
	err error
}

// NewTransmitter starts a transmitter over conn. The transmitter owns
// conn and closes it when the packet channel closes.
func NewTransmitter(conn net.PacketConn, packets <-chan Packet, log log.Logger) *Transmitter {
	t := &Transmitter{
		log:  log,
		conn: conn,
	}
	t.wg.Add(1)
	go t.run(packets)
	return t
}

func (t *Transmitter) run(packets <-chan Packet) {
	defer t.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			t.err = fmt.Errorf("vote transmitter panicked: %v", r)
		}
	}()
	defer func() {
		if err := t.conn.Close(); err != nil {
			t.log.Warn("closing vote socket", "error", err)
		}
	}()

	for p := range packets {
		if _, err := t.conn.WriteTo(p.Bytes, p.To); err != nil {
			t.log.Warn("sending vote packet",
				"to", p.To,
				"error", err,
			)
		}
	}
}

// Join blocks until the transmitter has stopped and surfaces a worker
// panic as an error.
func (t *Transmitter) Join() error {
	t.wg.Wait()
	return t.err
}
