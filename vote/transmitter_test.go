// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package vote

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/log"
)

func TestTransmitterSendsPackets(t *testing.T) {
	require := require.New(t)

	receiver, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(err)
	defer receiver.Close()

	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(err)

	packets := make(chan Packet, 2)
	tr := NewTransmitter(conn, packets, log.NewNoOpLogger())

	packets <- Packet{Bytes: []byte("first"), To: receiver.LocalAddr()}
	packets <- Packet{Bytes: []byte("second"), To: receiver.LocalAddr()}

	require.NoError(receiver.SetReadDeadline(time.Now().Add(5 * time.Second)))
	buf := make([]byte, 64)
	n, _, err := receiver.ReadFrom(buf)
	require.NoError(err)
	require.Equal([]byte("first"), buf[:n])

	n, _, err = receiver.ReadFrom(buf)
	require.NoError(err)
	require.Equal([]byte("second"), buf[:n])

	close(packets)
	require.NoError(tr.Join())
}

func TestTransmitterStopsOnChannelClose(t *testing.T) {
	require := require.New(t)

	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(err)

	packets := make(chan Packet)
	tr := NewTransmitter(conn, packets, log.NewNoOpLogger())

	close(packets)
	require.NoError(tr.Join())

	// The transmitter owns the socket and closes it on exit.
	_, err = conn.WriteTo([]byte{1}, conn.LocalAddr())
	require.Error(err)
}
