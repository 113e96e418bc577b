// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package entry

import (
	"github.com/luxfi/codec"
	"github.com/luxfi/codec/linearcodec"
	"github.com/luxfi/constants"
)

const (
	CodecVersion = 0

	maxEntrySize = 512 * constants.KiB
)

// Codec serializes entries, batches, and vote packets.
var Codec codec.Manager

func init() {
	Codec = codec.NewManager(maxEntrySize)
	lc := linearcodec.NewDefault()

	if err := Codec.RegisterCodec(CodecVersion, lc); err != nil {
		panic(err)
	}
}
