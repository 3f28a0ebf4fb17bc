package discord

import (
	"bytes"
	"io"

	"github.com/cockroachdb/errors"
)

// oggPageHeaderLen is the fixed part of an Ogg page header, up to and
// including the segment count byte.
const oggPageHeaderLen = 27

var oggCapturePattern = []byte("OggS")

// demuxOggPackets reads an Ogg stream and emits each opus packet.
// The codec header packets (OpusHead, OpusTags) are skipped; every
// remaining packet is one self-contained opus frame. A clean EOF on a
// page boundary returns nil.
func demuxOggPackets(r io.Reader, emit func([]byte)) error {
	header := make([]byte, oggPageHeaderLen)
	var partial []byte
	for {
		if _, err := io.ReadFull(r, header); err != nil {
			if err == io.EOF {
				return nil
			}
			return errors.Wrap(err, "truncated ogg page header")
		}
		if !bytes.Equal(header[:4], oggCapturePattern) {
			return errors.New("lost ogg capture pattern")
		}

		segments := int(header[26])
		lacing := make([]byte, segments)
		if _, err := io.ReadFull(r, lacing); err != nil {
			return errors.Wrap(err, "truncated ogg segment table")
		}

		for _, l := range lacing {
			seg := make([]byte, int(l))
			if _, err := io.ReadFull(r, seg); err != nil {
				return errors.Wrap(err, "truncated ogg segment")
			}
			partial = append(partial, seg...)
			// A lacing value below 255 terminates the packet.
			if l == 255 {
				continue
			}
			packet := partial
			partial = nil
			if isOpusHeaderPacket(packet) {
				continue
			}
			emit(packet)
		}
	}
}

func isOpusHeaderPacket(packet []byte) bool {
	return bytes.HasPrefix(packet, []byte("OpusHead")) || bytes.HasPrefix(packet, []byte("OpusTags"))
}
