// Package ingest decodes point cloud frames received from the sensor
// bridge. A frame is a single UDP datagram: a 4-byte magic, the
// capture stamp, a point count and packed xyz+intensity points, all
// little-endian.
package ingest

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/relocalize/internal/cloud"
)

const (
	frameMagic = "RLZ1"
	headerLen  = 4 + 8 + 4 // magic, stamp nanos, point count
	pointLen   = 3*8 + 1   // x, y, z float64 plus intensity byte
	// MaxFramePoints keeps a frame within a single UDP datagram.
	MaxFramePoints = (65507 - headerLen) / pointLen
)

// DecodeFrame parses one datagram into a point cloud.
func DecodeFrame(data []byte) (*cloud.PointCloud, error) {
	if len(data) < headerLen {
		return nil, fmt.Errorf("frame has %d bytes, want at least %d", len(data), headerLen)
	}
	if string(data[:4]) != frameMagic {
		return nil, fmt.Errorf("bad frame magic %q", data[:4])
	}
	stamp := time.Unix(0, int64(binary.LittleEndian.Uint64(data[4:]))).UTC()
	n := int(binary.LittleEndian.Uint32(data[12:]))
	if n > MaxFramePoints {
		return nil, fmt.Errorf("frame declares %d points, max %d", n, MaxFramePoints)
	}
	if want := headerLen + n*pointLen; len(data) != want {
		return nil, fmt.Errorf("frame has %d bytes, want %d for %d points", len(data), want, n)
	}

	points := make([]cloud.Point, n)
	off := headerLen
	for i := 0; i < n; i++ {
		points[i] = cloud.Point{
			X:         math.Float64frombits(binary.LittleEndian.Uint64(data[off:])),
			Y:         math.Float64frombits(binary.LittleEndian.Uint64(data[off+8:])),
			Z:         math.Float64frombits(binary.LittleEndian.Uint64(data[off+16:])),
			Intensity: data[off+24],
		}
		off += pointLen
	}
	return cloud.NewPointCloud(stamp, points), nil
}

// EncodeFrame packs a point cloud into the wire format. Used by replay
// tooling and tests; clouds above MaxFramePoints must be split by the
// caller.
func EncodeFrame(pc *cloud.PointCloud) ([]byte, error) {
	n := pc.Len()
	if n > MaxFramePoints {
		return nil, fmt.Errorf("cloud has %d points, max %d per frame", n, MaxFramePoints)
	}
	buf := make([]byte, headerLen+n*pointLen)
	copy(buf, frameMagic)
	binary.LittleEndian.PutUint64(buf[4:], uint64(pc.Stamp.UnixNano()))
	binary.LittleEndian.PutUint32(buf[12:], uint32(n))
	off := headerLen
	for i := 0; i < n; i++ {
		p := pc.Points[i]
		binary.LittleEndian.PutUint64(buf[off:], math.Float64bits(p.X))
		binary.LittleEndian.PutUint64(buf[off+8:], math.Float64bits(p.Y))
		binary.LittleEndian.PutUint64(buf[off+16:], math.Float64bits(p.Z))
		buf[off+24] = p.Intensity
		off += pointLen
	}
	return buf, nil
}
