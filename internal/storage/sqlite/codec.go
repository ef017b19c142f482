package sqlite

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/banshee-data/relocalize/internal/cloud"
)

// Blob layouts are little-endian. A pose is its 16 matrix entries; a
// cloud is a uint32 point count followed by x, y, z float64 and a
// single intensity byte per point.

const (
	poseBlobSize   = 16 * 8
	pointBlobSize  = 3*8 + 1
	cloudHeaderLen = 4
)

func encodePose(p cloud.Pose) []byte {
	buf := make([]byte, poseBlobSize)
	for i, v := range p.T {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf
}

func decodePose(blob []byte) (cloud.Pose, error) {
	if len(blob) != poseBlobSize {
		return cloud.Pose{}, fmt.Errorf("pose blob has %d bytes, want %d", len(blob), poseBlobSize)
	}
	var p cloud.Pose
	for i := range p.T {
		p.T[i] = math.Float64frombits(binary.LittleEndian.Uint64(blob[i*8:]))
	}
	return p, nil
}

func encodeCloud(pc *cloud.PointCloud) []byte {
	n := pc.Len()
	buf := make([]byte, cloudHeaderLen+n*pointBlobSize)
	binary.LittleEndian.PutUint32(buf, uint32(n))
	off := cloudHeaderLen
	for i := 0; i < n; i++ {
		p := pc.Points[i]
		binary.LittleEndian.PutUint64(buf[off:], math.Float64bits(p.X))
		binary.LittleEndian.PutUint64(buf[off+8:], math.Float64bits(p.Y))
		binary.LittleEndian.PutUint64(buf[off+16:], math.Float64bits(p.Z))
		buf[off+24] = p.Intensity
		off += pointBlobSize
	}
	return buf
}

func decodeCloud(blob []byte) ([]cloud.Point, error) {
	if len(blob) < cloudHeaderLen {
		return nil, fmt.Errorf("cloud blob has %d bytes, want at least %d", len(blob), cloudHeaderLen)
	}
	n := int(binary.LittleEndian.Uint32(blob))
	if want := cloudHeaderLen + n*pointBlobSize; len(blob) != want {
		return nil, fmt.Errorf("cloud blob has %d bytes, want %d for %d points", len(blob), want, n)
	}
	points := make([]cloud.Point, n)
	off := cloudHeaderLen
	for i := 0; i < n; i++ {
		points[i] = cloud.Point{
			X:         math.Float64frombits(binary.LittleEndian.Uint64(blob[off:])),
			Y:         math.Float64frombits(binary.LittleEndian.Uint64(blob[off+8:])),
			Z:         math.Float64frombits(binary.LittleEndian.Uint64(blob[off+16:])),
			Intensity: blob[off+24],
		}
		off += pointBlobSize
	}
	return points, nil
}
