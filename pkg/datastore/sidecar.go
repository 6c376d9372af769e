package datastore

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/sanonone/cvkit/pkg/persistence"
)

const (
	sidecarSuffix  = "_stats.bin"
	sidecarMagic   = "CVKS"
	sidecarVersion = uint16(2)
	// magic(4) + version(2) + hash(8) + body part count(4)
	sidecarHeaderLen = 18
)

var (
	// ErrSidecarVersion is returned for a sidecar written by an unknown format version.
	ErrSidecarVersion = errors.New("unsupported statistics sidecar version")
	// ErrSidecarCorrupt is returned when the sidecar header and body disagree.
	ErrSidecarCorrupt = errors.New("corrupt statistics sidecar")
)

// StatsPath returns the sidecar path for a data file base name.
func StatsPath(basePath string) string {
	return basePath + sidecarSuffix
}

func lockFor(path string) *flock.Flock {
	return flock.New(path + ".lock")
}

// SaveStats writes stats to path as a header frame followed by a gob body
// frame. The file is replaced atomically under an exclusive lock.
func SaveStats(path string, stats *Stats) error {
	snap := stats.snapshot()

	var body bytes.Buffer
	if err := gob.NewEncoder(&body).Encode(snap); err != nil {
		return fmt.Errorf("encode statistics: %w", err)
	}
	header := make([]byte, sidecarHeaderLen)
	copy(header, sidecarMagic)
	binary.LittleEndian.PutUint16(header[4:], sidecarVersion)
	binary.LittleEndian.PutUint64(header[6:], snap.Hash)
	binary.LittleEndian.PutUint32(header[14:], uint32(len(snap.BodyParts)))

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	lock := lockFor(path)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock %s: %w", path, err)
	}
	defer lock.Unlock()

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)
	fw := persistence.NewFrameWriter(bw)
	werr := fw.WriteFrame(persistence.OpStatsHeader, header)
	if werr == nil {
		werr = fw.WriteFrame(persistence.OpStatsBody, body.Bytes())
	}
	if werr == nil {
		werr = bw.Flush()
	}
	if werr == nil {
		werr = f.Sync()
	}
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write %s: %w", path, werr)
	}
	return os.Rename(tmp, path)
}

// LoadStats reads a sidecar written by SaveStats under a shared lock. It
// returns an error wrapping os.ErrNotExist when there is no sidecar.
func LoadStats(path string) (*Stats, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	lock := lockFor(path)
	if err := lock.RLock(); err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	defer lock.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r := bufio.NewReader(f)

	header, err := persistence.ReadExpected(r, persistence.OpStatsHeader)
	if err != nil {
		return nil, fmt.Errorf("read sidecar header: %w", err)
	}
	if len(header) != sidecarHeaderLen || string(header[:4]) != sidecarMagic {
		return nil, fmt.Errorf("%w: bad header", ErrSidecarCorrupt)
	}
	if v := binary.LittleEndian.Uint16(header[4:]); v != sidecarVersion {
		return nil, fmt.Errorf("%w: %d", ErrSidecarVersion, v)
	}
	hash := binary.LittleEndian.Uint64(header[6:])
	count := binary.LittleEndian.Uint32(header[14:])

	body, err := persistence.ReadExpected(r, persistence.OpStatsBody)
	if err != nil {
		return nil, fmt.Errorf("read sidecar body: %w", err)
	}
	var snap statsSnapshot
	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(&snap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSidecarCorrupt, err)
	}
	if snap.Hash != hash || uint32(len(snap.BodyParts)) != count {
		return nil, fmt.Errorf("%w: body does not match header", ErrSidecarCorrupt)
	}
	return statsFromSnapshot(snap), nil
}
