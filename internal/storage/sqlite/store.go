package sqlite

import (
	"database/sql"
	_ "embed"
	"fmt"
	"log"
	"time"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/relocalize/internal/cloud"
	"github.com/banshee-data/relocalize/internal/graphmap"
)

// MapDB wraps the SQLite database holding a persisted graph map.
type MapDB struct {
	*sql.DB
}

// schema.sql defines the keyframe and origin tables.
//
//go:embed schema.sql
var schemaSQL string

// Open opens (creating if necessary) a map database at path.
func Open(path string) (*MapDB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open map database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize map schema: %w", err)
	}
	return &MapDB{db}, nil
}

// SaveKeyFrame inserts or replaces a single keyframe.
func (m *MapDB) SaveKeyFrame(kf *graphmap.KeyFrame) error {
	query := `
		INSERT OR REPLACE INTO keyframes (id, stamp_ns, pose, cloud)
		VALUES (?, ?, ?, ?)
	`
	_, err := m.Exec(query, kf.ID, kf.Stamp.UnixNano(), encodePose(kf.Pose), encodeCloud(kf.Cloud))
	if err != nil {
		return fmt.Errorf("failed to insert keyframe %s: %w", kf.ID, err)
	}
	return nil
}

// SaveKeyFrames writes all keyframes in one transaction.
func (m *MapDB) SaveKeyFrames(frames []*graphmap.KeyFrame) error {
	tx, err := m.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO keyframes (id, stamp_ns, pose, cloud)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare keyframe insert: %w", err)
	}
	defer stmt.Close()

	for _, kf := range frames {
		if _, err := stmt.Exec(kf.ID, kf.Stamp.UnixNano(), encodePose(kf.Pose), encodeCloud(kf.Cloud)); err != nil {
			return fmt.Errorf("failed to insert keyframe %s: %w", kf.ID, err)
		}
	}
	return tx.Commit()
}

// LoadKeyFrames reads every stored keyframe ordered by capture time.
func (m *MapDB) LoadKeyFrames() ([]*graphmap.KeyFrame, error) {
	rows, err := m.Query(`SELECT id, stamp_ns, pose, cloud FROM keyframes ORDER BY stamp_ns`)
	if err != nil {
		return nil, fmt.Errorf("failed to query keyframes: %w", err)
	}
	defer rows.Close()

	var frames []*graphmap.KeyFrame
	for rows.Next() {
		var (
			id        string
			stampNs   int64
			poseBlob  []byte
			cloudBlob []byte
		)
		if err := rows.Scan(&id, &stampNs, &poseBlob, &cloudBlob); err != nil {
			return nil, fmt.Errorf("failed to scan keyframe row: %w", err)
		}
		pose, err := decodePose(poseBlob)
		if err != nil {
			return nil, fmt.Errorf("keyframe %s: %w", id, err)
		}
		stamp := time.Unix(0, stampNs).UTC()
		points, err := decodeCloud(cloudBlob)
		if err != nil {
			return nil, fmt.Errorf("keyframe %s: %w", id, err)
		}
		frames = append(frames, graphmap.NewKeyFrame(id, stamp, pose, cloud.NewPointCloud(stamp, points)))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate keyframes: %w", err)
	}
	return frames, nil
}

// SetOrigin stores the map's geodetic anchor, replacing any previous one.
func (m *MapDB) SetOrigin(o graphmap.Origin) error {
	query := `
		INSERT OR REPLACE INTO map_origin (id, latitude, longitude, altitude)
		VALUES (1, ?, ?, ?)
	`
	if _, err := m.Exec(query, o.Latitude, o.Longitude, o.Altitude); err != nil {
		return fmt.Errorf("failed to store map origin: %w", err)
	}
	return nil
}

// LoadOrigin reads the geodetic anchor; ok is false when none is stored.
func (m *MapDB) LoadOrigin() (graphmap.Origin, bool, error) {
	var o graphmap.Origin
	err := m.QueryRow(`SELECT latitude, longitude, altitude FROM map_origin WHERE id = 1`).
		Scan(&o.Latitude, &o.Longitude, &o.Altitude)
	if err == sql.ErrNoRows {
		return graphmap.Origin{}, false, nil
	}
	if err != nil {
		return graphmap.Origin{}, false, fmt.Errorf("failed to load map origin: %w", err)
	}
	return o, true, nil
}

// LoadSnapshot reads the whole map and builds an indexed snapshot.
func (m *MapDB) LoadSnapshot() (*graphmap.Snapshot, error) {
	frames, err := m.LoadKeyFrames()
	if err != nil {
		return nil, err
	}
	var origin *graphmap.Origin
	if o, ok, err := m.LoadOrigin(); err != nil {
		return nil, err
	} else if ok {
		origin = &o
	}
	log.Printf("[MapDB] loaded %d keyframes", len(frames))
	return graphmap.NewSnapshot(frames, origin), nil
}
