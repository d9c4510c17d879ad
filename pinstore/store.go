// Package pinstore keeps a named, identified pin collection in sync with a pin
// layer and persists it as zstd-compressed JSON snapshots.
package pinstore

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/segmentio/encoding/json"

	pinindex "gopinindex"
)

const (
	ErrTypePinNotFound = "pin-not-found"
	ErrTypeSnapshot    = "snapshot"
)

// Record is the persisted form of a pin.
type Record struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
	Lon  float64   `json:"lon"`
	Lat  float64   `json:"lat"`
}

func (r Record) Coordinates() pinindex.GeoCoordinates {
	return pinindex.GeoCoordinates{Lon: r.Lon, Lat: r.Lat}
}

// Store owns the pins of a layer. It is not safe for concurrent use.
type Store struct {
	layer *pinindex.Layer
	pins  map[uuid.UUID]*pinindex.MapPin
	ids   map[*pinindex.MapPin]uuid.UUID
}

func New(layer *pinindex.Layer) *Store {
	return &Store{
		layer: layer,
		pins:  make(map[uuid.UUID]*pinindex.MapPin),
		ids:   make(map[*pinindex.MapPin]uuid.UUID),
	}
}

func (s *Store) Len() int {
	return len(s.pins)
}

// Add creates a pin with a new ID.
func (s *Store) Add(name string, c pinindex.GeoCoordinates) (Record, error) {
	r := Record{
		ID:   uuid.New(),
		Name: name,
		Lon:  c.Lon,
		Lat:  c.Lat,
	}
	return r, s.Put(r)
}

// Put adds the pin described by r, replacing any pin with the same ID.
func (s *Store) Put(r Record) error {
	if old, ok := s.pins[r.ID]; ok {
		s.layer.Remove(old)
		delete(s.ids, old)
	}

	p := pinindex.NewMapPin(r.Name, r.Coordinates())
	if err := s.layer.Add(p); err != nil {
		return errors.New("adding pin to layer failed").
			WithTag("id", r.ID).
			Wrap(err)
	}
	s.pins[r.ID] = p
	s.ids[p] = r.ID
	return nil
}

func (s *Store) Get(id uuid.UUID) (Record, bool) {
	p, ok := s.pins[id]
	if !ok {
		return Record{}, false
	}
	return record(id, p), true
}

// Move relocates a pin. The layer gets notified by the pin itself.
func (s *Store) Move(id uuid.UUID, c pinindex.GeoCoordinates) (Record, error) {
	p, ok := s.pins[id]
	if !ok {
		return Record{}, notFound(id)
	}
	p.SetLocation(c)
	return record(id, p), nil
}

func (s *Store) Delete(id uuid.UUID) error {
	p, ok := s.pins[id]
	if !ok {
		return notFound(id)
	}
	s.layer.Remove(p)
	delete(s.pins, id)
	delete(s.ids, p)
	return nil
}

// ID returns the ID of a pin returned by a layer query.
func (s *Store) ID(p pinindex.GeoPoint) (uuid.UUID, bool) {
	mp, ok := p.(*pinindex.MapPin)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := s.ids[mp]
	return id, ok
}

// Records returns every pin, ordered by ID.
func (s *Store) Records() []Record {
	records := make([]Record, 0, len(s.pins))
	for id, p := range s.pins {
		records = append(records, record(id, p))
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].ID.String() < records[j].ID.String()
	})
	return records
}

// Save writes a snapshot of the store. The file is replaced atomically.
func (s *Store) Save(path string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return snapshotError("creating snapshot file failed", path, err)
	}
	defer os.Remove(tmp.Name())

	enc, err := zstd.NewWriter(tmp, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	if err != nil {
		tmp.Close()
		return snapshotError("creating zstd writer failed", path, err)
	}

	if err := json.NewEncoder(enc).Encode(s.Records()); err != nil {
		enc.Close()
		tmp.Close()
		return snapshotError("encoding snapshot failed", path, err)
	}
	if err := enc.Close(); err != nil {
		tmp.Close()
		return snapshotError("flushing snapshot failed", path, err)
	}
	if err := tmp.Close(); err != nil {
		return snapshotError("closing snapshot file failed", path, err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return snapshotError("replacing snapshot failed", path, err)
	}
	return nil
}

// Load adds the pins of a snapshot. A missing file is not an error.
func (s *Store) Load(path string) error {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return snapshotError("opening snapshot failed", path, err)
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snapshotError("creating zstd reader failed", path, err)
	}
	defer dec.Close()

	var records []Record
	if err := json.NewDecoder(dec).Decode(&records); err != nil {
		return snapshotError("decoding snapshot failed", path, err)
	}

	for _, r := range records {
		if err := s.Put(r); err != nil {
			return err
		}
	}
	return nil
}

func record(id uuid.UUID, p *pinindex.MapPin) Record {
	c := p.GetCoordinates()
	return Record{
		ID:   id,
		Name: p.Name,
		Lon:  c.Lon,
		Lat:  c.Lat,
	}
}

func notFound(id uuid.UUID) error {
	return errors.New("pin not found").
		WithType(ErrTypePinNotFound).
		WithTag("id", id)
}

func snapshotError(msg, path string, err error) error {
	return errors.New(msg).
		WithType(ErrTypeSnapshot).
		WithTag("path", path).
		Wrap(err)
}
