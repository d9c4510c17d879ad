package main

import (
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/paulmach/orb/geojson"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"

	pinindex "gopinindex"
)

// frame is the change a stream client applies to its map. Hidden holds the
// IDs of features sent earlier.
type frame struct {
	Shown   []*geojson.Feature `json:"shown,omitempty"`
	Updated []*geojson.Feature `json:"updated,omitempty"`
	Hidden  []string           `json:"hidden,omitempty"`
}

func (f frame) empty() bool {
	return len(f.Shown) == 0 && len(f.Updated) == 0 && len(f.Hidden) == 0
}

type sentFeature struct {
	id     string
	coords pinindex.GeoCoordinates
	count  int
}

// stream is the state of one websocket client.
type stream struct {
	tracker *pinindex.FrameTracker
	sent    map[pinindex.GeoPoint]sentFeature
	region  pinindex.Region
	lod     float64
}

func newStream() *stream {
	return &stream{
		tracker: pinindex.NewFrameTracker(),
		sent:    make(map[pinindex.GeoPoint]sentFeature),
	}
}

// handleStream reads viewports from the client and answers with the frames
// needed to keep its map in sync. The viewport is re-queried every frame
// duration so that moves made by other clients show up.
func (s *server) handleStream(conn *websocket.Conn) {
	s.streams.Add(2)
	defer s.streams.Done()
	defer conn.Close()

	viewports := make(chan viewport)
	done := make(chan struct{})
	quit := make(chan struct{})
	defer close(quit)

	go func() {
		defer s.streams.Done()
		defer close(done)
		s.readViewports(conn, viewports, quit)
	}()

	st := newStream()
	ticker := time.NewTicker(s.frameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return

		case <-done:
			return

		case v := <-viewports:
			r, err := v.region()
			if err != nil {
				logs.WithTag("viewport", v).Debug("ignoring invalid viewport")
				continue
			}
			st.region = r
			st.lod = v.LOD

		case <-ticker.C:
		}

		if st.region == nil {
			continue
		}

		f := s.nextFrame(st)
		if f.empty() {
			continue
		}

		b, err := json.Marshal(f)
		if err != nil {
			logs.Warn(errors.New("encoding frame failed").Wrap(err))
			return
		}
		if err := websocket.Message.Send(conn, string(b)); err != nil {
			logs.WithTag("error", err.Error()).Debug("sending frame failed")
			return
		}
	}
}

// readViewports forwards the viewports sent by the client until the connection
// fails or quit is closed.
func (s *server) readViewports(conn *websocket.Conn, viewports chan<- viewport, quit <-chan struct{}) {
	for {
		var msg string
		if err := websocket.Message.Receive(conn, &msg); err != nil {
			return
		}

		var v viewport
		if err := json.Unmarshal([]byte(msg), &v); err != nil {
			logs.Warn(errors.New("decoding viewport failed").Wrap(err))
			continue
		}

		select {
		case viewports <- v:
		case <-quit:
			return
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *server) nextFrame(st *stream) frame {
	s.mu.Lock()
	defer s.mu.Unlock()

	var f frame
	diff := st.tracker.Update(s.layer.Query(st.region, st.lod))

	hide := func(p pinindex.GeoPoint) {
		if sent, ok := st.sent[p]; ok {
			f.Hidden = append(f.Hidden, sent.id)
			delete(st.sent, p)
		}
	}
	for _, p := range diff.HiddenPins {
		hide(p)
	}
	for _, c := range diff.HiddenClusters {
		hide(c)
	}

	for p, sent := range st.sent {
		count := 0
		if c, ok := p.(pinindex.ClusterPoint); ok {
			count = c.NumberOfPoints()
		}
		if p.GetCoordinates() == sent.coords && count == sent.count {
			continue
		}

		var feat *geojson.Feature
		if c, ok := p.(pinindex.ClusterPoint); ok {
			feat = clusterFeature(c)
		} else if feat, ok = s.pinFeature(p); !ok {
			continue
		}
		f.Updated = append(f.Updated, feat)
		st.sent[p] = sentFeature{id: sent.id, coords: p.GetCoordinates(), count: count}
	}

	for _, p := range diff.ShownPins {
		feat, ok := s.pinFeature(p)
		if !ok {
			continue
		}
		f.Shown = append(f.Shown, feat)
		st.sent[p] = sentFeature{id: feat.ID.(string), coords: p.GetCoordinates()}
	}
	for _, c := range diff.ShownClusters {
		feat := clusterFeature(c)
		f.Shown = append(f.Shown, feat)
		st.sent[c] = sentFeature{
			id:     feat.ID.(string),
			coords: c.GetCoordinates(),
			count:  c.NumberOfPoints(),
		}
	}
	return f
}
