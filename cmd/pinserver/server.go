package main

import (
	"context"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/paulmach/orb/geojson"
	"golang.org/x/net/websocket"

	pinindex "gopinindex"
	"gopinindex/pinstore"
)

// server exposes a pin layer over HTTP. Every access to the layer and the
// store goes through mu.
type server struct {
	ctx           context.Context
	frameDuration time.Duration

	mu    sync.Mutex
	layer *pinindex.Layer
	store *pinstore.Store

	// stream handlers and their readers
	streams sync.WaitGroup
}

func newServer(ctx context.Context, layer *pinindex.Layer, store *pinstore.Store, frameDuration time.Duration) *server {
	return &server{
		ctx:           ctx,
		frameDuration: frameDuration,
		layer:         layer,
		store:         store,
	}
}

func (s *server) router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logRequests)

	// Enable CORS
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	r.POST("/pins", s.handleAddPin)
	r.GET("/pins/:id", s.handleGetPin)
	r.PUT("/pins/:id/location", s.handleMovePin)
	r.DELETE("/pins/:id", s.handleDeletePin)
	r.GET("/query", s.handleQuery)
	r.GET("/settings", s.handleGetSettings)
	r.PUT("/settings", s.handleSetSettings)
	r.GET("/stream", gin.WrapH(websocket.Server{
		Handshake: func(c *websocket.Config, r *http.Request) error {
			return nil
		},
		Handler: s.handleStream,
	}))
	return r
}

func logRequests(c *gin.Context) {
	start := time.Now()
	c.Next()

	logs.WithTag("method", c.Request.Method).
		WithTag("path", c.Request.URL.Path).
		WithTag("status", c.Writer.Status()).
		WithTag("duration", time.Since(start).String()).
		Debug("request served")
}

// routePath maps a request path to the route it was served by.
func routePath(path string) string {
	if strings.HasPrefix(path, "/pins/") {
		if strings.HasSuffix(path, "/location") {
			return "/pins/:id/location"
		}
		return "/pins/:id"
	}
	return path
}

type pinRequest struct {
	Name string  `json:"name"`
	Lon  float64 `json:"lon"`
	Lat  float64 `json:"lat"`
}

func (r pinRequest) coordinates() (pinindex.GeoCoordinates, error) {
	if math.IsNaN(r.Lon) || r.Lon < -180 || r.Lon > 180 {
		return pinindex.GeoCoordinates{}, errors.New("longitude out of range").WithTag("lon", r.Lon)
	}
	if math.IsNaN(r.Lat) || r.Lat < -90 || r.Lat > 90 {
		return pinindex.GeoCoordinates{}, errors.New("latitude out of range").WithTag("lat", r.Lat)
	}
	return pinindex.GeoCoordinates{Lon: r.Lon, Lat: r.Lat}, nil
}

func (s *server) handleAddPin(c *gin.Context) {
	var req pinRequest
	if err := c.BindJSON(&req); err != nil {
		return
	}
	loc, err := req.coordinates()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.store.Add(req.Name, loc)
	if err != nil {
		logs.Warn(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to add pin"})
		return
	}
	c.JSON(http.StatusCreated, rec)
}

func (s *server) handleGetPin(c *gin.Context) {
	id, ok := pinID(c)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.store.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Pin not found"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *server) handleMovePin(c *gin.Context) {
	id, ok := pinID(c)
	if !ok {
		return
	}

	var req pinRequest
	if err := c.BindJSON(&req); err != nil {
		return
	}
	loc, err := req.coordinates()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.store.Move(id, loc)
	if errors.IsType(err, pinstore.ErrTypePinNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Pin not found"})
		return
	}
	if err != nil {
		logs.Warn(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to move pin"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *server) handleDeletePin(c *gin.Context) {
	id, ok := pinID(c)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.store.Delete(id)
	if errors.IsType(err, pinstore.ErrTypePinNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Pin not found"})
		return
	}
	if err != nil {
		logs.Warn(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete pin"})
		return
	}
	c.Status(http.StatusNoContent)
}

func pinID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid pin id"})
		return uuid.Nil, false
	}
	return id, true
}

func (s *server) handleQuery(c *gin.Context) {
	var v viewport
	if err := c.BindQuery(&v); err != nil {
		return
	}
	r, err := v.region()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.mu.Lock()
	res := s.layer.Query(r, v.LOD)
	fc := geojson.NewFeatureCollection()
	for _, p := range res.Points {
		if f, ok := s.pinFeature(p); ok {
			fc.Append(f)
		}
	}
	for _, cl := range res.Clusters {
		fc.Append(clusterFeature(cl))
	}
	s.mu.Unlock()

	b, err := fc.MarshalJSON()
	if err != nil {
		logs.Warn(errors.New("encoding feature collection failed").Wrap(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to encode query result"})
		return
	}
	c.Data(http.StatusOK, "application/geo+json", b)
}

// viewport is the region and level of detail a client looks at. A positive
// radius selects a circle around lat/lon, otherwise the box is used.
type viewport struct {
	North  float64 `form:"north"  json:"north"`
	South  float64 `form:"south"  json:"south"`
	East   float64 `form:"east"   json:"east"`
	West   float64 `form:"west"   json:"west"`
	Lat    float64 `form:"lat"    json:"lat"`
	Lon    float64 `form:"lon"    json:"lon"`
	Radius float64 `form:"radius" json:"radius"`
	LOD    float64 `form:"lod"    json:"lod"`
}

func (v viewport) region() (pinindex.Region, error) {
	for name, f := range map[string]float64{
		"north":  v.North,
		"south":  v.South,
		"east":   v.East,
		"west":   v.West,
		"lat":    v.Lat,
		"lon":    v.Lon,
		"radius": v.Radius,
		"lod":    v.LOD,
	} {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, errors.Newf("invalid %s parameter", name)
		}
	}

	if v.Radius > 0 {
		return pinindex.Circle{
			Center: pinindex.GeoCoordinates{Lon: v.Lon, Lat: v.Lat},
			Radius: v.Radius,
		}, nil
	}
	if v.North == v.South || v.East == v.West {
		return nil, errors.New("empty viewport").
			WithTag("north", v.North).
			WithTag("south", v.South).
			WithTag("east", v.East).
			WithTag("west", v.West)
	}
	return pinindex.NewBox(v.North, v.South, v.East, v.West), nil
}

// pinFeature must be called with mu held.
func (s *server) pinFeature(p pinindex.GeoPoint) (*geojson.Feature, bool) {
	id, ok := s.store.ID(p)
	if !ok {
		return nil, false
	}
	rec, _ := s.store.Get(id)

	f := geojson.NewFeature(p.GetCoordinates().Point())
	f.ID = id.String()
	f.Properties["name"] = rec.Name
	return f, true
}

func clusterFeature(c pinindex.ClusterPoint) *geojson.Feature {
	id := pinindex.ClusterID(c).String()

	f := geojson.NewFeature(c.GetCoordinates().Point())
	f.ID = id
	f.Properties["cluster"] = true
	f.Properties["cluster_id"] = id
	f.Properties["point_count"] = c.NumberOfPoints()
	f.Properties["zoom"] = c.Zoom()
	return f
}

type settings struct {
	ClusteringEnabled *bool `json:"clustering_enabled,omitempty"`
	ClusterThreshold  *int  `json:"cluster_threshold,omitempty"`
}

func (s *server) currentSettings() settings {
	o := s.layer.Options()
	return settings{
		ClusteringEnabled: &o.ClusteringEnabled,
		ClusterThreshold:  &o.ClusterThreshold,
	}
}

func (s *server) handleGetSettings(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c.JSON(http.StatusOK, s.currentSettings())
}

func (s *server) handleSetSettings(c *gin.Context) {
	var req settings
	if err := c.BindJSON(&req); err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if req.ClusteringEnabled != nil {
		s.layer.SetClusteringEnabled(*req.ClusteringEnabled)
	}
	if req.ClusterThreshold != nil {
		s.layer.SetClusterThreshold(*req.ClusterThreshold)
	}
	c.JSON(http.StatusOK, s.currentSettings())
}

func (s *server) saveSnapshot(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.store.Save(path)
}

func (s *server) saveSnapshots(ctx context.Context, path string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			if err := s.saveSnapshot(path); err != nil {
				logs.Warn(errors.New("saving snapshot failed").Wrap(err))
				continue
			}
			logs.WithTag("path", path).
				WithTag("interval", interval.String()).
				Debug("snapshot saved")
		}
	}
}
