package app

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/gorilla/websocket"

	"github.com/relabs-tech/epuck_driver/internal/config"
	"github.com/relabs-tech/epuck_driver/internal/driver"
	"github.com/relabs-tech/epuck_driver/internal/mqttio"
	"github.com/relabs-tech/epuck_driver/internal/scan"
)

// scanHub keeps the latest scan and telemetry seen on the broker and fans
// scans out to websocket clients.
type scanHub struct {
	mu            sync.RWMutex
	scan          scan.Scan
	haveScan      bool
	scanAt        time.Time
	telemetry     driver.Telemetry
	haveTelemetry bool

	clients map[chan scan.Scan]struct{}
	now     func() time.Time
}

func newScanHub() *scanHub {
	return &scanHub{
		clients: make(map[chan scan.Scan]struct{}),
		now:     time.Now,
	}
}

func (h *scanHub) putScan(s scan.Scan) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.scan = s
	h.haveScan = true
	h.scanAt = h.now()
	for ch := range h.clients {
		// Slow clients lose intermediate scans rather than stall the hub.
		select {
		case ch <- s:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- s:
			default:
			}
		}
	}
}

func (h *scanHub) putTelemetry(t driver.Telemetry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.telemetry = t
	h.haveTelemetry = true
}

func (h *scanHub) subscribe() (<-chan scan.Scan, func()) {
	ch := make(chan scan.Scan, 1)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch, func() {
		h.mu.Lock()
		delete(h.clients, ch)
		h.mu.Unlock()
	}
}

// ErrResponse is the JSON error body of the API.
type ErrResponse struct {
	HTTPStatusCode int    `json:"-"`
	StatusText     string `json:"status"`
	ErrorText      string `json:"error,omitempty"`
}

func (e *ErrResponse) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.HTTPStatusCode)
	return nil
}

var errNoScan = &ErrResponse{
	HTTPStatusCode: http.StatusServiceUnavailable,
	StatusText:     "no data yet",
	ErrorText:      "no scan received from the driver",
}

// HealthResponse reports whether the driver is producing scans.
type HealthResponse struct {
	HaveScan bool          `json:"have_scan"`
	Seq      uint64        `json:"seq"`
	AgeMS    int64         `json:"age_ms"`
	Stale    bool          `json:"stale"`
	Stats    *driver.Stats `json:"stats,omitempty"`
}

// NearestResponse is the closest in-range obstacle of the latest scan.
type NearestResponse struct {
	Index    int     `json:"index"`
	Bearing  float64 `json:"bearing_rad"`
	Distance float64 `json:"distance_m"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // robot LAN tool
	},
}

func (h *scanHub) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/scan", h.handleScan)
		r.Get("/scan/nearest", h.handleNearest)
		r.Get("/telemetry", h.handleTelemetry)
		r.Get("/health", h.handleHealth)
	})
	r.Get("/ws/scan", h.handleScanWS)
	return r
}

func (h *scanHub) handleScan(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	s, ok := h.scan, h.haveScan
	h.mu.RUnlock()
	if !ok {
		render.Render(w, r, errNoScan)
		return
	}
	render.JSON(w, r, s)
}

func (h *scanHub) handleNearest(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	s, ok := h.scan, h.haveScan
	h.mu.RUnlock()
	if !ok {
		render.Render(w, r, errNoScan)
		return
	}
	idx, dist, found := scan.Nearest(s)
	if !found {
		render.Render(w, r, &ErrResponse{
			HTTPStatusCode: http.StatusNotFound,
			StatusText:     "clear",
			ErrorText:      "no obstacle in range",
		})
		return
	}
	render.JSON(w, r, NearestResponse{Index: idx, Bearing: scan.Bearing(idx), Distance: dist})
}

func (h *scanHub) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	t, ok := h.telemetry, h.haveTelemetry
	h.mu.RUnlock()
	if !ok {
		render.Render(w, r, &ErrResponse{
			HTTPStatusCode: http.StatusServiceUnavailable,
			StatusText:     "no data yet",
			ErrorText:      "telemetry disabled or driver not running",
		})
		return
	}
	render.JSON(w, r, t)
}

func (h *scanHub) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	resp := HealthResponse{HaveScan: h.haveScan}
	if h.haveScan {
		resp.Seq = h.scan.Seq
		resp.Stale = h.scan.Stale
		resp.AgeMS = h.now().Sub(h.scanAt).Milliseconds()
	}
	if h.haveTelemetry {
		st := h.telemetry.Stats
		resp.Stats = &st
	}
	render.JSON(w, r, resp)
}

// handleScanWS streams every scan as a JSON text message until the client
// goes away.
func (h *scanHub) handleScanWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("web: websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	scans, cancel := h.subscribe()
	defer cancel()

	// Reader goroutine only notices the close.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Printf("web: websocket error: %v", err)
				}
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case s := <-scans:
			conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
			if err := conn.WriteJSON(s); err != nil {
				log.Printf("web: websocket write error: %v", err)
				return
			}
		}
	}
}

func (h *scanHub) scanHandler(_ mqtt.Client, msg mqtt.Message) {
	var s scan.Scan
	if err := json.Unmarshal(msg.Payload(), &s); err != nil {
		log.Printf("web: scan unmarshal error: %v", err)
		return
	}
	h.putScan(s)
}

func (h *scanHub) telemetryHandler(_ mqtt.Client, msg mqtt.Message) {
	var t driver.Telemetry
	if err := json.Unmarshal(msg.Payload(), &t); err != nil {
		log.Printf("web: telemetry unmarshal error: %v", err)
		return
	}
	h.putTelemetry(t)
}

func RunWeb() error {
	cfg := config.Get()
	hub := newScanHub()

	onConnect := func(c mqtt.Client) {
		if err := mqttio.Subscribe(c, cfg.TopicScan, hub.scanHandler); err != nil {
			log.Printf("web: %v", err)
		}
		if cfg.TopicTelemetry != "" {
			if err := mqttio.Subscribe(c, cfg.TopicTelemetry, hub.telemetryHandler); err != nil {
				log.Printf("web: %v", err)
			}
		}
	}
	client, err := mqttio.Connect(cfg.MQTTBroker, cfg.MQTTClientIDWeb, onConnect)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	addr := fmt.Sprintf(":%d", cfg.WebServerPort)
	log.Printf("web: server listening on %s", addr)
	return http.ListenAndServe(addr, hub.router())
}
