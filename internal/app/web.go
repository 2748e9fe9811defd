package app

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relabs-tech/pedal_telemetry/internal/axis"
	"github.com/relabs-tech/pedal_telemetry/internal/config"
	"github.com/relabs-tech/pedal_telemetry/internal/pedals"
	"github.com/relabs-tech/pedal_telemetry/internal/trace"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

const (
	defaultTraceWidth  = 800
	defaultTraceHeight = 200
	maxTraceSize       = 4096

	wsWriteTimeout = time.Second
)

// WebServer serves the live pedal state, the trace and guided detection.
type WebServer struct {
	session *Session
	mux     *http.ServeMux
}

func NewWebServer(session *Session) *WebServer {
	ws := &WebServer{session: session, mux: http.NewServeMux()}

	ws.mux.HandleFunc("/api/pedals", ws.handlePedals)
	ws.mux.HandleFunc("/api/devices", ws.handleDevices)
	ws.mux.HandleFunc("/api/config", ws.handleConfig)
	ws.mux.HandleFunc("/api/trace", ws.handleTrace)
	ws.mux.HandleFunc("/trace.html", ws.handleTraceChart)
	ws.mux.HandleFunc("/trace.png", ws.handleTracePNG)
	ws.mux.HandleFunc("/ws/pedals", ws.handlePedalsWS)
	ws.mux.HandleFunc("/ws/detect", ws.handleDetectWS)

	// Static files from ./web as the root
	ws.mux.Handle("/", http.FileServer(http.Dir("web")))
	return ws
}

func (ws *WebServer) Handler() http.Handler {
	return ws.mux
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("web: json encode error: %v", err)
	}
}

// size reads width and height query parameters.
func size(r *http.Request) (int, int, error) {
	dims := [2]int{defaultTraceWidth, defaultTraceHeight}
	for i, key := range []string{"width", "height"} {
		v := r.URL.Query().Get(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxTraceSize {
			return 0, 0, fmt.Errorf("invalid %s %q", key, v)
		}
		dims[i] = n
	}
	return dims[0], dims[1], nil
}

func (ws *WebServer) handlePedals(w http.ResponseWriter, r *http.Request) {
	mappings := ws.session.Poller.Mappings()
	connected := make(map[string]bool, pedals.ChannelCount)
	devices := make(map[string]string, pedals.ChannelCount)
	for _, ch := range pedals.Channels {
		connected[ch.String()] = ws.session.Poller.Connected(ch)
		devices[ch.String()] = mappings[ch].DeviceID
	}
	writeJSON(w, struct {
		trace.Sample
		Connected map[string]bool   `json:"connected"`
		Devices   map[string]string `json:"devices"`
	}{
		Sample:    trace.Sample{Time: time.Now(), Sample: ws.session.Poller.Last()},
		Connected: connected,
		Devices:   devices,
	})
}

func (ws *WebServer) handleDevices(w http.ResponseWriter, r *http.Request) {
	devs, err := ws.session.ListAxes()
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, devs)
}

// channelConfig is the mapping of one channel as exposed over HTTP.
type channelConfig struct {
	Device *int   `json:"device"`
	Axis   int    `json:"axis"`
	Name   string `json:"axis_name"`
	Color  string `json:"color"`
}

func (ws *WebServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		if err := ws.updateConfig(r); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	cfg := ws.session.Config()
	channels := make(map[string]channelConfig, pedals.ChannelCount)
	for _, ch := range pedals.Channels {
		sel := cfg.Axis(ch)
		channels[ch.String()] = channelConfig{
			Device: cfg.Device(ch),
			Axis:   sel.Legacy(),
			Name:   sel.String(),
			Color:  cfg.Color(ch),
		}
	}
	writeJSON(w, struct {
		Channels     map[string]channelConfig `json:"channels"`
		TraceSeconds int                      `json:"trace_seconds"`
		Backend      string                   `json:"backend"`
	}{channels, cfg.TraceSeconds, cfg.Backend})
}

// updateConfig applies the form fields of a POST /api/config:
// trace_seconds, and for one channel any of device (empty unmaps), axis
// (legacy code) and color.
func (ws *WebServer) updateConfig(r *http.Request) error {
	if err := r.ParseForm(); err != nil {
		return err
	}
	form := r.PostForm

	if form.Has("trace_seconds") {
		secs, err := strconv.Atoi(form.Get("trace_seconds"))
		if err != nil || secs <= 0 {
			return fmt.Errorf("invalid trace_seconds %q", form.Get("trace_seconds"))
		}
		ws.session.SetTraceWindow(time.Duration(secs) * time.Second)
	}

	if !form.Has("channel") {
		if form.Has("device") || form.Has("axis") || form.Has("color") {
			return fmt.Errorf("channel is required")
		}
		return nil
	}
	ch, err := pedals.ParseChannel(form.Get("channel"))
	if err != nil {
		return err
	}

	if form.Has("device") || form.Has("axis") {
		cfg := ws.session.Config()
		ordinal := cfg.Device(ch)
		sel := cfg.Axis(ch)
		if form.Has("device") {
			ordinal = nil
			if v := form.Get("device"); v != "" {
				n, err := strconv.Atoi(v)
				if err != nil {
					return fmt.Errorf("invalid device %q", v)
				}
				ordinal = &n
			}
		}
		if form.Has("axis") {
			n, err := strconv.Atoi(form.Get("axis"))
			if err != nil {
				return fmt.Errorf("invalid axis %q", form.Get("axis"))
			}
			sel = axis.FromLegacy(n)
		}
		if err := ws.session.SetMapping(ch, ordinal, sel); err != nil {
			return err
		}
	}

	if form.Has("color") {
		if err := ws.session.SetColor(ch, form.Get("color")); err != nil {
			return err
		}
	}
	return nil
}

func (ws *WebServer) handleTrace(w http.ResponseWriter, r *http.Request) {
	width, height, err := size(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	lines := ws.session.Trace.Project(float64(width), float64(height), time.Now())
	out := make(map[string][]trace.Point, pedals.ChannelCount)
	for _, ch := range pedals.Channels {
		out[ch.String()] = lines[ch]
	}
	writeJSON(w, out)
}

func (ws *WebServer) handleTraceChart(w http.ResponseWriter, r *http.Request) {
	cfg := ws.session.Config()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := ws.session.Trace.Chart(w, cfg.ColorStrings(), time.Now()); err != nil {
		log.Printf("web: chart render error: %v", err)
	}
}

func (ws *WebServer) handleTracePNG(w http.ResponseWriter, r *http.Request) {
	width, height, err := size(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	cfg := ws.session.Config()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	ws.session.Trace.Render(img, cfg.Colors(), time.Now())

	w.Header().Set("Content-Type", "image/png")
	if err := png.Encode(w, img); err != nil {
		log.Printf("web: png encode error: %v", err)
	}
}

func (ws *WebServer) handlePedalsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("web: websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	samples := make(chan trace.Sample, 16)
	unsubscribe := ws.session.Subscribe(func(s pedals.Sample) {
		select {
		case samples <- trace.Sample{Time: time.Now(), Sample: s}:
		default:
		}
	})
	defer unsubscribe()

	// the client never sends anything; reading detects the close
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case s := <-samples:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(s); err != nil {
				log.Printf("web: pedals stream write error: %v", err)
				return
			}
		}
	}
}

// WSMessage is a request on /ws/detect.
type WSMessage struct {
	Action  string `json:"action"` // start, cancel
	Channel string `json:"channel,omitempty"`
}

// WSResponse is sent on /ws/detect.
type WSResponse struct {
	Type    string      `json:"type"` // status, result, error
	Channel string      `json:"channel,omitempty"`
	Outcome string      `json:"outcome,omitempty"`
	Result  interface{} `json:"result,omitempty"`
	Message string      `json:"message,omitempty"`
}

// detectSession holds one /ws/detect connection.
type detectSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (d *detectSession) send(resp WSResponse) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := d.conn.WriteJSON(resp); err != nil {
		log.Printf("detect: websocket write error: %v", err)
	}
}

func (d *detectSession) sendError(message string) {
	d.send(WSResponse{Type: "error", Message: message})
}

func (ws *WebServer) handleDetectWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("detect: websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	session := &detectSession{conn: conn}

	// Main message loop
	for {
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("detect: websocket read error: %v", err)
			}
			return
		}

		switch msg.Action {
		case "start":
			ch, err := pedals.ParseChannel(msg.Channel)
			if err != nil {
				session.sendError(err.Error())
				continue
			}
			log.Printf("detect: starting detection for %s", ch)
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, out, err := ws.session.Detect(ctx, ch, func(status string) {
					session.send(WSResponse{Type: "status", Channel: ch.String(), Message: status})
				})
				if err != nil {
					session.sendError(err.Error())
				}
				resp := WSResponse{Type: "result", Channel: ch.String(), Outcome: out.String()}
				if res != nil {
					resp.Result = res
				}
				session.send(resp)
			}()

		case "cancel":
			log.Printf("detect: cancelled by user")
			ws.session.CancelDetection()

		default:
			session.sendError(fmt.Sprintf("unknown action %q", msg.Action))
		}
	}
}

// RunWeb serves the web UI on WEB_SERVER_PORT until ctx is done.
func RunWeb(ctx context.Context, cfg *config.Config, session *Session) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.WebServerPort),
		Handler: NewWebServer(session).Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("web: server listening on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
