package app

import (
	"encoding/json"
	"image/png"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/pedal_telemetry/internal/axis"
	"github.com/relabs-tech/pedal_telemetry/internal/config"
	"github.com/relabs-tech/pedal_telemetry/internal/detect"
	"github.com/relabs-tech/pedal_telemetry/internal/pedals"
)

func newTestServer(t *testing.T) (*testRig, *httptest.Server) {
	t.Helper()
	rig := newTestRig(t)
	srv := httptest.NewServer(NewWebServer(rig.session).Handler())
	t.Cleanup(srv.Close)
	return rig, srv
}

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWeb_Pedals(t *testing.T) {
	t.Parallel()
	rig, srv := newTestServer(t)
	rig.pedals.Set(axis.Ordinary(0), axis.RawMax)
	require.NoError(t, rig.session.Start())
	require.Eventually(t, func() bool {
		return rig.session.Poller.Last().Throttle > 0.99
	}, time.Second, 5*time.Millisecond)

	resp, err := http.Get(srv.URL + "/api/pedals")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Throttle  float64         `json:"throttle"`
		Brake     float64         `json:"brake"`
		Time      time.Time       `json:"time"`
		Connected map[string]bool   `json:"connected"`
		Devices   map[string]string `json:"devices"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.InDelta(t, 1.0, body.Throttle, 1e-4)
	assert.Zero(t, body.Brake)
	assert.False(t, body.Time.IsZero())
	assert.Equal(t, map[string]bool{"clutch": false, "brake": false, "throttle": true}, body.Connected)
	assert.Equal(t, map[string]string{"clutch": "", "brake": "", "throttle": "pedals"}, body.Devices)
}

func TestWeb_Config(t *testing.T) {
	t.Parallel()
	rig, srv := newTestServer(t)

	resp, err := http.PostForm(srv.URL+"/api/config", url.Values{"trace_seconds": {"4"}})
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Channels map[string]struct {
			Device *int   `json:"device"`
			Axis   int    `json:"axis"`
			Name   string `json:"axis_name"`
			Color  string `json:"color"`
		} `json:"channels"`
		TraceSeconds int `json:"trace_seconds"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 4, body.TraceSeconds)
	assert.Equal(t, 4*time.Second, rig.session.Trace.Window())

	thr := body.Channels["throttle"]
	require.NotNil(t, thr.Device)
	assert.Equal(t, 0, *thr.Device)
	assert.Equal(t, "X Axis", thr.Name)
	assert.Equal(t, "#95E1D3", thr.Color)
	assert.Nil(t, body.Channels["clutch"].Device)
	assert.Equal(t, 2, body.Channels["clutch"].Axis)

	bad, err := http.PostForm(srv.URL+"/api/config", url.Values{"trace_seconds": {"-1"}})
	require.NoError(t, err)
	bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestWeb_ConfigManualMapping(t *testing.T) {
	t.Parallel()
	rig, srv := newTestServer(t)
	rig.wheel.Set(axis.Slider(0), axis.RawMax)
	require.NoError(t, rig.session.Start())

	post := func(form url.Values) int {
		resp, err := http.PostForm(srv.URL+"/api/config", form)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	require.Equal(t, http.StatusOK, post(url.Values{"channel": {"brake"}, "device": {"1"}, "axis": {"100"}}))

	cfg := rig.session.Config()
	require.NotNil(t, cfg.BrakeDevice)
	assert.Equal(t, 1, *cfg.BrakeDevice)
	assert.Equal(t, axis.Slider(0), cfg.Axis(pedals.Brake))
	assert.True(t, rig.session.Poller.Running(), "polling resumes after a mapping change")
	assert.Equal(t, "wheel", rig.session.Poller.Mappings()[pedals.Brake].DeviceID)
	require.Eventually(t, func() bool {
		return rig.session.Poller.Last().Brake > 0.99
	}, time.Second, 5*time.Millisecond)

	require.Equal(t, http.StatusOK, post(url.Values{"channel": {"brake"}, "color": {"#102030"}}))
	assert.Equal(t, "#102030", rig.session.Config().ColorBrake)

	saved, err := config.Load(rig.path)
	require.NoError(t, err)
	require.NotNil(t, saved.BrakeDevice)
	assert.Equal(t, 1, *saved.BrakeDevice)
	assert.Equal(t, 100, saved.BrakeAxis)
	assert.Equal(t, "#102030", saved.ColorBrake)

	// axis only keeps the device
	require.Equal(t, http.StatusOK, post(url.Values{"channel": {"throttle"}, "axis": {"3"}}))
	cfg = rig.session.Config()
	require.NotNil(t, cfg.ThrottleDevice)
	assert.Equal(t, 0, *cfg.ThrottleDevice)
	assert.Equal(t, axis.Ordinary(3), cfg.Axis(pedals.Throttle))

	require.Equal(t, http.StatusOK, post(url.Values{"channel": {"brake"}, "device": {""}}))
	assert.Nil(t, rig.session.Config().BrakeDevice)
	assert.False(t, rig.session.Poller.Connected(pedals.Brake))

	for _, form := range []url.Values{
		{"channel": {"brake"}, "axis": {"42"}},
		{"channel": {"brake"}, "device": {"-1"}},
		{"channel": {"brake"}, "device": {"x"}},
		{"channel": {"brake"}, "color": {"nope"}},
		{"channel": {"sideways"}, "axis": {"1"}},
		{"axis": {"1"}},
	} {
		assert.Equal(t, http.StatusBadRequest, post(form), form.Encode())
	}
	assert.Equal(t, "#102030", rig.session.Config().ColorBrake)
}

func TestWeb_Devices(t *testing.T) {
	t.Parallel()
	_, srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/devices")
	require.NoError(t, err)
	defer resp.Body.Close()

	var devs []DeviceAxes
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&devs))
	require.Len(t, devs, 2)
	assert.Equal(t, "Pedal Set", devs[0].Name)
	assert.Equal(t, axis.Slider(0), devs[1].Axes[6].Axis)
}

func TestWeb_Trace(t *testing.T) {
	t.Parallel()
	rig, srv := newTestServer(t)
	for i := 0; i < 3; i++ {
		rig.session.Trace.Add(pedals.Sample{Throttle: 0.5})
	}

	resp, err := http.Get(srv.URL + "/api/trace?width=100&height=50")
	require.NoError(t, err)
	defer resp.Body.Close()
	var lines map[string][]struct{ X, Y float64 }
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&lines))
	require.Len(t, lines["throttle"], 3)
	assert.InDelta(t, 25, lines["throttle"][0].Y, 1e-9)

	img, err := http.Get(srv.URL + "/trace.png?width=64&height=32")
	require.NoError(t, err)
	defer img.Body.Close()
	assert.Equal(t, "image/png", img.Header.Get("Content-Type"))
	decoded, err := png.Decode(img.Body)
	require.NoError(t, err)
	assert.Equal(t, 64, decoded.Bounds().Dx())
	assert.Equal(t, 32, decoded.Bounds().Dy())

	chart, err := http.Get(srv.URL + "/trace.html")
	require.NoError(t, err)
	defer chart.Body.Close()
	assert.Contains(t, chart.Header.Get("Content-Type"), "text/html")

	for _, q := range []string{"width=0", "height=abc", "width=99999"} {
		resp, err := http.Get(srv.URL + "/api/trace?" + q)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, q)
	}
}

func TestWeb_PedalsStream(t *testing.T) {
	t.Parallel()
	rig, srv := newTestServer(t)
	rig.pedals.Set(axis.Ordinary(0), axis.RawMax)
	require.NoError(t, rig.session.Start())

	conn := dial(t, srv, "/ws/pedals")
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var msg struct {
			Throttle float64 `json:"throttle"`
		}
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Throttle > 0.99 {
			break
		}
	}
}

func TestWeb_DetectSession(t *testing.T) {
	t.Parallel()
	rig, srv := newTestServer(t)
	require.NoError(t, rig.session.Start())

	conn := dial(t, srv, "/ws/detect")
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	require.NoError(t, conn.WriteJSON(WSMessage{Action: "start", Channel: "sideways"}))
	var resp WSResponse
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, "error", resp.Type)

	require.NoError(t, conn.WriteJSON(WSMessage{Action: "start", Channel: "clutch"}))
	for {
		var msg struct {
			Type    string         `json:"type"`
			Channel string         `json:"channel"`
			Outcome string         `json:"outcome"`
			Message string         `json:"message"`
			Result  *detect.Result `json:"result"`
		}
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == "status" && msg.Message == detect.StatusPress {
			rig.pedals.Set(axis.Ordinary(2), 15000)
			continue
		}
		if msg.Type != "result" {
			continue
		}
		assert.Equal(t, "clutch", msg.Channel)
		assert.Equal(t, "detected", msg.Outcome)
		require.NotNil(t, msg.Result)
		assert.Equal(t, "pedals", msg.Result.DeviceID)
		assert.Equal(t, axis.Ordinary(2), msg.Result.Axis)
		break
	}

	cfg := rig.session.Config()
	require.NotNil(t, cfg.ClutchDevice)
	assert.Equal(t, 0, *cfg.ClutchDevice)
	assert.Equal(t, 2, cfg.ClutchAxis)
}

func TestWeb_DetectCancel(t *testing.T) {
	t.Parallel()
	_, srv := newTestServer(t)

	conn := dial(t, srv, "/ws/detect")
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	require.NoError(t, conn.WriteJSON(WSMessage{Action: "start", Channel: "brake"}))

	for {
		var resp WSResponse
		require.NoError(t, conn.ReadJSON(&resp))
		if resp.Type == "status" && resp.Message == detect.StatusPress {
			require.NoError(t, conn.WriteJSON(WSMessage{Action: "cancel"}))
			continue
		}
		if resp.Type == "result" {
			assert.Equal(t, "cancelled", resp.Outcome)
			assert.Nil(t, resp.Result)
			return
		}
	}
}
