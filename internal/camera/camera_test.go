package camera

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eytandecker/flightgear-telemetry/pkg/types"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

func endpointFor(t *testing.T, srv *httptest.Server) types.Endpoint {
	t.Helper()
	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return types.Endpoint{Host: host, TelnetPort: 5500, HTTPPort: port, RTSPPort: 8554}
}

func TestCameraURLs(t *testing.T) {
	c := New("FlightGear", types.Endpoint{Host: "fg.local", TelnetPort: 5500, HTTPPort: 8080, RTSPPort: 8554}, Config{})
	assert.Equal(t, "http://fg.local:8080/screenshot", c.StillImageURL())
	assert.Equal(t, "rtsp://fg.local:8554/flightgear", c.StreamSource())
	assert.Equal(t, "fg.local_camera", c.UniqueID())
	assert.Equal(t, "FlightGear View", c.Name())
}

func TestImageFetchesScreenshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/screenshot", r.URL.Path)
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("jpeg-bytes"))
	}))
	defer srv.Close()

	c := New("FG", endpointFor(t, srv), Config{})
	img, err := c.Image(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg-bytes"), img.Data)
	assert.Equal(t, "image/jpeg", img.ContentType)
}

func TestImageDetectsContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header()["Content-Type"] = nil
		_, _ = w.Write(pngHeader)
	}))
	defer srv.Close()

	img, err := New("FG", endpointFor(t, srv), Config{}).Image(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "image/png", img.ContentType)
}

func TestImageRejectsOversizedScreenshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(make([]byte, 65))
	}))
	defer srv.Close()

	_, err := New("FG", endpointFor(t, srv), Config{MaxImageBytes: 64}).Image(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Contains(t, err.Error(), "exceeds 64 bytes")

	img, err := New("FG", endpointFor(t, srv), Config{MaxImageBytes: 65}).Image(context.Background())
	require.NoError(t, err)
	assert.Len(t, img.Data, 65)
}

func TestImageNon2xxIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "no screenshot", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := New("FG", endpointFor(t, srv), Config{}).Image(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Contains(t, err.Error(), "503")
}

func TestImageUnreachableIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	ep := endpointFor(t, srv)
	srv.Close()

	_, err := New("FG", ep, Config{Timeout: time.Second}).Image(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestImageRequestsAreSpaced(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write(pngHeader)
	}))
	defer srv.Close()

	c := New("FG", endpointFor(t, srv), Config{MinInterval: time.Hour})
	_, err := c.Image(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Image(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(1), hits.Load(), "second request must wait for the limiter")
}
