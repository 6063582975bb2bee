package ws

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitReachesClient(t *testing.T) {
	gin.SetMode(gin.TestMode)

	hub := NewHub()
	hub.Start()
	defer hub.Stop()

	router := gin.New()
	router.GET("/ws", hub.HandleWS)
	srv := httptest.NewServer(router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Wait for the registration to land
	require.Eventually(t, func() bool {
		return hub.ClientCount() == 1
	}, time.Second, 10*time.Millisecond)

	hub.Emit(EventAlert, map[string]string{"message": "GPU 0 running hot"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var event Event
	require.NoError(t, json.Unmarshal(payload, &event))
	assert.Equal(t, EventAlert, event.Type)
	assert.NotZero(t, event.Timestamp)
}

func TestStopClosesClients(t *testing.T) {
	gin.SetMode(gin.TestMode)

	hub := NewHub()
	hub.Start()

	router := gin.New()
	router.GET("/ws", hub.HandleWS)
	srv := httptest.NewServer(router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return hub.ClientCount() == 1
	}, time.Second, 10*time.Millisecond)

	hub.Stop()
	assert.Equal(t, 0, hub.ClientCount())
}

func TestEmitWithoutClientsDoesNotBlock(t *testing.T) {
	hub := NewHub()
	hub.Start()
	defer hub.Stop()

	for i := 0; i < 100; i++ {
		hub.Emit(EventDigest, map[string]int{"n": i})
	}
}
