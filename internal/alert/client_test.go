package alert

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSend_IgnorePriorityNeverHitsNetwork(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	c := NewClient(Config{Endpoint: srv.URL, SigningKey: []byte("secret")})
	err := c.Send(context.Background(), "front-door", Alert{Priority: PriorityIgnore})
	require.NoError(t, err)
	assert.False(t, called)
}

func TestSend_SignsBearerTokenWithCameraClaim(t *testing.T) {
	var gotAuth string
	var gotCamera string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, r.ParseMultipartForm(1<<20))
		gotCamera = r.FormValue("camera")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	key := []byte("secret")
	c := NewClient(Config{Endpoint: srv.URL, SigningKey: key})
	err := c.Send(context.Background(), "front-door", Alert{
		Title:     "motion",
		Message:   "motion detected",
		Timestamp: time.Now(),
		Priority:  PriorityNormal,
	})
	require.NoError(t, err)
	assert.Equal(t, "front-door", gotCamera)

	require.True(t, len(gotAuth) > len("Bearer "))
	tokenStr := gotAuth[len("Bearer "):]
	token, err := jwt.Parse(tokenStr, func(*jwt.Token) (interface{}, error) { return key, nil })
	require.NoError(t, err)
	claims, ok := token.Claims.(jwt.MapClaims)
	require.True(t, ok)
	assert.Equal(t, "front-door", claims["camera"])
}

func TestSend_AttachmentUploaded(t *testing.T) {
	var gotFilename string
	var gotBytes []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		file, header, err := r.FormFile("attachment")
		require.NoError(t, err)
		defer file.Close()
		gotFilename = header.Filename
		buf := make([]byte, header.Size)
		_, err = file.Read(buf)
		require.NoError(t, err)
		gotBytes = buf
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := NewClient(Config{Endpoint: srv.URL, SigningKey: []byte("k")})
	err := c.Send(context.Background(), "cam1", Alert{
		Priority: PriorityHigh,
		Attachment: &Attachment{
			Bytes:    []byte("fake-webp-bytes"),
			Mime:     "image/webp",
			Filename: "preview.webp",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "preview.webp", gotFilename)
	assert.Equal(t, []byte("fake-webp-bytes"), gotBytes)
}

func TestSend_NonSuccessStatusReturnsDescription(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"ok":false,"description":"missing field"}`))
	}))
	defer srv.Close()

	c := NewClient(Config{Endpoint: srv.URL, SigningKey: []byte("k")})
	err := c.Send(context.Background(), "cam1", Alert{Priority: PriorityLow})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing field")
}

func TestSend_NoEndpointConfigured(t *testing.T) {
	c := NewClient(Config{SigningKey: []byte("k")})
	err := c.Send(context.Background(), "cam1", Alert{Priority: PriorityNormal})
	require.Error(t, err)
}
