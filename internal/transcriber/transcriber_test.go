package transcriber

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleSRT = "1\n00:00:01,000 --> 00:00:02,000\nKonnichiwa.\n"

type fakeExtractor struct {
	err error
}

func (f *fakeExtractor) ExtractAudio(_ context.Context, _ string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	tmp, err := os.CreateTemp("", "audio-*.wav")
	if err != nil {
		return "", err
	}
	tmp.WriteString("RIFF")
	tmp.Close()
	return tmp.Name(), nil
}

func newASRServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/asr":
			if r.URL.Query().Get("task") != "transcribe" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			w.Write([]byte(sampleSRT))
		case "/openapi.json":
			w.Write([]byte(`{}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClientTranscribe(t *testing.T) {
	srv := newASRServer(t)
	c, err := NewClient(ClientConfig{URL: srv.URL}, zerolog.Nop())
	require.NoError(t, err)

	audio := filepath.Join(t.TempDir(), "a.wav")
	require.NoError(t, os.WriteFile(audio, []byte("RIFF"), 0o644))

	data, err := c.Transcribe(context.Background(), audio, "ja")
	require.NoError(t, err)
	assert.Equal(t, sampleSRT, string(data))

	assert.NoError(t, c.Health(context.Background()))
}

func TestClientRequiresURL(t *testing.T) {
	_, err := NewClient(ClientConfig{}, zerolog.Nop())
	assert.Error(t, err)
}

func TestServiceWritesSubtitleAndReenters(t *testing.T) {
	srv := newASRServer(t)
	c, err := NewClient(ClientConfig{URL: srv.URL}, zerolog.Nop())
	require.NoError(t, err)

	dir := t.TempDir()
	videoPath := filepath.Join(dir, "episode.mkv")
	require.NoError(t, os.WriteFile(videoPath, []byte("video"), 0o644))

	svc := NewService(c, &fakeExtractor{}, nil, zerolog.Nop())

	var reentered bool
	svc.SetCompletionHandler(func(_ context.Context, video, src, tgt string) error {
		reentered = true
		assert.Equal(t, videoPath, video)
		assert.Equal(t, "ja", src)
		assert.Equal(t, "de", tgt)
		return nil
	})

	id, err := svc.EnqueueTranscription(context.Background(), videoPath, "ja", "de")
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.True(t, reentered)

	data, err := os.ReadFile(filepath.Join(dir, "episode.ja.srt"))
	require.NoError(t, err)
	assert.Equal(t, sampleSRT, string(data))
}

func TestServiceFailsWhenExtractionFails(t *testing.T) {
	srv := newASRServer(t)
	c, err := NewClient(ClientConfig{URL: srv.URL}, zerolog.Nop())
	require.NoError(t, err)

	svc := NewService(c, &fakeExtractor{err: os.ErrNotExist}, nil, zerolog.Nop())
	_, err = svc.EnqueueTranscription(context.Background(), "/media/missing.mkv", "ja", "de")
	assert.Error(t, err)
}
