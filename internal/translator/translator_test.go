package translator

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sublarr/sublarr/internal/breaker"
	"github.com/sublarr/sublarr/internal/database"
	"github.com/sublarr/sublarr/internal/store"
	"github.com/sublarr/sublarr/internal/translation"
)

const sampleSRT = `1
00:00:01,000 --> 00:00:03,000
<i>Hello there.</i>

2
00:00:04,000 --> 00:00:06,000
How are you today?

3
00:00:07,000 --> 00:00:09,000
Goodbye.
`

func newTestTranslator(t *testing.T) (*Translator, *translation.MockBackend) {
	t.Helper()

	db, err := database.NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())

	st := store.New(db.Conn(), zerolog.Nop())
	brk := breaker.New(breaker.Config{FailureThreshold: 3, Cooldown: time.Second}, zerolog.Nop())
	manager := translation.NewManager(st, brk, zerolog.Nop())
	backend := translation.NewMockBackend("mock")
	manager.Register(backend)

	return New(manager, nil, nil, zerolog.Nop()), backend
}

func request(videoPath string) Request {
	return Request{
		VideoPath:      videoPath,
		SourceLanguage: "en",
		TargetLanguage: "de",
		Chain:          []string{"mock"},
	}
}

func TestTranslateSRTWritesTargetFile(t *testing.T) {
	tr, _ := newTestTranslator(t)
	dir := t.TempDir()
	src := filepath.Join(dir, "Show.S01E01.en.srt")
	dst := filepath.Join(dir, "Show.S01E01.de.srt")
	require.NoError(t, os.WriteFile(src, []byte(sampleSRT), 0o644))

	result, err := tr.TranslateSRT(context.Background(), request(filepath.Join(dir, "Show.S01E01.mkv")), src, dst)
	require.NoError(t, err)
	assert.Equal(t, OutcomeTranslated, result.Outcome)
	assert.Equal(t, "mock", result.Backend)

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "de:Hello there.")
	assert.NotContains(t, content, "<i>", "markup is stripped before translation")

	// Quality sidecar lands next to the subtitle.
	sidecar, err := ReadSidecar(dst)
	require.NoError(t, err)
	require.NotNil(t, sidecar)
	assert.Equal(t, "en", sidecar.SourceLanguage)
	assert.Equal(t, 50, sidecar.Score, "no evaluator in chain yields the neutral default")
}

func TestTranslateFileSkipsWhenTargetASSExists(t *testing.T) {
	tr, backend := newTestTranslator(t)
	dir := t.TempDir()
	video := filepath.Join(dir, "Show.S01E01.mkv")
	touch(t, video)
	touch(t, filepath.Join(dir, "Show.S01E01.de.ass"))

	result, err := tr.TranslateFile(context.Background(), request(video))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, result.Outcome)
	assert.Zero(t, backend.Calls())
}

func TestTranslateFileKeepsExistingSRTWithoutASSMaterial(t *testing.T) {
	tr, backend := newTestTranslator(t)
	dir := t.TempDir()
	video := filepath.Join(dir, "Show.S01E01.mkv")
	touch(t, video)
	touch(t, filepath.Join(dir, "Show.S01E01.de.srt"))

	result, err := tr.TranslateFile(context.Background(), request(video))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, result.Outcome)
	assert.Zero(t, backend.Calls())
}

func TestTranslateFileUsesExternalSource(t *testing.T) {
	tr, _ := newTestTranslator(t)
	dir := t.TempDir()
	video := filepath.Join(dir, "Show.S01E01.mkv")
	touch(t, video)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Show.S01E01.en.srt"), []byte(sampleSRT), 0o644))

	result, err := tr.TranslateFile(context.Background(), request(video))
	require.NoError(t, err)
	assert.Equal(t, OutcomeTranslated, result.Outcome)
	assert.Equal(t, filepath.Join(dir, "Show.S01E01.de.srt"), result.OutputPath)

	data, err := os.ReadFile(result.OutputPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "de:How are you today?")
}

func TestTranslateFileNoMaterial(t *testing.T) {
	tr, _ := newTestTranslator(t)
	dir := t.TempDir()
	video := filepath.Join(dir, "Show.S01E01.mkv")
	touch(t, video)

	result, err := tr.TranslateFile(context.Background(), request(video))
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoMaterial, result.Outcome)
}

type fakeQueue struct{ jobID string }

func (q *fakeQueue) EnqueueTranscription(context.Context, string, string, string) (string, error) {
	return q.jobID, nil
}

func TestTranslateFileQueuesTranscription(t *testing.T) {
	tr, _ := newTestTranslator(t)
	tr.queue = &fakeQueue{jobID: "job-42"}
	dir := t.TempDir()
	video := filepath.Join(dir, "Show.S01E01.mkv")
	touch(t, video)

	req := request(video)
	req.Transcription = true
	result, err := tr.TranslateFile(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, OutcomeQueuedTranscription, result.Outcome)
	assert.Equal(t, "job-42", result.JobID)
}

func TestTranslateFileMissingVideo(t *testing.T) {
	tr, _ := newTestTranslator(t)
	_, err := tr.TranslateFile(context.Background(), request("/nonexistent/video.mkv"))
	assert.Error(t, err)
}

func TestQualityWarnings(t *testing.T) {
	source := []string{"the quick fox", "jumps over", "the lazy dog", "again"}

	// Identical output triggers the untranslated warning.
	warnings := QualityWarnings(source, source, "en")
	require.NotEmpty(t, warnings)
	assert.Contains(t, warnings[0], "identical")

	// A wildly long line trips the ratio check.
	translated := []string{"der schnelle Fuchs", strings.Repeat("x", 200), "der faule Hund", "nochmal"}
	warnings = QualityWarnings(source, translated, "en")
	require.NotEmpty(t, warnings)
	assert.Contains(t, strings.Join(warnings, ";"), "length ratio")

	// Clean output warns about nothing.
	clean := []string{"der schnelle Fuchs", "springt", "der faule Hund", "nochmal"}
	assert.Empty(t, QualityWarnings(source, clean, "en"))
}

func TestSubtitleStreamClassification(t *testing.T) {
	assert.True(t, SubtitleStream{CodecName: "ass"}.IsASS())
	assert.True(t, SubtitleStream{CodecName: "ssa"}.IsASS())
	assert.False(t, SubtitleStream{CodecName: "subrip"}.IsASS())

	assert.True(t, SubtitleStream{CodecName: "subrip"}.IsText())
	assert.True(t, SubtitleStream{CodecName: "mov_text"}.IsText())
	assert.False(t, SubtitleStream{CodecName: "hdmv_pgs_subtitle"}.IsText())
}
