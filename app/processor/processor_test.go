package processor

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/langtools/langid/app/storage"
	"github.com/langtools/langid/lib/langid"
)

// newTestIdentifier builds a small deterministic en/fr engine
func newTestIdentifier(t *testing.T) *langid.Identifier {
	m, err := langid.BuildModel([]string{"en", "fr"}, []float64{0, 0}, []langid.Feature{
		{Seq: " the ", Weights: []float64{2, -1}},
		{Seq: " and ", Weights: []float64{2, -1}},
		{Seq: " le ", Weights: []float64{-1, 2}},
		{Seq: " les ", Weights: []float64{-1, 2}},
	})
	require.NoError(t, err)
	id, err := langid.New(m)
	require.NoError(t, err)
	return id
}

// journalRecorder captures journaled detections, optionally failing writes
type journalRecorder struct {
	entries []storage.Detection
	err     error
}

func (j *journalRecorder) Write(_ context.Context, det storage.Detection) error {
	if j.err != nil {
		return j.err
	}
	j.entries = append(j.entries, det)
	return nil
}

func TestProcessor_Lines(t *testing.T) {
	rec := &journalRecorder{}
	p := New(newTestIdentifier(t), Config{Journal: rec})

	in := strings.NewReader("on the mat\nsur le tapis\n")
	out := &bytes.Buffer{}
	require.NoError(t, p.Lines(context.Background(), in, out))

	assert.Equal(t, "en,10\nfr,12\n", out.String())
	require.Len(t, rec.entries, 2)
	assert.Equal(t, storage.Detection{Source: "stdin", Mode: "line", TextLen: 10, Lang: "en", LogProb: 2}, rec.entries[0])
	assert.Equal(t, storage.Detection{Source: "stdin", Mode: "line", TextLen: 12, Lang: "fr", LogProb: 2}, rec.entries[1])
}

func TestProcessor_LinesWithDetok(t *testing.T) {
	p := New(newTestIdentifier(t), Config{DetokMarker: "@@"})

	in := strings.NewReader("le @@ chat sur le tapis\n")
	out := &bytes.Buffer{}
	require.NoError(t, p.Lines(context.Background(), in, out))

	// marker and surrounding spaces collapse before scoring, len reflects that
	assert.Equal(t, "fr,19\n", out.String())
}

func TestProcessor_LinesJournalFailureNonFatal(t *testing.T) {
	rec := &journalRecorder{err: errors.New("journal oops")}
	p := New(newTestIdentifier(t), Config{Journal: rec})

	out := &bytes.Buffer{}
	require.NoError(t, p.Lines(context.Background(), strings.NewReader("on the mat\n"), out))
	assert.Equal(t, "en,10\n", out.String(), "journal failure must not affect the output")
}

func TestProcessor_LinesCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := New(newTestIdentifier(t), Config{})
	err := p.Lines(ctx, strings.NewReader("on the mat\n"), &bytes.Buffer{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProcessor_File(t *testing.T) {
	rec := &journalRecorder{}
	p := New(newTestIdentifier(t), Config{Source: "input.txt", Journal: rec})

	in := strings.NewReader("first the line\nthen the second and more\n")
	out := &bytes.Buffer{}
	require.NoError(t, p.File(context.Background(), in, out))

	assert.Equal(t, "en,40\n", out.String(), "whole input is one document, newlines included")
	require.Len(t, rec.entries, 1)
	assert.Equal(t, "input.txt", rec.entries[0].Source)
	assert.Equal(t, "file", rec.entries[0].Mode)
}

func TestProcessor_Interactive(t *testing.T) {
	p := New(newTestIdentifier(t), Config{})

	t.Run("empty line ends session", func(t *testing.T) {
		in := strings.NewReader("on the mat\nsur le tapis\n\nignored after end\n")
		out := &bytes.Buffer{}
		require.NoError(t, p.Interactive(context.Background(), in, out))
		assert.Equal(t, ">>> en,10\n>>> fr,12\n>>> Bye!\n", out.String())
	})

	t.Run("eof ends session", func(t *testing.T) {
		in := strings.NewReader("on the mat\n")
		out := &bytes.Buffer{}
		require.NoError(t, p.Interactive(context.Background(), in, out))
		assert.Equal(t, ">>> en,10\n>>> Bye!\n", out.String())
	})
}

func TestProcessor_Batch(t *testing.T) {
	dir := t.TempDir()
	enFile := filepath.Join(dir, "en.txt")
	require.NoError(t, os.WriteFile(enFile, []byte("all the words and the rest"), 0o600))
	frFile := filepath.Join(dir, "fr.txt")
	require.NoError(t, os.WriteFile(frFile, []byte("tous le monde et les autres"), 0o600))
	emptyFile := filepath.Join(dir, "empty.txt")
	require.NoError(t, os.WriteFile(emptyFile, nil, 0o600))
	missing := filepath.Join(dir, "nope.txt")

	rec := &journalRecorder{}
	p := New(newTestIdentifier(t), Config{Journal: rec})

	list := strings.Join([]string{enFile, frFile, emptyFile, missing, dir, ""}, "\n") + "\n"
	out := &bytes.Buffer{}
	require.NoError(t, p.Batch(context.Background(), strings.NewReader(list), out))

	want := enFile + ",26,en\n" +
		frFile + ",27,fr\n" +
		emptyFile + ",0,en\n" + // empty input decided on priors, tie goes to the first language
		missing + ",0,NOSUCHFILE\n" +
		dir + ",0,NOTAFILE\n"
	assert.Equal(t, want, out.String())

	// only classified files hit the journal, sources carry the paths
	require.Len(t, rec.entries, 3)
	assert.Equal(t, enFile, rec.entries[0].Source)
	assert.Equal(t, "batch", rec.entries[0].Mode)
	assert.Equal(t, frFile, rec.entries[1].Source)
	assert.Equal(t, emptyFile, rec.entries[2].Source)
}

func TestNew_Defaults(t *testing.T) {
	p := New(newTestIdentifier(t), Config{})
	assert.Equal(t, "stdin", p.Source)
	assert.Nil(t, p.detok)

	p = New(newTestIdentifier(t), Config{Source: "custom", DetokMarker: "@@"})
	assert.Equal(t, "custom", p.Source)
	assert.NotNil(t, p.detok)
}
