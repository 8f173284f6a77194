package gallery

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/cassavanet/cassavanet/internal/classifier"
	"github.com/cassavanet/cassavanet/internal/errors"
	"github.com/cassavanet/cassavanet/internal/worker"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type countingClassifier struct{ calls atomic.Int32 }

func (c *countingClassifier) Classify(img image.Image) (classifier.Prediction, error) {
	c.calls.Add(1)
	return classifier.Prediction{Class: img.Bounds().Dx(), Label: "Healthy", Known: true, Confidence: 97.5}, nil
}

func writeImage(t *testing.T, name string, w, h int) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, w, h))))
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
	return path
}

func result(t *testing.T, s *Session) worker.Result {
	t.Helper()
	select {
	case r := <-s.Results():
		return r
	case <-time.After(5 * time.Second):
		require.FailNow(t, "no result")
		return worker.Result{}
	}
}

func TestOpen(t *testing.T) {
	img, err := Open(writeImage(t, "leaf.png", 3, 2))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 3, 2), img.Bounds())
}

func TestOpen_Failure(t *testing.T) {
	bad := filepath.Join(t.TempDir(), "bad.png")
	require.NoError(t, os.WriteFile(bad, []byte("garbage"), 0o600))

	for _, path := range []string{bad, filepath.Join(t.TempDir(), "missing.png")} {
		_, err := Open(path)
		require.Error(t, err)

		var ue *UserError
		require.ErrorAs(t, err, &ue)
		assert.Equal(t, MsgProcessingError, ue.Message)
		assert.True(t, strings.HasPrefix(err.Error(), "Error processing the image: "))
	}

	_, err := Open(bad)
	assert.True(t, errors.IsCategory(err, errors.CategoryImageDecode))
}

func TestSession_PredictWithoutSelection(t *testing.T) {
	c := &countingClassifier{}
	s := NewSession(c)
	defer func() { require.NoError(t, s.Close(context.Background())) }()

	err := s.Predict()
	require.ErrorIs(t, err, ErrNoImage)
	assert.Equal(t, "Please upload an image first", err.Error())
	assert.Zero(t, c.calls.Load())

	_, ok := s.Selected()
	assert.False(t, ok)
}

func TestSession_SelectAndPredict(t *testing.T) {
	c := &countingClassifier{}
	s := NewSession(c, worker.WithResultBuffer(4))

	first := writeImage(t, "first.png", 5, 5)
	require.NoError(t, s.Select(first))
	require.NoError(t, s.Predict())
	require.NoError(t, s.Predict())

	r := result(t, s)
	require.NoError(t, r.Err)
	assert.Equal(t, first, r.Job.ID)
	assert.Equal(t, 5, r.Prediction.Class)
	assert.Equal(t, 5, result(t, s).Prediction.Class)

	require.NoError(t, s.Close(context.Background()))
	assert.EqualValues(t, 2, c.calls.Load())

	assert.Error(t, s.Predict())
}

func TestSession_FailedSelectKeepsPrevious(t *testing.T) {
	s := NewSession(&countingClassifier{})
	defer func() { require.NoError(t, s.Close(context.Background())) }()

	good := writeImage(t, "good.png", 2, 2)
	require.NoError(t, s.Select(good))
	require.Error(t, s.Select(filepath.Join(t.TempDir(), "missing.png")))

	path, ok := s.Selected()
	assert.True(t, ok)
	assert.Equal(t, good, path)
}
