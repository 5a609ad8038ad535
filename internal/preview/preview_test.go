package preview

import (
	"bytes"
	"image/gif"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"camwatch/internal/motion"
)

func solidFrame(w, h int, v byte) motion.Frame {
	pix := make([]byte, w*h*3)
	for i := range pix {
		pix[i] = v
	}
	return motion.Frame{Width: w, Height: h, Pix: pix}
}

func TestBuildPreview_JPEGPicksMaxChangeFrameEarliestTie(t *testing.T) {
	event := motion.Event{
		Frames: []motion.ScoredFrame{
			{Frame: solidFrame(4, 4, 10), Change: 5},
			{Frame: solidFrame(4, 4, 20), Change: 9}, // first of the tie
			{Frame: solidFrame(4, 4, 30), Change: 9}, // ties but arrives later
			{Frame: solidFrame(4, 4, 40), Change: 3},
		},
	}

	result, err := BuildPreview(event, 10, FormatJPEG, Options{})
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", result.Mime)

	img, err := jpeg.Decode(bytes.NewReader(result.Bytes))
	require.NoError(t, err)
	r, _, _, _ := img.At(0, 0).RGBA()
	// frame index 1 (value 20) should win the tie, not index 2 (value 30).
	assert.Less(t, r>>8, uint32(30))
}

func TestBuildPreview_EmptyEventRejected(t *testing.T) {
	_, err := BuildPreview(motion.Event{}, 10, FormatGIF, Options{})
	assert.ErrorIs(t, err, ErrEmptyEvent)
}

func TestBuildPreview_GIFStaysUnderBudget(t *testing.T) {
	frames := make([]motion.ScoredFrame, 50)
	for i := range frames {
		frames[i] = motion.ScoredFrame{Frame: solidFrame(64, 64, byte(i * 5))}
	}
	event := motion.Event{Frames: frames}

	result, err := BuildPreview(event, 10, FormatGIF, Options{})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(result.Bytes), MaxAttachment)

	g, err := gif.DecodeAll(bytes.NewReader(result.Bytes))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(g.Image), 1)
	// a small number of tiny frames should never need truncation.
	assert.LessOrEqual(t, len(g.Image), len(frames))
}

func TestSampleIndices_EvenlyDistributedNoDuplicates(t *testing.T) {
	indices := sampleIndices(100, 10)
	require.Len(t, indices, 10)
	for i := 1; i < len(indices); i++ {
		assert.Greater(t, indices[i], indices[i-1], "sampled indices must be strictly increasing")
		assert.Less(t, indices[i], 100)
	}
	assert.Equal(t, 0, indices[0])
}

func TestSampleIndices_BumpsForwardOnDuplicate(t *testing.T) {
	// step = n/frameCount = 4/6 is below one, so naive rounding alone
	// would repeat an index (k=2 rounds to 1, same as k=1); bump-forward
	// moves it to 2 and keeps the sequence monotonic.
	indices := sampleIndices(4, 6)
	for i := 1; i < len(indices); i++ {
		assert.GreaterOrEqual(t, indices[i], indices[i-1])
	}
	assert.Equal(t, 2, indices[2])
}

func TestSampleIndices_RequestMoreThanAvailableNeverIndexesOutOfRange(t *testing.T) {
	// frameCount exceeding n is out of sampleIndices' normal contract
	// (buildWebP always caps frameCount to n), but it must still
	// degrade safely rather than returning an out-of-range index.
	indices := sampleIndices(2, 10)
	assert.LessOrEqual(t, len(indices), 10)
	for _, idx := range indices {
		assert.Less(t, idx, 2)
		assert.GreaterOrEqual(t, idx, 0)
	}
}

func TestDownscaledSize_PreservesAspectRatio(t *testing.T) {
	w, h := downscaledSize(1920, 1080, 640)
	assert.Equal(t, 640, w)
	assert.Equal(t, 360, h)
}

func TestDownscaledSize_NoOpWhenAlreadySmall(t *testing.T) {
	w, h := downscaledSize(100, 50, 640)
	assert.Equal(t, 100, w)
	assert.Equal(t, 50, h)
}

func TestBuildPreview_OverlayBurnsInWithoutPanic(t *testing.T) {
	event := motion.Event{
		Frames: []motion.ScoredFrame{{Frame: solidFrame(32, 32, 0), Change: 1}},
	}
	_, err := BuildPreview(event, 10, FormatJPEG, Options{
		OverlayTimestamp: true,
		CameraName:       "front-door",
	})
	require.NoError(t, err)
}

func TestBuildPreview_FormatNoneReturnsEmptyResult(t *testing.T) {
	event := motion.Event{
		Frames: []motion.ScoredFrame{{Frame: solidFrame(4, 4, 0)}},
	}
	result, err := BuildPreview(event, 10, FormatNone, Options{})
	require.NoError(t, err)
	assert.Empty(t, result.Bytes)
}
