package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestState_Terminal(t *testing.T) {
	assert.True(t, StateSuccess.Terminal())
	assert.True(t, StateFailure.Terminal())

	assert.False(t, StatePending.Terminal())
	assert.False(t, StateStarted.Terminal())
	assert.False(t, StateRevoked.Terminal())
}

func TestKindFromMIME(t *testing.T) {
	kind, ok := KindFromMIME("application/pdf")
	assert.True(t, ok)
	assert.Equal(t, KindPDF, kind)

	for _, mime := range []string{"image/png", "image/jpeg", "image/tiff"} {
		kind, ok = KindFromMIME(mime)
		assert.True(t, ok)
		assert.Equal(t, KindImage, kind)
	}

	_, ok = KindFromMIME("text/plain")
	assert.False(t, ok)

	_, ok = KindFromMIME("")
	assert.False(t, ok)
}

func TestResultVariants(t *testing.T) {
	ok := Success("# md", 10, 20)
	assert.False(t, ok.Failed)
	assert.Equal(t, "# md", ok.Markdown)

	fail := Failure("it broke")
	assert.True(t, fail.Failed)
	assert.Equal(t, "it broke", fail.Message)
	assert.Empty(t, fail.Markdown)
}
