package sandbox

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isdmx/codecell/runstate"
)

func TestPlotAdapterPreamble(t *testing.T) {
	preamble, err := PlotAdapter{MaxPixels: 25_000_000, FallbackDPI: 100}.Preamble()
	require.NoError(t, err)

	assert.Contains(t, preamble, `_cc_matplotlib.use("Agg")`)
	assert.Contains(t, preamble, "width * height * dpi * dpi > 25000000")
	assert.Contains(t, preamble, "dpi = 100")
	assert.Contains(t, preamble, `print("`+runstate.ImagePrefix+`" + `)
	assert.Contains(t, preamble, "plt.show = _cc_show")

	// Prior figures are closed before the hook is installed, and the hook
	// warns before it emits the image.
	assert.Less(t, strings.Index(preamble, `plt.close("all")`), strings.Index(preamble, "def _cc_show"))
	assert.Less(t, strings.Index(preamble, "Warning:"), strings.Index(preamble, "savefig"))
}

func TestUsesPlotting(t *testing.T) {
	assert.True(t, UsesPlotting("import matplotlib.pyplot as plt"))
	assert.True(t, UsesPlotting("plt.plot([1, 2, 3])"))
	assert.False(t, UsesPlotting("print('plot')"))
}

func TestClassifyLine(t *testing.T) {
	assert.Equal(t, runstate.Image(runstate.ImagePrefix+"abc"), classifyLine(runstate.ImagePrefix+"abc"))
	assert.Equal(t, runstate.Text("data:image/jpeg;base64,abc"), classifyLine("data:image/jpeg;base64,abc"))
	assert.Equal(t, runstate.Text(""), classifyLine(""))
}
