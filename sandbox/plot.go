package sandbox

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/isdmx/codecell/runstate"
)

// PlotAdapter renders the preamble that routes matplotlib's show() through
// the image channel of the interpreter session.
type PlotAdapter struct {
	MaxPixels   int
	FallbackDPI int
}

var plotPreamble = template.Must(template.New("plot").Parse(`import base64 as _cc_base64
import io as _cc_io
import matplotlib as _cc_matplotlib
_cc_matplotlib.use("Agg")
import matplotlib.pyplot as plt
plt.close("all")


def _cc_show(*args, **kwargs):
    fig = plt.gcf()
    width, height = fig.get_size_inches()
    dpi = fig.dpi
    if width * height * dpi * dpi > {{.MaxPixels}}:
        print("Warning: figure exceeds {{.MaxPixels}} pixels, rendering at {{.FallbackDPI}} dpi")
        dpi = {{.FallbackDPI}}
    buf = _cc_io.BytesIO()
    fig.savefig(buf, format="png", dpi=dpi)
    print("{{.ImagePrefix}}" + _cc_base64.b64encode(buf.getvalue()).decode("ascii"))
    plt.clf()
    plt.close("all")


plt.show = _cc_show
`))

// Preamble returns the Python source to prepend to a plotting cell.
func (a PlotAdapter) Preamble() (string, error) {
	var buf bytes.Buffer
	err := plotPreamble.Execute(&buf, struct {
		MaxPixels   int
		FallbackDPI int
		ImagePrefix string
	}{a.MaxPixels, a.FallbackDPI, runstate.ImagePrefix})
	if err != nil {
		return "", fmt.Errorf("failed to render plot preamble: %w", err)
	}
	return buf.String(), nil
}

// UsesPlotting reports whether code references matplotlib.
func UsesPlotting(code string) bool {
	return strings.Contains(code, "matplotlib") || strings.Contains(code, "plt.")
}

// classifyLine turns one captured line into an output event.
func classifyLine(line string) runstate.OutputEvent {
	if strings.HasPrefix(line, runstate.ImagePrefix) {
		return runstate.Image(line)
	}
	return runstate.Text(line)
}
