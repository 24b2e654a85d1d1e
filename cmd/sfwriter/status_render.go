package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"sfwriter/internal/api"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const (
	statusLabelWidth = 20
	statusIndent     = "  "
)

var counts = message.NewPrinter(language.English)

func formatCount(n uint64) string {
	return counts.Sprintf("%d", n)
}

func renderStatusLine(label string, kind statusKind, msg string, colorize bool) string {
	statusText := statusKindLabel(kind)
	if msg != "" {
		statusText = fmt.Sprintf("[%s] %s", statusText, msg)
	} else {
		statusText = fmt.Sprintf("[%s]", statusText)
	}
	base := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", statusText)
	if colorize {
		if color := statusKindColor(kind); color != "" {
			return color + base + ansiReset
		}
	}
	return base
}

func statusKindLabel(kind statusKind) string {
	switch kind {
	case statusOK:
		return "OK"
	case statusWarn:
		return "WARN"
	case statusError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func statusKindColor(kind statusKind) string {
	switch kind {
	case statusOK:
		return ansiGreen
	case statusWarn:
		return ansiYellow
	case statusError:
		return ansiRed
	case statusInfo:
		return ansiBlue
	default:
		return ""
	}
}

func renderSectionHeader(title string, colorize bool) []string {
	line := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	rule := strings.Repeat("-", len(line))
	if colorize {
		line = ansiBlue + line + ansiReset
		rule = ansiBlue + rule + ansiReset
	}
	return []string{line, rule}
}

func stateKind(status *api.Status) statusKind {
	switch {
	case status.Killed:
		return statusError
	case status.State == "running":
		return statusOK
	case len(status.MissingParameters) > 0:
		return statusWarn
	default:
		return statusInfo
	}
}

func statusLines(status *api.Status, colorize bool) []string {
	lines := renderSectionHeader("Acquisition", colorize)

	state := status.State
	if status.StopReason != "" {
		state = fmt.Sprintf("%s (%s)", state, status.StopReason)
	}
	lines = append(lines,
		renderStatusLine("State", stateKind(status), state, colorize),
		renderStatusLine("Run", statusInfo, status.RunID, colorize),
		renderStatusLine("Output", statusInfo, status.OutputPath, colorize),
	)

	elapsed := time.Duration(status.ElapsedSeconds * float64(time.Second)).Round(time.Second)
	started := "not started"
	if t, err := time.Parse(time.RFC3339, status.StartedAt); err == nil {
		started = fmt.Sprintf("%s (%s)", humanize.Time(t), elapsed)
	}
	lines = append(lines, renderStatusLine("Started", statusInfo, started, colorize))

	if len(status.MissingParameters) > 0 {
		lines = append(lines, renderStatusLine("Missing parameters", statusWarn, strings.Join(status.MissingParameters, ", "), colorize))
	} else {
		lines = append(lines, renderStatusLine("Parameters", statusOK, "all set", colorize))
	}
	return lines
}

func statisticsTable(stats *api.Statistics) string {
	expected := formatCount(stats.ExpectedFrames)
	if stats.ExpectedFrames == 0 {
		expected = "until stopped"
	}
	t := newReportTable("Acquisition statistics",
		reportColumn{name: "Counter"},
		reportColumn{name: "Value", numeric: true},
	)
	t.add("Expected frames", expected)
	t.add("Received frames", formatCount(stats.ReceivedFrames))
	t.add("Written frames", formatCount(stats.WrittenFrames))
	t.add("Dropped frames", formatCount(stats.DroppedFrames))
	t.add("Last received", formatCount(stats.LastReceivedFrame))
	t.add("Last written", formatCount(stats.LastWrittenFrame))
	t.add("Write rate", fmt.Sprintf("%s frames/s", humanize.FormatFloat("#,###.#", stats.FramesPerSecond)))
	t.add("Ring", fmt.Sprintf("%d/%d slots of %s", stats.Ring.Filled, stats.Ring.Capacity, humanize.IBytes(uint64(stats.Ring.SlotBytes))))
	t.add("Ring evictions", formatCount(stats.Ring.Evicted))
	return t.render()
}

func parametersTable(params *api.Parameters) string {
	missing := make(map[string]bool, len(params.Missing))
	for _, name := range params.Missing {
		missing[name] = true
	}
	t := newReportTable("Format parameters",
		reportColumn{name: "Parameter"},
		reportColumn{name: "Type"},
		reportColumn{name: "Value"},
		reportColumn{name: "Set"},
	)
	for _, name := range sortedKeys(params.Types) {
		value := "-"
		if v, ok := params.Values[name]; ok {
			value = fmt.Sprint(v)
		}
		t.add(name, params.Types[name], value, yesNo(!missing[name]))
	}
	if len(params.Missing) > 0 {
		t.caption = fmt.Sprintf("%d of %d parameters missing; finalization waits for them", len(params.Missing), len(params.Types))
	}
	return t.render()
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
