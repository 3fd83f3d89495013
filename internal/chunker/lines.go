package chunker

import (
	"strings"
	"unicode/utf8"
)

type window struct {
	text      string
	startLine int
	endLine   int
}

type numberedLine struct {
	text string
	no   int
}

// splitLines groups lines into windows of at most maxChars bytes. Consecutive
// windows share up to overlap bytes of trailing lines. Lines longer than
// maxChars are cut into rune-aligned pieces.
func splitLines(text string, maxChars, overlap int) []window {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	lines := numberLines(text, maxChars)

	var (
		windows []window
		buf     []numberedLine
		size    int
	)
	emit := func() {
		if len(buf) == 0 {
			return
		}
		var b strings.Builder
		for _, l := range buf {
			b.WriteString(l.text)
		}
		body := strings.TrimRight(b.String(), "\n")
		if strings.TrimSpace(body) == "" {
			return
		}
		windows = append(windows, window{
			text:      body,
			startLine: buf[0].no,
			endLine:   buf[len(buf)-1].no,
		})
	}

	for _, line := range lines {
		if size+len(line.text) > maxChars && len(buf) > 0 {
			emit()

			// keep trailing lines as overlap, then drop from the front
			// until the incoming line fits
			keep, kept := 0, 0
			for j := len(buf) - 1; j > 0 && kept+len(buf[j].text) <= overlap; j-- {
				kept += len(buf[j].text)
				keep++
			}
			buf = append([]numberedLine(nil), buf[len(buf)-keep:]...)
			size = kept
			for len(buf) > 0 && size+len(line.text) > maxChars {
				size -= len(buf[0].text)
				buf = buf[1:]
			}
		}
		buf = append(buf, line)
		size += len(line.text)
	}
	emit()

	return windows
}

func numberLines(text string, maxChars int) []numberedLine {
	raw := strings.SplitAfter(text, "\n")
	lines := make([]numberedLine, 0, len(raw))
	for i, l := range raw {
		if l == "" {
			continue
		}
		for len(l) > maxChars {
			cut := maxChars
			for cut > 0 && !utf8.RuneStart(l[cut]) {
				cut--
			}
			if cut == 0 {
				cut = maxChars
			}
			lines = append(lines, numberedLine{text: l[:cut], no: i + 1})
			l = l[cut:]
		}
		lines = append(lines, numberedLine{text: l, no: i + 1})
	}
	return lines
}
