// Package tui provides the BubbleTea interactive query explorer for proxima.
//
// Layout:
//
//	┌─────────────────────────────────────┐
//	│  proxima  nearest-neighbour search  │  ← header
//	│  ❯ <query input>                    │  ← query bar
//	│  ─────────────────────────────────  │  ← divider
//	│  1  0.1042  #17   [0.21 1.05 …]     │  ← ranked neighbours
//	│  ...                                │
//	│  ─────────────────────────────────  │  ← divider
//	│  [10 hits · 312 visited]  ^I  ^Q    │  ← status bar
//	└─────────────────────────────────────┘
//
// A query is either a vector literal ("0.4, 1.2, 0"), "#id" for an indexed
// base vector, or "?i" for the dataset's i-th query vector.
package tui

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/screenager/proxima/internal/ann"
	"github.com/screenager/proxima/internal/index"
)

// ── Palette ──────────────────────────────────────────────────────────────────

var (
	colorAccent  = lipgloss.Color("#7C6AF7") // purple
	colorDim     = lipgloss.Color("#555555") // dark grey
	colorMuted   = lipgloss.Color("#888888") // mid grey
	colorText    = lipgloss.Color("#DDDDDD") // near-white
	colorSubdued = lipgloss.Color("#444444") // for dividers
	colorScore   = lipgloss.Color("#5ECEF5") // cyan for distances
	colorErr     = lipgloss.Color("#FF6B6B") // red
	colorGreen   = lipgloss.Color("#5AF078")

	sTitle  = lipgloss.NewStyle().Bold(true).Foreground(colorText)
	sAccent = lipgloss.NewStyle().Foreground(colorAccent)
	sDim    = lipgloss.NewStyle().Foreground(colorDim)
	sMuted  = lipgloss.NewStyle().Foreground(colorMuted)
	sScore  = lipgloss.NewStyle().Foreground(colorScore).Bold(true)
	sErr    = lipgloss.NewStyle().Foreground(colorErr)
	sGreen  = lipgloss.NewStyle().Foreground(colorGreen)
	sSel    = lipgloss.NewStyle().
		Background(lipgloss.Color("#1E1A3A")).
		Foreground(colorText)
	sHint = lipgloss.NewStyle().
		Foreground(colorDim).
		Background(lipgloss.Color("#111111"))
	sDivider = lipgloss.NewStyle().Foreground(colorSubdued)
)

type mode int

const (
	modeQuery mode = iota
	modeStats
)

type (
	searchDoneMsg struct{ res ann.Result }
	errMsg        struct{ err error }
)

// Model is the BubbleTea application model.
type Model struct {
	idx    *index.Index
	ds     *index.Dataset
	k      int
	input  textinput.Model
	res    *ann.Result
	cursor int
	mode   mode
	err    error
	width  int
	height int
	last   string
}

// New creates a TUI model over a built index and its dataset.
func New(idx *index.Index, ds *index.Dataset, k int) Model {
	ti := textinput.New()
	ti.Placeholder = "vector literal, #id, or ?query-index…"
	ti.Focus()
	ti.CharLimit = 512
	ti.Width = 60
	ti.PromptStyle = sAccent
	ti.Prompt = "❯ "
	ti.TextStyle = lipgloss.NewStyle().Foreground(colorText)

	return Model{idx: idx, ds: ds, k: k, input: ti, mode: modeQuery}
}

// Init is the BubbleTea init hook.
func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

// parseQuery turns the input line into a query vector.
func (m Model) parseQuery(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	switch {
	case strings.HasPrefix(s, "#"):
		id, err := strconv.Atoi(s[1:])
		if err != nil || id < 0 || id >= m.ds.N {
			return nil, fmt.Errorf("no base vector %q (have #0…#%d)", s, m.ds.N-1)
		}
		return m.ds.Vector(id), nil
	case strings.HasPrefix(s, "?"):
		i, err := strconv.Atoi(s[1:])
		if err != nil || i < 0 || i >= m.ds.QueryN {
			return nil, fmt.Errorf("no query vector %q (have ?0…?%d)", s, m.ds.QueryN-1)
		}
		return m.ds.Query(i), nil
	}
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
	if len(fields) != m.idx.Dim() {
		return nil, fmt.Errorf("got %d components, index has %d dims", len(fields), m.idx.Dim())
	}
	vec := make([]float32, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 32)
		if err != nil {
			return nil, fmt.Errorf("bad component %q", f)
		}
		vec[i] = float32(v)
	}
	return vec, nil
}

func (m Model) searchCmd(raw string) tea.Cmd {
	return func() tea.Msg {
		vec, err := m.parseQuery(raw)
		if err != nil {
			return errMsg{err}
		}
		res, err := m.idx.Search(vec, m.k)
		if err != nil {
			return errMsg{err}
		}
		return searchDoneMsg{res}
	}
}

// Update processes messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.Width = m.width - 8
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "ctrl+q":
			return m, tea.Quit

		case "ctrl+i":
			if m.mode != modeStats {
				m.mode = modeStats
				m.input.Blur()
			} else {
				m.mode = modeQuery
				m.input.Focus()
			}
			return m, nil

		case "esc":
			m.mode = modeQuery
			m.input.Focus()
			m.err = nil
			return m, nil

		case "up", "ctrl+p":
			if m.cursor > 0 {
				m.cursor--
			}
			return m, nil

		case "down", "ctrl+n":
			if m.res != nil && m.cursor < len(m.res.Records)-1 {
				m.cursor++
			}
			return m, nil

		case "enter":
			if m.mode != modeQuery {
				return m, nil
			}
			q := strings.TrimSpace(m.input.Value())
			if q == "" {
				return m, nil
			}
			m.last = q
			return m, m.searchCmd(q)

		case "tab":
			// Re-query from the selected neighbour.
			if m.mode == modeQuery && m.res != nil && m.cursor < len(m.res.Records) {
				q := fmt.Sprintf("#%d", m.res.Records[m.cursor].Handle)
				m.input.SetValue(q)
				m.last = q
				return m, m.searchCmd(q)
			}
			return m, nil
		}

	case searchDoneMsg:
		res := msg.res
		m.res = &res
		m.cursor = 0
		m.err = nil
		return m, nil

	case errMsg:
		m.err = msg.err
		return m, nil
	}

	if m.mode == modeQuery {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

// ── Views ─────────────────────────────────────────────────────────────────────

func (m Model) View() string {
	if m.width == 0 {
		return ""
	}
	if m.mode == modeStats {
		return m.statsView()
	}
	return m.queryView()
}

func (m Model) queryView() string {
	var b strings.Builder
	w := m.width
	divider := sDivider.Render(strings.Repeat("─", clamp(w-2, 10, 200)))

	left := "  " + sTitle.Render("proxima") + "  " + sMuted.Render("nearest-neighbour search")
	right := sDim.Render(fmt.Sprintf("%s · %d vectors · %d dims", m.idx.Kind(), m.idx.Len(), m.idx.Dim()))
	fmt.Fprintln(&b, padBetween(left, right, w))

	fmt.Fprintln(&b, "  "+m.input.View())
	fmt.Fprintln(&b, "  "+divider)

	switch {
	case m.err != nil:
		fmt.Fprintln(&b, sErr.Render("  error: "+m.err.Error()))
	case m.res == nil:
		fmt.Fprintln(&b, "")
		fmt.Fprintln(&b, sMuted.Render("  Enter a query and press enter."))
		fmt.Fprintln(&b, sDim.Render("  Literal vector: ")+sMuted.Render("0.4, 1.2, 0")+
			sDim.Render("   base vector: ")+sMuted.Render("#17")+
			sDim.Render("   query set: ")+sMuted.Render("?3"))
	case len(m.res.Records) == 0:
		fmt.Fprintln(&b, "")
		fmt.Fprintln(&b, sMuted.Render("  no results for ")+sAccent.Render("\""+m.last+"\""))
	default:
		m.renderResults(&b, m.height-7)
	}

	b.WriteString("\n  " + divider + "\n")
	m.renderStatusBar(&b)
	return b.String()
}

func (m *Model) renderResults(b *strings.Builder, maxRows int) {
	if maxRows < 1 {
		maxRows = 1
	}
	for i, rec := range m.res.Records {
		if i >= maxRows {
			remaining := len(m.res.Records) - i
			fmt.Fprintf(b, "  %s\n", sDim.Render(fmt.Sprintf("  … %d more results", remaining)))
			break
		}
		dist := fmt.Sprintf("%.4f", rec.Distance)
		id := fmt.Sprintf("#%-6d", rec.Handle)
		preview := vectorPreview(m.ds.Vector(rec.Handle), clamp(m.width-30, 10, 80))
		line := fmt.Sprintf("  %2d  %s  %s %s", i+1, sScore.Render(dist), sAccent.Render(id), sMuted.Render(preview))
		if i == m.cursor {
			raw := fmt.Sprintf("  %2d  %s  %s %s", i+1, dist, id, preview)
			pad := clamp(m.width-len(raw)-3, 0, m.width)
			line = sSel.Render(raw + strings.Repeat(" ", pad))
		}
		fmt.Fprintln(b, line)
	}
}

func (m *Model) renderStatusBar(b *strings.Builder) {
	var left string
	switch {
	case m.res != nil:
		left = sGreen.Render(fmt.Sprintf("  %d hits", len(m.res.Records))) +
			sDim.Render(fmt.Sprintf(" · %d visited · %s",
				m.res.NodesVisited, m.res.Elapsed.Round(time.Microsecond)))
	case m.err != nil:
		left = "  " + sErr.Render(m.err.Error())
	default:
		left = sDim.Render("  idle")
	}
	right := sHint.Render("tab requery  ^i info  esc clear  ↑↓ nav  ^q quit  ")
	fmt.Fprint(b, padBetween(left, right, m.width))
}

func (m Model) statsView() string {
	var b strings.Builder
	w := clamp(m.width, 10, 200)
	divider := sDivider.Render(strings.Repeat("─", w-2))

	fmt.Fprintln(&b, "  "+sTitle.Render("proxima")+" "+sMuted.Render("— index info"))
	fmt.Fprintln(&b, "  "+divider)
	fmt.Fprintln(&b, "")

	row := func(label, value string) {
		fmt.Fprintf(&b, "  %-22s %s\n", sDim.Render(label), value)
	}
	p := m.idx.Params()
	row("engine", sAccent.Render(string(m.idx.Kind())))
	row("vectors", sAccent.Render(fmt.Sprintf("%d", m.idx.Len())))
	row("dimensions", sAccent.Render(fmt.Sprintf("%d", m.idx.Dim())))
	row("build time", sMuted.Render(m.idx.BuildTime().Round(time.Millisecond).String()))
	switch m.idx.Kind() {
	case index.KindHNSW:
		row("parameters", sMuted.Render(fmt.Sprintf("M=%d  M0=%d  ef_build=%d  ef_search=%d", p.M, p.M0, p.EfConstruction, p.EfSearch)))
	case index.KindSWNG:
		row("parameters", sMuted.Render(fmt.Sprintf("fanout=%d  degree=%d  restarts=%d", p.Fanout, p.Degree, p.Restarts)))
	}
	if stats, err := m.idx.GraphStats(); err == nil {
		row("degree avg/max/min", sMuted.Render(fmt.Sprintf("%d / %d / %d", stats.AvgDegree, stats.MaxDegree, stats.MinDegree)))
	}

	fmt.Fprintln(&b, "")
	fmt.Fprintln(&b, "  "+divider)
	fmt.Fprint(&b, sHint.Render("  esc back to search  ctrl+q quit"+strings.Repeat(" ", clamp(w-35, 0, 200))))
	return b.String()
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// vectorPreview renders the leading components of v, ending with " …" once
// the next component would bring the text past maxLen bytes; the ellipsis
// and closing bracket may run a few bytes beyond maxLen.
func vectorPreview(v []float32, maxLen int) string {
	var b strings.Builder
	b.WriteString("[")
	for i, x := range v {
		part := fmt.Sprintf("%.2f", x)
		if i > 0 {
			part = " " + part
		}
		if b.Len()+len(part)+2 > maxLen {
			b.WriteString(" …")
			break
		}
		b.WriteString(part)
	}
	b.WriteString("]")
	return b.String()
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// padBetween pads left and right strings to fill width.
func padBetween(left, right string, width int) string {
	gap := width - visibleLen(left) - visibleLen(right) - 2
	if gap < 1 {
		gap = 1
	}
	return left + strings.Repeat(" ", gap) + right
}

// visibleLen estimates printable character count (strips common ANSI sequences).
func visibleLen(s string) int {
	n := 0
	inEsc := false
	for _, c := range s {
		if c == '\x1b' {
			inEsc = true
		}
		if inEsc {
			if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') {
				inEsc = false
			}
			continue
		}
		n++
	}
	return n
}
