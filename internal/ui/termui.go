package ui

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/skalibog/futsig/internal/config"
	"github.com/skalibog/futsig/internal/engine"
	"github.com/skalibog/futsig/pkg/models"
)

// Стили UI
var (
	primaryColor   = lipgloss.Color("#0077cc")
	secondaryColor = lipgloss.Color("#333333")
	errorColor     = lipgloss.Color("#cc3300")
	successColor   = lipgloss.Color("#33cc33")
	warningColor   = lipgloss.Color("#cccc00")

	appStyle = lipgloss.NewStyle().
			Padding(1, 2).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor)
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#ffffff")).
			Background(primaryColor).
			Padding(0, 1)
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#ffffff")).
			Background(secondaryColor).
			Padding(0, 1)
	sectionStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(secondaryColor).
			Padding(0, 1)
	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#999999")).
			Padding(0, 1)
)

const maxLogs = 50

var ansiRegex = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// StatusProvider источник состояния движка
type StatusProvider interface {
	Status() engine.Status
}

// TermUI терминальный монитор: режим, позиции, кандидаты и хвост лога
type TermUI struct {
	status  StatusProvider
	logFile string
	refresh time.Duration
}

// NewTermUI создает монитор
func NewTermUI(cfg config.UIConfig, logFile string, status StatusProvider) *TermUI {
	return &TermUI{
		status:  status,
		logFile: logFile,
		refresh: time.Duration(cfg.RefreshRate) * time.Millisecond,
	}
}

// Run блокирует до выхода пользователя или отмены контекста
func (ui *TermUI) Run(ctx context.Context) error {
	p := tea.NewProgram(newModel(ui), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("ошибка терминального интерфейса: %w", err)
	}
	return nil
}

type tickMsg time.Time

type snapshotMsg struct {
	status engine.Status
	logs   []string
}

type model struct {
	ui       *TermUI
	status   engine.Status
	logs     []string
	selected int
	width    int
	height   int
}

func newModel(ui *TermUI) model {
	return model{
		ui:     ui,
		logs:   []string{"futsig запущен. Ожидание данных..."},
		width:  120,
		height: 40,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.snapshot(), m.tick())
}

func (m model) tick() tea.Cmd {
	return tea.Tick(m.ui.refresh, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) snapshot() tea.Cmd {
	return func() tea.Msg {
		logs, err := tailLogs(m.ui.logFile, maxLogs)
		if err != nil {
			logs = []string{fmt.Sprintf("Ошибка загрузки логов: %v", err)}
		}
		return snapshotMsg{status: m.ui.status.Status(), logs: logs}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "up":
			m.selected = max(0, m.selected-1)
		case "down":
			m.selected = max(0, min(len(m.status.Positions)-1, m.selected+1))
		case "r":
			return m, m.snapshot()
		}

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height

	case tickMsg:
		return m, tea.Batch(m.snapshot(), m.tick())

	case snapshotMsg:
		m.status = msg.status
		if len(msg.logs) > 0 {
			m.logs = msg.logs
		}
		if m.selected >= len(m.status.Positions) {
			m.selected = max(0, len(m.status.Positions)-1)
		}
	}
	return m, nil
}

func (m model) View() string {
	title := titleStyle.Render("futsig - Binance USDT-M signal engine")
	footer := footerStyle.Render("Клавиши: ↑/↓ - навигация, R - обновить, Q - выход")

	return appStyle.Render(
		lipgloss.JoinVertical(lipgloss.Left,
			title,
			renderRegime(m.status),
			renderPositions(m.status.Positions, m.selected),
			renderCandidates(m.status.Candidates),
			renderLogs(m.logs, m.logLines()),
			footer,
		),
	)
}

// logLines сколько строк лога помещается на экране
func (m model) logLines() int {
	n := m.height - 20 - len(m.status.Positions) - len(m.status.Candidates)
	return max(5, n)
}

func renderRegime(st engine.Status) string {
	r := st.Regime
	style := lipgloss.NewStyle().Foreground(warningColor)
	switch r.Trend {
	case models.TrendBullish, models.TrendStrongBullish:
		style = lipgloss.NewStyle().Foreground(successColor)
	case models.TrendBearish, models.TrendStrongBearish:
		style = lipgloss.NewStyle().Foreground(errorColor)
	}
	if r.IsOneSided {
		style = style.Bold(true)
	}

	line := fmt.Sprintf("Режим: %s (%.0f%%)  ↑%d ↓%d из %d  среднее %.2f%%",
		style.Render(string(r.Trend)), r.Confidence,
		r.Summary.Up, r.Summary.Down, r.Summary.Total, r.Summary.AverageChange)
	if !st.LastCycle.IsZero() {
		line += fmt.Sprintf("  цикл %s", st.LastCycle.Format("15:04:05"))
	}
	return line
}

func renderPositions(positions []models.Position, selected int) string {
	var b strings.Builder
	if len(positions) == 0 {
		b.WriteString("  Нет открытых позиций\n")
	}
	for i, p := range positions {
		protect := "без защиты"
		if p.Protected {
			protect = fmt.Sprintf("SL %.6g TP %.6g", p.StopLoss, p.TakeProfit)
		}
		line := fmt.Sprintf("  %-12s %-4s %10.4f @ %-10.6g %s  с %s",
			p.Symbol, p.Side, p.Quantity(), p.EntryPrice, protect, p.EntryTime.Format("02.01 15:04"))
		if i == selected {
			line = lipgloss.NewStyle().Background(lipgloss.Color("#222222")).Render("> " + line[2:])
		}
		b.WriteString(line + "\n")
	}
	return sectionStyle.Render(lipgloss.JoinVertical(lipgloss.Left, headerStyle.Render("ПОЗИЦИИ"), b.String()))
}

func renderCandidates(candidates []models.Candidate) string {
	var b strings.Builder
	if len(candidates) == 0 {
		b.WriteString("  Ожидание данных...\n")
	}
	for _, c := range candidates {
		style := lipgloss.NewStyle().Foreground(successColor)
		if c.Direction == models.DirectionShort {
			style = lipgloss.NewStyle().Foreground(errorColor)
		}
		fmt.Fprintf(&b, "  %-12s %s  оценка %d (%d/%d)  цена %.6g\n",
			c.Symbol, style.Render(string(c.Direction)), c.Score, c.LongScore, c.ShortScore, c.Price)
	}
	return sectionStyle.Render(lipgloss.JoinVertical(lipgloss.Left, headerStyle.Render("КАНДИДАТЫ"), b.String()))
}

func renderLogs(logs []string, limit int) string {
	start := max(0, len(logs)-limit)

	var b strings.Builder
	for _, line := range logs[start:] {
		switch {
		case strings.Contains(line, "[ERROR]"):
			line = lipgloss.NewStyle().Foreground(errorColor).Render(line)
		case strings.Contains(line, "[WARN]"):
			line = lipgloss.NewStyle().Foreground(warningColor).Render(line)
		case strings.Contains(line, "[INFO]"):
			line = lipgloss.NewStyle().Foreground(successColor).Render(line)
		case strings.Contains(line, "[DEBUG]"):
			line = lipgloss.NewStyle().Foreground(lipgloss.Color("#9999ff")).Render(line)
		}
		b.WriteString("  " + line + "\n")
	}
	return sectionStyle.Render(lipgloss.JoinVertical(lipgloss.Left, headerStyle.Render("ЛОГИ"), b.String()))
}

// tailLogs последние limit строк JSON-лога в читаемом виде.
// Отсутствующий файл не ошибка.
func tailLogs(path string, limit int) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if len(lines) > limit {
			lines = lines[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = formatLogLine(l)
	}
	return out, nil
}

// formatLogLine превращает JSON-запись zap в строку "[15:04:05] [INFO] msg (k: v)"
func formatLogLine(line string) string {
	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		return line
	}

	level, _ := entry["level"].(string)
	ts, _ := entry["ts"].(string)
	msg, _ := entry["msg"].(string)
	level = strings.ToUpper(ansiRegex.ReplaceAllString(level, ""))

	timestamp := ""
	if t, err := time.Parse("02.01.2006 - 15:04:05.000Z07:00", ts); err == nil {
		timestamp = t.Format("15:04:05")
	}

	keys := make([]string, 0, len(entry))
	for k := range entry {
		switch k {
		case "level", "ts", "msg", "caller", "stacktrace":
		default:
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] [%s] %s", timestamp, level, msg)
	for _, k := range keys {
		fmt.Fprintf(&b, " (%s: %v)", k, entry[k])
	}
	return b.String()
}
