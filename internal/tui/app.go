package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/jask/trackable/internal/config"
	"github.com/jask/trackable/internal/database/repository"
	"github.com/jask/trackable/internal/service"
)

// App is the order browser: a page of latest orders and the timeline of the
// selected one.
type App struct {
	ctx       context.Context
	repos     Repos
	services  Services
	cfg       config.Config
	userID    string
	state     appState
	modal     modalState
	orders    []repository.Order
	total     int
	merchants map[string]string // id -> name
	cursor    int
	page      int
	filter    int // index into statusFilters
	timeline  []repository.Order
	notices   []repository.Intervention
	status    string
	tz        *time.Location
	now       func() time.Time
}

type Repos struct {
	Merchants     *repository.MerchantRepo
	Interventions *repository.InterventionRepo
}

type Services struct {
	History     *service.History
	Evaluator   *service.Evaluator
	Maintenance *service.MaintenanceService
}

type appState string

const (
	viewOrders   appState = "orders"
	viewTimeline appState = "timeline"
)

type modalState string

const (
	modalNone         modalState = ""
	modalConfirmReset modalState = "confirmReset"
)

const pageSize = 20

// statusFilters cycles with [f]; the empty status shows everything.
var statusFilters = append([]repository.OrderStatus{""}, repository.StatusProgression...)

func New(ctx context.Context, cfg config.Config, userID string, repos Repos, services Services, tz *time.Location) *App {
	if tz == nil {
		tz = time.Local
	}
	return &App{
		ctx:       ctx,
		repos:     repos,
		services:  services,
		cfg:       cfg,
		userID:    userID,
		state:     viewOrders,
		merchants: map[string]string{},
		tz:        tz,
		now:       time.Now,
	}
}

func (a *App) Init() tea.Cmd {
	return tea.Batch(a.loadMerchants(), a.loadOrders())
}

func (a *App) filterValue() repository.OrderStatus { return statusFilters[a.filter] }

func (a *App) loadOrders() tea.Cmd {
	f := service.LatestFilter{Status: a.filterValue(), Limit: pageSize, Offset: a.page * pageSize}
	return func() tea.Msg {
		list, err := a.services.History.ListLatestForUser(a.ctx, a.userID, f)
		if err != nil {
			return errMsg{err}
		}
		total, err := a.services.History.CountLatestForUser(a.ctx, a.userID, f)
		if err != nil {
			return errMsg{err}
		}
		return ordersMsg{orders: list, total: total}
	}
}

func (a *App) loadMerchants() tea.Cmd {
	return func() tea.Msg {
		list, err := a.repos.Merchants.List(a.ctx)
		if err != nil {
			return errMsg{err}
		}
		return merchantListMsg(list)
	}
}

func (a *App) loadTimeline(o repository.Order) tea.Cmd {
	return func() tea.Msg {
		rows, err := a.services.History.Timeline(a.ctx, a.userID, o.MerchantID, o.OrderNumber)
		if err != nil {
			return errMsg{err}
		}
		var notices []repository.Intervention
		if a.repos.Interventions != nil {
			for _, r := range rows {
				ivs, err := a.repos.Interventions.ListForOrder(a.ctx, r.ID)
				if err != nil {
					return errMsg{err}
				}
				notices = append(notices, ivs...)
			}
		}
		return timelineMsg{rows: rows, notices: notices}
	}
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch m := msg.(type) {
	case tea.KeyMsg:
		if a.modal != modalNone {
			return a.handleModalKey(m)
		}
		if a.state == viewTimeline {
			return a.handleTimelineKey(m)
		}
		switch m.String() {
		case "q", "ctrl+c":
			return a, tea.Quit
		case "up", "k":
			if a.cursor > 0 {
				a.cursor--
			}
		case "down", "j":
			if a.cursor < len(a.orders)-1 {
				a.cursor++
			}
		case "enter", "l":
			if len(a.orders) > 0 {
				a.state = viewTimeline
				a.timeline, a.notices = nil, nil
				return a, a.loadTimeline(a.orders[a.cursor])
			}
		case "n":
			if (a.page+1)*pageSize < a.total {
				a.page++
				a.cursor = 0
				return a, a.loadOrders()
			}
		case "p":
			if a.page > 0 {
				a.page--
				a.cursor = 0
				return a, a.loadOrders()
			}
		case "f":
			a.filter = (a.filter + 1) % len(statusFilters)
			a.page, a.cursor = 0, 0
			return a, a.loadOrders()
		case "r":
			return a, tea.Batch(a.loadMerchants(), a.loadOrders())
		case "e":
			a.status = "evaluating deadlines..."
			return a, a.sweepCmd()
		case "m":
			if len(a.orders) > 0 {
				return a, a.toggleMonitorCmd(a.orders[a.cursor])
			}
		case "x":
			a.modal = modalConfirmReset
		}
	case ordersMsg:
		a.orders = m.orders
		a.total = m.total
		if a.cursor >= len(a.orders) {
			a.cursor = 0
		}
	case merchantListMsg:
		a.merchants = make(map[string]string, len(m))
		for _, mc := range m {
			a.merchants[mc.ID] = mc.Name
		}
	case timelineMsg:
		a.timeline = m.rows
		a.notices = m.notices
	case monitorMsg:
		for i := range a.orders {
			if a.orders[i].ID == m.orderID {
				a.orders[i].IsMonitored = m.monitored
				state := "off"
				if m.monitored {
					state = "on"
				}
				a.status = fmt.Sprintf("#%s monitoring %s", a.orders[i].OrderNumber, state)
			}
		}
	case statusMsg:
		a.status = string(m)
	case errMsg:
		a.status = "error: " + m.Error()
	}
	return a, nil
}

func (a *App) handleTimelineKey(m tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch m.String() {
	case "q", "ctrl+c":
		return a, tea.Quit
	case "esc", "b", "h":
		a.state = viewOrders
		a.status = ""
	}
	return a, nil
}

func (a *App) handleModalKey(m tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch m.String() {
	case "y":
		a.modal = modalNone
		return a, a.resetCmd()
	case "n", "esc":
		a.modal = modalNone
	}
	return a, nil
}

func (a *App) View() string {
	var body string
	switch a.state {
	case viewTimeline:
		body = a.renderTimeline()
	default:
		body = a.renderOrders()
	}
	if a.modal != modalNone {
		body += "\n\n" + a.renderModal()
	}
	return body
}

// commands
func (a *App) sweepCmd() tea.Cmd {
	return tea.Sequence(
		func() tea.Msg {
			if a.services.Evaluator == nil {
				return errMsg{fmt.Errorf("evaluator not configured")}
			}
			res, err := a.services.Evaluator.Sweep(a.ctx, a.userID, a.now())
			if err != nil {
				return errMsg{err}
			}
			return statusMsg(fmt.Sprintf("evaluated %d orders: %d interventions, %d windows set", res.Evaluated, res.Recorded, res.Windows))
		},
		a.loadOrders(),
	)
}

func (a *App) toggleMonitorCmd(o repository.Order) tea.Cmd {
	want := !o.IsMonitored
	return func() tea.Msg {
		if a.services.History == nil {
			return errMsg{fmt.Errorf("history not configured")}
		}
		if err := a.services.History.SetMonitored(a.ctx, a.userID, o.MerchantID, o.OrderNumber, want); err != nil {
			return errMsg{err}
		}
		return monitorMsg{orderID: o.ID, monitored: want}
	}
}

func (a *App) resetCmd() tea.Cmd {
	return tea.Sequence(
		func() tea.Msg {
			if a.services.Maintenance == nil {
				return errMsg{fmt.Errorf("maintenance not configured")}
			}
			if err := a.services.Maintenance.Reset(a.ctx); err != nil {
				return errMsg{err}
			}
			return statusMsg("database reset (empty)")
		},
		a.resetView(),
	)
}

func (a *App) resetView() tea.Cmd {
	a.page, a.cursor, a.filter = 0, 0, 0
	return tea.Batch(a.loadMerchants(), a.loadOrders())
}

type ordersMsg struct {
	orders []repository.Order
	total  int
}

type merchantListMsg []repository.Merchant

type timelineMsg struct {
	rows    []repository.Order
	notices []repository.Intervention
}

type monitorMsg struct {
	orderID   string
	monitored bool
}

type statusMsg string

type errMsg struct{ error }

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Underline(true)
	dimStyle    = lipgloss.NewStyle().Faint(true)
	urgentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
)

func (a *App) renderOrders() string {
	filter := "all"
	if f := a.filterValue(); f != "" {
		filter = string(f)
	}
	pages := (a.total + pageSize - 1) / pageSize
	if pages == 0 {
		pages = 1
	}
	out := titleStyle.Render("Orders") + dimStyle.Render(fmt.Sprintf("  status: %s  page %d/%d  (%d orders)", filter, a.page+1, pages, a.total)) + "\n"
	if len(a.orders) == 0 {
		out += "  (no orders)\n"
	}
	for i, o := range a.orders {
		marker := " "
		if i == a.cursor {
			marker = "▶"
		}
		out += fmt.Sprintf("%s %s  %-20s  %-16s  %-10s  %10s  %s\n",
			marker, a.orderDate(o), truncate(a.merchantName(o.MerchantID), 20), truncate(o.OrderNumber, 16),
			o.Status, moneyLabel(o.Total), a.deadlineLabel(o))
	}
	out += "[enter] Timeline  [f] Filter status  [n/p] Page  [m] Monitor  [e] Evaluate deadlines  [r] Reload  [x] Reset  [q] Quit"
	if a.status != "" {
		out += "\n" + a.status
	}
	return out
}

func (a *App) renderTimeline() string {
	if len(a.orders) == 0 {
		return titleStyle.Render("Timeline") + "\n(no order selected)\n[esc] Back"
	}
	o := a.orders[a.cursor]
	out := titleStyle.Render(fmt.Sprintf("%s  #%s", a.merchantName(o.MerchantID), o.OrderNumber)) + "\n"
	if a.timeline == nil {
		out += "loading...\n"
	}
	for _, r := range a.timeline {
		src := string(r.SourceType)
		if r.LastSourceID != nil {
			src = *r.LastSourceID
		}
		out += fmt.Sprintf("  %-10s  %s  %-24s  %s\n", r.Status, r.CreatedAt.In(a.tz).Format("2006-01-02 15:04"), truncate(src, 24), itemsLabel(r.Items))
		if len(r.Notes) > 0 {
			out += dimStyle.Render("              notes: "+strings.Join(r.Notes, "; ")) + "\n"
		}
	}
	if len(a.timeline) > 0 {
		latest := a.timeline[len(a.timeline)-1]
		if latest.ReturnWindowEnd != nil {
			out += fmt.Sprintf("Return window: until %s\n", latest.ReturnWindowEnd.In(a.tz).Format("2006-01-02"))
		}
		if latest.ExchangeWindowEnd != nil {
			out += fmt.Sprintf("Exchange window: until %s\n", latest.ExchangeWindowEnd.In(a.tz).Format("2006-01-02"))
		}
	}
	if len(a.notices) > 0 {
		out += "Interventions:\n"
		for _, iv := range a.notices {
			line := fmt.Sprintf("  [%s] %s: %s", iv.Priority, iv.Title, iv.Message)
			if iv.Priority == string(service.PriorityUrgent) {
				line = urgentStyle.Render(line)
			}
			out += line + "\n"
		}
	}
	out += "[esc] Back  [q] Quit"
	if a.status != "" {
		out += "\n" + a.status
	}
	return out
}

func (a *App) renderModal() string {
	switch a.modal {
	case modalConfirmReset:
		return titleStyle.Render("Reset database?") + "\nThis will delete all orders, merchants and sources.\n[y] Yes  [n] No"
	default:
		return ""
	}
}

func (a *App) merchantName(id string) string {
	if name, ok := a.merchants[id]; ok && name != "" {
		return name
	}
	return id
}

func (a *App) orderDate(o repository.Order) string {
	d := o.CreatedAt
	if o.OrderDate != nil {
		d = *o.OrderDate
	}
	return d.In(a.tz).Format("2006-01-02")
}

// deadlineLabel shows the nearest open window, or nothing.
func (a *App) deadlineLabel(o repository.Order) string {
	if !o.IsMonitored {
		return dimStyle.Render("unmonitored")
	}
	now := a.now()
	var next *time.Time
	for _, end := range []*time.Time{o.ReturnWindowEnd, o.ExchangeWindowEnd} {
		if end == nil || end.Before(now) {
			continue
		}
		if next == nil || end.Before(*next) {
			next = end
		}
	}
	if next == nil {
		return ""
	}
	days := int(next.Sub(now).Hours() / 24)
	label := fmt.Sprintf("closes in %dd", days)
	if days <= a.cfg.Deadline.UrgentDays {
		return urgentStyle.Render(label)
	}
	return label
}

func moneyLabel(m *repository.Money) string {
	if m == nil {
		return "-"
	}
	return m.String()
}

func itemsLabel(items []repository.Item) string {
	if len(items) == 0 {
		return ""
	}
	names := make([]string, 0, len(items))
	for _, it := range items {
		if it.Quantity > 1 {
			names = append(names, fmt.Sprintf("%dx %s", it.Quantity, it.Name))
			continue
		}
		names = append(names, it.Name)
	}
	return truncate(strings.Join(names, ", "), 48)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
