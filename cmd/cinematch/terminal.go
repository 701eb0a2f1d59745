package main

import (
	"cinematch/domain"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
)

var noticeStyles = map[string]color.Style{
	"request": color.New(color.FgYellow),
	"match":   color.New(color.FgGreen, color.OpBold),
	"room":    color.New(color.FgCyan),
	"link":    color.New(color.FgGray),
	"error":   color.New(color.FgRed),
}

var (
	ownStyle         = color.New(color.FgGreen)
	otherStyle       = color.New(color.FgCyan)
	provisionalStyle = color.New(color.FgGray)
)

// terminal serializes everything written to the user's screen.
type terminal struct {
	mu      sync.Mutex
	w       io.Writer
	colours bool
}

func newTerminal(w io.Writer, colours bool) *terminal {
	return &terminal{w: w, colours: colours}
}

func (t *terminal) render(style color.Style, s string) string {
	if !t.colours {
		return s
	}
	return style.Render(s)
}

func (t *terminal) notice(kind, text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	style, ok := noticeStyles[kind]
	if !ok {
		style = noticeStyles["link"]
	}
	fmt.Fprintln(t.w, t.render(style, fmt.Sprintf("[%s] %s", kind, text)))
}

func (t *terminal) messageLocked(msg domain.ChatMessage, own bool) {
	style, name := otherStyle, msg.SenderName
	switch {
	case msg.Provisional:
		style, name = provisionalStyle, "you"
	case own:
		style, name = ownStyle, "you"
	}
	fmt.Fprintf(t.w, "%s %s: %s\n",
		msg.Timestamp.Local().Format(time.TimeOnly),
		t.render(style, name),
		msg.Content)
}

func (t *terminal) candidates(candidates []domain.MatchCandidate) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(candidates) == 0 {
		fmt.Fprintln(t.w, "No candidates yet.")
		return
	}

	table := t.table("User", "Name", "Shared", "Movies", "Status")
	for _, c := range candidates {
		titles := lo.Map(c.SharedMovies, func(m domain.SharedMovie, _ int) string { return m.Title })
		status := c.Status.Description()
		if c.RequestSentAt != nil {
			status += " " + c.RequestSentAt.Local().Format(time.DateTime)
		}
		table.Append([]string{
			c.UserID,
			c.DisplayName,
			strconv.Itoa(c.OverlapCount),
			strings.Join(titles, ", "),
			status,
		})
	}
	table.Render()
}

func (t *terminal) rooms(rooms []domain.RoomSummary) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(rooms) == 0 {
		fmt.Fprintln(t.w, "No rooms yet.")
		return
	}

	table := t.table("Room", "With", "Last message", "Last at", "Joined")
	for _, r := range rooms {
		with := lo.CoalesceOrEmpty(r.OtherDisplayName, r.OtherUserID)
		lastAt := ""
		if r.LastAt != nil {
			lastAt = r.LastAt.Local().Format(time.DateTime)
		}
		table.Append([]string{
			r.RoomID,
			with,
			r.LastText,
			lastAt,
			r.JoinedAt.Local().Format(time.DateTime),
		})
	}
	table.Render()
}

func (t *terminal) table(header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(t.w)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	return table
}
