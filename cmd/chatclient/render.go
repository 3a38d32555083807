package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/Tyrowin/chatrelay/internal/relay"
	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"
)

// printer writes server events to the terminal. Reads and user input happen
// on different goroutines, so output is serialised.
type printer struct {
	mu      sync.Mutex
	w       io.Writer
	me      relay.UserID
	colours bool
}

func newPrinter(w io.Writer, me relay.UserID, colours bool) *printer {
	return &printer{w: w, me: me, colours: colours}
}

func (p *printer) paint(style color.Style, text string) string {
	if !p.colours {
		return text
	}
	return style.Render(text)
}

func (p *printer) info(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, p.paint(color.New(color.FgGray), text))
}

func (p *printer) problem(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, p.paint(color.New(color.FgRed, color.OpBold), "! "+text))
}

func (p *printer) message(msg relay.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writeMessage(msg)
}

func (p *printer) writeMessage(msg relay.Message) {
	style := color.New(color.FgGreen)
	if msg.SenderID == p.me {
		style = color.New(color.FgCyan)
	}
	stamp := msg.Timestamp.Local().Format("15:04:05")
	fmt.Fprintf(p.w, "%s %s %s\n", p.paint(color.New(color.FgGray), stamp), p.paint(style, string(msg.SenderID)+":"), msg.Payload)
}

func (p *printer) history(messages []relay.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintln(p.w, p.paint(color.New(color.BgBlack, color.FgGreen), fmt.Sprintf("  ====== history (%d) ======", len(messages))))
	for _, msg := range messages {
		p.writeMessage(msg)
	}
}

func (p *printer) onlineUsers(users []relay.UserID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	table := tablewriter.NewWriter(p.w)
	table.SetHeader([]string{"Online", "User"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	for i, user := range users {
		name := string(user)
		if user == p.me {
			name += " (you)"
		}
		table.Append([]string{fmt.Sprint(i + 1), name})
	}
	table.Render()
}
