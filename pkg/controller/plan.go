package controller

import (
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
)

// Plan renders the sorted group layout of one output cycle: when each pin
// goes high and low relative to the start of the cycle.
func (c *Controller) Plan() string {
	c.Servos.Sort()
	cfg := c.Servos.Timing()

	t := table.NewWriter()
	t.SetTitle(fmt.Sprintf("cycle %v, %d groups of %d, group time %v, stagger %v",
		cfg.CycleTime, cfg.Groups, cfg.GroupSize(), cfg.GroupTime(), cfg.InterruptServiceTime))
	t.AppendHeader(table.Row{"Group", "Slot", "Servo", "Position", "On", "High at", "Low at"})
	for _, group := range c.Servos.Layout() {
		for _, e := range group {
			high := time.Duration(e.Group)*cfg.GroupTime() + time.Duration(e.Slot)*cfg.InterruptServiceTime
			t.AppendRow(table.Row{e.Group, e.Slot, e.Index, e.Position, e.OnTime, high, high + e.OnTime})
		}
		t.AppendSeparator()
	}
	t.AppendFooter(table.Row{"", "", fmt.Sprintf("%d/%d", c.Servos.Len(), c.Servos.Capacity())})
	return strings.TrimRight(t.Render(), "\n")
}
