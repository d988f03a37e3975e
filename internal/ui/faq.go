package ui

import (
	"strings"

	"bundlealert-miniapp/internal/common/constants"
)

// FAQAccordion shows questions with at most one answer expanded.
type FAQAccordion struct {
	items []constants.FAQ
	open  int
}

func NewFAQAccordion(items []constants.FAQ) FAQAccordion {
	return FAQAccordion{items: items, open: -1}
}

// Toggle opens entry i, or closes it when it is already open.
func (f *FAQAccordion) Toggle(i int) {
	if i < 0 || i >= len(f.items) {
		return
	}
	if f.open == i {
		f.open = -1
		return
	}
	f.open = i
}

// Open returns the expanded index or -1.
func (f FAQAccordion) Open() int { return f.open }

func (f FAQAccordion) Len() int { return len(f.items) }

func (f FAQAccordion) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Frequently asked questions"))
	for i, it := range f.items {
		b.WriteByte('\n')
		sign := "+"
		if i == f.open {
			sign = "−"
		}
		b.WriteString(mutedStyle.Render(string(rune('1'+i)) + " " + sign + " "))
		b.WriteString(textStyle.Render(it.Question))
		if i == f.open {
			b.WriteString("\n    ")
			b.WriteString(mutedStyle.Render(it.Answer))
		}
	}
	return b.String()
}
