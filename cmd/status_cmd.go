package cmd

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/cellstore/internal/store"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Width(26)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show storage mode and the state of every store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStores(cmd.Context(), func(s *session) error {
				fmt.Fprintln(cmd.OutOrStdout(), renderStatus(s))
				return nil
			})
		},
	}
}

func renderStatus(s *session) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("cellstore "+Version) + "\n")
	b.WriteString(labelStyle.Render("mode") + s.cfg.Storage.Mode + "\n")
	b.WriteString(labelStyle.Render("data dir") + s.cfg.Storage.DataDir + "\n\n")

	for _, name := range store.Names {
		st, err := s.stores.Lookup(name)
		if err != nil {
			continue
		}
		state := okStyle.Render("ok")
		if herr := st.HydrationErr(); herr != nil {
			state = errStyle.Render("degraded: " + herr.Error())
		} else if !st.Hydrated() {
			state = errStyle.Render("loading")
		}
		size := ""
		if raw, err := s.stores.GetJSON(name); err == nil {
			size = fmt.Sprintf(" (%d bytes)", len(raw))
		}
		b.WriteString(labelStyle.Render(name) + state + size + "\n")
	}

	cols := s.stores.Collections.Get()
	requests := 0
	for _, c := range cols {
		requests += len(c.Requests)
	}
	b.WriteString("\n")
	b.WriteString(labelStyle.Render("collections") + fmt.Sprintf("%d (%d requests)", len(cols), requests) + "\n")
	if cur, ok := s.stores.CurrentCollection(); ok {
		b.WriteString(labelStyle.Render("current collection") + cur.Title + "\n")
	}
	if env, ok := s.stores.CurrentEnvironment(); ok {
		b.WriteString(labelStyle.Render("active environment") + env.Name + "\n")
	}
	b.WriteString(labelStyle.Render("history") + fmt.Sprintf("%d/%d", len(s.stores.History.Get()), store.MaxHistory))
	if !s.stores.HistoryEnabled.Get() {
		b.WriteString(" (disabled)")
	}
	return boxStyle.Render(b.String())
}
