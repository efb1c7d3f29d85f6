/*
 *	Copyright 2026 The tracefn Authors
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

// Package inspect renders a dispatcher handle's trace cache as a terminal
// table, for interactive debugging of retracing behavior: one row per cached
// signature with its program name and embedded operation count.
//
// Diagnostics only: nothing here is a stable output format.
package inspect

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"

	"github.com/tracefn/tracefn/exec"
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Faint(false).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Faint(true).
			PaddingLeft(1).PaddingRight(1)
)

func newCacheTable() *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row < 0 {
				return headerRowStyle
			}
			if row%2 == 0 {
				return oddRowStyle
			}
			return evenRowStyle
		})
}

// WriteCache writes the handle's cache table to w: every cached signature,
// the name of the program it traced and how many operations the artifact
// embeds (sub-programs of deferred control flow included).
func WriteCache(w io.Writer, e *exec.Exec) error {
	stats := e.Stats()
	table := newCacheTable().Headers("Signature", "Program", "# Ops")
	for _, s := range stats {
		switch {
		case s.Pending:
			table.Row(s.Signature.String(), "(tracing)", "-")
		case s.Failed:
			table.Row(s.Signature.String(), "(failed)", "-")
		default:
			table.Row(s.Signature.String(), s.ProgramName, humanize.Comma(int64(s.NumOps)))
		}
	}
	_, err := fmt.Fprintf(w, "%s: %s cached artifacts, %d variables\n%s\n",
		e.Name(), humanize.Comma(int64(len(stats))), e.Vars().NumVariables(),
		table.Render())
	return err
}
