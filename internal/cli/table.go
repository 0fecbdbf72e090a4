package cli

import (
	"io"

	"github.com/jedib0t/go-pretty/v6/table"

	"vouch/internal/identity"
	"vouch/pkg/logging"
)

// RenderAccountsTable writes the signed-in accounts as a table.
func RenderAccountsTable(w io.Writer, accounts []identity.Account) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Username", "Home Account ID", "Environment"})
	for _, account := range accounts {
		t.AppendRow(table.Row{
			account.Username,
			logging.TruncateID(account.HomeAccountID),
			account.Environment,
		})
	}
	t.SetStyle(table.StyleLight)
	t.Render()
}
