package invoice

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/shopspring/decimal"

	"github.com/sovra/wallet-ledger/internal/node"
)

// UnitExponent is the number of decimal places between the smallest ledger
// unit and one major unit.
const UnitExponent = 6

// FormatAmount renders smallest-unit amounts as major units.
func FormatAmount(units int64) string {
	return decimal.New(units, -UnitExponent).StringFixed(UnitExponent)
}

// Render writes a plain-text summary of inv.
func Render(w io.Writer, inv Invoice, n node.Node) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintf(tw, "INVOICE\t%s\n", inv.ID)
	fmt.Fprintf(tw, "Node\t%s (%s, %s, %s)\n", n.Name, n.ID, n.Kind, n.RegionCode)
	fmt.Fprintf(tw, "Period\t%s\t%s .. %s\n", inv.Period, inv.PeriodStart.Format("2006-01-02"), inv.PeriodEnd.Format("2006-01-02"))
	fmt.Fprintf(tw, "Status\t%s\n", inv.Status)
	fmt.Fprintf(tw, "Due\t%s\n", inv.DueDate.Format("2006-01-02"))
	if inv.PaidAt != nil {
		fmt.Fprintf(tw, "Paid\t%s\n", inv.PaidAt.Format("2006-01-02 15:04:05"))
	}
	fmt.Fprintln(tw)

	fmt.Fprintln(tw, "DATE\tTRANSACTION\tVERIFICATION\tEVENT\tROLE\tSHARE\tAMOUNT")
	for _, item := range inv.LineItems {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s%%\t%s\n",
			item.OccurredAt.Format("2006-01-02 15:04"),
			item.TransactionID,
			item.VerificationID,
			item.EventType,
			item.Role,
			decimal.New(item.BasisPoints, -2).StringFixed(2),
			FormatAmount(item.Amount),
		)
	}
	fmt.Fprintln(tw)

	types := make([]string, 0, len(inv.EventBreakdown))
	for t := range inv.EventBreakdown {
		types = append(types, t)
	}
	sort.Strings(types)

	fmt.Fprintln(tw, "EVENT TYPE\tCOUNT\tTOTAL")
	for _, t := range types {
		b := inv.EventBreakdown[t]
		fmt.Fprintf(tw, "%s\t%d\t%s\n", t, b.Count, FormatAmount(b.Total))
	}
	fmt.Fprintf(tw, "TOTAL\t%d\t%s\n", len(inv.LineItems), FormatAmount(inv.TotalAmount))

	return tw.Flush()
}
