// Package reporting builds read-only dashboard rollups over the document store.
package reporting

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
)

// KPIs are the headline counters of the dashboard.
type KPIs struct {
	TotalDocs   int             `json:"total_docs"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Active      int             `json:"vigentes"`
}

// IssuerTotal is the sum of document totals for one issuer.
type IssuerTotal struct {
	RFC   string          `json:"rfc"`
	Name  string          `json:"name"`
	Value decimal.Decimal `json:"value"`
}

// Snapshot is a consistent read of the store: KPIs and per-issuer totals come from the same view.
type Snapshot struct {
	KPIs    KPIs
	Issuers []IssuerTotal
}

// Dashboard is the payload served at /dashboard.
type Dashboard struct {
	KPIs       KPIs          `json:"kpis"`
	TopIssuers []IssuerTotal `json:"top_emisores"`
}

// Repository exposes the snapshot needed by the dashboard.
type Repository interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

// DocumentRow is the minimal view of a document used to fold KPIs in memory.
type DocumentRow struct {
	IssuerRFC  string
	IssuerName string
	Total      decimal.Decimal
	Active     bool
}

// Summarize folds document rows into KPIs and per-issuer totals.
func Summarize(rows []DocumentRow) Snapshot {
	var snap Snapshot
	byRFC := make(map[string]int)
	for _, row := range rows {
		snap.KPIs.TotalDocs++
		snap.KPIs.TotalAmount = snap.KPIs.TotalAmount.Add(row.Total)
		if row.Active {
			snap.KPIs.Active++
		}
		idx, ok := byRFC[row.IssuerRFC]
		if !ok {
			idx = len(snap.Issuers)
			byRFC[row.IssuerRFC] = idx
			snap.Issuers = append(snap.Issuers, IssuerTotal{RFC: row.IssuerRFC, Name: row.IssuerName})
		}
		snap.Issuers[idx].Value = snap.Issuers[idx].Value.Add(row.Total)
	}
	return snap
}

// RankIssuers returns the n issuers with the largest totals. Equal totals are ordered by RFC.
func RankIssuers(totals []IssuerTotal, n int) []IssuerTotal {
	ranked := append([]IssuerTotal(nil), totals...)
	sort.SliceStable(ranked, func(i, j int) bool {
		if c := ranked[i].Value.Cmp(ranked[j].Value); c != 0 {
			return c > 0
		}
		return ranked[i].RFC < ranked[j].RFC
	})
	if n >= 0 && len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

// Build turns a snapshot into the dashboard payload.
func Build(snap Snapshot, topN int) Dashboard {
	kpis := snap.KPIs
	kpis.TotalAmount = kpis.TotalAmount.Round(2)
	top := RankIssuers(snap.Issuers, topN)
	if top == nil {
		top = []IssuerTotal{}
	}
	return Dashboard{KPIs: kpis, TopIssuers: top}
}
