package renderer

import (
	"strings"
	"testing"

	"github.com/etnz/taxlot"
	"github.com/etnz/taxlot/date"
	"github.com/etnz/taxlot/rates"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

type table struct {
	header []string
	rows   [][]string
}

// column returns the cells of the named column.
func (t table) column(name string) []string {
	for i, h := range t.header {
		if h == name {
			var res []string
			for _, r := range t.rows {
				res = append(res, r[i])
			}
			return res
		}
	}
	return nil
}

// parseTables parses md as GitHub flavored markdown and returns its tables.
func parseTables(t *testing.T, md string) []table {
	t.Helper()
	src := []byte(md)
	doc := goldmark.New(goldmark.WithExtensions(extension.Table)).Parser().Parse(text.NewReader(src))

	var tables []table
	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		tbl, ok := n.(*extast.Table)
		if !ok {
			return ast.WalkContinue, nil
		}
		var res table
		for row := tbl.FirstChild(); row != nil; row = row.NextSibling() {
			var cells []string
			for c := row.FirstChild(); c != nil; c = c.NextSibling() {
				cells = append(cells, nodeText(c, src))
			}
			if _, isHeader := row.(*extast.TableHeader); isHeader {
				res.header = cells
			} else {
				res.rows = append(res.rows, cells)
			}
		}
		tables = append(tables, res)
		return ast.WalkSkipChildren, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return tables
}

func nodeText(n ast.Node, src []byte) string {
	var b strings.Builder
	ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch c := c.(type) {
		case *ast.Text:
			b.Write(c.Segment.Value(src))
		case *ast.String:
			b.Write(c.Value)
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(b.String())
}

func day(s string) date.Date { return date.MustParse(s) }

func lot(id, acquired string, qty, basis float64) taxlot.TaxLot {
	return taxlot.NewLot{AccountID: "acc", Symbol: "XYZ", Quantity: taxlot.Q(qty), PricePerShare: taxlot.USD(basis), Date: day(acquired)}.Lot(id)
}

func TestSalePreviewMarkdown(t *testing.T) {
	lots := []taxlot.TaxLot{
		lot("a", "2020-01-01", 10, 10),
		lot("b", "2021-06-01", 10, 20),
		lot("c", "2022-01-01", 10, 5),
	}
	req := taxlot.SaleRequest{AccountID: "acc", Symbol: "XYZ", Quantity: taxlot.Q(15), Price: taxlot.USD(12), SaleDate: day("2024-06-01")}
	p, err := taxlot.PreviewSale(lots, req, nil, taxlot.DefaultTaxProfile(), taxlot.WashSaleDetector{}, taxlot.Estimator{Rates: rates.Table2024{}})
	if err != nil {
		t.Fatal(err)
	}

	md := SalePreviewMarkdown(p)
	tables := parseTables(t, md)
	if len(tables) != 2 {
		t.Fatalf("got %d tables, want 2:\n%s", len(tables), md)
	}
	methods := tables[0].column("Method")
	if strings.Join(methods, ",") != "fifo,lifo,hifo" {
		t.Errorf("methods = %v", methods)
	}
	if net := tables[0].column("Net Gain/Loss"); net[2] != "-$70.00" {
		t.Errorf("HIFO net = %q, want -$70.00", net[2])
	}
	if lots := tables[1].column("Lot"); strings.Join(lots, ",") != "a,b" {
		t.Errorf("FIFO lots = %v", lots)
	}
	if !strings.Contains(md, "**Recommended: hifo**") || strings.Contains(md, "## Wash Sale") {
		t.Errorf("unexpected preview:\n%s", md)
	}

	p.WashSale = taxlot.WashSaleAnalysis{
		HasRisk: true, CurrentDisallowed: taxlot.USD(40), Reason: "XYZ was bought on 2024-05-25",
		BlockedUntil: day("2024-06-24"), SafeToSellDate: day("2024-06-25"),
	}
	md = SalePreviewMarkdown(p)
	for _, want := range []string{"## Wash Sale", "Disallowed loss: $40.00", "safe to sell from 2024-06-25"} {
		if !strings.Contains(md, want) {
			t.Errorf("missing %q in:\n%s", want, md)
		}
	}

	// a disallowed loss from a purchase already past does not block the sale.
	p.WashSale = taxlot.WashSaleAnalysis{HasRisk: true, CurrentDisallowed: taxlot.USD(40), SafeToSellDate: day("2024-06-01")}
	md = SalePreviewMarkdown(p)
	if !strings.Contains(md, "Disallowed loss: $40.00") || strings.Contains(md, "Blocked until") {
		t.Errorf("unexpected wash sale section:\n%s", md)
	}
}

func TestSalePreviewMarkdown_UnknownBasis(t *testing.T) {
	lots := []taxlot.TaxLot{
		taxlot.NewLot{AccountID: "acc", Symbol: "XYZ", Quantity: taxlot.Q(100), Date: day("2020-01-01"), Type: taxlot.TransferIn, BasisUnknown: true}.Lot("u"),
		lot("k", "2024-01-02", 100, 20),
	}
	req := taxlot.SaleRequest{AccountID: "acc", Symbol: "XYZ", Quantity: taxlot.Q(50), Price: taxlot.USD(25), SaleDate: day("2024-06-01"), Method: taxlot.FIFO}
	p, err := taxlot.PreviewSale(lots, req, nil, taxlot.DefaultTaxProfile(), taxlot.WashSaleDetector{}, taxlot.Estimator{Rates: rates.Table2024{}})
	if err != nil {
		t.Fatal(err)
	}

	md := SalePreviewMarkdown(p)
	tables := parseTables(t, md)
	if len(tables) != 1 {
		t.Fatalf("got %d tables, want 1:\n%s", len(tables), md)
	}
	if proceeds := tables[0].column("Proceeds"); strings.Join(proceeds, ",") != "unavailable,$1,250.00,$1,250.00" {
		t.Errorf("proceeds = %v", proceeds)
	}
	for _, want := range []string{"Cannot be computed", "## Missing Cost Basis", "cost basis: u."} {
		if !strings.Contains(md, want) {
			t.Errorf("missing %q in:\n%s", want, md)
		}
	}
}

func TestSaleMarkdown(t *testing.T) {
	res := taxlot.SaleResult{
		AccountID: "acc", Symbol: "XYZ", SaleDate: day("2024-06-01"), Quantity: taxlot.Q(100), Price: taxlot.USD(10),
		Dispositions: []taxlot.Disposition{{
			LotID: "l1", Quantity: taxlot.Q(100), AcquisitionDate: day("2023-01-01"),
			CostBasis: taxlot.USD(1500), Proceeds: taxlot.USD(1000), GainLoss: taxlot.USD(-500), WashSaleDisallowed: taxlot.USD(500),
		}},
		WashSaleDisallowed: taxlot.USD(500),
	}
	if md := SaleMarkdown("s1", res); strings.Contains(md, "Basis Adjustments") {
		t.Errorf("no adjustment, no section:\n%s", md)
	}

	res.Adjustments = []taxlot.BasisAdjustment{{LotID: "l2", Quantity: taxlot.Q(100), Amount: taxlot.USD(500), SourceLotID: "l1"}}
	md := SaleMarkdown("s1", res)
	tables := parseTables(t, md)
	if len(tables) != 3 {
		t.Fatalf("got %d tables, want 3:\n%s", len(tables), md)
	}
	if got := tables[0].column("Gain/Loss"); got[0] != "-$500.00" {
		t.Errorf("gain/loss = %v", got)
	}
	if got := tables[2].column("Basis Added"); len(got) != 1 || got[0] != "$500.00" {
		t.Errorf("basis added = %v", got)
	}
}

func TestScanMarkdown(t *testing.T) {
	r := taxlot.ScanResult{
		AsOf: day("2024-06-01"),
		Opportunities: []taxlot.HarvestOpportunity{
			{
				AccountName: "Brokerage", Symbol: "AAPL", Shares: taxlot.Q(100), CostBasis: taxlot.USD(15000), CurrentValue: taxlot.USD(12000),
				UnrealizedLoss: taxlot.USD(3000), HoldingPeriod: taxlot.LongTerm, TaxSavings: taxlot.USD(622.5),
				CalculationBreakdown: "$3,000.00 × (15.0% federal + 5.75% VA) = $622.50",
				WashSaleRisk:         taxlot.WouldTrigger, IsActionable: true,
				Substitutes: []taxlot.Alternative{{Symbol: "MSFT"}},
			},
			{
				AccountName: "Roth IRA", Symbol: "TSLA", UnrealizedLoss: taxlot.USD(800),
				SafeToSellDate: day("2024-06-25"), Blockers: []string{"tax-advantaged account"},
			},
		},
		Summary:  taxlot.ScanSummary{TotalHarvestable: taxlot.USD(3000), TotalTaxSavings: taxlot.USD(622.5), ActionableCount: 1, BlockedCount: 1},
		Warnings: []string{"no price for XYZ"},
	}
	md := ScanMarkdown(r)
	tables := parseTables(t, md)
	if len(tables) != 3 {
		t.Fatalf("got %d tables, want 3:\n%s", len(tables), md)
	}
	if got := tables[0].rows[0]; got[1] != "-$3,000.00" {
		t.Errorf("harvestable = %v", got)
	}
	if got := tables[1].column("Symbol"); len(got) != 1 || got[0] != "AAPL" {
		t.Errorf("opportunities = %v", got)
	}
	if got := tables[1].column("Wash Sale"); got[0] != "would-trigger" {
		t.Errorf("wash sale = %v", got)
	}
	blocked := tables[2]
	if got := blocked.column("Safe to Sell"); got[0] != "2024-06-25" {
		t.Errorf("safe to sell = %v", got)
	}
	if got := blocked.column("Blockers"); got[0] != "tax-advantaged account" {
		t.Errorf("blockers = %v", got)
	}
	for _, want := range []string{"Alternatives: MSFT", "- no price for XYZ"} {
		if !strings.Contains(md, want) {
			t.Errorf("missing %q in:\n%s", want, md)
		}
	}

	r.Opportunities = r.Opportunities[:1]
	r.Warnings = nil
	md = ScanMarkdown(r)
	if strings.Contains(md, "## Blocked") || strings.Contains(md, "## Warnings") {
		t.Errorf("empty sections are left out:\n%s", md)
	}
}

func TestLotsMarkdown(t *testing.T) {
	lots := []taxlot.TaxLot{lot("a", "2022-01-01", 100, 150), lot("b", "2024-03-01", 10, 300)}
	lots[1].Symbol = "MSFT"
	views := taxlot.EnrichLotsWithMarketData(lots, taxlot.Quotes{"XYZ": taxlot.USD(120)}, day("2024-06-01"))
	md := LotsMarkdown(views, taxlot.GroupBySymbol(lots))

	tables := parseTables(t, md)
	if len(tables) != 2 {
		t.Fatalf("got %d tables, want 2:\n%s", len(tables), md)
	}
	if got := tables[0].column("Gain/Loss"); got[0] != "-$3,000.00" || got[1] != "n/a" {
		t.Errorf("gain/loss = %v", got)
	}
	if got := tables[0].column("%"); got[0] != "-20.0%" {
		t.Errorf("percent = %v", got)
	}
	if got := tables[0].column("Term"); got[0] != "long-term" || got[1] != "short-term" {
		t.Errorf("term = %v", got)
	}
	if got := tables[1].column("Symbol"); strings.Join(got, ",") != "MSFT,XYZ" {
		t.Errorf("positions = %v", got)
	}

	if md := LotsMarkdown(nil, nil); !strings.Contains(md, "No open lots.") {
		t.Errorf("empty = %q", md)
	}
}

func TestSafeToSellMarkdown(t *testing.T) {
	md := SafeToSellMarkdown(taxlot.SafeToSell{Symbol: "XYZ", SafeDate: day("2024-06-20"), Reason: "XYZ was bought on 2024-05-20"})
	if !strings.Contains(md, "before **2024-06-20**") || !strings.Contains(md, "bought on 2024-05-20") {
		t.Errorf("blocked = %q", md)
	}
	md = SafeToSellMarkdown(taxlot.SafeToSell{Symbol: "XYZ", Safe: true, SafeDate: day("2024-06-01")})
	if !strings.Contains(md, "Safe to sell") {
		t.Errorf("safe = %q", md)
	}
}

func TestFindingsMarkdown(t *testing.T) {
	findings := []taxlot.Finding{{
		Symbol: "AAPL", Status: taxlot.FindingPotential, Loss: taxlot.USD(3000), TaxSavings: taxlot.USD(622.5),
		Accounts: []string{"Brokerage", "Joint"}, CreatedAt: day("2024-06-01"), UpdatedAt: day("2024-06-01"), ExpiresAt: day("2024-12-31"),
	}}
	md := FindingsMarkdown(findings, taxlot.FindingPlan{Create: findings})
	if !strings.Contains(md, "1 new, 0 refreshed, 0 expired") {
		t.Errorf("plan line missing:\n%s", md)
	}
	tables := parseTables(t, md)
	if len(tables) != 1 || tables[0].column("Accounts")[0] != "Brokerage, Joint" {
		t.Fatalf("tables = %+v", tables)
	}

	md = FindingsMarkdown(nil, taxlot.FindingPlan{})
	if strings.Contains(md, "Last scan") || !strings.Contains(md, "No findings.") {
		t.Errorf("empty = %q", md)
	}
}

func TestAccountsMarkdown(t *testing.T) {
	md := AccountsMarkdown([]taxlot.Account{
		{ID: "acc", Name: "Brokerage", Type: "taxable", Lots: []taxlot.TaxLot{lot("a", "2022-01-01", 1, 1)}},
		{ID: "ira", Name: "Roth IRA", Type: "Roth IRA"},
	})
	tables := parseTables(t, md)
	if len(tables) != 1 {
		t.Fatalf("got %d tables, want 1:\n%s", len(tables), md)
	}
	if got := tables[0].column("Taxable"); strings.Join(got, ",") != "yes,no" {
		t.Errorf("taxable = %v", got)
	}
	if got := tables[0].column("Open Lots"); strings.Join(got, ",") != "1,0" {
		t.Errorf("open lots = %v", got)
	}
}

func TestHarvestPlanMarkdown(t *testing.T) {
	selected := []taxlot.LotCandidate{
		{Lot: lot("a", "2024-01-01", 10, 50), Price: taxlot.USD(30), Loss: taxlot.USD(200), HoldingPeriod: taxlot.ShortTerm},
		{Lot: lot("b", "2020-01-01", 10, 40), Price: taxlot.USD(30), Loss: taxlot.USD(100), HoldingPeriod: taxlot.LongTerm},
	}
	md := HarvestPlanMarkdown(selected, taxlot.USD(500))
	tables := parseTables(t, md)
	if len(tables) != 1 {
		t.Fatalf("got %d tables, want 1:\n%s", len(tables), md)
	}
	if got := tables[0].column("Loss"); strings.Join(got, ",") != "-$200.00,-$100.00" {
		t.Errorf("loss = %v", got)
	}
	if !strings.Contains(md, "Total loss realized: -$300.00, short of the target by $200.00") {
		t.Errorf("total line missing:\n%s", md)
	}

	if md := HarvestPlanMarkdown(nil, taxlot.USD(500)); !strings.Contains(md, "No lot can be harvested.") {
		t.Errorf("empty = %q", md)
	}
}
