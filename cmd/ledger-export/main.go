// ledger-export writes one user's order ledger and current holdings to an
// Excel workbook.
//
// Usage: ledger-export -db=<path> -user=<id> [-out=ledger.xlsx] [-include-sold=false]
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/codyseavey/tcg-portfolio/internal/database"
	"github.com/codyseavey/tcg-portfolio/internal/models"
	"github.com/codyseavey/tcg-portfolio/internal/services"
)

const (
	ledgerSheet   = "Ledger"
	holdingsSheet = "Holdings"
)

var ledgerHeader = []any{
	"Order #", "Group", "Purchase Date", "Item ID", "Name", "Expansion", "Type", "Source",
	"Condition", "Grading", "Quantity", "Unit Price", "Total Cost", "Market Value",
	"Location", "Sold", "Sell Date", "Sell Qty", "Sell Price", "Fees",
}

var holdingsHeader = []any{
	"Item ID", "Name", "Expansion", "Status", "Held", "Sold",
	"Paid", "Current Value", "Realized", "Profit", "Profit %",
}

func main() {
	dbPath := flag.String("db", "", "Path to SQLite database (required)")
	userID := flag.String("user", "", "User whose ledger to export (required)")
	out := flag.String("out", "ledger.xlsx", "Output workbook path")
	includeSold := flag.Bool("include-sold", true, "Include fully sold rows on the ledger sheet")
	flag.Parse()

	if *dbPath == "" || *userID == "" {
		fmt.Println("Usage: ledger-export -db=<path> -user=<id> [options]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	if err := database.Initialize(*dbPath, false); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	db := database.GetDB()
	ctx := context.Background()

	ledger := services.NewGormLedgerStore(db)
	rows, err := ledger.List(ctx, models.OrderFilter{UserID: *userID, IncludeSold: *includeSold})
	if err != nil {
		log.Fatalf("Failed to list ledger rows: %v", err)
	}
	agg, err := services.NewAggregateService(ledger, services.NewPriceService(db)).Rebuild(ctx, *userID)
	if err != nil {
		log.Fatalf("Failed to build aggregate: %v", err)
	}

	f, err := buildWorkbook(rows, agg)
	if err != nil {
		log.Fatalf("Failed to build workbook: %v", err)
	}
	defer f.Close()

	if err := f.SaveAs(*out); err != nil {
		log.Fatalf("Failed to save %s: %v", *out, err)
	}
	log.Printf("Exported %d ledger rows and %d holdings to %s", len(rows), len(agg.Items), *out)
}

// buildWorkbook lays out the ledger and holdings sheets
func buildWorkbook(rows []models.OrderRecord, agg *models.Aggregate) (*excelize.File, error) {
	f := excelize.NewFile()

	ledgerIdx, err := f.NewSheet(ledgerSheet)
	if err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(holdingsSheet); err != nil {
		return nil, err
	}
	f.SetActiveSheet(ledgerIdx)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, err
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}

	if err := writeRows(f, ledgerSheet, ledgerHeader, len(rows), func(i int) []any {
		return ledgerRow(&rows[i])
	}); err != nil {
		return nil, err
	}

	var items []models.ItemRollup
	if agg != nil {
		items = agg.Items
	}
	if err := writeRows(f, holdingsSheet, holdingsHeader, len(items), func(i int) []any {
		return holdingsRow(&items[i])
	}); err != nil {
		return nil, err
	}
	if agg != nil {
		t := agg.Totals
		totals := []any{
			"Total", "", "", "", t.QuantityHeld, "",
			dollars(t.TotalPaidCents), dollars(t.CurrentValueCents), dollars(t.RealizedProfitCents),
			dollars(t.ProfitCents), t.ProfitPct,
		}
		cell, err := excelize.CoordinatesToCellName(1, len(items)+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(holdingsSheet, cell, &totals); err != nil {
			return nil, err
		}
		if err := f.SetRowStyle(holdingsSheet, len(items)+2, len(items)+2, bold); err != nil {
			return nil, err
		}
	}

	for _, sheet := range []string{ledgerSheet, holdingsSheet} {
		if err := f.SetRowStyle(sheet, 1, 1, bold); err != nil {
			return nil, err
		}
		if err := f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func writeRows(f *excelize.File, sheet string, header []any, n int, row func(int) []any) error {
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}
	for i := range n {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		values := row(i)
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return err
		}
	}
	return nil
}

func ledgerRow(r *models.OrderRecord) []any {
	grading := ""
	if r.GradingCompany != "" {
		grading = r.GradingCompany + " " + r.GradingGrade
	}
	sellDate := ""
	if r.SellDate != nil {
		sellDate = r.SellDate.Format("2006-01-02")
	}
	return []any{
		r.OrderNumber, r.OrderGroupID, r.PurchaseDate.Format("2006-01-02"),
		r.CatalogItemID, r.ItemName, r.ExpansionRef, string(r.ItemType), r.Source,
		string(r.Condition), grading, r.Quantity,
		dollars(r.PricePerItemCents), dollars(r.TotalCostCents), dollars(r.MarketValueCents),
		r.Location, r.Sold, sellDate, r.SellQuantity, dollars(r.SellPriceCents), dollars(r.SellFeesCents),
	}
}

func holdingsRow(item *models.ItemRollup) []any {
	return []any{
		item.CatalogItemID, item.Name, item.ExpansionRef, string(item.Status),
		item.QuantityHeld, item.QuantitySold,
		dollars(item.TotalPaidCents), dollars(item.CurrentValueCents), dollars(item.RealizedProfitCents),
		dollars(item.ProfitCents), item.ProfitPct,
	}
}

// dollars renders cents as a numeric cell value
func dollars(cents int64) float64 {
	return decimal.New(cents, -2).InexactFloat64()
}
