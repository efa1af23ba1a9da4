// relink-manual-orders links manually entered ledger rows to catalog singles so
// they pick up market prices.
//
// Usage: relink-manual-orders -db=<path> -data=<dir> [-dry-run] [-execute]
//
// The tool:
// 1. Finds ledger rows where source='manual' that are not sealed products
// 2. For each row, searches the singles catalog by item name
// 3. If unique match: relinks (with -execute)
// 4. If ambiguous: prompts user to select (interactive mode)
// 5. If no match: logs for manual review
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"gorm.io/gorm"

	"github.com/codyseavey/tcg-portfolio/internal/database"
	"github.com/codyseavey/tcg-portfolio/internal/models"
	"github.com/codyseavey/tcg-portfolio/internal/services"
)

// RelinkResult tracks the outcome of each relink attempt
type RelinkResult struct {
	OrderID     uint
	OrderNumber int64
	ItemName    string
	OldItemID   string
	NewItemID   string
	Action      string // "relinked", "no_match", "ambiguous_skipped", "error"
	Reason      string
}

func main() {
	dbPath := flag.String("db", "", "Path to SQLite database (required)")
	dataDir := flag.String("data", "", "Path to pokemon-tcg-data directory (required)")
	userID := flag.String("user", "", "Only relink rows owned by this user")
	dryRun := flag.Bool("dry-run", false, "Preview changes without modifying database")
	execute := flag.Bool("execute", false, "Execute the relink (required to make changes)")
	skipAmbiguous := flag.Bool("skip-ambiguous", false, "Skip ambiguous matches instead of prompting")
	flag.Parse()

	if *dbPath == "" || *dataDir == "" {
		fmt.Println("Usage: relink-manual-orders -db=<path> -data=<dir> [options]")
		fmt.Println("")
		fmt.Println("Links manually entered ledger rows to catalog singles so the")
		fmt.Println("price worker and aggregates can value them.")
		fmt.Println("")
		fmt.Println("Options:")
		fmt.Println("  -db              Path to SQLite database (required)")
		fmt.Println("  -data            Path to pokemon-tcg-data directory (required)")
		fmt.Println("  -user            Only relink rows owned by this user")
		fmt.Println("  -dry-run         Preview changes without modifying database")
		fmt.Println("  -execute         Execute the relink (required to make changes)")
		fmt.Println("  -skip-ambiguous  Skip ambiguous matches instead of prompting")
		fmt.Println("")
		fmt.Println("Examples:")
		fmt.Println("  # Preview what would be relinked")
		fmt.Println("  relink-manual-orders -db=./tcg_portfolio.db -data=./data -dry-run")
		fmt.Println("")
		fmt.Println("  # Execute with interactive prompts")
		fmt.Println("  relink-manual-orders -db=./tcg_portfolio.db -data=./data -execute")
		os.Exit(1)
	}

	if !*dryRun && !*execute {
		fmt.Println("Error: Must specify either -dry-run or -execute")
		os.Exit(1)
	}

	if err := database.Initialize(*dbPath, false); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	db := database.GetDB()

	ctx := context.Background()
	log.Println("Loading singles catalog...")
	catalog := services.NewSinglesCatalog(*dataDir, db)
	if err := catalog.Load(ctx); err != nil {
		log.Fatalf("Failed to load singles catalog: %v", err)
	}

	query := db.Where("source = ? AND item_type <> ?", models.SourceManual, models.ItemTypeSealed)
	if *userID != "" {
		query = query.Where("user_id = ?", *userID)
	}
	var rows []models.OrderRecord
	if err := query.Order("order_number ASC").Find(&rows).Error; err != nil {
		log.Fatalf("Failed to query ledger rows: %v", err)
	}

	log.Printf("Found %d manual ledger rows", len(rows))

	if len(rows) == 0 {
		fmt.Println("Nothing to relink!")
		return
	}

	var results []RelinkResult
	reader := bufio.NewReader(os.Stdin)

	for i, row := range rows {
		fmt.Printf("\n[%d/%d] Processing: %s (order #%d, expansion: %s)\n",
			i+1, len(rows), row.ItemName, row.OrderNumber, row.ExpansionRef)

		matches, err := findMatches(ctx, catalog, row.ItemName, row.ExpansionRef)
		result := RelinkResult{
			OrderID:     row.ID,
			OrderNumber: row.OrderNumber,
			ItemName:    row.ItemName,
			OldItemID:   row.CatalogItemID,
		}

		switch {
		case err != nil:
			result.Action = "error"
			result.Reason = err.Error()
			fmt.Printf("  ⚠ Search failed: %v\n", err)
		case len(matches) == 0:
			result.Action = "no_match"
			result.Reason = "No catalog card found with matching name"
			fmt.Printf("  ❌ No match found for '%s'\n", row.ItemName)
		case len(matches) == 1:
			match := matches[0]
			result.NewItemID = match.Card.ID
			result.Action = "relinked"
			result.Reason = fmt.Sprintf("Unique match in %s", match.ExpansionName)
			fmt.Printf("  ✓ Unique match: %s (%s)\n", match.Card.ID, match.ExpansionName)

			if *execute && !*dryRun {
				if err := relinkRow(db, row.ID, match); err != nil {
					result.Action = "error"
					result.Reason = err.Error()
					fmt.Printf("  ⚠ Relink failed: %v\n", err)
				}
			}
		default:
			fmt.Printf("  ⚠ Found %d possible matches:\n", len(matches))
			for j, m := range matches {
				fmt.Printf("    [%d] %s - %s (%s #%s)\n", j+1, m.Card.ID, m.Card.Name, m.ExpansionName, m.Card.Number)
			}

			if *skipAmbiguous || *dryRun {
				result.Action = "ambiguous_skipped"
				result.Reason = fmt.Sprintf("Multiple matches (%d), skipped", len(matches))
				fmt.Printf("  → Skipped (ambiguous)\n")
				break
			}

			fmt.Printf("  Select match (1-%d), or 's' to skip: ", len(matches))
			input, _ := reader.ReadString('\n')
			selection, ok := parseSelection(input, len(matches))
			if !ok {
				result.Action = "ambiguous_skipped"
				result.Reason = "User skipped"
				fmt.Printf("  → Skipped\n")
				break
			}

			match := matches[selection-1]
			result.NewItemID = match.Card.ID
			result.Action = "relinked"
			result.Reason = fmt.Sprintf("User selected from %d matches", len(matches))
			if err := relinkRow(db, row.ID, match); err != nil {
				result.Action = "error"
				result.Reason = err.Error()
				fmt.Printf("  ⚠ Relink failed: %v\n", err)
			} else {
				fmt.Printf("  ✓ Relinked to %s\n", match.Card.ID)
			}
		}

		results = append(results, result)
	}

	printSummary(results, *dryRun)
}

// normalizeName folds case, accents and gender symbols so hand-typed names
// compare equal to dataset names.
func normalizeName(name string) string {
	name = strings.ToLower(name)
	name = strings.NewReplacer(
		"♂", " m", "♀", " f",
		"é", "e", "è", "e", "ê", "e", "ë", "e",
		"’", "'", "‘", "'",
	).Replace(name)
	return strings.Join(strings.Fields(name), " ")
}

// findMatches returns catalog cards named exactly like name, narrowed to the
// row's expansion when that leaves any candidates.
func findMatches(ctx context.Context, catalog services.SinglesSource, name, expansionRef string) ([]services.SingleCard, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}
	page, err := catalog.QuerySingles(ctx, services.SourceQuery{FreeText: name, SortBy: models.SortName})
	if err != nil {
		return nil, err
	}

	want := normalizeName(name)
	var matches []services.SingleCard
	for _, c := range page.Cards {
		if normalizeName(c.Card.Name) == want {
			matches = append(matches, c)
		}
	}

	if len(matches) > 1 && expansionRef != "" {
		var filtered []services.SingleCard
		for _, m := range matches {
			if strings.EqualFold(m.Card.SetID, expansionRef) || strings.EqualFold(m.ExpansionName, expansionRef) {
				filtered = append(filtered, m)
			}
		}
		if len(filtered) > 0 {
			matches = filtered
		}
	}
	return matches, nil
}

// parseSelection reads a 1-based choice; anything else means skip
func parseSelection(input string, n int) (int, bool) {
	input = strings.TrimSpace(strings.ToLower(input))
	if input == "" || input == "s" {
		return 0, false
	}
	var selection int
	if _, err := fmt.Sscanf(input, "%d", &selection); err != nil || selection < 1 || selection > n {
		return 0, false
	}
	return selection, true
}

func relinkRow(db *gorm.DB, orderID uint, match services.SingleCard) error {
	return db.Model(&models.OrderRecord{}).
		Where("id = ?", orderID).
		Updates(map[string]any{
			"catalog_item_id": match.Card.ID,
			"expansion_ref":   match.Card.SetID,
			"source":          models.SourceCatalog,
		}).Error
}

func printSummary(results []RelinkResult, dryRun bool) {
	var relinked, noMatch, ambiguousSkipped, errors int
	for _, r := range results {
		switch r.Action {
		case "relinked":
			relinked++
		case "no_match":
			noMatch++
		case "ambiguous_skipped":
			ambiguousSkipped++
		case "error":
			errors++
		}
	}

	fmt.Println("")
	fmt.Println("=== Relink Summary ===")
	if dryRun {
		fmt.Println("(DRY RUN - no changes made)")
	}
	fmt.Printf("Relinked:          %d\n", relinked)
	fmt.Printf("No match found:    %d\n", noMatch)
	fmt.Printf("Ambiguous skipped: %d\n", ambiguousSkipped)
	fmt.Printf("Errors:            %d\n", errors)
	fmt.Printf("Total processed:   %d\n", len(results))

	if noMatch > 0 {
		fmt.Println("\n--- Rows with no catalog match (need manual review) ---")
		for _, r := range results {
			if r.Action == "no_match" {
				fmt.Printf("  Order #%d: %s (%s)\n", r.OrderNumber, r.ItemName, r.OldItemID)
			}
		}
	}

	if ambiguousSkipped > 0 && dryRun {
		fmt.Println("\n--- Rows with multiple matches (will prompt in execute mode) ---")
		for _, r := range results {
			if r.Action == "ambiguous_skipped" {
				fmt.Printf("  Order #%d: %s - %s\n", r.OrderNumber, r.ItemName, r.Reason)
			}
		}
	}
}
