// Package ledger parses off-chain payout ledgers: delimiter-separated text
// with one row per payout recipient, pinned to content-addressed storage.
package ledger

import (
	"encoding/csv"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Row is one entry in a payout ledger. Amount is the raw smallest-unit
// integer (18-decimal fixed point in production ledgers); it is never
// re-scaled inside the engine.
type Row struct {
	Index   uint64
	Address common.Address
	Amount  *big.Int
}

// Required columns. Header matching is case-insensitive, so the capitalized
// variants seen in older ledger exports resolve to the same columns.
const (
	colIndex   = "index"
	colAddress = "address"
	colAmount  = "amount"
)

// Parse turns raw ledger text into rows. Parsing is lenient: a row that
// fails to yield index, address or amount still produces a row with
// zero-valued defaults rather than aborting the ledger, because real-world
// payout CSVs are heterogeneous and one sloppy row must not block every
// other holder's claim.
func Parse(text string) []Row {
	rows, _ := parse(text)
	return rows
}

// ParseStrict parses like Parse but returns an error naming each row that
// needed defaulting, for operators who want to reject sloppy ledgers.
func ParseStrict(text string) ([]Row, error) {
	rows, defaulted := parse(text)
	if len(defaulted) > 0 {
		return rows, fmt.Errorf("ledger rows with missing or malformed fields: %v", defaulted)
	}
	return rows, nil
}

func parse(text string) (rows []Row, defaulted []int) {
	r := csv.NewReader(strings.NewReader(strings.TrimSpace(text)))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	records, err := r.ReadAll()
	if err != nil || len(records) == 0 {
		return nil, nil
	}

	cols := headerColumns(records[0])

	for line, record := range records[1:] {
		row, ok := parseRecord(record, cols)
		if !ok {
			defaulted = append(defaulted, line+2) // 1-based, counting the header
		}
		rows = append(rows, row)
	}
	return rows, defaulted
}

// headerColumns maps the required column names to their positions.
func headerColumns(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	return cols
}

func parseRecord(record []string, cols map[string]int) (Row, bool) {
	row := Row{Amount: new(big.Int)}
	ok := true

	if v, found := field(record, cols, colIndex); found {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			row.Index = n
		} else {
			ok = false
		}
	} else {
		ok = false
	}

	if v, found := field(record, cols, colAddress); found && common.IsHexAddress(v) {
		row.Address = common.HexToAddress(v)
	} else {
		ok = false
	}

	if v, found := field(record, cols, colAmount); found {
		if n, parsed := new(big.Int).SetString(v, 10); parsed && n.Sign() >= 0 {
			row.Amount = n
		} else {
			ok = false
		}
	} else {
		ok = false
	}

	return row, ok
}

func field(record []string, cols map[string]int, name string) (string, bool) {
	i, found := cols[name]
	if !found || i >= len(record) {
		return "", false
	}
	v := strings.TrimSpace(record[i])
	return v, v != ""
}
