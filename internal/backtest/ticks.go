package backtest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"main/internal/schema"
)

// LoadTicksCSV reads a replay file with one tick per row:
//
//	<unix_ms>,<pair>,<price>
//
// Rows must already be in time order per pair; out-of-order rows are
// dropped by the replay feed exactly like live ticks.
func LoadTicksCSV(path string) ([]schema.Tick, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = 3

	var ticks []schema.Tick
	line := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			return ticks, nil
		}
		if err != nil {
			return nil, err
		}
		line++

		ms, err := strconv.ParseInt(record[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: parse timestamp: %w", line, err)
		}
		price, err := schema.ParsePrice(record[2])
		if err != nil {
			return nil, fmt.Errorf("line %d: parse price: %w", line, err)
		}
		ticks = append(ticks, schema.Tick{
			Pair:  schema.Pair(record[1]),
			Price: price,
			Ts:    ms * int64(1_000_000),
		})
	}
}
