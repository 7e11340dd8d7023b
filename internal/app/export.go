package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"whale-mirror/internal/storage"
)

var gweiDivisor = decimal.New(1, 9)

// defaultExportWindow bounds exports when --from is omitted.
const defaultExportWindow = 7 * 24 * time.Hour

// Export renders the mirror attempt history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-defaultExportWindow)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	attempts, err := store.ListAttemptsBetween(ctx, from, to, a.Config.Export.MaxDataPoints)
	if err != nil {
		return err
	}
	if len(attempts) == 0 {
		a.Logger.Info().Msg("no mirror attempts found for export window")
		return nil
	}

	downsampled := downsampleAttempts(attempts, opts.MaxPoints)
	a.Logger.Info().Int("total", len(attempts)).Int("exported", len(downsampled)).Msg("exporting mirror attempts")

	if opts.CSVPath != "" {
		if err := writeAttemptsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeAttemptsPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleAttempts(attempts []storage.MirrorAttempt, max int) []storage.MirrorAttempt {
	if max <= 0 || len(attempts) <= max {
		return attempts
	}
	if max == 1 {
		return attempts[len(attempts)-1:]
	}

	result := make([]storage.MirrorAttempt, 0, max)
	step := float64(len(attempts)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(attempts) {
			idx = len(attempts) - 1
		}
		result = append(result, attempts[idx])
	}
	return result
}

func writeAttemptsCSV(path string, attempts []storage.MirrorAttempt) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"created_at", "wallet", "token", "action", "source_tx", "block_number", "mirror_tx", "approval_tx", "amount_in", "min_out", "gas_price_wei", "status", "error"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, attempt := range attempts {
		record := []string{
			attempt.CreatedAt.UTC().Format(time.RFC3339),
			attempt.Wallet,
			attempt.Token,
			attempt.Action,
			attempt.SourceTx,
			strconv.FormatUint(attempt.BlockNumber, 10),
			derefString(attempt.MirrorTx),
			derefString(attempt.ApprovalTx),
			attempt.AmountIn.String(),
			attempt.MinOut.String(),
			attempt.GasPriceWei.String(),
			attempt.Status,
			derefString(attempt.Error),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

// writeAttemptsPNG plots the gas price paid per attempt and the running count
// of submitted mirrors.
func writeAttemptsPNG(path string, attempts []storage.MirrorAttempt) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x, gas, submitted := attemptSeries(attempts)

	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name: "Gas price (gwei)",
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.2f")
			},
		},
		YAxisSecondary: chart.YAxis{
			Name: "Submitted mirrors",
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.0f")
			},
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Gas price",
				XValues: x,
				YValues: gas,
			},
			chart.TimeSeries{
				Name:    "Submitted",
				XValues: x,
				YValues: submitted,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func attemptSeries(attempts []storage.MirrorAttempt) ([]time.Time, []float64, []float64) {
	x := make([]time.Time, len(attempts))
	gas := make([]float64, len(attempts))
	submitted := make([]float64, len(attempts))

	count := 0.0
	for i, attempt := range attempts {
		x[i] = attempt.CreatedAt
		gas[i] = weiToGwei(attempt.GasPriceWei).InexactFloat64()
		if attempt.Status == storage.StatusSubmitted {
			count++
		}
		submitted[i] = count
	}
	return x, gas, submitted
}

func weiToGwei(wei decimal.Decimal) decimal.Decimal {
	return wei.Div(gweiDivisor)
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
