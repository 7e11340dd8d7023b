package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"whale-mirror/internal/storage"
)

// Show prints recent mirror attempts.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show attempts")
	}
	if closeStore != nil {
		defer closeStore()
	}

	return writeAttempts(ctx, os.Stdout, store, opts.Limit)
}

func writeAttempts(ctx context.Context, out io.Writer, store storage.AttemptStore, limit int) error {
	attempts, err := store.ListRecentAttempts(ctx, limit)
	if err != nil {
		return err
	}
	if len(attempts) == 0 {
		fmt.Fprintln(out, "no mirror attempts found")
		return nil
	}

	total, err := store.CountAttempts(ctx)
	if err != nil {
		return err
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tAction\tWallet\tToken\tAmountIn\tMinOut\tGas (gwei)\tStatus\tMirror Tx\tError")

	for _, attempt := range attempts {
		mirrorTx := "-"
		if attempt.MirrorTx != nil {
			mirrorTx = *attempt.MirrorTx
		}
		errMsg := ""
		if attempt.Error != nil {
			errMsg = sanitizeInline(*attempt.Error)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			attempt.CreatedAt.UTC().Format(time.RFC3339),
			attempt.Action,
			shortHex(attempt.Wallet),
			shortHex(attempt.Token),
			attempt.AmountIn.String(),
			attempt.MinOut.String(),
			formatDecimal(weiToGwei(attempt.GasPriceWei), 2),
			attempt.Status,
			mirrorTx,
			errMsg,
		)
	}

	if err := writer.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "showing %d of %d attempts\n", len(attempts), total)
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}

func shortHex(v string) string {
	if len(v) <= 12 {
		return v
	}
	return v[:8] + ".." + v[len(v)-4:]
}
