package balance

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

// UsageReportRow is one line of the per-address usage report BR emits each
// pass, scaled down from recon.ReportRow to the single table this node's
// bookkeeping needs (no invoice/voucher/mint join).
type UsageReportRow struct {
	Address   string
	BytesUsed uint64
	Balance   float64
	QuotaByte uint64
	Overage   uint64
	Checked   time.Time
}

func (r *Reconciler) writeReports(rows []UsageReportRow, now time.Time) error {
	runDir := filepath.Join(r.reportDir, now.Format("20060102T150405Z"))
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return fmt.Errorf("ensure report dir: %w", err)
	}
	csvPath := filepath.Join(runDir, "usage.csv")
	if err := writeUsageCSV(csvPath, rows); err != nil {
		return err
	}
	r.logger.Info("balance reconciler wrote report", "path", csvPath, "rows", len(rows))

	if !r.parquet {
		return nil
	}
	parquetPath := filepath.Join(runDir, "usage.parquet")
	if err := writeUsageParquet(parquetPath, rows); err != nil {
		return err
	}
	r.logger.Info("balance reconciler wrote report", "path", parquetPath, "rows", len(rows))
	return nil
}

func writeUsageCSV(path string, rows []UsageReportRow) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv: %w", err)
	}
	defer file.Close()
	w := csv.NewWriter(file)
	if err := w.Write([]string{"address", "bytes_used", "balance", "quota_bytes", "overage_bytes", "checked_at"}); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, row := range rows {
		record := []string{
			row.Address,
			fmt.Sprintf("%d", row.BytesUsed),
			fmt.Sprintf("%.4f", row.Balance),
			fmt.Sprintf("%d", row.QuotaByte),
			fmt.Sprintf("%d", row.Overage),
			row.Checked.Format(time.RFC3339),
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

type usageParquetRow struct {
	Address      string `parquet:"name=address, type=BYTE_ARRAY, convertedtype=UTF8"`
	BytesUsed    int64  `parquet:"name=bytes_used, type=INT64"`
	Balance      float64 `parquet:"name=balance, type=DOUBLE"`
	QuotaBytes   int64  `parquet:"name=quota_bytes, type=INT64"`
	OverageBytes int64  `parquet:"name=overage_bytes, type=INT64"`
	CheckedAt    string `parquet:"name=checked_at, type=BYTE_ARRAY, convertedtype=UTF8"`
}

func writeUsageParquet(path string, rows []UsageReportRow) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(usageParquetRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("parquet schema: %w", err)
	}
	pw.RowGroupSize = 64 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, row := range rows {
		pr := &usageParquetRow{
			Address:      row.Address,
			BytesUsed:    int64(row.BytesUsed),
			Balance:      row.Balance,
			QuotaBytes:   int64(row.QuotaByte),
			OverageBytes: int64(row.Overage),
			CheckedAt:    row.Checked.Format(time.RFC3339),
		}
		if err := pw.Write(pr); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("parquet flush: %w", err)
	}
	return file.Close()
}
