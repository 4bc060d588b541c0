// Package ingest writes seed files of daily records, catalog entries and the
// system configuration into a store. It is the process that guarantees
// record ids carry their production date.
package ingest

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/pcp-cli/internal/model"
	"github.com/sells-group/pcp-cli/internal/normalize"
	"github.com/sells-group/pcp-cli/internal/store"
)

// Extensions lists the seed file extensions the loader understands.
var Extensions = []string{".yaml", ".yml", ".json"}

// SeedFile is the on-disk seed layout. Every section is optional.
type SeedFile struct {
	SystemConfig *SeedConfig            `json:"system_config,omitempty" yaml:"system_config,omitempty"`
	Catalog      []model.CatalogEntry   `json:"catalog,omitempty" yaml:"catalog,omitempty"`
	Records      []model.RawDailyRecord `json:"records,omitempty" yaml:"records,omitempty"`
}

// SeedConfig carries the monthly target as text so "44.000,00" style values
// written by the plant office parse the same way quantities do.
type SeedConfig struct {
	MonthlyTarget       model.Quantity `json:"monthly_target" yaml:"monthly_target"`
	WorkingDaysPerMonth int            `json:"working_days_per_month" yaml:"working_days_per_month"`
}

// Summary counts what one import wrote.
type Summary struct {
	Files        int  `json:"files"`
	Records      int  `json:"records"`
	Catalog      int  `json:"catalog"`
	SystemConfig bool `json:"system_config"`
	Skipped      int  `json:"skipped"`
}

func (s *Summary) add(o Summary) {
	s.Files += o.Files
	s.Records += o.Records
	s.Catalog += o.Catalog
	s.SystemConfig = s.SystemConfig || o.SystemConfig
	s.Skipped += o.Skipped
}

// Supported reports whether path has a seed file extension.
func Supported(path string) bool {
	return slices.Contains(Extensions, strings.ToLower(filepath.Ext(path)))
}

// Parse decodes seed data, choosing the format from the file extension.
func Parse(path string, data []byte) (*SeedFile, error) {
	var seed SeedFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &seed); err != nil {
			return nil, eris.Wrapf(err, "ingest: parse yaml %s", path)
		}
	case ".json":
		if err := json.Unmarshal(data, &seed); err != nil {
			return nil, eris.Wrapf(err, "ingest: parse json %s", path)
		}
	default:
		return nil, eris.Errorf("ingest: unsupported seed file %s", path)
	}
	return &seed, nil
}

// LoadFile reads and parses one seed file.
func LoadFile(path string) (*SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: read %s", path)
	}
	return Parse(path, data)
}

// Loader writes seed files into a store.
type Loader struct {
	w   store.Writer
	loc *time.Location
	now func() time.Time
}

// NewLoader creates a Loader. loc is used to turn record dates into ids.
func NewLoader(w store.Writer, loc *time.Location) *Loader {
	if loc == nil {
		loc = time.Local
	}
	return &Loader{w: w, loc: loc, now: time.Now}
}

// Apply writes one parsed seed. Records without a usable id are skipped and
// counted; store errors abort.
func (l *Loader) Apply(ctx context.Context, seed *SeedFile) (Summary, error) {
	var sum Summary

	if seed.SystemConfig != nil {
		target, ok := normalize.ParseDecimal(string(seed.SystemConfig.MonthlyTarget))
		if !ok && seed.SystemConfig.MonthlyTarget != "" {
			zap.L().Warn("ingest: unparsable monthly target, using 0",
				zap.String("raw", string(seed.SystemConfig.MonthlyTarget)))
		}
		cfg := model.SystemConfig{MonthlyTarget: target, WorkingDaysPerMonth: seed.SystemConfig.WorkingDaysPerMonth}
		if err := l.w.PutSystemConfig(ctx, cfg); err != nil {
			return sum, eris.Wrap(err, "ingest: write system config")
		}
		sum.SystemConfig = true
	}

	if len(seed.Catalog) > 0 {
		if err := l.w.PutCatalog(ctx, seed.Catalog); err != nil {
			return sum, eris.Wrap(err, "ingest: write catalog")
		}
		sum.Catalog = len(seed.Catalog)
	}

	for _, rec := range seed.Records {
		rec, ok := l.prepare(rec)
		if !ok {
			sum.Skipped++
			continue
		}
		if err := l.w.PutRecord(ctx, rec); err != nil {
			return sum, eris.Wrapf(err, "ingest: write record %s", rec.ID)
		}
		sum.Records++
	}
	return sum, nil
}

// prepare fills in the id from the date field when missing and defaults the
// processed flag. A record whose date cannot be determined is rejected.
func (l *Loader) prepare(rec model.RawDailyRecord) (model.RawDailyRecord, bool) {
	rec.ID = strings.TrimSpace(rec.ID)
	if rec.ID == "" {
		day, src := normalize.ResolveDate("", rec.Date, l.now(), l.loc)
		if src != normalize.DateFromField {
			zap.L().Warn("ingest: skipping record without id or date", zap.String("date", rec.Date))
			return rec, false
		}
		rec.ID = day.Format(time.DateOnly)
	}
	if _, src := normalize.ResolveDate(rec.ID, "", l.now(), l.loc); src != normalize.DateFromID {
		zap.L().Warn("ingest: record id carries no date; facts will use the date field or import time",
			zap.String("id", rec.ID))
	}
	if rec.Processed == "" {
		rec.Processed = model.ProcessedNo
	}
	return rec, true
}

// ImportFile loads and applies one seed file.
func (l *Loader) ImportFile(ctx context.Context, path string) (Summary, error) {
	seed, err := LoadFile(path)
	if err != nil {
		return Summary{}, err
	}
	sum, err := l.Apply(ctx, seed)
	sum.Files = 1
	if err != nil {
		return sum, err
	}
	zap.L().Info("ingest: imported seed file",
		zap.String("path", path),
		zap.Int("records", sum.Records),
		zap.Int("catalog", sum.Catalog),
		zap.Bool("system_config", sum.SystemConfig),
		zap.Int("skipped", sum.Skipped),
	)
	return sum, nil
}

// ImportPaths imports files and directories in order. Directories contribute
// their supported files sorted by name.
func (l *Loader) ImportPaths(ctx context.Context, paths ...string) (Summary, error) {
	var total Summary
	for _, p := range paths {
		files, err := expand(p)
		if err != nil {
			return total, err
		}
		for _, f := range files {
			sum, err := l.ImportFile(ctx, f)
			total.add(sum)
			if err != nil {
				return total, err
			}
		}
	}
	return total, nil
}

func expand(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: stat %s", path)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: read dir %s", path)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && Supported(e.Name()) {
			files = append(files, filepath.Join(path, e.Name()))
		}
	}
	slices.Sort(files)
	return files, nil
}
