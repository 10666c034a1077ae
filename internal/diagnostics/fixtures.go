package diagnostics

import (
	"context"
	"embed"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"strconv"
	"strings"

	"github.com/miradorstack/mirador-hotspots/internal/models"
)

// LabelField is the fixture column marking a row as a known anomaly.
const LabelField = "anomaly"

//go:embed fixtures/*.test_dataset.csv
var embedded embed.FS

// Fixture is a labelled dataset for one job. Records never carry the label column.
type Fixture struct {
	Job     string
	Records []models.Record
	Labels  []bool
}

// Expected returns the records labelled as anomalies.
func (f Fixture) Expected() []models.Record {
	var out []models.Record
	for i, rec := range f.Records {
		if f.Labels[i] {
			out = append(out, rec)
		}
	}
	return out
}

// LoadFixtures reads the embedded fixture of every job that has one.
func LoadFixtures(jobs []models.Job) (map[string]Fixture, error) {
	return loadFixtures(embedded, "fixtures", jobs)
}

func loadFixtures(fsys fs.FS, dir string, jobs []models.Job) (map[string]Fixture, error) {
	out := make(map[string]Fixture, len(jobs))
	for _, job := range jobs {
		name := path.Join(dir, job.Name+".test_dataset.csv")
		f, err := fsys.Open(name)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("open fixture %s: %w", name, err)
		}
		fixture, err := parseFixture(job.Name, f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("parse fixture %s: %w", name, err)
		}
		out[job.Name] = fixture
	}
	return out, nil
}

func parseFixture(job string, r io.Reader) (Fixture, error) {
	reader := csv.NewReader(r)
	header, err := reader.Read()
	if err != nil {
		return Fixture{}, err
	}
	label := -1
	for i, h := range header {
		if h == LabelField {
			label = i
		}
	}
	if label < 0 {
		return Fixture{}, fmt.Errorf("missing %q column", LabelField)
	}

	fixture := Fixture{Job: job}
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Fixture{}, err
		}
		rec := make(models.Record, len(header)-1)
		for i, h := range header {
			if i == label {
				continue
			}
			rec[h] = cell(row[i])
		}
		fixture.Records = append(fixture.Records, rec)
		fixture.Labels = append(fixture.Labels, strings.TrimSpace(row[label]) == "1")
	}
	return fixture, nil
}

func cell(v string) any {
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return v
}

// FixtureSource serves fixtures as job-keyed samples.
type FixtureSource struct {
	fixtures map[string]Fixture
}

// NewFixtureSource wraps loaded fixtures.
func NewFixtureSource(fixtures map[string]Fixture) *FixtureSource {
	return &FixtureSource{fixtures: fixtures}
}

// Fetch implements the pipeline sample source; the requested window is ignored.
func (s *FixtureSource) Fetch(_ context.Context, req models.FetchRequest) (*models.DataSet, error) {
	ds := models.NewDataSet()
	for _, job := range req.Jobs {
		f, ok := s.fixtures[job.Name]
		if !ok {
			continue
		}
		recs := f.Records
		if req.MaxDocs > 0 && len(recs) > req.MaxDocs {
			recs = recs[:req.MaxDocs]
		}
		ds.AddJob(job.Name, cloneAll(recs))
	}
	return ds, nil
}

func cloneAll(recs []models.Record) []models.Record {
	out := make([]models.Record, len(recs))
	for i, r := range recs {
		out[i] = r.Clone()
	}
	return out
}
