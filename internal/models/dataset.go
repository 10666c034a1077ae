package models

// DataSet holds the samples of one cycle, keyed by data type and optionally by job name.
// Job-keyed samples take precedence; fixture and request data are keyed that way.
type DataSet struct {
	byType map[DataType][]Record
	byJob  map[string][]Record
}

// NewDataSet returns an empty DataSet.
func NewDataSet() *DataSet {
	return &DataSet{byType: map[DataType][]Record{}, byJob: map[string][]Record{}}
}

// Add appends records under a data type.
func (d *DataSet) Add(t DataType, records []Record) {
	d.byType[t] = append(d.byType[t], records...)
}

// AddJob appends records for a single job.
func (d *DataSet) AddJob(name string, records []Record) {
	d.byJob[name] = append(d.byJob[name], records...)
}

// For returns the samples a job should consume.
func (d *DataSet) For(job Job) []Record {
	if d == nil {
		return nil
	}
	if recs, ok := d.byJob[job.Name]; ok {
		return recs
	}
	return d.byType[job.DataType]
}

// Type returns the records stored under a data type.
func (d *DataSet) Type(t DataType) []Record {
	if d == nil {
		return nil
	}
	return d.byType[t]
}

// Len counts every record in the set.
func (d *DataSet) Len() int {
	if d == nil {
		return 0
	}
	total := 0
	for _, recs := range d.byType {
		total += len(recs)
	}
	for _, recs := range d.byJob {
		total += len(recs)
	}
	return total
}

// Empty reports whether the set carries no samples at all.
func (d *DataSet) Empty() bool {
	return d.Len() == 0
}
