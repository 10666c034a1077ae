package engine

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/miradorstack/mirador-hotspots/internal/models"
)

// Describe renders the human-readable alert text for an anomalous record of job.
func Describe(job models.Job, rec models.Record, confidence float64, stats *models.AggregatorStats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s/%s has a suspicious %s",
		job.AlertName(), rec.String(job.NamespaceField), rec.String(job.EntityField), job.Subject)
	if len(job.ValueFields) > 0 {
		if v, ok := rec.Float(job.ValueFields[0]); ok {
			fmt.Fprintf(&b, " of %s %s", groupThousands(scaled(v, job.ValueDivisor)), job.Unit)
		}
	}
	fmt.Fprintf(&b, " with %.0f%% confidence.", confidence*100)
	if stats != nil {
		fmt.Fprintf(&b, " The average value for this %s is %s %s.",
			job.Subject, groupThousands(scaled(stats.Mean, job.ValueDivisor)), job.Unit)
	}
	return b.String()
}

func scaled(v, divisor float64) int64 {
	if divisor == 0 {
		divisor = 1
	}
	return int64(math.Trunc(v / divisor))
}

func groupThousands(n int64) string {
	s := strconv.FormatInt(n, 10)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 && !(neg && b.Len() == 1) {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}
