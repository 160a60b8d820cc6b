package alerts

import (
	"fmt"
	"strconv"
	"time"

	"github.com/stormwaterwatch/sww-backend/internal/violations"
)

// repeatOffenderCount is the event count that earns the Repeat Offender badge.
const repeatOffenderCount = 3

// Batch is one delivery: every matched violation for one subscription.
// Violations must carry their Facility.
type Batch struct {
	SubscriptionName string
	Violations       []violations.ViolationEvent
	LastRunAt        *time.Time

	// Email recipient.
	To     string
	ToName string
}

func plural(n int, word string) string {
	if n == 1 {
		return strconv.Itoa(n) + " " + word
	}
	return strconv.Itoa(n) + " " + word + "s"
}

// Subject is the email subject line.
func (b Batch) Subject() string {
	return fmt.Sprintf("[Stormwater Watch] %s in %s", plural(len(b.Violations), "New Violation"), b.SubscriptionName)
}

// DateRange describes the window the violations were found in.
func (b Batch) DateRange() string {
	if b.LastRunAt == nil {
		return "in your monitoring area"
	}
	return "since " + b.LastRunAt.Format("Jan 2, 2006")
}

func formatRatio(r float64) string {
	return strconv.FormatFloat(r, 'f', 2, 64) + "×"
}

// row is the per-violation view shared by the email and Slack renderings.
type row struct {
	FacilityID   string
	FacilityName string
	PermitID     string
	Pollutant    string
	Ratio        string
	Count        int
	County       string
	Impaired     bool
	Repeat       bool
	DAC          bool
}

func rows(evs []violations.ViolationEvent) []row {
	out := make([]row, 0, len(evs))
	for _, v := range evs {
		r := row{
			Pollutant: v.Pollutant,
			Ratio:     formatRatio(v.MaxRatio),
			Count:     v.Count,
			County:    "N/A",
			Impaired:  v.ImpairedWater,
			Repeat:    v.Count >= repeatOffenderCount,
		}
		if f := v.Facility; f != nil {
			r.FacilityID = f.ID.String()
			r.FacilityName = f.Name
			r.PermitID = f.PermitID
			r.DAC = f.IsInDAC
			if f.County != "" {
				r.County = f.County
			}
		}
		out = append(out, r)
	}
	return out
}
