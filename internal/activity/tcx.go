package activity

import (
	"encoding/xml"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"time"
)

const (
	tcxSchemaLocation = "http://www.garmin.com/xmlschemas/TrainingCenterDatabase/v2 http://www.garmin.com/xmlschemas/TrainingCenterDatabasev2.xsd"
	xsiNamespace      = "http://www.w3.org/2001/XMLSchema-instance"
	heartRateType     = "HeartRateInBeatsPerMinute_t"
	tcxTime           = "2006-01-02T15:04:05Z"
)

type tcxDatabase struct {
	XMLName        xml.Name      `xml:"http://www.garmin.com/xmlschemas/TrainingCenterDatabase/v2 TrainingCenterDatabase"`
	XSI            string        `xml:"xmlns:xsi,attr,omitempty"`
	SchemaLocation string        `xml:"xsi:schemaLocation,attr,omitempty"`
	Activities     []tcxActivity `xml:"Activities>Activity"`
}

type tcxActivity struct {
	Sport string   `xml:"Sport,attr"`
	ID    string   `xml:"Id"`
	Laps  []tcxLap `xml:"Lap"`
}

type tcxHeartRate struct {
	Type  string `xml:"xsi:type,attr,omitempty"`
	Value int    `xml:"Value"`
}

type tcxLap struct {
	StartTime        string        `xml:"StartTime,attr"`
	TotalTimeSeconds float64       `xml:"TotalTimeSeconds"`
	DistanceMeters   float64       `xml:"DistanceMeters"`
	MaximumSpeed     float64       `xml:"MaximumSpeed"`
	Calories         int           `xml:"Calories"`
	AverageHeartRate *tcxHeartRate `xml:"AverageHeartRateBpm,omitempty"`
	MaximumHeartRate *tcxHeartRate `xml:"MaximumHeartRateBpm,omitempty"`
	Intensity        string        `xml:"Intensity"`
	TriggerMethod    string        `xml:"TriggerMethod"`
	Track            []tcxPoint    `xml:"Track>Trackpoint"`
}

type tcxPoint struct {
	Time           string        `xml:"Time"`
	DistanceMeters float64       `xml:"DistanceMeters"`
	Cadence        int           `xml:"Cadence"`
	HeartRate      *tcxHeartRate `xml:"HeartRateBpm,omitempty"`
	Extensions     tcxExtensions `xml:"Extensions"`
}

type tcxExtensions struct {
	TPX tcxTPX `xml:"TPX"`
}

type tcxTPX struct {
	XMLName       xml.Name `xml:"http://www.garmin.com/xmlschemas/ActivityExtension/v2 TPX"`
	CadenceSensor string   `xml:"CadenceSensor,attr,omitempty"`
	Speed         float64  `xml:"Speed"`
	Watts         int      `xml:"Watts"`
}

// TCXWriter renders a Garmin TrainingCenterDatabase v2 activity. Speeds are
// written in m/s as the schema requires.
type TCXWriter struct {
	*track
}

func NewTCXWriter(start time.Time, logger *log.Logger) *TCXWriter {
	return &TCXWriter{track: newTrack(start, logger)}
}

func heartRate(bpm float64) *tcxHeartRate {
	if bpm <= 0 {
		return nil
	}
	return &tcxHeartRate{Type: heartRateType, Value: int(math.Round(bpm))}
}

func kmhToMps(kmh float64) float64 {
	return round(kmh/3.6, 3)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func (w *TCXWriter) document() tcxDatabase {
	act := tcxActivity{Sport: "Biking", ID: w.start.UTC().Format(tcxTime)}
	for _, l := range w.snapshot() {
		tl := tcxLap{
			StartTime:        l.Start.UTC().Format(tcxTime),
			TotalTimeSeconds: l.Duration().Seconds(),
			DistanceMeters:   round(l.DistanceMeters(), 2),
			MaximumSpeed:     kmhToMps(l.Max.Speed),
			Calories:         l.Calories(),
			AverageHeartRate: heartRate(l.Avg.HeartRate),
			MaximumHeartRate: heartRate(l.Max.HeartRate),
			Intensity:        "Active",
			TriggerMethod:    "Time",
		}
		for _, p := range l.Points {
			tl.Track = append(tl.Track, tcxPoint{
				Time:           p.Time.UTC().Format(tcxTime),
				DistanceMeters: round(p.DistanceKm*1000, 2),
				Cadence:        int(math.Round(p.Data.Cadence)),
				HeartRate:      heartRate(p.Data.HeartRate),
				Extensions: tcxExtensions{TPX: tcxTPX{
					CadenceSensor: "Bike",
					Speed:         kmhToMps(p.Data.Speed),
					Watts:         int(math.Round(p.Data.Power)),
				}},
			})
		}
		act.Laps = append(act.Laps, tl)
	}

	return tcxDatabase{
		XSI:            xsiNamespace,
		SchemaLocation: tcxSchemaLocation,
		Activities:     []tcxActivity{act},
	}
}

func (w *TCXWriter) Save(path string) error {
	buf, err := xml.MarshalIndent(w.document(), "", "  ")
	if err != nil {
		return fmt.Errorf("encode tcx: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create activity dir: %w", err)
	}
	out := append([]byte(xml.Header), buf...)
	if err := os.WriteFile(path, append(out, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	w.logger.Printf("Activity: TCX saved to %s", path)
	return nil
}
