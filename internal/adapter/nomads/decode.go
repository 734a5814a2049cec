package nomads

import (
	"bytes"
	"errors"
	"fmt"
	"math"

	"github.com/nilsmagnus/grib/griblib"

	"github.com/joliver3/gfs-winter-weather/internal/domain"
)

// Decoder turns a downloaded GRIB2 subset into grid points.
type Decoder interface {
	Decode(key domain.GridKey, body []byte) ([]domain.GridPoint, error)
}

// GribDecoder decodes GRIB2 with griblib. Only regular lat/lon grids
// (template 3.0) are supported, which is what the 0.25 degree filter returns.
type GribDecoder struct{}

// GRIB2 parameter table 4.2, discipline 0 (meteorological).
const (
	categoryTemperature   = 0
	numberTemperature     = 0 // TMP
	categoryMoisture      = 1
	numberTotalPrecip     = 8 // APCP
	missingValueThreshold = 9.0e20
	microDegrees          = 1e6
	scanSouthToNorth      = 0x40
)

func (GribDecoder) Decode(key domain.GridKey, body []byte) ([]domain.GridPoint, error) {
	msgs, err := griblib.ReadMessages(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("read grib messages: %w", err)
	}
	if len(msgs) == 0 {
		return nil, errors.New("no grib messages")
	}
	var points []domain.GridPoint
	for _, m := range msgs {
		if m == nil || m.Section0.Discipline != 0 {
			continue
		}
		pdt := m.Section4.ProductDefinitionTemplate
		v, ok := variableFor(int(pdt.ParameterCategory), int(pdt.ParameterNumber))
		if !ok {
			continue
		}
		geom, err := latLonGeometry(m.Section3.Definition)
		if err != nil {
			return nil, err
		}
		pts, err := fieldPoints(geom, m.Section7.Data, key, v)
		if err != nil {
			return nil, err
		}
		points = append(points, pts...)
	}
	return points, nil
}

func variableFor(category, number int) (domain.Variable, bool) {
	switch {
	case category == categoryTemperature && number == numberTemperature:
		return domain.VarTemperature, true
	case category == categoryMoisture && number == numberTotalPrecip:
		return domain.VarPrecipitation, true
	default:
		return "", false
	}
}

// geometry describes a regular lat/lon grid in degrees.
type geometry struct {
	Ni, Nj       int
	La1, Lo1     float64
	Di, Dj       float64
	SouthToNorth bool
}

func latLonGeometry(def any) (geometry, error) {
	var g griblib.Grid0
	switch d := def.(type) {
	case griblib.Grid0:
		g = d
	case *griblib.Grid0:
		if d == nil {
			return geometry{}, errors.New("empty grid definition")
		}
		g = *d
	default:
		return geometry{}, fmt.Errorf("unsupported grid definition %T", def)
	}
	return geometry{
		Ni:           int(g.Ni),
		Nj:           int(g.Nj),
		La1:          float64(g.La1) / microDegrees,
		Lo1:          float64(g.Lo1) / microDegrees,
		Di:           float64(g.Di) / microDegrees,
		Dj:           float64(g.Dj) / microDegrees,
		SouthToNorth: g.ScanningMode&scanSouthToNorth != 0,
	}, nil
}

// fieldPoints lays data out on geom, row by row along i, and converts
// longitudes to [-180, 180]. Missing values are skipped.
func fieldPoints(geom geometry, data []float64, key domain.GridKey, v domain.Variable) ([]domain.GridPoint, error) {
	if geom.Ni <= 0 || geom.Nj <= 0 {
		return nil, fmt.Errorf("invalid grid size %dx%d", geom.Ni, geom.Nj)
	}
	if len(data) != geom.Ni*geom.Nj {
		return nil, fmt.Errorf("%s: %d values for a %dx%d grid", v, len(data), geom.Ni, geom.Nj)
	}
	dj := -geom.Dj
	if geom.SouthToNorth {
		dj = geom.Dj
	}
	points := make([]domain.GridPoint, 0, len(data))
	for j := range geom.Nj {
		lat := roundCoord(geom.La1 + float64(j)*dj)
		for i := range geom.Ni {
			val := data[j*geom.Ni+i]
			if math.IsNaN(val) || math.Abs(val) >= missingValueThreshold {
				continue
			}
			points = append(points, domain.GridPoint{
				Run:      key.Run.Init,
				LeadHour: key.LeadHour,
				Lat:      lat,
				Lon:      normalizeLon(geom.Lo1 + float64(i)*geom.Di),
				Variable: v,
				Value:    val,
				Unit:     v.Unit(),
			})
		}
	}
	return points, nil
}

func normalizeLon(lon float64) float64 {
	lon = math.Mod(lon, 360)
	if lon > 180 {
		lon -= 360
	} else if lon < -180 {
		lon += 360
	}
	return roundCoord(lon)
}

func roundCoord(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
