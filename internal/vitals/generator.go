package vitals

import (
	"math/rand"
	"sync"
	"time"
)

// Rates are percentage chances of drawing a warning or critical reading.
// The zero value keeps every vital inside its normal range.
type Rates struct {
	Warning  float64
	Critical float64
}

// Generator simulates vitals snapshots for a device.
type Generator struct {
	rates Rates
	now   func() time.Time

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewGenerator creates a generator seeded from the wall clock.
func NewGenerator(rates Rates) *Generator {
	return NewGeneratorWithSource(rates, rand.NewSource(time.Now().UnixNano()), time.Now)
}

// NewGeneratorWithSource creates a generator with an explicit random source and clock.
func NewGeneratorWithSource(rates Rates, src rand.Source, now func() time.Time) *Generator {
	if now == nil {
		now = time.Now
	}
	return &Generator{rates: rates, now: now, rnd: rand.New(src)}
}

// Generate draws one snapshot for deviceID and classifies it.
func (g *Generator) Generate(deviceID string) Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	s := Snapshot{
		DeviceID:  deviceID,
		Timestamp: g.now().UTC().Truncate(time.Second),
	}
	switch g.targetTier() {
	case StatusCritical:
		g.drawCritical(&s)
	case StatusWarning:
		g.drawWarning(&s)
	default:
		g.drawNormal(&s)
	}
	s.Status = Classify(s.HeartRate, s.TemperatureC, s.SpO2)
	return s
}

func (g *Generator) targetTier() Status {
	if g.rates.Warning <= 0 && g.rates.Critical <= 0 {
		return StatusNormal
	}
	roll := g.rnd.Float64()
	cr := g.rates.Critical / 100
	wr := g.rates.Warning / 100
	switch {
	case roll < cr:
		return StatusCritical
	case roll < cr+wr:
		return StatusWarning
	}
	return StatusNormal
}

func (g *Generator) drawNormal(s *Snapshot) {
	s.HeartRate = g.between(60, 99)
	s.Systolic = g.between(110, 139)
	s.Diastolic = g.between(70, 89)
	s.TemperatureC = g.tenths(360, 379)
	s.SpO2 = g.between(95, 100)
	s.RespiratoryRate = g.tenths(120, 199)
}

// drawWarning crosses at least one warning threshold without reaching critical.
func (g *Generator) drawWarning(s *Snapshot) {
	s.HeartRate = pick(g, g.between(101, 120), g.between(60, 99))
	s.TemperatureC = pick(g, g.tenths(376, 385), g.tenths(360, 374))
	s.SpO2 = pick(g, g.between(91, 94), g.between(95, 100))
	if s.HeartRate <= HeartRateWarning && s.TemperatureC <= TempWarning && s.SpO2 >= SpO2Warning {
		switch g.rnd.Intn(3) {
		case 0:
			s.HeartRate = g.between(101, 120)
		case 1:
			s.TemperatureC = g.tenths(376, 385)
		default:
			s.SpO2 = g.between(91, 94)
		}
	}
	s.Systolic = g.between(130, 150)
	s.Diastolic = g.between(80, 95)
	s.RespiratoryRate = g.tenths(180, 240)
}

// drawCritical crosses at least one critical threshold.
func (g *Generator) drawCritical(s *Snapshot) {
	s.HeartRate = pick(g, g.between(121, 160), g.between(60, 99))
	s.TemperatureC = pick(g, g.tenths(386, 400), g.tenths(360, 374))
	s.SpO2 = pick(g, g.between(80, 89), g.between(95, 100))
	if s.HeartRate <= HeartRateCritical && s.TemperatureC <= TempCritical && s.SpO2 >= SpO2Critical {
		switch g.rnd.Intn(3) {
		case 0:
			s.HeartRate = g.between(121, 160)
		case 1:
			s.TemperatureC = g.tenths(386, 400)
		default:
			s.SpO2 = g.between(80, 89)
		}
	}
	s.Systolic = g.between(140, 180)
	s.Diastolic = g.between(90, 110)
	s.RespiratoryRate = g.tenths(220, 300)
}

// between returns a uniform int in [lo, hi].
func (g *Generator) between(lo, hi int) int {
	return lo + g.rnd.Intn(hi-lo+1)
}

// tenths returns a uniform value in [lo/10, hi/10] with one decimal place.
func (g *Generator) tenths(lo, hi int) float64 {
	return float64(g.between(lo, hi)) / 10
}

func pick[T int | float64](g *Generator, a, b T) T {
	if g.rnd.Intn(2) == 0 {
		return a
	}
	return b
}
