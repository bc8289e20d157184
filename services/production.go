package services

import (
	"math"
	"time"

	"realm-sim-server/models"
)

// ProductionBuilding pairs a constructed building with its catalog entry
// and the governors whose bonuses reach it (city-slot governors plus the
// one bound to this building, if any).
type ProductionBuilding struct {
	State     *models.CityBuilding
	Catalog   models.Building
	Governors []models.Governor
}

// ProductionReport is what one production pass did to a city's ledger.
type ProductionReport struct {
	Deltas      map[string]int64 // net change per resource code (consumption negative)
	Starved     []string         // building codes that ran short of inputs
	Deactivated []string         // building codes switched off for unpaid upkeep
	Overflow    map[string]int64 // production dropped at the warehouse cap
}

// RunProduction advances every building by the elapsed interval and
// applies the resulting deltas to stock. Pure with respect to the store:
// it mutates only the maps and building states handed to it.
//
// Production runs in whole base intervals; the fractional remainder is
// banked in the building's Progress so a split tick and a single long
// tick produce identical cumulative deltas. Bonus order is fixed:
// base → level scaling → additive → multiplicative.
//
// Stock never drops below zero and never exceeds warehouseCap. Output
// beyond the cap is dropped, not carried over — a deliberate lossy
// policy the game designers have been pointed at.
func RunProduction(buildings []ProductionBuilding, stock map[string]int64, protected map[string]int64, warehouseCap int64, elapsed time.Duration) ProductionReport {
	report := ProductionReport{
		Deltas:   make(map[string]int64),
		Overflow: make(map[string]int64),
	}
	if elapsed <= 0 {
		return report
	}

	avail := func(code string) int64 {
		a := stock[code] - protected[code]
		if a < 0 {
			return 0
		}
		return a
	}
	debit := func(code string, qty int64) {
		stock[code] -= qty
		report.Deltas[code] -= qty
	}
	credit := func(code string, qty int64) {
		room := warehouseCap - stock[code]
		if room < 0 {
			room = 0
		}
		if qty > room {
			report.Overflow[code] += qty - room
			qty = room
		}
		stock[code] += qty
		report.Deltas[code] += qty
	}

	for _, pb := range buildings {
		b := pb.State
		if !b.IsActive || b.Workers <= 0 {
			continue
		}
		interval := pb.Catalog.BaseIntervalSec
		if interval <= 0 {
			continue
		}

		total := b.Progress + elapsed.Seconds()/float64(interval)
		whole := int64(math.Floor(total))
		b.Progress = total - float64(whole)
		if whole <= 0 {
			continue
		}
		level := int64(b.Level)
		if level < 1 {
			level = 1
		}

		// Upkeep first. An interval whose upkeep cannot be paid shuts the
		// building down and produces nothing.
		upkeepOK := true
		for code, qty := range pb.Catalog.Upkeep {
			if avail(code) < qty*level*whole {
				upkeepOK = false
				break
			}
		}
		if !upkeepOK {
			b.IsActive = false
			report.Deactivated = append(report.Deactivated, b.BuildingCode)
			continue
		}
		for code, qty := range pb.Catalog.Upkeep {
			debit(code, qty*level*whole)
		}

		// Inputs limit how many of the due intervals actually run. Short
		// inputs scale production down, never the stock below zero.
		inputs := pb.Catalog.Inputs.Clone()
		if b.FuelCode != "" {
			inputs[b.FuelCode] += 1
		}
		effective := whole
		for code, qty := range inputs {
			if qty <= 0 {
				continue
			}
			byInput := avail(code) / (qty * level)
			if byInput < effective {
				effective = byInput
			}
		}
		if effective < whole {
			report.Starved = append(report.Starved, b.BuildingCode)
		}
		if effective <= 0 {
			continue
		}
		for code, qty := range inputs {
			debit(code, qty*level*effective)
		}

		// Output per interval: base, scaled by level, plus additive
		// governor bonuses, times the multiplicative product. Kept
		// integral per interval so totals stay linear in interval count.
		mult := 1.0
		addTotal := make(map[string]int64)
		for _, g := range pb.Governors {
			if g.BonusMult > 0 {
				mult *= g.BonusMult
			}
			for code, qty := range g.BonusAdd {
				addTotal[code] += qty
			}
		}
		for code, qty := range pb.Catalog.Outputs {
			perInterval := int64(math.Floor(float64(qty*level+addTotal[code]) * mult))
			if perInterval > 0 {
				credit(code, perInterval*effective)
			}
		}
		for code, qty := range addTotal {
			if _, produced := pb.Catalog.Outputs[code]; produced {
				continue
			}
			perInterval := int64(math.Floor(float64(qty) * mult))
			if perInterval > 0 {
				credit(code, perInterval*effective)
			}
		}
	}

	return report
}

// ProductionRates derives per-hour production and consumption for the
// state snapshot. Mirrors RunProduction's bonus order without touching
// any ledger.
func ProductionRates(buildings []ProductionBuilding) (produced, consumed models.ResourceMap) {
	produced = models.ResourceMap{}
	consumed = models.ResourceMap{}
	for _, pb := range buildings {
		b := pb.State
		if !b.IsActive || b.Workers <= 0 || pb.Catalog.BaseIntervalSec <= 0 {
			continue
		}
		perHour := 3600.0 / float64(pb.Catalog.BaseIntervalSec)
		level := int64(b.Level)
		if level < 1 {
			level = 1
		}
		mult := 1.0
		addTotal := make(map[string]int64)
		for _, g := range pb.Governors {
			if g.BonusMult > 0 {
				mult *= g.BonusMult
			}
			for code, qty := range g.BonusAdd {
				addTotal[code] += qty
			}
		}
		for code, qty := range pb.Catalog.Outputs {
			perInterval := int64(math.Floor(float64(qty*level+addTotal[code]) * mult))
			produced[code] += int64(float64(perInterval) * perHour)
		}
		inputs := pb.Catalog.Inputs.Clone()
		if b.FuelCode != "" {
			inputs[b.FuelCode] += 1
		}
		for code, qty := range inputs {
			consumed[code] += int64(float64(qty*level) * perHour)
		}
		for code, qty := range pb.Catalog.Upkeep {
			consumed[code] += int64(float64(qty*level) * perHour)
		}
	}
	return produced, consumed
}
