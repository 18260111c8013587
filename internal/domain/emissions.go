package domain

import (
	"strings"
	"time"
)

// CalculationMethod tags how an emission factor was obtained.
type CalculationMethod string

const (
	MethodDefault CalculationMethod = "default"
	MethodCustom  CalculationMethod = "custom"
	MethodAPI     CalculationMethod = "api"
)

// EmissionFactor records which per-unit multiplier produced a result.
type EmissionFactor struct {
	Value       float64   `json:"value"`
	Unit        string    `json:"unit"`
	Source      string    `json:"source"`
	LastUpdated time.Time `json:"last_updated"`
}

// EmissionResult is the provenance-carrying output of one calculation.
// TotalCO2eKg is the authoritative scalar used in all aggregates; today it
// equals CO2Kg exactly, the split reserves room for CH4/N2O terms.
type EmissionResult struct {
	CO2Kg       float64           `json:"co2_kg"`
	TotalCO2eKg float64           `json:"total_co2e_kg"`
	Factor      EmissionFactor    `json:"factor"`
	Method      CalculationMethod `json:"method"`
}

const (
	electricityGridFactor = 0.82   // kg CO2 per kWh
	lpgFactor             = 1.5    // kg CO2 per kg of LPG
	waterFactor           = 0.0003 // kg CO2 per liter
	defaultCylinderSizeKg = 14.2
	fallbackTransportKey  = "car_petrol"

	factorSourceStatic  = "static"
	factorSourceDefault = "default"
)

// transportFactors maps a vehicle/fuel key to kg CO2 per km.
var transportFactors = map[string]float64{
	"car_petrol":           0.192,
	"car_diesel":           0.171,
	"car_electric":         0.053,
	"car_hybrid":           0.120,
	"car_cng":              0.147,
	"bus":                  0.089,
	"train":                0.041,
	"flight_domestic":      0.255,
	"flight_international": 0.285,
	"bike":                 0,
	"walk":                 0,
}

// foodFactors maps a food type to kg CO2 per kg consumed.
var foodFactors = map[string]float64{
	"beef":       27.0,
	"lamb":       21.0,
	"pork":       12.0,
	"chicken":    6.9,
	"fish":       3.0,
	"eggs":       4.2,
	"dairy":      3.2,
	"rice":       4.0,
	"wheat":      1.4,
	"vegetables": 2.0,
	"fruits":     1.0,
	"nuts":       2.3,
	"legumes":    2.0,
}

const defaultFoodType = "vegetables"

// purchaseFactors maps a purchase category to kg CO2 per 1000 currency units.
var purchaseFactors = map[string]float64{
	"clothing":      0.8,
	"electronics":   0.6,
	"food":          0.4,
	"furniture":     0.7,
	"general":       0.5,
	"transport":     0.9,
	"entertainment": 0.3,
}

const defaultPurchaseCategory = "general"

// wasteFactors maps a waste type to kg CO2 per kg disposed.
var wasteFactors = map[string]float64{
	"organic": 0.5,
	"plastic": 2.0,
	"paper":   1.0,
	"metal":   1.5,
	"glass":   0.8,
	"mixed":   1.2,
}

const defaultWasteType = "mixed"

// ComputeEmissions maps an activity's type and payload to an EmissionResult.
// It never fails: missing or non-positive measurements and unrecognized types
// resolve to the zero-emission default so that partial data cannot block
// activity creation. Provenance fields are populated on every path.
func ComputeEmissions(activityType ActivityType, payload Payload) EmissionResult {
	now := time.Now().UTC()

	switch activityType {
	case TypeTransport:
		if p := payload.Transport; p != nil && p.DistanceKm > 0 {
			key := transportFactorKey(p.VehicleType, p.FuelType)
			factor, ok := transportFactors[key]
			if !ok {
				factor = transportFactors[fallbackTransportKey]
			}
			return result(p.DistanceKm*factor, factor, "kg CO2/km", now)
		}
	case TypeElectricity:
		if p := payload.Electricity; p != nil && p.Units > 0 {
			return result(p.Units*electricityGridFactor, electricityGridFactor, "kg CO2/kWh", now)
		}
	case TypeLPG:
		if p := payload.LPG; p != nil && p.Cylinders > 0 {
			size := p.CylinderSizeKg
			if size <= 0 {
				size = defaultCylinderSizeKg
			}
			return result(p.Cylinders*size*lpgFactor, lpgFactor, "kg CO2/kg LPG", now)
		}
	case TypeDiet:
		if p := payload.Diet; p != nil && p.QuantityKg > 0 {
			factor, ok := foodFactors[strings.ToLower(strings.TrimSpace(p.FoodType))]
			if !ok {
				factor = foodFactors[defaultFoodType]
			}
			return result(p.QuantityKg*factor, factor, "kg CO2/kg", now)
		}
	case TypePurchases:
		if p := payload.Purchase; p != nil && p.Amount > 0 {
			factor, ok := purchaseFactors[strings.ToLower(strings.TrimSpace(p.Category))]
			if !ok {
				factor = purchaseFactors[defaultPurchaseCategory]
			}
			return result((p.Amount/1000)*factor, factor, "kg CO2/1000 spent", now)
		}
	case TypeWaste:
		if p := payload.Waste; p != nil && p.WeightKg > 0 {
			factor, ok := wasteFactors[strings.ToLower(strings.TrimSpace(p.WasteType))]
			if !ok {
				factor = wasteFactors[defaultWasteType]
			}
			return result(p.WeightKg*factor, factor, "kg CO2/kg", now)
		}
	case TypeWater:
		if p := payload.Water; p != nil && p.VolumeLiters > 0 {
			return result(p.VolumeLiters*waterFactor, waterFactor, "kg CO2/L", now)
		}
	}

	// heating, cooling, other, and unrecognized types have no factor rule.
	return zeroEmissionResult(now)
}

// transportFactorKey resolves the factor table key from vehicle and fuel
// qualifiers. Car trips are keyed by fuel (petrol when absent); flights are
// split domestic/international via the fuel qualifier.
func transportFactorKey(vehicleType, fuelType string) string {
	vehicle := strings.ToLower(strings.TrimSpace(vehicleType))
	fuel := strings.ToLower(strings.TrimSpace(fuelType))

	switch vehicle {
	case "", "car":
		if fuel == "" {
			fuel = "petrol"
		}
		return "car_" + fuel
	case "flight":
		if fuel == "international" {
			return "flight_international"
		}
		return "flight_domestic"
	default:
		return vehicle
	}
}

func result(co2Kg, factorValue float64, unit string, now time.Time) EmissionResult {
	return EmissionResult{
		CO2Kg:       co2Kg,
		TotalCO2eKg: co2Kg,
		Factor: EmissionFactor{
			Value:       factorValue,
			Unit:        unit,
			Source:      factorSourceStatic,
			LastUpdated: now,
		},
		Method: MethodDefault,
	}
}

func zeroEmissionResult(now time.Time) EmissionResult {
	return EmissionResult{
		Factor: EmissionFactor{
			Unit:        "unknown",
			Source:      factorSourceDefault,
			LastUpdated: now,
		},
		Method: MethodDefault,
	}
}
