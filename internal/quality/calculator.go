package quality

import (
	"fmt"
	"strings"

	"secadora/internal/quality/rule"
)

// Result of one commercial-weight computation.
type Result struct {
	// CommercialMass — the settlement weight in kg.
	CommercialMass float64
	// Difference — net mass minus commercial mass; what the quality cost.
	Difference float64
	// Trail — ordered, operator-readable breakdown of every applied
	// deduction. Mandatory output: settlement disputes are resolved from it.
	Trail string
	// Note — set when no computation happened, explaining why.
	Note string
}

// Calculator is the commercial-weight compositor. It resolves the applicable
// deduction rules for an analysis, evaluates them in a fixed order and folds
// the results into net × Πfactors − Σmass.
//
// Factor deductions (humidity) reduce the weight proportionally; mass
// deductions (impurities, defects) reduce it absolutely. Expressing the two
// categories this way keeps the result order-independent within each
// category.
type Calculator struct {
	rules *rule.Repository
	// enabled — the plant-wide commercial-weight toggle. Injected from
	// configuration so tests control it deterministically.
	enabled bool
}

// NewCalculator creates a calculator over the given rule repository.
func NewCalculator(rules *rule.Repository, enabled bool) *Calculator {
	return &Calculator{rules: rules, enabled: enabled}
}

// Compute derives the commercial mass for the analysis against the given net
// mass and writes the result back onto the record. Preconditions per the
// invariants: a linked weighing with positive net mass and the toggle on;
// otherwise the commercial mass is zero with an explanatory note.
//
// Evaluation errors (a custom formula misbehaving despite load-time
// validation) abort the computation; no partial deduction is ever recorded.
func (c *Calculator) Compute(a *Analysis, netMass float64) (Result, error) {
	var result Result

	switch {
	case !c.enabled:
		result.Note = "commercial weight computation is disabled"
	case a.WeighingID == "":
		result.Note = "no weighing linked to the analysis"
	case netMass <= 0:
		result.Note = fmt.Sprintf("net mass %.2f kg is not positive", netMass)
	}
	if result.Note != "" {
		c.apply(a, netMass, result)
		return result, nil
	}

	if a.OperationType == "" {
		result.CommercialMass = netMass
		result.Trail = "No operation type resolvable: no deductions applied."
		c.apply(a, netMass, result)
		return result, nil
	}

	resolved := c.rules.ResolveApplicable(a.OperationType, a.Product)
	sample := a.Sample()

	var (
		factors       = 1.0
		massDeduction = 0.0
		lines         []string
	)
	for _, r := range rule.Ordered(resolved) {
		deduction, err := r.Evaluate(sample, netMass)
		if err != nil {
			return Result{}, err
		}
		if deduction.Neutral() {
			continue
		}
		switch deduction.Kind {
		case rule.KindFactor:
			factors *= deduction.Value
			lines = append(lines, "[factor] "+deduction.Explanation)
		case rule.KindMass:
			massDeduction += deduction.Value
			lines = append(lines, "[kg] "+deduction.Explanation)
		}
	}

	result.CommercialMass = netMass*factors - massDeduction
	result.Difference = netMass - result.CommercialMass

	var trail strings.Builder
	fmt.Fprintf(&trail, "Net mass: %.2f kg | Operation: %s | Product: %s\n", netMass, a.OperationType, product(a))
	if len(lines) == 0 {
		trail.WriteString("No deductions applied.\n")
	} else {
		for _, line := range lines {
			trail.WriteString(line)
			trail.WriteByte('\n')
		}
	}
	fmt.Fprintf(&trail, "Commercial mass = %.2f * %.6f - %.2f = %.2f kg",
		netMass, factors, massDeduction, result.CommercialMass)
	result.Trail = trail.String()

	c.apply(a, netMass, result)
	return result, nil
}

// apply writes the computation back onto the analysis record.
func (c *Calculator) apply(a *Analysis, netMass float64, result Result) {
	a.NetMass = netMass
	a.CommercialMass = result.CommercialMass
	a.MassDifference = result.Difference
	a.Trail = result.Trail
	a.Note = result.Note
}

func product(a *Analysis) string {
	if a.Product == "" {
		return "-"
	}
	return a.Product
}
