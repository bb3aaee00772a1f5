// Package rule implements the quality-deduction rule engine: configured
// policies that turn a laboratory measurement exceeding its threshold into a
// multiplicative factor or an absolute mass penalty on the net weight.
package rule

import (
	"fmt"
	"math"
	"reflect"

	"github.com/google/cel-go/cel"
)

// Parameter is one of the closed set of deductible laboratory parameters.
// The identifiers are the plant's settlement vocabulary and double as the
// keys used in rule definitions and analysis samples.
type Parameter string

const (
	ParamHumidity         Parameter = "humedad"
	ParamImpurities       Parameter = "impurezas"
	ParamBrokenGrain      Parameter = "grano_partido"
	ParamGreenBrokenGrain Parameter = "grano_partido_verde"
	ParamRedGrain         Parameter = "grano_rojo"
	ParamInfestation      Parameter = "infestacion"
	ParamHusk             Parameter = "cascarilla_pct"
	ParamFlour            Parameter = "harina_pct"
	ParamChalkyGrain      Parameter = "grano_yesado_pct"
	ParamAmberGrain       Parameter = "grano_ambarino_pct"
	ParamDamagedGrain     Parameter = "grano_con_dano_pct"
)

var parameterLabels = map[Parameter]string{
	ParamHumidity:         "Humedad (%)",
	ParamImpurities:       "Impurezas (%)",
	ParamBrokenGrain:      "Grano Partido (%)",
	ParamGreenBrokenGrain: "Grano Partido Verde (%)",
	ParamRedGrain:         "Grano Rojo (%)",
	ParamInfestation:      "Infestación",
	ParamHusk:             "Cascarilla (%)",
	ParamFlour:            "Harina (%)",
	ParamChalkyGrain:      "Grano Yesado (%)",
	ParamAmberGrain:       "Grano Ambarino (%)",
	ParamDamagedGrain:     "Grano con Daño (%)",
}

// Valid reports whether p is one of the deductible parameters.
func (p Parameter) Valid() bool {
	_, found := parameterLabels[p]
	return found
}

// Label returns the operator-facing name of the parameter.
func (p Parameter) Label() string {
	if label, found := parameterLabels[p]; found {
		return label
	}
	return string(p)
}

// Sample maps deductible parameters to their measured values for one
// analysis. Unset parameters read as 0.0.
type Sample map[Parameter]float64

// Mode selects the deduction policy of a rule. The policy is data, not code:
// a single evaluator dispatches on the tag.
type Mode string

const (
	// ModeDoubleDiscount — proportional factor (100−value)/(100−threshold),
	// capped at 1. The plant's settlement convention for humidity.
	ModeDoubleDiscount Mode = "double_discount"
	// ModePercentPerPoint — mass penalty: net × excess/100 × factor.
	ModePercentPerPoint Mode = "percent_per_point"
	// ModeFactorPerPoint — mass penalty: excess × factor, independent of the
	// net weight.
	ModeFactorPerPoint Mode = "factor_per_point"
	// ModeCustomFormula — a restricted CEL expression computes the deduction.
	ModeCustomFormula Mode = "custom_formula"
)

// Kind of a computed deduction: a multiplicative factor on the net mass or an
// absolute mass in kg subtracted from it.
type Kind string

const (
	KindFactor Kind = "factor"
	KindMass   Kind = "kg"
)

// Deduction is the typed result of evaluating one rule against one analysis.
type Deduction struct {
	Kind  Kind
	Value float64
	// Explanation — one audit line naming the parameter, the inputs and the
	// resulting value. Empty for neutral results.
	Explanation string
}

// Neutral reports whether the deduction has no effect on the net mass.
func (d Deduction) Neutral() bool {
	return d.Kind == KindFactor && d.Value == 1.0
}

// neutral is the no-effect deduction returned for within-spec values.
var neutral = Deduction{Kind: KindFactor, Value: 1.0}

// FormulaError is returned when a custom deduction formula fails to compile,
// fails to evaluate, or yields a value of the wrong shape.
type FormulaError struct {
	Rule   string
	Reason string
}

// Error returns a textual description of the error.
func (e *FormulaError) Error() string {
	return fmt.Sprintf("rule %q: formula error: %s", e.Rule, e.Reason)
}

// NewFormulaError creates a new FormulaError for the given rule.
func NewFormulaError(rule, reason string) *FormulaError {
	return &FormulaError{Rule: rule, Reason: reason}
}

// Rule is a configured deduction policy. At most one rule may exist per
// (operation type, product, parameter); a rule without a product applies to
// all products and is overridden by a product-specific one.
type Rule struct {
	// Name — descriptive name shown in audit trails and error messages.
	Name string `yaml:"name"`
	// Sequence — evaluation order. Rules are always processed in ascending
	// (sequence, ticket) order so the trail and the arithmetic are stable.
	Sequence int `yaml:"sequence"`
	// Active — inactive rules are skipped by the matcher.
	Active bool `yaml:"active"`
	// OperationType — operation type code the rule applies to. Required.
	OperationType string `yaml:"operation_type"`
	// Product — product the rule applies to; empty means all products.
	Product string `yaml:"product"`
	// Parameter — which laboratory measurement the rule evaluates.
	Parameter Parameter `yaml:"parameter"`
	// Threshold — maximum allowed value before any deduction applies.
	Threshold float64 `yaml:"threshold"`
	// Mode — deduction policy.
	Mode Mode `yaml:"mode"`
	// Factor — multiplier used by the per-point modes and exposed to custom
	// formulas.
	Factor float64 `yaml:"factor"`
	// Formula — CEL expression for ModeCustomFormula. Evaluated against the
	// bindings peso, valor, umbral, exceso, factor and must yield
	// {'type': 'factor'|'kg', 'value': <number>}.
	Formula string `yaml:"formula"`

	// ticket — load order, tie-breaker after Sequence.
	ticket int
	// program — compiled CEL program for ModeCustomFormula.
	program cel.Program
}

// NewFormulaEnv creates the restricted CEL environment custom formulas run
// in. Exactly five numeric bindings are exposed; there is no access to
// anything else.
func NewFormulaEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("peso", cel.DoubleType),
		cel.Variable("valor", cel.DoubleType),
		cel.Variable("umbral", cel.DoubleType),
		cel.Variable("exceso", cel.DoubleType),
		cel.Variable("factor", cel.DoubleType),
	)
}

// Init checks the rule's static shape and, for ModeCustomFormula, compiles
// the formula in the given environment and validates its result shape against
// representative inputs. A rule that passes Init can no longer fail for
// configuration reasons at evaluation time.
func (r *Rule) Init(env *cel.Env) error {
	if r.OperationType == "" {
		return fmt.Errorf("rule %q: operation_type must be specified", r.Name)
	}
	if !r.Parameter.Valid() {
		return fmt.Errorf("rule %q: unknown parameter %q", r.Name, r.Parameter)
	}

	switch r.Mode {
	case ModeDoubleDiscount, ModePercentPerPoint, ModeFactorPerPoint:
		return nil
	case ModeCustomFormula:
		// compiled and probed below
	default:
		return fmt.Errorf("rule %q: unsupported mode %q", r.Name, r.Mode)
	}

	if r.Formula == "" {
		return NewFormulaError(r.Name, "formula must be specified for custom_formula mode")
	}

	ast, iss := env.Parse(r.Formula)
	if iss.Err() != nil {
		return NewFormulaError(r.Name, iss.Err().Error())
	}
	checked, iss := env.Check(ast)
	if iss.Err() != nil {
		return NewFormulaError(r.Name, iss.Err().Error())
	}
	program, err := env.Program(checked)
	if err != nil {
		return NewFormulaError(r.Name, err.Error())
	}
	r.program = program

	// Probe the formula with representative above-threshold inputs so a
	// wrong result shape surfaces at save time, before the rule can touch a
	// real weighing.
	probe := r.formulaBindings(1000.0, r.Threshold+2.0)
	if _, _, err := r.runFormula(probe); err != nil {
		return err
	}
	return nil
}

// formulaBindings builds the variable bindings for one evaluation.
func (r *Rule) formulaBindings(netMass, value float64) map[string]any {
	return map[string]any{
		"peso":   netMass,
		"valor":  value,
		"umbral": r.Threshold,
		"exceso": value - r.Threshold,
		"factor": r.Factor,
	}
}

// runFormula evaluates the compiled formula and decodes the required
// {'type': ..., 'value': ...} result structure.
func (r *Rule) runFormula(bindings map[string]any) (Kind, float64, error) {
	result, _, err := r.program.Eval(bindings)
	if err != nil {
		return "", 0, NewFormulaError(r.Name, err.Error())
	}

	native, err := result.ConvertToNative(reflect.TypeOf(map[string]any{}))
	if err != nil {
		return "", 0, NewFormulaError(r.Name, "formula must yield a map {'type': ..., 'value': ...}: "+err.Error())
	}
	fields, ok := native.(map[string]any)
	if !ok || len(fields) != 2 {
		return "", 0, NewFormulaError(r.Name, "formula must yield exactly the keys 'type' and 'value'")
	}

	kindRaw, found := fields["type"]
	if !found {
		return "", 0, NewFormulaError(r.Name, "formula result is missing the 'type' key")
	}
	kindStr, ok := kindRaw.(string)
	if !ok || (Kind(kindStr) != KindFactor && Kind(kindStr) != KindMass) {
		return "", 0, NewFormulaError(r.Name, fmt.Sprintf("formula result type must be 'factor' or 'kg', got %v", kindRaw))
	}

	valueRaw, found := fields["value"]
	if !found {
		return "", 0, NewFormulaError(r.Name, "formula result is missing the 'value' key")
	}
	value, ok := toFloat(valueRaw)
	if !ok {
		return "", 0, NewFormulaError(r.Name, fmt.Sprintf("formula result value must be numeric, got %T", valueRaw))
	}
	// CEL double arithmetic follows IEEE 754: division by zero yields ±Inf
	// instead of an evaluation error, and Inf would poison the commercial
	// mass all the way into the JSON response.
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return "", 0, NewFormulaError(r.Name, fmt.Sprintf("formula result value must be finite, got %v", value))
	}

	return Kind(kindStr), value, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case int:
		return float64(n), true
	}
	return 0, false
}

// Evaluate computes the rule's deduction for one analysis sample against the
// given net mass. Values at or below the threshold contribute nothing: the
// short-circuit for cargo within spec.
func (r *Rule) Evaluate(sample Sample, netMass float64) (Deduction, error) {
	value := sample[r.Parameter]
	if value <= r.Threshold {
		return neutral, nil
	}
	excess := value - r.Threshold

	switch r.Mode {
	case ModeDoubleDiscount:
		span := 100.0 - r.Threshold
		if span <= 0 {
			// A threshold at or above 100% cannot discount proportionally;
			// a misconfigured rule must not abort an otherwise sound weighing.
			return neutral, nil
		}
		factor := (100.0 - value) / span
		if factor > 1.0 {
			factor = 1.0
		}
		return Deduction{
			Kind:  KindFactor,
			Value: factor,
			Explanation: fmt.Sprintf("%s %.2f > %.2f: factor (100-%.2f)/(100-%.2f) = %.6f",
				r.Parameter.Label(), value, r.Threshold, value, r.Threshold, factor),
		}, nil

	case ModePercentPerPoint:
		mass := netMass * (excess / 100.0) * r.Factor
		return Deduction{
			Kind:  KindMass,
			Value: mass,
			Explanation: fmt.Sprintf("%s %.2f > %.2f: %.2f kg * (%.2f/100) * %.4f = %.2f kg",
				r.Parameter.Label(), value, r.Threshold, netMass, excess, r.Factor, mass),
		}, nil

	case ModeFactorPerPoint:
		mass := excess * r.Factor
		return Deduction{
			Kind:  KindMass,
			Value: mass,
			Explanation: fmt.Sprintf("%s %.2f > %.2f: excess %.2f * factor %.4f = %.2f kg",
				r.Parameter.Label(), value, r.Threshold, excess, r.Factor, mass),
		}, nil

	case ModeCustomFormula:
		kind, result, err := r.runFormula(r.formulaBindings(netMass, value))
		if err != nil {
			return Deduction{}, err
		}
		unit := ""
		if kind == KindMass {
			unit = " kg"
		}
		return Deduction{
			Kind:  kind,
			Value: result,
			Explanation: fmt.Sprintf("%s %.2f > %.2f: formula %q = %.6f%s",
				r.Parameter.Label(), value, r.Threshold, r.Formula, result, unit),
		}, nil
	}

	return Deduction{}, fmt.Errorf("rule %q: unsupported mode %q", r.Name, r.Mode)
}
