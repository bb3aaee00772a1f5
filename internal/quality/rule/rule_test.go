package rule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/google/cel-go/cel"
)

func testEnv(t *testing.T) *cel.Env {
	t.Helper()
	env, err := NewFormulaEnv()
	require.NoError(t, err)
	return env
}

func initRule(t *testing.T, r *Rule) *Rule {
	t.Helper()
	require.NoError(t, r.Init(testEnv(t)))
	return r
}

func TestRule_BelowThresholdIsNeutral(t *testing.T) {
	r := initRule(t, &Rule{
		Name:          "Humedad compra",
		OperationType: "COMPRA",
		Parameter:     ParamHumidity,
		Threshold:     13.0,
		Mode:          ModeDoubleDiscount,
	})

	for _, value := range []float64{0, 5, 12.99, 13.0} {
		d, err := r.Evaluate(Sample{ParamHumidity: value}, 1000)
		require.NoError(t, err)
		assert.True(t, d.Neutral(), "value %.2f is within spec", value)
		assert.Empty(t, d.Explanation)
	}
}

func TestRule_UnsetParameterIsNeutral(t *testing.T) {
	r := initRule(t, &Rule{
		Name:          "Impurezas compra",
		OperationType: "COMPRA",
		Parameter:     ParamImpurities,
		Threshold:     3.0,
		Mode:          ModePercentPerPoint,
		Factor:        1.0,
	})

	d, err := r.Evaluate(Sample{ParamHumidity: 20}, 1000)
	require.NoError(t, err)
	assert.True(t, d.Neutral(), "a parameter missing from the sample reads as zero")
}

func TestRule_DoubleDiscount(t *testing.T) {
	r := initRule(t, &Rule{
		Name:          "Humedad compra",
		OperationType: "COMPRA",
		Parameter:     ParamHumidity,
		Threshold:     13.0,
		Mode:          ModeDoubleDiscount,
	})

	d, err := r.Evaluate(Sample{ParamHumidity: 15.0}, 1000)
	require.NoError(t, err)
	assert.Equal(t, KindFactor, d.Kind)
	// (100-15)/(100-13) = 85/87
	assert.InDelta(t, 0.977011, d.Value, 1e-6)
	assert.Contains(t, d.Explanation, "Humedad (%)")
	assert.Contains(t, d.Explanation, "0.977011")
}

func TestRule_DoubleDiscount_CappedAtOne(t *testing.T) {
	// A value above the threshold but below 100 always yields a factor < 1;
	// the cap guards the degenerate configuration where it would not.
	r := initRule(t, &Rule{
		Name:          "Humedad",
		OperationType: "COMPRA",
		Parameter:     ParamHumidity,
		Threshold:     -5.0,
		Mode:          ModeDoubleDiscount,
	})

	d, err := r.Evaluate(Sample{ParamHumidity: -1.0}, 1000)
	require.NoError(t, err)
	assert.Equal(t, 1.0, d.Value)
}

func TestRule_DoubleDiscount_ThresholdAtHundredIsNeutral(t *testing.T) {
	r := initRule(t, &Rule{
		Name:          "Humedad degenerada",
		OperationType: "COMPRA",
		Parameter:     ParamHumidity,
		Threshold:     100.0,
		Mode:          ModeDoubleDiscount,
	})

	d, err := r.Evaluate(Sample{ParamHumidity: 120.0}, 1000)
	require.NoError(t, err)
	assert.True(t, d.Neutral())
}

func TestRule_PercentPerPoint(t *testing.T) {
	r := initRule(t, &Rule{
		Name:          "Impurezas compra",
		OperationType: "COMPRA",
		Parameter:     ParamImpurities,
		Threshold:     3.0,
		Mode:          ModePercentPerPoint,
		Factor:        1.5,
	})

	d, err := r.Evaluate(Sample{ParamImpurities: 5.0}, 1000)
	require.NoError(t, err)
	assert.Equal(t, KindMass, d.Kind)
	// 1000 * (2/100) * 1.5
	assert.InDelta(t, 30.0, d.Value, 1e-9)
	assert.Contains(t, d.Explanation, "Impurezas (%)")
}

func TestRule_FactorPerPoint(t *testing.T) {
	r := initRule(t, &Rule{
		Name:          "Grano rojo",
		OperationType: "COMPRA",
		Parameter:     ParamRedGrain,
		Threshold:     2.0,
		Mode:          ModeFactorPerPoint,
		Factor:        4.0,
	})

	d, err := r.Evaluate(Sample{ParamRedGrain: 3.5}, 1000)
	require.NoError(t, err)
	assert.Equal(t, KindMass, d.Kind)
	// 1.5 * 4.0, independent of the net mass
	assert.InDelta(t, 6.0, d.Value, 1e-9)

	again, err := r.Evaluate(Sample{ParamRedGrain: 3.5}, 25000)
	require.NoError(t, err)
	assert.Equal(t, d.Value, again.Value)
}

func TestRule_DeductionsGrowWithExcess(t *testing.T) {
	rules := []*Rule{
		{Name: "dd", OperationType: "COMPRA", Parameter: ParamHumidity, Threshold: 13, Mode: ModeDoubleDiscount},
		{Name: "pp", OperationType: "COMPRA", Parameter: ParamHumidity, Threshold: 13, Mode: ModePercentPerPoint, Factor: 1.0},
		{Name: "fp", OperationType: "COMPRA", Parameter: ParamHumidity, Threshold: 13, Mode: ModeFactorPerPoint, Factor: 2.0},
	}
	for _, r := range rules {
		initRule(t, r)
		lower, err := r.Evaluate(Sample{ParamHumidity: 14.0}, 1000)
		require.NoError(t, err)
		higher, err := r.Evaluate(Sample{ParamHumidity: 18.0}, 1000)
		require.NoError(t, err)

		switch lower.Kind {
		case KindFactor:
			assert.Less(t, higher.Value, lower.Value, "%s: factor shrinks as the excess grows", r.Name)
		case KindMass:
			assert.Greater(t, higher.Value, lower.Value, "%s: penalty grows with the excess", r.Name)
		}
	}
}

func TestRule_CustomFormula_MassResult(t *testing.T) {
	r := initRule(t, &Rule{
		Name:          "Infestación a medida",
		OperationType: "COMPRA",
		Parameter:     ParamInfestation,
		Threshold:     0.0,
		Mode:          ModeCustomFormula,
		Formula:       "{'type': 'kg', 'value': peso * exceso / 100.0}",
	})

	d, err := r.Evaluate(Sample{ParamInfestation: 2.0}, 1000)
	require.NoError(t, err)
	assert.Equal(t, KindMass, d.Kind)
	assert.InDelta(t, 20.0, d.Value, 1e-9)
	assert.Contains(t, d.Explanation, "kg")
}

func TestRule_CustomFormula_FactorResult(t *testing.T) {
	r := initRule(t, &Rule{
		Name:          "Humedad a medida",
		OperationType: "COMPRA",
		Parameter:     ParamHumidity,
		Threshold:     13.0,
		Mode:          ModeCustomFormula,
		Formula:       "{'type': 'factor', 'value': (100.0 - valor) / (100.0 - umbral)}",
	})

	d, err := r.Evaluate(Sample{ParamHumidity: 15.0}, 1000)
	require.NoError(t, err)
	assert.Equal(t, KindFactor, d.Kind)
	assert.InDelta(t, 0.977011, d.Value, 1e-6)
}

func TestRule_Init_RejectsUnknownParameter(t *testing.T) {
	r := &Rule{Name: "bad", OperationType: "COMPRA", Parameter: "proteina", Mode: ModeDoubleDiscount}
	assert.Error(t, r.Init(testEnv(t)))
}

func TestRule_Init_RejectsMissingOperationType(t *testing.T) {
	r := &Rule{Name: "bad", Parameter: ParamHumidity, Mode: ModeDoubleDiscount}
	assert.Error(t, r.Init(testEnv(t)))
}

func TestRule_Init_RejectsUnknownMode(t *testing.T) {
	r := &Rule{Name: "bad", OperationType: "COMPRA", Parameter: ParamHumidity, Mode: "linear"}
	assert.Error(t, r.Init(testEnv(t)))
}

func TestRule_Init_RejectsBadFormulas(t *testing.T) {
	env := testEnv(t)

	cases := []struct {
		name    string
		formula string
	}{
		{"empty", ""},
		{"syntax error", "{'type': 'kg',"},
		{"unknown variable", "{'type': 'kg', 'value': humedad}"},
		{"not a map", "peso * 0.02"},
		{"missing value key", "{'type': 'kg'}"},
		{"extra key", "{'type': 'kg', 'value': 1.0, 'note': 'x'}"},
		{"unknown type tag", "{'type': 'pct', 'value': 1.0}"},
		{"non-numeric value", "{'type': 'kg', 'value': 'mucho'}"},
		// IEEE division: the probe evaluates with excess 2.0, so this yields
		// +Inf already at load time.
		{"non-finite value", "{'type': 'kg', 'value': 1.0 / (exceso - 2.0)}"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			r := &Rule{
				Name:          "bad formula",
				OperationType: "COMPRA",
				Parameter:     ParamHumidity,
				Threshold:     13.0,
				Mode:          ModeCustomFormula,
				Formula:       c.formula,
			}
			err := r.Init(env)
			require.Error(t, err)
		})
	}
}

func TestRule_CustomFormula_RuntimeErrorIsFormulaError(t *testing.T) {
	// Integer division by the excess: fine at the probe (excess 2), fails
	// only when a later evaluation hits the singular input.
	r := initRule(t, &Rule{
		Name:          "singular",
		OperationType: "COMPRA",
		Parameter:     ParamHumidity,
		Threshold:     13.0,
		Mode:          ModeCustomFormula,
		Formula:       "{'type': 'kg', 'value': 1000 / int(exceso - 4.0)}",
	})

	_, err := r.Evaluate(Sample{ParamHumidity: 17.0}, 1000)
	var formulaErr *FormulaError
	require.ErrorAs(t, err, &formulaErr)
	assert.Equal(t, "singular", formulaErr.Rule)
}

func TestRule_CustomFormula_NonFiniteResultIsFormulaError(t *testing.T) {
	// Double division by zero yields +Inf in CEL, not an evaluation error.
	// The probe sees excess 2.0 and a finite result; only excess 4.0 hits
	// the singularity, so the guard has to fire at evaluation time too.
	r := initRule(t, &Rule{
		Name:          "asintota",
		OperationType: "COMPRA",
		Parameter:     ParamHumidity,
		Threshold:     13.0,
		Mode:          ModeCustomFormula,
		Formula:       "{'type': 'kg', 'value': peso / (exceso - 4.0)}",
	})

	_, err := r.Evaluate(Sample{ParamHumidity: 17.0}, 1000)
	var formulaErr *FormulaError
	require.ErrorAs(t, err, &formulaErr)
	assert.Contains(t, formulaErr.Reason, "finite")
}

func TestParameter_Label(t *testing.T) {
	assert.Equal(t, "Humedad (%)", ParamHumidity.Label())
	assert.Equal(t, "otro", Parameter("otro").Label())
	assert.False(t, Parameter("otro").Valid())
}
