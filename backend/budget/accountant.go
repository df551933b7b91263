package budget

// Ledger is the running budget of one slow job. Accumulated starts at
// -internal: launching the job already cost the tick's fast-controller share,
// which must be paid back before any output counts as revealed.
type Ledger struct {
	Accumulated int
}

// Admission is the accountant's verdict for one tick.
type Admission struct {
	CanReveal   bool
	RevealUnits int
	// Caught is set once exposure has reached the job's full unit count; the
	// job may then be retired and a new one launched.
	Caught bool
}

// TokenAccountant implements token-mode admission. Without a decoder a job
// is revealed all at once when the ledger crosses its unit count; with one,
// a unit-addressable prefix is revealed every tick.
type TokenAccountant struct {
	internal   int
	hasDecoder bool
}

func NewTokenAccountant(limits Limits, hasDecoder bool) *TokenAccountant {
	return &TokenAccountant{
		internal:   limits.InternalTokens(),
		hasDecoder: hasDecoder,
	}
}

// Open returns the ledger for a freshly launched job.
func (a *TokenAccountant) Open() Ledger {
	return Ledger{Accumulated: -a.internal}
}

// Admit charges perTick against ledger and reports how many of the job's
// rawUnits may be revealed.
func (a *TokenAccountant) Admit(ledger *Ledger, perTick, rawUnits int) Admission {
	ledger.Accumulated += perTick

	caught := ledger.Accumulated >= rawUnits
	admission := Admission{
		CanReveal: caught || a.hasDecoder,
		Caught:    caught,
	}

	switch {
	case caught:
		admission.RevealUnits = rawUnits
	case a.hasDecoder:
		admission.RevealUnits = clamp(ledger.Accumulated, 0, rawUnits)
	}
	return admission
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
