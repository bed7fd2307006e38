package call

// FinalizeCause identifies why DTMF collection ended.
type FinalizeCause string

const (
	FinalizeTerminator        FinalizeCause = "DTMF_TERMINATOR_RECEIVED"
	FinalizeMaxDigits         FinalizeCause = "DTMF_MAX_DIGITS_REACHED"
	FinalizeInterDigitTimeout FinalizeCause = "DTMF_INTERDIGIT_TIMEOUT"
	FinalizeFinalTimeout      FinalizeCause = "DTMF_FINAL_TIMEOUT"
)

// DTMFResult describes the collector's reaction to one digit.
type DTMFResult struct {
	// EnteredMode is true when this digit is the first of the turn and the
	// orchestrator must switch the call into DTMF mode.
	EnteredMode bool

	// Finalize is true when collection is complete; Cause says why.
	Finalize bool
	Cause    FinalizeCause

	// Digits is the buffer after this digit (terminator excluded).
	Digits string
}

// DTMFCollector accumulates the digits of one DTMF interaction. Timing is
// owned by the orchestrator's timer set; the collector only tracks buffer
// contents and termination conditions. All methods are invoked from the
// call task only.
type DTMFCollector struct {
	maxDigits  int
	terminator string

	digits []byte
	active bool
}

// NewDTMFCollector creates a collector with the configured limits.
func NewDTMFCollector(maxDigits int, terminator string) *DTMFCollector {
	return &DTMFCollector{
		maxDigits:  maxDigits,
		terminator: terminator,
		digits:     make([]byte, 0, 32),
	}
}

// Append processes one received digit.
func (c *DTMFCollector) Append(digit string) DTMFResult {
	res := DTMFResult{}

	if !c.active {
		c.active = true
		res.EnteredMode = true
	}

	if c.terminator != "" && digit == c.terminator {
		res.Finalize = true
		res.Cause = FinalizeTerminator
		res.Digits = string(c.digits)
		return res
	}

	if len(digit) == 1 {
		c.digits = append(c.digits, digit[0])
	}
	res.Digits = string(c.digits)

	if c.maxDigits > 0 && len(c.digits) >= c.maxDigits {
		res.Finalize = true
		res.Cause = FinalizeMaxDigits
	}
	return res
}

// Active reports whether DTMF mode has been entered this turn.
func (c *DTMFCollector) Active() bool { return c.active }

// Digits returns the buffer collected so far.
func (c *DTMFCollector) Digits() string { return string(c.digits) }
