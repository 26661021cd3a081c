// Package scheduler implements the card state machine described in
// spec.md §4.5: a pure function from a card's current scheduling state and
// an ease rating to the next state, with no I/O and no clock access beyond
// the now_ms/day_cutoff_days values the caller supplies.
package scheduler

import "math"

// Card types, mirroring cards.type in the collection schema.
const (
	TypeNew        = 0
	TypeLearning   = 1
	TypeReview     = 2
	TypeRelearning = 3
)

// Queue values, mirroring cards.queue.
const (
	QueueSuspended    = -1
	QueueUserBuried   = -2
	QueueSchedBuried  = -3
	QueueNew          = 0
	QueueLearning     = 1
	QueueReview       = 2
	QueueDayLearning  = 3
	QueuePreview      = 4
)

const minFactor = 1300

// CardState is the subset of a cards row the scheduler reads and rewrites.
type CardState struct {
	Type   int
	Queue  int
	Due    int64
	Ivl    int64
	Factor int64
	Reps   int64
	Lapses int64
	Left   int64
}

// NewConfig is deck_config.new.
type NewConfig struct {
	DelaysMinutes []int64
	Ints          []int64 // [graduate, easy-graduate, ...]
	InitialFactor int64
}

// LapseConfig is deck_config.lapse.
type LapseConfig struct {
	DelaysMinutes []int64
	Mult          float64
	MinIntDays    int64
}

// RevConfig is deck_config.rev.
type RevConfig struct {
	IvlFct     float64
	Ease4      float64
	HardFactor float64
}

// DeckConfig bundles the three sections the scheduler consults, per
// spec.md §3.2 and §4.5.
type DeckConfig struct {
	New   NewConfig
	Lapse LapseConfig
	Rev   RevConfig
}

// DefaultDeckConfig returns the fixed initial values from spec.md §4.5.
func DefaultDeckConfig() DeckConfig {
	return DeckConfig{
		New: NewConfig{
			DelaysMinutes: []int64{1, 10},
			Ints:          []int64{1, 4},
			InitialFactor: 2500,
		},
		Lapse: LapseConfig{
			DelaysMinutes: []int64{10},
			Mult:          0.0,
			MinIntDays:    1,
		},
		Rev: RevConfig{
			IvlFct:     1.0,
			Ease4:      1.3,
			HardFactor: 1.2,
		},
	}
}

// Outcome is the scheduler's decision: the next card state plus the revlog
// fields that depend on it (ReviewOutcome in spec.md §3.2).
type Outcome struct {
	NewType     int
	NewQueue    int
	NewDue      int64
	NewIvl      int64
	NewFactor   int64
	NewLeft     int64
	NewReps     int64
	NewLapses   int64
	LapsesDelta int64
	PrevIvl     int64
}

// leftEncoding packs remaining-steps-today and remaining-steps-total into a
// single integer, resolving the open encoding question in spec.md §9, as
// remaining_today*1000 + remaining_total, the same packing Anki itself uses.
func leftEncoding(remainingToday, remainingTotal int) int64 {
	return int64(remainingToday)*1000 + int64(remainingTotal)
}

// Advance computes the next scheduling state for card given ease, following
// the transition tables in spec.md §4.5. nowMs is the review timestamp;
// dayCutoffDays is floor((now_ms/1000 - col.crt) / 86400).
func Advance(card CardState, ease int, cfg DeckConfig, nowMs int64, dayCutoffDays int64) Outcome {
	nowSec := nowMs / 1000
	out := Outcome{
		NewReps: card.Reps + 1,
		PrevIvl: card.Ivl,
		NewLapses: card.Lapses,
	}

	switch card.Type {
	case TypeNew, TypeLearning:
		advanceLearning(card, ease, cfg.New.DelaysMinutes, cfg.New.Ints, cfg.New.InitialFactor, nowSec, dayCutoffDays, &out)
	case TypeReview:
		advanceReview(card, ease, cfg, nowSec, dayCutoffDays, &out)
	case TypeRelearning:
		advanceRelearning(card, ease, cfg, nowSec, dayCutoffDays, &out)
	default:
		// Unknown type: treat as New, the conservative fallback.
		advanceLearning(card, ease, cfg.New.DelaysMinutes, cfg.New.Ints, cfg.New.InitialFactor, nowSec, dayCutoffDays, &out)
	}

	if out.NewFactor > 0 && out.NewFactor < minFactor {
		out.NewFactor = minFactor
	}

	return out
}

// advanceLearning handles New and Learning cards per spec.md §4.5's
// "From type=0 (New) or type=1 (Learning, queue=1)" rules. Relearning reuses
// the same shape with lapse.delays substituted for new.delays (see
// advanceRelearning).
func advanceLearning(card CardState, ease int, delaysMinutes, ints []int64, initialFactor int64, nowSec, dayCutoffDays int64, out *Outcome) {
	step := currentStep(card)

	switch ease {
	case 1:
		out.NewType = TypeLearning
		out.NewQueue = QueueLearning
		out.NewDue = nowSec + delaysMinutes[0]*60
		out.NewIvl = delaysMinutes[0] * 60
		out.NewLeft = leftEncoding(len(delaysMinutes), len(delaysMinutes))
		out.NewFactor = factorOrDefault(card.Factor, initialFactor)
	case 2:
		delay := delaysMinutes[step]
		out.NewType = TypeLearning
		out.NewQueue = QueueLearning
		out.NewDue = nowSec + delay*60
		out.NewIvl = delay * 60
		remaining := len(delaysMinutes) - step
		out.NewLeft = leftEncoding(remaining, remaining)
		out.NewFactor = factorOrDefault(card.Factor, initialFactor)
	case 3:
		if step+1 >= len(delaysMinutes) {
			graduate(ints[0], initialFactor, dayCutoffDays, out)
		} else {
			nextStep := step + 1
			delay := delaysMinutes[nextStep]
			out.NewType = TypeLearning
			out.NewQueue = QueueLearning
			out.NewDue = nowSec + delay*60
			out.NewIvl = delay * 60
			remaining := len(delaysMinutes) - nextStep
			out.NewLeft = leftEncoding(remaining, remaining)
			out.NewFactor = factorOrDefault(card.Factor, initialFactor)
		}
	case 4:
		easyIvl := ints[0]
		if len(ints) > 1 {
			easyIvl = ints[1]
		}
		graduate(easyIvl, initialFactor, dayCutoffDays, out)
	}
}

func graduate(ivlDays, initialFactor, dayCutoffDays int64, out *Outcome) {
	out.NewType = TypeReview
	out.NewQueue = QueueReview
	out.NewIvl = ivlDays
	out.NewDue = dayCutoffDays + ivlDays
	out.NewFactor = initialFactor
	out.NewLeft = 0
}

func factorOrDefault(factor, initialFactor int64) int64 {
	if factor <= 0 {
		return initialFactor
	}
	return factor
}

// currentStep recovers which learning step a card is on from its packed
// Left value, clamped to a safe range.
func currentStep(card CardState) int {
	total := int(card.Left % 1000)
	if total <= 0 {
		return 0
	}
	remaining := int(card.Left / 1000)
	step := total - remaining
	if step < 0 {
		step = 0
	}
	return step
}

// advanceReview handles Review cards per spec.md §4.5's
// "From type=2 (Review)" rules.
func advanceReview(card CardState, ease int, cfg DeckConfig, nowSec, dayCutoffDays int64, out *Outcome) {
	switch ease {
	case 1:
		out.NewLapses = card.Lapses + 1
		out.LapsesDelta = 1
		out.NewType = TypeRelearning
		out.NewQueue = QueueLearning
		out.NewDue = nowSec + cfg.Lapse.DelaysMinutes[0]*60
		out.NewIvl = cfg.Lapse.DelaysMinutes[0] * 60
		out.NewFactor = card.Factor - 200
		out.NewLeft = leftEncoding(len(cfg.Lapse.DelaysMinutes), len(cfg.Lapse.DelaysMinutes))
	case 2:
		newIvl := maxInt64(card.Ivl+1, int64(math.Floor(float64(card.Ivl)*cfg.Rev.HardFactor*cfg.Rev.IvlFct)))
		out.NewFactor = card.Factor - 150
		out.NewType = TypeReview
		out.NewQueue = QueueReview
		out.NewIvl = newIvl
		out.NewDue = dayCutoffDays + newIvl
	case 3:
		newIvl := maxInt64(card.Ivl+1, int64(math.Floor(float64(card.Ivl)*(float64(card.Factor)/1000.0)*cfg.Rev.IvlFct)))
		out.NewFactor = card.Factor
		out.NewType = TypeReview
		out.NewQueue = QueueReview
		out.NewIvl = newIvl
		out.NewDue = dayCutoffDays + newIvl
	case 4:
		newIvl := maxInt64(card.Ivl+1, int64(math.Floor(float64(card.Ivl)*(float64(card.Factor)/1000.0)*cfg.Rev.Ease4*cfg.Rev.IvlFct)))
		out.NewFactor = card.Factor + 150
		out.NewType = TypeReview
		out.NewQueue = QueueReview
		out.NewIvl = newIvl
		out.NewDue = dayCutoffDays + newIvl
	}
}

// advanceRelearning handles Relearning cards: the Learning-shaped step
// rules driven by lapse.delays, with graduation back to Review computed
// from lapse.minInt/lapse.mult per spec.md §4.5.
func advanceRelearning(card CardState, ease int, cfg DeckConfig, nowSec, dayCutoffDays int64, out *Outcome) {
	delaysMinutes := cfg.Lapse.DelaysMinutes
	step := currentStep(card)

	switch ease {
	case 1:
		out.NewType = TypeRelearning
		out.NewQueue = QueueLearning
		out.NewDue = nowSec + delaysMinutes[0]*60
		out.NewIvl = delaysMinutes[0] * 60
		out.NewLeft = leftEncoding(len(delaysMinutes), len(delaysMinutes))
		out.NewFactor = card.Factor
	case 2:
		delay := delaysMinutes[step]
		out.NewType = TypeRelearning
		out.NewQueue = QueueLearning
		out.NewDue = nowSec + delay*60
		out.NewIvl = delay * 60
		remaining := len(delaysMinutes) - step
		out.NewLeft = leftEncoding(remaining, remaining)
		out.NewFactor = card.Factor
	case 3, 4:
		if step+1 < len(delaysMinutes) && ease == 3 {
			nextStep := step + 1
			delay := delaysMinutes[nextStep]
			out.NewType = TypeRelearning
			out.NewQueue = QueueLearning
			out.NewDue = nowSec + delay*60
			out.NewIvl = delay * 60
			remaining := len(delaysMinutes) - nextStep
			out.NewLeft = leftEncoding(remaining, remaining)
			out.NewFactor = card.Factor
			return
		}
		ivl := cfg.Lapse.MinIntDays
		if cfg.Lapse.Mult > 0 {
			candidate := int64(math.Floor(float64(card.Ivl) * cfg.Lapse.Mult))
			if candidate > ivl {
				ivl = candidate
			}
		}
		out.NewType = TypeReview
		out.NewQueue = QueueReview
		out.NewIvl = ivl
		out.NewDue = dayCutoffDays + ivl
		out.NewFactor = card.Factor
		out.NewLeft = 0
	}
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
