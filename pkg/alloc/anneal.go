package alloc

import (
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Status is the annealer's state.
type Status uint8

const (
	Running Status = iota
	Converged
	IterationBudgetExhausted
)

var statusNames = [...]string{"running", "converged", "iteration_budget_exhausted"}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", s)
}

// MarshalText encodes the status as its snake_case name.
func (s Status) MarshalText() ([]byte, error) {
	if int(s) >= len(statusNames) {
		return nil, fmt.Errorf("invalid status %d", s)
	}
	return []byte(statusNames[s]), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	for i, name := range statusNames {
		if string(b) == name {
			*s = Status(i)
			return nil
		}
	}
	return fmt.Errorf("invalid status %q", b)
}

// Move kinds, indexing Schedule.MoveWeights.
const (
	MoveReverse = iota
	MoveRelocateInter
	MoveRelocateIntra
	numMoves
)

// Schedule configures one annealing run.
type Schedule struct {
	// InitialTemperature <= 0 means 10% of the seed objective, at least 1.
	InitialTemperature float64
	CoolingRate        float64
	MinTemperature     float64
	MaxIterations      int
	// TimeBudget stops the run early when positive. Runs with a time
	// budget are not reproducible.
	TimeBudget  time.Duration
	MoveWeights [numMoves]float64
}

// DefaultSchedule returns the schedule used for cold allocations.
func DefaultSchedule() Schedule {
	return Schedule{
		CoolingRate:    0.9995,
		MinTemperature: 1e-3,
		MaxIterations:  50_000,
		MoveWeights:    [numMoves]float64{1, 1, 1},
	}
}

// Stats describes one annealing run.
type Stats struct {
	Status             Status
	Iterations         int
	Accepted           int
	Improvements       int
	InitialTemperature float64
	FinalTemperature   float64
	SeedObjective      float64
	BestObjective      float64
}

// annealer holds the state of one run. It is not safe for concurrent use;
// parallel runs each get their own.
type annealer struct {
	p     *Problem
	rng   *rand.Rand
	sched Schedule

	cur, best  *plan
	curObj     float64
	bestObj    float64
	moveWeight float64 // sum of sched.MoveWeights
}

// Anneal improves s and returns the best solution seen, never worse than s.
func (p *Problem) Anneal(s *Solution, sched Schedule, seed int64) (*Solution, Stats) {
	pl, _ := p.fromSolution(s)
	best, stats := p.anneal(pl, sched, seed)
	return p.toSolution(best), stats
}

// normalized replaces out-of-range knobs with their defaults.
func (s Schedule) normalized() Schedule {
	def := DefaultSchedule()
	if s.CoolingRate <= 0 || s.CoolingRate >= 1 {
		s.CoolingRate = def.CoolingRate
	}
	if s.MinTemperature < 0 {
		s.MinTemperature = 0
	}
	var total float64
	for _, w := range s.MoveWeights {
		total += max(w, 0)
	}
	if total == 0 {
		s.MoveWeights = def.MoveWeights
	}
	return s
}

func (p *Problem) anneal(seedPlan *plan, sched Schedule, seed int64) (*plan, Stats) {
	sched = sched.normalized()
	a := &annealer{
		p:     p,
		rng:   rand.New(rand.NewSource(seed)),
		sched: sched,
		cur:   seedPlan.clone(),
		best:  seedPlan.clone(),
	}
	a.curObj = a.cur.objective()
	a.bestObj = a.curObj
	for _, w := range sched.MoveWeights {
		a.moveWeight += max(w, 0)
	}

	temp := sched.InitialTemperature
	if temp <= 0 {
		temp = math.Max(1, 0.1*a.curObj)
	}
	stats := Stats{
		Status:             Running,
		InitialTemperature: temp,
		SeedObjective:      a.curObj,
	}

	// Nothing to rearrange with fewer than two buildings.
	if p.NumBuildings() < 2 {
		stats.Status = Converged
		stats.FinalTemperature = temp
		stats.BestObjective = a.bestObj
		return a.best, stats
	}

	start := time.Now()
	for stats.Status == Running {
		switch {
		case temp < sched.MinTemperature:
			stats.Status = Converged
			continue
		case stats.Iterations >= sched.MaxIterations:
			stats.Status = IterationBudgetExhausted
			continue
		case sched.TimeBudget > 0 && stats.Iterations%256 == 0 && time.Since(start) > sched.TimeBudget:
			stats.Status = IterationBudgetExhausted
			continue
		}

		if a.step(temp) {
			stats.Accepted++
			if a.curObj < a.bestObj {
				a.bestObj = a.curObj
				a.best = a.cur.clone()
				stats.Improvements++
			}
		}
		temp *= sched.CoolingRate
		stats.Iterations++
	}

	stats.FinalTemperature = temp
	stats.BestObjective = a.bestObj
	return a.best, stats
}

// change is a proposed edit of up to two routes.
type change struct {
	routes  [2]int
	seqs    [2][]int
	lengths [2]float64
	n       int
}

// step proposes one move and applies it if accepted.
func (a *annealer) step(temp float64) bool {
	var c change
	var ok bool
	switch a.pickMove() {
	case MoveReverse:
		c, ok = a.proposeReverse()
	case MoveRelocateInter:
		c, ok = a.proposeRelocateInter()
	case MoveRelocateIntra:
		c, ok = a.proposeRelocateIntra()
	}
	if !ok {
		return false
	}

	newObj := 0.0
	for r, l := range a.cur.lengths {
		if r == c.routes[0] || (c.n == 2 && r == c.routes[1]) {
			continue
		}
		newObj = math.Max(newObj, l)
	}
	for i := range c.n {
		newObj = math.Max(newObj, c.lengths[i])
	}
	if math.IsInf(newObj, 1) || math.IsNaN(newObj) {
		return false
	}

	delta := newObj - a.curObj
	if delta > 0 && a.rng.Float64() >= math.Exp(-delta/temp) {
		return false
	}

	for i := range c.n {
		r := c.routes[i]
		a.cur.routes[r] = c.seqs[i]
		// Refresh from the matrix so accepted deltas never drift.
		a.cur.lengths[r] = a.p.routeLength(r, c.seqs[i])
	}
	a.curObj = a.cur.objective()
	return true
}

// pickMove draws a move kind by roulette over MoveWeights.
func (a *annealer) pickMove() int {
	x := a.rng.Float64() * a.moveWeight
	for m, w := range a.sched.MoveWeights {
		w = max(w, 0)
		if x < w {
			return m
		}
		x -= w
	}
	return numMoves - 1
}

// randomRoute picks a route with at least minLen buildings.
func (a *annealer) randomRoute(minLen int) (int, bool) {
	var eligible []int
	for r, seq := range a.cur.routes {
		if len(seq) >= minLen {
			eligible = append(eligible, r)
		}
	}
	if len(eligible) == 0 {
		return 0, false
	}
	return eligible[a.rng.Intn(len(eligible))], true
}

// prev returns the terminal visited before position i of route r.
func (a *annealer) prev(r int, seq []int, i int) int {
	if i == 0 {
		return r
	}
	return seq[i-1]
}

// proposeReverse reverses seq[i..j] of one route. Only the two boundary
// legs change.
func (a *annealer) proposeReverse() (change, bool) {
	r, ok := a.randomRoute(2)
	if !ok {
		return change{}, false
	}
	seq := a.cur.routes[r]
	i := a.rng.Intn(len(seq) - 1)
	j := i + 1 + a.rng.Intn(len(seq)-i-1)

	p := a.p
	before := a.prev(r, seq, i)
	l := a.cur.lengths[r] - p.D(before, seq[i]) + p.D(before, seq[j])
	if j+1 < len(seq) {
		l += p.D(seq[i], seq[j+1]) - p.D(seq[j], seq[j+1])
	}

	next := append([]int(nil), seq...)
	for x, y := i, j; x < y; x, y = x+1, y-1 {
		next[x], next[y] = next[y], next[x]
	}
	return change{routes: [2]int{r}, seqs: [2][]int{next}, lengths: [2]float64{l}, n: 1}, true
}

// removal returns seq without position i and the new length.
func (a *annealer) removal(r int, seq []int, i int) ([]int, float64) {
	p := a.p
	before := a.prev(r, seq, i)
	l := a.cur.lengths[r] - p.D(before, seq[i])
	if i+1 < len(seq) {
		l += p.D(before, seq[i+1]) - p.D(seq[i], seq[i+1])
	}
	out := make([]int, 0, len(seq)-1)
	out = append(out, seq[:i]...)
	out = append(out, seq[i+1:]...)
	return out, l
}

// bestInsertion finds the cheapest position for t in route r's seq,
// skipping position skip. Ties go to the earliest position.
func (a *annealer) bestInsertion(r int, seq []int, t int, skip int) (int, float64) {
	p := a.p
	bestPos, bestCost := -1, math.Inf(1)
	for k := 0; k <= len(seq); k++ {
		if k == skip {
			continue
		}
		before := r
		if k > 0 {
			before = seq[k-1]
		}
		cost := p.D(before, t)
		if k < len(seq) {
			cost += p.D(t, seq[k]) - p.D(before, seq[k])
		}
		if cost < bestCost {
			bestPos, bestCost = k, cost
		}
	}
	return bestPos, bestCost
}

func insertAt(seq []int, k, t int) []int {
	out := make([]int, 0, len(seq)+1)
	out = append(out, seq[:k]...)
	out = append(out, t)
	return append(out, seq[k:]...)
}

// proposeRelocateInter moves one building to the best position of another route.
func (a *annealer) proposeRelocateInter() (change, bool) {
	if len(a.cur.routes) < 2 {
		return change{}, false
	}
	from, ok := a.randomRoute(1)
	if !ok {
		return change{}, false
	}
	to := a.rng.Intn(len(a.cur.routes) - 1)
	if to >= from {
		to++
	}

	seq := a.cur.routes[from]
	i := a.rng.Intn(len(seq))
	t := seq[i]
	rest, lFrom := a.removal(from, seq, i)

	k, cost := a.bestInsertion(to, a.cur.routes[to], t, -1)
	if k < 0 {
		return change{}, false
	}
	return change{
		routes:  [2]int{from, to},
		seqs:    [2][]int{rest, insertAt(a.cur.routes[to], k, t)},
		lengths: [2]float64{lFrom, a.cur.lengths[to] + cost},
		n:       2,
	}, true
}

// proposeRelocateIntra moves one building elsewhere in its own route.
func (a *annealer) proposeRelocateIntra() (change, bool) {
	r, ok := a.randomRoute(2)
	if !ok {
		return change{}, false
	}
	seq := a.cur.routes[r]
	i := a.rng.Intn(len(seq))
	t := seq[i]
	rest, l := a.removal(r, seq, i)

	// Reinserting at i would restore the original order.
	k, cost := a.bestInsertion(r, rest, t, i)
	if k < 0 {
		return change{}, false
	}
	return change{
		routes:  [2]int{r},
		seqs:    [2][]int{insertAt(rest, k, t)},
		lengths: [2]float64{l + cost},
		n:       1,
	}, true
}
